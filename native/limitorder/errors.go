package limitorder

import "errors"

// Transition errors, grouped by the failure class they report. All are
// returned synchronously to the caller; a failed transition leaves state
// untouched.
var (
	// Authorization.
	ErrUnauthorized          = errors.New("limitorder: unauthorized caller")
	ErrInvalidRefundReceiver = errors.New("limitorder: refund receiver must be the order sender")

	// State.
	ErrAlreadyInitialized = errors.New("limitorder: global config already initialized")
	ErrNotInitialized     = errors.New("limitorder: global config not initialized")
	ErrOrderExists        = errors.New("limitorder: order already exists")
	ErrOrderNotFound      = errors.New("limitorder: order not found")
	ErrOrderExpired       = errors.New("limitorder: order expired")

	// Availability.
	ErrInsufficientFunds    = errors.New("limitorder: insufficient funds")
	ErrTokenAccountNotFound = errors.New("limitorder: token account not found")

	// Arithmetic.
	ErrArithmeticOverflow = errors.New("limitorder: arithmetic overflow")

	// Policy.
	ErrSystemPaused = errors.New("limitorder: system paused")

	// Parameter.
	ErrInvalidParameter   = errors.New("limitorder: invalid parameter")
	ErrInvalidExpiry      = errors.New("limitorder: expiry must be in the future")
	ErrInvalidPlatformFee = errors.New("limitorder: platform fee bps out of range")
	ErrAmountMismatch     = errors.New("limitorder: amount does not match order")
)
