package fees

import (
	"errors"
	"math/big"
)

// MaxBps is the denominator for basis-point fee math; 10000 bps = 100%.
const MaxBps uint16 = 10_000

var (
	// ErrFeeOutOfRange indicates a basis-point rate above 10000.
	ErrFeeOutOfRange = errors.New("fees: platform fee bps out of range")
	// ErrNonPositiveAmount indicates a zero or negative gross amount.
	ErrNonPositiveAmount = errors.New("fees: amount must be positive")
)

// Quote captures the treasury cut and the remaining payout for a transfer.
// Send + Fee always equals the gross amount exactly.
type Quote struct {
	Fee  *big.Int
	Send *big.Int
}

// Split computes the platform fee for the supplied gross amount with floor
// division, so rounding always favours the payout over the treasury and no
// residual dust is left unaccounted.
func Split(amount *big.Int, bps uint16) (Quote, error) {
	if bps > MaxBps {
		return Quote{}, ErrFeeOutOfRange
	}
	if amount == nil || amount.Sign() <= 0 {
		return Quote{}, ErrNonPositiveAmount
	}
	fee := new(big.Int).Mul(amount, big.NewInt(int64(bps)))
	fee.Div(fee, big.NewInt(int64(MaxBps)))
	send := new(big.Int).Sub(amount, fee)
	return Quote{Fee: fee, Send: send}, nil
}
