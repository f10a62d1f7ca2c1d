package limitorder

import (
	"fmt"
	"math/big"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// NativeToken is the sentinel fromToken value marking an order escrowed in the
// chain's native coin rather than a registered fungible token.
const NativeToken = "NATIVE"

// Namespace tags for deterministic addressing. Re-deriving an order address
// requires reproducing these byte-for-byte.
const (
	orderSeed   = "limit_order"
	custodySeed = "limit_order_vault"
)

// GlobalConfig is the singleton governance record: fee policy, treasury
// routing and the system-wide kill switch. Only Owner may replace it.
type GlobalConfig struct {
	Owner          [20]byte `json:"owner"`
	PlatformFeeBps uint16   `json:"platformFeeBps"`
	Treasury       [20]byte `json:"treasury"`
	Paused         bool     `json:"paused"`
}

// Clone returns a copy callers can mutate freely.
func (c *GlobalConfig) Clone() *GlobalConfig {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// OpenOrderParams carries the caller-supplied escrow terms for an open
// transition. ToToken, Recipient and AmountOut are destination-chain
// denominated opaque buffers recorded for the off-chain relayer; they are not
// interpreted locally.
type OpenOrderParams struct {
	FromToken   string
	FromChainID uint64
	AmountIn    *big.Int
	ToChainID   uint64
	ToToken     [32]byte
	Recipient   [32]byte
	Expiry      int64
	AmountOut   [32]byte
}

// Order is a live escrow record. It exists only between the open transition
// and exactly one of execute or cancel; terminal transitions delete it, so a
// stale ID simply stops resolving.
type Order struct {
	ID          [32]byte `json:"id"`
	Sender      [20]byte `json:"sender"`
	FromToken   string   `json:"fromToken"`
	FromChainID uint64   `json:"fromChainId"`
	AmountIn    *big.Int `json:"amountIn"`
	ToChainID   uint64   `json:"toChainId"`
	ToToken     [32]byte `json:"toToken"`
	Recipient   [32]byte `json:"recipient"`
	AmountOut   [32]byte `json:"amountOut"`
	Expiry      int64    `json:"expiry"`
	CreatedAt   int64    `json:"createdAt"`
	// Deposit is the storage rent charged at open time and repaid in full to
	// the refund receiver when the order closes.
	Deposit *big.Int `json:"deposit"`
}

// Clone returns a deep copy of the order so callers can safely mutate the
// copy without affecting the stored instance.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	clone := *o
	if o.AmountIn != nil {
		clone.AmountIn = new(big.Int).Set(o.AmountIn)
	} else {
		clone.AmountIn = big.NewInt(0)
	}
	if o.Deposit != nil {
		clone.Deposit = new(big.Int).Set(o.Deposit)
	} else {
		clone.Deposit = big.NewInt(0)
	}
	return &clone
}

// Native reports whether the order escrows the native coin.
func (o *Order) Native() bool {
	return o != nil && o.FromToken == NativeToken
}

// OrderID derives the deterministic order address for a (sender, expiry)
// pair: keccak256 of the namespace tag, the sender and the expiry encoded as
// 8 little-endian bytes. Re-submission with the same pair collides here.
func OrderID(sender [20]byte, expiry int64) [32]byte {
	var exp [8]byte
	putInt64LE(exp[:], expiry)
	return ethcrypto.Keccak256Hash([]byte(orderSeed), sender[:], exp[:])
}

// CustodyAddress derives the account that holds an order's escrowed value.
// The address is a pure function of the order ID, so custody is exclusively
// attributable to the order record.
func CustodyAddress(id [32]byte) [20]byte {
	hash := ethcrypto.Keccak256([]byte(custodySeed), id[:])
	var addr [20]byte
	copy(addr[:], hash[12:])
	return addr
}

func putInt64LE(buf []byte, v int64) {
	u := uint64(v)
	for i := 0; i < 8; i++ {
		buf[i] = byte(u >> (8 * i))
	}
}

// NormalizeToken canonicalises a fungible token symbol. The native sentinel is
// not a valid fungible token.
func NormalizeToken(symbol string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	if trimmed == "" {
		return "", fmt.Errorf("token symbol must not be empty")
	}
	if trimmed == NativeToken {
		return "", fmt.Errorf("token symbol %s is reserved for native orders", NativeToken)
	}
	return trimmed, nil
}

// SanitizeOrder validates and normalises an order record, returning a clone
// with non-nil amount fields. The original value is not mutated.
func SanitizeOrder(o *Order) (*Order, error) {
	if o == nil {
		return nil, fmt.Errorf("nil order")
	}
	clone := o.Clone()
	if clone.FromToken != NativeToken {
		token, err := NormalizeToken(clone.FromToken)
		if err != nil {
			return nil, err
		}
		clone.FromToken = token
	}
	if clone.AmountIn.Sign() <= 0 {
		return nil, fmt.Errorf("order amount must be positive")
	}
	if clone.Deposit.Sign() < 0 {
		return nil, fmt.Errorf("order deposit must be non-negative")
	}
	if clone.ID != OrderID(clone.Sender, clone.Expiry) {
		return nil, fmt.Errorf("order id does not match sender and expiry")
	}
	return clone, nil
}
