package limitorder

import (
	"bytes"
	"encoding/binary"
	"math/big"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

func TestOrderIDDerivation(t *testing.T) {
	sender := newTestAddress(0x42)
	expiry := int64(1_750_000_000)

	var exp [8]byte
	binary.LittleEndian.PutUint64(exp[:], uint64(expiry))
	want := ethcrypto.Keccak256Hash([]byte("limit_order"), sender[:], exp[:])

	got := OrderID(sender, expiry)
	if got != [32]byte(want) {
		t.Fatalf("OrderID = %x, want %x", got, want)
	}
	if got != OrderID(sender, expiry) {
		t.Fatalf("OrderID is not deterministic")
	}
	if got == OrderID(sender, expiry+1) {
		t.Fatalf("expiry does not influence the order id")
	}
	other := newTestAddress(0x43)
	if got == OrderID(other, expiry) {
		t.Fatalf("sender does not influence the order id")
	}
}

func TestCustodyAddress(t *testing.T) {
	id := OrderID(newTestAddress(0x42), 1_750_000_000)
	hash := ethcrypto.Keccak256([]byte("limit_order_vault"), id[:])
	addr := CustodyAddress(id)
	if !bytes.Equal(addr[:], hash[12:]) {
		t.Fatalf("CustodyAddress = %x, want last 20 bytes of %x", addr, hash)
	}
	if addr != CustodyAddress(id) {
		t.Fatalf("CustodyAddress is not deterministic")
	}
}

func TestNormalizeToken(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"usdx", "USDX", false},
		{"  WBTC  ", "WBTC", false},
		{"", "", true},
		{"   ", "", true},
		{"NATIVE", "", true},
		{"native", "", true},
	}
	for _, tc := range cases {
		got, err := NormalizeToken(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("NormalizeToken(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("NormalizeToken(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("NormalizeToken(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func validOrder() *Order {
	sender := newTestAddress(0x42)
	expiry := int64(1_750_000_000)
	return &Order{
		ID:          OrderID(sender, expiry),
		Sender:      sender,
		FromToken:   NativeToken,
		FromChainID: 10002,
		AmountIn:    big.NewInt(500),
		ToChainID:   1,
		ToToken:     [32]byte{0x01},
		Recipient:   [32]byte{0x02},
		Expiry:      expiry,
		CreatedAt:   1_700_000_000,
		Deposit:     big.NewInt(10),
	}
}

func TestSanitizeOrder(t *testing.T) {
	if _, err := SanitizeOrder(nil); err == nil {
		t.Fatalf("expected error for nil order")
	}

	order := validOrder()
	sanitized, err := SanitizeOrder(order)
	if err != nil {
		t.Fatalf("sanitize: %v", err)
	}
	if sanitized == order {
		t.Fatalf("SanitizeOrder must return a clone")
	}

	order = validOrder()
	order.FromToken = "usdx"
	sanitized, err = SanitizeOrder(order)
	if err != nil {
		t.Fatalf("sanitize token order: %v", err)
	}
	if sanitized.FromToken != "USDX" {
		t.Fatalf("token symbol not canonicalised: %s", sanitized.FromToken)
	}
	if order.FromToken != "usdx" {
		t.Fatalf("input order was mutated")
	}

	order = validOrder()
	order.AmountIn = big.NewInt(0)
	if _, err := SanitizeOrder(order); err == nil {
		t.Fatalf("expected error for zero amount")
	}

	order = validOrder()
	order.Deposit = big.NewInt(-1)
	if _, err := SanitizeOrder(order); err == nil {
		t.Fatalf("expected error for negative deposit")
	}

	order = validOrder()
	order.Expiry++
	if _, err := SanitizeOrder(order); err == nil {
		t.Fatalf("expected error for id that no longer matches sender and expiry")
	}
}

func TestOrderClone(t *testing.T) {
	order := validOrder()
	clone := order.Clone()
	clone.AmountIn.SetInt64(999)
	clone.Deposit.SetInt64(999)
	clone.ToToken[0] = 0xFF
	if order.AmountIn.Int64() != 500 || order.Deposit.Int64() != 10 || order.ToToken[0] != 0x01 {
		t.Fatalf("Clone shares state with the original: %+v", order)
	}

	var nilOrder *Order
	if nilOrder.Clone() != nil {
		t.Fatalf("nil clone must stay nil")
	}
	if nilOrder.Native() {
		t.Fatalf("nil order must not report native")
	}
}
