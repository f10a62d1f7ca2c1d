package fees

import (
	"math/big"
	"testing"
)

func TestSplitFloorsFee(t *testing.T) {
	cases := []struct {
		name     string
		amount   int64
		bps      uint16
		wantFee  int64
		wantSend int64
	}{
		{"zero bps", 10_000_000, 0, 0, 10_000_000},
		{"half percent", 10_000_000, 50, 50_000, 9_950_000},
		{"rounds down", 999, 50, 4, 995},
		{"one unit", 1, 9999, 0, 1},
		{"full fee", 12_345, 10_000, 12_345, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			q, err := Split(big.NewInt(tc.amount), tc.bps)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if q.Fee.Int64() != tc.wantFee {
				t.Fatalf("fee = %d, want %d", q.Fee.Int64(), tc.wantFee)
			}
			if q.Send.Int64() != tc.wantSend {
				t.Fatalf("send = %d, want %d", q.Send.Int64(), tc.wantSend)
			}
		})
	}
}

func TestSplitConservation(t *testing.T) {
	amounts := []int64{1, 2, 3, 999, 1_000, 10_000_000, 1 << 62}
	for _, amt := range amounts {
		for bps := 0; bps <= int(MaxBps); bps += 333 {
			q, err := Split(big.NewInt(amt), uint16(bps))
			if err != nil {
				t.Fatalf("amount %d bps %d: %v", amt, bps, err)
			}
			total := new(big.Int).Add(q.Fee, q.Send)
			if total.Cmp(big.NewInt(amt)) != 0 {
				t.Fatalf("amount %d bps %d: fee %s + send %s != amount", amt, bps, q.Fee, q.Send)
			}
			if q.Fee.Sign() < 0 || q.Send.Sign() < 0 {
				t.Fatalf("amount %d bps %d: negative component", amt, bps)
			}
		}
	}
}

func TestSplitRejectsInvalidInput(t *testing.T) {
	if _, err := Split(big.NewInt(100), MaxBps+1); err != ErrFeeOutOfRange {
		t.Fatalf("expected ErrFeeOutOfRange, got %v", err)
	}
	if _, err := Split(big.NewInt(0), 50); err != ErrNonPositiveAmount {
		t.Fatalf("expected ErrNonPositiveAmount, got %v", err)
	}
	if _, err := Split(nil, 50); err != ErrNonPositiveAmount {
		t.Fatalf("expected ErrNonPositiveAmount for nil amount, got %v", err)
	}
	if _, err := Split(big.NewInt(-5), 50); err != ErrNonPositiveAmount {
		t.Fatalf("expected ErrNonPositiveAmount for negative amount, got %v", err)
	}
}
