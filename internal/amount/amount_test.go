package amount_test

import (
	"errors"
	"math"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/arenax/settlement-engine/internal/amount"
	"github.com/arenax/settlement-engine/internal/errs"
)

func TestAdd(t *testing.T) {
	sum, err := amount.Add(1_000_000_000, 500_000_000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sum != 1_500_000_000 {
		t.Errorf("expected 1500000000, got %d", sum)
	}
}

func TestAdd_Overflow(t *testing.T) {
	if _, err := amount.Add(math.MaxUint64, 1); !errors.Is(err, errs.ErrArithmeticOverflow) {
		t.Errorf("expected overflow, got %v", err)
	}
	// Exactly at the boundary is fine.
	if _, err := amount.Add(math.MaxUint64, 0); err != nil {
		t.Errorf("max + 0 should succeed: %v", err)
	}
}

func TestSub_Underflow(t *testing.T) {
	if _, err := amount.Sub(5, 6); !errors.Is(err, errs.ErrArithmeticUnderflow) {
		t.Errorf("expected underflow, got %v", err)
	}
	diff, err := amount.Sub(5, 5)
	if err != nil || diff != 0 {
		t.Errorf("5-5 should be 0, got %d err=%v", diff, err)
	}
}

func TestMulBps(t *testing.T) {
	tests := []struct {
		name string
		a    uint64
		bps  uint16
		want uint64
	}{
		{"2.5% of 4 SOL", 4_000_000_000, 250, 100_000_000},
		{"zero bps", 4_000_000_000, 0, 0},
		{"full 10%", 1_000_000_000, 1000, 100_000_000},
		{"100%", 777, 10000, 777},
		{"rounds down", 999, 250, 24}, // 999*250/10000 = 24.975
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := amount.MulBps(tt.a, tt.bps)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestMulBps_LargeAmountNoIntermediateOverflow(t *testing.T) {
	// a * bps overflows 64 bits, but the 128-bit intermediate keeps the
	// result exact.
	a := uint64(math.MaxUint64 / 2)
	got, err := amount.MulBps(a, 250)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := a / 40 // 250/10000 = 1/40
	if got != want {
		t.Errorf("expected %d, got %d", want, got)
	}
}

func TestMulDiv(t *testing.T) {
	// netPool * betAmount / winningPool, the parimutuel share.
	got, err := amount.MulDiv(3_900_000_000, 1_000_000_000, 2_000_000_000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 1_950_000_000 {
		t.Errorf("expected 1950000000, got %d", got)
	}
}

func TestMulDiv_DivideByZero(t *testing.T) {
	if _, err := amount.MulDiv(1, 1, 0); !errors.Is(err, errs.ErrInvalidAmount) {
		t.Errorf("expected invalid amount, got %v", err)
	}
}

func TestMulDiv_QuotientOverflow(t *testing.T) {
	if _, err := amount.MulDiv(math.MaxUint64, math.MaxUint64, 1); !errors.Is(err, errs.ErrArithmeticOverflow) {
		t.Errorf("expected overflow, got %v", err)
	}
}

func TestSOLConversion(t *testing.T) {
	sol := amount.ToSOL(1_950_000_000)
	if !sol.Equal(decimal.RequireFromString("1.95")) {
		t.Errorf("expected 1.95, got %s", sol)
	}

	lamports, err := amount.FromSOL(decimal.RequireFromString("0.01"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lamports != 10_000_000 {
		t.Errorf("expected 10000000, got %d", lamports)
	}
}

func TestFromSOL_Negative(t *testing.T) {
	if _, err := amount.FromSOL(decimal.RequireFromString("-1")); !errors.Is(err, errs.ErrInvalidAmount) {
		t.Errorf("expected invalid amount, got %v", err)
	}
}
