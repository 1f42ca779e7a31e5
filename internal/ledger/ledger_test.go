package ledger

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestReserveAndReleaseMargin(t *testing.T) {
	l := New(d("1000"))
	if err := l.ReserveMargin(d("400")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !l.AvailableBalance().Equal(d("600")) {
		t.Errorf("available = %s, want 600", l.AvailableBalance())
	}
	if err := l.ReserveMargin(d("700")); err == nil {
		t.Fatal("expected InsufficientBalanceError")
	}
	l.ReleaseMargin(d("400"))
	if !l.AvailableBalance().Equal(d("1000")) {
		t.Errorf("available after release = %s, want 1000", l.AvailableBalance())
	}
}

func TestApplyRealizedPnLAndFees(t *testing.T) {
	l := New(d("1000"))
	l.ApplyRealizedPnL(d("50"))
	l.ApplyFee(d("2"))
	if !l.WalletBalance().Equal(d("1048")) {
		t.Errorf("wallet = %s, want 1048", l.WalletBalance())
	}
	if !l.RealizedPnL().Equal(d("50")) {
		t.Errorf("realized pnl = %s, want 50", l.RealizedPnL())
	}
	if !l.FeesPaid().Equal(d("2")) {
		t.Errorf("fees = %s, want 2", l.FeesPaid())
	}
}

func TestDrawdown(t *testing.T) {
	l := New(d("1000"))
	l.Equity(d("0"))    // peak = 1000
	l.Equity(d("-800")) // equity = 200; peak stays 1000
	dd := l.Drawdown(d("200"))
	// at the moment we query, current=200 has already become a new low
	// relative to the 1000 peak observed before it.
	want := d("1000").Sub(d("200")).Div(d("1000"))
	if !dd.Equal(want) {
		t.Errorf("drawdown = %s, want %s", dd, want)
	}
}

func TestIsBankrupt(t *testing.T) {
	l := New(d("100"))
	l.ApplyRealizedPnL(d("-150"))
	if !l.IsBankrupt() {
		t.Error("expected bankrupt after wallet goes non-positive")
	}
}
