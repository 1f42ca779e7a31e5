package symbol

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testSymbol() Info {
	return Info{
		Name:     "BTCUSDT",
		TickSize: d("0.1"),
		QtyStep:  d("0.001"),
		LeverageBrackets: []LeverageBracket{
			{MinNotional: d("0"), MaxNotional: d("50000"), MaxLeverage: 125, MaintenanceMarginRate: d("0.004"), MaintenanceAmount: d("0")},
			{MinNotional: d("50000"), MaxNotional: d("250000"), MaxLeverage: 100, MaintenanceMarginRate: d("0.005"), MaintenanceAmount: d("50")},
		},
	}
}

func TestValidate(t *testing.T) {
	s := testSymbol()
	if err := s.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
}

func TestBracketFor(t *testing.T) {
	s := testSymbol()
	b, err := s.BracketFor(d("10000"))
	if err != nil || b.MaxLeverage != 125 {
		t.Fatalf("expected first bracket, got %+v err=%v", b, err)
	}
	b, err = s.BracketFor(d("100000"))
	if err != nil || b.MaxLeverage != 100 {
		t.Fatalf("expected second bracket, got %+v err=%v", b, err)
	}
}

func TestRoundPriceAndQty(t *testing.T) {
	s := testSymbol()
	if got := s.RoundPrice(d("100.37")); !got.Equal(d("100.4")) {
		t.Errorf("RoundPrice = %s, want 100.4", got)
	}
	if got := s.RoundQty(d("1.2349")); !got.Equal(d("1.234")) {
		t.Errorf("RoundQty = %s, want 1.234 (floored)", got)
	}
}

func TestLiquidationPriceLong(t *testing.T) {
	s := testSymbol()
	// Long 1 BTC at 10000 with 1000 margin, first bracket (mmr=0.004, ma=0).
	liq, err := s.LiquidationPrice(d("1000"), d("10000"), d("1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// liq = (1000 + 0 - 10000*1) / (1*0.004 - 1) = -9000 / -0.996 = 9036.14...
	want := d("1000").Add(d("0")).Sub(d("10000").Mul(d("1"))).Div(d("1").Mul(d("0.004")).Sub(d("1")))
	if !liq.Equal(want) {
		t.Errorf("LiquidationPrice = %s, want %s", liq, want)
	}
	if !liq.LessThan(d("10000")) {
		t.Error("long liquidation price should be below entry price")
	}
}

func TestLiquidationPriceShort(t *testing.T) {
	s := testSymbol()
	liq, err := s.LiquidationPrice(d("1000"), d("10000"), d("-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !liq.GreaterThan(d("10000")) {
		t.Error("short liquidation price should be above entry price")
	}
}
