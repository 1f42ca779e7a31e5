package slippage

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jax-quant/backtest/internal/bar"
	"github.com/jax-quant/backtest/internal/order"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestPercentageAdjust(t *testing.T) {
	p := Percentage{Rate: d("0.001")}
	longCtx := Context{Side: order.Long, RefPrice: d("100")}
	got := p.Adjust(longCtx)
	if !got.Equal(d("100.1")) {
		t.Errorf("long adjust = %s, want 100.1", got)
	}
	shortCtx := Context{Side: order.Short, RefPrice: d("100")}
	got = p.Adjust(shortCtx)
	if !got.Equal(d("99.9")) {
		t.Errorf("short adjust = %s, want 99.9", got)
	}
}

func mkBar(o, h, l, c float64) bar.Bar {
	return bar.Bar{
		Time:  time.Unix(0, 0),
		Open:  decimal.NewFromFloat(o),
		High:  decimal.NewFromFloat(h),
		Low:   decimal.NewFromFloat(l),
		Close: decimal.NewFromFloat(c),
	}
}

func TestMarketImpactAdjustMovesAgainstOrder(t *testing.T) {
	m := MarketImpact{BaseImpactBps: 10, MaxParticipation: 0.1, StressMultiplier: 1}
	ctx := Context{
		Side:      order.Long,
		Qty:       d("1"),
		RefPrice:  d("100"),
		TickSize:  d("0.01"),
		Bar:       mkBar(100, 102, 98, 101),
		PrevBar:   mkBar(99, 101, 97, 100),
		HasPrev:   true,
		BarVolume: d("1000"),
	}
	got := m.Adjust(ctx)
	if !got.GreaterThan(ctx.RefPrice) {
		t.Errorf("long market-impact fill should be worse (higher) than ref price, got %s", got)
	}

	ctx.Side = order.Short
	got = m.Adjust(ctx)
	if !got.LessThan(ctx.RefPrice) {
		t.Errorf("short market-impact fill should be worse (lower) than ref price, got %s", got)
	}
}

func TestMarketImpactNoPrevBar(t *testing.T) {
	m := MarketImpact{BaseImpactBps: 10, MaxParticipation: 0.1, StressMultiplier: 1}
	ctx := Context{
		Side:      order.Long,
		Qty:       d("1"),
		RefPrice:  d("100"),
		TickSize:  d("0.01"),
		Bar:       mkBar(100, 102, 98, 101),
		BarVolume: d("1000"),
	}
	got := m.Adjust(ctx)
	if got.LessThan(ctx.RefPrice) {
		t.Errorf("should never improve price even with zero spread component, got %s", got)
	}
}
