package risk

import (
	"testing"

	"github.com/jax-quant/backtest/internal/order"
)

func TestCheckEntryMaxLeverage(t *testing.T) {
	e := NewEnforcer(Policy{MaxLeverage: 20}, func() int { return 0 })
	if err := e.CheckEntry("BTCUSDT", order.Long, 1000, 25, 5000, 4000); err == nil {
		t.Fatal("expected violation for leverage above policy max")
	}
	if err := e.CheckEntry("BTCUSDT", order.Long, 1000, 10, 5000, 4000); err != nil {
		t.Fatalf("unexpected violation: %v", err)
	}
}

func TestCheckEntryMaxPositions(t *testing.T) {
	e := NewEnforcer(Policy{MaxOpenPositions: 2}, func() int { return 2 })
	if err := e.CheckEntry("BTCUSDT", order.Long, 1000, 5, 5000, 4000); err == nil {
		t.Fatal("expected violation at position cap")
	}
}

func TestCheckEntryNoPolicyPasses(t *testing.T) {
	e := NewEnforcer(DefaultPolicy(), func() int { return 100 })
	if err := e.CheckEntry("BTCUSDT", order.Long, 1000, 100, 5000, 4000); err != nil {
		t.Fatalf("unexpected violation with default policy: %v", err)
	}
}
