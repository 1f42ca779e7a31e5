package strategy

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jax-quant/backtest/internal/bar"
	"github.com/jax-quant/backtest/internal/ledger"
	"github.com/jax-quant/backtest/internal/order"
	"github.com/jax-quant/backtest/internal/symbol"
	"github.com/jax-quant/backtest/internal/timeframe"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testHost() *Host {
	store := bar.New()
	tf := timeframe.MustParse("1m")
	store.AddSeries("BTCUSDT", bar.Trading, tf, []bar.Bar{
		{Time: time.Unix(0, 0), Open: d("100"), High: d("101"), Low: d("99"), Close: d("100.5")},
		{Time: time.Unix(60, 0), Open: d("100.5"), High: d("102"), Low: d("100"), Close: d("101")},
	})
	store.Advance("BTCUSDT", bar.Trading)
	store.Advance("BTCUSDT", bar.Trading)

	symbols := map[string]symbol.Info{
		"BTCUSDT": {
			Name: "BTCUSDT", TickSize: d("0.01"), QtyStep: d("0.001"),
			LeverageBrackets: []symbol.LeverageBracket{
				{MinNotional: d("0"), MaxNotional: d("1000000"), MaxLeverage: 50, MaintenanceMarginRate: d("0.01")},
			},
		},
	}
	book := order.NewBook()
	led := ledger.New(d("10000"))
	return NewHost(store, book, led, symbols)
}

func TestBarLookaheadGate(t *testing.T) {
	h := testHost()
	h.SetPhase(OnClose, time.Unix(60, 0))
	if _, err := h.Bar("BTCUSDT", bar.Trading, 0); err != nil {
		t.Fatalf("offset 0 should be legal in OnClose: %v", err)
	}
	h.SetPhase(AfterEntry, time.Unix(60, 0))
	if _, err := h.Bar("BTCUSDT", bar.Trading, 0); err != ErrLookahead {
		t.Fatalf("offset 0 should be rejected outside OnClose, got %v", err)
	}
	if _, err := h.Bar("BTCUSDT", bar.Trading, 1); err != nil {
		t.Fatalf("offset 1 should be legal in any phase: %v", err)
	}
}

func TestPlaceEntryAndExit(t *testing.T) {
	order.ResetIDSequence()
	h := testHost()
	h.SetPhase(OnClose, time.Unix(60, 0))

	o, err := h.PlaceEntry(EntryRequest{
		Symbol: "BTCUSDT", Name: "t1", Direction: order.Long,
		Type: order.Market, Size: d("1"), Leverage: 10,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !o.IsPendingEntry() {
		t.Fatal("order should be pending entry")
	}

	o.EntryStatus = order.StatusFilled
	o.EntryFilledPrice = d("101")
	o.EntryFilledSize = d("1")

	if err := h.PlaceExit(ExitRequest{OrderID: o.ID, Type: order.Limit, Price: d("110")}); err != nil {
		t.Fatalf("unexpected error placing exit: %v", err)
	}
	if !o.IsPendingExit() {
		t.Fatal("order should have a pending exit")
	}
}

func TestPlaceEntryRejectsZeroSize(t *testing.T) {
	h := testHost()
	_, err := h.PlaceEntry(EntryRequest{Symbol: "BTCUSDT", Direction: order.Long, Type: order.Market, Size: d("0")})
	if err == nil {
		t.Fatal("expected error for zero size")
	}
}
