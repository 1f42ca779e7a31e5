package matching

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jax-quant/backtest/internal/bar"
	"github.com/jax-quant/backtest/internal/funding"
	"github.com/jax-quant/backtest/internal/ledger"
	"github.com/jax-quant/backtest/internal/order"
	"github.com/jax-quant/backtest/internal/slippage"
	"github.com/jax-quant/backtest/internal/symbol"
)

func testSymbolInfo() symbol.Info {
	return symbol.Info{
		Name:     "BTCUSDT",
		TickSize: d("0.01"),
		QtyStep:  d("0.001"),
		LeverageBrackets: []symbol.LeverageBracket{
			{MinNotional: d("0"), MaxNotional: d("1000000"), MaxLeverage: 50, MaintenanceMarginRate: d("0.01"), MaintenanceAmount: d("0")},
		},
	}
}

func newTestEngine() (*Engine, *ledger.Ledger, *order.Book) {
	book := order.NewBook()
	led := ledger.New(d("100000"))
	fs := funding.New()
	e := New(book, led, fs)
	e.Symbols["BTCUSDT"] = testSymbolInfo()
	e.Slip["BTCUSDT"] = slippage.Percentage{Rate: decimal.Zero}
	e.Fees["BTCUSDT"] = Fee{MakerRate: d("0.0002"), TakerRate: d("0.0004")}
	return e, led, book
}

// processBar runs ProcessBar with the trading bar doubling as the
// mark-price bar, matching a symbol with no distinct Mark-Price stream.
func processBar(e *Engine, sym string, b, prevBar bar.Bar, hasPrev bool) ([]order.ClosedTrade, error) {
	return e.ProcessBar(sym, b, b, prevBar, hasPrev)
}

func TestMarketEntryFillsAtOpen(t *testing.T) {
	order.ResetIDSequence()
	e, led, book := newTestEngine()

	o := &order.Order{
		ID: order.NextID(), Symbol: "BTCUSDT", Name: "long1",
		Direction: order.Long, Leverage: 10,
		EntryOrderType: order.Market, EntryStatus: order.StatusPending,
		EntryOrderSize: d("1"),
	}
	book.Add(o)

	b := mkBar(100, 105, 95, 102)
	b.Volume = d("1000")
	_, err := processBar(e, "BTCUSDT", b, bar.Bar{}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if o.EntryStatus != order.StatusFilled {
		t.Fatalf("expected entry filled, status=%v", o.EntryStatus)
	}
	if !o.EntryFilledPrice.Equal(d("100")) {
		t.Errorf("fill price = %s, want 100 (open)", o.EntryFilledPrice)
	}
	if led.UsedMargin().IsZero() {
		t.Error("expected margin reserved after entry fill")
	}
	// Market fills pay the taker rate.
	wantFee := d("1").Mul(d("100")).Mul(d("0.0004"))
	if !o.EntryCommission.Equal(wantFee) {
		t.Errorf("entry commission = %s, want %s (taker rate)", o.EntryCommission, wantFee)
	}
}

func TestLimitExitFillsWhenCrossed(t *testing.T) {
	order.ResetIDSequence()
	e, led, book := newTestEngine()

	o := &order.Order{
		ID: order.NextID(), Symbol: "BTCUSDT", Name: "long1",
		Direction: order.Long, Leverage: 10,
		EntryOrderType: order.Market, EntryStatus: order.StatusFilled,
		EntryFilledTime: time.Unix(0, 0), EntryFilledSize: d("1"), EntryFilledPrice: d("100"),
		MarginCall: d("10"),
	}
	o.AddExitLeg(&order.ExitLeg{
		OrderType: order.Limit, Status: order.StatusPending,
		OrderPrice: d("103"), OrderSize: d("1"),
	})
	book.Add(o)
	led.ReserveMargin(d("10"))

	b := mkBar(100, 105, 99, 102)
	b.Time = time.Unix(60, 0)
	b.Volume = d("1000")
	closed, err := processBar(e, "BTCUSDT", b, bar.Bar{}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(closed) != 1 {
		t.Fatalf("expected one closed trade, got %d", len(closed))
	}
	if !closed[0].ExitPrice.Equal(d("103")) {
		t.Errorf("exit price = %s, want 103", closed[0].ExitPrice)
	}
	if !closed[0].PnL.Equal(d("3")) {
		t.Errorf("pnl = %s, want 3", closed[0].PnL)
	}
	if !led.UsedMargin().IsZero() {
		t.Error("expected margin fully released after full exit")
	}
	// A resting Limit fill pays the maker rate.
	wantFee := d("1").Mul(d("103")).Mul(d("0.0002"))
	if !closed[0].Commission.Equal(wantFee) {
		t.Errorf("exit commission = %s, want %s (maker rate)", closed[0].Commission, wantFee)
	}
	if o.IsOpen() {
		t.Error("position should be closed after its only exit leg fully fills")
	}
}

func TestExplicitFullSizeExitLegClosesPosition(t *testing.T) {
	order.ResetIDSequence()
	e, led, book := newTestEngine()

	o := &order.Order{
		ID: order.NextID(), Symbol: "BTCUSDT", Name: "long1",
		Direction: order.Long, Leverage: 10,
		EntryOrderType: order.Market, EntryStatus: order.StatusFilled,
		EntryFilledTime: time.Unix(0, 0), EntryFilledSize: d("2"), EntryFilledPrice: d("100"),
		MarginCall: d("20"),
	}
	target := &order.ExitLeg{OrderType: order.Limit, Status: order.StatusPending, OrderPrice: d("103"), OrderSize: d("2")}
	o.AddExitLeg(target)
	book.Add(o)
	led.ReserveMargin(d("20"))

	b := mkBar(100, 105, 99, 102)
	b.Time = time.Unix(60, 0)
	closed, err := processBar(e, "BTCUSDT", b, bar.Bar{}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(closed) != 1 || !closed[0].Size.Equal(d("2")) {
		t.Fatalf("expected a full-size close, got %+v", closed)
	}
	if o.IsOpen() {
		t.Error("position should be closed, remaining size is zero")
	}
}

func TestLiquidationChecksMarkPriceNotTradingBar(t *testing.T) {
	order.ResetIDSequence()
	e, led, book := newTestEngine()

	o := &order.Order{
		ID: order.NextID(), Symbol: "BTCUSDT", Name: "long1",
		Direction: order.Long, Leverage: 50,
		EntryOrderType: order.Market, EntryStatus: order.StatusFilled,
		EntryFilledTime: time.Unix(0, 0), EntryFilledSize: d("1"), EntryFilledPrice: d("100"),
		MarginCall: d("2"), // thin margin -> liquidation price close to entry
	}
	book.Add(o)
	led.ReserveMargin(d("2"))

	// The trading bar never approaches the liquidation price...
	tradingBar := mkBar(100, 101, 99, 100)
	tradingBar.Time = time.Unix(60, 0)
	// ...but the mark-price stream does.
	markBar := mkBar(100, 101, 80, 95)
	markBar.Time = time.Unix(60, 0)

	closed, err := e.ProcessBar("BTCUSDT", tradingBar, markBar, bar.Bar{}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(closed) != 1 || !closed[0].Liquidated {
		t.Fatalf("expected a liquidated closed trade driven by the mark-price bar, got %+v", closed)
	}
	if !o.Liquidated {
		t.Error("order should be marked liquidated")
	}
}

func TestLiquidationForcesClose(t *testing.T) {
	order.ResetIDSequence()
	e, led, book := newTestEngine()

	o := &order.Order{
		ID: order.NextID(), Symbol: "BTCUSDT", Name: "long1",
		Direction: order.Long, Leverage: 50,
		EntryOrderType: order.Market, EntryStatus: order.StatusFilled,
		EntryFilledTime: time.Unix(0, 0), EntryFilledSize: d("1"), EntryFilledPrice: d("100"),
		MarginCall: d("2"), // thin margin -> liquidation price close to entry
	}
	book.Add(o)
	led.ReserveMargin(d("2"))

	b := mkBar(100, 101, 80, 95)
	b.Time = time.Unix(60, 0)
	closed, err := processBar(e, "BTCUSDT", b, bar.Bar{}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(closed) != 1 || !closed[0].Liquidated {
		t.Fatalf("expected a liquidated closed trade, got %+v", closed)
	}
	if !o.Liquidated {
		t.Error("order should be marked liquidated")
	}
}

// TestGapRuleAppliesToLimitOrder reproduces the spec's gap scenario: a
// long limit entry at 98 when the previous close was 100 and the next
// bar opens at 95 (gapping down through the limit) should fill at the
// favorable gap price of 95, not wait for the market to trade back up to
// 98.
func TestGapRuleAppliesToLimitOrder(t *testing.T) {
	order.ResetIDSequence()
	e, _, book := newTestEngine()

	o := &order.Order{
		ID: order.NextID(), Symbol: "BTCUSDT", Name: "long1",
		Direction: order.Long, Leverage: 10,
		EntryOrderType: order.Limit, EntryStatus: order.StatusPending,
		EntryOrderSize: d("1"), EntryOrderPrice: d("98"),
	}
	book.Add(o)

	prev := mkBar(0, 0, 0, 100)
	b := mkBar(95, 95, 94, 97)
	b.Time = time.Unix(60, 0)
	_, err := processBar(e, "BTCUSDT", b, prev, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if o.EntryStatus != order.StatusFilled {
		t.Fatalf("expected entry filled on the gap, status=%v", o.EntryStatus)
	}
	if !o.EntryFilledPrice.Equal(d("95")) {
		t.Errorf("fill price = %s, want 95 (favorable gap, not the 98 limit)", o.EntryFilledPrice)
	}
}

// TestSimultaneousTriggersOrderedByPriceThenCategory reproduces the
// spec's three-order tie-break scenario: within one rising intra-bar
// segment, a liquidation at 100, an exit leg touch at 100, and an entry
// touch at 101 all cross. Since prices tie at 100, execution must
// proceed by category: liquidation, then exit, then the higher-priced
// entry.
func TestSimultaneousTriggersOrderedByPriceThenCategory(t *testing.T) {
	order.ResetIDSequence()
	e, led, book := newTestEngine()

	// margin=1, entry=100, size=1, MMR=.01 gives a liquidation price of
	// exactly 100 under testSymbolInfo's bracket.
	liqPos := &order.Order{
		ID: order.NextID(), Symbol: "BTCUSDT", Name: "liq",
		Direction: order.Long, Leverage: 50,
		EntryOrderType: order.Market, EntryStatus: order.StatusFilled,
		EntryFilledTime: time.Unix(0, 0), EntryFilledSize: d("1"), EntryFilledPrice: d("100"),
		MarginCall: d("1"),
	}
	book.Add(liqPos)
	led.ReserveMargin(d("1"))

	exitPos := &order.Order{
		ID: order.NextID(), Symbol: "BTCUSDT", Name: "exit",
		Direction: order.Long, Leverage: 10,
		EntryOrderType: order.Market, EntryStatus: order.StatusFilled,
		EntryFilledTime: time.Unix(0, 0), EntryFilledSize: d("1"), EntryFilledPrice: d("90"),
		MarginCall: d("9"),
	}
	// Mit legs fire at their exact touch price (unlike Limit, which can
	// improve on a favorable reference price within the segment), so the
	// tie at 100 is exact rather than incidental.
	exitPos.AddExitLeg(&order.ExitLeg{OrderType: order.Mit, Status: order.StatusPending, TouchPrice: d("100"), OrderSize: d("1")})
	book.Add(exitPos)
	led.ReserveMargin(d("9"))

	entryPos := &order.Order{
		ID: order.NextID(), Symbol: "BTCUSDT", Name: "entry",
		Direction: order.Long, Leverage: 10,
		EntryOrderType: order.Mit, EntryStatus: order.StatusPending,
		EntryOrderSize: d("1"), EntryTouchPrice: d("101"),
	}
	book.Add(entryPos)

	b := mkBar(95, 105, 95, 102)
	b.Time = time.Unix(60, 0)

	closed, err := processBar(e, "BTCUSDT", b, bar.Bar{}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(closed) != 2 {
		t.Fatalf("expected liquidation + exit to both close, got %d: %+v", len(closed), closed)
	}
	if !closed[0].Liquidated || !closed[0].ExitPrice.Equal(d("100")) {
		t.Errorf("first closed trade should be the 100 liquidation, got %+v", closed[0])
	}
	if closed[1].Liquidated || !closed[1].ExitPrice.Equal(d("100")) {
		t.Errorf("second closed trade should be the 100 ordinary exit, got %+v", closed[1])
	}
	if entryPos.EntryStatus != order.StatusFilled || !entryPos.EntryFilledPrice.Equal(d("101")) {
		t.Errorf("entry should fill at 101 after the liquidation and exit ahead of it, got status=%v price=%s", entryPos.EntryStatus, entryPos.EntryFilledPrice)
	}
}
