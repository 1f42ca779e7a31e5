package macross

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jax-quant/backtest/internal/bar"
	"github.com/jax-quant/backtest/internal/funding"
	"github.com/jax-quant/backtest/internal/ledger"
	"github.com/jax-quant/backtest/internal/matching"
	"github.com/jax-quant/backtest/internal/order"
	"github.com/jax-quant/backtest/internal/scheduler"
	"github.com/jax-quant/backtest/internal/slippage"
	"github.com/jax-quant/backtest/internal/strategy"
	"github.com/jax-quant/backtest/internal/symbol"
	"github.com/jax-quant/backtest/internal/timeframe"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// flatThenRisingBars builds a series that sits flat long enough for both
// SMAs to stabilize together, then rises steadily so the fast SMA
// crosses above the slow one partway through.
func flatThenRisingBars(flatN, risingN int) []bar.Bar {
	var bars []bar.Bar
	price := d("100")
	tm := int64(0)
	for i := 0; i < flatN; i++ {
		bars = append(bars, bar.Bar{Time: time.Unix(tm, 0), Open: price, High: price.Add(d("0.5")), Low: price.Sub(d("0.5")), Close: price, Volume: d("10")})
		tm += 60
	}
	for i := 0; i < risingN; i++ {
		price = price.Add(d("1"))
		bars = append(bars, bar.Bar{Time: time.Unix(tm, 0), Open: price.Sub(d("1")), High: price.Add(d("0.5")), Low: price.Sub(d("1.5")), Close: price, Volume: d("10")})
		tm += 60
	}
	return bars
}

func buildScheduler(t *testing.T, strat strategy.Strategy, bars []bar.Bar) *scheduler.Scheduler {
	t.Helper()
	store := bar.New()
	tf := timeframe.MustParse("1m")
	store.AddSeries("BTCUSDT", bar.Trading, tf, bars)

	symbols := map[string]symbol.Info{
		"BTCUSDT": {
			Name: "BTCUSDT", TickSize: d("0.01"), QtyStep: d("0.001"),
			LeverageBrackets: []symbol.LeverageBracket{
				{MinNotional: d("0"), MaxNotional: d("1000000"), MaxLeverage: 50, MaintenanceMarginRate: d("0.01")},
			},
		},
	}
	book := order.NewBook()
	led := ledger.New(d("100000"))
	fs := funding.New()
	me := matching.New(book, led, fs)
	me.Symbols = symbols
	me.Slip["BTCUSDT"] = slippage.Percentage{Rate: decimal.Zero}
	me.Fees["BTCUSDT"] = matching.Fee{MakerRate: decimal.Zero, TakerRate: decimal.Zero}

	host := strategy.NewHost(store, book, led, symbols)
	return scheduler.New(store, book, led, me, fs, host, strat)
}

func TestGoldenCrossEntersLong(t *testing.T) {
	order.ResetIDSequence()
	strat := New("ma-cross-test", "MA Cross Test")
	strat.FastPeriod = 3
	strat.SlowPeriod = 5

	bars := flatThenRisingBars(6, 20)
	s := buildScheduler(t, strat, bars)
	res := s.Run()
	if res.Err != nil {
		t.Fatalf("unexpected run error: %v", res.Err)
	}

	positions := s.Book.OpenPositions()
	trades := s.Trades()
	if len(positions) == 0 && len(trades) == 0 {
		t.Fatal("expected the golden cross to have produced an entry at some point")
	}
}

func TestNoEntryOnInsufficientHistory(t *testing.T) {
	order.ResetIDSequence()
	strat := New("ma-cross-short", "MA Cross Short History")
	bars := flatThenRisingBars(2, 2) // far fewer bars than the default 50-period slow SMA
	s := buildScheduler(t, strat, bars)
	res := s.Run()
	if res.Err != nil {
		t.Fatalf("unexpected run error: %v", res.Err)
	}
	if len(s.Book.OpenPositions()) != 0 {
		t.Fatal("expected no entry when history is shorter than the slow SMA period")
	}
}
