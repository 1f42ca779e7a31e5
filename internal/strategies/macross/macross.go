// Package macross is a moving-average crossover Strategy, adapted from
// the teacher's libs/strategies.MACrossoverStrategy: the golden-cross /
// death-cross entry logic carries over, rebuilt against the
// callback-based Host API instead of a single stateless Analyze call,
// since the new engine has no indicator-feed abstraction to pull
// pre-computed SMAs from — this strategy computes its own SMAs from
// Host.Bar lookbacks.
package macross

import (
	"github.com/shopspring/decimal"

	"github.com/jax-quant/backtest/internal/bar"
	"github.com/jax-quant/backtest/internal/order"
	"github.com/jax-quant/backtest/internal/strategy"
)

// Strategy trades the crossover of a fast and slow simple moving average
// of Trading-bar closes, entering on alignment and exiting on a
// fixed ATR-free stop distance expressed as a fraction of entry price.
type Strategy struct {
	id, name string

	FastPeriod  int
	SlowPeriod  int
	Size        decimal.Decimal
	Leverage    int
	StopFrac    decimal.Decimal // fraction of entry price for a protective stop
	TargetFrac  decimal.Decimal // fraction of entry price for a take-profit

	// positionName groups this strategy's own orders in the book apart
	// from any other strategy that might also hold the symbol's Order
	// record set (trade numbering in internal/order.Book is keyed on
	// symbol+name).
	positionName string
}

// New returns a MA crossover strategy with sensible defaults (20/50
// period SMAs, 1x leverage, 2% stop, 4% target).
func New(id, name string) *Strategy {
	return &Strategy{
		id:           id,
		name:         name,
		FastPeriod:   20,
		SlowPeriod:   50,
		Size:         decimal.NewFromInt(1),
		Leverage:     1,
		StopFrac:     decimal.NewFromFloat(0.02),
		TargetFrac:   decimal.NewFromFloat(0.04),
		positionName: "ma_cross",
	}
}

func (s *Strategy) ID() string   { return s.id }
func (s *Strategy) Name() string { return s.name }

func (s *Strategy) sma(h *strategy.Host, symbol string, period int) (decimal.Decimal, bool) {
	sum := decimal.Zero
	for i := 0; i < period; i++ {
		b, err := h.Bar(symbol, bar.Trading, i)
		if err != nil {
			return decimal.Zero, false
		}
		sum = sum.Add(b.Close)
	}
	return sum.Div(decimal.NewFromInt(int64(period))), true
}

// OnClose looks for a fresh golden/death cross: the fast SMA has just
// moved from below to above (or above to below) the slow SMA, comparing
// the current bar's SMAs against the prior bar's.
func (s *Strategy) OnClose(h *strategy.Host, symbol string) error {
	if len(h.OpenPositions(symbol)) > 0 {
		return nil
	}

	fastNow, ok := s.sma(h, symbol, s.FastPeriod)
	if !ok {
		return nil
	}
	slowNow, ok := s.sma(h, symbol, s.SlowPeriod)
	if !ok {
		return nil
	}

	fastPrevSum, slowPrevSum := decimal.Zero, decimal.Zero
	for i := 1; i <= s.FastPeriod; i++ {
		b, err := h.Bar(symbol, bar.Trading, i)
		if err != nil {
			return nil
		}
		fastPrevSum = fastPrevSum.Add(b.Close)
	}
	for i := 1; i <= s.SlowPeriod; i++ {
		b, err := h.Bar(symbol, bar.Trading, i)
		if err != nil {
			return nil
		}
		slowPrevSum = slowPrevSum.Add(b.Close)
	}
	fastPrev := fastPrevSum.Div(decimal.NewFromInt(int64(s.FastPeriod)))
	slowPrev := slowPrevSum.Div(decimal.NewFromInt(int64(s.SlowPeriod)))

	crossedUp := fastPrev.LessThanOrEqual(slowPrev) && fastNow.GreaterThan(slowNow)
	crossedDown := fastPrev.GreaterThanOrEqual(slowPrev) && fastNow.LessThan(slowNow)

	switch {
	case crossedUp:
		return s.enter(h, symbol, order.Long)
	case crossedDown:
		return s.enter(h, symbol, order.Short)
	}
	return nil
}

func (s *Strategy) enter(h *strategy.Host, symbol string, dir order.Direction) error {
	_, err := h.PlaceEntry(strategy.EntryRequest{
		Symbol:    symbol,
		Name:      s.positionName,
		Direction: dir,
		Type:      order.Market,
		Size:      s.Size,
		Leverage:  s.Leverage,
	})
	return err
}

// AfterEntry attaches a bracket (stop + target) exit the instant the
// entry fills, rather than waiting for the next OnClose.
func (s *Strategy) AfterEntry(h *strategy.Host, filled *order.Order) error {
	entry := filled.EntryFilledPrice
	var stopPrice, targetPrice decimal.Decimal
	if filled.Direction == order.Long {
		stopPrice = entry.Mul(decimal.NewFromInt(1).Sub(s.StopFrac))
		targetPrice = entry.Mul(decimal.NewFromInt(1).Add(s.TargetFrac))
	} else {
		stopPrice = entry.Mul(decimal.NewFromInt(1).Add(s.StopFrac))
		targetPrice = entry.Mul(decimal.NewFromInt(1).Sub(s.TargetFrac))
	}

	// A true bracket: the Mit leg acts as the stop (fires once price
	// touches it) and the Limit leg as the take-profit, attached as two
	// independent exit legs on the same position. Whichever triggers
	// first reduces the position to zero and cancels the other.
	if err := h.PlaceExit(strategy.ExitRequest{
		OrderID: filled.ID,
		Type:    order.Mit,
		Touch:   stopPrice,
	}); err != nil {
		return err
	}
	return h.PlaceExit(strategy.ExitRequest{
		OrderID: filled.ID,
		Type:    order.Limit,
		Price:   targetPrice,
	})
}

// AfterExit is a no-op: this strategy re-evaluates entries only from
// OnClose, never chains a new entry off an exit fill.
func (s *Strategy) AfterExit(h *strategy.Host, filled *order.Order) error {
	return nil
}
