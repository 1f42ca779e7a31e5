package strategy

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jax-quant/backtest/internal/bar"
	"github.com/jax-quant/backtest/internal/ledger"
	"github.com/jax-quant/backtest/internal/order"
	"github.com/jax-quant/backtest/internal/symbol"
)

// RiskGate is consulted before an entry order is accepted. It is
// optional: a nil gate accepts every entry, matching spec §3's mandatory
// invariants being the only hard limit when no additional policy is
// configured.
type RiskGate interface {
	CheckEntry(symbol string, direction order.Direction, notional, leverage, equity, availableBalance float64) error
}

// Host is the only way a Strategy touches engine state. It enforces the
// phase-gated lookahead rule (spec §4.6): a query for "offset 0" data on
// any stream is only legal while Phase == OnClose, because during
// AfterEntry/AfterExit the current tick's bar has already been acted on
// and querying its own close again would let a strategy see data its own
// fill logic has not yet priced in for that path.
type Host struct {
	Bars    *bar.Store
	Book    *order.Book
	Ledger  *ledger.Ledger
	Symbols map[string]symbol.Info
	Risk    RiskGate

	phase Phase
	now   time.Time
}

// NewHost constructs a Host bound to the engine's shared state.
func NewHost(bars *bar.Store, book *order.Book, led *ledger.Ledger, symbols map[string]symbol.Info) *Host {
	return &Host{Bars: bars, Book: book, Ledger: led, Symbols: symbols}
}

// SetPhase is called by the scheduler before invoking a callback.
func (h *Host) SetPhase(p Phase, now time.Time) {
	h.phase = p
	h.now = now
}

// Phase returns the phase the currently-executing callback was invoked
// under.
func (h *Host) Phase() Phase { return h.phase }

// ErrLookahead is returned by Bar when a strategy requests offset-0 data
// outside of OnClose.
var ErrLookahead = fmt.Errorf("strategy: offset 0 is only available from on_close")

// Bar returns a bar at the given backward offset from the current tick
// (0 = this tick's bar) for a stream. Offset 0 is only legal from
// OnClose; any other phase requesting offset 0 gets ErrLookahead, since
// by AfterEntry/AfterExit the current tick's fills for other symbols in
// the after-chain may not have been priced against a re-read of it yet.
func (h *Host) Bar(sym string, kind bar.Kind, offset int) (bar.Bar, error) {
	if offset < 0 {
		return bar.Bar{}, fmt.Errorf("strategy: bar offset must be >= 0, got %d", offset)
	}
	if offset == 0 && h.phase != OnClose {
		return bar.Bar{}, ErrLookahead
	}
	idx := h.Bars.Index(sym, kind) - offset
	b, ok := h.Bars.BarAt(sym, kind, idx)
	if !ok {
		return bar.Bar{}, fmt.Errorf("strategy: offset %d for %s/%s has no bar (out of range)", offset, sym, kind)
	}
	return b, nil
}

// OpenPositions returns every open position for a symbol.
func (h *Host) OpenPositions(sym string) []*order.Order {
	out := make([]*order.Order, 0)
	for _, o := range h.Book.OpenPositions() {
		if o.Symbol == sym {
			out = append(out, o)
		}
	}
	return out
}

// Equity returns current account equity given the caller-supplied
// unrealized PnL across all open positions (the host does not itself
// mark positions to market; the caller computes that figure and passes
// it through).
func (h *Host) Equity(unrealizedPnL decimal.Decimal) decimal.Decimal {
	return h.Ledger.Equity(unrealizedPnL)
}

// PlaceEntry validates and enqueues a new entry order. It does not fill
// the order; the matching engine fills pending entries on the next
// price-walk step.
func (h *Host) PlaceEntry(req EntryRequest) (*order.Order, error) {
	info, ok := h.Symbols[req.Symbol]
	if !ok {
		return nil, fmt.Errorf("strategy: unknown symbol %s", req.Symbol)
	}
	if req.Size.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("strategy: entry size must be positive")
	}
	if req.Leverage <= 0 {
		req.Leverage = 1
	}

	if h.Risk != nil {
		refPrice := req.Price
		if refPrice.IsZero() {
			refPrice = req.Touch
		}
		notional, _ := req.Size.Mul(refPrice).Float64()
		avail, _ := h.Ledger.AvailableBalance().Float64()
		eq, _ := h.Ledger.Equity(decimal.Zero).Float64()
		if err := h.Risk.CheckEntry(req.Symbol, req.Direction, notional, float64(req.Leverage), eq, avail); err != nil {
			return nil, err
		}
	}

	o := &order.Order{
		ID:              order.NextID(),
		Symbol:          req.Symbol,
		Name:            req.Name,
		Direction:       req.Direction,
		Leverage:        req.Leverage,
		EntryOrderType:  req.Type,
		EntryStatus:     order.StatusPending,
		EntryOrderTime:  h.now,
		EntryOrderSize:  info.RoundQty(req.Size),
		EntryOrderPrice: req.Price,
		EntryTouchPrice: req.Touch,
		EntryTrailPoint: req.TrailPt,
	}
	h.Book.Add(o)
	return o, nil
}

// PlaceExit validates and appends a new exit leg to an existing
// position. A position may carry several concurrent pending legs — e.g.
// a stop and a target placed as a bracket — each evaluated independently
// by the matching engine; whichever fires first reduces the position,
// and the rest stay pending (or are cancelled once the position fully
// closes, see order.Order.FillExitLeg).
func (h *Host) PlaceExit(req ExitRequest) error {
	o, ok := h.Book.Get(req.OrderID)
	if !ok {
		return fmt.Errorf("strategy: unknown order %s", req.OrderID)
	}
	if !o.IsOpen() {
		return fmt.Errorf("strategy: order %s is not open", req.OrderID)
	}
	o.AddExitLeg(&order.ExitLeg{
		ID:         fmt.Sprintf("%s-exit-%d", o.ID, len(o.Exits)+1),
		OrderType:  req.Type,
		Status:     order.StatusPending,
		OrderTime:  h.now,
		OrderSize:  req.Size,
		OrderPrice: req.Price,
		TouchPrice: req.Touch,
		TrailPoint: req.TrailPt,
	})
	return nil
}

// CancelExit cancels every pending exit leg on a position without
// closing it.
func (h *Host) CancelExit(orderID string) error {
	o, ok := h.Book.Get(orderID)
	if !ok {
		return fmt.Errorf("strategy: unknown order %s", orderID)
	}
	o.CancelPendingExits()
	return nil
}
