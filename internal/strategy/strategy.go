// Package strategy defines the callback-based Strategy interface and the
// Host that exposes bar-query and order-placement APIs to strategies
// while enforcing the phase/lookahead rules of the scheduler's per-tick
// loop.
package strategy

import (
	"github.com/shopspring/decimal"

	"github.com/jax-quant/backtest/internal/order"
)

// Phase identifies which point in the scheduler's per-tick loop a
// callback is being invoked from. Strategies use it to tell whether
// lookahead-sensitive queries (offset 0, "this bar's close") are legal:
// they are legal only from OnClose.
type Phase int

const (
	// OnClose fires once per symbol per tick, after that symbol's
	// Trading-timeframe bar has fully closed and its matching has run.
	OnClose Phase = iota
	// AfterEntry fires after an entry order placed earlier in the same
	// tick's after-chain has filled.
	AfterEntry
	// AfterExit fires after an exit order placed earlier in the same
	// tick's after-chain has filled.
	AfterExit
)

func (p Phase) String() string {
	switch p {
	case OnClose:
		return "on_close"
	case AfterEntry:
		return "after_entry"
	case AfterExit:
		return "after_exit"
	default:
		return "unknown"
	}
}

// EntryRequest is the strategy-facing parameters for placing a new
// entry order; Host.PlaceEntry translates it into an order.Order.
type EntryRequest struct {
	Symbol    string
	Name      string
	Direction order.Direction
	Type      order.Type
	Size      decimal.Decimal
	Price     decimal.Decimal // Limit/Lit price; ignored for Market/Mit
	Touch     decimal.Decimal // Mit/Lit trigger price
	TrailPt   decimal.Decimal // Trailing offset
	Leverage  int
}

// ExitRequest is the strategy-facing parameters for attaching an exit to
// an existing order.
type ExitRequest struct {
	OrderID string
	Type    order.Type
	Size    decimal.Decimal // zero closes the full remaining position
	Price   decimal.Decimal
	Touch   decimal.Decimal
	TrailPt decimal.Decimal
}

// Strategy is the callback interface a trading strategy implements.
// Exactly one of the three callbacks fires per invocation, selected by
// the scheduler's after-chain loop (spec §4.5 step 6).
type Strategy interface {
	ID() string
	Name() string
	// OnClose is called once a symbol's Trading bar has closed.
	OnClose(h *Host, symbol string) error
	// AfterEntry is called after an entry order from this chain fills.
	AfterEntry(h *Host, filled *order.Order) error
	// AfterExit is called after an exit order from this chain fills.
	AfterExit(h *Host, filled *order.Order) error
}

// Metadata describes a registered strategy for display/reporting
// purposes; it has no effect on simulation behavior.
type Metadata struct {
	ID          string
	DisplayName string
	Description string
}
