// Package order defines the engine's unified order record — one struct
// carries both the entry side and a list of exit legs for a trade, per
// the original engine's design (see DESIGN.md) — and the book that
// tracks orders through their pending/open/closed lifecycle.
package order

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction is a position's side.
type Direction int

const (
	None Direction = iota
	Long
	Short
)

func (d Direction) String() string {
	switch d {
	case Long:
		return "long"
	case Short:
		return "short"
	default:
		return "none"
	}
}

// Sign returns +1 for Long, -1 for Short, 0 for None.
func (d Direction) Sign() int {
	switch d {
	case Long:
		return 1
	case Short:
		return -1
	default:
		return 0
	}
}

// Type is the order's trigger/execution behavior.
type Type int

const (
	TypeNone Type = iota
	Market
	Limit
	Mit // market-if-touched
	Lit // limit-if-touched
	Trailing
)

func (t Type) String() string {
	switch t {
	case Market:
		return "market"
	case Limit:
		return "limit"
	case Mit:
		return "mit"
	case Lit:
		return "lit"
	case Trailing:
		return "trailing"
	default:
		return "none"
	}
}

// Status tracks an order's position in the pending -> open -> closed
// lifecycle. The entry side and each exit leg progress through this
// independently.
type Status int

const (
	StatusNone Status = iota
	StatusPending
	StatusFilled
	StatusCancelled
)

// Side distinguishes the order record's entry half from an exit leg, for
// callers (isBuy, slippage context) that need to know which directional
// role a fill plays without caring which concrete leg it is.
type Side int

const (
	EntrySide Side = iota
	ExitSide
)

// ExitLeg is one exit order attached to a position. A position may carry
// several concurrent pending legs (e.g. a stop and a target placed
// together as a bracket); each fires independently and at most once —
// spec's "exit side may be partially filled across multiple exit
// orders" means multiple legs jointly reduce one position, not that a
// single leg fills incrementally.
type ExitLeg struct {
	ID             string
	OrderType      Type
	Status         Status
	OrderTime      time.Time
	OrderSize      decimal.Decimal // zero closes the full remaining position
	OrderPrice     decimal.Decimal
	TouchPrice     decimal.Decimal
	TouchDirection Direction
	ExtremePrice   decimal.Decimal
	TrailPoint     decimal.Decimal
	FilledTime     time.Time
	FilledSize     decimal.Decimal
	FilledPrice    decimal.Decimal
	Commission     decimal.Decimal
	Sequence       int // this leg's position in ExitSequence order, assigned at fill
}

// Kind implements matching.Trigger for an exit leg.
func (l *ExitLeg) Kind() Type                 { return l.OrderType }
func (l *ExitLeg) SetKind(t Type)             { l.OrderType = t }
func (l *ExitLeg) Price() decimal.Decimal     { return l.OrderPrice }
func (l *ExitLeg) Touch() decimal.Decimal     { return l.TouchPrice }
func (l *ExitLeg) Extreme() decimal.Decimal   { return l.ExtremePrice }
func (l *ExitLeg) SetExtreme(p decimal.Decimal) { l.ExtremePrice = p }
func (l *ExitLeg) Trail() decimal.Decimal     { return l.TrailPoint }
func (l *ExitLeg) Size() decimal.Decimal      { return l.OrderSize }

// Order is the unified entry+exit record for one trade. A trade begins
// life with only its entry_* fields populated; once the entry fills, one
// or more ExitLeg values are attached by the strategy (stop, target,
// manual close) or by forced liquidation.
type Order struct {
	ID       string
	Symbol   string
	Name     string // strategy-assigned order name, used for trade numbering
	Leverage int

	Direction Direction

	// Entry side.
	EntryOrderType      Type
	EntryStatus         Status
	EntryOrderTime      time.Time
	EntryOrderSize      decimal.Decimal
	EntryOrderPrice     decimal.Decimal // limit/touch reference price; zero for Market
	EntryTouchPrice     decimal.Decimal // Mit/Lit trigger price
	EntryTouchDirection Direction       // direction the touch price must be crossed from
	EntryExtremePrice   decimal.Decimal // Trailing: best price seen since order placed
	EntryTrailPoint     decimal.Decimal // Trailing: offset from extreme price
	EntryFilledTime     time.Time
	EntryFilledSize     decimal.Decimal
	EntryFilledPrice    decimal.Decimal
	EntryCommission     decimal.Decimal

	// Exit side — zero or more concurrent legs, attached after the entry
	// fills. Legs are never removed from this slice; a filled or
	// cancelled leg simply stops being returned by PendingExitLegs.
	Exits []*ExitLeg

	Liquidated   bool
	MarginCall   decimal.Decimal // margin reserved for this position
	TradeNumber  int             // shared across partial exits of the same entry
	ExitSequence int             // increments per exit-leg fill within a trade
}

// Kind implements matching.Trigger for the entry side.
func (o *Order) Kind() Type                 { return o.EntryOrderType }
func (o *Order) SetKind(t Type)             { o.EntryOrderType = t }
func (o *Order) Price() decimal.Decimal     { return o.EntryOrderPrice }
func (o *Order) Touch() decimal.Decimal     { return o.EntryTouchPrice }
func (o *Order) Extreme() decimal.Decimal   { return o.EntryExtremePrice }
func (o *Order) SetExtreme(p decimal.Decimal) { o.EntryExtremePrice = p }
func (o *Order) Trail() decimal.Decimal     { return o.EntryTrailPoint }
func (o *Order) Size() decimal.Decimal      { return o.EntryOrderSize }

// IsOpen reports whether the entry is filled and there is still
// unreduced size on the position. A position stays open across any
// number of partial exit-leg fills as long as size remains; it is only
// the aggregate RemainingSize reaching zero — not any single leg's
// status — that removes it from the open set.
func (o *Order) IsOpen() bool {
	return o.EntryStatus == StatusFilled && o.RemainingSize().Sign() > 0
}

// IsPendingEntry reports whether the order is still waiting for its
// entry to trigger/fill.
func (o *Order) IsPendingEntry() bool {
	return o.EntryStatus == StatusPending
}

// IsPendingExit reports whether at least one exit leg is registered and
// awaiting a fill.
func (o *Order) IsPendingExit() bool {
	for _, l := range o.Exits {
		if l.Status == StatusPending {
			return true
		}
	}
	return false
}

// PendingExitLegs returns every exit leg still awaiting a fill, in
// attachment order.
func (o *Order) PendingExitLegs() []*ExitLeg {
	out := make([]*ExitLeg, 0, len(o.Exits))
	for _, l := range o.Exits {
		if l.Status == StatusPending {
			out = append(out, l)
		}
	}
	return out
}

// AddExitLeg appends a new exit leg to the position. Spec §9's unified-
// record design note: "partial exits append to a per-entry list of exit
// fills rather than replacing" — this is the append.
func (o *Order) AddExitLeg(leg *ExitLeg) {
	o.Exits = append(o.Exits, leg)
}

// CancelPendingExits cancels every exit leg still pending, without
// touching legs already filled or cancelled. Called when the position's
// remaining size reaches zero (spec §3 invariant 3: closing the position
// cancels its sibling pending exits) or by an explicit strategy cancel.
func (o *Order) CancelPendingExits() {
	for _, l := range o.Exits {
		if l.Status == StatusPending {
			l.Status = StatusCancelled
		}
	}
}

// RemainingSize returns the entry-filled size not yet consumed by any
// exit leg's fill.
func (o *Order) RemainingSize() decimal.Decimal {
	filled := o.EntryFilledSize
	for _, l := range o.Exits {
		filled = filled.Sub(l.FilledSize)
	}
	return filled
}

// Notional returns the position's entry notional value for the
// currently open remaining size.
func (o *Order) Notional() decimal.Decimal {
	return o.RemainingSize().Mul(o.EntryFilledPrice).Abs()
}

// UnrealizedPnL computes mark-to-market PnL on the remaining open size at
// the given mark price.
func (o *Order) UnrealizedPnL(markPrice decimal.Decimal) decimal.Decimal {
	diff := markPrice.Sub(o.EntryFilledPrice)
	if o.Direction == Short {
		diff = diff.Neg()
	}
	return diff.Mul(o.RemainingSize())
}

// FillEntry records the entry side's fill.
func (o *Order) FillEntry(t time.Time, size, price, commission decimal.Decimal) {
	o.EntryFilledTime = t
	o.EntryFilledSize = size
	o.EntryFilledPrice = price
	o.EntryCommission = commission
	o.EntryStatus = StatusFilled
}

// FillExitLeg records one exit leg's fill. If the fill brings the
// position's remaining size to zero, every other still-pending leg is
// cancelled, per spec §3 invariant 3.
func (o *Order) FillExitLeg(leg *ExitLeg, t time.Time, size, price, commission decimal.Decimal) {
	leg.FilledTime = t
	leg.FilledSize = size
	leg.FilledPrice = price
	leg.Commission = commission
	leg.Status = StatusFilled
	o.ExitSequence++
	leg.Sequence = o.ExitSequence

	if o.RemainingSize().Sign() <= 0 {
		o.CancelPendingExits()
	}
}

// ClosedTrade is the immutable record emitted to the trade log once an
// exit leg fully or partially closes a position.
type ClosedTrade struct {
	Order        string // Order.ID this exit belongs to
	Symbol       string
	Name         string
	TradeNumber  int
	ExitSequence int
	Direction    Direction
	EntryTime    time.Time
	EntryPrice   decimal.Decimal
	ExitTime     time.Time
	ExitPrice    decimal.Decimal
	Size         decimal.Decimal
	PnL          decimal.Decimal
	Commission   decimal.Decimal
	Liquidated   bool
}
