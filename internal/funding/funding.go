// Package funding stores per-symbol funding-rate events and computes the
// periodic funding settlement applied to open positions.
package funding

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jax-quant/backtest/internal/order"
)

// Event is one funding settlement point for a symbol.
type Event struct {
	Time      time.Time
	Rate      decimal.Decimal // positive: longs pay shorts
	MarkPrice decimal.Decimal
}

// Store holds every symbol's funding events, sorted ascending by time,
// and a per-symbol read cursor the scheduler advances tick by tick. This
// mirrors the deterministic sorted-event-with-cursor shape used
// elsewhere in the engine for bar advance, applied here to funding
// instead of price data.
type Store struct {
	events map[string][]Event
	cursor map[string]int
}

// New returns an empty funding store.
func New() *Store {
	return &Store{events: make(map[string][]Event), cursor: make(map[string]int)}
}

// Load registers a symbol's funding events. Events need not be
// pre-sorted; Load sorts them.
func (s *Store) Load(symbol string, events []Event) {
	sorted := append([]Event(nil), events...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Time.Before(sorted[j].Time) })
	s.events[symbol] = sorted
	s.cursor[symbol] = -1
}

// Due returns the next unconsumed funding event for a symbol whose time
// is at or before t, advancing the cursor past it. Returns false if no
// event is due yet. Calling it repeatedly drains every event at or
// before t one at a time, which lets the scheduler settle multiple
// funding events that fall within a single coarse bar.
func (s *Store) Due(symbol string, t time.Time) (Event, bool) {
	evts := s.events[symbol]
	cur := s.cursor[symbol]
	next := cur + 1
	if next >= len(evts) {
		return Event{}, false
	}
	if evts[next].Time.After(t) {
		return Event{}, false
	}
	s.cursor[symbol] = next
	return evts[next], true
}

// Peek returns the next unconsumed funding event without advancing.
func (s *Store) Peek(symbol string) (Event, bool) {
	evts := s.events[symbol]
	next := s.cursor[symbol] + 1
	if next >= len(evts) {
		return Event{}, false
	}
	return evts[next], true
}

// Settle computes the funding payment for an open position at a funding
// event. Positive return value means the position pays funding (debited
// from the ledger); negative means it receives funding.
//
// A long position pays when the rate is positive (longs pay shorts) and
// receives when it is negative; a short position has the opposite sign.
func Settle(o *order.Order, evt Event) decimal.Decimal {
	notional := o.RemainingSize().Mul(evt.MarkPrice).Abs()
	payment := notional.Mul(evt.Rate)
	if o.Direction == order.Short {
		payment = payment.Neg()
	}
	return payment
}
