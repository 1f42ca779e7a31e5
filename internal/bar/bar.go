// Package bar holds the engine's bar data: the OHLCV series for every
// symbol across the four stream kinds the scheduler advances in lockstep
// (Trading, Magnifier, Reference, MarkPrice).
package bar

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jax-quant/backtest/internal/timeframe"
)

// Kind identifies which of the four parallel streams a bar belongs to.
type Kind int

const (
	// Trading is the primary timeframe a symbol's strategy trades on.
	Trading Kind = iota
	// Magnifier is a finer-grained stream used to refine intra-bar fill
	// ordering on the Trading timeframe.
	Magnifier
	// Reference is an arbitrary auxiliary timeframe a strategy can query
	// (e.g. a higher timeframe for trend confirmation) without it
	// participating in fill matching.
	Reference
	// MarkPrice is the funding/liquidation mark-price stream, which can
	// run on its own timeframe independent of the Trading stream.
	MarkPrice
)

func (k Kind) String() string {
	switch k {
	case Trading:
		return "trading"
	case Magnifier:
		return "magnifier"
	case Reference:
		return "reference"
	case MarkPrice:
		return "mark_price"
	default:
		return "unknown"
	}
}

// Bar is a single OHLCV candle. Decimal fields keep price/volume
// arithmetic exact across repeated bar-expansion and fill-matching steps,
// where accumulated float error would otherwise violate the engine's
// bit-identical-output requirement.
type Bar struct {
	Time   time.Time
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume decimal.Decimal
}

// OpenF, HighF, LowF, CloseF expose float64 views for components (like
// internal/numeric and internal/slippage) that operate on float64 for
// statistical estimation rather than money arithmetic.
func (b Bar) OpenF() float64  { f, _ := b.Open.Float64(); return f }
func (b Bar) HighF() float64  { f, _ := b.High.Float64(); return f }
func (b Bar) LowF() float64   { f, _ := b.Low.Float64(); return f }
func (b Bar) CloseF() float64 { f, _ := b.Close.Float64(); return f }

// seriesKey identifies one (symbol, stream kind) series.
type seriesKey struct {
	symbol string
	kind   Kind
}

// series is one symbol's bars for one stream kind, plus the scheduler's
// read cursor into it.
type series struct {
	tf     timeframe.Timeframe
	bars   []Bar
	cursor int // index of the current bar; -1 before the first Advance
}

// Store owns every symbol's bar series across all four stream kinds and
// the scheduler's read cursor into each. It never mutates bars once
// loaded, only the cursor, which keeps replay deterministic and
// re-entrant for any component that wants to read without advancing.
type Store struct {
	series map[seriesKey]*series
}

// New returns an empty Store. Series are added with AddSeries before the
// scheduler begins ticking.
func New() *Store {
	return &Store{series: make(map[seriesKey]*series)}
}

// AddSeries registers bars (must already be sorted ascending by Time) for
// a symbol's stream. Calling it twice for the same (symbol, kind)
// replaces the series and resets its cursor.
func (s *Store) AddSeries(symbol string, kind Kind, tf timeframe.Timeframe, bars []Bar) {
	s.series[seriesKey{symbol, kind}] = &series{tf: tf, bars: bars, cursor: -1}
}

func (s *Store) get(symbol string, kind Kind) (*series, bool) {
	sr, ok := s.series[seriesKey{symbol, kind}]
	return sr, ok
}

// HasSeries reports whether a (symbol, kind) series was registered.
func (s *Store) HasSeries(symbol string, kind Kind) bool {
	_, ok := s.get(symbol, kind)
	return ok
}

// Timeframe returns the registered timeframe for a series.
func (s *Store) Timeframe(symbol string, kind Kind) (timeframe.Timeframe, bool) {
	sr, ok := s.get(symbol, kind)
	if !ok {
		return timeframe.Timeframe{}, false
	}
	return sr.tf, true
}

// NumBars returns how many bars are loaded for a series.
func (s *Store) NumBars(symbol string, kind Kind) int {
	sr, ok := s.get(symbol, kind)
	if !ok {
		return 0
	}
	return len(sr.bars)
}

// Index returns the series' current cursor position, or -1 if Advance has
// never been called (or there is no such series).
func (s *Store) Index(symbol string, kind Kind) int {
	sr, ok := s.get(symbol, kind)
	if !ok {
		return -1
	}
	return sr.cursor
}

// Current returns the bar the cursor currently points at.
func (s *Store) Current(symbol string, kind Kind) (Bar, bool) {
	sr, ok := s.get(symbol, kind)
	if !ok || sr.cursor < 0 || sr.cursor >= len(sr.bars) {
		return Bar{}, false
	}
	return sr.bars[sr.cursor], true
}

// BarAt returns the bar at an absolute index in the series, without
// moving the cursor. Used for backward-offset history queries.
func (s *Store) BarAt(symbol string, kind Kind, idx int) (Bar, bool) {
	sr, ok := s.get(symbol, kind)
	if !ok || idx < 0 || idx >= len(sr.bars) {
		return Bar{}, false
	}
	return sr.bars[idx], true
}

// PeekNext returns the bar one past the cursor, without advancing.
func (s *Store) PeekNext(symbol string, kind Kind) (Bar, bool) {
	sr, ok := s.get(symbol, kind)
	if !ok {
		return Bar{}, false
	}
	next := sr.cursor + 1
	if next < 0 || next >= len(sr.bars) {
		return Bar{}, false
	}
	return sr.bars[next], true
}

// AtOrBefore returns the bar at the largest index whose Time is <= t,
// without moving the cursor. Used by reference-timeframe queries that
// must look up "the most recent reference bar as of now" without
// participating in the main advance loop.
func (s *Store) AtOrBefore(symbol string, kind Kind, t time.Time) (Bar, bool) {
	sr, ok := s.get(symbol, kind)
	if !ok {
		return Bar{}, false
	}
	lo, hi := 0, len(sr.bars)-1
	idx := -1
	for lo <= hi {
		mid := (lo + hi) / 2
		if !sr.bars[mid].Time.After(t) {
			idx = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	if idx < 0 {
		return Bar{}, false
	}
	return sr.bars[idx], true
}

// Advance moves the cursor forward one bar and reports whether a bar is
// now available. It returns false (without panicking) once the series is
// exhausted, which is how end-of-data is detected per symbol.
func (s *Store) Advance(symbol string, kind Kind) bool {
	sr, ok := s.get(symbol, kind)
	if !ok {
		return false
	}
	if sr.cursor+1 >= len(sr.bars) {
		sr.cursor = len(sr.bars)
		return false
	}
	sr.cursor++
	return true
}

// Exhausted reports whether a series has no more bars past the cursor.
func (s *Store) Exhausted(symbol string, kind Kind) bool {
	sr, ok := s.get(symbol, kind)
	if !ok {
		return true
	}
	return sr.cursor >= len(sr.bars)-1
}

// Symbols returns every symbol that has at least one registered series,
// in deterministic sorted order.
func (s *Store) Symbols() []string {
	seen := make(map[string]struct{})
	for k := range s.series {
		seen[k.symbol] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for sym := range seen {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}
