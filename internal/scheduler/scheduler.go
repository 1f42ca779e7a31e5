// Package scheduler drives the engine's per-tick loop: advancing each
// symbol's Trading, Magnifier and Mark-Price streams in lockstep (the
// Reference stream's cursor is not advanced), running the matching engine
// against each newly-closed bar, settling due funding, and invoking the
// strategy's callback chain to quiescence.
package scheduler

import (
	"fmt"
	"sort"

	"github.com/jax-quant/backtest/internal/bar"
	"github.com/jax-quant/backtest/internal/funding"
	"github.com/jax-quant/backtest/internal/ledger"
	"github.com/jax-quant/backtest/internal/matching"
	"github.com/jax-quant/backtest/internal/order"
	"github.com/jax-quant/backtest/internal/strategy"
)

// ExitMode reports how a run ended.
type ExitMode int

const (
	ExitNormal ExitMode = iota
	ExitBankruptcy
	ExitFatal
)

func (m ExitMode) String() string {
	switch m {
	case ExitNormal:
		return "normal"
	case ExitBankruptcy:
		return "bankruptcy"
	case ExitFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Scheduler owns the tick loop. One Scheduler drives exactly one run;
// it is not reusable across runs (mirrors the spec's single-owned-Engine
// design note — see DESIGN.md).
type Scheduler struct {
	Bars     *bar.Store
	Book     *order.Book
	Ledger   *ledger.Ledger
	Matching *matching.Engine
	Funding  *funding.Store
	Host     *strategy.Host
	Strategy strategy.Strategy

	// AfterChainCap bounds the after_entry/after_exit callback chain per
	// tick per symbol; exceeding it ends the run with an error rather than
	// looping forever on a strategy bug that keeps re-triggering itself.
	AfterChainCap int

	trades []order.ClosedTrade
	ticks  int
}

// New constructs a Scheduler. AfterChainCap defaults to 1024 when zero.
func New(bars *bar.Store, book *order.Book, led *ledger.Ledger, me *matching.Engine, fs *funding.Store, host *strategy.Host, strat strategy.Strategy) *Scheduler {
	return &Scheduler{
		Bars: bars, Book: book, Ledger: led, Matching: me, Funding: fs,
		Host: host, Strategy: strat, AfterChainCap: 1024,
	}
}

// Result summarizes a completed run.
type Result struct {
	Exit   ExitMode
	Ticks  int
	Trades []order.ClosedTrade
	Err    error
}

// Run drives the scheduler until every symbol's Trading stream is
// exhausted, the account goes bankrupt, or an unrecoverable error
// occurs.
func (s *Scheduler) Run() Result {
	symbols := s.Bars.Symbols()
	for {
		anyAdvanced := false
		for _, sym := range symbols {
			if !s.Bars.HasSeries(sym, bar.Trading) {
				continue
			}
			if s.Bars.Exhausted(sym, bar.Trading) {
				continue
			}
			advanced := s.Bars.Advance(sym, bar.Trading)
			if !advanced {
				continue
			}
			anyAdvanced = true
			s.ticks++

			if err := s.processSymbolTick(sym); err != nil {
				if _, ok := err.(bankruptcyError); ok {
					return Result{Exit: ExitBankruptcy, Ticks: s.ticks, Trades: s.trades, Err: err}
				}
				return Result{Exit: ExitFatal, Ticks: s.ticks, Trades: s.trades, Err: err}
			}
			if s.Ledger.IsBankrupt() {
				return Result{Exit: ExitBankruptcy, Ticks: s.ticks, Trades: s.trades}
			}
		}
		if !anyAdvanced {
			break
		}
	}
	return Result{Exit: ExitNormal, Ticks: s.ticks, Trades: s.trades}
}

type bankruptcyError struct{ sym string }

func (e bankruptcyError) Error() string { return fmt.Sprintf("bankruptcy while processing %s", e.sym) }

// processSymbolTick runs the seven-step per-tick sequence for one
// symbol's newly-advanced Trading bar:
//  1. advance the Magnifier sub-stream to the Trading bar's close, i.e. through
//     every sub-bar opening before the next Trading bar (if present)
//  2. run matching against the Magnifier sub-bars, else the Trading bar directly
//  3. settle any funding events due at or before the current open time (the
//     latest Mark-Price bar's when that stream exists, else the Trading bar's)
//  4. set the host phase to OnClose and invoke the strategy
//  5. drain the after-chain (AfterEntry/AfterExit) to quiescence, bounded by AfterChainCap
//  6. emit closed trades
//  7. check bankruptcy (handled by the caller, after this returns)
func (s *Scheduler) processSymbolTick(sym string) error {
	tradingBar, ok := s.Bars.Current(sym, bar.Trading)
	if !ok {
		return fmt.Errorf("scheduler: no current trading bar for %s", sym)
	}
	prevBar, hasPrev := s.Bars.BarAt(sym, bar.Trading, s.Bars.Index(sym, bar.Trading)-1)
	hasMarkStream := s.Bars.HasSeries(sym, bar.MarkPrice)

	// currentMarkBar advances the Mark-Price stream to catch up to any
	// fill-stream bar at or before upTo, then returns its current bar —
	// or upTo itself, degenerating to a single-stream walk, when the
	// symbol carries no distinct Mark-Price series (spec §3/§4.4:
	// liquidation is always checked against mark price, never whatever
	// stream fills orders, but the two coincide when only one is
	// configured).
	currentMarkBar := func(upTo bar.Bar) bar.Bar {
		if !hasMarkStream {
			return upTo
		}
		for {
			mp, ok := s.Bars.PeekNext(sym, bar.MarkPrice)
			if !ok || mp.Time.After(upTo.Time) {
				break
			}
			s.Bars.Advance(sym, bar.MarkPrice)
		}
		mp, ok := s.Bars.Current(sym, bar.MarkPrice)
		if !ok {
			return upTo
		}
		return mp
	}

	if s.Bars.HasSeries(sym, bar.Magnifier) {
		// The Trading bar closes where the next one opens; the last Trading
		// bar takes every remaining Magnifier bar.
		nextTrading, hasNextTrading := s.Bars.PeekNext(sym, bar.Trading)
		for !s.Bars.Exhausted(sym, bar.Magnifier) {
			mb, ok := s.Bars.PeekNext(sym, bar.Magnifier)
			if !ok || (hasNextTrading && !mb.Time.Before(nextTrading.Time)) {
				break
			}
			s.Bars.Advance(sym, bar.Magnifier)
			mprev, mhasPrev := s.Bars.BarAt(sym, bar.Magnifier, s.Bars.Index(sym, bar.Magnifier)-1)
			markBar := currentMarkBar(mb)
			closed, err := s.Matching.ProcessBar(sym, mb, markBar, mprev, mhasPrev)
			if err != nil {
				return err
			}
			s.trades = append(s.trades, closed...)
		}
	} else {
		markBar := currentMarkBar(tradingBar)
		closed, err := s.Matching.ProcessBar(sym, tradingBar, markBar, prevBar, hasPrev)
		if err != nil {
			return err
		}
		s.trades = append(s.trades, closed...)
	}

	fundingTime := tradingBar.Time
	if hasMarkStream {
		if mp, ok := s.Bars.Current(sym, bar.MarkPrice); ok {
			fundingTime = mp.Time
		}
	}
	for {
		evt, due := s.Funding.Due(sym, fundingTime)
		if !due {
			break
		}
		for _, o := range s.Book.OpenPositions() {
			if o.Symbol == sym {
				s.Matching.SettleFunding(o, evt)
			}
		}
	}

	if s.Ledger.IsBankrupt() {
		return bankruptcyError{sym: sym}
	}

	if s.Strategy != nil {
		s.Host.SetPhase(strategy.OnClose, tradingBar.Time)
		if err := s.Strategy.OnClose(s.Host, sym); err != nil {
			return fmt.Errorf("scheduler: on_close callback for %s: %w", sym, err)
		}
		if err := s.drainAfterChain(sym, tradingBar, prevBar, hasPrev); err != nil {
			return err
		}
	}

	return nil
}

// drainAfterChain repeatedly re-runs matching against the already-closed
// bar so orders the strategy just placed can fill within the same tick,
// then invokes AfterEntry once per order and AfterExit once per newly-
// filled exit leg, which may itself place more orders. The loop stops
// once a pass produces no new fills or the configured iteration cap is
// hit.
func (s *Scheduler) drainAfterChain(sym string, b, prevBar bar.Bar, hasPrev bool) error {
	cap := s.AfterChainCap
	if cap <= 0 {
		cap = 1024
	}
	seenEntry := make(map[string]bool)
	seenExitLeg := make(map[*order.ExitLeg]bool)

	for iter := 0; iter < cap; iter++ {
		markBar := b
		if s.Bars.HasSeries(sym, bar.MarkPrice) {
			if mp, ok := s.Bars.Current(sym, bar.MarkPrice); ok {
				markBar = mp
			}
		}
		closed, err := s.Matching.ProcessBar(sym, b, markBar, prevBar, hasPrev)
		if err != nil {
			return err
		}
		s.trades = append(s.trades, closed...)

		progressed := false
		for _, o := range s.Book.ForSymbol(sym) {
			if o.EntryStatus == order.StatusFilled && !seenEntry[o.ID] {
				seenEntry[o.ID] = true
				progressed = true
				s.Host.SetPhase(strategy.AfterEntry, b.Time)
				if err := s.Strategy.AfterEntry(s.Host, o); err != nil {
					return fmt.Errorf("scheduler: after_entry callback for %s: %w", sym, err)
				}
			}
			for _, leg := range o.Exits {
				if leg.Status == order.StatusFilled && !seenExitLeg[leg] {
					seenExitLeg[leg] = true
					progressed = true
					s.Host.SetPhase(strategy.AfterExit, b.Time)
					if err := s.Strategy.AfterExit(s.Host, o); err != nil {
						return fmt.Errorf("scheduler: after_exit callback for %s: %w", sym, err)
					}
				}
			}
		}
		if !progressed {
			return nil
		}
		if s.Ledger.IsBankrupt() {
			return bankruptcyError{sym: sym}
		}
	}
	return fmt.Errorf("scheduler: after-chain for %s exceeded %d iterations without settling", sym, cap)
}

// Trades returns every closed trade recorded so far, in emission order.
func (s *Scheduler) Trades() []order.ClosedTrade { return s.trades }

// sortedCopy is a small helper kept for components that need a stable
// snapshot of symbols without depending on map iteration order.
func sortedCopy(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}
