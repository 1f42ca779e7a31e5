// Package engine wires together every other internal package into one
// runnable backtest: it loads market data and symbol metadata, builds
// the ledger/book/matching/scheduler stack, drives the run to
// completion, and hands the resulting trades to an artifact sink.
//
// Grounded on the teacher's internal/modules/backtest.Engine (the
// seed-tracking, RunID-stamping Run wrapper around a lower-level
// strategies.Backtester), generalized from "wrap one strategy call"
// to "own the full six-component simulation".
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/jax-quant/backtest/internal/artifact"
	"github.com/jax-quant/backtest/internal/bar"
	"github.com/jax-quant/backtest/internal/config"
	"github.com/jax-quant/backtest/internal/funding"
	"github.com/jax-quant/backtest/internal/ledger"
	"github.com/jax-quant/backtest/internal/matching"
	"github.com/jax-quant/backtest/internal/observability"
	"github.com/jax-quant/backtest/internal/order"
	"github.com/jax-quant/backtest/internal/risk"
	"github.com/jax-quant/backtest/internal/scheduler"
	"github.com/jax-quant/backtest/internal/slippage"
	"github.com/jax-quant/backtest/internal/strategy"
	"github.com/jax-quant/backtest/internal/symbol"
	"github.com/jax-quant/backtest/internal/timeframe"
	"github.com/shopspring/decimal"
)

// Result is what a completed run reports, mirroring the teacher's
// Result type's seed/RunID/duration metadata fields alongside the
// domain-specific outcome (exit mode, trade log).
type Result struct {
	RunID      string
	Seed       int64
	RunAt      time.Time
	DurationMs int64
	Exit       scheduler.ExitMode
	Ticks      int
	Trades     []order.ClosedTrade
}

// Engine owns every component of one backtest run and the registry of
// strategies it can be configured to run.
type Engine struct {
	registry *strategy.Registry
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// New constructs an Engine with the given strategy registry. Logger and
// metrics are optional; nil either disables that concern.
func New(registry *strategy.Registry, logger *observability.Logger, metrics *observability.Metrics) *Engine {
	return &Engine{registry: registry, metrics: metrics, logger: logger}
}

func (e *Engine) logEvent(ctx context.Context, level zerolog.Level, msg string, fields map[string]interface{}) {
	if e.logger == nil {
		return
	}
	e.logger.LogEvent(ctx, level, msg, fields)
}

// Run loads the configured symbols' data, builds the component stack,
// drives the scheduler to completion, and writes artifacts to sink.
func (e *Engine) Run(ctx context.Context, cfg config.Config, sink artifact.Sink) (*Result, error) {
	strat, err := e.registry.Get(cfg.StrategyID)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	runAt := time.Now()
	snap := artifact.NewConfigSnapshot(cfg.AsMap())
	snap.CreatedAt = runAt
	ctx = observability.WithRunInfo(ctx, observability.RunInfo{RunID: snap.RunID})

	symbols := make(map[string]symbol.Info, len(cfg.Symbols))
	store := bar.New()
	slipModels := make(map[string]slippage.Model, len(cfg.Symbols))
	fees := make(map[string]matching.Fee, len(cfg.Symbols))
	fundingStore := funding.New()

	for _, sc := range cfg.Symbols {
		info, err := symbol.LoadInfo(sc.SymbolInfoPath)
		if err != nil {
			return nil, fmt.Errorf("engine: loading symbol info for %s: %w", sc.Name, err)
		}
		symbols[sc.Name] = info

		if err := bar.LoadSeries(store, sc.TradingBarsPath, sc.Name, bar.Trading, timeframe.Timeframe{}); err != nil {
			return nil, fmt.Errorf("engine: loading trading bars for %s: %w", sc.Name, err)
		}
		if sc.MagnifierBarsPath != "" {
			if err := bar.LoadSeries(store, sc.MagnifierBarsPath, sc.Name, bar.Magnifier, timeframe.Timeframe{}); err != nil {
				return nil, fmt.Errorf("engine: loading magnifier bars for %s: %w", sc.Name, err)
			}
		}
		if sc.ReferenceBarsPath != "" {
			if err := bar.LoadSeries(store, sc.ReferenceBarsPath, sc.Name, bar.Reference, timeframe.Timeframe{}); err != nil {
				return nil, fmt.Errorf("engine: loading reference bars for %s: %w", sc.Name, err)
			}
		}
		if sc.MarkPriceBarsPath != "" {
			if err := bar.LoadSeries(store, sc.MarkPriceBarsPath, sc.Name, bar.MarkPrice, timeframe.Timeframe{}); err != nil {
				return nil, fmt.Errorf("engine: loading mark price bars for %s: %w", sc.Name, err)
			}
		}
		if sc.FundingPath != "" {
			events, err := funding.LoadCSV(sc.FundingPath)
			if err != nil {
				return nil, fmt.Errorf("engine: loading funding schedule for %s: %w", sc.Name, err)
			}
			fundingStore.Load(sc.Name, events)
		}

		switch sc.SlippageKind {
		case config.SlippageMarketImpact:
			slipModels[sc.Name] = slippage.MarketImpact{
				BaseImpactBps:    sc.ImpactBaseBps,
				MaxParticipation: sc.MaxParticipation,
				StressMultiplier: orDefault(sc.StressMultiplier, 1),
			}
		default:
			slipModels[sc.Name] = slippage.Percentage{Rate: decimal.NewFromFloat(sc.SlippageRate)}
		}
	}

	if err := validateSameBarData(store, cfg); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	fee := matching.Fee{
		MakerRate: decimal.NewFromFloat(*cfg.MakerFeePercentage / 100),
		TakerRate: decimal.NewFromFloat(*cfg.TakerFeePercentage / 100),
	}
	for _, sc := range cfg.Symbols {
		fees[sc.Name] = fee
	}

	limitMaxQty, limitMinQty, marketMaxQty, marketMinQty, minNotionalValue := cfg.Guards()

	led := ledger.New(decimal.NewFromFloat(cfg.InitialBalance))
	book := order.NewBook()
	me := matching.New(book, led, fundingStore)
	me.Symbols = symbols
	me.Slip = slipModels
	me.Fees = fees
	me.AfterChainCap = cfg.AfterChainCap
	me.Guards = matching.Guards{
		LimitMaxQty:      limitMaxQty,
		LimitMinQty:      limitMinQty,
		MarketMaxQty:     marketMaxQty,
		MarketMinQty:     marketMinQty,
		MinNotionalValue: minNotionalValue,
	}

	host := strategy.NewHost(store, book, led, symbols)
	if cfg.RiskPolicy.Enabled {
		pol := risk.Policy{
			MaxLeverage:      cfg.RiskPolicy.MaxLeverage,
			MaxOpenPositions: cfg.RiskPolicy.MaxOpenPositions,
			DrawdownHaltFrac: cfg.RiskPolicy.DrawdownHaltFrac,
		}
		host.Risk = risk.NewEnforcer(pol, func() int { return len(book.OpenPositions()) })
	}

	sched := scheduler.New(store, book, led, me, fundingStore, host, strat)
	sched.AfterChainCap = cfg.AfterChainCap

	e.logEvent(ctx, zerolog.InfoLevel, "backtest run starting", map[string]interface{}{
		"strategy": cfg.StrategyID, "symbols": len(cfg.Symbols),
	})

	res := sched.Run()
	if e.metrics != nil {
		e.metrics.TicksProcessed.Add(float64(res.Ticks))
		if res.Exit == scheduler.ExitBankruptcy {
			e.metrics.BankruptcyEvents.Inc()
		}
	}

	if res.Err != nil {
		e.logEvent(ctx, zerolog.ErrorLevel, "backtest run failed", map[string]interface{}{"error": res.Err.Error()})
		return nil, fmt.Errorf("engine: run failed: %w", res.Err)
	}

	if sink != nil {
		if err := sink.WriteConfigSnapshot(ctx, snap); err != nil {
			return nil, fmt.Errorf("engine: writing config snapshot: %w", err)
		}
		for _, t := range res.Trades {
			if err := sink.WriteTrade(ctx, artifact.ToTradeRecord(snap.RunID, t)); err != nil {
				return nil, fmt.Errorf("engine: writing trade record: %w", err)
			}
		}
	}

	e.logEvent(ctx, zerolog.InfoLevel, "backtest run complete", map[string]interface{}{
		"exit": res.Exit.String(), "ticks": res.Ticks, "trades": len(res.Trades),
	})

	return &Result{
		RunID:      snap.RunID,
		Seed:       cfg.Seed,
		RunAt:      runAt,
		DurationMs: time.Since(runAt).Milliseconds(),
		Exit:       res.Exit,
		Ticks:      res.Ticks,
		Trades:     res.Trades,
	}, nil
}

func orDefault(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}

// validateSameBarData runs spec §6's two duplicate-data detectors across
// every already-loaded symbol. check_same_bar_data[stream] flags two
// symbols whose that-stream first bar shares an open price — the
// classic sign of an operator accidentally pointing two symbols at the
// same underlying file. check_same_bar_data_with_target flags a
// symbol's own Mark-Price stream sharing its last bar's OHLC with its
// fill target stream (Magnifier when the run uses the bar magnifier,
// Trading otherwise) — the sign mark_price_bars_path was never actually
// set to a distinct file.
func validateSameBarData(store *bar.Store, cfg config.Config) error {
	if cfg.CheckSameBarData != nil {
		checks := []struct {
			kind    bar.Kind
			enabled bool
		}{
			{bar.Trading, cfg.CheckSameBarData.Trading},
			{bar.Magnifier, cfg.CheckSameBarData.Magnifier},
			{bar.Reference, cfg.CheckSameBarData.Reference},
			{bar.MarkPrice, cfg.CheckSameBarData.MarkPrice},
		}
		for _, c := range checks {
			if !c.enabled {
				continue
			}
			if err := checkDuplicateFirstOpen(store, cfg, c.kind); err != nil {
				return err
			}
		}
	}

	if cfg.CheckSameBarDataWithTarget == nil || !*cfg.CheckSameBarDataWithTarget {
		return nil
	}
	targetKind := bar.Trading
	if cfg.UseBarMagnifier {
		targetKind = bar.Magnifier
	}
	for _, sc := range cfg.Symbols {
		if !store.HasSeries(sc.Name, bar.MarkPrice) {
			continue
		}
		mark, ok := store.BarAt(sc.Name, bar.MarkPrice, store.NumBars(sc.Name, bar.MarkPrice)-1)
		if !ok {
			continue
		}
		target, ok := store.BarAt(sc.Name, targetKind, store.NumBars(sc.Name, targetKind)-1)
		if !ok {
			continue
		}
		if sameOHLC(mark, target) {
			return fmt.Errorf("symbol %s: mark_price stream's last bar is identical to its %s stream — mark_price_bars_path likely duplicates the fill stream", sc.Name, targetKind)
		}
	}
	return nil
}

func checkDuplicateFirstOpen(store *bar.Store, cfg config.Config, kind bar.Kind) error {
	seenOpen := make(map[string]string, len(cfg.Symbols))
	for _, sc := range cfg.Symbols {
		if !store.HasSeries(sc.Name, kind) {
			continue
		}
		first, ok := store.BarAt(sc.Name, kind, 0)
		if !ok {
			continue
		}
		key := first.Open.String()
		if other, dup := seenOpen[key]; dup {
			return fmt.Errorf("symbols %s and %s: %s stream first-bar open price %s is identical — likely duplicate data mis-assignment", other, sc.Name, kind, key)
		}
		seenOpen[key] = sc.Name
	}
	return nil
}

func sameOHLC(a, b bar.Bar) bool {
	return a.Open.Equal(b.Open) && a.High.Equal(b.High) && a.Low.Equal(b.Low) && a.Close.Equal(b.Close)
}
