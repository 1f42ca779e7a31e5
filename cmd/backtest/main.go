// Command backtest runs one deterministic backtest from a JSON config
// file and writes its trade log and config snapshot to disk (or
// Postgres, if configured).
//
// Grounded on the teacher's cmd/trader/main.go for the overall shape —
// flag parsing, structured startup logging, context with signal
// cancellation — trimmed down from a long-running HTTP service to a
// single run-to-completion CLI, since a backtest has no request loop.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jax-quant/backtest/internal/artifact"
	"github.com/jax-quant/backtest/internal/config"
	"github.com/jax-quant/backtest/internal/engine"
	"github.com/jax-quant/backtest/internal/observability"
	"github.com/jax-quant/backtest/internal/strategies/macross"
	"github.com/jax-quant/backtest/internal/strategy"
)

var (
	version = "0.1.0"
)

func main() {
	configPath := flag.String("config", "", "path to the run's JSON config file")
	flag.Parse()

	if *configPath == "" {
		log.Fatal("backtest: -config is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("backtest: %v", err)
	}
}

func run(ctx context.Context, configPath string) error {
	log.Printf("starting backtest v%s", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := observability.NewLogger(os.Stdout, 4096)
	defer logger.Close()
	metrics := observability.NewMetrics()

	registry := strategy.NewRegistry()
	registerBuiltinStrategies(registry)

	var sink artifact.Sink
	if cfg.Output.PostgresDSN != "" {
		persister, err := artifact.NewPgxPersister(ctx, cfg.Output.PostgresDSN)
		if err != nil {
			return fmt.Errorf("connecting artifact database: %w", err)
		}
		sink = artifact.NewPostgresSink(persister)
	} else {
		jsonlSink, err := artifact.NewJSONLSink(cfg.Output.TradesPath, cfg.Output.ConfigPath)
		if err != nil {
			return fmt.Errorf("opening artifact sink: %w", err)
		}
		sink = jsonlSink
	}
	defer sink.Close()

	eng := engine.New(registry, logger, metrics)
	result, err := eng.Run(ctx, cfg, sink)
	if err != nil {
		return fmt.Errorf("running backtest: %w", err)
	}

	log.Printf("run %s complete: exit=%s ticks=%d trades=%d duration=%dms",
		result.RunID, result.Exit, result.Ticks, len(result.Trades), result.DurationMs)
	return nil
}

// registerBuiltinStrategies registers the strategies shipped with this
// binary. Additional strategies are added here the same way the
// teacher's cmd/trader registered its strategies.Registry entries at
// startup, before artifact-gated loading took over that job.
func registerBuiltinStrategies(registry *strategy.Registry) {
	mc := macross.New("ma_cross", "MA Crossover")
	_ = registry.Register(mc, strategy.Metadata{
		ID:          mc.ID(),
		DisplayName: mc.Name(),
		Description: "Fast/slow SMA crossover with fixed stop and target",
	})
}
