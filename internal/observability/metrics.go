package observability

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the backtest engine's Prometheus registry, replacing the
// teacher's hand-rolled libs/observability/prometheus.go exporter (which
// serialized counters into the text format by hand) with the real
// client_golang collector types.
type Metrics struct {
	Registry *prometheus.Registry

	TicksProcessed      prometheus.Counter
	FillsExecuted        *prometheus.CounterVec
	BankruptcyEvents     prometheus.Counter
	AfterChainDepth      prometheus.Histogram
	FundingSettlements   prometheus.Counter
	LiquidationsExecuted prometheus.Counter
}

// NewMetrics constructs and registers the standard metric set on a fresh
// registry, so concurrent backtest runs in the same process (e.g. a
// parameter sweep) never collide on the default global registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		TicksProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backtest_ticks_processed_total",
			Help: "Number of scheduler ticks processed.",
		}),
		FillsExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "backtest_fills_executed_total",
			Help: "Number of order fills executed, labeled by side.",
		}, []string{"side"}),
		BankruptcyEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backtest_bankruptcy_events_total",
			Help: "Number of runs that ended in bankruptcy.",
		}),
		AfterChainDepth: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "backtest_after_chain_depth",
			Help:    "Number of after-chain iterations drained per tick.",
			Buckets: prometheus.LinearBuckets(0, 4, 10),
		}),
		FundingSettlements: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backtest_funding_settlements_total",
			Help: "Number of funding events settled.",
		}),
		LiquidationsExecuted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backtest_liquidations_total",
			Help: "Number of forced liquidations executed.",
		}),
	}
	reg.MustRegister(
		m.TicksProcessed,
		m.FillsExecuted,
		m.BankruptcyEvents,
		m.AfterChainDepth,
		m.FundingSettlements,
		m.LiquidationsExecuted,
	)
	return m
}
