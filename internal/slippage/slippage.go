// Package slippage implements the two slippage variants the matching
// engine can apply to a fill price: a flat Percentage model and a
// MarketImpact model driven by OHLC-derived spread/volatility estimators.
package slippage

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/jax-quant/backtest/internal/bar"
	"github.com/jax-quant/backtest/internal/order"
)

// Context carries everything a Model needs to price one fill's slippage.
type Context struct {
	Side      order.Direction
	Qty       decimal.Decimal
	RefPrice  decimal.Decimal
	TickSize  decimal.Decimal
	Bar       bar.Bar
	PrevBar   bar.Bar
	HasPrev   bool
	BarVolume decimal.Decimal // the current bar's traded volume, for participation rate
}

// Model adjusts a reference fill price by slippage. It is a closed set —
// exactly two concrete implementations exist, dispatched by the matching
// engine through this interface rather than a larger plugin registry,
// since the spec names exactly these two variants.
type Model interface {
	// Adjust returns the slippage-adjusted fill price. Slippage always
	// moves the price against the order: worse for buys (higher) and
	// worse for sells (lower).
	Adjust(ctx Context) decimal.Decimal
}

// Percentage applies a fixed fractional slippage to every fill,
// regardless of size or market conditions.
type Percentage struct {
	Rate decimal.Decimal // e.g. 0.0005 for 5bps
}

func (p Percentage) Adjust(ctx Context) decimal.Decimal {
	adj := ctx.RefPrice.Mul(p.Rate)
	if ctx.Side == order.Short {
		return ctx.RefPrice.Sub(adj)
	}
	return ctx.RefPrice.Add(adj)
}

// MarketImpact prices slippage from a bid/ask spread estimate (Corwin–
// Schultz high/low estimator) plus a square-root participation-rate
// impact term scaled by realized volatility (Garman–Klass), capped by a
// maximum participation rate and a final stress multiplier.
type MarketImpact struct {
	BaseImpactBps       float64 // impact coefficient applied to sqrt(participation)
	MaxParticipation     float64 // cap on qty/bar-volume before impact saturates
	StressMultiplier     float64 // final multiplier on the fully-computed bps value
}

func (m MarketImpact) Adjust(ctx Context) decimal.Decimal {
	spreadBps := corwinSchultzSpreadBps(ctx)
	volBps := garmanKlassVolBps(ctx.Bar)
	participation := participationRate(ctx.Qty, ctx.BarVolume, m.MaxParticipation)

	impactBps := m.BaseImpactBps * volBps * math.Sqrt(participation)
	totalBps := (spreadBps/2 + impactBps) * stressOrOne(m.StressMultiplier)

	ref, _ := ctx.RefPrice.Float64()
	adj := ref * totalBps / 10000
	tick, _ := ctx.TickSize.Float64()
	if tick > 0 && adj < tick {
		adj = tick // never let slippage round away to nothing on a valid fill
	}
	adjD := decimal.NewFromFloat(adj)
	if ctx.Side == order.Short {
		return ctx.RefPrice.Sub(adjD)
	}
	return ctx.RefPrice.Add(adjD)
}

func stressOrOne(s float64) float64 {
	if s <= 0 {
		return 1
	}
	return s
}

// corwinSchultzSpreadBps estimates the effective bid/ask spread in basis
// points from two consecutive bars' high/low ranges, per Corwin & Schultz
// (2012) "A Simple Way to Estimate Bid-Ask Spreads from Daily High and
// Low Prices." Falls back to zero when there is no previous bar or the
// estimator is undefined (degenerate ranges).
func corwinSchultzSpreadBps(ctx Context) float64 {
	if !ctx.HasPrev {
		return 0
	}
	h1, l1 := ctx.PrevBar.HighF(), ctx.PrevBar.LowF()
	h2, l2 := ctx.Bar.HighF(), ctx.Bar.LowF()
	if h1 <= 0 || l1 <= 0 || h2 <= 0 || l2 <= 0 {
		return 0
	}
	beta := math.Pow(math.Log(h1/l1), 2) + math.Pow(math.Log(h2/l2), 2)
	hi2, lo2 := math.Max(h1, h2), math.Min(l1, l2)
	gamma := math.Pow(math.Log(hi2/lo2), 2)

	const k = 3 - 2*math.Sqrt2
	alpha := (math.Sqrt(2*beta)-math.Sqrt(beta))/k - math.Sqrt(gamma/k)
	if math.IsNaN(alpha) || math.IsInf(alpha, 0) {
		return 0
	}
	spread := 2 * (math.Exp(alpha) - 1) / (1 + math.Exp(alpha))
	if math.IsNaN(spread) || spread < 0 {
		return 0
	}
	return spread * 10000
}

// garmanKlassVolBps estimates single-bar realized volatility in basis
// points from its own OHLC range, per Garman & Klass (1980).
func garmanKlassVolBps(b bar.Bar) float64 {
	o, h, l, c := b.OpenF(), b.HighF(), b.LowF(), b.CloseF()
	if o <= 0 || h <= 0 || l <= 0 || c <= 0 {
		return 0
	}
	const ln2 = math.Ln2
	hl := math.Pow(math.Log(h/l), 2)
	co := math.Pow(math.Log(c/o), 2)
	variance := 0.5*hl - (2*ln2-1)*co
	if variance <= 0 {
		return 0
	}
	return math.Sqrt(variance) * 10000
}

// participationRate returns qty as a fraction of the bar's traded
// volume, capped at maxParticipation.
func participationRate(qty, barVolume decimal.Decimal, maxParticipation float64) float64 {
	if barVolume.IsZero() {
		return maxParticipation
	}
	q, _ := qty.Float64()
	v, _ := barVolume.Float64()
	if v <= 0 {
		return maxParticipation
	}
	p := q / v
	if maxParticipation > 0 && p > maxParticipation {
		p = maxParticipation
	}
	return p
}
