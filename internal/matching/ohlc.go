package matching

import (
	"github.com/shopspring/decimal"

	"github.com/jax-quant/backtest/internal/bar"
)

// PointKind identifies which of a bar's four canonical prices a walk
// point represents.
type PointKind int

const (
	PointOpen PointKind = iota
	PointHigh
	PointLow
	PointClose
)

func (k PointKind) String() string {
	switch k {
	case PointOpen:
		return "open"
	case PointHigh:
		return "high"
	case PointLow:
		return "low"
	case PointClose:
		return "close"
	default:
		return "unknown"
	}
}

// Point is one stop along a bar's intra-bar price walk.
type Point struct {
	Kind  PointKind
	Price decimal.Decimal
}

// ExpandOHLC reconstructs a plausible intra-bar price path from a bar's
// four summary prices: Open, then whichever of High/Low the Open is
// closer to (the "wedge" side, reached first), then the other extreme,
// then Close. This ordering is the conventional OHLC-expansion heuristic
// used to avoid systematically understating or overstating intra-bar
// drawdown/run-up, and determines fill order for orders whose trigger
// price lies between the bar's open and either extreme.
func ExpandOHLC(b bar.Bar) []Point {
	open, high, low, close := b.Open, b.High, b.Low, b.Close

	distToHigh := high.Sub(open).Abs()
	distToLow := open.Sub(low).Abs()

	pts := make([]Point, 0, 4)
	pts = append(pts, Point{PointOpen, open})
	if distToHigh.LessThanOrEqual(distToLow) {
		pts = append(pts, Point{PointHigh, high}, Point{PointLow, low})
	} else {
		pts = append(pts, Point{PointLow, low}, Point{PointHigh, high})
	}
	pts = append(pts, Point{PointClose, close})
	return pts
}

// Segments returns the consecutive (from, to) price ranges the walk
// passes through; matching logic treats "did this order's trigger price
// fall within this segment" as the fill test rather than comparing
// against a single point; this catches triggers even when two
// consecutive canonical prices straddle it without either prices'
// exact value being equal to the trigger.
type Segment struct {
	From, To Point
}

func Segments(pts []Point) []Segment {
	segs := make([]Segment, 0, len(pts)-1)
	for i := 0; i+1 < len(pts); i++ {
		segs = append(segs, Segment{From: pts[i], To: pts[i+1]})
	}
	return segs
}

// Crosses reports whether a segment's price range includes trigger,
// inclusive of both endpoints, regardless of the segment's direction.
func (s Segment) Crosses(trigger decimal.Decimal) bool {
	lo, hi := s.From.Price, s.To.Price
	if lo.GreaterThan(hi) {
		lo, hi = hi, lo
	}
	return trigger.GreaterThanOrEqual(lo) && trigger.LessThanOrEqual(hi)
}

// Rising reports whether the segment's price moves upward (To > From).
func (s Segment) Rising() bool {
	return s.To.Price.GreaterThan(s.From.Price)
}
