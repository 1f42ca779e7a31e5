package matching

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jax-quant/backtest/internal/bar"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func mkBar(o, h, l, c float64) bar.Bar {
	return bar.Bar{
		Time:  time.Unix(0, 0),
		Open:  decimal.NewFromFloat(o),
		High:  decimal.NewFromFloat(h),
		Low:   decimal.NewFromFloat(l),
		Close: decimal.NewFromFloat(c),
	}
}

func TestExpandOHLCHighFirst(t *testing.T) {
	// open closer to high than low -> visits high before low
	b := mkBar(9, 10, 5, 7)
	pts := ExpandOHLC(b)
	if pts[1].Kind != PointHigh || pts[2].Kind != PointLow {
		t.Fatalf("expected High then Low, got %v %v", pts[1].Kind, pts[2].Kind)
	}
}

func TestExpandOHLCLowFirst(t *testing.T) {
	// open closer to low -> visits low before high
	b := mkBar(6, 10, 5, 7)
	pts := ExpandOHLC(b)
	if pts[1].Kind != PointLow || pts[2].Kind != PointHigh {
		t.Fatalf("expected Low then High, got %v %v", pts[1].Kind, pts[2].Kind)
	}
}

func TestSegmentsCrosses(t *testing.T) {
	b := mkBar(9, 10, 5, 7)
	pts := ExpandOHLC(b)
	segs := Segments(pts)
	found := false
	for _, s := range segs {
		if s.Crosses(d("8")) {
			found = true
		}
	}
	if !found {
		t.Fatal("price 8 should be crossed by some segment of a 5-10 range")
	}
}
