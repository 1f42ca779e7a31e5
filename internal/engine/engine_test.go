package engine

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jax-quant/backtest/internal/bar"
	"github.com/jax-quant/backtest/internal/config"
	"github.com/jax-quant/backtest/internal/timeframe"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func mkBar(t int64, open, high, low, close string) bar.Bar {
	return bar.Bar{Time: time.Unix(t, 0), Open: d(open), High: d(high), Low: d(low), Close: d(close), Volume: d("1")}
}

func TestValidateSameBarDataDetectsDuplicateFirstOpen(t *testing.T) {
	store := bar.New()
	tf := timeframe.MustParse("1m")
	store.AddSeries("BTCUSDT", bar.Trading, tf, []bar.Bar{mkBar(0, "100", "101", "99", "100.5")})
	store.AddSeries("ETHUSDT", bar.Trading, tf, []bar.Bar{mkBar(0, "100", "101", "99", "100.5")})

	cfg := config.Config{
		Symbols: []config.SymbolConfig{{Name: "BTCUSDT"}, {Name: "ETHUSDT"}},
		CheckSameBarData: &config.SameBarDataConfig{
			Trading: true,
		},
	}

	if err := validateSameBarData(store, cfg); err == nil {
		t.Fatal("expected an error when two symbols share a first-bar open price on the same stream")
	}
}

func TestValidateSameBarDataAllowsDistinctData(t *testing.T) {
	store := bar.New()
	tf := timeframe.MustParse("1m")
	store.AddSeries("BTCUSDT", bar.Trading, tf, []bar.Bar{mkBar(0, "100", "101", "99", "100.5")})
	store.AddSeries("ETHUSDT", bar.Trading, tf, []bar.Bar{mkBar(0, "3000", "3010", "2990", "3005")})

	cfg := config.Config{
		Symbols: []config.SymbolConfig{{Name: "BTCUSDT"}, {Name: "ETHUSDT"}},
		CheckSameBarData: &config.SameBarDataConfig{
			Trading: true,
		},
	}

	if err := validateSameBarData(store, cfg); err != nil {
		t.Fatalf("unexpected error for distinct symbol data: %v", err)
	}
}

func TestValidateSameBarDataWithTargetDetectsDuplicateMarkPrice(t *testing.T) {
	store := bar.New()
	tf := timeframe.MustParse("1m")
	tradingBars := []bar.Bar{mkBar(0, "100", "101", "99", "100.5"), mkBar(60, "100.5", "103", "100", "102")}
	store.AddSeries("BTCUSDT", bar.Trading, tf, tradingBars)
	store.AddSeries("BTCUSDT", bar.MarkPrice, tf, tradingBars) // mistakenly duplicates trading

	withTarget := true
	cfg := config.Config{
		Symbols:                    []config.SymbolConfig{{Name: "BTCUSDT"}},
		CheckSameBarDataWithTarget: &withTarget,
	}

	if err := validateSameBarData(store, cfg); err == nil {
		t.Fatal("expected an error when mark_price duplicates the fill target stream's last bar")
	}
}

func TestValidateSameBarDataWithTargetAllowsDistinctMarkPrice(t *testing.T) {
	store := bar.New()
	tf := timeframe.MustParse("1m")
	store.AddSeries("BTCUSDT", bar.Trading, tf, []bar.Bar{mkBar(0, "100", "101", "99", "100.5")})
	store.AddSeries("BTCUSDT", bar.MarkPrice, tf, []bar.Bar{mkBar(0, "100.1", "101.1", "99.1", "100.6")})

	withTarget := true
	cfg := config.Config{
		Symbols:                    []config.SymbolConfig{{Name: "BTCUSDT"}},
		CheckSameBarDataWithTarget: &withTarget,
	}

	if err := validateSameBarData(store, cfg); err != nil {
		t.Fatalf("unexpected error for a distinct mark_price series: %v", err)
	}
}
