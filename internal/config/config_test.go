package config

import (
	"os"
	"path/filepath"
	"testing"
)

func floatPtr(v float64) *float64 { return &v }

func validConfig() Config {
	c := Config{
		StrategyID:         "ma-cross",
		InitialBalance:     10000,
		TakerFeePercentage: floatPtr(0.04),
		MakerFeePercentage: floatPtr(0.02),
		Symbols: []SymbolConfig{
			{Name: "BTCUSDT", TradingBarsPath: "bars.csv", SymbolInfoPath: "sym.json", SlippageKind: SlippagePercentage},
		},
		Output: OutputConfig{TradesPath: "trades.jsonl", ConfigPath: "config.json"},
	}
	c.applyDefaults()
	return c
}

func TestValidateAcceptsValidConfig(t *testing.T) {
	c := validConfig()
	if err := c.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	c := Config{}
	err := c.Validate()
	if err == nil {
		t.Fatal("expected validation error for empty config")
	}
}

func TestApplyDefaults(t *testing.T) {
	c := validConfig()
	if c.AfterChainCap != 1024 {
		t.Errorf("AfterChainCap default = %d, want 1024", c.AfterChainCap)
	}
	if c.Symbols[0].Leverage != 1 {
		t.Errorf("Leverage default = %d, want 1", c.Symbols[0].Leverage)
	}
	limitMaxQty, limitMinQty, marketMaxQty, marketMinQty, minNotionalValue := c.Guards()
	if !limitMaxQty || !limitMinQty || !marketMaxQty || !marketMinQty || !minNotionalValue {
		t.Errorf("quantity guards should all default to enabled, got %v %v %v %v %v",
			limitMaxQty, limitMinQty, marketMaxQty, marketMinQty, minNotionalValue)
	}
	if c.CheckSameBarData == nil || !c.CheckSameBarData.Trading || !c.CheckSameBarData.Magnifier ||
		!c.CheckSameBarData.Reference || !c.CheckSameBarData.MarkPrice {
		t.Errorf("check_same_bar_data should default to all streams enabled, got %+v", c.CheckSameBarData)
	}
	if c.CheckSameBarDataWithTarget == nil || !*c.CheckSameBarDataWithTarget {
		t.Error("check_same_bar_data_with_target should default to enabled")
	}
}

func TestValidateRequiresFeePercentages(t *testing.T) {
	c := validConfig()
	c.TakerFeePercentage = nil
	if err := c.Validate(); err == nil {
		t.Fatal("expected validation error when taker_fee_percentage is unset")
	}
	c = validConfig()
	c.MakerFeePercentage = nil
	if err := c.Validate(); err == nil {
		t.Fatal("expected validation error when maker_fee_percentage is unset")
	}
}

func TestValidateRequiresMagnifierPathWhenEnabled(t *testing.T) {
	c := validConfig()
	c.UseBarMagnifier = true
	if err := c.Validate(); err == nil {
		t.Fatal("expected validation error when use_bar_magnifier is true but no symbol has a magnifier_bars_path")
	}
	c.Symbols[0].MagnifierBarsPath = "mag.csv"
	if err := c.Validate(); err != nil {
		t.Fatalf("unexpected validation error once magnifier_bars_path is set: %v", err)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.yaml")
	body := `
strategy_id: ma-cross
initial_balance: 10000
taker_fee_percentage: 0.04
maker_fee_percentage: 0.02
symbols:
  - name: BTCUSDT
    trading_bars_path: bars.csv
    symbol_info_path: sym.json
    slippage_kind: percentage
output:
  trades_path: trades.jsonl
  config_snapshot_path: config.json
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.StrategyID != "ma-cross" {
		t.Errorf("StrategyID = %q, want ma-cross", c.StrategyID)
	}
	if len(c.Symbols) != 1 || c.Symbols[0].Name != "BTCUSDT" {
		t.Fatalf("unexpected symbols: %+v", c.Symbols)
	}
	if c.TakerFeePercentage == nil || *c.TakerFeePercentage != 0.04 {
		t.Errorf("TakerFeePercentage = %v, want 0.04", c.TakerFeePercentage)
	}
}
