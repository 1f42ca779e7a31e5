// Package config loads and validates a backtest run's configuration.
// Adapted from the teacher's internal/infra/config.JaxCoreConfig (JSON +
// DisallowUnknownFields + post-load defaulting) and libs/risk/policy.go's
// validate() accumulation style.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// SlippageKind selects which slippage.Model variant a symbol uses.
type SlippageKind string

const (
	SlippagePercentage   SlippageKind = "percentage"
	SlippageMarketImpact SlippageKind = "market_impact"
)

// SymbolConfig is one symbol's per-run configuration: which data files
// feed its streams and which slippage model applies to it. Commission is
// not configured per symbol — spec §6's taker_fee_percentage/
// maker_fee_percentage are run-global, see Config.
type SymbolConfig struct {
	Name              string       `json:"name" yaml:"name"`
	TradingBarsPath   string       `json:"trading_bars_path" yaml:"trading_bars_path"`
	MagnifierBarsPath string       `json:"magnifier_bars_path,omitempty" yaml:"magnifier_bars_path,omitempty"`
	ReferenceBarsPath string       `json:"reference_bars_path,omitempty" yaml:"reference_bars_path,omitempty"`
	MarkPriceBarsPath string       `json:"mark_price_bars_path,omitempty" yaml:"mark_price_bars_path,omitempty"`
	FundingPath       string       `json:"funding_path,omitempty" yaml:"funding_path,omitempty"`
	SymbolInfoPath    string       `json:"symbol_info_path" yaml:"symbol_info_path"`
	Leverage          int          `json:"leverage" yaml:"leverage"`
	SlippageKind      SlippageKind `json:"slippage_kind" yaml:"slippage_kind"`
	SlippageRate      float64      `json:"slippage_rate,omitempty" yaml:"slippage_rate,omitempty"`         // percentage model
	ImpactBaseBps     float64      `json:"impact_base_bps,omitempty" yaml:"impact_base_bps,omitempty"`     // market impact model
	MaxParticipation  float64      `json:"max_participation,omitempty" yaml:"max_participation,omitempty"` // market impact model
	StressMultiplier  float64      `json:"stress_multiplier,omitempty" yaml:"stress_multiplier,omitempty"` // market impact model
}

// SameBarDataConfig gates the pre-run data-integrity check that catches a
// symbol's streams accidentally pointing at another symbol's source file:
// for each enabled stream kind, the run is rejected when two symbols'
// first bars of that kind share the same open price.
type SameBarDataConfig struct {
	Trading   bool `json:"trading" yaml:"trading"`
	Magnifier bool `json:"magnifier" yaml:"magnifier"`
	Reference bool `json:"reference" yaml:"reference"`
	MarkPrice bool `json:"mark_price" yaml:"mark_price"`
}

// RiskPolicyConfig optionally enables the portfolio-level pre-trade gate.
type RiskPolicyConfig struct {
	Enabled          bool    `json:"enabled" yaml:"enabled"`
	MaxLeverage      int     `json:"max_leverage,omitempty" yaml:"max_leverage,omitempty"`
	MaxOpenPositions int     `json:"max_open_positions,omitempty" yaml:"max_open_positions,omitempty"`
	DrawdownHaltFrac float64 `json:"drawdown_halt_fraction,omitempty" yaml:"drawdown_halt_fraction,omitempty"`
}

// OutputConfig selects where artifacts are written.
type OutputConfig struct {
	TradesPath  string `json:"trades_path" yaml:"trades_path"`
	ConfigPath  string `json:"config_snapshot_path" yaml:"config_snapshot_path"`
	PostgresDSN string `json:"postgres_dsn,omitempty" yaml:"postgres_dsn,omitempty"`
}

// Config is the complete run configuration.
type Config struct {
	StrategyID     string           `json:"strategy_id" yaml:"strategy_id"`
	InitialBalance float64          `json:"initial_balance" yaml:"initial_balance"`
	BacktestStart  *time.Time       `json:"backtest_start,omitempty" yaml:"backtest_start,omitempty"`
	BacktestEnd    *time.Time       `json:"backtest_end,omitempty" yaml:"backtest_end,omitempty"`
	Symbols        []SymbolConfig   `json:"symbols" yaml:"symbols"`
	AfterChainCap  int              `json:"after_chain_cap,omitempty" yaml:"after_chain_cap,omitempty"`
	RiskPolicy     RiskPolicyConfig `json:"risk_policy,omitempty" yaml:"risk_policy,omitempty"`
	Output         OutputConfig     `json:"output" yaml:"output"`
	Seed           int64            `json:"seed,omitempty" yaml:"seed,omitempty"`

	// TakerFeePercentage and MakerFeePercentage are the run's global
	// commission rates, expressed as a percentage (0.04 means 0.04%).
	// Both are mandatory and nil-by-default (mirroring the reference
	// engine's NaN default) so a run that never sets them fails to start
	// instead of silently trading for free; Validate enforces this.
	TakerFeePercentage *float64 `json:"taker_fee_percentage" yaml:"taker_fee_percentage"`
	MakerFeePercentage *float64 `json:"maker_fee_percentage" yaml:"maker_fee_percentage"`

	// UseBarMagnifier, when true, requires every symbol to configure a
	// magnifier_bars_path; Validate enforces this per spec §6.
	UseBarMagnifier bool `json:"use_bar_magnifier" yaml:"use_bar_magnifier"`

	// Quantity/notional guards, all enabled by default. Each gates one
	// of matching.Guards' checks; disabling one lets orders that violate
	// the corresponding symbol.Info limit still fill instead of being
	// cancelled.
	CheckLimitMaxQty      *bool `json:"check_limit_max_qty,omitempty" yaml:"check_limit_max_qty,omitempty"`
	CheckLimitMinQty      *bool `json:"check_limit_min_qty,omitempty" yaml:"check_limit_min_qty,omitempty"`
	CheckMarketMaxQty     *bool `json:"check_market_max_qty,omitempty" yaml:"check_market_max_qty,omitempty"`
	CheckMarketMinQty     *bool `json:"check_market_min_qty,omitempty" yaml:"check_market_min_qty,omitempty"`
	CheckMinNotionalValue *bool `json:"check_min_notional_value,omitempty" yaml:"check_min_notional_value,omitempty"`

	// CheckSameBarData, per stream kind, detects a likely duplicate-data
	// mis-assignment: two symbols whose that-stream first bar has the
	// same open price almost certainly point at the same underlying
	// file by mistake. CheckSameBarDataWithTarget additionally compares,
	// per symbol, the Mark-Price stream's last bar OHLC against its fill
	// target (Magnifier if configured, else Trading) — identical OHLC
	// there means the operator likely never pointed mark_price_bars_path
	// at a distinct file. Both default to fully enabled.
	CheckSameBarData           *SameBarDataConfig `json:"check_same_bar_data,omitempty" yaml:"check_same_bar_data,omitempty"`
	CheckSameBarDataWithTarget *bool              `json:"check_same_bar_data_with_target,omitempty" yaml:"check_same_bar_data_with_target,omitempty"`
}

func boolDefault(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// Guards resolves the five quantity/notional check flags after
// applyDefaults has run (Load always calls it; callers constructing a
// Config by hand should call applyDefaults first).
func (c Config) Guards() (limitMaxQty, limitMinQty, marketMaxQty, marketMinQty, minNotionalValue bool) {
	return boolDefault(c.CheckLimitMaxQty, true),
		boolDefault(c.CheckLimitMinQty, true),
		boolDefault(c.CheckMarketMaxQty, true),
		boolDefault(c.CheckMarketMinQty, true),
		boolDefault(c.CheckMinNotionalValue, true)
}

// Load reads a run's config file, dispatching on extension between JSON
// (.json) and YAML (.yaml/.yml — the format the teacher's own deployment
// manifests use). JSON decoding rejects unknown fields so a typo in an
// operator's config fails loudly rather than silently defaulting; the
// yaml.v3 decoder has no equivalent strict mode; see DESIGN.md for why
// that asymmetry is accepted rather than hand-rolled.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var c Config
	switch ext := strings.ToLower(filepathExt(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &c); err != nil {
			return Config{}, fmt.Errorf("config: decoding %s: %w", path, err)
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&c); err != nil {
			return Config{}, fmt.Errorf("config: decoding %s: %w", path, err)
		}
	}

	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func filepathExt(path string) string {
	i := strings.LastIndexByte(path, '.')
	if i < 0 {
		return ""
	}
	return path[i:]
}

func (c *Config) applyDefaults() {
	if c.AfterChainCap == 0 {
		c.AfterChainCap = 1024
	}
	for i := range c.Symbols {
		if c.Symbols[i].Leverage == 0 {
			c.Symbols[i].Leverage = 1
		}
		if c.Symbols[i].SlippageKind == "" {
			c.Symbols[i].SlippageKind = SlippagePercentage
		}
	}
	trueVal := true
	if c.CheckLimitMaxQty == nil {
		c.CheckLimitMaxQty = &trueVal
	}
	if c.CheckLimitMinQty == nil {
		c.CheckLimitMinQty = &trueVal
	}
	if c.CheckMarketMaxQty == nil {
		c.CheckMarketMaxQty = &trueVal
	}
	if c.CheckMarketMinQty == nil {
		c.CheckMarketMinQty = &trueVal
	}
	if c.CheckMinNotionalValue == nil {
		c.CheckMinNotionalValue = &trueVal
	}
	if c.CheckSameBarDataWithTarget == nil {
		c.CheckSameBarDataWithTarget = &trueVal
	}
	if c.CheckSameBarData == nil {
		c.CheckSameBarData = &SameBarDataConfig{Trading: true, Magnifier: true, Reference: true, MarkPrice: true}
	}
}

// Validate returns every configuration error found, joined into one
// error, matching the teacher's risk.Policy.validate() convention of
// reporting every violation rather than failing on the first.
func (c Config) Validate() error {
	var errs []string

	if c.StrategyID == "" {
		errs = append(errs, "strategy_id is required")
	}
	if c.InitialBalance <= 0 {
		errs = append(errs, "initial_balance must be positive")
	}
	if c.TakerFeePercentage == nil {
		errs = append(errs, "taker_fee_percentage is required")
	}
	if c.MakerFeePercentage == nil {
		errs = append(errs, "maker_fee_percentage is required")
	}
	if len(c.Symbols) == 0 {
		errs = append(errs, "at least one symbol is required")
	}
	if c.BacktestStart != nil && c.BacktestEnd != nil && !c.BacktestStart.Before(*c.BacktestEnd) {
		errs = append(errs, "backtest_start must be before backtest_end")
	}
	for _, s := range c.Symbols {
		prefix := fmt.Sprintf("symbol %q", s.Name)
		if s.Name == "" {
			errs = append(errs, "a symbol entry has an empty name")
			continue
		}
		if s.TradingBarsPath == "" {
			errs = append(errs, prefix+": trading_bars_path is required")
		}
		if s.SymbolInfoPath == "" {
			errs = append(errs, prefix+": symbol_info_path is required")
		}
		if s.Leverage < 0 {
			errs = append(errs, prefix+": leverage must be >= 0")
		}
		if c.UseBarMagnifier && s.MagnifierBarsPath == "" {
			errs = append(errs, prefix+": magnifier_bars_path is required when use_bar_magnifier is true")
		}
		switch s.SlippageKind {
		case SlippagePercentage, SlippageMarketImpact:
		default:
			errs = append(errs, prefix+": slippage_kind must be percentage or market_impact")
		}
	}
	if c.RiskPolicy.Enabled {
		if c.RiskPolicy.DrawdownHaltFrac < 0 || c.RiskPolicy.DrawdownHaltFrac >= 1 {
			errs = append(errs, "risk_policy.drawdown_halt_fraction must be in [0, 1)")
		}
	}
	if c.Output.TradesPath == "" {
		errs = append(errs, "output.trades_path is required")
	}
	if c.Output.ConfigPath == "" {
		errs = append(errs, "output.config_snapshot_path is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: invalid configuration: %v", errs)
	}
	return nil
}

// AsMap converts the config into the generic map the artifact package
// hashes into a config snapshot.
func (c Config) AsMap() map[string]interface{} {
	b, _ := json.Marshal(c)
	var m map[string]interface{}
	_ = json.Unmarshal(b, &m)
	return m
}
