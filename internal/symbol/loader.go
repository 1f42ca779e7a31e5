package symbol

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
)

// fileBracket/fileInfo mirror Info/LeverageBracket with string-encoded
// decimals, matching how the teacher's libs/dataset registry keeps its
// on-disk schema textual rather than binary.
type fileBracket struct {
	MinNotional           string `json:"min_notional"`
	MaxNotional           string `json:"max_notional"`
	MaxLeverage           int    `json:"max_leverage"`
	MaintenanceMarginRate string `json:"maintenance_margin_rate"`
	MaintenanceAmount     string `json:"maintenance_amount"`
}

type fileInfo struct {
	Name             string        `json:"name"`
	TickSize         string        `json:"tick_size"`
	QtyStep          string        `json:"qty_step"`
	LimitMaxQty      string        `json:"limit_max_qty"`
	LimitMinQty      string        `json:"limit_min_qty"`
	MarketMaxQty     string        `json:"market_max_qty"`
	MarketMinQty     string        `json:"market_min_qty"`
	MinNotional      string        `json:"min_notional"`
	MaxMultiplier    string        `json:"max_multiplier"`
	MinMultiplier    string        `json:"min_multiplier"`
	LiquidationFee   string        `json:"liquidation_fee"`
	LeverageBrackets []fileBracket `json:"leverage_brackets"`
}

// LoadInfo reads a symbol's static metadata from a JSON file on disk.
func LoadInfo(path string) (Info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Info{}, fmt.Errorf("symbol: reading %s: %w", path, err)
	}
	var fi fileInfo
	if err := json.Unmarshal(data, &fi); err != nil {
		return Info{}, fmt.Errorf("symbol: decoding %s: %w", path, err)
	}

	dec := func(s string) (decimal.Decimal, error) {
		if s == "" {
			return decimal.Zero, nil
		}
		return decimal.NewFromString(s)
	}

	info := Info{Name: fi.Name}
	var derr error
	assign := func(dst *decimal.Decimal, s string) {
		if derr != nil {
			return
		}
		*dst, derr = dec(s)
	}
	assign(&info.TickSize, fi.TickSize)
	assign(&info.QtyStep, fi.QtyStep)
	assign(&info.LimitMaxQty, fi.LimitMaxQty)
	assign(&info.LimitMinQty, fi.LimitMinQty)
	assign(&info.MarketMaxQty, fi.MarketMaxQty)
	assign(&info.MarketMinQty, fi.MarketMinQty)
	assign(&info.MinNotional, fi.MinNotional)
	assign(&info.MaxMultiplier, fi.MaxMultiplier)
	assign(&info.MinMultiplier, fi.MinMultiplier)
	assign(&info.LiquidationFee, fi.LiquidationFee)
	if derr != nil {
		return Info{}, fmt.Errorf("symbol: parsing %s: %w", path, derr)
	}

	for i, fb := range fi.LeverageBrackets {
		minN, err := dec(fb.MinNotional)
		if err != nil {
			return Info{}, fmt.Errorf("symbol: bracket %d min_notional: %w", i, err)
		}
		maxN, err := dec(fb.MaxNotional)
		if err != nil {
			return Info{}, fmt.Errorf("symbol: bracket %d max_notional: %w", i, err)
		}
		mmr, err := dec(fb.MaintenanceMarginRate)
		if err != nil {
			return Info{}, fmt.Errorf("symbol: bracket %d maintenance_margin_rate: %w", i, err)
		}
		ma, err := dec(fb.MaintenanceAmount)
		if err != nil {
			return Info{}, fmt.Errorf("symbol: bracket %d maintenance_amount: %w", i, err)
		}
		info.LeverageBrackets = append(info.LeverageBrackets, LeverageBracket{
			MinNotional:           minN,
			MaxNotional:           maxN,
			MaxLeverage:           fb.MaxLeverage,
			MaintenanceMarginRate: mmr,
			MaintenanceAmount:     ma,
		})
	}

	if err := info.Validate(); err != nil {
		return Info{}, err
	}
	return info, nil
}
