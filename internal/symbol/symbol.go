// Package symbol holds static per-instrument metadata: tick/qty rounding,
// order-size bounds, and the leverage-bracket table used to price
// liquidation and maintenance margin.
package symbol

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// LeverageBracket is one tier of a symbol's leverage/maintenance-margin
// schedule, keyed by notional position value. Mirrors the exchange-style
// bracket table used throughout perpetual-futures margin calculations.
type LeverageBracket struct {
	MinNotional          decimal.Decimal
	MaxNotional          decimal.Decimal
	MaxLeverage          int
	MaintenanceMarginRate decimal.Decimal
	MaintenanceAmount     decimal.Decimal
}

// contains reports whether a notional value falls in this bracket.
func (b LeverageBracket) contains(notional decimal.Decimal) bool {
	return notional.GreaterThanOrEqual(b.MinNotional) && notional.LessThan(b.MaxNotional)
}

// Info is the static specification of one tradable symbol.
type Info struct {
	Name             string
	TickSize         decimal.Decimal
	QtyStep          decimal.Decimal
	LimitMaxQty      decimal.Decimal
	LimitMinQty      decimal.Decimal
	MarketMaxQty     decimal.Decimal
	MarketMinQty     decimal.Decimal
	MinNotional      decimal.Decimal
	MaxMultiplier    decimal.Decimal // limit/market order price bound vs reference price
	MinMultiplier    decimal.Decimal
	LiquidationFee   decimal.Decimal // flat rate applied to notional at forced liquidation
	LeverageBrackets []LeverageBracket
}

// Validate checks internal consistency of the symbol's static metadata.
func (s Info) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("symbol: empty name")
	}
	if s.TickSize.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("symbol %s: tick_size must be positive", s.Name)
	}
	if s.QtyStep.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("symbol %s: qty_step must be positive", s.Name)
	}
	if len(s.LeverageBrackets) == 0 {
		return fmt.Errorf("symbol %s: at least one leverage bracket required", s.Name)
	}
	sorted := append([]LeverageBracket(nil), s.LeverageBrackets...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].MinNotional.LessThan(sorted[j].MinNotional) })
	for i, b := range sorted {
		if b.MaxLeverage <= 0 {
			return fmt.Errorf("symbol %s: bracket %d has non-positive max leverage", s.Name, i)
		}
		if i > 0 && !sorted[i-1].MaxNotional.Equal(b.MinNotional) {
			return fmt.Errorf("symbol %s: leverage brackets must be contiguous", s.Name)
		}
	}
	return nil
}

// BracketFor returns the leverage bracket covering the given notional
// position value. If notional exceeds every bracket's range, the highest
// bracket is returned (brackets are expected to end in an open-ended top
// tier with a very large MaxNotional).
func (s Info) BracketFor(notional decimal.Decimal) (LeverageBracket, error) {
	notional = notional.Abs()
	for _, b := range s.LeverageBrackets {
		if b.contains(notional) {
			return b, nil
		}
	}
	if len(s.LeverageBrackets) == 0 {
		return LeverageBracket{}, fmt.Errorf("symbol %s: no leverage brackets configured", s.Name)
	}
	last := s.LeverageBrackets[len(s.LeverageBrackets)-1]
	if notional.GreaterThanOrEqual(last.MaxNotional) {
		return last, nil
	}
	return LeverageBracket{}, fmt.Errorf("symbol %s: notional %s not covered by any bracket", s.Name, notional)
}

// RoundPrice snaps a price onto the tick-size grid.
func (s Info) RoundPrice(price decimal.Decimal) decimal.Decimal {
	if s.TickSize.IsZero() {
		return price
	}
	return price.DivRound(s.TickSize, 0).Mul(s.TickSize)
}

// RoundQty snaps an order quantity onto the qty-step grid, flooring so a
// fill never requests more size than the strategy asked for.
func (s Info) RoundQty(qty decimal.Decimal) decimal.Decimal {
	if s.QtyStep.IsZero() {
		return qty
	}
	steps := qty.Div(s.QtyStep).Floor()
	return steps.Mul(s.QtyStep)
}

// LiquidationPrice computes the mark price at which a position is forced
// closed, using the bracket covering the position's entry notional.
//
//	liq = (margin + maintenanceAmount - entryPrice*signedSize) /
//	      (|size|*maintenanceMarginRate - signedSize)
//
// signedSize is positive for a long position and negative for a short.
func (s Info) LiquidationPrice(margin, entryPrice, signedSize decimal.Decimal) (decimal.Decimal, error) {
	size := signedSize.Abs()
	notional := size.Mul(entryPrice)
	bracket, err := s.BracketFor(notional)
	if err != nil {
		return decimal.Zero, err
	}
	numerator := margin.Add(bracket.MaintenanceAmount).Sub(entryPrice.Mul(signedSize))
	denominator := size.Mul(bracket.MaintenanceMarginRate).Sub(signedSize)
	if denominator.IsZero() {
		return decimal.Zero, fmt.Errorf("symbol %s: degenerate liquidation denominator for size %s", s.Name, signedSize)
	}
	return numerator.Div(denominator), nil
}
