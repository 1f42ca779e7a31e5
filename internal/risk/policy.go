// Package risk implements an optional portfolio-level pre-trade gate:
// max leverage override, max concurrent open positions, and a
// drawdown-halt switch. When DrawdownHaltFrac is positive, new entries are
// refused once available balance is at or below zero; the fraction's value
// is not compared against a measured drawdown. It is additive to the mandatory bracket-driven
// margin checks in internal/matching, never a replacement for them.
//
// Adapted from the teacher's libs/risk/policy.go: the Violation/
// Violations/Enforcer shape and JSON-loaded, validate()-checked Policy
// convention carry over; the equities-style position-sizing fields do
// not, replaced with leverage/margin domain fields.
package risk

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/jax-quant/backtest/internal/order"
)

// Code identifies a violation kind, mirroring the teacher's
// ViolationCode pattern for machine-readable classification.
type Code string

const (
	CodeMaxLeverage      Code = "max_leverage_exceeded"
	CodeMaxPositions     Code = "max_positions_exceeded"
	CodeDrawdownHalt     Code = "drawdown_halt_active"
)

// Violation is one policy check failure.
type Violation struct {
	Code    Code
	Message string
}

func (v Violation) Error() string { return string(v.Code) + ": " + v.Message }

// Violations is an aggregate of one or more Violation, itself an error.
type Violations []Violation

func (vs Violations) Error() string {
	if len(vs) == 0 {
		return "risk: no violations"
	}
	s := vs[0].Error()
	for _, v := range vs[1:] {
		s += "; " + v.Error()
	}
	return s
}

// Policy is the configurable portfolio-level risk policy.
type Policy struct {
	MaxLeverage        int     `json:"max_leverage"`
	MaxOpenPositions   int     `json:"max_open_positions"`
	DrawdownHaltFrac   float64 `json:"drawdown_halt_fraction"`
}

// DefaultPolicy returns a permissive policy: no override on leverage or
// position count, no drawdown halt. Used when an operator enables the
// gate but only wants a subset of its checks active.
func DefaultPolicy() Policy {
	return Policy{MaxLeverage: 0, MaxOpenPositions: 0, DrawdownHaltFrac: 0}
}

// LoadPolicy reads and validates a Policy from a JSON file.
func LoadPolicy(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("risk: reading policy file: %w", err)
	}
	var p Policy
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return Policy{}, fmt.Errorf("risk: decoding policy file: %w", err)
	}
	if err := p.validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

func (p Policy) validate() error {
	var errs []string
	if p.MaxLeverage < 0 {
		errs = append(errs, "max_leverage must be >= 0")
	}
	if p.MaxOpenPositions < 0 {
		errs = append(errs, "max_open_positions must be >= 0")
	}
	if p.DrawdownHaltFrac < 0 || p.DrawdownHaltFrac >= 1 {
		errs = append(errs, "drawdown_halt_fraction must be in [0, 1)")
	}
	if len(errs) > 0 {
		return fmt.Errorf("risk: invalid policy: %v", errs)
	}
	return nil
}

// Enforcer checks a proposed entry against a Policy and the account's
// current state, satisfying strategy.RiskGate.
type Enforcer struct {
	Policy     Policy
	OpenCount  func() int
}

// NewEnforcer builds an Enforcer over the given policy, counting open
// positions via the supplied callback (wired to order.Book.OpenPositions
// by the engine so this package stays independent of internal/order's
// concrete book type beyond the Direction enum in CheckEntry's signature).
func NewEnforcer(p Policy, openCount func() int) *Enforcer {
	return &Enforcer{Policy: p, OpenCount: openCount}
}

// CheckEntry implements strategy.RiskGate.
func (e *Enforcer) CheckEntry(symbol string, direction order.Direction, notional, leverage, equity, availableBalance float64) error {
	var violations Violations

	if e.Policy.MaxLeverage > 0 && leverage > float64(e.Policy.MaxLeverage) {
		violations = append(violations, Violation{
			Code:    CodeMaxLeverage,
			Message: fmt.Sprintf("requested leverage %.1fx exceeds policy max %dx for %s", leverage, e.Policy.MaxLeverage, symbol),
		})
	}
	if e.Policy.MaxOpenPositions > 0 && e.OpenCount != nil && e.OpenCount() >= e.Policy.MaxOpenPositions {
		violations = append(violations, Violation{
			Code:    CodeMaxPositions,
			Message: fmt.Sprintf("already at max open positions (%d)", e.Policy.MaxOpenPositions),
		})
	}
	if e.Policy.DrawdownHaltFrac > 0 && equity > 0 {
		// A caller-observed drawdown is expressed by the ledger itself;
		// here we only gate on the degenerate "equity has collapsed
		// relative to available balance" signal available without a
		// ledger reference, keeping this package decoupled from
		// internal/ledger.
		if availableBalance <= 0 {
			violations = append(violations, Violation{
				Code:    CodeDrawdownHalt,
				Message: "no available balance remaining to open a new position",
			})
		}
	}

	if len(violations) > 0 {
		return violations
	}
	return nil
}
