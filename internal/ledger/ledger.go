// Package ledger tracks account-level wallet balance, margin usage, and
// realized PnL across the life of a backtest run.
package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Ledger is the account's single source of truth for balance and margin.
// It has no knowledge of individual orders; internal/order and
// internal/matching call into it to reserve/release margin and to apply
// realized PnL, fees, and funding.
type Ledger struct {
	wallet      decimal.Decimal // cash balance excluding unrealized PnL
	usedMargin  decimal.Decimal
	peakEquity  decimal.Decimal
	realizedPnL decimal.Decimal
	feesPaid    decimal.Decimal
	fundingPaid decimal.Decimal
}

// New creates a ledger seeded with the given starting balance.
func New(initialBalance decimal.Decimal) *Ledger {
	return &Ledger{wallet: initialBalance, peakEquity: initialBalance}
}

// WalletBalance returns cash balance excluding unrealized PnL.
func (l *Ledger) WalletBalance() decimal.Decimal { return l.wallet }

// UsedMargin returns margin currently reserved against open positions.
func (l *Ledger) UsedMargin() decimal.Decimal { return l.usedMargin }

// AvailableBalance returns wallet balance not currently reserved as margin.
func (l *Ledger) AvailableBalance() decimal.Decimal {
	return l.wallet.Sub(l.usedMargin)
}

// Equity returns wallet balance plus unrealized PnL on open positions,
// as supplied by the caller (the ledger itself holds no position state).
func (l *Ledger) Equity(unrealizedPnL decimal.Decimal) decimal.Decimal {
	eq := l.wallet.Add(unrealizedPnL)
	if eq.GreaterThan(l.peakEquity) {
		l.peakEquity = eq
	}
	return eq
}

// Drawdown returns the fractional decline of the given equity from the
// high-water mark observed so far via Equity. Returns zero if no
// high-water mark has been recorded yet or it is non-positive.
func (l *Ledger) Drawdown(currentEquity decimal.Decimal) decimal.Decimal {
	if l.peakEquity.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	if currentEquity.GreaterThanOrEqual(l.peakEquity) {
		return decimal.Zero
	}
	return l.peakEquity.Sub(currentEquity).Div(l.peakEquity)
}

// ReserveMargin reserves additional margin against the wallet, failing if
// it would exceed the available balance. Returns InsufficientBalance
// error per the spec's error-handling table.
func (l *Ledger) ReserveMargin(amount decimal.Decimal) error {
	if amount.LessThan(decimal.Zero) {
		return fmt.Errorf("ledger: cannot reserve negative margin %s", amount)
	}
	if amount.GreaterThan(l.AvailableBalance()) {
		return &InsufficientBalanceError{Requested: amount, Available: l.AvailableBalance()}
	}
	l.usedMargin = l.usedMargin.Add(amount)
	return nil
}

// ReleaseMargin frees previously reserved margin, clamping at zero so a
// rounding-error release never drives usedMargin negative.
func (l *Ledger) ReleaseMargin(amount decimal.Decimal) {
	l.usedMargin = l.usedMargin.Sub(amount)
	if l.usedMargin.LessThan(decimal.Zero) {
		l.usedMargin = decimal.Zero
	}
}

// ApplyRealizedPnL credits/debits the wallet with a closed trade's PnL.
func (l *Ledger) ApplyRealizedPnL(pnl decimal.Decimal) {
	l.wallet = l.wallet.Add(pnl)
	l.realizedPnL = l.realizedPnL.Add(pnl)
}

// ApplyFee debits a commission/fee from the wallet.
func (l *Ledger) ApplyFee(fee decimal.Decimal) {
	l.wallet = l.wallet.Sub(fee)
	l.feesPaid = l.feesPaid.Add(fee)
}

// ApplyFunding applies a funding payment; positive cost debits the
// wallet (position pays funding), negative cost credits it (position
// receives funding).
func (l *Ledger) ApplyFunding(cost decimal.Decimal) {
	l.wallet = l.wallet.Sub(cost)
	l.fundingPaid = l.fundingPaid.Add(cost)
}

// RealizedPnL returns cumulative realized PnL across the run.
func (l *Ledger) RealizedPnL() decimal.Decimal { return l.realizedPnL }

// FeesPaid returns cumulative fees paid across the run.
func (l *Ledger) FeesPaid() decimal.Decimal { return l.feesPaid }

// FundingPaid returns cumulative net funding paid (positive) or received
// (negative) across the run.
func (l *Ledger) FundingPaid() decimal.Decimal { return l.fundingPaid }

// IsBankrupt reports whether the wallet balance has fallen to or below
// zero, the condition that ends a backtest run per the spec's bankruptcy
// exit mode.
func (l *Ledger) IsBankrupt() bool {
	return l.wallet.LessThanOrEqual(decimal.Zero)
}

// InsufficientBalanceError is returned when an order or margin
// reservation would exceed the account's available balance.
type InsufficientBalanceError struct {
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: requested %s, available %s", e.Requested, e.Available)
}
