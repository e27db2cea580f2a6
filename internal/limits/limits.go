// Package limits enforces per-operation amount ceilings on wallet
// operations. Ceilings are configured per currency, with an optional
// default applied to currencies without an explicit entry.
package limits

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/fxwallet/wallet-engine/internal/model"
)

// ErrOperationLimitExceeded is returned when a single operation's amount
// exceeds the configured ceiling for its currency.
var ErrOperationLimitExceeded = errors.New("limits: operation amount exceeds ceiling")

// OperationLimiter bounds the amount any single fund or conversion may
// move in one currency. A zero ceiling means unlimited.
type OperationLimiter struct {
	// PerCurrency maps a currency to its single-operation ceiling.
	PerCurrency map[model.Currency]decimal.Decimal

	// Default is the ceiling for currencies without a PerCurrency entry.
	// Zero disables the default ceiling.
	Default decimal.Decimal
}

// NewOperationLimiter creates a limiter with the given default ceiling and
// optional per-currency overrides.
func NewOperationLimiter(defaultCeiling decimal.Decimal, perCurrency map[model.Currency]decimal.Decimal) *OperationLimiter {
	return &OperationLimiter{
		PerCurrency: perCurrency,
		Default:     defaultCeiling,
	}
}

// Check validates that a single operation of the given amount is within
// the ceiling for its currency. A nil limiter allows everything.
func (l *OperationLimiter) Check(currency model.Currency, amount decimal.Decimal) error {
	if l == nil {
		return nil
	}
	ceiling := l.Default
	if c, ok := l.PerCurrency[currency]; ok {
		ceiling = c
	}
	if ceiling.IsZero() {
		return nil
	}
	if amount.GreaterThan(ceiling) {
		return ErrOperationLimitExceeded
	}
	return nil
}
