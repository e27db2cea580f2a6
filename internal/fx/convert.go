// Package fx resolves currency-pair exchange rates through a layered
// pipeline (cache → external provider → historical fallback) and performs
// fixed-point amount conversion.
//
// All rates and amounts use shopspring/decimal — never float64 for money.
package fx

import "github.com/shopspring/decimal"

const (
	// RateScale is the number of fractional digits carried by a rate.
	RateScale int32 = 6

	// AmountScale is the display precision of monetary amounts.
	AmountScale int32 = 2
)

// Convert multiplies an amount by a rate and rounds half-to-even to the
// currency's display precision.
func Convert(amount, rate decimal.Decimal) decimal.Decimal {
	return amount.Mul(rate).RoundBank(AmountScale)
}
