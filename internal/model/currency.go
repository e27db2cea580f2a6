package model

import "github.com/shopspring/decimal"

// Currency is an ISO 4217 code from the closed set the wallet supports.
// Adding a currency means extending this table, not touching the core.
type Currency string

const (
	USD Currency = "USD"
	EUR Currency = "EUR"
	GBP Currency = "GBP"
	NGN Currency = "NGN"
	GHS Currency = "GHS"
	KES Currency = "KES"
	ZAR Currency = "ZAR"
	JPY Currency = "JPY"
	CAD Currency = "CAD"
)

var supportedCurrencies = map[Currency]bool{
	USD: true, EUR: true, GBP: true,
	NGN: true, GHS: true, KES: true,
	ZAR: true, JPY: true, CAD: true,
}

// Valid reports whether c is one of the supported currency codes.
func (c Currency) Valid() bool {
	return supportedCurrencies[c]
}

func (c Currency) String() string {
	return string(c)
}

// ValidateAmount checks that a monetary amount is strictly positive and
// carries at most two fractional digits (the minimum representable unit
// is 0.01). Returns ErrInvalidAmount otherwise.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if !amount.Equal(amount.Truncate(2)) {
		return ErrInvalidAmount
	}
	return nil
}
