package limits

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/fxwallet/wallet-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestCheck_WithinDefaultCeiling(t *testing.T) {
	limiter := NewOperationLimiter(d(10000), nil)

	if err := limiter.Check(model.USD, d(9999.99)); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if err := limiter.Check(model.USD, d(10000)); err != nil {
		t.Errorf("amount equal to the ceiling is allowed, got %v", err)
	}
}

func TestCheck_DefaultCeilingExceeded(t *testing.T) {
	limiter := NewOperationLimiter(d(10000), nil)

	err := limiter.Check(model.USD, d(10000.01))
	if err != ErrOperationLimitExceeded {
		t.Errorf("expected ErrOperationLimitExceeded, got %v", err)
	}
}

func TestCheck_PerCurrencyOverride(t *testing.T) {
	// NGN gets a higher ceiling than the default.
	limiter := NewOperationLimiter(d(10000), map[model.Currency]decimal.Decimal{
		model.NGN: d(5000000),
	})

	if err := limiter.Check(model.NGN, d(1000000)); err != nil {
		t.Errorf("expected NGN override to apply, got %v", err)
	}
	if err := limiter.Check(model.USD, d(1000000)); err != ErrOperationLimitExceeded {
		t.Errorf("expected default ceiling for USD, got %v", err)
	}
}

func TestCheck_ZeroCeilingUnlimited(t *testing.T) {
	limiter := NewOperationLimiter(decimal.Zero, nil)

	if err := limiter.Check(model.USD, d(1e12)); err != nil {
		t.Errorf("zero default must disable the ceiling, got %v", err)
	}

	// A zero per-currency entry disables the ceiling for that currency even
	// when a default exists.
	limiter = NewOperationLimiter(d(100), map[model.Currency]decimal.Decimal{
		model.JPY: decimal.Zero,
	})
	if err := limiter.Check(model.JPY, d(1e9)); err != nil {
		t.Errorf("zero override must disable the ceiling, got %v", err)
	}
	if err := limiter.Check(model.USD, d(101)); err != ErrOperationLimitExceeded {
		t.Errorf("default still applies to other currencies, got %v", err)
	}
}

func TestCheck_NilLimiterAllowsAll(t *testing.T) {
	var limiter *OperationLimiter

	if err := limiter.Check(model.USD, d(1e12)); err != nil {
		t.Errorf("nil limiter must allow everything, got %v", err)
	}
}
