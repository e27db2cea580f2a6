package model

import "errors"

var (
	// ErrInvalidAmount is returned when an amount is zero, negative, or
	// carries more precision than the currency's minimum unit (0.01).
	ErrInvalidAmount = errors.New("wallet: amount must be positive with at most 2 decimal places")

	// ErrUnsupportedCurrency is returned for a currency code outside the
	// supported set.
	ErrUnsupportedCurrency = errors.New("wallet: unsupported currency")

	// ErrSameCurrency is returned when a conversion names the same source
	// and destination currency. Pure validation — rejected before any
	// idempotency or ledger state is touched.
	ErrSameCurrency = errors.New("wallet: source and destination currency must differ")

	// ErrInsufficientBalance is returned when a debit exceeds the available
	// balance of the locked account.
	ErrInsufficientBalance = errors.New("wallet: insufficient balance")

	// ErrDuplicateKey is returned when an idempotency key already exists in
	// the operation journal.
	ErrDuplicateKey = errors.New("wallet: idempotency key already used")

	// ErrOperationInProgress is returned when a replayed idempotency key
	// matches a PENDING record: another execution is mid-flight and the
	// caller should retry later.
	ErrOperationInProgress = errors.New("wallet: operation with this reference is in progress")

	// ErrOperationFailed is returned when a replayed idempotency key
	// matches a FAILED record. References are single-use once a terminal
	// outcome is recorded; the caller must supply a new reference.
	ErrOperationFailed = errors.New("wallet: previous attempt with this reference failed, supply a new reference")

	// ErrRateUnavailable is returned when every rate resolution tier is
	// exhausted, including the historical fallback.
	ErrRateUnavailable = errors.New("fx: exchange rate unavailable")

	// ErrProviderUnavailable indicates the external rate provider could not
	// be reached or returned an unusable response. Internal to the
	// resolver: always absorbed into the fallback tier or ErrRateUnavailable.
	ErrProviderUnavailable = errors.New("fx: rate provider unavailable")

	// ErrStorageConflict indicates a deadlock abort or serialization
	// failure. No COMPLETED or FAILED state was reached, so the same
	// idempotency key is safe to retry.
	ErrStorageConflict = errors.New("wallet: storage conflict, retry the operation")

	// ErrNotFound is returned when a requested record does not exist or
	// belongs to a different owner.
	ErrNotFound = errors.New("wallet: not found")
)
