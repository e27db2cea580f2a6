// Package model defines the core domain types shared across the wallet engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// LedgerAccount holds one owner's balance in one currency. Exactly one
// record exists per (owner, currency) pair; records are created lazily on
// first credit and never deleted, so the audit trail stays intact after a
// balance reaches zero.
type LedgerAccount struct {
	Owner            string          `json:"owner" db:"owner_id"`
	Currency         Currency        `json:"currency" db:"currency"`
	AvailableBalance decimal.Decimal `json:"available_balance" db:"available_balance"`
	ReservedBalance  decimal.Decimal `json:"reserved_balance" db:"reserved_balance"`
	// Version increases by one on every committed mutation. Guards against
	// lost updates if an optimistic path is ever layered on top of the
	// pessimistic row locks.
	Version   int64     `json:"version" db:"version"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// OperationKind classifies a journal record.
type OperationKind string

const (
	KindFund    OperationKind = "FUND"
	KindConvert OperationKind = "CONVERT"
	// KindTrade is executed with identical semantics to KindConvert; it
	// exists for journal classification and future policy divergence
	// (spreads, limits).
	KindTrade OperationKind = "TRADE"
)

// OperationState is the journal state machine:
// PENDING → COMPLETED | FAILED. Terminal records are immutable.
type OperationState string

const (
	StatePending   OperationState = "PENDING"
	StateCompleted OperationState = "COMPLETED"
	StateFailed    OperationState = "FAILED"
)

// RateMetadata is the freshness metadata attached to an operation that
// applied an exchange rate.
type RateMetadata struct {
	Source     string `json:"source"`
	AgeSeconds int64  `json:"age_seconds"`
	Warning    string `json:"warning,omitempty"`
}

// OperationRecord is one row of the append-only operation journal, keyed
// by a caller-supplied idempotency reference. Once COMPLETED or FAILED the
// record never changes again.
type OperationRecord struct {
	ID             string           `json:"id" db:"id"`
	Owner          string           `json:"owner" db:"owner_id"`
	Kind           OperationKind    `json:"kind" db:"kind"`
	SourceCurrency Currency         `json:"source_currency,omitempty" db:"source_currency"`
	SourceAmount   decimal.Decimal  `json:"source_amount" db:"source_amount"`
	DestCurrency   Currency         `json:"dest_currency,omitempty" db:"dest_currency"`
	DestAmount     decimal.Decimal  `json:"dest_amount" db:"dest_amount"`
	AppliedRate    *decimal.Decimal `json:"applied_rate,omitempty" db:"applied_rate"`
	State          OperationState   `json:"state" db:"state"`
	IdempotencyKey string           `json:"idempotency_key" db:"idempotency_key"`
	Auxiliary      *RateMetadata    `json:"auxiliary,omitempty" db:"auxiliary"`
	FailureDetail  string           `json:"failure_detail,omitempty" db:"failure_detail"`
	CreatedAt      time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at" db:"updated_at"`
}

// RateQuote is a resolved exchange rate plus freshness metadata. Transient:
// only persisted indirectly as a RateHistoryEntry when it came from the
// provider tier.
type RateQuote struct {
	Source     Currency        `json:"source"`
	Dest       Currency        `json:"dest"`
	Rate       decimal.Decimal `json:"rate"`
	ObservedAt time.Time       `json:"observed_at"`
	RateSource string          `json:"rate_source"` // "direct", "cache", "provider", "fallback"
	AgeSeconds int64           `json:"age_seconds"`
	Warning    string          `json:"warning,omitempty"`
}

// RateHistoryEntry is an append-only record of every rate obtained from the
// external provider. System-wide; used solely as fallback source data.
type RateHistoryEntry struct {
	ID         string          `json:"id" db:"id"`
	Source     Currency        `json:"source_currency" db:"source_currency"`
	Dest       Currency        `json:"dest_currency" db:"dest_currency"`
	Rate       decimal.Decimal `json:"rate" db:"rate"`
	ObservedAt time.Time       `json:"observed_at" db:"observed_at"`
}
