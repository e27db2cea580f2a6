// Package store defines the persistence interface for the wallet engine.
// Implementations include PostgreSQL (source of truth) and in-memory
// (for testing and development).
package store

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/fxwallet/wallet-engine/internal/model"
)

// UnitOfWork is an explicit handle for one atomic, all-or-nothing group of
// storage mutations (a serializable transaction). Every ledger or journal
// operation that must participate in the same transaction receives the
// handle; nothing is threaded implicitly.
type UnitOfWork interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Store is the persistence interface. PostgreSQL is the source of truth.
type Store interface {
	// Begin opens a new unit of work at serializable isolation.
	Begin(ctx context.Context) (UnitOfWork, error)

	// --- Ledger accounts ---

	// GetOrCreateAccount returns the (owner, currency) account, creating it
	// with zero balances if absent. Safe under concurrent creation for the
	// same pair: a losing creator re-reads the winner's row.
	GetOrCreateAccount(ctx context.Context, owner string, currency model.Currency) (*model.LedgerAccount, error)

	// ListAccounts returns all accounts held by an owner.
	ListAccounts(ctx context.Context, owner string) ([]model.LedgerAccount, error)

	// LockAccount acquires an exclusive row lock on the (owner, currency)
	// account within the unit of work, blocking until granted. The lock is
	// held until the unit of work commits or rolls back.
	LockAccount(ctx context.Context, uow UnitOfWork, owner string, currency model.Currency) (*model.LedgerAccount, error)

	// Credit increases the available balance and increments the version.
	// The caller must already hold the row lock via LockAccount.
	Credit(ctx context.Context, uow UnitOfWork, owner string, currency model.Currency, amount decimal.Decimal) (*model.LedgerAccount, error)

	// Debit decreases the available balance and increments the version.
	// Returns model.ErrInsufficientBalance when the balance cannot cover
	// the amount. Same locking precondition as Credit.
	Debit(ctx context.Context, uow UnitOfWork, owner string, currency model.Currency, amount decimal.Decimal) (*model.LedgerAccount, error)

	// --- Operation journal ---

	// FindOperationByKey looks up a journal record by idempotency key.
	// Returns (nil, nil) when absent.
	FindOperationByKey(ctx context.Context, key string) (*model.OperationRecord, error)

	// GetOperation returns an operation by ID, scoped to its owner.
	// Returns model.ErrNotFound if absent or owned by someone else.
	GetOperation(ctx context.Context, owner, operationID string) (*model.OperationRecord, error)

	// InsertPendingOperation writes a new PENDING record inside the unit of
	// work. Returns model.ErrDuplicateKey when the idempotency key exists.
	InsertPendingOperation(ctx context.Context, uow UnitOfWork, op *model.OperationRecord) error

	// CompleteOperation marks the record COMPLETED in the same unit of work
	// as the balance mutation it accompanies.
	CompleteOperation(ctx context.Context, uow UnitOfWork, op *model.OperationRecord) error

	// MarkOperationFailed records a FAILED outcome in a fresh, independent
	// unit of work, after the failed one has rolled back.
	MarkOperationFailed(ctx context.Context, op *model.OperationRecord, detail string) error

	// --- Rate history ---

	// InsertRateHistory appends a provider-sourced rate observation.
	InsertRateHistory(ctx context.Context, entry *model.RateHistoryEntry) error

	// LatestRateHistory returns the most recent observation for a pair, or
	// (nil, nil) when none exists.
	LatestRateHistory(ctx context.Context, source, dest model.Currency) (*model.RateHistoryEntry, error)
}
