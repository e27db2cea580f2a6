package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/fxwallet/wallet-engine/internal/model"
)

// Postgres error codes that matter to the wallet core.
const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision and
// round-tripped through TEXT.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// pgUnitOfWork wraps a pgx transaction as a UnitOfWork.
type pgUnitOfWork struct {
	tx pgx.Tx
}

func (u *pgUnitOfWork) Commit(ctx context.Context) error {
	if err := u.tx.Commit(ctx); err != nil {
		return mapPgError(err)
	}
	return nil
}

func (u *pgUnitOfWork) Rollback(ctx context.Context) error {
	err := u.tx.Rollback(ctx)
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}

func (s *PostgresStore) Begin(ctx context.Context) (UnitOfWork, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return nil, fmt.Errorf("begin unit of work: %w", err)
	}
	return &pgUnitOfWork{tx: tx}, nil
}

// pgTx extracts the transaction from a UnitOfWork handed back to us.
func pgTx(uow UnitOfWork) (pgx.Tx, error) {
	u, ok := uow.(*pgUnitOfWork)
	if !ok {
		return nil, fmt.Errorf("store: unit of work does not belong to PostgresStore")
	}
	return u.tx, nil
}

// mapPgError translates storage-level aborts into the wallet error taxonomy.
// Serialization failures and deadlock aborts are retryable: no committed or
// deterministic failed state was reached.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFailure, pgDeadlockDetected:
			return model.ErrStorageConflict
		case pgUniqueViolation:
			return model.ErrDuplicateKey
		}
	}
	return err
}

// --- Ledger accounts ---

const accountColumns = `owner_id, currency,
	available_balance::TEXT, reserved_balance::TEXT,
	version, created_at, updated_at`

func scanAccount(row pgx.Row) (*model.LedgerAccount, error) {
	var a model.LedgerAccount
	var available, reserved string

	if err := row.Scan(&a.Owner, &a.Currency,
		&available, &reserved,
		&a.Version, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}

	a.AvailableBalance, _ = decimal.NewFromString(available)
	a.ReservedBalance, _ = decimal.NewFromString(reserved)
	return &a, nil
}

func (s *PostgresStore) GetOrCreateAccount(ctx context.Context, owner string, currency model.Currency) (*model.LedgerAccount, error) {
	// The unique (owner_id, currency) constraint makes concurrent creation
	// safe: a losing creator falls through to re-read the winner's row.
	_, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (owner_id, currency, available_balance, reserved_balance, version)
		 VALUES ($1, $2, 0, 0, 0)
		 ON CONFLICT (owner_id, currency) DO NOTHING`,
		owner, string(currency))
	if err != nil {
		return nil, fmt.Errorf("create account %s/%s: %w", owner, currency, err)
	}

	row := s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE owner_id = $1 AND currency = $2`,
		owner, string(currency))
	a, err := scanAccount(row)
	if err != nil {
		return nil, fmt.Errorf("read account %s/%s: %w", owner, currency, err)
	}
	return a, nil
}

func (s *PostgresStore) ListAccounts(ctx context.Context, owner string) ([]model.LedgerAccount, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE owner_id = $1 ORDER BY currency`,
		owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []model.LedgerAccount
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

func (s *PostgresStore) LockAccount(ctx context.Context, uow UnitOfWork, owner string, currency model.Currency) (*model.LedgerAccount, error) {
	tx, err := pgTx(uow)
	if err != nil {
		return nil, err
	}

	// Blocks until the row lock is granted; the database's deadlock
	// detector aborts one of two mutually-blocking transactions.
	row := tx.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts
		 WHERE owner_id = $1 AND currency = $2
		 FOR UPDATE`,
		owner, string(currency))
	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, mapPgError(err)
	}
	return a, nil
}

func (s *PostgresStore) Credit(ctx context.Context, uow UnitOfWork, owner string, currency model.Currency, amount decimal.Decimal) (*model.LedgerAccount, error) {
	if err := model.ValidateAmount(amount); err != nil {
		return nil, err
	}
	tx, err := pgTx(uow)
	if err != nil {
		return nil, err
	}

	row := tx.QueryRow(
		ctx,
		`UPDATE accounts
		 SET available_balance = available_balance + $3::NUMERIC,
		     version = version + 1,
		     updated_at = now()
		 WHERE owner_id = $1 AND currency = $2
		 RETURNING `+accountColumns,
		owner, string(currency), amount.String())
	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, mapPgError(err)
	}
	return a, nil
}

func (s *PostgresStore) Debit(ctx context.Context, uow UnitOfWork, owner string, currency model.Currency, amount decimal.Decimal) (*model.LedgerAccount, error) {
	if err := model.ValidateAmount(amount); err != nil {
		return nil, err
	}
	tx, err := pgTx(uow)
	if err != nil {
		return nil, err
	}

	// The balance guard in the WHERE clause keeps availableBalance
	// non-negative even if a caller skips the locked read.
	row := tx.QueryRow(
		ctx,
		`UPDATE accounts
		 SET available_balance = available_balance - $3::NUMERIC,
		     version = version + 1,
		     updated_at = now()
		 WHERE owner_id = $1 AND currency = $2 AND available_balance >= $3::NUMERIC
		 RETURNING `+accountColumns,
		owner, string(currency), amount.String())
	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrInsufficientBalance
		}
		return nil, mapPgError(err)
	}
	return a, nil
}

// --- Operation journal ---

const operationColumns = `id, owner_id, kind,
	source_currency, source_amount::TEXT,
	dest_currency, dest_amount::TEXT,
	applied_rate::TEXT, state, idempotency_key,
	auxiliary, failure_detail, created_at, updated_at`

func scanOperation(row pgx.Row) (*model.OperationRecord, error) {
	var op model.OperationRecord
	var sourceAmount, destAmount string
	var appliedRate, failureDetail *string
	var auxiliary []byte

	if err := row.Scan(&op.ID, &op.Owner, &op.Kind,
		&op.SourceCurrency, &sourceAmount,
		&op.DestCurrency, &destAmount,
		&appliedRate, &op.State, &op.IdempotencyKey,
		&auxiliary, &failureDetail, &op.CreatedAt, &op.UpdatedAt); err != nil {
		return nil, err
	}

	op.SourceAmount, _ = decimal.NewFromString(sourceAmount)
	op.DestAmount, _ = decimal.NewFromString(destAmount)
	if appliedRate != nil {
		rate, _ := decimal.NewFromString(*appliedRate)
		op.AppliedRate = &rate
	}
	if failureDetail != nil {
		op.FailureDetail = *failureDetail
	}
	if len(auxiliary) > 0 {
		var meta model.RateMetadata
		if json.Unmarshal(auxiliary, &meta) == nil {
			op.Auxiliary = &meta
		}
	}
	return &op, nil
}

func (s *PostgresStore) FindOperationByKey(ctx context.Context, key string) (*model.OperationRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+operationColumns+` FROM operations WHERE idempotency_key = $1`, key)
	op, err := scanOperation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return op, nil
}

func (s *PostgresStore) GetOperation(ctx context.Context, owner, operationID string) (*model.OperationRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+operationColumns+` FROM operations WHERE id = $1 AND owner_id = $2`,
		operationID, owner)
	op, err := scanOperation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, err
	}
	return op, nil
}

func operationInsertArgs(op *model.OperationRecord) ([]any, error) {
	var appliedRate *string
	if op.AppliedRate != nil {
		r := op.AppliedRate.String()
		appliedRate = &r
	}
	var auxiliary []byte
	if op.Auxiliary != nil {
		data, err := json.Marshal(op.Auxiliary)
		if err != nil {
			return nil, fmt.Errorf("marshal auxiliary: %w", err)
		}
		auxiliary = data
	}
	var failureDetail *string
	if op.FailureDetail != "" {
		failureDetail = &op.FailureDetail
	}
	return []any{
		op.ID, op.Owner, string(op.Kind),
		string(op.SourceCurrency), op.SourceAmount.String(),
		string(op.DestCurrency), op.DestAmount.String(),
		appliedRate, string(op.State), op.IdempotencyKey,
		auxiliary, failureDetail,
	}, nil
}

const operationInsertSQL = `INSERT INTO operations
	(id, owner_id, kind,
	 source_currency, source_amount,
	 dest_currency, dest_amount,
	 applied_rate, state, idempotency_key,
	 auxiliary, failure_detail)
	VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, $7::NUMERIC, $8::NUMERIC, $9, $10, $11, $12)`

func (s *PostgresStore) InsertPendingOperation(ctx context.Context, uow UnitOfWork, op *model.OperationRecord) error {
	tx, err := pgTx(uow)
	if err != nil {
		return err
	}

	op.State = model.StatePending
	args, err := operationInsertArgs(op)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, operationInsertSQL, args...); err != nil {
		return mapPgError(err)
	}
	return nil
}

func (s *PostgresStore) CompleteOperation(ctx context.Context, uow UnitOfWork, op *model.OperationRecord) error {
	tx, err := pgTx(uow)
	if err != nil {
		return err
	}

	// Only a PENDING record may transition; COMPLETED and FAILED are final.
	tag, err := tx.Exec(ctx,
		`UPDATE operations SET state = $2, updated_at = now()
		 WHERE id = $1 AND state = $3`,
		op.ID, string(model.StateCompleted), string(model.StatePending))
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("complete operation %s: record not in PENDING state", op.ID)
	}
	op.State = model.StateCompleted
	return nil
}

func (s *PostgresStore) MarkOperationFailed(ctx context.Context, op *model.OperationRecord, detail string) error {
	// The PENDING row vanished with the aborted unit of work, so the FAILED
	// outcome is a fresh insert in its own transaction. ON CONFLICT guards
	// against a concurrent retry having already journaled an outcome.
	op.State = model.StateFailed
	op.FailureDetail = detail
	args, err := operationInsertArgs(op)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx,
		operationInsertSQL+` ON CONFLICT (idempotency_key) DO NOTHING`,
		args...); err != nil {
		return mapPgError(err)
	}
	return nil
}

// --- Rate history ---

func (s *PostgresStore) InsertRateHistory(ctx context.Context, entry *model.RateHistoryEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO rate_history (id, source_currency, dest_currency, rate, observed_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5)`,
		entry.ID, string(entry.Source), string(entry.Dest),
		entry.Rate.String(), entry.ObservedAt)
	return err
}

func (s *PostgresStore) LatestRateHistory(ctx context.Context, source, dest model.Currency) (*model.RateHistoryEntry, error) {
	var e model.RateHistoryEntry
	var rate string

	err := s.pool.QueryRow(ctx,
		`SELECT id, source_currency, dest_currency, rate::TEXT, observed_at
		 FROM rate_history
		 WHERE source_currency = $1 AND dest_currency = $2
		 ORDER BY observed_at DESC
		 LIMIT 1`,
		string(source), string(dest)).
		Scan(&e.ID, &e.Source, &e.Dest, &rate, &e.ObservedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	e.Rate, _ = decimal.NewFromString(rate)
	return &e, nil
}
