// Package wallet implements the conversion orchestrator: funding and
// conversion operations executed atomically against the ledger store, with
// exactly-once semantics driven by caller-supplied idempotency references.
//
// All monetary values use shopspring/decimal — never float64 for money.
package wallet

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fxwallet/wallet-engine/internal/fx"
	"github.com/fxwallet/wallet-engine/internal/limits"
	"github.com/fxwallet/wallet-engine/internal/metrics"
	"github.com/fxwallet/wallet-engine/internal/model"
	"github.com/fxwallet/wallet-engine/internal/store"
)

// ErrMissingReference is returned when the caller supplies no idempotency
// reference. References are mandatory for financially-sensitive operations.
var ErrMissingReference = errors.New("wallet: idempotency reference required")

// RateResolver is the slice of the fx resolver the orchestrator needs.
type RateResolver interface {
	Resolve(ctx context.Context, source, dest model.Currency) (*model.RateQuote, error)
}

// Service coordinates the rate resolver, ledger store, and operation
// journal. Correctness under concurrency is pushed down to the store's row
// locks and serializable transactions — no in-process mutexes.
type Service struct {
	store   store.Store
	rates   RateResolver
	limiter *limits.OperationLimiter
}

// NewService creates a wallet service. A nil limiter disables operation
// amount ceilings.
func NewService(st store.Store, rates RateResolver, limiter *limits.OperationLimiter) *Service {
	return &Service{store: st, rates: rates, limiter: limiter}
}

// FundResult is the outcome of a funding operation.
type FundResult struct {
	Operation *model.OperationRecord `json:"operation"`
	Account   *model.LedgerAccount   `json:"account"`
	// Replayed is true when the result was returned verbatim from a
	// previously COMPLETED operation with the same reference.
	Replayed bool `json:"replayed,omitempty"`
}

// ConvertResult is the outcome of a conversion or trade operation.
type ConvertResult struct {
	Operation     *model.OperationRecord `json:"operation"`
	Quote         *model.RateQuote       `json:"rate_quote"`
	SourceAccount *model.LedgerAccount   `json:"source_account"`
	DestAccount   *model.LedgerAccount   `json:"dest_account"`
	Replayed      bool                   `json:"replayed,omitempty"`
}

// PreviewResult is an informational conversion quote. The rate actually
// applied at execution time may differ.
type PreviewResult struct {
	Quote           *model.RateQuote `json:"rate_quote"`
	ConvertedAmount decimal.Decimal  `json:"converted_amount"`
}

// Fund credits an owner's account in one currency, creating the account on
// first use. Exactly-once per idempotency reference.
func (s *Service) Fund(ctx context.Context, owner string, currency model.Currency, amount decimal.Decimal, reference string) (*FundResult, error) {
	start := time.Now()

	if !currency.Valid() {
		return nil, model.ErrUnsupportedCurrency
	}
	if err := model.ValidateAmount(amount); err != nil {
		return nil, err
	}
	if err := s.limiter.Check(currency, amount); err != nil {
		return nil, err
	}
	if reference == "" {
		return nil, ErrMissingReference
	}

	prior, err := s.gateReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if prior != nil {
		account, err := s.store.GetOrCreateAccount(ctx, owner, currency)
		if err != nil {
			return nil, err
		}
		metrics.OperationsTotal.WithLabelValues(string(model.KindFund), "replayed").Inc()
		return &FundResult{Operation: prior, Account: account, Replayed: true}, nil
	}

	// Lazy account creation happens outside the unit of work: the row is
	// harmless (zero balances) even if the funding itself aborts, and
	// accounts are never deleted.
	if _, err := s.store.GetOrCreateAccount(ctx, owner, currency); err != nil {
		return nil, err
	}

	op := &model.OperationRecord{
		ID:             uuid.New().String(),
		Owner:          owner,
		Kind:           model.KindFund,
		DestCurrency:   currency,
		DestAmount:     amount,
		SourceAmount:   decimal.Zero,
		IdempotencyKey: reference,
	}

	account, err := s.executeFund(ctx, op, owner, currency, amount)
	if err != nil {
		s.journalFailure(ctx, op, err)
		metrics.OperationsTotal.WithLabelValues(string(model.KindFund), "failed").Inc()
		return nil, err
	}

	metrics.OperationsTotal.WithLabelValues(string(model.KindFund), "completed").Inc()
	metrics.OperationLatency.WithLabelValues(string(model.KindFund)).Observe(time.Since(start).Seconds())

	slog.Info("funding completed",
		"operation_id", op.ID,
		"owner", owner,
		"currency", currency,
		"amount", amount.String(),
		"balance", account.AvailableBalance.String(),
	)
	return &FundResult{Operation: op, Account: account}, nil
}

// executeFund runs the atomic part of funding: PENDING journal row, locked
// credit, COMPLETED transition, commit — all one unit of work.
func (s *Service) executeFund(ctx context.Context, op *model.OperationRecord, owner string, currency model.Currency, amount decimal.Decimal) (*model.LedgerAccount, error) {
	uow, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer uow.Rollback(ctx)

	if err := s.store.InsertPendingOperation(ctx, uow, op); err != nil {
		if errors.Is(err, model.ErrDuplicateKey) {
			// Lost a race with a concurrent caller using the same key.
			return nil, s.classifyDuplicate(ctx, op.IdempotencyKey)
		}
		return nil, err
	}

	if _, err := s.store.LockAccount(ctx, uow, owner, currency); err != nil {
		return nil, err
	}
	account, err := s.store.Credit(ctx, uow, owner, currency, amount)
	if err != nil {
		return nil, err
	}

	if err := s.store.CompleteOperation(ctx, uow, op); err != nil {
		return nil, err
	}
	if err := uow.Commit(ctx); err != nil {
		return nil, err
	}
	return account, nil
}

// Convert exchanges an amount from one of the owner's currency balances
// into another at a freshly resolved rate.
func (s *Service) Convert(ctx context.Context, owner string, source, dest model.Currency, amount decimal.Decimal, reference string) (*ConvertResult, error) {
	return s.convert(ctx, model.KindConvert, owner, source, dest, amount, reference)
}

// Trade executes with semantics identical to Convert. The distinct kind
// exists for journal classification and future policy divergence.
func (s *Service) Trade(ctx context.Context, owner string, source, dest model.Currency, amount decimal.Decimal, reference string) (*ConvertResult, error) {
	return s.convert(ctx, model.KindTrade, owner, source, dest, amount, reference)
}

func (s *Service) convert(ctx context.Context, kind model.OperationKind, owner string, source, dest model.Currency, amount decimal.Decimal, reference string) (*ConvertResult, error) {
	start := time.Now()

	// Pure validation, before the idempotency gate can have side effects.
	if !source.Valid() || !dest.Valid() {
		return nil, model.ErrUnsupportedCurrency
	}
	if source == dest {
		return nil, model.ErrSameCurrency
	}
	if err := model.ValidateAmount(amount); err != nil {
		return nil, err
	}
	if err := s.limiter.Check(source, amount); err != nil {
		return nil, err
	}
	if reference == "" {
		return nil, ErrMissingReference
	}

	prior, err := s.gateReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if prior != nil {
		metrics.OperationsTotal.WithLabelValues(string(kind), "replayed").Inc()
		return s.replayConvert(ctx, owner, prior)
	}

	// Rate lookup may do network I/O, so it happens strictly before any
	// ledger row lock is taken.
	quote, err := s.rates.Resolve(ctx, source, dest)
	if err != nil {
		return nil, err
	}
	destAmount := fx.Convert(amount, quote.Rate)

	// Both rows must exist before FOR UPDATE can lock them.
	if _, err := s.store.GetOrCreateAccount(ctx, owner, source); err != nil {
		return nil, err
	}
	if _, err := s.store.GetOrCreateAccount(ctx, owner, dest); err != nil {
		return nil, err
	}

	rate := quote.Rate
	op := &model.OperationRecord{
		ID:             uuid.New().String(),
		Owner:          owner,
		Kind:           kind,
		SourceCurrency: source,
		SourceAmount:   amount,
		DestCurrency:   dest,
		DestAmount:     destAmount,
		AppliedRate:    &rate,
		IdempotencyKey: reference,
		Auxiliary: &model.RateMetadata{
			Source:     quote.RateSource,
			AgeSeconds: quote.AgeSeconds,
			Warning:    quote.Warning,
		},
	}

	sourceAccount, destAccount, err := s.executeConvert(ctx, op, owner, source, dest, amount, destAmount)
	if err != nil {
		s.journalFailure(ctx, op, err)
		metrics.OperationsTotal.WithLabelValues(string(kind), "failed").Inc()
		return nil, err
	}

	metrics.OperationsTotal.WithLabelValues(string(kind), "completed").Inc()
	metrics.OperationLatency.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())

	slog.Info("conversion completed",
		"operation_id", op.ID,
		"owner", owner,
		"kind", kind,
		"source", source,
		"dest", dest,
		"amount", amount.String(),
		"dest_amount", destAmount.String(),
		"rate", quote.Rate.String(),
		"rate_source", quote.RateSource,
		"rate_age_seconds", quote.AgeSeconds,
	)
	return &ConvertResult{
		Operation:     op,
		Quote:         quote,
		SourceAccount: sourceAccount,
		DestAccount:   destAccount,
	}, nil
}

// executeConvert runs the atomic part of a conversion. The two rows are
// locked in lexicographic currency order so opposite-direction conversions
// between the same pair cannot deadlock each other.
func (s *Service) executeConvert(ctx context.Context, op *model.OperationRecord, owner string, source, dest model.Currency, amount, destAmount decimal.Decimal) (*model.LedgerAccount, *model.LedgerAccount, error) {
	uow, err := s.store.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer uow.Rollback(ctx)

	if err := s.store.InsertPendingOperation(ctx, uow, op); err != nil {
		if errors.Is(err, model.ErrDuplicateKey) {
			return nil, nil, s.classifyDuplicate(ctx, op.IdempotencyKey)
		}
		return nil, nil, err
	}

	first, second := source, dest
	if second < first {
		first, second = second, first
	}
	if _, err := s.store.LockAccount(ctx, uow, owner, first); err != nil {
		return nil, nil, err
	}
	if _, err := s.store.LockAccount(ctx, uow, owner, second); err != nil {
		return nil, nil, err
	}

	sourceAccount, err := s.store.Debit(ctx, uow, owner, source, amount)
	if err != nil {
		return nil, nil, err
	}
	destAccount, err := s.store.Credit(ctx, uow, owner, dest, destAmount)
	if err != nil {
		return nil, nil, err
	}

	if err := s.store.CompleteOperation(ctx, uow, op); err != nil {
		return nil, nil, err
	}
	if err := uow.Commit(ctx); err != nil {
		return nil, nil, err
	}
	return sourceAccount, destAccount, nil
}

// replayConvert reconstructs the stored result of a COMPLETED conversion.
func (s *Service) replayConvert(ctx context.Context, owner string, op *model.OperationRecord) (*ConvertResult, error) {
	result := &ConvertResult{Operation: op, Replayed: true}

	if op.AppliedRate != nil {
		quote := &model.RateQuote{
			Source: op.SourceCurrency,
			Dest:   op.DestCurrency,
			Rate:   *op.AppliedRate,
		}
		if op.Auxiliary != nil {
			quote.RateSource = op.Auxiliary.Source
			quote.AgeSeconds = op.Auxiliary.AgeSeconds
			quote.Warning = op.Auxiliary.Warning
		}
		result.Quote = quote
	}

	sourceAccount, err := s.store.GetOrCreateAccount(ctx, owner, op.SourceCurrency)
	if err != nil {
		return nil, err
	}
	destAccount, err := s.store.GetOrCreateAccount(ctx, owner, op.DestCurrency)
	if err != nil {
		return nil, err
	}
	result.SourceAccount = sourceAccount
	result.DestAccount = destAccount
	return result, nil
}

// Preview resolves a rate and computes the converted amount without
// touching the journal or the ledger. Read-only and always safe to repeat.
func (s *Service) Preview(ctx context.Context, source, dest model.Currency, amount decimal.Decimal) (*PreviewResult, error) {
	if !source.Valid() || !dest.Valid() {
		return nil, model.ErrUnsupportedCurrency
	}
	if err := model.ValidateAmount(amount); err != nil {
		return nil, err
	}

	quote, err := s.rates.Resolve(ctx, source, dest)
	if err != nil {
		return nil, err
	}
	return &PreviewResult{
		Quote:           quote,
		ConvertedAmount: fx.Convert(amount, quote.Rate),
	}, nil
}

// ListAccounts returns all ledger accounts held by an owner.
func (s *Service) ListAccounts(ctx context.Context, owner string) ([]model.LedgerAccount, error) {
	return s.store.ListAccounts(ctx, owner)
}

// GetOperation returns one journal record, scoped to its owner.
func (s *Service) GetOperation(ctx context.Context, owner, operationID string) (*model.OperationRecord, error) {
	return s.store.GetOperation(ctx, owner, operationID)
}

// gateReference applies the idempotency protocol. Returns the stored record
// when the reference previously COMPLETED (idempotent replay), nil when the
// reference is unused, and an error for PENDING or FAILED references.
func (s *Service) gateReference(ctx context.Context, reference string) (*model.OperationRecord, error) {
	op, err := s.store.FindOperationByKey(ctx, reference)
	if err != nil {
		return nil, err
	}
	if op == nil {
		return nil, nil
	}
	switch op.State {
	case model.StateCompleted:
		return op, nil
	case model.StatePending:
		return nil, model.ErrOperationInProgress
	default:
		return nil, model.ErrOperationFailed
	}
}

// classifyDuplicate resolves a duplicate-key race into the caller-facing
// idempotency outcome by re-reading the winner's record.
func (s *Service) classifyDuplicate(ctx context.Context, reference string) error {
	op, err := s.store.FindOperationByKey(ctx, reference)
	if err != nil || op == nil {
		return model.ErrDuplicateKey
	}
	switch op.State {
	case model.StatePending:
		return model.ErrOperationInProgress
	case model.StateFailed:
		return model.ErrOperationFailed
	default:
		return model.ErrDuplicateKey
	}
}

// journalFailure records a FAILED outcome in a fresh unit of work after the
// failed one rolled back. Storage conflicts are never journaled: no
// committed or deterministic failed state was reached, so the reference
// stays safely reusable.
func (s *Service) journalFailure(ctx context.Context, op *model.OperationRecord, cause error) {
	if errors.Is(cause, model.ErrStorageConflict) {
		return
	}
	if errors.Is(cause, model.ErrOperationInProgress) ||
		errors.Is(cause, model.ErrOperationFailed) ||
		errors.Is(cause, model.ErrDuplicateKey) {
		// The journal already holds a record for this reference.
		return
	}
	if err := s.store.MarkOperationFailed(ctx, op, cause.Error()); err != nil {
		slog.Error("failed to journal FAILED outcome",
			"operation_id", op.ID,
			"reference", op.IdempotencyKey,
			"cause", cause,
			"err", err,
		)
	}
	slog.Warn("operation failed",
		"operation_id", op.ID,
		"owner", op.Owner,
		"kind", op.Kind,
		"err", cause,
	)
}
