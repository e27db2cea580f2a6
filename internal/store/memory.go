package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fxwallet/wallet-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
//
// Concurrency model: a unit of work holds the store's transaction mutex for
// its whole lifetime, so units of work execute strictly one at a time. That
// is a conservative stand-in for the database's exclusive row locks — every
// interleaving it allows is one the real store allows too. Rollback restores
// a snapshot taken at Begin, so writes that must survive an unrelated
// rollback (GetOrCreateAccount, MarkOperationFailed) also serialize on the
// transaction mutex: they are single-write units of work in their own right
// and never land inside another unit's snapshot window.
type MemoryStore struct {
	txMu sync.Mutex // serializes units of work
	mu   sync.RWMutex

	accounts    map[accountKey]*model.LedgerAccount
	operations  map[string]*model.OperationRecord // by operation ID
	opIDByKey   map[string]string                 // idempotency key → operation ID
	rateHistory []model.RateHistoryEntry
}

type accountKey struct {
	owner    string
	currency model.Currency
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:   make(map[accountKey]*model.LedgerAccount),
		operations: make(map[string]*model.OperationRecord),
		opIDByKey:  make(map[string]string),
	}
}

// memUnitOfWork snapshots store state at Begin so Rollback can restore it.
type memUnitOfWork struct {
	store *MemoryStore
	done  bool

	accounts  map[accountKey]*model.LedgerAccount
	ops       map[string]*model.OperationRecord
	opIDByKey map[string]string
}

func (s *MemoryStore) Begin(_ context.Context) (UnitOfWork, error) {
	s.txMu.Lock()

	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := &memUnitOfWork{
		store:     s,
		accounts:  make(map[accountKey]*model.LedgerAccount, len(s.accounts)),
		ops:       make(map[string]*model.OperationRecord, len(s.operations)),
		opIDByKey: make(map[string]string, len(s.opIDByKey)),
	}
	for k, a := range s.accounts {
		copy := *a
		snap.accounts[k] = &copy
	}
	for id, op := range s.operations {
		copy := *op
		snap.ops[id] = &copy
	}
	for k, id := range s.opIDByKey {
		snap.opIDByKey[k] = id
	}
	return snap, nil
}

func (u *memUnitOfWork) Commit(_ context.Context) error {
	if u.done {
		return fmt.Errorf("store: unit of work already finished")
	}
	u.done = true
	u.store.txMu.Unlock()
	return nil
}

func (u *memUnitOfWork) Rollback(_ context.Context) error {
	if u.done {
		return nil // rollback after commit is a no-op, like pgx.ErrTxClosed
	}
	u.done = true

	u.store.mu.Lock()
	u.store.accounts = u.accounts
	u.store.operations = u.ops
	u.store.opIDByKey = u.opIDByKey
	u.store.mu.Unlock()

	u.store.txMu.Unlock()
	return nil
}

func (s *MemoryStore) checkUow(uow UnitOfWork) error {
	u, ok := uow.(*memUnitOfWork)
	if !ok || u.store != s {
		return fmt.Errorf("store: unit of work does not belong to MemoryStore")
	}
	if u.done {
		return fmt.Errorf("store: unit of work already finished")
	}
	return nil
}

// --- Ledger accounts ---

func (s *MemoryStore) GetOrCreateAccount(_ context.Context, owner string, currency model.Currency) (*model.LedgerAccount, error) {
	// Independent single-write unit of work: must not interleave with an
	// open unit of work, or its row would vanish with that unit's rollback.
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	key := accountKey{owner: owner, currency: currency}
	if a, ok := s.accounts[key]; ok {
		copy := *a
		return &copy, nil
	}

	now := time.Now().UTC()
	a := &model.LedgerAccount{
		Owner:            owner,
		Currency:         currency,
		AvailableBalance: decimal.Zero,
		ReservedBalance:  decimal.Zero,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	s.accounts[key] = a
	copy := *a
	return &copy, nil
}

func (s *MemoryStore) ListAccounts(_ context.Context, owner string) ([]model.LedgerAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var accounts []model.LedgerAccount
	for key, a := range s.accounts {
		if key.owner == owner {
			accounts = append(accounts, *a)
		}
	}
	return accounts, nil
}

func (s *MemoryStore) LockAccount(_ context.Context, uow UnitOfWork, owner string, currency model.Currency) (*model.LedgerAccount, error) {
	if err := s.checkUow(uow); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[accountKey{owner: owner, currency: currency}]
	if !ok {
		return nil, model.ErrNotFound
	}
	copy := *a
	return &copy, nil
}

func (s *MemoryStore) Credit(_ context.Context, uow UnitOfWork, owner string, currency model.Currency, amount decimal.Decimal) (*model.LedgerAccount, error) {
	if err := s.checkUow(uow); err != nil {
		return nil, err
	}
	if err := model.ValidateAmount(amount); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[accountKey{owner: owner, currency: currency}]
	if !ok {
		return nil, model.ErrNotFound
	}
	a.AvailableBalance = a.AvailableBalance.Add(amount)
	a.Version++
	a.UpdatedAt = time.Now().UTC()
	copy := *a
	return &copy, nil
}

func (s *MemoryStore) Debit(_ context.Context, uow UnitOfWork, owner string, currency model.Currency, amount decimal.Decimal) (*model.LedgerAccount, error) {
	if err := s.checkUow(uow); err != nil {
		return nil, err
	}
	if err := model.ValidateAmount(amount); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[accountKey{owner: owner, currency: currency}]
	if !ok {
		return nil, model.ErrInsufficientBalance
	}
	if a.AvailableBalance.LessThan(amount) {
		return nil, model.ErrInsufficientBalance
	}
	a.AvailableBalance = a.AvailableBalance.Sub(amount)
	a.Version++
	a.UpdatedAt = time.Now().UTC()
	copy := *a
	return &copy, nil
}

// --- Operation journal ---

func (s *MemoryStore) FindOperationByKey(_ context.Context, key string) (*model.OperationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.opIDByKey[key]
	if !ok {
		return nil, nil
	}
	copy := *s.operations[id]
	return &copy, nil
}

func (s *MemoryStore) GetOperation(_ context.Context, owner, operationID string) (*model.OperationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	op, ok := s.operations[operationID]
	if !ok || op.Owner != owner {
		return nil, model.ErrNotFound
	}
	copy := *op
	return &copy, nil
}

func (s *MemoryStore) InsertPendingOperation(_ context.Context, uow UnitOfWork, op *model.OperationRecord) error {
	if err := s.checkUow(uow); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.opIDByKey[op.IdempotencyKey]; exists {
		return model.ErrDuplicateKey
	}

	now := time.Now().UTC()
	op.State = model.StatePending
	op.CreatedAt = now
	op.UpdatedAt = now

	copy := *op
	s.operations[op.ID] = &copy
	s.opIDByKey[op.IdempotencyKey] = op.ID
	return nil
}

func (s *MemoryStore) CompleteOperation(_ context.Context, uow UnitOfWork, op *model.OperationRecord) error {
	if err := s.checkUow(uow); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.operations[op.ID]
	if !ok || stored.State != model.StatePending {
		return fmt.Errorf("complete operation %s: record not in PENDING state", op.ID)
	}
	stored.State = model.StateCompleted
	stored.UpdatedAt = time.Now().UTC()
	op.State = model.StateCompleted
	op.UpdatedAt = stored.UpdatedAt
	return nil
}

func (s *MemoryStore) MarkOperationFailed(_ context.Context, op *model.OperationRecord, detail string) error {
	// Fresh, independent unit of work: serializes on txMu so the FAILED
	// record cannot be erased by an overlapping unit's snapshot rollback.
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	// The PENDING record from the aborted unit of work is gone. Skip
	// silently if a concurrent retry already journaled an outcome for
	// this key.
	if _, exists := s.opIDByKey[op.IdempotencyKey]; exists {
		return nil
	}

	now := time.Now().UTC()
	op.State = model.StateFailed
	op.FailureDetail = detail
	op.UpdatedAt = now
	if op.CreatedAt.IsZero() {
		op.CreatedAt = now
	}

	copy := *op
	s.operations[op.ID] = &copy
	s.opIDByKey[op.IdempotencyKey] = op.ID
	return nil
}

// --- Rate history ---

func (s *MemoryStore) InsertRateHistory(_ context.Context, entry *model.RateHistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rateHistory = append(s.rateHistory, *entry)
	return nil
}

func (s *MemoryStore) LatestRateHistory(_ context.Context, source, dest model.Currency) (*model.RateHistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *model.RateHistoryEntry
	for i := range s.rateHistory {
		e := &s.rateHistory[i]
		if e.Source != source || e.Dest != dest {
			continue
		}
		if latest == nil || e.ObservedAt.After(latest.ObservedAt) {
			latest = e
		}
	}
	if latest == nil {
		return nil, nil
	}
	copy := *latest
	return &copy, nil
}
