package storage

import (
	"context"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Repository used when no database is configured and in tests.
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[string]Account
	events   map[string]SpendEvent
	order    []string

	sourceLocks *KeyedLocker
	advisory    map[int64]bool
	now         func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:    make(map[string]Account),
		events:      make(map[string]SpendEvent),
		sourceLocks: NewKeyedLocker(),
		advisory:    make(map[int64]bool),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the clock used for created_at and updated_at.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Close is a no-op.
func (m *MemoryStore) Close() {}

// PutAccount inserts or replaces an account and returns it with an id assigned.
func (m *MemoryStore) PutAccount(account Account) Account {
	m.mu.Lock()
	defer m.mu.Unlock()

	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	if account.ChainMode == "" {
		account.ChainMode = ChainModeSingle
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = m.now()
	}
	m.accounts[account.ID] = account
	return cloneAccount(account)
}

func (m *MemoryStore) FindAccountByTriggerAddress(_ context.Context, address string) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		found Account
		ok    bool
	)
	for _, account := range m.accounts {
		if !strings.EqualFold(account.TriggerAddress, address) {
			continue
		}
		if !ok || account.CreatedAt.Before(found.CreatedAt) {
			found, ok = account, true
		}
	}
	if !ok {
		return Account{}, ErrNotFound
	}
	return cloneAccount(found), nil
}

func (m *MemoryStore) FindAccountBySigner(_ context.Context, signer, deploySalt string) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, account := range m.accounts {
		if strings.EqualFold(account.SignerAddress, signer) && account.DeploySalt == deploySalt {
			return cloneAccount(account), nil
		}
	}
	return Account{}, ErrNotFound
}

func (m *MemoryStore) GetAccount(_ context.Context, id string) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	account, ok := m.accounts[id]
	if !ok {
		return Account{}, ErrNotFound
	}
	return cloneAccount(account), nil
}

func (m *MemoryStore) UpdateChainMode(_ context.Context, id string, mode ChainMode, chainID string) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	account, ok := m.accounts[id]
	if !ok {
		return Account{}, ErrNotFound
	}
	account.ChainMode = mode
	account.ChainID = nil
	if chainID != "" {
		value := chainID
		account.ChainID = &value
	}
	m.accounts[id] = account
	return cloneAccount(account), nil
}

func (m *MemoryStore) InsertSpendEvent(_ context.Context, event SpendEvent) (SpendEvent, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.events[event.SpendTxHash]; ok {
		return cloneEvent(existing), false, nil
	}

	now := m.now()
	event.ID = uuid.NewString()
	event.Status = StatusPending
	event.Reason = nil
	event.Attempts = 0
	event.SubmittedTxHash = nil
	event.YieldDepositAmount = nil
	event.YieldDepositChainID = nil
	event.YieldDepositToken = nil
	event.YieldDepositTxHash = nil
	event.YieldDepositAt = nil
	event.CreatedAt = now
	event.UpdatedAt = now
	event.SpendAmount = cloneInt(event.SpendAmount)

	m.events[event.SpendTxHash] = event
	m.order = append(m.order, event.SpendTxHash)
	return cloneEvent(event), true, nil
}

func (m *MemoryStore) GetSpendEvent(_ context.Context, spendTxHash string) (SpendEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	event, ok := m.events[spendTxHash]
	if !ok {
		return SpendEvent{}, ErrNotFound
	}
	return cloneEvent(event), nil
}

func (m *MemoryStore) AttachSettlement(_ context.Context, spendTxHash string, result SettlementResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	event, ok := m.events[spendTxHash]
	if !ok {
		return ErrNotFound
	}
	if event.Settled() {
		return ErrAlreadySettled
	}

	at := result.At
	if at.IsZero() {
		at = m.now()
	}
	chainID := result.ChainID
	token := result.Token
	hash := result.TxHash

	event.YieldDepositAmount = cloneInt(result.Amount)
	event.YieldDepositChainID = &chainID
	event.YieldDepositToken = &token
	event.YieldDepositTxHash = &hash
	event.YieldDepositAt = &at
	event.Status = StatusSettled
	event.Reason = nil
	event.UpdatedAt = m.now()
	m.events[spendTxHash] = event
	return nil
}

func (m *MemoryStore) RecordAttempt(_ context.Context, spendTxHash string, status SettlementStatus, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	event, ok := m.events[spendTxHash]
	if !ok {
		return ErrNotFound
	}
	if event.Settled() {
		return ErrAlreadySettled
	}
	if event.Status == StatusSubmitted {
		return ErrNotClaimable
	}

	event.Status = status
	event.Reason = nil
	if reason != "" {
		value := reason
		event.Reason = &value
	}
	event.Attempts++
	event.UpdatedAt = m.now()
	m.events[spendTxHash] = event
	return nil
}

func (m *MemoryStore) ClaimExecution(_ context.Context, spendTxHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	event, ok := m.events[spendTxHash]
	if !ok {
		return ErrNotFound
	}
	if event.Settled() {
		return ErrAlreadySettled
	}
	if !event.Status.Retriable() {
		return ErrNotClaimable
	}
	event.Status = StatusExecuting
	event.UpdatedAt = m.now()
	m.events[spendTxHash] = event
	return nil
}

func (m *MemoryStore) RecordSubmission(_ context.Context, spendTxHash, txHash, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	event, ok := m.events[spendTxHash]
	if !ok {
		return ErrNotFound
	}
	if event.Settled() {
		return ErrAlreadySettled
	}
	hash := txHash
	event.Status = StatusSubmitted
	event.SubmittedTxHash = &hash
	event.Reason = nil
	if reason != "" {
		value := reason
		event.Reason = &value
	}
	event.Attempts++
	event.UpdatedAt = m.now()
	m.events[spendTxHash] = event
	return nil
}

func (m *MemoryStore) AssignAccount(_ context.Context, spendTxHash, accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	event, ok := m.events[spendTxHash]
	if !ok {
		return ErrNotFound
	}
	if event.AccountID != nil {
		return nil
	}
	id := accountID
	event.AccountID = &id
	event.UpdatedAt = m.now()
	m.events[spendTxHash] = event
	return nil
}

func (m *MemoryStore) ListUnsettled(_ context.Context, createdBefore time.Time, maxAttempts, limit int) ([]SpendEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []SpendEvent
	for _, hash := range m.order {
		event := m.events[hash]
		if event.Settled() || !event.Status.Retriable() {
			continue
		}
		if !event.CreatedAt.Before(createdBefore) || event.Attempts >= maxAttempts {
			continue
		}
		out = append(out, cloneEvent(event))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) ListSpendEventsByAccount(_ context.Context, accountID string, limit, offset int) ([]SpendEvent, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []SpendEvent
	for i := len(m.order) - 1; i >= 0; i-- {
		event := m.events[m.order[i]]
		if event.AccountID != nil && *event.AccountID == accountID {
			matched = append(matched, event)
		}
	}

	total := int64(len(matched))
	if offset >= len(matched) {
		return []SpendEvent{}, total, nil
	}
	end := len(matched)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}

	page := make([]SpendEvent, 0, end-offset)
	for _, event := range matched[offset:end] {
		page = append(page, cloneEvent(event))
	}
	return page, total, nil
}

func (m *MemoryStore) ListRecentSpendEvents(_ context.Context, limit int) ([]SpendEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]SpendEvent, 0, limit)
	for i := len(m.order) - 1; i >= 0; i-- {
		out = append(out, cloneEvent(m.events[m.order[i]]))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) ListSettledBetween(_ context.Context, from, to time.Time) ([]SpendEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []SpendEvent
	for _, event := range m.events {
		if !event.Settled() || event.YieldDepositAt == nil {
			continue
		}
		at := *event.YieldDepositAt
		if at.Before(from) || !at.Before(to) {
			continue
		}
		out = append(out, cloneEvent(event))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].YieldDepositAt.Before(*out[j].YieldDepositAt)
	})
	return out, nil
}

func (m *MemoryStore) LockSource(ctx context.Context, address string) (func(), error) {
	return m.sourceLocks.Lock(ctx, strings.ToLower(address))
}

func (m *MemoryStore) TryAdvisoryLock(_ context.Context, key int64) (func(), bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.advisory[key] {
		return nil, false, nil
	}
	m.advisory[key] = true
	return func() {
		m.mu.Lock()
		delete(m.advisory, key)
		m.mu.Unlock()
	}, true, nil
}

func cloneAccount(account Account) Account {
	if account.Delegation != nil {
		account.Delegation = append([]byte(nil), account.Delegation...)
	}
	return account
}

func cloneEvent(event SpendEvent) SpendEvent {
	event.SpendAmount = cloneInt(event.SpendAmount)
	event.YieldDepositAmount = cloneInt(event.YieldDepositAmount)
	return event
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

var _ Repository = (*MemoryStore)(nil)
