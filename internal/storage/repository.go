package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("storage: not found")
	// ErrAlreadySettled is returned when settlement fields are already populated.
	ErrAlreadySettled = errors.New("storage: spend event already settled")
	// ErrNotClaimable is returned when an unsettled event is not in a retriable status.
	ErrNotClaimable = errors.New("storage: spend event not claimable")
)

// sourceLockNamespace is the first key of the two-key advisory lock used per token source.
const sourceLockNamespace int32 = 0x686f64

const (
	accountColumns = `
        id::text,
        signer_address,
        deploy_salt,
        trigger_address,
        token_source_address,
        savings_address,
        round_up_to_dollar::text,
        round_up_mode,
        chain_mode,
        chain_id,
        circle_address,
        delegation::text,
        created_at`

	findAccountByTriggerSQL = `SELECT` + accountColumns + `
    FROM accounts
    WHERE lower(trigger_address) = lower($1)
    ORDER BY created_at
    LIMIT 1;`

	findAccountBySignerSQL = `SELECT` + accountColumns + `
    FROM accounts
    WHERE lower(signer_address) = lower($1)
      AND deploy_salt = $2
    LIMIT 1;`

	getAccountSQL = `SELECT` + accountColumns + `
    FROM accounts
    WHERE id = $1::text::uuid;`

	updateChainModeSQL = `UPDATE accounts
    SET chain_mode = $2, chain_id = $3
    WHERE id = $1::text::uuid
    RETURNING` + accountColumns + `;`

	upsertAccountSQL = `INSERT INTO accounts (
        signer_address,
        deploy_salt,
        trigger_address,
        token_source_address,
        savings_address,
        round_up_to_dollar,
        round_up_mode,
        chain_mode,
        chain_id,
        circle_address,
        delegation
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11::text::jsonb
    )
    ON CONFLICT (signer_address, deploy_salt) DO UPDATE
    SET
        trigger_address      = EXCLUDED.trigger_address,
        token_source_address = EXCLUDED.token_source_address,
        savings_address      = EXCLUDED.savings_address,
        round_up_to_dollar   = EXCLUDED.round_up_to_dollar,
        round_up_mode        = EXCLUDED.round_up_mode,
        chain_mode           = EXCLUDED.chain_mode,
        chain_id             = EXCLUDED.chain_id,
        circle_address       = EXCLUDED.circle_address,
        delegation           = EXCLUDED.delegation
    RETURNING` + accountColumns + `;`

	spendEventColumns = `
        id::text,
        spend_tx_hash,
        spend_from,
        spend_to,
        spend_token,
        spend_amount::text,
        spend_chain_id,
        spend_at,
        account_id::text,
        settlement_status,
        settlement_reason,
        settlement_attempts,
        submitted_tx_hash,
        yield_deposit_amount::text,
        yield_deposit_chain_id,
        yield_deposit_token,
        yield_deposit_tx_hash,
        yield_deposit_at,
        created_at,
        updated_at`

	insertSpendEventSQL = `INSERT INTO txs (
        spend_tx_hash,
        spend_from,
        spend_to,
        spend_token,
        spend_amount,
        spend_chain_id,
        spend_at,
        account_id
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8::text::uuid
    )
    ON CONFLICT (spend_tx_hash) DO NOTHING
    RETURNING` + spendEventColumns + `;`

	getSpendEventSQL = `SELECT` + spendEventColumns + `
    FROM txs
    WHERE spend_tx_hash = $1;`

	attachSettlementSQL = `UPDATE txs
    SET
        yield_deposit_amount   = $2,
        yield_deposit_chain_id = $3,
        yield_deposit_token    = $4,
        yield_deposit_tx_hash  = $5,
        yield_deposit_at       = $6,
        settlement_status      = 'settled',
        settlement_reason      = NULL,
        updated_at             = now()
    WHERE spend_tx_hash = $1
      AND yield_deposit_tx_hash IS NULL;`

	recordAttemptSQL = `UPDATE txs
    SET
        settlement_status   = $2,
        settlement_reason   = $3,
        settlement_attempts = settlement_attempts + 1,
        updated_at          = now()
    WHERE spend_tx_hash = $1
      AND yield_deposit_tx_hash IS NULL
      AND settlement_status <> 'submitted';`

	claimExecutionSQL = `UPDATE txs
    SET
        settlement_status = 'executing',
        updated_at        = now()
    WHERE spend_tx_hash = $1
      AND yield_deposit_tx_hash IS NULL
      AND settlement_status IN ('pending', 'failed');`

	recordSubmissionSQL = `UPDATE txs
    SET
        settlement_status   = 'submitted',
        submitted_tx_hash   = $2,
        settlement_reason   = $3,
        settlement_attempts = settlement_attempts + 1,
        updated_at          = now()
    WHERE spend_tx_hash = $1
      AND yield_deposit_tx_hash IS NULL;`

	assignAccountSQL = `UPDATE txs
    SET
        account_id = $2::text::uuid,
        updated_at = now()
    WHERE spend_tx_hash = $1
      AND account_id IS NULL;`

	listUnsettledSQL = `SELECT` + spendEventColumns + `
    FROM txs
    WHERE yield_deposit_tx_hash IS NULL
      AND settlement_status IN ('pending', 'failed')
      AND created_at < $1
      AND settlement_attempts < $2
    ORDER BY created_at
    LIMIT $3;`

	listByAccountSQL = `SELECT` + spendEventColumns + `
    FROM txs
    WHERE account_id = $1::text::uuid
    ORDER BY created_at DESC
    LIMIT $2 OFFSET $3;`

	countByAccountSQL = `SELECT COUNT(*) FROM txs WHERE account_id = $1::text::uuid;`

	listRecentSpendEventsSQL = `SELECT` + spendEventColumns + `
    FROM txs
    ORDER BY created_at DESC
    LIMIT $1;`

	listSettledBetweenSQL = `SELECT` + spendEventColumns + `
    FROM txs
    WHERE yield_deposit_tx_hash IS NOT NULL
      AND yield_deposit_at >= $1
      AND yield_deposit_at < $2
    ORDER BY yield_deposit_at;`

	lockSourceSQL   = `SELECT pg_advisory_lock($1::int, hashtext(lower($2)));`
	unlockSourceSQL = `SELECT pg_advisory_unlock($1::int, hashtext(lower($2)));`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// AccountStore defines the account lookups the settlement engine and API need.
type AccountStore interface {
	FindAccountByTriggerAddress(ctx context.Context, address string) (Account, error)
	FindAccountBySigner(ctx context.Context, signer, deploySalt string) (Account, error)
	GetAccount(ctx context.Context, id string) (Account, error)
	UpdateChainMode(ctx context.Context, id string, mode ChainMode, chainID string) (Account, error)
}

// SpendEventStore defines spend event persistence.
type SpendEventStore interface {
	// InsertSpendEvent stores a new event. When the hash already exists the stored row is
	// returned with inserted=false.
	InsertSpendEvent(ctx context.Context, event SpendEvent) (stored SpendEvent, inserted bool, err error)
	GetSpendEvent(ctx context.Context, spendTxHash string) (SpendEvent, error)
	AttachSettlement(ctx context.Context, spendTxHash string, result SettlementResult) error
	RecordAttempt(ctx context.Context, spendTxHash string, status SettlementStatus, reason string) error
	// ClaimExecution moves a pending or failed event to executing. Anything else yields
	// ErrNotClaimable or ErrAlreadySettled.
	ClaimExecution(ctx context.Context, spendTxHash string) error
	// RecordSubmission parks an event whose broadcast outcome is unknown under txHash.
	RecordSubmission(ctx context.Context, spendTxHash, txHash, reason string) error
	// AssignAccount links an event recorded without an account.
	AssignAccount(ctx context.Context, spendTxHash, accountID string) error
	ListUnsettled(ctx context.Context, createdBefore time.Time, maxAttempts, limit int) ([]SpendEvent, error)
	ListSpendEventsByAccount(ctx context.Context, accountID string, limit, offset int) ([]SpendEvent, int64, error)
	ListRecentSpendEvents(ctx context.Context, limit int) ([]SpendEvent, error)
	ListSettledBetween(ctx context.Context, from, to time.Time) ([]SpendEvent, error)
}

// SourceLocker serialises settlement per token source address.
type SourceLocker interface {
	LockSource(ctx context.Context, address string) (unlock func(), err error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Repository is the full persistence surface used by the application.
type Repository interface {
	AccountStore
	SpendEventStore
	SourceLocker
	AdvisoryLocker
	Close()
}

// Store aggregates access to accounts and spend events in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// session ends with the connection; drop it so the lock cannot leak
			conn.Conn().Close(ctxUnlock)
		}
		conn.Release()
	}
	return unlock, true, nil
}

// LockSource blocks until the session advisory lock for address is held.
func (s *Store) LockSource(ctx context.Context, address string) (func(), error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}

	if _, err := conn.Exec(ctx, lockSourceSQL, sourceLockNamespace, address); err != nil {
		conn.Release()
		return nil, fmt.Errorf("lock token source: %w", err)
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, unlockSourceSQL, sourceLockNamespace, address); err != nil {
			conn.Conn().Close(ctxUnlock)
		}
		conn.Release()
	}
	return unlock, nil
}

// FindAccountByTriggerAddress returns the account monitoring address, compared case-insensitively.
func (s *Store) FindAccountByTriggerAddress(ctx context.Context, address string) (Account, error) {
	return s.queryAccount(ctx, "find account by trigger", findAccountByTriggerSQL, address)
}

// FindAccountBySigner returns the account for a signer and deploy salt.
func (s *Store) FindAccountBySigner(ctx context.Context, signer, deploySalt string) (Account, error) {
	return s.queryAccount(ctx, "find account by signer", findAccountBySignerSQL, signer, deploySalt)
}

// GetAccount loads an account by id.
func (s *Store) GetAccount(ctx context.Context, id string) (Account, error) {
	return s.queryAccount(ctx, "get account", getAccountSQL, id)
}

// UpdateChainMode switches the settlement path of an account.
func (s *Store) UpdateChainMode(ctx context.Context, id string, mode ChainMode, chainID string) (Account, error) {
	var chain interface{}
	if chainID != "" {
		chain = chainID
	}
	return s.queryAccount(ctx, "update chain mode", updateChainModeSQL, id, string(mode), chain)
}

// UpsertAccount creates or replaces the account keyed by signer and deploy salt.
func (s *Store) UpsertAccount(ctx context.Context, account Account) (Account, error) {
	var delegation interface{}
	if account.HasDelegation() {
		delegation = string(account.Delegation)
	}
	mode := account.ChainMode
	if mode == "" {
		mode = ChainModeSingle
	}
	roundUpMode := account.RoundUpMode
	if roundUpMode == "" {
		roundUpMode = "classic"
	}
	return s.queryAccount(ctx, "upsert account", upsertAccountSQL,
		account.SignerAddress,
		account.DeploySalt,
		account.TriggerAddress,
		account.TokenSourceAddress,
		nullableString(account.SavingsAddress),
		account.RoundUpToDollar.String(),
		roundUpMode,
		string(mode),
		nullableString(account.ChainID),
		nullableString(account.CircleAddress),
		delegation,
	)
}

func (s *Store) queryAccount(ctx context.Context, op, query string, args ...interface{}) (Account, error) {
	pool, err := s.getPool()
	if err != nil {
		return Account{}, err
	}

	account, err := scanAccount(pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, fmt.Errorf("%s: %w", op, err)
	}
	return account, nil
}

// InsertSpendEvent records a raw spend event, keyed by its transaction hash.
func (s *Store) InsertSpendEvent(ctx context.Context, event SpendEvent) (SpendEvent, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return SpendEvent{}, false, err
	}
	if event.SpendAmount == nil {
		return SpendEvent{}, false, fmt.Errorf("insert spend event: amount is required")
	}

	stored, err := scanSpendEvent(pool.QueryRow(ctx, insertSpendEventSQL,
		event.SpendTxHash,
		event.SpendFrom,
		event.SpendTo,
		event.SpendToken,
		event.SpendAmount.String(),
		event.SpendChainID,
		event.SpendAt,
		nullableString(event.AccountID),
	))
	if err == nil {
		return stored, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return SpendEvent{}, false, fmt.Errorf("insert spend event: %w", err)
	}

	existing, err := s.GetSpendEvent(ctx, event.SpendTxHash)
	if err != nil {
		return SpendEvent{}, false, err
	}
	return existing, false, nil
}

// GetSpendEvent loads a spend event by its transaction hash.
func (s *Store) GetSpendEvent(ctx context.Context, spendTxHash string) (SpendEvent, error) {
	pool, err := s.getPool()
	if err != nil {
		return SpendEvent{}, err
	}
	event, err := scanSpendEvent(pool.QueryRow(ctx, getSpendEventSQL, spendTxHash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SpendEvent{}, ErrNotFound
		}
		return SpendEvent{}, fmt.Errorf("get spend event: %w", err)
	}
	return event, nil
}

// AttachSettlement writes the settlement result fields exactly once.
func (s *Store) AttachSettlement(ctx context.Context, spendTxHash string, result SettlementResult) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if result.Amount == nil || result.TxHash == "" {
		return fmt.Errorf("attach settlement: amount and tx hash are required")
	}

	at := result.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	cmdTag, execErr := pool.Exec(ctx, attachSettlementSQL,
		spendTxHash,
		result.Amount.String(),
		result.ChainID,
		result.Token,
		result.TxHash,
		at,
	)
	if execErr != nil {
		return fmt.Errorf("attach settlement: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return s.missingOrSettled(ctx, spendTxHash)
	}
	return nil
}

// RecordAttempt stores a non-settled outcome without touching settlement fields.
func (s *Store) RecordAttempt(ctx context.Context, spendTxHash string, status SettlementStatus, reason string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if status == StatusSettled {
		return fmt.Errorf("record attempt: use AttachSettlement for settled outcomes")
	}

	var reasonArg interface{}
	if reason != "" {
		reasonArg = reason
	}

	cmdTag, execErr := pool.Exec(ctx, recordAttemptSQL, spendTxHash, string(status), reasonArg)
	if execErr != nil {
		return fmt.Errorf("record attempt: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return s.missingOrSettled(ctx, spendTxHash)
	}
	return nil
}

// ClaimExecution marks an event as executing ahead of submission.
func (s *Store) ClaimExecution(ctx context.Context, spendTxHash string) error {
	return s.updateSpendEvent(ctx, "claim execution", claimExecutionSQL, spendTxHash)
}

// RecordSubmission stores the hash of a broadcast that may or may not have landed.
func (s *Store) RecordSubmission(ctx context.Context, spendTxHash, txHash, reason string) error {
	if txHash == "" {
		return fmt.Errorf("record submission: tx hash is required")
	}
	var reasonArg interface{}
	if reason != "" {
		reasonArg = reason
	}
	return s.updateSpendEvent(ctx, "record submission", recordSubmissionSQL, spendTxHash, txHash, reasonArg)
}

// AssignAccount sets the account of an event that was recorded before it could be resolved.
func (s *Store) AssignAccount(ctx context.Context, spendTxHash, accountID string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	cmdTag, execErr := pool.Exec(ctx, assignAccountSQL, spendTxHash, accountID)
	if execErr != nil {
		return fmt.Errorf("assign account: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		if _, err := s.GetSpendEvent(ctx, spendTxHash); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) updateSpendEvent(ctx context.Context, op, query, spendTxHash string, args ...interface{}) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	cmdTag, execErr := pool.Exec(ctx, query, append([]interface{}{spendTxHash}, args...)...)
	if execErr != nil {
		return fmt.Errorf("%s: %w", op, execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return s.missingOrSettled(ctx, spendTxHash)
	}
	return nil
}

func (s *Store) missingOrSettled(ctx context.Context, spendTxHash string) error {
	event, err := s.GetSpendEvent(ctx, spendTxHash)
	if err != nil {
		return err
	}
	if event.Settled() {
		return ErrAlreadySettled
	}
	return ErrNotClaimable
}

// ListUnsettled returns pending or failed events still awaiting a deposit. Events without an
// account are included so their account can be resolved again.
func (s *Store) ListUnsettled(ctx context.Context, createdBefore time.Time, maxAttempts, limit int) ([]SpendEvent, error) {
	return s.querySpendEvents(ctx, "list unsettled", limit, listUnsettledSQL, createdBefore, maxAttempts, limit)
}

// ListSpendEventsByAccount pages an account's events newest first and returns the total count.
func (s *Store) ListSpendEventsByAccount(ctx context.Context, accountID string, limit, offset int) ([]SpendEvent, int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, 0, err
	}

	var total int64
	if scanErr := pool.QueryRow(ctx, countByAccountSQL, accountID).Scan(&total); scanErr != nil {
		return nil, 0, fmt.Errorf("count spend events: %w", scanErr)
	}

	events, err := s.querySpendEvents(ctx, "list spend events by account", limit, listByAccountSQL, accountID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return events, total, nil
}

// ListRecentSpendEvents lists the most recent events.
func (s *Store) ListRecentSpendEvents(ctx context.Context, limit int) ([]SpendEvent, error) {
	return s.querySpendEvents(ctx, "list recent spend events", limit, listRecentSpendEventsSQL, limit)
}

// ListSettledBetween lists deposits made within a time window.
func (s *Store) ListSettledBetween(ctx context.Context, from, to time.Time) ([]SpendEvent, error) {
	return s.querySpendEvents(ctx, "list settled between", 0, listSettledBetweenSQL, from, to)
}

func (s *Store) querySpendEvents(ctx context.Context, op string, capacity int, query string, args ...interface{}) ([]SpendEvent, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, query, args...)
	if queryErr != nil {
		return nil, fmt.Errorf("%s: %w", op, queryErr)
	}
	defer rows.Close()

	events := make([]SpendEvent, 0, capacity)
	for rows.Next() {
		event, scanErr := scanSpendEvent(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("%s: %w", op, scanErr)
		}
		events = append(events, event)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return events, nil
}

func scanAccount(row pgx.Row) (Account, error) {
	var (
		account       Account
		savings       sql.NullString
		roundUpStr    string
		chainMode     string
		chainID       sql.NullString
		circleAddress sql.NullString
		delegation    sql.NullString
	)

	if err := row.Scan(
		&account.ID,
		&account.SignerAddress,
		&account.DeploySalt,
		&account.TriggerAddress,
		&account.TokenSourceAddress,
		&savings,
		&roundUpStr,
		&account.RoundUpMode,
		&chainMode,
		&chainID,
		&circleAddress,
		&delegation,
		&account.CreatedAt,
	); err != nil {
		return Account{}, err
	}

	roundUp, err := decimal.NewFromString(roundUpStr)
	if err != nil {
		return Account{}, fmt.Errorf("parse round_up_to_dollar: %w", err)
	}
	account.RoundUpToDollar = roundUp
	account.ChainMode = ChainMode(chainMode)
	account.SavingsAddress = stringPtr(savings)
	account.ChainID = stringPtr(chainID)
	account.CircleAddress = stringPtr(circleAddress)
	if delegation.Valid {
		account.Delegation = []byte(delegation.String)
	}
	return account, nil
}

func scanSpendEvent(row pgx.Row) (SpendEvent, error) {
	var (
		event        SpendEvent
		amountStr    string
		accountID    sql.NullString
		status       string
		reason       sql.NullString
		submitted    sql.NullString
		depositAmt   sql.NullString
		depositChain sql.NullInt64
		depositToken sql.NullString
		depositHash  sql.NullString
		depositAt    sql.NullTime
	)

	if err := row.Scan(
		&event.ID,
		&event.SpendTxHash,
		&event.SpendFrom,
		&event.SpendTo,
		&event.SpendToken,
		&amountStr,
		&event.SpendChainID,
		&event.SpendAt,
		&accountID,
		&status,
		&reason,
		&event.Attempts,
		&submitted,
		&depositAmt,
		&depositChain,
		&depositToken,
		&depositHash,
		&depositAt,
		&event.CreatedAt,
		&event.UpdatedAt,
	); err != nil {
		return SpendEvent{}, err
	}

	amount, ok := new(big.Int).SetString(amountStr, 10)
	if !ok {
		return SpendEvent{}, fmt.Errorf("parse spend_amount %q", amountStr)
	}
	event.SpendAmount = amount
	event.AccountID = stringPtr(accountID)
	event.Status = SettlementStatus(status)
	event.Reason = stringPtr(reason)
	event.SubmittedTxHash = stringPtr(submitted)

	if depositAmt.Valid {
		value, ok := new(big.Int).SetString(depositAmt.String, 10)
		if !ok {
			return SpendEvent{}, fmt.Errorf("parse yield_deposit_amount %q", depositAmt.String)
		}
		event.YieldDepositAmount = value
	}
	if depositChain.Valid {
		value := depositChain.Int64
		event.YieldDepositChainID = &value
	}
	event.YieldDepositToken = stringPtr(depositToken)
	event.YieldDepositTxHash = stringPtr(depositHash)
	if depositAt.Valid {
		value := depositAt.Time
		event.YieldDepositAt = &value
	}
	return event, nil
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	value := v.String
	return &value
}

func nullableString(v *string) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

var _ Repository = (*Store)(nil)
