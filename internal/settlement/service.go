package settlement

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"autohodl/internal/alerting"
	"autohodl/internal/events"
	"autohodl/internal/storage"
)

// Recorder observes settlement outcomes.
type Recorder interface {
	ObserveSettlement(state, chainMode string)
	ObserveRedeem(d time.Duration, ok bool)
}

// ServiceOptions tune the settlement pipeline.
type ServiceOptions struct {
	// LockTimeout bounds the wait for another settlement of the same token source.
	LockTimeout time.Duration
	// Decimals is used to render amounts for operators.
	Decimals int32
}

// Service persists spend events and drives each through the orchestrator.
type Service struct {
	store        storage.Repository
	resolver     *Resolver
	orchestrator *Orchestrator
	locks        *storage.KeyedLocker
	notifier     alerting.Notifier
	publisher    events.Publisher
	recorder     Recorder
	opts         ServiceOptions
	logger       zerolog.Logger
}

// NewService constructs the pipeline. notifier, publisher and recorder may be nil.
func NewService(store storage.Repository, orchestrator *Orchestrator, notifier alerting.Notifier, publisher events.Publisher, recorder Recorder, opts ServiceOptions, logger zerolog.Logger) *Service {
	return &Service{
		store:        store,
		resolver:     NewResolver(store),
		orchestrator: orchestrator,
		locks:        storage.NewKeyedLocker(),
		notifier:     notifier,
		publisher:    publisher,
		recorder:     recorder,
		opts:         opts,
		logger:       logger.With().Str("component", "settlement").Logger(),
	}
}

// Process records and settles classified events in order. Failures are per event and never
// stop the rest of the batch.
func (s *Service) Process(ctx context.Context, batch []storage.SpendEvent) {
	for _, event := range batch {
		if _, err := s.Ingest(ctx, event); err != nil {
			s.logger.Error().Err(err).Str("spend_tx_hash", event.SpendTxHash).Msg("spend event not processed")
		}
	}
}

// Ingest resolves the account, records the event, and settles it when it is new. The
// returned outcome is nil when the event was already recorded by an earlier delivery.
// An event whose account cannot be resolved is still recorded, pending, for the reconciler.
func (s *Service) Ingest(ctx context.Context, event storage.SpendEvent) (*Outcome, error) {
	account, resolveErr := s.resolver.Resolve(ctx, event.SpendFrom)
	if account != nil {
		id := account.ID
		event.AccountID = &id
	}

	stored, inserted, err := s.store.InsertSpendEvent(ctx, event)
	if err != nil {
		return nil, fmt.Errorf("insert spend event: %w", err)
	}
	if resolveErr != nil {
		if inserted {
			reason := "resolve account: " + resolveErr.Error()
			if err := s.store.RecordAttempt(ctx, event.SpendTxHash, storage.StatusPending, reason); err != nil {
				s.logger.Error().Err(err).Str("spend_tx_hash", event.SpendTxHash).Msg("failed to record resolve failure")
			}
		}
		return nil, fmt.Errorf("resolve account: %w", resolveErr)
	}
	if !inserted {
		s.logger.Info().
			Str("spend_tx_hash", event.SpendTxHash).
			Str("status", string(stored.Status)).
			Msg("spend event already recorded")
		return nil, nil
	}

	outcome, err := s.Settle(ctx, account, stored)
	if err != nil {
		return nil, err
	}
	return &outcome, nil
}

// Settle runs one settlement attempt for a recorded event and persists its result. Attempts
// for the same token source are serialised so the balance check and the spend are not
// interleaved with another settlement drawing on the same funds. The event is claimed as
// executing before anything is submitted; an event already executing or submitted is
// never redeemed again.
func (s *Service) Settle(ctx context.Context, account *storage.Account, event storage.SpendEvent) (Outcome, error) {
	if account != nil && strings.TrimSpace(account.TokenSourceAddress) != "" {
		unlock, err := s.lockSource(ctx, account.TokenSourceAddress)
		if err != nil {
			return Outcome{}, err
		}
		defer unlock()
	}

	current, err := s.store.GetSpendEvent(ctx, event.SpendTxHash)
	if err != nil {
		return Outcome{}, fmt.Errorf("reload spend event: %w", err)
	}
	if current.Settled() {
		s.logger.Info().Str("spend_tx_hash", event.SpendTxHash).Msg("spend event settled by another worker")
		return Outcome{State: StateSettled, Path: []State{StateSettled}, Reason: "already settled"}, nil
	}
	if current.Status == storage.StatusExecuting || current.Status == storage.StatusSubmitted {
		s.logger.Warn().
			Str("spend_tx_hash", event.SpendTxHash).
			Str("status", string(current.Status)).
			Msg("spend event has a submission in flight; not redeeming again")
		return inFlight("submission in flight"), nil
	}
	event = current

	outcome := s.orchestrator.settle(ctx, account, event, func(ctx context.Context) error {
		return s.store.ClaimExecution(ctx, event.SpendTxHash)
	})
	if !outcome.Claimed && (errors.Is(outcome.Err, storage.ErrNotClaimable) || errors.Is(outcome.Err, storage.ErrAlreadySettled)) {
		s.logger.Warn().Str("spend_tx_hash", event.SpendTxHash).Msg("spend event claimed by another worker")
		return inFlight("claimed by another worker"), nil
	}

	s.persist(ctx, event, outcome)
	s.report(ctx, account, event, outcome)
	return outcome, nil
}

func inFlight(reason string) Outcome {
	return Outcome{State: StateExecuting, Path: []State{StateExecuting}, Reason: reason}
}

func (s *Service) lockSource(ctx context.Context, address string) (func(), error) {
	lockCtx := ctx
	if s.opts.LockTimeout > 0 {
		var cancel context.CancelFunc
		lockCtx, cancel = context.WithTimeout(ctx, s.opts.LockTimeout)
		defer cancel()
	}

	key := strings.ToLower(strings.TrimSpace(address))
	release, err := s.locks.Lock(lockCtx, key)
	if err != nil {
		return nil, fmt.Errorf("lock token source %s: %w", key, err)
	}
	unlockStore, err := s.store.LockSource(lockCtx, key)
	if err != nil {
		release()
		return nil, fmt.Errorf("lock token source %s: %w", key, err)
	}
	return func() {
		unlockStore()
		release()
	}, nil
}

func (s *Service) persist(ctx context.Context, event storage.SpendEvent, outcome Outcome) {
	var err error
	switch outcome.State {
	case StateSettled:
		err = s.store.AttachSettlement(ctx, event.SpendTxHash, *outcome.Result)
	case StateSkipped:
		err = s.store.RecordAttempt(ctx, event.SpendTxHash, storage.StatusSkipped, outcome.Reason)
	case StateFailed:
		if outcome.SubmittedTxHash != "" {
			err = s.store.RecordSubmission(ctx, event.SpendTxHash, outcome.SubmittedTxHash, outcome.Reason)
		} else {
			err = s.store.RecordAttempt(ctx, event.SpendTxHash, storage.StatusFailed, outcome.Reason)
		}
	}
	if err == nil {
		return
	}

	logEvent := s.logger.Error()
	if errors.Is(err, storage.ErrAlreadySettled) {
		logEvent = s.logger.Warn()
	}
	if outcome.State == StateSettled {
		// Funds have moved; the row stays executing and must be repaired from the logged hash.
		logEvent = logEvent.Str("yield_deposit_tx_hash", outcome.Result.TxHash)
	}
	if outcome.SubmittedTxHash != "" {
		logEvent = logEvent.Str("submitted_tx_hash", outcome.SubmittedTxHash)
	}
	logEvent.Err(err).
		Str("spend_tx_hash", event.SpendTxHash).
		Str("state", string(outcome.State)).
		Msg("failed to persist settlement outcome")
}

func (s *Service) report(ctx context.Context, account *storage.Account, event storage.SpendEvent, outcome Outcome) {
	chainMode := ""
	accountID := ""
	if account != nil {
		chainMode = string(account.ChainMode)
		accountID = account.ID
	}

	logEvent := s.logger.Info()
	if outcome.State == StateFailed {
		logEvent = s.logger.Error().Err(outcome.Err)
	}
	logEvent = logEvent.
		Str("spend_tx_hash", event.SpendTxHash).
		Str("account_id", accountID).
		Str("state", string(outcome.State)).
		Str("spend_amount", s.format(event.SpendAmount))
	if outcome.Savings != nil {
		logEvent = logEvent.Str("savings", s.format(outcome.Savings))
	}
	if outcome.Reason != "" {
		logEvent = logEvent.Str("reason", outcome.Reason)
	}
	if outcome.SubmittedTxHash != "" {
		logEvent = logEvent.Str("submitted_tx_hash", outcome.SubmittedTxHash)
	}
	if outcome.Result != nil {
		logEvent = logEvent.
			Str("yield_deposit_tx_hash", outcome.Result.TxHash).
			Int64("yield_deposit_chain_id", outcome.Result.ChainID)
	}
	logEvent.Msg("settlement finished")

	if s.recorder != nil {
		s.recorder.ObserveSettlement(string(outcome.State), chainMode)
		if outcome.Redeem > 0 {
			s.recorder.ObserveRedeem(outcome.Redeem, outcome.State == StateSettled)
		}
	}

	if outcome.State == StateFailed && s.notifier != nil {
		note := alerting.Notification{
			SpendTxHash: event.SpendTxHash,
			AccountID:   accountID,
			ChainID:     event.SpendChainID,
			Token:       event.SpendToken,
			SpendAmount: s.toDecimal(event.SpendAmount),
			Savings:     s.toDecimal(outcome.Savings),
			ChainMode:   chainMode,
			Reason:      outcome.Reason,
			Attempts:    event.Attempts + 1,
			OccurredAt:  time.Now().UTC(),
			SubmittedTx: outcome.SubmittedTxHash,
		}
		if err := s.notifier.Notify(ctx, note); err != nil {
			s.logger.Error().Err(err).Str("spend_tx_hash", event.SpendTxHash).Msg("failed to dispatch alert")
		}
	}

	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, s.eventFor(accountID, event, outcome)); err != nil {
			s.logger.Error().Err(err).Str("spend_tx_hash", event.SpendTxHash).Msg("failed to publish outcome")
		}
	}
}

func (s *Service) eventFor(accountID string, event storage.SpendEvent, outcome Outcome) events.Outcome {
	msg := events.Outcome{
		SpendTxHash:  event.SpendTxHash,
		SpendChainID: event.SpendChainID,
		AccountID:    accountID,
		Status:       string(outcome.State),
		Reason:       outcome.Reason,
		SpendAmount:  bigString(event.SpendAmount),
		Savings:      bigString(outcome.Savings),
		OccurredAt:   time.Now().UTC(),
	}
	if outcome.Result != nil {
		msg.DepositAmount = bigString(outcome.Result.Amount)
		msg.DepositChain = outcome.Result.ChainID
		msg.DepositTxHash = outcome.Result.TxHash
		msg.OccurredAt = outcome.Result.At
	}
	return msg
}

func (s *Service) toDecimal(v *big.Int) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, -s.opts.Decimals)
}

func (s *Service) format(v *big.Int) string {
	return s.toDecimal(v).String()
}

func bigString(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}
