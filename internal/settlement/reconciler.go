package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"autohodl/internal/storage"
)

// ReconcileRecorder observes reconciler retries.
type ReconcileRecorder interface {
	ObserveReconciled(state string)
}

// ReconcilerOptions bound one reconciliation pass.
type ReconcilerOptions struct {
	// MinAge keeps the reconciler away from events the inbound path is still settling.
	MinAge      time.Duration
	MaxAttempts int
	BatchSize   int
	// LockKey makes passes mutually exclusive across processes; zero disables the lock.
	LockKey int64
}

// PassResult summarises one reconciliation pass.
type PassResult struct {
	Candidates int
	Settled    int
	Skipped    int
	Failed     int
	Errors     int
	Locked     bool
}

// Reconciler re-attempts settlement of recorded events that are pending or failed with empty
// yield fields. Executing and submitted events are left for repair from the chain.
type Reconciler struct {
	service  *Service
	store    storage.Repository
	recorder ReconcileRecorder
	opts     ReconcilerOptions
	logger   zerolog.Logger
	now      func() time.Time
}

// NewReconciler constructs a Reconciler. recorder may be nil.
func NewReconciler(service *Service, store storage.Repository, recorder ReconcileRecorder, opts ReconcilerOptions, logger zerolog.Logger) *Reconciler {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	return &Reconciler{
		service:  service,
		store:    store,
		recorder: recorder,
		opts:     opts,
		logger:   logger.With().Str("component", "reconciler").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Tick adapts RunOnce to the scheduler's tick signature.
func (r *Reconciler) Tick(ctx context.Context, at time.Time) error {
	res, err := r.RunOnce(ctx)
	if err != nil {
		return err
	}
	if res.Locked {
		r.logger.Debug().Time("tick", at).Msg("skip pass because advisory lock held elsewhere")
		return nil
	}
	if res.Candidates > 0 {
		r.logger.Info().Time("tick", at).
			Int("candidates", res.Candidates).
			Int("settled", res.Settled).
			Int("skipped", res.Skipped).
			Int("failed", res.Failed).
			Int("errors", res.Errors).
			Msg("reconciliation pass finished")
	}
	return nil
}

// RunOnce executes a single pass.
func (r *Reconciler) RunOnce(ctx context.Context) (PassResult, error) {
	unlock, proceed, err := r.acquireLock(ctx)
	if err != nil {
		return PassResult{}, err
	}
	if !proceed {
		return PassResult{Locked: true}, nil
	}
	if unlock != nil {
		defer unlock()
	}

	candidates, err := r.store.ListUnsettled(ctx, r.now().Add(-r.opts.MinAge), r.opts.MaxAttempts, r.opts.BatchSize)
	if err != nil {
		return PassResult{}, fmt.Errorf("list unsettled: %w", err)
	}

	res := PassResult{Candidates: len(candidates)}
	for _, event := range candidates {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		state, err := r.retry(ctx, event)
		if err != nil {
			res.Errors++
			r.logger.Error().Err(err).Str("spend_tx_hash", event.SpendTxHash).Msg("reconcile spend event")
			continue
		}
		switch state {
		case StateSettled:
			res.Settled++
		case StateSkipped:
			res.Skipped++
		case StateFailed:
			res.Failed++
		}
		if r.recorder != nil {
			r.recorder.ObserveReconciled(string(state))
		}
	}
	return res, nil
}

func (r *Reconciler) retry(ctx context.Context, event storage.SpendEvent) (State, error) {
	account, err := r.account(ctx, event)
	if err != nil {
		return "", err
	}
	outcome, err := r.service.Settle(ctx, account, event)
	if err != nil {
		return "", err
	}
	return outcome.State, nil
}

// account loads the event's account, resolving it again when the event was recorded while
// resolution failed. A nil account settles as unmatched.
func (r *Reconciler) account(ctx context.Context, event storage.SpendEvent) (*storage.Account, error) {
	if event.AccountID != nil {
		account, err := r.store.GetAccount(ctx, *event.AccountID)
		if err != nil {
			return nil, fmt.Errorf("load account %s: %w", *event.AccountID, err)
		}
		return &account, nil
	}

	account, err := r.service.resolver.Resolve(ctx, event.SpendFrom)
	if err != nil {
		reason := "resolve account: " + err.Error()
		if recErr := r.store.RecordAttempt(ctx, event.SpendTxHash, storage.StatusPending, reason); recErr != nil {
			r.logger.Error().Err(recErr).Str("spend_tx_hash", event.SpendTxHash).Msg("failed to record resolve failure")
		}
		return nil, fmt.Errorf("resolve account: %w", err)
	}
	if account == nil {
		return nil, nil
	}
	if err := r.store.AssignAccount(ctx, event.SpendTxHash, account.ID); err != nil {
		return nil, fmt.Errorf("assign account %s: %w", account.ID, err)
	}
	return account, nil
}

func (r *Reconciler) acquireLock(ctx context.Context) (func(), bool, error) {
	if r.opts.LockKey == 0 || r.store == nil {
		return nil, true, nil
	}
	unlock, acquired, err := r.store.TryAdvisoryLock(ctx, r.opts.LockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
