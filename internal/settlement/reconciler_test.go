package settlement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autohodl/internal/chain"
	"autohodl/internal/storage"
)

func newTestReconciler(h *harness, opts ReconcilerOptions) *Reconciler {
	return NewReconciler(h.service, h.repo, h.recorder, opts, zerolog.Nop())
}

func TestReconcilerRetriesFailedEvents(t *testing.T) {
	h := newHarness(5_000_000)
	past := time.Now().Add(-time.Hour)
	h.store.SetClock(func() time.Time { return past })
	h.store.PutAccount(singleChainAccount())
	ctx := context.Background()

	h.redeemer.err = errBoom
	h.service.Process(ctx, []storage.SpendEvent{spendEvent("0xf", 700_000)})
	h.redeemer.err = nil

	r := newTestReconciler(h, ReconcilerOptions{MinAge: time.Minute, MaxAttempts: 3, LockKey: 42})
	res, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, PassResult{Candidates: 1, Settled: 1}, res)
	assert.Equal(t, 1, h.recorder.reconciled["settled"])
	// a plain redeem error means nothing was broadcast, so a second redeem is expected
	assert.Equal(t, 2, h.redeemer.count())

	stored, err := h.store.GetSpendEvent(ctx, "0xf")
	require.NoError(t, err)
	assert.True(t, stored.Settled())

	res, err = r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Candidates, "settled events are never retried")
}

func TestReconcilerIgnoresSkippedAndUnmatched(t *testing.T) {
	h := newHarness(5_000_000)
	past := time.Now().Add(-time.Hour)
	h.store.SetClock(func() time.Time { return past })
	h.store.PutAccount(singleChainAccount())
	ctx := context.Background()

	unmatched := spendEvent("0xc", 700_000)
	unmatched.SpendFrom = "0x0000000000000000000000000000000000000bad"
	h.service.Process(ctx, []storage.SpendEvent{spendEvent("0xa", 1_000_000), unmatched})

	res, err := newTestReconciler(h, ReconcilerOptions{MaxAttempts: 3}).RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Candidates)
}

func TestReconcilerRespectsMaxAttempts(t *testing.T) {
	h := newHarness(5_000_000)
	past := time.Now().Add(-time.Hour)
	h.store.SetClock(func() time.Time { return past })
	h.store.PutAccount(singleChainAccount())
	h.redeemer.err = errBoom
	ctx := context.Background()

	h.service.Process(ctx, []storage.SpendEvent{spendEvent("0xf", 700_000)})

	r := newTestReconciler(h, ReconcilerOptions{MaxAttempts: 2})
	res, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	res, err = r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Candidates)

	stored, err := h.store.GetSpendEvent(ctx, "0xf")
	require.NoError(t, err)
	assert.Equal(t, 2, stored.Attempts)
	assert.Len(t, h.notifier.notes, 2)
}

func TestReconcilerSkipsWhenLockHeld(t *testing.T) {
	h := newHarness(5_000_000)
	ctx := context.Background()

	unlock, ok, err := h.store.TryAdvisoryLock(ctx, 7)
	require.NoError(t, err)
	require.True(t, ok)
	defer unlock()

	r := newTestReconciler(h, ReconcilerOptions{LockKey: 7})
	res, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, res.Locked)
	require.NoError(t, r.Tick(ctx, time.Now()))
}

func TestReconcilerMinAge(t *testing.T) {
	h := newHarness(5_000_000)
	h.store.PutAccount(singleChainAccount())
	h.redeemer.err = errBoom
	ctx := context.Background()

	h.service.Process(ctx, []storage.SpendEvent{spendEvent("0xf", 700_000)})

	res, err := newTestReconciler(h, ReconcilerOptions{MinAge: time.Hour}).RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Candidates)
}

func TestReconcilerDoesNotRedeemAgainWhenAttachFails(t *testing.T) {
	h := newHarness(5_000_000)
	past := time.Now().Add(-time.Hour)
	h.store.SetClock(func() time.Time { return past })
	account := h.store.PutAccount(singleChainAccount())
	h.useStore(&flakyStore{MemoryStore: h.store, attachFailures: 1})
	ctx := context.Background()

	h.service.Process(ctx, []storage.SpendEvent{spendEvent("0xf", 700_000)})
	require.Equal(t, 1, h.redeemer.count())

	stored, err := h.store.GetSpendEvent(ctx, "0xf")
	require.NoError(t, err)
	assert.False(t, stored.Settled())
	assert.Equal(t, storage.StatusExecuting, stored.Status)

	res, err := newTestReconciler(h, ReconcilerOptions{MaxAttempts: 3}).RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Candidates)
	assert.Equal(t, 1, h.redeemer.count())

	outcome, err := h.service.Settle(ctx, &account, stored)
	require.NoError(t, err)
	assert.Equal(t, StateExecuting, outcome.State)
	assert.Equal(t, 1, h.redeemer.count())
}

func TestReconcilerDoesNotRetryAmbiguousSubmission(t *testing.T) {
	h := newHarness(5_000_000)
	past := time.Now().Add(-time.Hour)
	h.store.SetClock(func() time.Time { return past })
	h.store.PutAccount(singleChainAccount())
	ctx := context.Background()

	signed := common.HexToHash("0xabc")
	h.redeemer.err = &chain.SubmissionError{Hash: signed, Err: errors.New("connection reset by peer")}
	h.service.Process(ctx, []storage.SpendEvent{spendEvent("0xf", 700_000)})
	h.redeemer.err = nil

	stored, err := h.store.GetSpendEvent(ctx, "0xf")
	require.NoError(t, err)
	assert.Equal(t, storage.StatusSubmitted, stored.Status)
	require.NotNil(t, stored.SubmittedTxHash)
	assert.Equal(t, signed.Hex(), *stored.SubmittedTxHash)
	require.Len(t, h.notifier.notes, 1)
	assert.Equal(t, signed.Hex(), h.notifier.notes[0].SubmittedTx)

	res, err := newTestReconciler(h, ReconcilerOptions{MaxAttempts: 3}).RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Candidates)
	assert.Equal(t, 1, h.redeemer.count())
}

func TestReconcilerResolvesEventsRecordedWithoutAccount(t *testing.T) {
	h := newHarness(5_000_000)
	past := time.Now().Add(-time.Hour)
	h.store.SetClock(func() time.Time { return past })
	account := h.store.PutAccount(singleChainAccount())
	h.useStore(&flakyStore{MemoryStore: h.store, findFailures: 1})
	ctx := context.Background()

	_, err := h.service.Ingest(ctx, spendEvent("0xf", 700_000))
	require.ErrorIs(t, err, errStoreDown)

	stored, err := h.store.GetSpendEvent(ctx, "0xf")
	require.NoError(t, err, "the event is recorded even though resolution failed")
	assert.Nil(t, stored.AccountID)
	assert.Equal(t, storage.StatusPending, stored.Status)
	require.NotNil(t, stored.Reason)
	assert.Contains(t, *stored.Reason, "resolve account")
	assert.Zero(t, h.redeemer.count())

	res, err := newTestReconciler(h, ReconcilerOptions{MaxAttempts: 3}).RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, PassResult{Candidates: 1, Settled: 1}, res)

	stored, err = h.store.GetSpendEvent(ctx, "0xf")
	require.NoError(t, err)
	require.NotNil(t, stored.AccountID)
	assert.Equal(t, account.ID, *stored.AccountID)
	assert.True(t, stored.Settled())
	assert.Equal(t, 1, h.redeemer.count())
}
