package settlement

import (
	"context"
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autohodl/internal/bridge"
	"autohodl/internal/chain"
	"autohodl/internal/delegation"
	"autohodl/internal/storage"
)

func TestSettleSingleChainBuildsApproveAndSupply(t *testing.T) {
	h := newHarness(5_000_000)
	account := singleChainAccount()

	outcome := h.orchestrator().Settle(context.Background(), &account, spendEvent("0xb", 700_000))

	require.Equal(t, StateSettled, outcome.State, outcome.Reason)
	assert.Equal(t, []State{StatePending, StateValidated, StateExecuting, StateSettled}, outcome.Path)
	assert.Equal(t, "300000", outcome.Savings.String())
	require.NotNil(t, outcome.Result)
	assert.Equal(t, "300000", outcome.Result.Amount.String())
	assert.Equal(t, lineaChain, outcome.Result.ChainID)
	assert.Equal(t, usdc, outcome.Result.Token)
	assert.Equal(t, common.HexToHash("0xfeed").Hex(), outcome.Result.TxHash)

	require.Equal(t, 1, h.redeemer.count())
	call := h.redeemer.calls[0]
	require.Len(t, call.delegations, 2)
	require.Len(t, call.batches, 2)
	assert.Equal(t, common.HexToAddress(tokenSource), call.delegations[0].Delegator)

	approve, err := chain.EncodeApprove(common.HexToAddress(pool), big.NewInt(300_000))
	require.NoError(t, err)
	supply, err := chain.EncodeSupply(common.HexToAddress(usdc), big.NewInt(300_000), common.HexToAddress(tokenSource), 0)
	require.NoError(t, err)

	require.Len(t, call.batches[0], 1)
	assert.Equal(t, common.HexToAddress(usdc), call.batches[0][0].Target)
	assert.Equal(t, approve, call.batches[0][0].CallData)
	require.Len(t, call.batches[1], 1)
	assert.Equal(t, common.HexToAddress(pool), call.batches[1][0].Target)
	assert.Equal(t, supply, call.batches[1][0].CallData)

	assert.Equal(t, usdc, h.balances.token)
	assert.Equal(t, tokenSource, h.balances.owner)
}

func TestSettleSkipReasons(t *testing.T) {
	noDelegation := singleChainAccount()
	noDelegation.Delegation = nil

	badUnit := singleChainAccount()
	badUnit.RoundUpToDollar = decimal.Zero

	badMode := singleChainAccount()
	badMode.ChainMode = "sideways"

	multiNoCircle := singleChainAccount()
	multiNoCircle.ChainMode = storage.ChainModeMulti

	tests := []struct {
		name    string
		account *storage.Account
		amount  int64
		balance int64
		reason  Reason
	}{
		{"no account", nil, 700_000, 5_000_000, ReasonNoAccount},
		{"zero unit", &badUnit, 700_000, 5_000_000, ReasonMisconfigured},
		{"unknown mode", &badMode, 700_000, 5_000_000, ReasonMisconfigured},
		{"multi without destination", &multiNoCircle, 700_000, 5_000_000, ReasonMisconfigured},
		{"exact dollar", ptr(singleChainAccount()), 1_000_000, 5_000_000, ReasonNothingToSave},
		{"no delegation", &noDelegation, 700_000, 5_000_000, ReasonNoAuthority},
		{"insufficient balance", ptr(singleChainAccount()), 700_000, 200_000, ReasonInsufficientBalance},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(tt.balance)
			outcome := h.orchestrator().Settle(context.Background(), tt.account, spendEvent("0x1", tt.amount))

			assert.Equal(t, StateSkipped, outcome.State)
			assert.Equal(t, []State{StatePending, StateSkipped}, outcome.Path)
			assert.Contains(t, outcome.Reason, string(tt.reason))
			assert.Zero(t, h.redeemer.count(), "no submission on skip")
		})
	}
}

func TestSettleMultiChainRequiresProbeBalance(t *testing.T) {
	h := newHarness(500_000)
	account := multiChainAccount()

	outcome := h.orchestrator().Settle(context.Background(), &account, spendEvent("0x1", 700_000))

	assert.Equal(t, StateSkipped, outcome.State)
	assert.Contains(t, outcome.Reason, string(ReasonInsufficientBalance))
	assert.Contains(t, outcome.Reason, "required 1")
}

func TestSettleMultiChainBridgesProbeAmount(t *testing.T) {
	h := newHarness(5_000_000)
	h.router.step.Value = big.NewInt(42)
	account := multiChainAccount()

	outcome := h.orchestrator().Settle(context.Background(), &account, spendEvent("0x1", 700_000))

	require.Equal(t, StateSettled, outcome.State, outcome.Reason)
	assert.Equal(t, bridge.RouteRequest{
		FromChainID: lineaChain,
		ToChainID:   baseChain,
		FromToken:   usdc,
		ToToken:     baseUSDC,
		FromAmount:  "1000000",
		FromAddress: tokenSource,
		ToAddress:   circle,
	}, h.router.request)
	assert.JSONEq(t, `{"id":"s1","tool":"mayanMCTP"}`, string(h.router.posted))

	assert.Equal(t, baseChain, outcome.Result.ChainID)
	assert.Equal(t, baseUSDC, outcome.Result.Token)
	assert.Equal(t, "1000000", outcome.Result.Amount.String())
	assert.Equal(t, "300000", outcome.Savings.String())

	call := h.redeemer.calls[0]
	require.Len(t, call.batches, 2)
	approve, err := chain.EncodeApprove(common.HexToAddress(bridgeAddr), big.NewInt(1_000_000))
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(usdc), call.batches[0][0].Target)
	assert.Equal(t, approve, call.batches[0][0].CallData)
	assert.Equal(t, delegation.Execution{
		Target:   common.HexToAddress(bridgeAddr),
		Value:    big.NewInt(42),
		CallData: []byte{0xde, 0xad, 0xbe, 0xef},
	}, call.batches[1][0])
}

func TestSettleMultiChainNoRoute(t *testing.T) {
	h := newHarness(5_000_000)
	h.router.routes = nil
	account := multiChainAccount()

	outcome := h.orchestrator().Settle(context.Background(), &account, spendEvent("0x1", 700_000))

	assert.Equal(t, StateFailed, outcome.State)
	assert.ErrorIs(t, outcome.Err, bridge.ErrNoRoute)
	assert.Zero(t, h.redeemer.count())

	h.router.routes = []bridge.Route{{ID: "empty"}}
	outcome = h.orchestrator().Settle(context.Background(), &account, spendEvent("0x2", 700_000))
	assert.ErrorIs(t, outcome.Err, bridge.ErrNoRoute)
}

func TestSettleFailures(t *testing.T) {
	t.Run("redeem error", func(t *testing.T) {
		h := newHarness(5_000_000)
		h.redeemer.err = errBoom
		account := singleChainAccount()

		outcome := h.orchestrator().Settle(context.Background(), &account, spendEvent("0x1", 700_000))
		assert.Equal(t, StateFailed, outcome.State)
		assert.Equal(t, []State{StatePending, StateValidated, StateExecuting, StateFailed}, outcome.Path)
		assert.ErrorIs(t, outcome.Err, errBoom)
		assert.Nil(t, outcome.Result)
	})

	t.Run("empty hash", func(t *testing.T) {
		h := newHarness(5_000_000)
		h.redeemer.hash = common.Hash{}
		account := singleChainAccount()

		outcome := h.orchestrator().Settle(context.Background(), &account, spendEvent("0x1", 700_000))
		assert.Equal(t, StateFailed, outcome.State)
	})

	t.Run("balance query error", func(t *testing.T) {
		h := newHarness(0)
		h.balances.err = errBoom
		account := singleChainAccount()

		outcome := h.orchestrator().Settle(context.Background(), &account, spendEvent("0x1", 700_000))
		assert.Equal(t, StateFailed, outcome.State)
		assert.Zero(t, h.redeemer.count())
	})

	t.Run("submission timeout", func(t *testing.T) {
		h := newHarness(5_000_000)
		h.redeemer.delay = 5 * time.Second
		account := singleChainAccount()
		o := h.orchestrator()
		o.opts.SubmitTimeout = 20 * time.Millisecond

		outcome := o.Settle(context.Background(), &account, spendEvent("0x1", 700_000))
		assert.Equal(t, StateFailed, outcome.State)
		assert.ErrorIs(t, outcome.Err, context.DeadlineExceeded)
	})

	t.Run("unparseable delegation", func(t *testing.T) {
		h := newHarness(5_000_000)
		account := singleChainAccount()
		account.Delegation = json.RawMessage(`{"signature":"0x01"}`)

		outcome := h.orchestrator().Settle(context.Background(), &account, spendEvent("0x1", 700_000))
		assert.Equal(t, StateFailed, outcome.State)
		assert.Zero(t, h.redeemer.count())
	})

	t.Run("pool not configured", func(t *testing.T) {
		h := newHarness(5_000_000)
		account := singleChainAccount()
		o := h.orchestrator()
		o.opts.PoolAddress = ""

		outcome := o.Settle(context.Background(), &account, spendEvent("0x1", 700_000))
		assert.Equal(t, StateFailed, outcome.State)
		assert.ErrorIs(t, outcome.Err, chain.ErrNotConfigured)
	})
}

func TestStateTerminal(t *testing.T) {
	for _, s := range []State{StateSettled, StateSkipped, StateFailed} {
		assert.True(t, s.Terminal(), s)
	}
	for _, s := range []State{StatePending, StateValidated, StateExecuting} {
		assert.False(t, s.Terminal(), s)
	}
}

func ptr[T any](v T) *T { return &v }
