package settlement

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"autohodl/internal/bridge"
	"autohodl/internal/chain"
	"autohodl/internal/delegation"
	"autohodl/internal/storage"
)

// State is a settlement lifecycle state.
type State string

const (
	StatePending   State = "pending"
	StateValidated State = "validated"
	StateExecuting State = "executing"
	StateSettled   State = "settled"
	StateSkipped   State = "skipped"
	StateFailed    State = "failed"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateSettled || s == StateSkipped || s == StateFailed
}

// Redeemer submits delegation-authorised operation batches.
type Redeemer interface {
	Redeem(ctx context.Context, delegations []delegation.Delegation, batches [][]delegation.Execution) (common.Hash, error)
}

// Outcome is the terminal result of one settlement attempt.
type Outcome struct {
	State   State
	Reason  string
	Path    []State
	Savings *big.Int
	Result  *storage.SettlementResult
	Err     error
	// Redeem is the wall time spent submitting, zero when nothing was submitted.
	Redeem time.Duration
	// Claimed is set once the event was marked executing, immediately before submission.
	Claimed bool
	// SubmittedTxHash is the signed hash of a broadcast whose outcome is unknown.
	SubmittedTxHash string
}

// claimFunc marks the event as executing. It runs after validation and before any submission.
type claimFunc func(ctx context.Context) error

// OrchestratorOptions carry the static addresses and limits for execution.
type OrchestratorOptions struct {
	PoolAddress        string
	DestinationChainID int64
	ProbeAmount        *big.Int
	TokenAddresses     map[int64]string
	RouteTimeout       time.Duration
	SubmitTimeout      time.Duration
}

// Orchestrator drives one spend event from Pending to a terminal state.
type Orchestrator struct {
	validator *Validator
	redeemer  Redeemer
	router    bridge.Router
	opts      OrchestratorOptions
	logger    zerolog.Logger
	now       func() time.Time
}

// NewOrchestrator wires the validator, redeemer and router.
func NewOrchestrator(validator *Validator, redeemer Redeemer, router bridge.Router, opts OrchestratorOptions, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		validator: validator,
		redeemer:  redeemer,
		router:    router,
		opts:      opts,
		logger:    logger.With().Str("component", "orchestrator").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

type run struct {
	outcome Outcome
}

func (r *run) to(s State) {
	r.outcome.Path = append(r.outcome.Path, s)
	r.outcome.State = s
}

func (r *run) fail(err error) Outcome {
	r.to(StateFailed)
	r.outcome.Err = err
	r.outcome.Reason = err.Error()
	return r.outcome
}

// Settle validates and executes settlement for event. It never returns an error: failures
// are reported through the Failed state.
func (o *Orchestrator) Settle(ctx context.Context, account *storage.Account, event storage.SpendEvent) Outcome {
	return o.settle(ctx, account, event, nil)
}

func (o *Orchestrator) settle(ctx context.Context, account *storage.Account, event storage.SpendEvent, claim claimFunc) Outcome {
	r := &run{}
	r.to(StatePending)

	check, err := o.validator.Validate(ctx, account, event)
	r.outcome.Savings = check.Savings
	if err != nil {
		return r.fail(err)
	}
	if !check.Passed() {
		r.to(StateSkipped)
		r.outcome.Reason = string(check.Reason)
		if check.Detail != "" {
			r.outcome.Reason += ": " + check.Detail
		}
		return r.outcome
	}
	r.to(StateValidated)

	grant, err := delegation.Parse(account.Delegation)
	if err != nil {
		return r.fail(err)
	}

	if claim != nil {
		if err := claim(ctx); err != nil {
			return r.fail(fmt.Errorf("claim spend event: %w", err))
		}
	}
	r.outcome.Claimed = true

	r.to(StateExecuting)
	started := time.Now()

	var result storage.SettlementResult
	switch account.ChainMode {
	case storage.ChainModeSingle:
		result, err = o.settleSingleChain(ctx, account, event, grant, check.Savings)
	case storage.ChainModeMulti:
		result, err = o.settleMultiChain(ctx, account, event, grant)
	default:
		err = fmt.Errorf("unsupported chain mode %q", account.ChainMode)
	}
	r.outcome.Redeem = time.Since(started)
	if err != nil {
		var submitErr *chain.SubmissionError
		if errors.As(err, &submitErr) {
			r.outcome.SubmittedTxHash = submitErr.Hash.Hex()
		}
		return r.fail(err)
	}

	r.to(StateSettled)
	r.outcome.Result = &result
	return r.outcome
}

// settleSingleChain supplies savings to the lending pool on the spend chain:
// approve(pool, savings) on the asset, then supply(asset, savings, tokenSource, 0) on the pool.
func (o *Orchestrator) settleSingleChain(ctx context.Context, account *storage.Account, event storage.SpendEvent, grant delegation.Delegation, savings *big.Int) (storage.SettlementResult, error) {
	if !common.IsHexAddress(o.opts.PoolAddress) {
		return storage.SettlementResult{}, fmt.Errorf("%w: pool address", chain.ErrNotConfigured)
	}
	pool := common.HexToAddress(o.opts.PoolAddress)
	asset := common.HexToAddress(event.SpendToken)
	onBehalfOf := common.HexToAddress(account.TokenSourceAddress)

	approve, err := chain.EncodeApprove(pool, savings)
	if err != nil {
		return storage.SettlementResult{}, fmt.Errorf("encode approve: %w", err)
	}
	supply, err := chain.EncodeSupply(asset, savings, onBehalfOf, 0)
	if err != nil {
		return storage.SettlementResult{}, fmt.Errorf("encode supply: %w", err)
	}

	hash, err := o.redeem(ctx, grant, []delegation.Execution{
		{Target: asset, Value: new(big.Int), CallData: approve},
		{Target: pool, Value: new(big.Int), CallData: supply},
	})
	if err != nil {
		return storage.SettlementResult{}, err
	}

	return storage.SettlementResult{
		Amount:  new(big.Int).Set(savings),
		ChainID: event.SpendChainID,
		Token:   event.SpendToken,
		TxHash:  hash.Hex(),
		At:      o.now(),
	}, nil
}

// settleMultiChain bridges the probe amount to the destination chain: it routes the fixed
// probe amount so a route always exists, then approves and calls the first step's target.
func (o *Orchestrator) settleMultiChain(ctx context.Context, account *storage.Account, event storage.SpendEvent, grant delegation.Delegation) (storage.SettlementResult, error) {
	if o.router == nil {
		return storage.SettlementResult{}, errors.New("bridge router not configured")
	}
	if o.opts.ProbeAmount == nil || o.opts.ProbeAmount.Sign() <= 0 {
		return storage.SettlementResult{}, errors.New("bridge probe amount not configured")
	}

	fromToken := event.SpendToken
	if addr, ok := o.opts.TokenAddresses[event.SpendChainID]; ok && addr != "" {
		fromToken = addr
	}
	toToken, ok := o.opts.TokenAddresses[o.opts.DestinationChainID]
	if !ok || toToken == "" {
		return storage.SettlementResult{}, fmt.Errorf("no token configured for destination chain %d", o.opts.DestinationChainID)
	}

	routeCtx, cancel := withTimeout(ctx, o.opts.RouteTimeout)
	defer cancel()

	routes, err := o.router.Routes(routeCtx, bridge.RouteRequest{
		FromChainID: event.SpendChainID,
		ToChainID:   o.opts.DestinationChainID,
		FromToken:   fromToken,
		ToToken:     toToken,
		FromAmount:  o.opts.ProbeAmount.String(),
		FromAddress: account.TokenSourceAddress,
		ToAddress:   strings.TrimSpace(*account.CircleAddress),
	})
	if err != nil {
		return storage.SettlementResult{}, fmt.Errorf("fetch routes: %w", err)
	}
	if len(routes) == 0 || len(routes[0].Steps) == 0 {
		return storage.SettlementResult{}, bridge.ErrNoRoute
	}

	step, err := o.router.StepTransaction(routeCtx, routes[0].Steps[0])
	if err != nil {
		return storage.SettlementResult{}, fmt.Errorf("fetch step transaction: %w", err)
	}

	approve, err := chain.EncodeApprove(step.To, o.opts.ProbeAmount)
	if err != nil {
		return storage.SettlementResult{}, fmt.Errorf("encode approve: %w", err)
	}

	value := step.Value
	if value == nil {
		value = new(big.Int)
	}
	hash, err := o.redeem(ctx, grant, []delegation.Execution{
		{Target: common.HexToAddress(fromToken), Value: new(big.Int), CallData: approve},
		{Target: step.To, Value: value, CallData: step.Data},
	})
	if err != nil {
		return storage.SettlementResult{}, err
	}

	o.logger.Info().
		Str("spend_tx_hash", event.SpendTxHash).
		Str("route_id", routes[0].ID).
		Int64("destination_chain_id", o.opts.DestinationChainID).
		Msg("bridge submitted")

	// the bridged fixed amount is what moved, not the computed savings
	return storage.SettlementResult{
		Amount:  new(big.Int).Set(o.opts.ProbeAmount),
		ChainID: o.opts.DestinationChainID,
		Token:   toToken,
		TxHash:  hash.Hex(),
		At:      o.now(),
	}, nil
}

// redeem submits each execution under its own copy of the delegation, in one transaction.
func (o *Orchestrator) redeem(ctx context.Context, grant delegation.Delegation, executions []delegation.Execution) (common.Hash, error) {
	if o.redeemer == nil {
		return common.Hash{}, errors.New("redeemer not configured")
	}

	grants := make([]delegation.Delegation, len(executions))
	batches := make([][]delegation.Execution, len(executions))
	for i, e := range executions {
		grants[i] = grant
		batches[i] = []delegation.Execution{e}
	}

	submitCtx, cancel := withTimeout(ctx, o.opts.SubmitTimeout)
	defer cancel()

	hash, err := o.redeemer.Redeem(submitCtx, grants, batches)
	if err != nil {
		return common.Hash{}, err
	}
	if hash == (common.Hash{}) {
		return common.Hash{}, errors.New("redeem returned no transaction hash")
	}
	return hash, nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
