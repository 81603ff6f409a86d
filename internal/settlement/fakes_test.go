package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"autohodl/internal/alerting"
	"autohodl/internal/bridge"
	"autohodl/internal/delegation"
	"autohodl/internal/events"
	"autohodl/internal/storage"
)

const (
	usdc        = "0x176211869cA2b568f2A7D4EE941E073a821EE1ff"
	baseUSDC    = "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"
	cardAddress = "0x9999999999999999999999999999999999999999"
	trigger     = "0xAbCdEf0000000000000000000000000000000001"
	tokenSource = "0x5555555555555555555555555555555555555555"
	circle      = "0x6666666666666666666666666666666666666666"
	pool        = "0x2222222222222222222222222222222222222222"
	bridgeAddr  = "0x1231DEB6f5749EF6cE6943a275A1D3E7486F4EaE"
	lineaChain  = int64(59144)
	baseChain   = int64(8453)
)

var testDelegation = json.RawMessage(`{"delegate":"0x3333333333333333333333333333333333333333","delegator":"0x5555555555555555555555555555555555555555","caveats":[],"salt":"0x1","signature":"0x0102"}`)

type fakeBalances struct {
	mu      sync.Mutex
	balance *big.Int
	err     error
	calls   int
	token   string
	owner   string
}

func (f *fakeBalances) BalanceOf(ctx context.Context, token, owner string) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.token, f.owner = token, owner
	if f.err != nil {
		return nil, f.err
	}
	return new(big.Int).Set(f.balance), nil
}

type redeemCall struct {
	delegations []delegation.Delegation
	batches     [][]delegation.Execution
}

type fakeRedeemer struct {
	mu    sync.Mutex
	hash  common.Hash
	err   error
	delay time.Duration
	calls []redeemCall
}

func (f *fakeRedeemer) Redeem(ctx context.Context, delegations []delegation.Delegation, batches [][]delegation.Execution) (common.Hash, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return common.Hash{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, redeemCall{delegations: delegations, batches: batches})
	return f.hash, f.err
}

func (f *fakeRedeemer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeRouter struct {
	routes   []bridge.Route
	routeErr error
	step     bridge.TransactionRequest
	stepErr  error
	request  bridge.RouteRequest
	posted   json.RawMessage
}

func (f *fakeRouter) Routes(ctx context.Context, req bridge.RouteRequest) ([]bridge.Route, error) {
	f.request = req
	return f.routes, f.routeErr
}

func (f *fakeRouter) StepTransaction(ctx context.Context, step json.RawMessage) (bridge.TransactionRequest, error) {
	f.posted = step
	return f.step, f.stepErr
}

type fakeNotifier struct {
	notes []alerting.Notification
}

func (f *fakeNotifier) Notify(ctx context.Context, note alerting.Notification) error {
	f.notes = append(f.notes, note)
	return nil
}

type fakePublisher struct {
	outcomes []events.Outcome
}

func (f *fakePublisher) Publish(ctx context.Context, outcome events.Outcome) error {
	f.outcomes = append(f.outcomes, outcome)
	return nil
}

func (f *fakePublisher) Close() error { return nil }

type fakeRecorder struct {
	mu          sync.Mutex
	settlements map[string]int
	redeems     int
	reconciled  map[string]int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{settlements: map[string]int{}, reconciled: map[string]int{}}
}

func (f *fakeRecorder) ObserveSettlement(state, chainMode string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settlements[state]++
}

func (f *fakeRecorder) ObserveRedeem(time.Duration, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.redeems++
}

func (f *fakeRecorder) ObserveReconciled(state string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconciled[state]++
}

var errBoom = errors.New("execution reverted")

func singleChainAccount() storage.Account {
	return storage.Account{
		SignerAddress:      "0x7777777777777777777777777777777777777777",
		DeploySalt:         "autohodl-v1",
		TriggerAddress:     trigger,
		TokenSourceAddress: tokenSource,
		RoundUpToDollar:    decimal.NewFromInt(1),
		RoundUpMode:        "always",
		ChainMode:          storage.ChainModeSingle,
		Delegation:         testDelegation,
	}
}

func multiChainAccount() storage.Account {
	account := singleChainAccount()
	account.ChainMode = storage.ChainModeMulti
	c := circle
	account.CircleAddress = &c
	return account
}

func spendEvent(hash string, amount int64) storage.SpendEvent {
	return storage.SpendEvent{
		SpendTxHash:  hash,
		SpendFrom:    strings.ToLower(trigger),
		SpendTo:      cardAddress,
		SpendToken:   usdc,
		SpendAmount:  big.NewInt(amount),
		SpendChainID: lineaChain,
		SpendAt:      time.Unix(1700000000, 0).UTC(),
	}
}

// flakyStore fails selected operations a fixed number of times.
type flakyStore struct {
	*storage.MemoryStore

	mu             sync.Mutex
	attachFailures int
	findFailures   int
}

var errStoreDown = errors.New("connection refused")

func (f *flakyStore) take(n *int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if *n == 0 {
		return false
	}
	*n--
	return true
}

func (f *flakyStore) AttachSettlement(ctx context.Context, spendTxHash string, result storage.SettlementResult) error {
	if f.take(&f.attachFailures) {
		return errStoreDown
	}
	return f.MemoryStore.AttachSettlement(ctx, spendTxHash, result)
}

func (f *flakyStore) FindAccountByTriggerAddress(ctx context.Context, address string) (storage.Account, error) {
	if f.take(&f.findFailures) {
		return storage.Account{}, errStoreDown
	}
	return f.MemoryStore.FindAccountByTriggerAddress(ctx, address)
}

type harness struct {
	store     *storage.MemoryStore
	repo      storage.Repository
	balances  *fakeBalances
	redeemer  *fakeRedeemer
	router    *fakeRouter
	notifier  *fakeNotifier
	publisher *fakePublisher
	recorder  *fakeRecorder
	service   *Service
}

func newHarness(balance int64) *harness {
	h := &harness{
		store:    storage.NewMemoryStore(),
		balances: &fakeBalances{balance: big.NewInt(balance)},
		redeemer: &fakeRedeemer{hash: common.HexToHash("0xfeed")},
		router: &fakeRouter{
			routes: []bridge.Route{{ID: "route-1", Steps: []json.RawMessage{json.RawMessage(`{"id":"s1","tool":"mayanMCTP"}`)}}},
			step: bridge.TransactionRequest{
				To:    common.HexToAddress(bridgeAddr),
				Data:  []byte{0xde, 0xad, 0xbe, 0xef},
				Value: big.NewInt(0),
			},
		},
		notifier:  &fakeNotifier{},
		publisher: &fakePublisher{},
		recorder:  newFakeRecorder(),
	}
	h.useStore(h.store)
	return h
}

// useStore rebuilds the service over repo, which usually wraps h.store.
func (h *harness) useStore(repo storage.Repository) {
	h.repo = repo
	h.service = NewService(repo, h.orchestrator(), h.notifier, h.publisher, h.recorder, ServiceOptions{LockTimeout: time.Second, Decimals: 6}, zerolog.Nop())
}

func (h *harness) orchestrator() *Orchestrator {
	validator := NewValidator(h.balances, 6, big.NewInt(1000000), time.Second)
	return NewOrchestrator(validator, h.redeemer, h.router, OrchestratorOptions{
		PoolAddress:        pool,
		DestinationChainID: baseChain,
		ProbeAmount:        big.NewInt(1000000),
		TokenAddresses:     map[int64]string{lineaChain: usdc, baseChain: baseUSDC},
		RouteTimeout:       time.Second,
		SubmitTimeout:      time.Second,
	}, zerolog.Nop())
}
