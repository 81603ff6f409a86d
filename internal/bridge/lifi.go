// Package bridge fetches cross-chain routes and step transactions from LI.FI.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/rs/zerolog"
)

const (
	routesPath          = "/advanced/routes"
	stepTransactionPath = "/advanced/stepTransaction"
)

// ErrNoRoute is returned when the aggregator offers no route or the route has no steps.
var ErrNoRoute = errors.New("bridge: no route found")

// RouteRequest describes a transfer to route.
type RouteRequest struct {
	FromChainID int64
	ToChainID   int64
	FromToken   string
	ToToken     string
	FromAmount  string
	FromAddress string
	ToAddress   string
}

// Route is one route offer. Steps are kept verbatim so they can be posted back unchanged.
type Route struct {
	ID         string            `json:"id"`
	FromAmount string            `json:"fromAmount"`
	ToAmount   string            `json:"toAmount"`
	Steps      []json.RawMessage `json:"steps"`
}

// TransactionRequest is the executable call for a route step.
type TransactionRequest struct {
	To    common.Address
	Data  []byte
	Value *big.Int
}

// Router is the subset of the aggregator used by settlement.
type Router interface {
	Routes(ctx context.Context, req RouteRequest) ([]Route, error)
	StepTransaction(ctx context.Context, step json.RawMessage) (TransactionRequest, error)
}

// Options parameterise the LI.FI client.
type Options struct {
	BaseURL      string
	Integrator   string
	APIKey       string
	AllowBridges []string
	Timeout      time.Duration
	UserAgent    string
}

// LiFi calls the LI.FI REST API.
type LiFi struct {
	opts    Options
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewLiFi constructs a LI.FI client.
func NewLiFi(opts Options, logger zerolog.Logger) *LiFi {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://li.quest/v1"
	}

	return &LiFi{
		opts:    opts,
		logger:  logger.With().Str("component", "lifi").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

type routesRequest struct {
	FromChainID      int64         `json:"fromChainId"`
	ToChainID        int64         `json:"toChainId"`
	FromTokenAddress string        `json:"fromTokenAddress"`
	ToTokenAddress   string        `json:"toTokenAddress"`
	FromAmount       string        `json:"fromAmount"`
	FromAddress      string        `json:"fromAddress"`
	ToAddress        string        `json:"toAddress,omitempty"`
	Options          *routeOptions `json:"options,omitempty"`
}

type routeOptions struct {
	Integrator string         `json:"integrator,omitempty"`
	Bridges    *bridgeFilters `json:"bridges,omitempty"`
}

type bridgeFilters struct {
	Allow []string `json:"allow"`
}

type routesResponse struct {
	Routes []Route `json:"routes"`
}

type stepResponse struct {
	TransactionRequest *struct {
		To    string `json:"to"`
		Data  string `json:"data"`
		Value string `json:"value"`
	} `json:"transactionRequest"`
}

// Routes requests route offers for a transfer.
func (l *LiFi) Routes(ctx context.Context, req RouteRequest) ([]Route, error) {
	if req.FromChainID == 0 || req.ToChainID == 0 {
		return nil, errors.New("from and to chain ids are required")
	}
	if req.FromToken == "" || req.ToToken == "" {
		return nil, errors.New("from and to token addresses are required")
	}
	if req.FromAmount == "" || req.FromAddress == "" {
		return nil, errors.New("amount and sender are required")
	}

	body := routesRequest{
		FromChainID:      req.FromChainID,
		ToChainID:        req.ToChainID,
		FromTokenAddress: req.FromToken,
		ToTokenAddress:   req.ToToken,
		FromAmount:       req.FromAmount,
		FromAddress:      req.FromAddress,
		ToAddress:        req.ToAddress,
	}
	if l.opts.Integrator != "" || len(l.opts.AllowBridges) > 0 {
		body.Options = &routeOptions{Integrator: l.opts.Integrator}
		if len(l.opts.AllowBridges) > 0 {
			body.Options.Bridges = &bridgeFilters{Allow: l.opts.AllowBridges}
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	respBody, err := l.post(ctx, routesPath, payload)
	if err != nil {
		return nil, err
	}

	var res routesResponse
	if err := json.Unmarshal(respBody, &res); err != nil {
		return nil, fmt.Errorf("decode routes: %w", err)
	}

	l.logger.Debug().
		Int64("from_chain", req.FromChainID).
		Int64("to_chain", req.ToChainID).
		Int("routes", len(res.Routes)).
		Msg("routes fetched")
	return res.Routes, nil
}

// StepTransaction populates the transaction request for a route step.
func (l *LiFi) StepTransaction(ctx context.Context, step json.RawMessage) (TransactionRequest, error) {
	if len(step) == 0 {
		return TransactionRequest{}, ErrNoRoute
	}

	respBody, err := l.post(ctx, stepTransactionPath, step)
	if err != nil {
		return TransactionRequest{}, err
	}

	var res stepResponse
	if err := json.Unmarshal(respBody, &res); err != nil {
		return TransactionRequest{}, fmt.Errorf("decode step transaction: %w", err)
	}
	if res.TransactionRequest == nil {
		return TransactionRequest{}, errors.New("step transaction missing transactionRequest")
	}

	tr := res.TransactionRequest
	if !common.IsHexAddress(tr.To) {
		return TransactionRequest{}, fmt.Errorf("step transaction target %q is not an address", tr.To)
	}
	data, err := hexutil.Decode(tr.Data)
	if err != nil || len(data) == 0 {
		return TransactionRequest{}, fmt.Errorf("step transaction data invalid: %q", tr.Data)
	}
	value := new(big.Int)
	if strings.TrimSpace(tr.Value) != "" {
		parsed, ok := math.ParseBig256(tr.Value)
		if !ok {
			return TransactionRequest{}, fmt.Errorf("step transaction value invalid: %q", tr.Value)
		}
		value = parsed
	}

	return TransactionRequest{To: common.HexToAddress(tr.To), Data: data, Value: value}, nil
}

func (l *LiFi) post(ctx context.Context, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(l.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "autohodl/1.0")
	}
	if l.opts.APIKey != "" {
		req.Header.Set("x-lifi-api-key", l.opts.APIKey)
	}
	if l.opts.Integrator != "" {
		req.Header.Set("x-lifi-integrator", l.opts.Integrator)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, parseHTTPError(resp.StatusCode, payload)
	}
	return payload, nil
}

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil && apiErr.Message != "" {
		return fmt.Errorf("lifi api error (%d): %s", status, apiErr.Message)
	}
	if len(payload) > 0 {
		return fmt.Errorf("lifi api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("lifi api error (%d)", status)
}

var _ Router = (*LiFi)(nil)
