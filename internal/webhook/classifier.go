package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/math"

	"autohodl/internal/storage"
)

// ErrMalformedPayload marks a body that could not be parsed as a notification.
var ErrMalformedPayload = errors.New("webhook: malformed payload")

// Payload is the stream notification body.
type Payload struct {
	Confirmed      bool            `json:"confirmed"`
	ChainID        string          `json:"chainId"`
	ERC20Transfers []ERC20Transfer `json:"erc20Transfers"`
	Block          Block           `json:"block"`
}

// ERC20Transfer is one token transfer inside a notification.
type ERC20Transfer struct {
	TransactionHash string          `json:"transactionHash"`
	From            string          `json:"from"`
	To              string          `json:"to"`
	Contract        string          `json:"contract"`
	Value           string          `json:"value"`
	TokenSymbol     string          `json:"tokenSymbol"`
	TokenDecimals   json.RawMessage `json:"tokenDecimals"`
}

// Block carries the block the transfers were observed in.
type Block struct {
	Number    json.RawMessage `json:"number"`
	Timestamp json.RawMessage `json:"timestamp"`
}

// ParsePayload decodes a verified body.
func ParsePayload(body []byte) (Payload, error) {
	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return payload, nil
}

// Classifier filters transfers down to monitored destinations and assets.
type Classifier struct {
	destinations map[string]struct{}
	assets       map[string]struct{}
	now          func() time.Time
}

// NewClassifier builds a classifier from the configured allow-lists.
func NewClassifier(destinations, assets []string) *Classifier {
	return &Classifier{
		destinations: lowerSet(destinations),
		assets:       lowerSet(assets),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Classify returns spend event candidates for every relevant transfer, in payload order.
// Zero relevant transfers is a normal outcome.
func (c *Classifier) Classify(payload Payload) ([]storage.SpendEvent, error) {
	var (
		events  []storage.SpendEvent
		chainID int64
		spendAt time.Time
		parsed  bool
	)

	for _, transfer := range payload.ERC20Transfers {
		if !c.Relevant(transfer) {
			continue
		}

		if !parsed {
			var err error
			if chainID, err = parseChainID(payload.ChainID); err != nil {
				return nil, err
			}
			spendAt = c.parseTimestamp(payload.Block.Timestamp)
			parsed = true
		}

		value := strings.TrimSpace(transfer.Value)
		amount, ok := math.ParseBig256(value)
		if value == "" || !ok || amount.Sign() < 0 {
			return nil, fmt.Errorf("%w: transfer %s value %q", ErrMalformedPayload, transfer.TransactionHash, transfer.Value)
		}
		if transfer.TransactionHash == "" {
			return nil, fmt.Errorf("%w: transfer without transaction hash", ErrMalformedPayload)
		}

		events = append(events, storage.SpendEvent{
			SpendTxHash:  transfer.TransactionHash,
			SpendFrom:    transfer.From,
			SpendTo:      transfer.To,
			SpendToken:   transfer.Contract,
			SpendAmount:  new(big.Int).Set(amount),
			SpendChainID: chainID,
			SpendAt:      spendAt,
		})
	}

	return events, nil
}

// Relevant reports whether transfer goes to a monitored destination in a monitored asset.
func (c *Classifier) Relevant(transfer ERC20Transfer) bool {
	if _, ok := c.destinations[strings.ToLower(strings.TrimSpace(transfer.To))]; !ok {
		return false
	}
	_, ok := c.assets[strings.ToLower(strings.TrimSpace(transfer.Contract))]
	return ok
}

func parseChainID(raw string) (int64, error) {
	value, ok := math.ParseUint64(strings.TrimSpace(raw))
	if !ok || value == 0 || value > 1<<62 {
		return 0, fmt.Errorf("%w: chainId %q", ErrMalformedPayload, raw)
	}
	return int64(value), nil
}

// parseTimestamp accepts unix seconds as a JSON string or number; anything else falls back to now.
func (c *Classifier) parseTimestamp(raw json.RawMessage) time.Time {
	text := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if text == "" {
		return c.now()
	}
	seconds, err := strconv.ParseInt(text, 10, 64)
	if err != nil || seconds <= 0 {
		return c.now()
	}
	return time.Unix(seconds, 0).UTC()
}

func lowerSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			set[v] = struct{}{}
		}
	}
	return set
}
