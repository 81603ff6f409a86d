// Package chain reads balances from and submits transactions to the settlement chain.
package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
)

var (
	// ErrNotConfigured is returned when the RPC endpoint or execution key is missing.
	ErrNotConfigured = errors.New("chain: not configured")
	// ErrSubmissionUnknown marks a failed broadcast; the node may still have accepted the
	// transaction.
	ErrSubmissionUnknown = errors.New("chain: submission outcome unknown")
)

// SubmissionError carries the hash of a signed transaction whose broadcast failed. It
// matches ErrSubmissionUnknown and the underlying RPC error.
type SubmissionError struct {
	Hash common.Hash
	Err  error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("broadcast %s: %v", e.Hash.Hex(), e.Err)
}

func (e *SubmissionError) Unwrap() []error {
	return []error{ErrSubmissionUnknown, e.Err}
}

// BalanceReader reads ERC-20 balances.
type BalanceReader interface {
	BalanceOf(ctx context.Context, token, owner string) (*big.Int, error)
}

// Options parameterise the chain client.
type Options struct {
	RPCURL            string
	ChainID           int64
	PrivateKey        string
	Timeout           time.Duration
	SubmitTimeout     time.Duration
	GasLimitBufferPct uint64
}

// Client talks JSON-RPC to the settlement chain. Transactions are signed by the
// execution identity, never by the account holder.
type Client struct {
	opts      Options
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex

	key    *ecdsa.PrivateKey
	sender common.Address
	// serialises nonce selection for the execution identity
	sendMux sync.Mutex
}

// NewClient builds a chain client. A missing key only disables SendTransaction.
func NewClient(opts Options, logger zerolog.Logger) (*Client, error) {
	c := &Client{opts: opts, logger: logger.With().Str("component", "chain_client").Logger()}

	if hexKey := strings.TrimPrefix(strings.TrimSpace(opts.PrivateKey), "0x"); hexKey != "" {
		key, err := crypto.HexToECDSA(hexKey)
		if err != nil {
			return nil, fmt.Errorf("parse delegate private key: %w", err)
		}
		c.key = key
		c.sender = crypto.PubkeyToAddress(key.PublicKey)
	}
	return c, nil
}

// Sender returns the execution identity address, or the zero address when no key is loaded.
func (c *Client) Sender() common.Address {
	return c.sender
}

// BalanceOf reads token.balanceOf(owner) at the latest block.
func (c *Client) BalanceOf(ctx context.Context, token, owner string) (*big.Int, error) {
	if c.opts.RPCURL == "" {
		return nil, fmt.Errorf("%w: rpc url", ErrNotConfigured)
	}
	if !common.IsHexAddress(token) || !common.IsHexAddress(owner) {
		return nil, fmt.Errorf("balanceOf: invalid address token=%q owner=%q", token, owner)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout(c.opts.Timeout))
	defer cancel()

	client, err := c.getClient(ctx)
	if err != nil {
		return nil, err
	}

	payload, err := EncodeBalanceOf(common.HexToAddress(owner))
	if err != nil {
		return nil, err
	}

	tokenAddr := common.HexToAddress(token)
	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &tokenAddr, Data: payload}, nil)
	if err != nil {
		return nil, fmt.Errorf("balanceOf call: %w", err)
	}
	return DecodeBalanceOf(res)
}

// SendTransaction signs and broadcasts an EIP-1559 transaction from the execution identity
// and returns its hash. Errors before the broadcast leave nothing on the network; a broadcast
// error is a *SubmissionError.
func (c *Client) SendTransaction(ctx context.Context, to common.Address, value *big.Int, data []byte) (common.Hash, error) {
	if c.opts.RPCURL == "" {
		return common.Hash{}, fmt.Errorf("%w: rpc url", ErrNotConfigured)
	}
	if c.key == nil {
		return common.Hash{}, fmt.Errorf("%w: delegate private key", ErrNotConfigured)
	}
	if value == nil {
		value = new(big.Int)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout(c.opts.SubmitTimeout))
	defer cancel()

	client, err := c.getClient(ctx)
	if err != nil {
		return common.Hash{}, err
	}

	chainID := big.NewInt(c.opts.ChainID)
	if c.opts.ChainID == 0 {
		if chainID, err = client.ChainID(ctx); err != nil {
			return common.Hash{}, fmt.Errorf("chain id: %w", err)
		}
	}

	c.sendMux.Lock()
	defer c.sendMux.Unlock()

	nonce, err := client.PendingNonceAt(ctx, c.sender)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pending nonce: %w", err)
	}

	gas, err := client.EstimateGas(ctx, ethereum.CallMsg{From: c.sender, To: &to, Value: value, Data: data})
	if err != nil {
		return common.Hash{}, fmt.Errorf("estimate gas: %w", err)
	}
	gas = gas * (100 + c.opts.GasLimitBufferPct) / 100

	tip, err := client.SuggestGasTipCap(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("suggest tip: %w", err)
	}
	head, err := client.HeaderByNumber(ctx, nil)
	if err != nil {
		return common.Hash{}, fmt.Errorf("latest header: %w", err)
	}
	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Value:     value,
		Data:      data,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), c.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign transaction: %w", err)
	}
	if err := client.SendTransaction(ctx, signed); err != nil {
		c.logger.Error().Err(err).
			Str("tx_hash", signed.Hash().Hex()).
			Uint64("nonce", nonce).
			Msg("broadcast failed; transaction may still be mined")
		return common.Hash{}, &SubmissionError{Hash: signed.Hash(), Err: err}
	}

	c.logger.Info().
		Str("tx_hash", signed.Hash().Hex()).
		Str("to", to.Hex()).
		Uint64("nonce", nonce).
		Uint64("gas", gas).
		Msg("transaction submitted")
	return signed.Hash(), nil
}

func (c *Client) timeout(d time.Duration) time.Duration {
	if d <= 0 {
		return 10 * time.Second
	}
	return d
}

func (c *Client) getClient(ctx context.Context) (*ethclient.Client, error) {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()

	if c.client != nil {
		return c.client, nil
	}

	client, err := ethclient.DialContext(ctx, c.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	c.client = client
	return client, nil
}

// Close releases the RPC connection.
func (c *Client) Close() {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()
	if c.client != nil {
		c.client.Close()
		c.client = nil
	}
}

var _ BalanceReader = (*Client)(nil)
