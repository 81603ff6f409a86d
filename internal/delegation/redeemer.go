package delegation

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

// Submitter broadcasts a transaction from the execution identity.
type Submitter interface {
	SendTransaction(ctx context.Context, to common.Address, value *big.Int, data []byte) (common.Hash, error)
}

// Redeemer is the only component that moves funds: it submits redeem calls to the
// delegation manager on behalf of delegators.
type Redeemer struct {
	encoder   Encoder
	submitter Submitter
	manager   common.Address
	logger    zerolog.Logger
}

// NewRedeemer wires an encoder and submitter to a delegation manager address.
func NewRedeemer(encoder Encoder, submitter Submitter, manager common.Address, logger zerolog.Logger) *Redeemer {
	if encoder == nil {
		encoder = FrameworkEncoder{}
	}
	return &Redeemer{
		encoder:   encoder,
		submitter: submitter,
		manager:   manager,
		logger:    logger.With().Str("component", "redeemer").Logger(),
	}
}

// Redeem pairs delegations[i] with batches[i] and submits them as one transaction.
// Submission errors are returned unchanged in the chain so callers decide the outcome.
func (r *Redeemer) Redeem(ctx context.Context, delegations []Delegation, batches [][]Execution) (common.Hash, error) {
	if len(delegations) == 0 {
		return common.Hash{}, ErrNoDelegations
	}
	if r.submitter == nil {
		return common.Hash{}, errors.New("redeem: submitter not configured")
	}
	if r.manager == (common.Address{}) {
		return common.Hash{}, errors.New("redeem: delegation manager address not configured")
	}

	chains := make([][]Delegation, len(delegations))
	for i := range delegations {
		chains[i] = []Delegation{delegations[i]}
	}

	calldata, err := r.encoder.EncodeRedeem(chains, batches)
	if err != nil {
		return common.Hash{}, fmt.Errorf("encode redeem: %w", err)
	}

	hash, err := r.submitter.SendTransaction(ctx, r.manager, new(big.Int), calldata)
	if err != nil {
		return common.Hash{}, fmt.Errorf("submit redeem: %w", err)
	}
	if hash == (common.Hash{}) {
		return common.Hash{}, errors.New("submit redeem: no transaction hash returned")
	}

	r.logger.Info().
		Str("tx_hash", hash.Hex()).
		Int("delegations", len(delegations)).
		Msg("delegations redeemed")
	return hash, nil
}
