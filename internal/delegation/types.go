// Package delegation models signed delegations and redeems them through the delegation manager.
package delegation

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
)

// ErrNoDelegations is returned when a redemption carries no authority.
var ErrNoDelegations = errors.New("delegation: no delegations supplied")

// RootAuthority marks a delegation issued directly by the delegator rather than re-delegated.
var RootAuthority = common.HexToHash("0xffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff")

// Caveat restricts what a delegation may be used for.
type Caveat struct {
	Enforcer common.Address `json:"enforcer"`
	Terms    hexutil.Bytes  `json:"terms"`
	Args     hexutil.Bytes  `json:"args"`
}

// Delegation is a signed grant from Delegator to Delegate.
type Delegation struct {
	Delegate  common.Address `json:"delegate"`
	Delegator common.Address `json:"delegator"`
	Authority common.Hash    `json:"authority"`
	Caveats   []Caveat       `json:"caveats"`
	Salt      *big.Int       `json:"salt"`
	Signature hexutil.Bytes  `json:"signature"`
}

// Execution is one call performed under a delegation.
type Execution struct {
	Target   common.Address
	Value    *big.Int
	CallData []byte
}

type rawDelegation struct {
	Delegate  common.Address  `json:"delegate"`
	Delegator common.Address  `json:"delegator"`
	Authority common.Hash     `json:"authority"`
	Caveats   []Caveat        `json:"caveats"`
	Salt      json.RawMessage `json:"salt"`
	Signature hexutil.Bytes   `json:"signature"`
}

// UnmarshalJSON accepts salt as a hex string, a decimal string, or a JSON number.
func (d *Delegation) UnmarshalJSON(data []byte) error {
	var raw rawDelegation
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	salt, err := parseSalt(raw.Salt)
	if err != nil {
		return err
	}

	*d = Delegation{
		Delegate:  raw.Delegate,
		Delegator: raw.Delegator,
		Authority: raw.Authority,
		Caveats:   raw.Caveats,
		Salt:      salt,
		Signature: raw.Signature,
	}
	return nil
}

// MarshalJSON writes salt as a 0x hex string.
func (d Delegation) MarshalJSON() ([]byte, error) {
	salt := new(big.Int)
	if d.Salt != nil {
		salt = d.Salt
	}
	caveats := d.Caveats
	if caveats == nil {
		caveats = []Caveat{}
	}
	return json.Marshal(struct {
		Delegate  common.Address `json:"delegate"`
		Delegator common.Address `json:"delegator"`
		Authority common.Hash    `json:"authority"`
		Caveats   []Caveat       `json:"caveats"`
		Salt      string         `json:"salt"`
		Signature hexutil.Bytes  `json:"signature"`
	}{d.Delegate, d.Delegator, d.Authority, caveats, hexutil.EncodeBig(salt), d.Signature})
}

func parseSalt(raw json.RawMessage) (*big.Int, error) {
	text := strings.TrimSpace(string(raw))
	if text == "" || text == "null" {
		return new(big.Int), nil
	}
	text = strings.Trim(text, `"`)
	// bigint serialisations sometimes carry a trailing n
	text = strings.TrimSuffix(text, "n")
	salt, ok := math.ParseBig256(text)
	if !ok || salt.Sign() < 0 {
		return nil, fmt.Errorf("delegation: invalid salt %q", text)
	}
	return salt, nil
}

// Parse decodes a stored delegation document.
func Parse(raw json.RawMessage) (Delegation, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return Delegation{}, ErrNoDelegations
	}
	var d Delegation
	if err := json.Unmarshal(raw, &d); err != nil {
		return Delegation{}, fmt.Errorf("parse delegation: %w", err)
	}
	if d.Delegator == (common.Address{}) {
		return Delegation{}, errors.New("parse delegation: delegator is required")
	}
	if len(d.Signature) == 0 {
		return Delegation{}, errors.New("parse delegation: signature is required")
	}
	return d, nil
}
