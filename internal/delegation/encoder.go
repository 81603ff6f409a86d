package delegation

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Execution modes understood by the delegation manager. The first byte is the call type.
var (
	ModeSingleDefault = [32]byte{}
	ModeBatchDefault  = [32]byte{0x01}
)

const managerABIJSON = `[{"inputs":[{"internalType":"bytes[]","name":"_permissionContexts","type":"bytes[]"},{"internalType":"bytes32[]","name":"_modes","type":"bytes32[]"},{"internalType":"bytes[]","name":"_executionCallDatas","type":"bytes[]"}],"name":"redeemDelegations","outputs":[],"stateMutability":"nonpayable","type":"function"}]`

var (
	managerABI      abi.ABI
	delegationsArgs abi.Arguments
	executionsArgs  abi.Arguments
)

var (
	errEmptyBatch     = errors.New("delegation: empty execution batch")
	errLengthMismatch = errors.New("delegation: delegations and batches differ in length")
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(managerABIJSON))
	if err != nil {
		panic("failed to parse delegation manager ABI: " + err.Error())
	}
	managerABI = parsed

	delegationsType, err := abi.NewType("tuple[]", "", []abi.ArgumentMarshaling{
		{Name: "delegate", Type: "address"},
		{Name: "delegator", Type: "address"},
		{Name: "authority", Type: "bytes32"},
		{Name: "caveats", Type: "tuple[]", Components: []abi.ArgumentMarshaling{
			{Name: "enforcer", Type: "address"},
			{Name: "terms", Type: "bytes"},
			{Name: "args", Type: "bytes"},
		}},
		{Name: "salt", Type: "uint256"},
		{Name: "signature", Type: "bytes"},
	})
	if err != nil {
		panic("failed to build delegation tuple type: " + err.Error())
	}
	delegationsArgs = abi.Arguments{{Type: delegationsType}}

	executionsType, err := abi.NewType("tuple[]", "", []abi.ArgumentMarshaling{
		{Name: "target", Type: "address"},
		{Name: "value", Type: "uint256"},
		{Name: "callData", Type: "bytes"},
	})
	if err != nil {
		panic("failed to build execution tuple type: " + err.Error())
	}
	executionsArgs = abi.Arguments{{Type: executionsType}}
}

// Encoder turns delegation chains and operation batches into redeem calldata.
type Encoder interface {
	EncodeRedeem(chains [][]Delegation, batches [][]Execution) ([]byte, error)
}

// FrameworkEncoder encodes DelegationManager.redeemDelegations calls.
type FrameworkEncoder struct{}

// EncodeRedeem builds redeemDelegations(permissionContexts, modes, executionCallDatas).
// chains[i] authorises batches[i]; each chain is ordered leaf first.
func (FrameworkEncoder) EncodeRedeem(chains [][]Delegation, batches [][]Execution) ([]byte, error) {
	if len(chains) == 0 {
		return nil, ErrNoDelegations
	}
	if len(chains) != len(batches) {
		return nil, errLengthMismatch
	}

	contexts := make([][]byte, len(chains))
	modes := make([][32]byte, len(chains))
	callDatas := make([][]byte, len(chains))

	for i := range chains {
		permission, err := EncodePermissionContext(chains[i])
		if err != nil {
			return nil, fmt.Errorf("permission context %d: %w", i, err)
		}
		mode, data, err := EncodeExecutions(batches[i])
		if err != nil {
			return nil, fmt.Errorf("executions %d: %w", i, err)
		}
		contexts[i], modes[i], callDatas[i] = permission, mode, data
	}

	return managerABI.Pack("redeemDelegations", contexts, modes, callDatas)
}

type abiCaveat struct {
	Enforcer common.Address
	Terms    []byte
	Args     []byte
}

type abiDelegation struct {
	Delegate  common.Address
	Delegator common.Address
	Authority [32]byte
	Caveats   []abiCaveat
	Salt      *big.Int
	Signature []byte
}

type abiExecution struct {
	Target   common.Address
	Value    *big.Int
	CallData []byte
}

// EncodePermissionContext returns abi.encode(Delegation[]).
func EncodePermissionContext(chain []Delegation) ([]byte, error) {
	if len(chain) == 0 {
		return nil, ErrNoDelegations
	}

	encoded := make([]abiDelegation, len(chain))
	for i, d := range chain {
		caveats := make([]abiCaveat, len(d.Caveats))
		for j, c := range d.Caveats {
			caveats[j] = abiCaveat{Enforcer: c.Enforcer, Terms: nonNil(c.Terms), Args: nonNil(c.Args)}
		}
		salt := d.Salt
		if salt == nil {
			salt = new(big.Int)
		}
		encoded[i] = abiDelegation{
			Delegate:  d.Delegate,
			Delegator: d.Delegator,
			Authority: d.Authority,
			Caveats:   caveats,
			Salt:      salt,
			Signature: nonNil(d.Signature),
		}
	}
	return delegationsArgs.Pack(encoded)
}

// EncodeExecutions picks the execution mode for a batch and encodes its calldata.
// One call uses single mode with packed target‖value‖callData; more use batch mode.
func EncodeExecutions(batch []Execution) ([32]byte, []byte, error) {
	switch len(batch) {
	case 0:
		return [32]byte{}, nil, errEmptyBatch
	case 1:
		e := batch[0]
		value := e.Value
		if value == nil {
			value = new(big.Int)
		}
		if value.Sign() < 0 || value.BitLen() > 256 {
			return [32]byte{}, nil, fmt.Errorf("delegation: invalid execution value %s", value)
		}
		packed := make([]byte, 0, common.AddressLength+32+len(e.CallData))
		packed = append(packed, e.Target.Bytes()...)
		packed = append(packed, common.LeftPadBytes(value.Bytes(), 32)...)
		packed = append(packed, e.CallData...)
		return ModeSingleDefault, packed, nil
	default:
		encoded := make([]abiExecution, len(batch))
		for i, e := range batch {
			value := e.Value
			if value == nil {
				value = new(big.Int)
			}
			encoded[i] = abiExecution{Target: e.Target, Value: value, CallData: nonNil(e.CallData)}
		}
		data, err := executionsArgs.Pack(encoded)
		if err != nil {
			return [32]byte{}, nil, err
		}
		return ModeBatchDefault, data, nil
	}
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}

var _ Encoder = FrameworkEncoder{}
