package delegation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const storedDelegation = `{
	"delegate": "0x2222222222222222222222222222222222222222",
	"delegator": "0x1111111111111111111111111111111111111111",
	"authority": "0xffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff",
	"caveats": [
		{"enforcer": "0x3333333333333333333333333333333333333333", "terms": "0x176211869ca2b568f2a7d4ee941e073a821ee1ff", "args": "0x"}
	],
	"salt": "0x2a",
	"signature": "0xabcdef"
}`

func TestParseDelegation(t *testing.T) {
	d, err := Parse(json.RawMessage(storedDelegation))
	require.NoError(t, err)

	assert.Equal(t, common.HexToAddress("0x2222222222222222222222222222222222222222"), d.Delegate)
	assert.Equal(t, RootAuthority, d.Authority)
	require.Len(t, d.Caveats, 1)
	assert.Len(t, d.Caveats[0].Terms, 20)
	assert.Empty(t, d.Caveats[0].Args)
	assert.EqualValues(t, 42, d.Salt.Int64())
	assert.Equal(t, []byte{0xab, 0xcd, 0xef}, []byte(d.Signature))
}

func TestParseDelegationSaltForms(t *testing.T) {
	for raw, want := range map[string]int64{
		`"42"`:  42,
		`42`:    42,
		`"42n"`: 42,
		`null`:  0,
	} {
		doc := `{"delegator":"0x1111111111111111111111111111111111111111","signature":"0x01","salt":` + raw + `}`
		d, err := Parse(json.RawMessage(doc))
		require.NoError(t, err, raw)
		assert.EqualValues(t, want, d.Salt.Int64(), raw)
	}

	_, err := Parse(json.RawMessage(`{"delegator":"0x1111111111111111111111111111111111111111","signature":"0x01","salt":"-1"}`))
	assert.Error(t, err)
}

func TestParseDelegationRequiresFields(t *testing.T) {
	_, err := Parse(nil)
	assert.ErrorIs(t, err, ErrNoDelegations)

	_, err = Parse(json.RawMessage(`null`))
	assert.ErrorIs(t, err, ErrNoDelegations)

	_, err = Parse(json.RawMessage(`{"signature":"0x01"}`))
	assert.Error(t, err)

	_, err = Parse(json.RawMessage(`{"delegator":"0x1111111111111111111111111111111111111111"}`))
	assert.Error(t, err)
}

func TestDelegationJSONRoundTripKeepsSalt(t *testing.T) {
	d, err := Parse(json.RawMessage(storedDelegation))
	require.NoError(t, err)

	encoded, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Contains(t, string(encoded), `"salt":"0x2a"`)

	again, err := Parse(encoded)
	require.NoError(t, err)
	assert.Equal(t, d, again)
}

func TestEncodeExecutionsSingleMode(t *testing.T) {
	target := common.HexToAddress("0x4444444444444444444444444444444444444444")
	mode, data, err := EncodeExecutions([]Execution{{Target: target, Value: big.NewInt(5), CallData: []byte{0x01, 0x02}}})
	require.NoError(t, err)

	assert.Equal(t, ModeSingleDefault, mode)
	require.Len(t, data, 20+32+2)
	assert.Equal(t, target.Bytes(), data[:20])
	assert.EqualValues(t, 5, new(big.Int).SetBytes(data[20:52]).Int64())
	assert.Equal(t, []byte{0x01, 0x02}, data[52:])
}

func TestEncodeExecutionsBatchMode(t *testing.T) {
	mode, data, err := EncodeExecutions([]Execution{
		{Target: common.HexToAddress("0x01"), CallData: []byte{0xaa}},
		{Target: common.HexToAddress("0x02"), Value: big.NewInt(1)},
	})
	require.NoError(t, err)
	assert.Equal(t, byte(0x01), mode[0])
	assert.True(t, bytes.Equal(mode[1:], make([]byte, 31)))

	decoded, err := executionsArgs.Unpack(data)
	require.NoError(t, err)
	require.Len(t, decoded, 1)

	_, _, err = EncodeExecutions(nil)
	assert.Error(t, err)
}

func TestEncodeRedeemSelectorAndShape(t *testing.T) {
	d, err := Parse(json.RawMessage(storedDelegation))
	require.NoError(t, err)

	approve := Execution{Target: common.HexToAddress("0x05"), CallData: []byte{0x09}}
	supply := Execution{Target: common.HexToAddress("0x06"), CallData: []byte{0x0a}}

	calldata, err := FrameworkEncoder{}.EncodeRedeem([][]Delegation{{d}, {d}}, [][]Execution{{approve}, {supply}})
	require.NoError(t, err)

	selector := crypto.Keccak256([]byte("redeemDelegations(bytes[],bytes32[],bytes[])"))[:4]
	assert.Equal(t, selector, calldata[:4])

	args, err := managerABI.Methods["redeemDelegations"].Inputs.Unpack(calldata[4:])
	require.NoError(t, err)
	require.Len(t, args, 3)

	contexts := args[0].([][]byte)
	modes := args[1].([][32]byte)
	callDatas := args[2].([][]byte)
	require.Len(t, contexts, 2)
	assert.Equal(t, [][32]byte{ModeSingleDefault, ModeSingleDefault}, modes)
	assert.Equal(t, common.HexToAddress("0x05").Bytes(), callDatas[0][:20])
	assert.Equal(t, common.HexToAddress("0x06").Bytes(), callDatas[1][:20])

	wantContext, err := EncodePermissionContext([]Delegation{d})
	require.NoError(t, err)
	assert.Equal(t, wantContext, contexts[0])
}

func TestEncodeRedeemValidation(t *testing.T) {
	_, err := FrameworkEncoder{}.EncodeRedeem(nil, nil)
	assert.ErrorIs(t, err, ErrNoDelegations)

	_, err = FrameworkEncoder{}.EncodeRedeem([][]Delegation{{{}}}, nil)
	assert.ErrorIs(t, err, errLengthMismatch)

	_, err = FrameworkEncoder{}.EncodeRedeem([][]Delegation{{}}, [][]Execution{{{}}})
	assert.ErrorIs(t, err, ErrNoDelegations)
}

type stubSubmitter struct {
	to    common.Address
	data  []byte
	hash  common.Hash
	err   error
	calls int
}

func (s *stubSubmitter) SendTransaction(_ context.Context, to common.Address, _ *big.Int, data []byte) (common.Hash, error) {
	s.calls++
	s.to, s.data = to, data
	return s.hash, s.err
}

func TestRedeemerSubmitsToManager(t *testing.T) {
	d, err := Parse(json.RawMessage(storedDelegation))
	require.NoError(t, err)

	manager := common.HexToAddress("0xdb9B1e94B5b69Df7e401DDbedE43491141047dB3")
	sub := &stubSubmitter{hash: common.HexToHash("0xbeef")}
	r := NewRedeemer(nil, sub, manager, zerolog.Nop())

	hash, err := r.Redeem(context.Background(), []Delegation{d, d}, [][]Execution{
		{{Target: common.HexToAddress("0x05")}},
		{{Target: common.HexToAddress("0x06")}},
	})
	require.NoError(t, err)
	assert.Equal(t, common.HexToHash("0xbeef"), hash)
	assert.Equal(t, manager, sub.to)

	want, err := FrameworkEncoder{}.EncodeRedeem([][]Delegation{{d}, {d}}, [][]Execution{
		{{Target: common.HexToAddress("0x05")}},
		{{Target: common.HexToAddress("0x06")}},
	})
	require.NoError(t, err)
	assert.Equal(t, want, sub.data)
}

func TestRedeemerPropagatesErrors(t *testing.T) {
	d, err := Parse(json.RawMessage(storedDelegation))
	require.NoError(t, err)
	batches := [][]Execution{{{Target: common.HexToAddress("0x05")}}}
	manager := common.HexToAddress("0x07")

	boom := errors.New("nonce too low")
	_, err = NewRedeemer(nil, &stubSubmitter{err: boom}, manager, zerolog.Nop()).Redeem(context.Background(), []Delegation{d}, batches)
	assert.ErrorIs(t, err, boom)

	_, err = NewRedeemer(nil, &stubSubmitter{}, manager, zerolog.Nop()).Redeem(context.Background(), []Delegation{d}, batches)
	assert.Error(t, err, "empty hash must be an error")

	sub := &stubSubmitter{hash: common.HexToHash("0x01")}
	_, err = NewRedeemer(nil, sub, manager, zerolog.Nop()).Redeem(context.Background(), nil, nil)
	assert.ErrorIs(t, err, ErrNoDelegations)
	assert.Zero(t, sub.calls)

	_, err = NewRedeemer(nil, sub, common.Address{}, zerolog.Nop()).Redeem(context.Background(), []Delegation{d}, batches)
	assert.Error(t, err)
	assert.Zero(t, sub.calls)
}
