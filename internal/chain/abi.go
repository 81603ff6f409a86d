package chain

import (
	"errors"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const (
	erc20ABIJSON = `[
		{"inputs":[{"internalType":"address","name":"spender","type":"address"},{"internalType":"uint256","name":"amount","type":"uint256"}],"name":"approve","outputs":[{"internalType":"bool","name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"},
		{"inputs":[{"internalType":"address","name":"account","type":"address"}],"name":"balanceOf","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
	]`

	poolABIJSON = `[{"inputs":[{"internalType":"address","name":"asset","type":"address"},{"internalType":"uint256","name":"amount","type":"uint256"},{"internalType":"address","name":"onBehalfOf","type":"address"},{"internalType":"uint16","name":"referralCode","type":"uint16"}],"name":"supply","outputs":[],"stateMutability":"nonpayable","type":"function"}]`
)

var (
	erc20ABI abi.ABI
	poolABI  abi.ABI
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		panic("failed to parse ERC-20 ABI: " + err.Error())
	}
	erc20ABI = parsed

	parsed, err = abi.JSON(strings.NewReader(poolABIJSON))
	if err != nil {
		panic("failed to parse lending pool ABI: " + err.Error())
	}
	poolABI = parsed
}

// EncodeApprove returns calldata for ERC-20 approve(spender, amount).
func EncodeApprove(spender common.Address, amount *big.Int) ([]byte, error) {
	return erc20ABI.Pack("approve", spender, amount)
}

// EncodeBalanceOf returns calldata for ERC-20 balanceOf(owner).
func EncodeBalanceOf(owner common.Address) ([]byte, error) {
	return erc20ABI.Pack("balanceOf", owner)
}

// DecodeBalanceOf unpacks a balanceOf return value.
func DecodeBalanceOf(data []byte) (*big.Int, error) {
	outputs, err := erc20ABI.Unpack("balanceOf", data)
	if err != nil {
		return nil, err
	}
	if len(outputs) != 1 {
		return nil, errors.New("unexpected balanceOf response")
	}
	balance, ok := outputs[0].(*big.Int)
	if !ok {
		return nil, errors.New("failed to decode balanceOf output")
	}
	return balance, nil
}

// EncodeSupply returns calldata for the lending pool supply(asset, amount, onBehalfOf, referralCode).
func EncodeSupply(asset common.Address, amount *big.Int, onBehalfOf common.Address, referralCode uint16) ([]byte, error) {
	return poolABI.Pack("supply", asset, amount, onBehalfOf, referralCode)
}
