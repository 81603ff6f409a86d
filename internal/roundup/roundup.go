// Package roundup computes round-up savings over integer token amounts.
package roundup

import (
	"errors"
	"math/big"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidUnit is returned for a non-positive or fractional rounding unit.
	ErrInvalidUnit = errors.New("roundup: unit must be a positive integer")
	// ErrNegativeAmount is returned for a negative spend amount.
	ErrNegativeAmount = errors.New("roundup: amount must not be negative")
)

var one = big.NewInt(1)

// Unit converts a whole-currency granularity (e.g. 1 for "nearest dollar") into smallest
// token units for a token with the given decimals.
func Unit(roundUpToDollar decimal.Decimal, decimals int32) (*big.Int, error) {
	if !roundUpToDollar.IsPositive() {
		return nil, ErrInvalidUnit
	}
	scaled := roundUpToDollar.Shift(decimals)
	if !scaled.IsInteger() {
		return nil, ErrInvalidUnit
	}
	return scaled.BigInt(), nil
}

// Savings returns the distance from amount to the next multiple of unit:
// ceil(amount/unit)*unit - amount. The result is always in [0, unit).
func Savings(amount, unit *big.Int) (*big.Int, error) {
	if unit == nil || unit.Sign() <= 0 {
		return nil, ErrInvalidUnit
	}
	if amount == nil || amount.Sign() < 0 {
		return nil, ErrNegativeAmount
	}

	ceiling := new(big.Int).Add(amount, unit)
	ceiling.Sub(ceiling, one)
	ceiling.Quo(ceiling, unit)
	ceiling.Mul(ceiling, unit)
	return ceiling.Sub(ceiling, amount), nil
}

// Format renders an integer amount with decimals as a human readable decimal string.
func Format(amount *big.Int, decimals int32) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -decimals).String()
}
