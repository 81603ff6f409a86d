package settlement

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"autohodl/internal/chain"
	"autohodl/internal/roundup"
	"autohodl/internal/storage"
)

// Reason explains why a spend event was skipped.
type Reason string

const (
	ReasonNoAccount           Reason = "unmatched: no account"
	ReasonMisconfigured       Reason = "misconfigured account"
	ReasonNothingToSave       Reason = "nothing to save"
	ReasonNoAuthority         Reason = "no authority"
	ReasonInsufficientBalance Reason = "insufficient balance"
)

// Check is the result of precondition validation. An empty Reason means settlement may proceed.
type Check struct {
	Reason   Reason
	Detail   string
	Savings  *big.Int
	Required *big.Int
	Balance  *big.Int
}

// Passed reports whether every precondition held.
func (c Check) Passed() bool {
	return c.Reason == ""
}

// Validator runs the ordered precondition checks.
type Validator struct {
	balances       chain.BalanceReader
	decimals       int32
	minimumMulti   *big.Int
	balanceTimeout time.Duration
}

// NewValidator builds a Validator. minimumMulti is the amount a multi-chain settlement
// actually moves; the balance must cover it as well as the savings.
func NewValidator(balances chain.BalanceReader, decimals int32, minimumMulti *big.Int, balanceTimeout time.Duration) *Validator {
	return &Validator{
		balances:       balances,
		decimals:       decimals,
		minimumMulti:   minimumMulti,
		balanceTimeout: balanceTimeout,
	}
}

// Validate checks, in order: account present, account configuration, savings positive,
// delegation present, balance sufficient. Only the balance query can return an error.
func (v *Validator) Validate(ctx context.Context, account *storage.Account, event storage.SpendEvent) (Check, error) {
	if account == nil {
		return Check{Reason: ReasonNoAccount}, nil
	}

	unit, err := roundup.Unit(account.RoundUpToDollar, v.decimals)
	if err != nil {
		return Check{Reason: ReasonMisconfigured, Detail: fmt.Sprintf("roundUpToDollar %s", account.RoundUpToDollar)}, nil
	}
	if detail := configProblem(account); detail != "" {
		return Check{Reason: ReasonMisconfigured, Detail: detail}, nil
	}

	savings, err := roundup.Savings(event.SpendAmount, unit)
	if err != nil {
		return Check{Reason: ReasonMisconfigured, Detail: err.Error()}, nil
	}
	if savings.Sign() == 0 {
		return Check{Reason: ReasonNothingToSave, Savings: savings}, nil
	}

	if !account.HasDelegation() {
		return Check{Reason: ReasonNoAuthority, Savings: savings}, nil
	}

	required := new(big.Int).Set(savings)
	if account.ChainMode == storage.ChainModeMulti && v.minimumMulti != nil && v.minimumMulti.Cmp(required) > 0 {
		required.Set(v.minimumMulti)
	}

	if v.balances == nil {
		return Check{}, fmt.Errorf("balance reader not configured")
	}
	balanceCtx := ctx
	if v.balanceTimeout > 0 {
		var cancel func()
		balanceCtx, cancel = context.WithTimeout(ctx, v.balanceTimeout)
		defer cancel()
	}
	balance, err := v.balances.BalanceOf(balanceCtx, event.SpendToken, account.TokenSourceAddress)
	if err != nil {
		return Check{Savings: savings, Required: required}, fmt.Errorf("balance query: %w", err)
	}

	check := Check{Savings: savings, Required: required, Balance: balance}
	if balance.Cmp(required) < 0 {
		check.Reason = ReasonInsufficientBalance
		check.Detail = fmt.Sprintf("available %s, required %s",
			roundup.Format(balance, v.decimals), roundup.Format(required, v.decimals))
	}
	return check, nil
}

func configProblem(account *storage.Account) string {
	if !account.ChainMode.Valid() {
		return fmt.Sprintf("unknown chain mode %q", account.ChainMode)
	}
	if strings.TrimSpace(account.TokenSourceAddress) == "" {
		return "token source address missing"
	}
	if account.ChainMode == storage.ChainModeMulti && (account.CircleAddress == nil || strings.TrimSpace(*account.CircleAddress) == "") {
		return "multi-chain account without destination address"
	}
	return ""
}
