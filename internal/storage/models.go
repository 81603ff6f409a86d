package storage

import (
	"encoding/json"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// ChainMode selects the settlement path of an account.
type ChainMode string

const (
	ChainModeSingle ChainMode = "single-chain"
	ChainModeMulti  ChainMode = "multi-chain"
)

// Valid reports whether m is a known chain mode.
func (m ChainMode) Valid() bool {
	return m == ChainModeSingle || m == ChainModeMulti
}

// SettlementStatus tracks where a spend event is in its settlement lifecycle.
type SettlementStatus string

const (
	StatusPending SettlementStatus = "pending"
	// StatusExecuting is claimed before anything is submitted. Rows left in it are never
	// redeemed again and need repair from the chain.
	StatusExecuting SettlementStatus = "executing"
	// StatusSubmitted holds a broadcast whose outcome was lost; SubmittedTxHash names it.
	StatusSubmitted SettlementStatus = "submitted"
	StatusSkipped   SettlementStatus = "skipped"
	StatusFailed    SettlementStatus = "failed"
	StatusSettled   SettlementStatus = "settled"
)

// Retriable reports whether a new settlement attempt may start from s.
func (s SettlementStatus) Retriable() bool {
	return s == StatusPending || s == StatusFailed
}

// Account is a standing authorization to sweep round-ups from TokenSourceAddress.
type Account struct {
	ID                 string
	SignerAddress      string
	DeploySalt         string
	TriggerAddress     string
	TokenSourceAddress string
	SavingsAddress     *string
	RoundUpToDollar    decimal.Decimal
	RoundUpMode        string
	ChainMode          ChainMode
	ChainID            *string
	CircleAddress      *string
	Delegation         json.RawMessage
	CreatedAt          time.Time
}

// HasDelegation reports whether a non-null delegation is stored.
func (a *Account) HasDelegation() bool {
	if a == nil || len(a.Delegation) == 0 {
		return false
	}
	return string(a.Delegation) != "null"
}

// SpendEvent is one observed transfer to a monitored destination (a "tx" row).
type SpendEvent struct {
	ID           string
	SpendTxHash  string
	SpendFrom    string
	SpendTo      string
	SpendToken   string
	SpendAmount  *big.Int
	SpendChainID int64
	SpendAt      time.Time
	AccountID    *string

	Status          SettlementStatus
	Reason          *string
	Attempts        int
	SubmittedTxHash *string

	YieldDepositAmount  *big.Int
	YieldDepositChainID *int64
	YieldDepositToken   *string
	YieldDepositTxHash  *string
	YieldDepositAt      *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Settled reports whether settlement results have been attached.
func (e *SpendEvent) Settled() bool {
	return e.YieldDepositTxHash != nil
}

// SettlementResult carries the fields attached once a deposit succeeds.
type SettlementResult struct {
	Amount  *big.Int
	ChainID int64
	Token   string
	TxHash  string
	At      time.Time
}
