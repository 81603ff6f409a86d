package server

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"autohodl/internal/storage"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	// chainModeWindow bounds how far a chain-mode request timestamp may drift from now.
	chainModeWindow = 5 * time.Minute
)

// AccountAPI serves the account lookup, chain-mode update, and transaction history routes.
type AccountAPI struct {
	accounts   storage.AccountStore
	events     storage.SpendEventStore
	deploySalt string
	logger     zerolog.Logger
	now        func() time.Time
}

// NewAccountAPI builds the account routes. deploySalt scopes signer lookups to one deployment.
func NewAccountAPI(accounts storage.AccountStore, events storage.SpendEventStore, deploySalt string, logger zerolog.Logger) *AccountAPI {
	return &AccountAPI{
		accounts:   accounts,
		events:     events,
		deploySalt: deploySalt,
		logger:     logger.With().Str("component", "account_api").Logger(),
		now:        time.Now,
	}
}

func (a *AccountAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/accounts/check", a.check)
	mux.HandleFunc("PATCH /api/v1/accounts/{accountId}/chain-mode", a.updateChainMode)
	mux.HandleFunc("GET /api/v1/accounts/{accountId}/transactions", a.transactions)
	mux.HandleFunc("GET /api/v1/accounts/{accountId}/transactions/all", a.transactions)
}

type accountView struct {
	ID                 string          `json:"id"`
	SignerAddress      string          `json:"signerAddress"`
	TriggerAddress     string          `json:"triggerAddress"`
	TokenSourceAddress string          `json:"tokenSourceAddress"`
	SavingsAddress     *string         `json:"savingsAddress"`
	RoundUpToDollar    string          `json:"roundUpToDollar"`
	RoundUpMode        string          `json:"roundUpMode"`
	ChainMode          string          `json:"chainMode"`
	ChainID            *string         `json:"chainId"`
	CircleAddress      *string         `json:"circleAddress"`
	Delegation         json.RawMessage `json:"delegation"`
	CreatedAt          time.Time       `json:"createdAt"`
}

func newAccountView(account storage.Account) accountView {
	delegation := account.Delegation
	if len(delegation) == 0 {
		delegation = json.RawMessage("null")
	}
	return accountView{
		ID:                 account.ID,
		SignerAddress:      account.SignerAddress,
		TriggerAddress:     account.TriggerAddress,
		TokenSourceAddress: account.TokenSourceAddress,
		SavingsAddress:     account.SavingsAddress,
		RoundUpToDollar:    account.RoundUpToDollar.String(),
		RoundUpMode:        account.RoundUpMode,
		ChainMode:          string(account.ChainMode),
		ChainID:            account.ChainID,
		CircleAddress:      account.CircleAddress,
		Delegation:         delegation,
		CreatedAt:          account.CreatedAt,
	}
}

type spendEventView struct {
	ID                  string     `json:"id"`
	SpendTxHash         string     `json:"spendTxHash"`
	SpendFrom           string     `json:"spendFrom"`
	SpendTo             string     `json:"spendTo"`
	SpendToken          string     `json:"spendToken"`
	SpendAmount         string     `json:"spendAmount"`
	SpendChainID        int64      `json:"spendChainId"`
	SpendAt             time.Time  `json:"spendAt"`
	AccountID           *string    `json:"accountId"`
	SettlementStatus    string     `json:"settlementStatus"`
	SettlementReason    *string    `json:"settlementReason"`
	SettlementAttempts  int        `json:"settlementAttempts"`
	YieldDepositAmount  *string    `json:"yieldDepositAmount"`
	YieldDepositChainID *int64     `json:"yieldDepositChainId"`
	YieldDepositToken   *string    `json:"yieldDepositToken"`
	YieldDepositTxHash  *string    `json:"yieldDepositTxHash"`
	YieldDepositAt      *time.Time `json:"yieldDepositAt"`
	CreatedAt           time.Time  `json:"createdAt"`
}

func newSpendEventView(event storage.SpendEvent) spendEventView {
	view := spendEventView{
		ID:                  event.ID,
		SpendTxHash:         event.SpendTxHash,
		SpendFrom:           event.SpendFrom,
		SpendTo:             event.SpendTo,
		SpendToken:          event.SpendToken,
		SpendChainID:        event.SpendChainID,
		SpendAt:             event.SpendAt,
		AccountID:           event.AccountID,
		SettlementStatus:    string(event.Status),
		SettlementReason:    event.Reason,
		SettlementAttempts:  event.Attempts,
		YieldDepositChainID: event.YieldDepositChainID,
		YieldDepositToken:   event.YieldDepositToken,
		YieldDepositTxHash:  event.YieldDepositTxHash,
		YieldDepositAt:      event.YieldDepositAt,
		CreatedAt:           event.CreatedAt,
	}
	if event.SpendAmount != nil {
		view.SpendAmount = event.SpendAmount.String()
	}
	if event.YieldDepositAmount != nil {
		amount := event.YieldDepositAmount.String()
		view.YieldDepositAmount = &amount
	}
	return view
}

type checkResponse struct {
	Success bool         `json:"success"`
	Data    *accountView `json:"data"`
	Exists  bool         `json:"exists"`
}

func (a *AccountAPI) check(w http.ResponseWriter, r *http.Request) {
	signer := strings.TrimSpace(r.URL.Query().Get("signerAddress"))
	if signer == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "signerAddress is required"})
		return
	}

	account, err := a.accounts.FindAccountBySigner(r.Context(), signer, a.deploySalt)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeJSON(w, http.StatusOK, checkResponse{Success: true})
	case err != nil:
		a.logger.Error().Err(err).Str("signer", signer).Msg("account lookup failed")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "Database error"})
	default:
		view := newAccountView(account)
		writeJSON(w, http.StatusOK, checkResponse{Success: true, Data: &view, Exists: true})
	}
}

type chainModeRequest struct {
	Timestamp int64  `json:"timestamp"`
	ChainID   string `json:"chainId"`
	ChainMode string `json:"chainMode"`
}

type chainModeResponse struct {
	Success bool        `json:"success"`
	Data    accountView `json:"data"`
}

func (a *AccountAPI) updateChainMode(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("accountId")
	if _, err := uuid.Parse(accountID); err != nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "Invalid account id"})
		return
	}
	if _, err := a.accounts.GetAccount(r.Context(), accountID); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			a.logger.Error().Err(err).Str("account_id", accountID).Msg("account lookup failed")
		}
		writeJSON(w, http.StatusNotFound, errorBody{Error: "Invalid account id"})
		return
	}

	var req chainModeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Invalid JSON payload"})
		return
	}
	if strings.TrimSpace(req.ChainID) == "" || strings.TrimSpace(req.ChainMode) == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Missing required fields"})
		return
	}
	mode := storage.ChainMode(req.ChainMode)
	if !mode.Valid() {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Invalid chain mode"})
		return
	}
	// timestamp is epoch milliseconds
	drift := a.now().Sub(time.UnixMilli(req.Timestamp))
	if drift < 0 {
		drift = -drift
	}
	if drift > chainModeWindow {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Request timestamp too old or invalid"})
		return
	}

	updated, err := a.accounts.UpdateChainMode(r.Context(), accountID, mode, req.ChainID)
	if err != nil {
		a.logger.Error().Err(err).Str("account_id", accountID).Msg("chain mode update failed")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "Failed to update account"})
		return
	}

	a.logger.Info().Str("account_id", accountID).
		Str("chain_mode", string(mode)).
		Str("chain_id", req.ChainID).
		Msg("chain mode updated")
	writeJSON(w, http.StatusOK, chainModeResponse{Success: true, Data: newAccountView(updated)})
}

type transactionsResponse struct {
	Data       []spendEventView `json:"data"`
	Page       int              `json:"page"`
	Limit      int              `json:"limit"`
	Total      int64            `json:"total"`
	TotalPages int              `json:"totalPages"`
}

func (a *AccountAPI) transactions(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("accountId")
	if _, err := uuid.Parse(accountID); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Invalid accountId"})
		return
	}

	page := positiveInt(r.URL.Query().Get("page"), 1)
	limit := positiveInt(r.URL.Query().Get("limit"), defaultPageSize)
	if limit > maxPageSize {
		limit = maxPageSize
	}

	events, total, err := a.events.ListSpendEventsByAccount(r.Context(), accountID, limit, (page-1)*limit)
	if err != nil {
		a.logger.Error().Err(err).Str("account_id", accountID).Msg("list transactions failed")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "Database error"})
		return
	}

	views := make([]spendEventView, 0, len(events))
	for _, event := range events {
		views = append(views, newSpendEventView(event))
	}
	writeJSON(w, http.StatusOK, transactionsResponse{
		Data:       views,
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: int(math.Ceil(float64(total) / float64(limit))),
	})
}

func positiveInt(raw string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 1 {
		return fallback
	}
	return n
}
