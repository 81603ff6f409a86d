package settlement

import (
	"context"
	"errors"
	"strings"

	"autohodl/internal/storage"
)

// Resolver maps a transfer's sender to the account monitoring it.
type Resolver struct {
	accounts storage.AccountStore
}

// NewResolver builds a Resolver over an account store.
func NewResolver(accounts storage.AccountStore) *Resolver {
	return &Resolver{accounts: accounts}
}

// Resolve returns the account whose trigger address equals from, ignoring case.
// A missing account is reported as (nil, nil).
func (r *Resolver) Resolve(ctx context.Context, from string) (*storage.Account, error) {
	from = strings.TrimSpace(from)
	if from == "" || r.accounts == nil {
		return nil, nil
	}
	account, err := r.accounts.FindAccountByTriggerAddress(ctx, from)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}
