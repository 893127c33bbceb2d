// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Taskboard Contributors

// Package memory provides a process-local auth.AccountRepository for
// development and tests.
package memory

import (
	"context"
	"crypto/subtle"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/taskboard/taskboard/internal/auth"
)

// AccountRepository stores accounts in a map guarded by a mutex. Returned
// accounts are copies.
type AccountRepository struct {
	mu       sync.RWMutex
	accounts map[ulid.ULID]*auth.Account
	byEmail  map[string]ulid.ULID
}

// NewAccountRepository creates an empty repository.
func NewAccountRepository() *AccountRepository {
	return &AccountRepository{
		accounts: make(map[ulid.ULID]*auth.Account),
		byEmail:  make(map[string]ulid.ULID),
	}
}

// Create stores a new account.
func (r *AccountRepository) Create(_ context.Context, account *auth.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := auth.EmailKey(account.Email)
	if _, taken := r.byEmail[key]; taken {
		return oops.Code("ACCOUNT_EMAIL_TAKEN").With("email", key).Wrap(auth.ErrEmailTaken)
	}
	if _, exists := r.accounts[account.ID]; exists {
		return oops.Code("ACCOUNT_CREATE_FAILED").With("account_id", account.ID.String()).
			Errorf("account id already exists")
	}

	r.accounts[account.ID] = clone(account)
	r.byEmail[key] = account.ID
	return nil
}

// GetByID retrieves an account by ID.
func (r *AccountRepository) GetByID(_ context.Context, id ulid.ULID) (*auth.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	account, ok := r.accounts[id]
	if !ok {
		return nil, notFound("account_id", id.String())
	}
	return clone(account), nil
}

// GetByEmail retrieves an account by email (case-insensitive).
func (r *AccountRepository) GetByEmail(_ context.Context, email string) (*auth.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[auth.EmailKey(email)]
	if !ok {
		return nil, notFound("email", auth.EmailKey(email))
	}
	return clone(r.accounts[id]), nil
}

// UpdatePasswordHash replaces only the password hash.
func (r *AccountRepository) UpdatePasswordHash(_ context.Context, id ulid.ULID, passwordHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, ok := r.accounts[id]
	if !ok {
		return notFound("account_id", id.String())
	}
	account.PasswordHash = passwordHash
	account.UpdatedAt = time.Now().UTC()
	return nil
}

// UpdateLoginState records the failure counter and lockout.
func (r *AccountRepository) UpdateLoginState(_ context.Context, id ulid.ULID, failedAttempts int, lockedUntil *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, ok := r.accounts[id]
	if !ok {
		return notFound("account_id", id.String())
	}
	account.FailedAttempts = failedAttempts
	account.LockedUntil = copyTime(lockedUntil)
	account.UpdatedAt = time.Now().UTC()
	return nil
}

// RecordLoginFailure increments the failure counter under the write lock.
func (r *AccountRepository) RecordLoginFailure(_ context.Context, id ulid.ULID, threshold int, lockUntil time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, ok := r.accounts[id]
	if !ok {
		return 0, notFound("account_id", id.String())
	}
	account.FailedAttempts++
	if threshold > 0 && account.FailedAttempts >= threshold {
		account.LockedUntil = copyTime(&lockUntil)
	}
	account.UpdatedAt = time.Now().UTC()
	return account.FailedAttempts, nil
}

// SetResetToken stores a pending reset, replacing any previous one.
func (r *AccountRepository) SetResetToken(_ context.Context, id ulid.ULID, reset auth.PendingReset) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, ok := r.accounts[id]
	if !ok {
		return notFound("account_id", id.String())
	}
	account.Reset = &reset
	account.UpdatedAt = time.Now().UTC()
	return nil
}

// ConsumeResetToken atomically swaps the password for a live reset token.
func (r *AccountRepository) ConsumeResetToken(_ context.Context, tokenHash, passwordHash string, now time.Time) (*auth.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, account := range r.accounts {
		if !account.Reset.Live(now) {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(account.Reset.TokenHash), []byte(tokenHash)) != 1 {
			continue
		}
		account.PasswordHash = passwordHash
		account.Reset = nil
		account.FailedAttempts = 0
		account.LockedUntil = nil
		account.UpdatedAt = now.UTC()
		return clone(account), nil
	}
	return nil, notFound("token", "reset")
}

// ClearExpiredResetTokens removes resets that expired at or before now.
func (r *AccountRepository) ClearExpiredResetTokens(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var cleared int64
	for _, account := range r.accounts {
		if account.Reset != nil && !account.Reset.Live(now) {
			account.Reset = nil
			cleared++
		}
	}
	return cleared, nil
}

// Ping always succeeds.
func (r *AccountRepository) Ping(context.Context) error {
	return nil
}

// Len returns the number of stored accounts.
func (r *AccountRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.accounts)
}

func notFound(key, value string) error {
	return oops.Code("ACCOUNT_NOT_FOUND").With(key, value).Wrap(auth.ErrNotFound)
}

func clone(a *auth.Account) *auth.Account {
	c := *a
	if a.Reset != nil {
		reset := *a.Reset
		c.Reset = &reset
	}
	c.LockedUntil = copyTime(a.LockedUntil)
	return &c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

var _ auth.AccountRepository = (*AccountRepository)(nil)
