// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Taskboard Contributors

package auth

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// ResetTokenManager issues and consumes single-use password reset tokens.
// Only token digests reach the repository.
type ResetTokenManager struct {
	accounts AccountRepository
	ttl      time.Duration
	now      func() time.Time
}

// NewResetTokenManager creates a ResetTokenManager. A nil clock uses time.Now.
func NewResetTokenManager(accounts AccountRepository, ttl time.Duration, now func() time.Time) (*ResetTokenManager, error) {
	if accounts == nil {
		return nil, oops.Code("RESET_INVALID_CONFIG").Errorf("accounts repository is required")
	}
	if ttl <= 0 {
		return nil, oops.Code("RESET_INVALID_CONFIG").With("ttl", ttl).Errorf("reset token ttl must be positive")
	}
	if now == nil {
		now = time.Now
	}
	return &ResetTokenManager{accounts: accounts, ttl: ttl, now: now}, nil
}

// Issue creates a token for the account, replacing any pending one, and
// returns the plaintext token with its expiry.
func (m *ResetTokenManager) Issue(ctx context.Context, accountID ulid.ULID) (string, time.Time, error) {
	token, hash, err := GenerateResetToken()
	if err != nil {
		return "", time.Time{}, err
	}

	expiresAt := m.now().Add(m.ttl).UTC()
	if err := m.accounts.SetResetToken(ctx, accountID, PendingReset{TokenHash: hash, ExpiresAt: expiresAt}); err != nil {
		return "", time.Time{}, oops.Code("RESET_ISSUE_FAILED").
			With("account_id", accountID.String()).
			Wrap(err)
	}
	return token, expiresAt, nil
}

// Consume sets passwordHash on the account owning a live token and clears the
// token in the same store operation. A missing, unknown, consumed or expired
// token yields CodeInvalidResetToken.
func (m *ResetTokenManager) Consume(ctx context.Context, token, passwordHash string) (*Account, error) {
	if token == "" {
		return nil, invalidResetToken()
	}

	account, err := m.accounts.ConsumeResetToken(ctx, HashResetToken(token), passwordHash, m.now())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, invalidResetToken()
		}
		return nil, oops.Code("RESET_CONSUME_FAILED").Wrap(err)
	}
	return account, nil
}

// Sweep clears expired tokens and returns how many were removed.
func (m *ResetTokenManager) Sweep(ctx context.Context) (int64, error) {
	n, err := m.accounts.ClearExpiredResetTokens(ctx, m.now())
	if err != nil {
		return 0, oops.Code("RESET_SWEEP_FAILED").Wrap(err)
	}
	return n, nil
}
