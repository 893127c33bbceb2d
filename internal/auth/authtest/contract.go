// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Taskboard Contributors

// Package authtest holds a behavioural test suite every
// auth.AccountRepository implementation must pass.
package authtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskboard/taskboard/internal/auth"
)

// storePrecision absorbs timestamp truncation by real stores.
const storePrecision = time.Millisecond

// NewRepo returns an empty repository for one subtest.
type NewRepo func(t *testing.T) auth.AccountRepository

// NewAccount builds a valid account with a unique email.
func NewAccount(t *testing.T, email string) *auth.Account {
	t.Helper()
	if email == "" {
		email = fmt.Sprintf("user-%s@example.com", ulid.Make().String())
	}
	account, err := auth.NewAccount("tester", email, "$argon2id$v=19$m=1024,t=1,p=1$c2FsdA$aGFzaA",
		time.Now().Truncate(storePrecision))
	require.NoError(t, err)
	return account
}

// RunAccountRepositoryContract runs the suite against repositories from newRepo.
func RunAccountRepositoryContract(t *testing.T, newRepo NewRepo) {
	ctx := context.Background()

	t.Run("create and fetch", func(t *testing.T) {
		repo := newRepo(t)
		account := NewAccount(t, "Ada.Lovelace@Example.com")
		require.NoError(t, repo.Create(ctx, account))

		byID, err := repo.GetByID(ctx, account.ID)
		require.NoError(t, err)
		assertSameAccount(t, account, byID)

		byEmail, err := repo.GetByEmail(ctx, "ada.lovelace@example.COM")
		require.NoError(t, err)
		assert.Equal(t, account.ID, byEmail.ID)
		assert.Equal(t, "Ada.Lovelace@Example.com", byEmail.Email, "email is stored as entered")
	})

	t.Run("duplicate email in any case is rejected", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.Create(ctx, NewAccount(t, "dup@example.com")))

		err := repo.Create(ctx, NewAccount(t, "DUP@example.com"))
		require.Error(t, err)
		assert.ErrorIs(t, err, auth.ErrEmailTaken)
	})

	t.Run("concurrent registrations with one email yield one account", func(t *testing.T) {
		repo := newRepo(t)
		const attempts = 8

		var wg sync.WaitGroup
		errs := make(chan error, attempts)
		for i := range attempts {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				email := "race@example.com"
				if i%2 == 1 {
					email = "RACE@example.com"
				}
				errs <- repo.Create(ctx, NewAccount(t, email))
			}(i)
		}
		wg.Wait()
		close(errs)

		var ok, taken int
		for err := range errs {
			switch {
			case err == nil:
				ok++
			case errors.Is(err, auth.ErrEmailTaken):
				taken++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}
		assert.Equal(t, 1, ok)
		assert.Equal(t, attempts-1, taken)
	})

	t.Run("missing account is not found", func(t *testing.T) {
		repo := newRepo(t)

		_, err := repo.GetByID(ctx, ulid.Make())
		assert.ErrorIs(t, err, auth.ErrNotFound)

		_, err = repo.GetByEmail(ctx, "nobody@example.com")
		assert.ErrorIs(t, err, auth.ErrNotFound)

		assert.ErrorIs(t, repo.UpdatePasswordHash(ctx, ulid.Make(), "h"), auth.ErrNotFound)
		assert.ErrorIs(t, repo.UpdateLoginState(ctx, ulid.Make(), 1, nil), auth.ErrNotFound)
		_, err = repo.RecordLoginFailure(ctx, ulid.Make(), 7, time.Now())
		assert.ErrorIs(t, err, auth.ErrNotFound)
		assert.ErrorIs(t, repo.SetResetToken(ctx, ulid.Make(), auth.PendingReset{
			TokenHash: "x", ExpiresAt: time.Now().Add(time.Hour),
		}), auth.ErrNotFound)
	})

	t.Run("update password hash", func(t *testing.T) {
		repo := newRepo(t)
		account := NewAccount(t, "")
		require.NoError(t, repo.Create(ctx, account))

		require.NoError(t, repo.UpdatePasswordHash(ctx, account.ID, "$argon2id$new"))

		got, err := repo.GetByID(ctx, account.ID)
		require.NoError(t, err)
		assert.Equal(t, "$argon2id$new", got.PasswordHash)
	})

	t.Run("login state set and cleared", func(t *testing.T) {
		repo := newRepo(t)
		account := NewAccount(t, "")
		require.NoError(t, repo.Create(ctx, account))

		until := time.Now().Add(15 * time.Minute).Truncate(storePrecision)
		require.NoError(t, repo.UpdateLoginState(ctx, account.ID, 7, &until))

		got, err := repo.GetByID(ctx, account.ID)
		require.NoError(t, err)
		assert.Equal(t, 7, got.FailedAttempts)
		require.NotNil(t, got.LockedUntil)
		assert.WithinDuration(t, until, *got.LockedUntil, storePrecision)

		require.NoError(t, repo.UpdateLoginState(ctx, account.ID, 0, nil))
		got, err = repo.GetByID(ctx, account.ID)
		require.NoError(t, err)
		assert.Zero(t, got.FailedAttempts)
		assert.Nil(t, got.LockedUntil)
	})

	t.Run("login failures lock only at the threshold", func(t *testing.T) {
		repo := newRepo(t)
		account := NewAccount(t, "")
		require.NoError(t, repo.Create(ctx, account))

		until := time.Now().Add(15 * time.Minute).Truncate(storePrecision)
		for want := 1; want <= 2; want++ {
			got, err := repo.RecordLoginFailure(ctx, account.ID, 3, until)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		}
		stored, err := repo.GetByID(ctx, account.ID)
		require.NoError(t, err)
		assert.Nil(t, stored.LockedUntil)

		got, err := repo.RecordLoginFailure(ctx, account.ID, 3, until)
		require.NoError(t, err)
		assert.Equal(t, 3, got)

		stored, err = repo.GetByID(ctx, account.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, stored.FailedAttempts)
		require.NotNil(t, stored.LockedUntil)
		assert.WithinDuration(t, until, *stored.LockedUntil, storePrecision)
	})

	t.Run("zero threshold never locks", func(t *testing.T) {
		repo := newRepo(t)
		account := NewAccount(t, "")
		require.NoError(t, repo.Create(ctx, account))

		for range 3 {
			_, err := repo.RecordLoginFailure(ctx, account.ID, 0, time.Now().Add(time.Hour))
			require.NoError(t, err)
		}
		stored, err := repo.GetByID(ctx, account.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, stored.FailedAttempts)
		assert.Nil(t, stored.LockedUntil)
	})

	t.Run("concurrent login failures are all counted", func(t *testing.T) {
		repo := newRepo(t)
		account := NewAccount(t, "")
		require.NoError(t, repo.Create(ctx, account))

		const failures = 50
		until := time.Now().Add(15 * time.Minute).Truncate(storePrecision)

		var wg sync.WaitGroup
		counts := make(chan int, failures)
		for range failures {
			wg.Add(1)
			go func() {
				defer wg.Done()
				n, err := repo.RecordLoginFailure(ctx, account.ID, 7, until)
				assert.NoError(t, err)
				counts <- n
			}()
		}
		wg.Wait()
		close(counts)

		seen := make(map[int]bool, failures)
		for n := range counts {
			assert.False(t, seen[n], "count %d returned twice", n)
			seen[n] = true
		}
		assert.Len(t, seen, failures)

		stored, err := repo.GetByID(ctx, account.ID)
		require.NoError(t, err)
		assert.Equal(t, failures, stored.FailedAttempts)
		require.NotNil(t, stored.LockedUntil)
		assert.WithinDuration(t, until, *stored.LockedUntil, storePrecision)
	})

	t.Run("consume live token swaps password and clears state", func(t *testing.T) {
		repo := newRepo(t)
		account := NewAccount(t, "")
		require.NoError(t, repo.Create(ctx, account))

		now := time.Now().Truncate(storePrecision)
		locked := now.Add(time.Hour)
		require.NoError(t, repo.UpdateLoginState(ctx, account.ID, 7, &locked))
		require.NoError(t, repo.SetResetToken(ctx, account.ID, auth.PendingReset{
			TokenHash: auth.HashResetToken("tok"), ExpiresAt: now.Add(time.Hour),
		}))

		got, err := repo.GetByID(ctx, account.ID)
		require.NoError(t, err)
		require.NotNil(t, got.Reset)
		assert.Equal(t, auth.HashResetToken("tok"), got.Reset.TokenHash)

		consumed, err := repo.ConsumeResetToken(ctx, auth.HashResetToken("tok"), "$argon2id$reset", now)
		require.NoError(t, err)
		assert.Equal(t, account.ID, consumed.ID)
		assert.Equal(t, "$argon2id$reset", consumed.PasswordHash)
		assert.Nil(t, consumed.Reset)

		got, err = repo.GetByID(ctx, account.ID)
		require.NoError(t, err)
		assert.Equal(t, "$argon2id$reset", got.PasswordHash)
		assert.Nil(t, got.Reset)
		assert.Zero(t, got.FailedAttempts)
		assert.Nil(t, got.LockedUntil)

		_, err = repo.ConsumeResetToken(ctx, auth.HashResetToken("tok"), "$argon2id$again", now)
		assert.ErrorIs(t, err, auth.ErrNotFound, "token is single use")
	})

	t.Run("unknown and expired tokens leave the password alone", func(t *testing.T) {
		repo := newRepo(t)
		account := NewAccount(t, "")
		require.NoError(t, repo.Create(ctx, account))

		now := time.Now().Truncate(storePrecision)
		require.NoError(t, repo.SetResetToken(ctx, account.ID, auth.PendingReset{
			TokenHash: auth.HashResetToken("tok"), ExpiresAt: now.Add(time.Hour),
		}))

		_, err := repo.ConsumeResetToken(ctx, auth.HashResetToken("other"), "$argon2id$x", now)
		assert.ErrorIs(t, err, auth.ErrNotFound)

		_, err = repo.ConsumeResetToken(ctx, auth.HashResetToken("tok"), "$argon2id$x", now.Add(time.Hour))
		assert.ErrorIs(t, err, auth.ErrNotFound, "expiry instant is already expired")

		got, err := repo.GetByID(ctx, account.ID)
		require.NoError(t, err)
		assert.Equal(t, account.PasswordHash, got.PasswordHash)
	})

	t.Run("newer token replaces older one", func(t *testing.T) {
		repo := newRepo(t)
		account := NewAccount(t, "")
		require.NoError(t, repo.Create(ctx, account))

		now := time.Now().Truncate(storePrecision)
		for _, tok := range []string{"first", "second"} {
			require.NoError(t, repo.SetResetToken(ctx, account.ID, auth.PendingReset{
				TokenHash: auth.HashResetToken(tok), ExpiresAt: now.Add(time.Hour),
			}))
		}

		_, err := repo.ConsumeResetToken(ctx, auth.HashResetToken("first"), "$argon2id$x", now)
		assert.ErrorIs(t, err, auth.ErrNotFound)

		_, err = repo.ConsumeResetToken(ctx, auth.HashResetToken("second"), "$argon2id$y", now)
		assert.NoError(t, err)
	})

	t.Run("concurrent consumption succeeds once", func(t *testing.T) {
		repo := newRepo(t)
		account := NewAccount(t, "")
		require.NoError(t, repo.Create(ctx, account))

		now := time.Now().Truncate(storePrecision)
		require.NoError(t, repo.SetResetToken(ctx, account.ID, auth.PendingReset{
			TokenHash: auth.HashResetToken("tok"), ExpiresAt: now.Add(time.Hour),
		}))

		const attempts = 8
		var wg sync.WaitGroup
		errs := make(chan error, attempts)
		for i := range attempts {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := repo.ConsumeResetToken(ctx, auth.HashResetToken("tok"), fmt.Sprintf("$argon2id$%d", i), now)
				errs <- err
			}(i)
		}
		wg.Wait()
		close(errs)

		var ok int
		for err := range errs {
			if err == nil {
				ok++
			} else {
				assert.ErrorIs(t, err, auth.ErrNotFound)
			}
		}
		assert.Equal(t, 1, ok)
	})

	t.Run("clear expired reset tokens", func(t *testing.T) {
		repo := newRepo(t)
		now := time.Now().Truncate(storePrecision)

		expired := NewAccount(t, "")
		live := NewAccount(t, "")
		none := NewAccount(t, "")
		for _, a := range []*auth.Account{expired, live, none} {
			require.NoError(t, repo.Create(ctx, a))
		}
		require.NoError(t, repo.SetResetToken(ctx, expired.ID, auth.PendingReset{
			TokenHash: auth.HashResetToken("old"), ExpiresAt: now.Add(-time.Minute),
		}))
		require.NoError(t, repo.SetResetToken(ctx, live.ID, auth.PendingReset{
			TokenHash: auth.HashResetToken("new"), ExpiresAt: now.Add(time.Hour),
		}))

		n, err := repo.ClearExpiredResetTokens(ctx, now)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		got, err := repo.GetByID(ctx, expired.ID)
		require.NoError(t, err)
		assert.Nil(t, got.Reset)

		got, err = repo.GetByID(ctx, live.ID)
		require.NoError(t, err)
		assert.NotNil(t, got.Reset)
	})

	t.Run("ping", func(t *testing.T) {
		assert.NoError(t, newRepo(t).Ping(ctx))
	})
}

func assertSameAccount(t *testing.T, want, got *auth.Account) {
	t.Helper()
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.Username, got.Username)
	assert.Equal(t, want.Email, got.Email)
	assert.Equal(t, want.PasswordHash, got.PasswordHash)
	assert.Nil(t, got.Reset)
	assert.Zero(t, got.FailedAttempts)
	assert.Nil(t, got.LockedUntil)
	assert.WithinDuration(t, want.CreatedAt, got.CreatedAt, storePrecision)
}
