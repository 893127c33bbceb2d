// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Taskboard Contributors

// Package postgres implements auth.AccountRepository on PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/taskboard/taskboard/internal/auth"
)

// Pool is the subset of *pgxpool.Pool the repository uses.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

const accountColumns = `id, username, email, password_hash,
		       reset_token_hash, reset_token_expires_at,
		       failed_attempts, locked_until, created_at, updated_at`

// AccountRepository implements auth.AccountRepository using PostgreSQL.
type AccountRepository struct {
	pool Pool
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(pool Pool) *AccountRepository {
	return &AccountRepository{pool: pool}
}

// Create stores a new account. The unique email_key constraint decides
// races between concurrent registrations.
func (r *AccountRepository) Create(ctx context.Context, account *auth.Account) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO accounts (
			id, username, email, email_key, password_hash,
			failed_attempts, locked_until, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		account.ID.String(),
		account.Username,
		account.Email,
		auth.EmailKey(account.Email),
		account.PasswordHash,
		account.FailedAttempts,
		account.LockedUntil,
		account.CreatedAt,
		account.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return oops.Code("ACCOUNT_EMAIL_TAKEN").
				With("email", auth.EmailKey(account.Email)).
				With("constraint", pgErr.ConstraintName).
				Wrap(auth.ErrEmailTaken)
		}
		return oops.Code("ACCOUNT_CREATE_FAILED").
			With("operation", "insert account").
			With("id", account.ID.String()).
			Wrap(err)
	}
	return nil
}

// GetByID retrieves an account by ID.
func (r *AccountRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.Account, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id.String())
	return r.get(row, "id", id.String())
}

// GetByEmail retrieves an account by email (case-insensitive).
func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*auth.Account, error) {
	key := auth.EmailKey(email)
	row := r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email_key = $1`, key)
	return r.get(row, "email", key)
}

func (r *AccountRepository) get(row pgx.Row, key, value string) (*auth.Account, error) {
	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").With(key, value).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_GET_FAILED").
			With("operation", "get account by "+key).
			With(key, value).
			Wrap(err)
	}
	return account, nil
}

// UpdatePasswordHash replaces only the password hash.
func (r *AccountRepository) UpdatePasswordHash(ctx context.Context, id ulid.ULID, passwordHash string) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE accounts SET password_hash = $2, updated_at = now()
		WHERE id = $1
	`, id.String(), passwordHash)
	return r.checkUpdate(result, err, "update password hash", id)
}

// UpdateLoginState records the failure counter and lockout.
func (r *AccountRepository) UpdateLoginState(ctx context.Context, id ulid.ULID, failedAttempts int, lockedUntil *time.Time) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE accounts SET failed_attempts = $2, locked_until = $3, updated_at = now()
		WHERE id = $1
	`, id.String(), failedAttempts, lockedUntil)
	return r.checkUpdate(result, err, "update login state", id)
}

// RecordLoginFailure increments failed_attempts in a single statement so
// concurrent failures are all counted.
func (r *AccountRepository) RecordLoginFailure(ctx context.Context, id ulid.ULID, threshold int, lockUntil time.Time) (int, error) {
	var failures int
	err := r.pool.QueryRow(ctx, `
		UPDATE accounts SET
			failed_attempts = failed_attempts + 1,
			locked_until = CASE
				WHEN $2::int > 0 AND failed_attempts + 1 >= $2::int THEN $3
				ELSE locked_until
			END,
			updated_at = now()
		WHERE id = $1
		RETURNING failed_attempts
	`, id.String(), threshold, lockUntil).Scan(&failures)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, oops.Code("ACCOUNT_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return 0, oops.Code("ACCOUNT_UPDATE_FAILED").
			With("operation", "record login failure").
			With("id", id.String()).
			Wrap(err)
	}
	return failures, nil
}

// SetResetToken stores a pending reset, replacing any previous one.
func (r *AccountRepository) SetResetToken(ctx context.Context, id ulid.ULID, reset auth.PendingReset) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE accounts SET reset_token_hash = $2, reset_token_expires_at = $3, updated_at = now()
		WHERE id = $1
	`, id.String(), reset.TokenHash, reset.ExpiresAt)
	return r.checkUpdate(result, err, "set reset token", id)
}

func (r *AccountRepository) checkUpdate(result pgconn.CommandTag, err error, operation string, id ulid.ULID) error {
	if err != nil {
		return oops.Code("ACCOUNT_UPDATE_FAILED").
			With("operation", operation).
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("ACCOUNT_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// ConsumeResetToken swaps the password for a live reset token in a single
// UPDATE. Row locking lets only one concurrent caller match.
func (r *AccountRepository) ConsumeResetToken(ctx context.Context, tokenHash, passwordHash string, now time.Time) (*auth.Account, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE accounts SET
			password_hash = $2,
			reset_token_hash = NULL,
			reset_token_expires_at = NULL,
			failed_attempts = 0,
			locked_until = NULL,
			updated_at = now()
		WHERE reset_token_hash = $1 AND reset_token_expires_at > $3
		RETURNING `+accountColumns,
		tokenHash, passwordHash, now)

	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("RESET_TOKEN_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_CONSUME_RESET_FAILED").
			With("operation", "consume reset token").
			Wrap(err)
	}
	return account, nil
}

// ClearExpiredResetTokens removes resets that expired at or before now.
func (r *AccountRepository) ClearExpiredResetTokens(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.pool.Exec(ctx, `
		UPDATE accounts SET reset_token_hash = NULL, reset_token_expires_at = NULL
		WHERE reset_token_expires_at <= $1
	`, now)
	if err != nil {
		return 0, oops.Code("ACCOUNT_CLEAR_RESETS_FAILED").
			With("operation", "clear expired reset tokens").
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

// Ping checks database connectivity.
func (r *AccountRepository) Ping(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return oops.Code("ACCOUNT_STORE_UNAVAILABLE").With("store", "postgres").Wrap(err)
	}
	return nil
}

// scanAccount scans a single row into an Account.
// Callers are responsible for handling pgx.ErrNoRows.
func scanAccount(row pgx.Row) (*auth.Account, error) {
	var (
		idStr          string
		account        auth.Account
		resetHash      *string
		resetExpiresAt *time.Time
	)

	err := row.Scan(
		&idStr,
		&account.Username,
		&account.Email,
		&account.PasswordHash,
		&resetHash,
		&resetExpiresAt,
		&account.FailedAttempts,
		&account.LockedUntil,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // Callers wrap with context-specific info
		}
		return nil, oops.Code("ACCOUNT_SCAN_FAILED").With("operation", "scan account").Wrap(err)
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("ACCOUNT_INVALID_ID").
			With("operation", "parse account id").
			With("id", idStr).
			Wrap(err)
	}
	account.ID = id

	if resetHash != nil && resetExpiresAt != nil {
		account.Reset = &auth.PendingReset{TokenHash: *resetHash, ExpiresAt: *resetExpiresAt}
	}
	return &account, nil
}

// Compile-time interface check.
var _ auth.AccountRepository = (*AccountRepository)(nil)
