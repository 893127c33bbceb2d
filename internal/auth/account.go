// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Taskboard Contributors

package auth

import (
	"context"
	"net/mail"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Username validation constraints.
const (
	MinUsernameLength = 3
	MaxUsernameLength = 30
)

// Password policy bounds. MaxPasswordLength caps the bytes fed to the hasher.
const (
	DefaultMinPasswordLength = 6
	MaxPasswordLength        = 1024
	MaxEmailLength           = 254
)

// usernameRegex matches usernames that:
// - Start with a letter (a-z, A-Z)
// - Contain only letters, numbers, and underscores
var usernameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// Account is a registered user credential record.
type Account struct {
	ID       ulid.ULID
	Username string
	// Email is stored as entered (trimmed); uniqueness is on EmailKey(Email).
	Email          string
	PasswordHash   string
	Reset          *PendingReset
	FailedAttempts int
	LockedUntil    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// PendingReset is an outstanding password reset. Only the token digest is kept.
type PendingReset struct {
	TokenHash string
	ExpiresAt time.Time
}

// Live reports whether the reset can still be consumed at now.
func (r *PendingReset) Live(now time.Time) bool {
	return r != nil && now.Before(r.ExpiresAt)
}

// AccountView is the public projection of an account.
type AccountView struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

// View returns the public projection. It never includes the password hash
// or reset state.
func (a *Account) View() AccountView {
	return AccountView{
		ID:        a.ID.String(),
		Username:  a.Username,
		Email:     a.Email,
		CreatedAt: a.CreatedAt,
	}
}

// NewAccount creates an Account with a fresh ID. passwordHash must already be
// a hasher output.
func NewAccount(username, email, passwordHash string, now time.Time) (*Account, error) {
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if passwordHash == "" {
		return nil, oops.Code("AUTH_INVALID_PASSWORD_HASH").Errorf("password hash cannot be empty")
	}

	now = now.UTC()
	return &Account{
		ID:           ulid.Make(),
		Username:     username,
		Email:        strings.TrimSpace(email),
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// EmailKey is the normalized form used for lookups and the uniqueness constraint.
func EmailKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateUsername validates a username against rules.
// Username requirements:
// - Length: MinUsernameLength to MaxUsernameLength characters
// - Must start with a letter
// - Can contain only letters (a-z, A-Z), numbers (0-9), and underscores (_)
func ValidateUsername(username string) error {
	if username == "" {
		return validationError("username", "Username is required")
	}
	if len(username) < MinUsernameLength {
		return validationError("username", "Username must be at least %d characters", MinUsernameLength)
	}
	if len(username) > MaxUsernameLength {
		return validationError("username", "Username must be at most %d characters", MaxUsernameLength)
	}
	if !usernameRegex.MatchString(username) {
		return validationError("username",
			"Username must start with a letter and contain only letters, numbers, and underscores")
	}
	return nil
}

// ValidateEmail accepts a bare address such as "ada@example.com". Display
// names ("Ada <ada@example.com>") are rejected.
func ValidateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return validationError("email", "Email is required")
	}
	if len(email) > MaxEmailLength {
		return validationError("email", "Email must be at most %d characters", MaxEmailLength)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email[strings.LastIndex(email, "@")+1:], ".") {
		return validationError("email", "Please provide a valid email address")
	}
	return nil
}

// ValidatePassword enforces the length policy. min is counted in characters.
func ValidatePassword(password string, minLength int) error {
	if password == "" {
		return validationError("password", "Password is required")
	}
	if utf8.RuneCountInString(password) < minLength {
		return validationError("password", "Password must be at least %d characters", minLength)
	}
	if len(password) > MaxPasswordLength {
		return validationError("password", "Password must be at most %d bytes", MaxPasswordLength)
	}
	return nil
}

// AccountRepository manages account persistence.
type AccountRepository interface {
	// Create stores a new account.
	// Returns ErrEmailTaken if another account has the same EmailKey.
	Create(ctx context.Context, account *Account) error

	// GetByID retrieves an account by ID.
	GetByID(ctx context.Context, id ulid.ULID) (*Account, error)

	// GetByEmail retrieves an account by email (case-insensitive).
	// Returns ErrNotFound if no account has the given email.
	GetByEmail(ctx context.Context, email string) (*Account, error)

	// UpdatePasswordHash replaces only the password hash.
	UpdatePasswordHash(ctx context.Context, id ulid.ULID, passwordHash string) error

	// UpdateLoginState overwrites the failure counter and lockout. Login uses
	// it to clear both after a success.
	UpdateLoginState(ctx context.Context, id ulid.ULID, failedAttempts int, lockedUntil *time.Time) error

	// RecordLoginFailure atomically increments the failure counter and
	// returns the new count. When threshold is positive and the new count
	// reaches it, locked_until is set to lockUntil.
	RecordLoginFailure(ctx context.Context, id ulid.ULID, threshold int, lockUntil time.Time) (int, error)

	// SetResetToken stores a pending reset, replacing any previous one.
	SetResetToken(ctx context.Context, id ulid.ULID, reset PendingReset) error

	// ConsumeResetToken atomically finds the account whose live reset matches
	// tokenHash, sets passwordHash, and clears the reset and lockout state.
	// Returns ErrNotFound when no live reset matches.
	ConsumeResetToken(ctx context.Context, tokenHash, passwordHash string, now time.Time) (*Account, error)

	// ClearExpiredResetTokens removes resets that expired at or before now.
	ClearExpiredResetTokens(ctx context.Context, now time.Time) (int64, error)

	// Ping checks that the backing store is reachable.
	Ping(ctx context.Context) error
}
