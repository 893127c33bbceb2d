// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Taskboard Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/semaphore"

	"github.com/taskboard/taskboard/pkg/errutil"
)

var tracer = otel.Tracer("taskboard/auth")

// Recorder receives one observation per service operation.
type Recorder interface {
	RecordAuth(operation, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) RecordAuth(string, string) {}

// dummyPasswordHash is used when a user doesn't exist to prevent timing attacks.
// We still run password verification to make response time consistent.
// This is NOT a real credential - it's a fake hash that will never match any password.
//
//nolint:gosec // G101: This is an intentionally fake hash for timing attack prevention, not a credential.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// dummyPassword is hashed once with the live hasher so unknown-email logins
// pay the same cost as real ones.
const dummyPassword = "taskboard-timing-equalizer"

// ServiceConfig holds the collaborators of a Service. Accounts, Hasher,
// Tokens, Resets and Mailer are required.
type ServiceConfig struct {
	Accounts AccountRepository
	Hasher   PasswordHasher
	Tokens   SessionTokens
	Resets   *ResetTokenManager
	Mailer   Mailer

	// Revoker defaults to NopRevoker (stateless logout).
	Revoker Revoker
	Logger  *slog.Logger
	Metrics Recorder

	// MinPasswordLength defaults to DefaultMinPasswordLength.
	MinPasswordLength int
	// HashConcurrency bounds concurrent hash operations; defaults to GOMAXPROCS.
	HashConcurrency int
	// Lockout zero value disables lockout.
	Lockout LockoutPolicy
	Clock           func() time.Time

	// ExposeResetToken returns the raw reset token from ForgotPassword.
	// Development only.
	ExposeResetToken bool
}

// Service provides authentication operations.
type Service struct {
	accounts AccountRepository
	hasher   PasswordHasher
	tokens   SessionTokens
	resets   *ResetTokenManager
	revoker  Revoker
	mailer   Mailer
	logger   *slog.Logger
	metrics  Recorder

	minPassword int
	hashSlots   *semaphore.Weighted
	lockout     LockoutPolicy
	now         func() time.Time
	exposeReset bool

	dummyOnce sync.Once
	dummyHash string
}

// RegisterInput is the payload of Register.
type RegisterInput struct {
	Username string
	Email    string
	Password string
}

// LoginResult is a successful login.
type LoginResult struct {
	Account *Account
	Session *Session
}

// ResetTicket is the success-shaped result of ForgotPassword. DevToken is set
// only when the service exposes reset tokens and the account exists.
type ResetTicket struct {
	DevToken string
}

// NewService creates a new Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	switch {
	case cfg.Accounts == nil:
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("accounts repository is required")
	case cfg.Hasher == nil:
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("password hasher is required")
	case cfg.Tokens == nil:
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("session tokens are required")
	case cfg.Resets == nil:
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("reset token manager is required")
	case cfg.Mailer == nil:
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("mailer is required")
	case cfg.MinPasswordLength < 0:
		return nil, oops.Code("AUTH_INVALID_CONFIG").
			With("min_password_length", cfg.MinPasswordLength).
			Errorf("min password length cannot be negative")
	}

	s := &Service{
		accounts:    cfg.Accounts,
		hasher:      cfg.Hasher,
		tokens:      cfg.Tokens,
		resets:      cfg.Resets,
		revoker:     cfg.Revoker,
		mailer:      cfg.Mailer,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
		minPassword: cfg.MinPasswordLength,
		lockout:     cfg.Lockout,
		now:         cfg.Clock,
		exposeReset: cfg.ExposeResetToken,
	}
	if s.revoker == nil {
		s.revoker = NopRevoker{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.metrics == nil {
		s.metrics = nopRecorder{}
	}
	if s.minPassword == 0 {
		s.minPassword = DefaultMinPasswordLength
	}
	if s.now == nil {
		s.now = time.Now
	}
	slots := cfg.HashConcurrency
	if slots <= 0 {
		slots = runtime.GOMAXPROCS(0)
	}
	s.hashSlots = semaphore.NewWeighted(int64(slots))
	return s, nil
}

// MinPasswordLength returns the enforced minimum password length.
func (s *Service) MinPasswordLength() int {
	return s.minPassword
}

// Register creates an account. Duplicate detection is left to the store so
// concurrent registrations of one email yield exactly one account.
func (s *Service) Register(ctx context.Context, in RegisterInput) (_ *Account, err error) {
	ctx, end := s.begin(ctx, "register")
	defer func() { end(err) }()

	username := strings.TrimSpace(in.Username)
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	if err := ValidateEmail(in.Email); err != nil {
		return nil, err
	}
	if err := ValidatePassword(in.Password, s.minPassword); err != nil {
		return nil, err
	}

	hash, err := s.hash(ctx, in.Password)
	if err != nil {
		return nil, err
	}

	account, err := NewAccount(username, in.Email, hash, s.now())
	if err != nil {
		return nil, err
	}

	if err := s.accounts.Create(ctx, account); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return nil, oops.Code(CodeEmailTaken).
				With("email", EmailKey(account.Email)).
				Errorf("User with this email already exists")
		}
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "create account").
			Wrap(err)
	}

	s.logger.InfoContext(ctx, "account registered", "account_id", account.ID.String())
	return account, nil
}

// Login authenticates by email and password and issues a session token.
// Uses constant-time operations to prevent timing-based email enumeration.
func (s *Service) Login(ctx context.Context, email, password string) (_ *LoginResult, err error) {
	ctx, end := s.begin(ctx, "login")
	defer func() { end(err) }()

	if strings.TrimSpace(email) == "" || password == "" {
		return nil, validationError("credentials", "Email and password are required")
	}

	account, lookupErr := s.accounts.GetByEmail(ctx, email)
	var targetHash string
	if lookupErr != nil {
		if !errors.Is(lookupErr, ErrNotFound) {
			return nil, oops.Code("AUTH_LOGIN_FAILED").
				With("operation", "get account by email").
				Wrap(lookupErr)
		}
		account = nil
		targetHash = s.timingHash()
	} else {
		targetHash = account.PasswordHash
	}

	// Always verify so a miss costs the same as a wrong password.
	valid, verifyErr := s.verify(ctx, password, targetHash)
	if verifyErr != nil {
		if account == nil {
			return nil, invalidCredentials()
		}
		if errors.Is(verifyErr, context.Canceled) || errors.Is(verifyErr, context.DeadlineExceeded) {
			return nil, verifyErr
		}
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "verify password").
			With("account_id", account.ID.String()).
			Wrap(verifyErr)
	}

	now := s.now()
	if account == nil || !valid {
		if account != nil {
			s.recordFailure(ctx, account, now)
		}
		return nil, invalidCredentials()
	}

	// Check lockout AFTER password verification to maintain constant time.
	if state := s.lockout.Check(account.LockedUntil, now); state.IsLockedOut {
		return nil, oops.Code(CodeAccountLocked).
			With("account_id", account.ID.String()).
			With("retry_after", state.Remaining.Round(time.Second)).
			Errorf("Account temporarily locked, try again later")
	}

	if account.FailedAttempts > 0 || account.LockedUntil != nil {
		s.bestEffort(ctx, "record_success", account.ID,
			s.accounts.UpdateLoginState(ctx, account.ID, 0, nil))
		account.FailedAttempts, account.LockedUntil = 0, nil
	}

	if s.hasher.NeedsUpgrade(account.PasswordHash) {
		s.upgradeHash(ctx, account, password)
	}

	session, err := s.tokens.Issue(account.ID)
	if err != nil {
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "issue session token").
			With("account_id", account.ID.String()).
			Wrap(err)
	}

	s.logger.InfoContext(ctx, "login succeeded",
		"account_id", account.ID.String(),
		"token_id", session.TokenID)
	return &LoginResult{Account: account, Session: session}, nil
}

// Logout revokes the session. With the default NopRevoker the token stays
// valid until it expires and only the client copy is discarded.
func (s *Service) Logout(ctx context.Context, session *Session) (err error) {
	ctx, end := s.begin(ctx, "logout")
	defer func() { end(err) }()

	if session == nil {
		return unauthenticated("no session")
	}
	if err := s.revoker.Revoke(ctx, session.TokenID, session.ExpiresAt); err != nil {
		return oops.Code("AUTH_LOGOUT_FAILED").
			With("operation", "revoke session").
			With("token_id", session.TokenID).
			Wrap(err)
	}
	s.logger.InfoContext(ctx, "logout", "account_id", session.AccountID.String(), "token_id", session.TokenID)
	return nil
}

// Authenticate verifies a session token and checks it against the revoker.
func (s *Service) Authenticate(ctx context.Context, token string) (*Principal, error) {
	session, err := s.tokens.Verify(token)
	if err != nil {
		return nil, unauthenticated(errutil.Code(err))
	}

	revoked, err := s.revoker.IsRevoked(ctx, session.TokenID)
	if err != nil {
		return nil, oops.Code("AUTH_REVOCATION_CHECK_FAILED").
			With("token_id", session.TokenID).
			Wrap(err)
	}
	if revoked {
		return nil, unauthenticated("SESSION_REVOKED")
	}
	return &Principal{AccountID: session.AccountID, Session: session}, nil
}

// Me resolves the account that owns token.
func (s *Service) Me(ctx context.Context, token string) (_ *Account, err error) {
	ctx, end := s.begin(ctx, "me")
	defer func() { end(err) }()

	principal, err := s.Authenticate(ctx, token)
	if err != nil {
		return nil, err
	}
	return s.Account(ctx, principal.AccountID)
}

// Account loads an authenticated account. A deleted account is reported as
// unauthenticated.
func (s *Service) Account(ctx context.Context, id ulid.ULID) (*Account, error) {
	account, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, unauthenticated("ACCOUNT_NOT_FOUND")
		}
		return nil, oops.Code("AUTH_ACCOUNT_LOOKUP_FAILED").
			With("account_id", id.String()).
			Wrap(err)
	}
	return account, nil
}

// ForgotPassword issues a reset token when email belongs to an account. The
// result is the same whether or not it does.
func (s *Service) ForgotPassword(ctx context.Context, email string) (_ *ResetTicket, err error) {
	ctx, end := s.begin(ctx, "forgot_password")
	defer func() { end(err) }()

	if err := ValidateEmail(email); err != nil {
		return nil, err
	}

	account, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.logger.DebugContext(ctx, "password reset requested for unknown email")
			return &ResetTicket{}, nil
		}
		return nil, oops.Code("AUTH_FORGOT_PASSWORD_FAILED").
			With("operation", "get account by email").
			Wrap(err)
	}

	token, expiresAt, err := s.resets.Issue(ctx, account.ID)
	if err != nil {
		return nil, err
	}

	mailErr := s.mailer.SendPasswordReset(ctx, ResetMail{
		To:        account.Email,
		Username:  account.Username,
		Token:     token,
		ExpiresAt: expiresAt,
	})
	if mailErr != nil {
		errutil.LogErrorContext(ctx, s.logger, slog.LevelWarn, "password reset delivery failed",
			oops.With("account_id", account.ID.String()).Wrap(mailErr))
	}

	ticket := &ResetTicket{}
	if s.exposeReset {
		ticket.DevToken = token
	}
	return ticket, nil
}

// ResetPassword sets a new password using a reset token. The length policy
// is checked before the token is touched.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) (err error) {
	ctx, end := s.begin(ctx, "reset_password")
	defer func() { end(err) }()

	if token == "" {
		return validationError("token", "Reset token is required")
	}
	if err := ValidatePassword(newPassword, s.minPassword); err != nil {
		return err
	}

	hash, err := s.hash(ctx, newPassword)
	if err != nil {
		return err
	}

	account, err := s.resets.Consume(ctx, token, hash)
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "password reset", "account_id", account.ID.String())
	return nil
}

// begin opens a span and returns a func that closes it and records the outcome.
func (s *Service) begin(ctx context.Context, op string) (context.Context, func(error)) {
	ctx, span := tracer.Start(ctx, "auth."+op)
	return ctx, func(err error) {
		outcome := "success"
		if err != nil {
			outcome = outcomeOf(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.String("auth.outcome", outcome))
		span.End()
		s.metrics.RecordAuth(op, outcome)
	}
}

func outcomeOf(err error) string {
	switch code := errutil.Code(err); code {
	case CodeValidation, CodeEmailTaken, CodeInvalidCredentials,
		CodeInvalidResetToken, CodeUnauthenticated, CodeAccountLocked:
		return strings.ToLower(strings.TrimPrefix(code, "AUTH_"))
	default:
		return "error"
	}
}

func (s *Service) hash(ctx context.Context, password string) (string, error) {
	if err := s.hashSlots.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer s.hashSlots.Release(1)

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return "", oops.Code("AUTH_HASH_FAILED").Wrap(err)
	}
	return hash, nil
}

func (s *Service) verify(ctx context.Context, password, hash string) (bool, error) {
	if err := s.hashSlots.Acquire(ctx, 1); err != nil {
		return false, err
	}
	defer s.hashSlots.Release(1)
	return s.hasher.Verify(password, hash)
}

// timingHash returns a hash produced with the live parameters, falling back
// to a fixed one if hashing fails.
func (s *Service) timingHash() string {
	s.dummyOnce.Do(func() {
		s.dummyHash = dummyPasswordHash
		if hash, err := s.hasher.Hash(dummyPassword); err == nil {
			s.dummyHash = hash
		}
	})
	return s.dummyHash
}

func (s *Service) recordFailure(ctx context.Context, account *Account, now time.Time) {
	failures, err := s.accounts.RecordLoginFailure(ctx, account.ID, s.lockout.Threshold, now.Add(s.lockout.Duration))
	if err != nil {
		s.bestEffort(ctx, "record_failure", account.ID, err)
		return
	}
	if lockedUntil := s.lockout.NextLockout(failures, now); lockedUntil != nil {
		s.logger.WarnContext(ctx, "account locked after repeated login failures",
			"account_id", account.ID.String(),
			"failures", failures,
			"locked_until", lockedUntil)
	}
}

func (s *Service) upgradeHash(ctx context.Context, account *Account, password string) {
	hash, err := s.hash(ctx, password)
	if err != nil {
		s.bestEffort(ctx, "upgrade_hash", account.ID, err)
		return
	}
	if err := s.accounts.UpdatePasswordHash(ctx, account.ID, hash); err != nil {
		s.bestEffort(ctx, "upgrade_hash", account.ID, err)
		return
	}
	account.PasswordHash = hash
}

// bestEffort logs a failed side write that must not fail the request.
func (s *Service) bestEffort(ctx context.Context, operation string, id ulid.ULID, err error) {
	if err == nil {
		return
	}
	s.logger.WarnContext(ctx, "best-effort account update failed",
		"operation", operation,
		"account_id", id.String(),
		"error", err.Error())
}
