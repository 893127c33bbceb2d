// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Taskboard Contributors

package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Session token constants.
const (
	// DefaultSessionTTL is how long an issued session token stays valid.
	DefaultSessionTTL = 24 * time.Hour

	// MinSecretLength is the minimum HMAC secret size in bytes.
	MinSecretLength = 32

	signingAlgorithm = "HS256"
)

// Session is a verified or freshly issued session token.
type Session struct {
	Token     string
	AccountID ulid.ULID
	// TokenID is the JWT "jti" claim, used for revocation.
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// SessionTokens issues and verifies session tokens.
type SessionTokens interface {
	Issue(accountID ulid.ULID) (*Session, error)
	Verify(token string) (*Session, error)
	TTL() time.Duration
}

// TokenIssuer signs HS256 session tokens bound to an account id.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

// TokenOption customizes a TokenIssuer.
type TokenOption func(*TokenIssuer)

// WithTokenClock overrides the clock used for issuing and validating.
func WithTokenClock(now func() time.Time) TokenOption {
	return func(t *TokenIssuer) { t.now = now }
}

// NewTokenIssuer creates a TokenIssuer. The secret is copied.
func NewTokenIssuer(secret []byte, ttl time.Duration, issuer string, opts ...TokenOption) (*TokenIssuer, error) {
	if len(secret) < MinSecretLength {
		return nil, oops.Code("SESSION_SECRET_INVALID").
			With("min_length", MinSecretLength).
			Errorf("session secret must be at least %d bytes", MinSecretLength)
	}
	if ttl <= 0 {
		return nil, oops.Code("SESSION_TTL_INVALID").With("ttl", ttl).Errorf("session ttl must be positive")
	}
	if issuer == "" {
		return nil, oops.Code("SESSION_ISSUER_INVALID").Errorf("issuer cannot be empty")
	}

	t := &TokenIssuer{
		secret: append([]byte(nil), secret...),
		ttl:    ttl,
		issuer: issuer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// TTL returns the lifetime of issued tokens.
func (t *TokenIssuer) TTL() time.Duration {
	return t.ttl
}

// Issue signs a new token for the account.
func (t *TokenIssuer) Issue(accountID ulid.ULID) (*Session, error) {
	if accountID == (ulid.ULID{}) {
		return nil, oops.Code("SESSION_INVALID_ACCOUNT").Errorf("account id cannot be zero")
	}

	now := t.now()
	claims := jwt.RegisteredClaims{
		Issuer:    t.issuer,
		Subject:   accountID.String(),
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return nil, oops.Code("SESSION_SIGN_FAILED").With("account_id", accountID.String()).Wrap(err)
	}

	return &Session{
		Token:     signed,
		AccountID: accountID,
		TokenID:   claims.ID,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Verify checks signature, algorithm, issuer and expiry and returns the
// session the token describes. Failures carry SESSION_EXPIRED or SESSION_INVALID.
func (t *TokenIssuer) Verify(token string) (*Session, error) {
	if token == "" {
		return nil, oops.Code("SESSION_TOKEN_EMPTY").Errorf("session token cannot be empty")
	}

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return t.secret, nil },
		jwt.WithValidMethods([]string{signingAlgorithm}),
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
		jwt.WithStrictDecoding(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, oops.Code("SESSION_EXPIRED").Wrap(err)
		}
		return nil, oops.Code("SESSION_INVALID").Wrap(err)
	}

	accountID, err := ulid.Parse(claims.Subject)
	if err != nil {
		return nil, oops.Code("SESSION_INVALID").With("subject", claims.Subject).Wrap(err)
	}
	if claims.ID == "" {
		return nil, oops.Code("SESSION_INVALID").Errorf("token id missing")
	}

	session := &Session{
		Token:     token,
		AccountID: accountID,
		TokenID:   claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}
	if claims.IssuedAt != nil {
		session.IssuedAt = claims.IssuedAt.Time
	}
	return session, nil
}
