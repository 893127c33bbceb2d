// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Taskboard Contributors

// Package redis implements auth.Revoker on Redis. Each revoked token id is
// a key that expires together with the token.
package redis

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/taskboard/taskboard/internal/auth"
)

// KeyPrefix namespaces revocation keys.
const KeyPrefix = "taskboard:revoked:"

// Revoker stores revoked session token ids in Redis.
type Revoker struct {
	rdb goredis.Cmdable
	now func() time.Time
}

// Option customizes a Revoker.
type Option func(*Revoker)

// WithClock overrides the clock used to derive key TTLs.
func WithClock(now func() time.Time) Option {
	return func(r *Revoker) { r.now = now }
}

// NewRevoker creates a Revoker over rdb.
func NewRevoker(rdb goredis.Cmdable, opts ...Option) (*Revoker, error) {
	if rdb == nil {
		return nil, oops.Code("REVOKER_INVALID_CONFIG").Errorf("redis client is required")
	}
	r := &Revoker{rdb: rdb, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Connect opens a client and checks it answers PING.
func Connect(ctx context.Context, addr, password string, db int) (*goredis.Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close() //nolint:errcheck // ping error takes precedence
		return nil, oops.Code("REVOKER_CONNECT_FAILED").With("addr", addr).Wrap(err)
	}
	return rdb, nil
}

// Revoke marks the token id as revoked until expiresAt. Already-expired
// tokens are not recorded.
func (r *Revoker) Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error {
	if tokenID == "" {
		return oops.Code("REVOKER_INVALID_TOKEN_ID").Errorf("token id cannot be empty")
	}
	ttl := expiresAt.Sub(r.now())
	if ttl <= 0 {
		return nil
	}
	// Redis expiry has millisecond resolution; round up so the key outlives
	// the token.
	ttl = ttl.Truncate(time.Millisecond) + time.Millisecond

	if err := r.rdb.Set(ctx, Key(tokenID), "1", ttl).Err(); err != nil {
		return oops.Code("REVOKER_WRITE_FAILED").With("token_id", tokenID).Wrap(err)
	}
	return nil
}

// IsRevoked reports whether the token id was revoked.
func (r *Revoker) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	err := r.rdb.Get(ctx, Key(tokenID)).Err()
	if errors.Is(err, goredis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, oops.Code("REVOKER_READ_FAILED").With("token_id", tokenID).Wrap(err)
	}
	return true, nil
}

// Key returns the Redis key for a token id.
func Key(tokenID string) string {
	return KeyPrefix + tokenID
}

var _ auth.Revoker = (*Revoker)(nil)
