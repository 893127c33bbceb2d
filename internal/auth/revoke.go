// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Taskboard Contributors

package auth

import (
	"context"
	"sync"
	"time"
)

// Revoker records session tokens invalidated by logout before their expiry.
type Revoker interface {
	// Revoke marks the token id as revoked until expiresAt.
	Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error

	// IsRevoked reports whether the token id was revoked.
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// NopRevoker keeps logout stateless: a logged-out token remains valid until
// it expires.
type NopRevoker struct{}

// Revoke does nothing.
func (NopRevoker) Revoke(context.Context, string, time.Time) error { return nil }

// IsRevoked always reports false.
func (NopRevoker) IsRevoked(context.Context, string) (bool, error) { return false, nil }

// MemoryRevoker is a process-local Revoker. Entries are pruned once expired.
type MemoryRevoker struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewMemoryRevoker creates a MemoryRevoker. A nil clock uses time.Now.
func NewMemoryRevoker(now func() time.Time) *MemoryRevoker {
	if now == nil {
		now = time.Now
	}
	return &MemoryRevoker{entries: make(map[string]time.Time), now: now}
}

// Revoke marks the token id as revoked until expiresAt.
func (r *MemoryRevoker) Revoke(_ context.Context, tokenID string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for id, until := range r.entries {
		if !until.After(now) {
			delete(r.entries, id)
		}
	}
	if expiresAt.After(now) {
		r.entries[tokenID] = expiresAt
	}
	return nil
}

// IsRevoked reports whether the token id is currently revoked.
func (r *MemoryRevoker) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	until, ok := r.entries[tokenID]
	return ok && until.After(r.now()), nil
}

// Len returns the number of tracked entries.
func (r *MemoryRevoker) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

var (
	_ Revoker = NopRevoker{}
	_ Revoker = (*MemoryRevoker)(nil)
)
