// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Taskboard Contributors

package auth

import (
	"context"

	"github.com/oklog/ulid/v2"
)

// Principal is the authenticated caller of a request.
type Principal struct {
	AccountID ulid.ULID
	Session   *Session
}

type principalKey struct{}

// WithPrincipal returns a context carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal stored by WithPrincipal.
func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok && p != nil
}
