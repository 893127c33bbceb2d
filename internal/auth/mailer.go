// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Taskboard Contributors

package auth

import (
	"context"
	"time"
)

// ResetMail is the content of a password reset message.
type ResetMail struct {
	To        string
	Username  string
	Token     string
	ExpiresAt time.Time
}

// Mailer delivers password reset tokens out of band.
type Mailer interface {
	SendPasswordReset(ctx context.Context, msg ResetMail) error
}
