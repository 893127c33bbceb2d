// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Taskboard Contributors

package mail

import (
	"context"
	"log/slog"

	"github.com/taskboard/taskboard/internal/auth"
)

// LogMailer writes reset links to the log instead of sending them. Only
// meant for development. The link itself is logged at debug level, so a
// default info-level log never holds a usable reset token.
type LogMailer struct {
	logger   *slog.Logger
	resetURL string
}

// NewLogMailer creates a LogMailer. A nil logger uses slog.Default.
func NewLogMailer(logger *slog.Logger, resetURL string) *LogMailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMailer{logger: logger, resetURL: resetURL}
}

// SendPasswordReset logs the reset link.
func (l *LogMailer) SendPasswordReset(ctx context.Context, m auth.ResetMail) error {
	link, err := ResetLink(l.resetURL, m.Token)
	if err != nil {
		return err
	}
	l.logger.InfoContext(ctx, "password reset mail not sent, no mail transport configured",
		"to", m.To,
		"expires_at", m.ExpiresAt)
	l.logger.DebugContext(ctx, "password reset link",
		"to", m.To,
		"link", link,
		"expires_at", m.ExpiresAt)
	return nil
}

var _ auth.Mailer = (*LogMailer)(nil)
