// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Taskboard Contributors

package auth

import (
	"errors"

	"github.com/samber/oops"
)

// Store-level sentinels. Repository implementations wrap these so callers can
// match with errors.Is.
var (
	ErrNotFound   = errors.New("not found")
	ErrEmailTaken = errors.New("email already registered")
)

// Error codes returned by Service. Every failure that reaches a client carries
// one of these; anything else is an internal error.
const (
	CodeValidation         = "AUTH_VALIDATION"
	CodeEmailTaken         = "AUTH_EMAIL_TAKEN"
	CodeInvalidCredentials = "AUTH_INVALID_CREDENTIALS"
	CodeInvalidResetToken  = "AUTH_INVALID_OR_EXPIRED_TOKEN"
	CodeUnauthenticated    = "AUTH_UNAUTHENTICATED"
	CodeAccountLocked      = "AUTH_ACCOUNT_LOCKED"
)

func validationError(field, format string, args ...any) error {
	return oops.Code(CodeValidation).With("field", field).Errorf(format, args...)
}

func invalidCredentials() error {
	return oops.Code(CodeInvalidCredentials).Errorf("Invalid credentials")
}

func invalidResetToken() error {
	return oops.Code(CodeInvalidResetToken).Errorf("Invalid or expired reset token")
}

func unauthenticated(reason string) error {
	return oops.Code(CodeUnauthenticated).With("reason", reason).Errorf("Not authorized")
}
