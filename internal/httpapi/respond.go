// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Taskboard Contributors

package httpapi

import (
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/samber/oops"

	"github.com/taskboard/taskboard/internal/auth"
	"github.com/taskboard/taskboard/pkg/errutil"
)

// HTTP-layer error codes.
const (
	errInvalidBody = "HTTP_INVALID_BODY"
	errRateLimited = "HTTP_RATE_LIMITED"
)

const internalErrorMessage = "Internal Server Error"

// envelope is the body of every API response.
type envelope struct {
	Success    bool              `json:"success"`
	Message    string            `json:"message,omitempty"`
	User       *auth.AccountView `json:"user,omitempty"`
	ResetToken string            `json:"resetToken,omitempty"`
}

// statusFor maps error codes to HTTP statuses. Unknown codes are 500.
var statusFor = map[string]int{
	auth.CodeValidation:         http.StatusBadRequest,
	auth.CodeEmailTaken:         http.StatusConflict,
	auth.CodeInvalidCredentials: http.StatusUnauthorized,
	auth.CodeInvalidResetToken:  http.StatusBadRequest,
	auth.CodeUnauthenticated:    http.StatusUnauthorized,
	auth.CodeAccountLocked:      http.StatusLocked,
	errInvalidBody:              http.StatusBadRequest,
	errRateLimited:              http.StatusTooManyRequests,
}

// publicMessage overrides the error text for codes whose detail stays
// server-side.
var publicMessage = map[string]string{
	errInvalidBody: "Invalid request body",
	errRateLimited: "Too many requests, please try again later",
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	//nolint:errcheck // client may have gone away
	json.NewEncoder(w).Encode(body)
}

// writeError renders err as the error envelope. Client errors are logged at
// debug, everything else at error with the oops context.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := errutil.Code(err)
	status, known := statusFor[code]
	if !known {
		errutil.LogErrorContext(r.Context(), a.logger, slog.LevelError, "request failed", err)
		writeJSON(w, http.StatusInternalServerError, envelope{Message: internalErrorMessage})
		return
	}

	message, ok := publicMessage[code]
	if !ok {
		message = err.Error()
	}
	if retry, ok := retryAfter(err); ok {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
	}

	a.logger.DebugContext(r.Context(), "request rejected", "code", code, "status", status, "error", err)
	writeJSON(w, status, envelope{Message: message})
}

func retryAfter(err error) (time.Duration, bool) {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return 0, false
	}
	d, ok := oopsErr.Context()["retry_after"].(time.Duration)
	return d, ok && d > 0
}
