// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Taskboard Contributors

package httpapi

import (
	"errors"
	"io"
	"net/http"

	"github.com/samber/oops"

	"github.com/taskboard/taskboard/internal/auth"
)

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "OK", "message": "Server is running"})
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !a.readBody(w, r, "register.json", &req) {
		return
	}

	account, err := a.auth.Register(r.Context(), auth.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	view := account.View()
	writeJSON(w, http.StatusCreated, envelope{Success: true, Message: "User registered successfully", User: &view})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !a.readBody(w, r, "login.json", &req) {
		return
	}

	result, err := a.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	a.cookie.set(w, result.Session.Token)
	view := result.Account.View()
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "Login successful", User: &view})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		a.writeError(w, r, oops.Code(auth.CodeUnauthenticated).Errorf("Not authorized"))
		return
	}

	if err := a.auth.Logout(r.Context(), principal.Session); err != nil {
		a.writeError(w, r, err)
		return
	}

	a.cookie.clear(w)
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "Logged out successfully"})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		a.writeError(w, r, oops.Code(auth.CodeUnauthenticated).Errorf("Not authorized"))
		return
	}

	account, err := a.auth.Account(r.Context(), principal.AccountID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	view := account.View()
	writeJSON(w, http.StatusOK, envelope{Success: true, User: &view})
}

func (a *API) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if !a.readBody(w, r, "forgot-password.json", &req) {
		return
	}

	ticket, err := a.auth.ForgotPassword(r.Context(), req.Email)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, envelope{
		Success:    true,
		Message:    "If an account with that email exists, a password reset link has been sent",
		ResetToken: ticket.DevToken,
	})
}

func (a *API) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !a.readBody(w, r, "reset-password.json", &req) {
		return
	}

	if err := a.auth.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		a.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "Password has been reset successfully"})
}

// readBody reads, validates and decodes the request body into dst. On
// failure it writes the error response and returns false.
func (a *API) readBody(w http.ResponseWriter, r *http.Request, schema string, dst any) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, envelope{Message: "Request body too large"})
			return false
		}
		a.writeError(w, r, oops.Code(errInvalidBody).Wrap(err))
		return false
	}

	if err := decodeBody(schema, body, dst); err != nil {
		a.writeError(w, r, err)
		return false
	}
	return true
}
