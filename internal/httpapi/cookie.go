// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Taskboard Contributors

package httpapi

import (
	"net/http"
	"time"
)

// cookieSettings describe the session cookie.
type cookieSettings struct {
	name   string
	secure bool
	maxAge time.Duration
}

func (c cookieSettings) set(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.name,
		Value:    token,
		Path:     "/",
		MaxAge:   int(c.maxAge.Seconds()),
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (c cookieSettings) clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	})
}
