// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Taskboard Contributors

// Package httpapi exposes the auth service over HTTP/JSON.
package httpapi

import (
	"log/slog"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"

	"github.com/taskboard/taskboard/internal/auth"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 64 << 10

// HTTPObserver records finished requests.
type HTTPObserver interface {
	ObserveHTTP(route string, status int, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveHTTP(string, int, time.Duration) {}

// Config holds the API's collaborators and settings. Auth is required.
type Config struct {
	Auth   *auth.Service
	Logger *slog.Logger
	// Metrics defaults to a no-op observer.
	Metrics HTTPObserver
	// Registry receives the rate limiter gauge; may be nil.
	Registry prometheus.Registerer

	CookieName   string
	CookieSecure bool
	// SessionTTL sets the cookie Max-Age.
	SessionTTL time.Duration

	CORSOrigins []string
	// TrustedProxies lists the peers (IPs or CIDRs) whose X-Forwarded-For,
	// X-Real-IP and True-Client-IP headers name the client. Headers from
	// any other peer are ignored.
	TrustedProxies []string
	// RateLimit zero Requests disables per-client limiting.
	RateLimit RateLimiterConfig
}

// API serves the /api routes.
type API struct {
	auth    *auth.Service
	logger  *slog.Logger
	metrics HTTPObserver
	cookie  cookieSettings
	limiter *RateLimiter
	cors    func(http.Handler) http.Handler
	proxies []netip.Prefix
}

// New builds an API. Call Close when done to stop the rate limiter.
func New(cfg Config) (*API, error) {
	if cfg.Auth == nil {
		return nil, oops.Code("HTTP_INVALID_CONFIG").Errorf("auth service is required")
	}
	if cfg.CookieName == "" {
		return nil, oops.Code("HTTP_INVALID_CONFIG").Errorf("cookie name is required")
	}
	if cfg.SessionTTL <= 0 {
		return nil, oops.Code("HTTP_INVALID_CONFIG").With("session_ttl", cfg.SessionTTL).
			Errorf("session ttl must be positive")
	}

	corsMW, err := corsHandler(cfg.CORSOrigins)
	if err != nil {
		return nil, err
	}
	proxies, err := parseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return nil, err
	}

	a := &API{
		auth:    cfg.Auth,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		cookie:  cookieSettings{name: cfg.CookieName, secure: cfg.CookieSecure, maxAge: cfg.SessionTTL},
		cors:    corsMW,
		proxies: proxies,
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.metrics == nil {
		a.metrics = nopObserver{}
	}
	if cfg.RateLimit.Requests > 0 {
		a.limiter = NewRateLimiter(cfg.RateLimit, cfg.Registry)
	}
	return a, nil
}

// Close releases background resources.
func (a *API) Close() {
	if a.limiter != nil {
		a.limiter.Close()
	}
}

// Handler returns the router.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(a.realIP)
	r.Use(a.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(a.cors)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, envelope{Message: "Not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, envelope{Message: "Method not allowed"})
	})

	r.Get("/api/health", a.handleHealth)

	r.Route("/api/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if a.limiter != nil {
				r.Use(a.rateLimit)
			}
			r.Post("/register", a.handleRegister)
			r.Post("/login", a.handleLogin)
			r.Post("/forgot-password", a.handleForgotPassword)
			r.Post("/reset-password", a.handleResetPassword)
		})
		r.Group(func(r chi.Router) {
			r.Use(a.RequireSession)
			r.Post("/logout", a.handleLogout)
			r.Get("/me", a.handleMe)
		})
	})
	return r
}
