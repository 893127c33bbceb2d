// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Taskboard Contributors

package httpapi

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/samber/oops"

	"github.com/taskboard/taskboard/internal/auth"
	"github.com/taskboard/taskboard/internal/logging"
)

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// requestLogger logs each request with method, route, status, duration and
// client address, and feeds the HTTP metrics.
func (a *API) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		elapsed := time.Since(start)
		route := routePattern(r)
		a.metrics.ObserveHTTP(route, rec.status, elapsed)

		attrs := []slog.Attr{
			slog.String("method", r.Method),
			slog.String("route", route),
			slog.Int("status", rec.status),
			slog.Duration("duration", elapsed),
			slog.String("remote", clientIP(r)),
		}

		switch {
		case rec.status >= 500:
			a.logger.LogAttrs(r.Context(), slog.LevelError, "request", attrs...)
		case rec.status >= 400:
			a.logger.LogAttrs(r.Context(), slog.LevelWarn, "request", attrs...)
		default:
			a.logger.LogAttrs(r.Context(), slog.LevelInfo, "request", attrs...)
		}
	})
}

// routePattern returns the matched chi pattern so metric labels stay bounded.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

// parseTrustedProxies accepts bare addresses and CIDR prefixes.
func parseTrustedProxies(entries []string) ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, oops.Code("HTTP_INVALID_CONFIG").With("trusted_proxy", entry).Wrap(err)
			}
			prefixes = append(prefixes, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, oops.Code("HTTP_INVALID_CONFIG").With("trusted_proxy", entry).Wrap(err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

// realIP applies chi's RealIP only when the connecting peer is a trusted
// proxy. Everyone else is identified by the socket address.
func (a *API) realIP(next http.Handler) http.Handler {
	forwarded := middleware.RealIP(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.trustedPeer(r.RemoteAddr) {
			forwarded.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) trustedPeer(remoteAddr string) bool {
	if len(a.proxies) == 0 {
		return false
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range a.proxies {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// clientIP is the host part of RemoteAddr. realIP has already rewritten it
// for requests that came through a trusted proxy.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// rateLimit rejects clients that exhausted their bucket with 429.
func (a *API) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, wait := a.limiter.Allow(clientIP(r))
		if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			a.writeError(w, r, oops.Code(errRateLimited).
				With("client", clientIP(r)).
				Errorf("rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireSession admits requests carrying a valid session token and attaches
// the principal to the request context.
func (a *API) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := a.sessionToken(r)
		if token == "" {
			a.writeError(w, r, oops.Code(auth.CodeUnauthenticated).
				With("reason", "no token").
				Errorf("Not authorized"))
			return
		}

		principal, err := a.auth.Authenticate(r.Context(), token)
		if err != nil {
			a.writeError(w, r, err)
			return
		}

		ctx := auth.WithPrincipal(r.Context(), principal)
		ctx = logging.WithAccountID(ctx, principal.AccountID.String())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// sessionToken reads the session cookie, falling back to a bearer token.
func (a *API) sessionToken(r *http.Request) string {
	if c, err := r.Cookie(a.cookie.name); err == nil && c.Value != "" {
		return c.Value
	}
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return ""
}
