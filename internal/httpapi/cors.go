// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Taskboard Contributors

package httpapi

import (
	"net/http"

	"github.com/go-chi/cors"
	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

// corsHandler allows credentialed requests from origins matching any of the
// glob patterns, e.g. "http://localhost:*" or "https://*.example.com".
func corsHandler(patterns []string) (func(http.Handler) http.Handler, error) {
	matchers := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '.', ':')
		if err != nil {
			return nil, oops.Code("HTTP_INVALID_CORS_ORIGIN").With("pattern", p).Wrap(err)
		}
		matchers = append(matchers, g)
	}

	return cors.Handler(cors.Options{
		AllowOriginFunc: func(_ *http.Request, origin string) bool {
			for _, m := range matchers {
				if m.Match(origin) {
					return true
				}
			}
			return false
		},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}), nil
}
