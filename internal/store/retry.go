// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Taskboard Contributors

package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// Connection retry defaults.
const (
	DefaultConnectAttempts = 5
	DefaultConnectDelay    = 500 * time.Millisecond
	maxConnectDelay        = 10 * time.Second
)

// RetryPolicy controls how store connectors retry while the backing
// service is still starting.
type RetryPolicy struct {
	// Attempts is the total number of tries, including the first.
	Attempts  uint64
	BaseDelay time.Duration
	Logger    *slog.Logger
}

// DefaultRetryPolicy returns the policy used by the server.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: DefaultConnectAttempts, BaseDelay: DefaultConnectDelay}
}

func (p RetryPolicy) backoff() retry.Backoff {
	attempts, delay := p.Attempts, p.BaseDelay
	if attempts == 0 {
		attempts = DefaultConnectAttempts
	}
	if delay <= 0 {
		delay = DefaultConnectDelay
	}
	b := retry.NewExponential(delay)
	b = retry.WithCappedDuration(maxConnectDelay, b)
	return retry.WithMaxRetries(attempts-1, b)
}

// connect runs fn until it succeeds, the policy is exhausted, or ctx ends.
// Every error fn returns is treated as retryable.
func connect(ctx context.Context, p RetryPolicy, target string, fn func(context.Context) error) error {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var attempt int
	err := retry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		attempt++
		if err := fn(ctx); err != nil {
			logger.WarnContext(ctx, "store connection attempt failed",
				"target", target,
				"attempt", attempt,
				"error", err.Error())
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return oops.Code("STORE_CONNECT_FAILED").
			With("target", target).
			With("attempts", attempt).
			Wrap(err)
	}
	return nil
}
