// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Taskboard Contributors

package auth

import (
	"context"
	"log/slog"
	"time"

	"github.com/samber/oops"

	"github.com/taskboard/taskboard/pkg/errutil"
)

// DefaultSweepInterval is how often the janitor clears expired reset tokens.
const DefaultSweepInterval = 10 * time.Minute

// Janitor periodically clears expired reset tokens so both reset fields
// return to null together.
type Janitor struct {
	resets   *ResetTokenManager
	interval time.Duration
	logger   *slog.Logger
	onSweep  func(n int64)
}

// JanitorOption customizes a Janitor.
type JanitorOption func(*Janitor)

// WithSweepObserver registers a callback receiving each sweep's count.
func WithSweepObserver(fn func(n int64)) JanitorOption {
	return func(j *Janitor) { j.onSweep = fn }
}

// NewJanitor creates a Janitor. A non-positive interval uses DefaultSweepInterval.
func NewJanitor(resets *ResetTokenManager, interval time.Duration, logger *slog.Logger, opts ...JanitorOption) (*Janitor, error) {
	if resets == nil {
		return nil, oops.Code("JANITOR_INVALID_CONFIG").Errorf("reset token manager is required")
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	j := &Janitor{resets: resets, interval: interval, logger: logger, onSweep: func(int64) {}}
	for _, opt := range opts {
		opt(j)
	}
	return j, nil
}

// Run sweeps on every tick until ctx is done.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep. Failures are logged.
func (j *Janitor) RunOnce(ctx context.Context) int64 {
	n, err := j.resets.Sweep(ctx)
	if err != nil {
		if ctx.Err() == nil {
			errutil.LogErrorContext(ctx, j.logger, slog.LevelWarn, "reset token sweep failed", err)
		}
		return 0
	}
	if n > 0 {
		j.logger.DebugContext(ctx, "cleared expired reset tokens", "count", n)
	}
	j.onSweep(n)
	return n
}
