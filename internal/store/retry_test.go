// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Taskboard Contributors

package store

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskboard/taskboard/pkg/errutil"
)

func TestConnect(t *testing.T) {
	ctx := context.Background()
	fast := RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond}

	t.Run("succeeds after transient failures", func(t *testing.T) {
		var buf bytes.Buffer
		policy := fast
		policy.Logger = slog.New(slog.NewJSONHandler(&buf, nil))

		calls := 0
		err := connect(ctx, policy, "postgres", func(context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("connection refused")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
		assert.Equal(t, 2, bytes.Count(buf.Bytes(), []byte("store connection attempt failed")))
	})

	t.Run("gives up after the configured attempts", func(t *testing.T) {
		calls := 0
		err := connect(ctx, fast, "mongo", func(context.Context) error {
			calls++
			return errors.New("no reachable servers")
		})
		require.Error(t, err)
		assert.Equal(t, 3, calls)
		errutil.AssertErrorCode(t, err, "STORE_CONNECT_FAILED")
		errutil.AssertErrorContext(t, err, "target", "mongo")
		assert.Contains(t, err.Error(), "no reachable servers")
	})

	t.Run("stops when the context is cancelled", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		err := connect(cancelled, RetryPolicy{Attempts: 10, BaseDelay: time.Hour}, "postgres", func(context.Context) error {
			return errors.New("connection refused")
		})
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "STORE_CONNECT_FAILED")
	})
}

func TestOpenPostgres_InvalidDSN(t *testing.T) {
	_, err := OpenPostgres(context.Background(), "postgres://%zz", DefaultRetryPolicy())
	errutil.AssertErrorCode(t, err, "STORE_INVALID_DSN")
}

func TestOpenMongo_InvalidURI(t *testing.T) {
	_, err := OpenMongo(context.Background(), "not-a-mongo-uri", time.Second, DefaultRetryPolicy())
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "STORE_INVALID_URI")
}
