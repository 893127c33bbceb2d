// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Taskboard Contributors

// Package store connects to the backing databases and owns the PostgreSQL
// schema migrations.
package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
)

// OpenPostgres creates a pgx pool and waits until the server answers a ping.
func OpenPostgres(ctx context.Context, dsn string, policy RetryPolicy) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, oops.Code("STORE_INVALID_DSN").Wrap(err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, oops.Code("STORE_CONNECT_FAILED").With("target", "postgres").Wrap(err)
	}

	if err := connect(ctx, policy, "postgres", pool.Ping); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}
