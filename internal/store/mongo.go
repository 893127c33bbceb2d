// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Taskboard Contributors

package store

import (
	"context"
	"time"

	"github.com/samber/oops"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// OpenMongo connects a MongoDB client and waits until the primary answers
// a ping. timeout bounds each connection attempt.
func OpenMongo(ctx context.Context, uri string, timeout time.Duration, policy RetryPolicy) (*mongo.Client, error) {
	opts := options.Client().ApplyURI(uri)
	if timeout > 0 {
		opts.SetConnectTimeout(timeout).SetServerSelectionTimeout(timeout)
	}
	if err := opts.Validate(); err != nil {
		return nil, oops.Code("STORE_INVALID_URI").Wrap(err)
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, oops.Code("STORE_CONNECT_FAILED").With("target", "mongo").Wrap(err)
	}

	ping := func(ctx context.Context) error {
		return client.Ping(ctx, readpref.Primary())
	}
	if err := connect(ctx, policy, "mongo", ping); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx)) //nolint:errcheck // connect error takes precedence
		return nil, err
	}
	return client, nil
}
