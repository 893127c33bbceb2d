// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Taskboard Contributors

package main

import (
	"context"
	"net"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/taskboard/taskboard/internal/auth"
	"github.com/taskboard/taskboard/internal/config"
	"github.com/taskboard/taskboard/internal/observability"
)

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// StoreOpener connects the configured credential store. The returned
	// func releases it.
	// Default: openStore
	StoreOpener func(ctx context.Context, cfg *config.Config) (auth.AccountRepository, func(), error)

	// RevokerFactory builds the session revocation list.
	// Default: newRevoker (Redis when redis.addr is set, stateless otherwise)
	RevokerFactory func(ctx context.Context, cfg *config.Config) (auth.Revoker, func(), error)

	// MailerFactory builds the password reset mailer.
	// Default: newMailer
	MailerFactory func(cfg *config.Config) (auth.Mailer, error)

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, readinessChecker observability.ReadinessChecker) ObservabilityServer

	// ListenerFactory creates the API listener.
	// Default: net.Listen
	ListenerFactory func(network, address string) (net.Listener, error)

	// OnReady is called with the bound API address once requests are served.
	OnReady func(addr string)
}

// ObservabilityServer interface wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Metrics() *observability.Metrics
	Registry() prometheus.Registerer
}
