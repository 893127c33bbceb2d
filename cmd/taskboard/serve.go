// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Taskboard Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/taskboard/taskboard/internal/auth"
	"github.com/taskboard/taskboard/internal/auth/memory"
	authmongo "github.com/taskboard/taskboard/internal/auth/mongo"
	authpg "github.com/taskboard/taskboard/internal/auth/postgres"
	authredis "github.com/taskboard/taskboard/internal/auth/redis"
	"github.com/taskboard/taskboard/internal/config"
	"github.com/taskboard/taskboard/internal/httpapi"
	"github.com/taskboard/taskboard/internal/logging"
	"github.com/taskboard/taskboard/internal/mail"
	"github.com/taskboard/taskboard/internal/observability"
	"github.com/taskboard/taskboard/internal/store"
)

// cleanupTimeout bounds releasing resources after a failed startup.
const cleanupTimeout = 5 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Long: `Start the account API. The server connects the configured credential
store, serves /api on server.addr and metrics plus health probes on
metrics.addr, and shuts down gracefully on SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runServeWithDeps(cmd.Context(), cfg, cmd, nil)
		},
	}
}

// runServeWithDeps runs the API server with injectable dependencies.
// If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cfg *config.Config, cmd *cobra.Command, deps *ServeDeps) error {
	if deps == nil {
		deps = &ServeDeps{}
	}
	if deps.StoreOpener == nil {
		deps.StoreOpener = openStore
	}
	if deps.RevokerFactory == nil {
		deps.RevokerFactory = newRevoker
	}
	if deps.MailerFactory == nil {
		deps.MailerFactory = newMailer
	}
	if deps.ObservabilityServerFactory == nil {
		deps.ObservabilityServerFactory = func(addr string, readinessChecker observability.ReadinessChecker) ObservabilityServer {
			return observability.NewServer(addr, readinessChecker)
		}
	}
	if deps.ListenerFactory == nil {
		deps.ListenerFactory = net.Listen
	}

	if err := cfg.Validate(); err != nil {
		return oops.With("operation", "validate configuration").Wrap(err)
	}

	logger := logging.SetDefault("taskboard", version, cfg.Log.Format, cfg.Log.Level)
	logger.Info("starting server",
		"addr", cfg.Server.Addr,
		"store", cfg.Store.Driver,
		"log_format", cfg.Log.Format,
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	accounts, closeStore, err := deps.StoreOpener(ctx, cfg)
	if err != nil {
		return oops.With("operation", "open credential store").With("driver", cfg.Store.Driver).Wrap(err)
	}
	defer closeStore()
	logger.Info("credential store connected", "driver", cfg.Store.Driver)

	revoker, closeRevoker, err := deps.RevokerFactory(ctx, cfg)
	if err != nil {
		return oops.With("operation", "create session revoker").Wrap(err)
	}
	defer closeRevoker()

	mailer, err := deps.MailerFactory(cfg)
	if err != nil {
		return oops.With("operation", "create mailer").Wrap(err)
	}

	// Observability is always constructed so metrics are recorded; it only
	// listens when metrics.addr is set.
	obsServer := deps.ObservabilityServerFactory(cfg.Metrics.Addr, accounts.Ping)
	metrics := obsServer.Metrics()

	svc, resets, err := newAuthService(cfg, accounts, revoker, mailer, logger, metrics)
	if err != nil {
		return err
	}

	janitor, err := auth.NewJanitor(resets, cfg.Auth.ResetSweep, logger, auth.WithSweepObserver(metrics.RecordSwept))
	if err != nil {
		return oops.With("operation", "create reset janitor").Wrap(err)
	}

	api, err := httpapi.New(httpapi.Config{
		Auth:           svc,
		Logger:         logger,
		Metrics:        metrics,
		Registry:       obsServer.Registry(),
		CookieName:     cfg.Auth.CookieName,
		CookieSecure:   cfg.Auth.CookieSecure,
		SessionTTL:     cfg.Auth.SessionTTL,
		CORSOrigins:    cfg.Server.CORSOrigins,
		TrustedProxies: cfg.Server.TrustedProxies,
		RateLimit: httpapi.RateLimiterConfig{
			Requests: cfg.Auth.RateLimit.Requests,
			Window:   cfg.Auth.RateLimit.Window,
		},
	})
	if err != nil {
		return oops.With("operation", "create http api").Wrap(err)
	}
	defer api.Close()

	listener, err := deps.ListenerFactory("tcp", cfg.Server.Addr)
	if err != nil {
		return oops.Code("LISTEN_FAILED").With("addr", cfg.Server.Addr).Wrap(err)
	}

	if cfg.Metrics.Addr != "" {
		obsErrChan, err := obsServer.Start()
		if err != nil {
			if closeErr := listener.Close(); closeErr != nil {
				slog.Debug("error closing api listener", "error", closeErr)
			}
			return oops.With("operation", "start observability server").Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
		logger.Info("observability server started", "addr", obsServer.Addr())
	}

	httpServer := &http.Server{
		Handler:           api.Handler(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	var wg sync.WaitGroup
	wg.Add(2)
	apiErrChan := make(chan error, 1)
	go func() {
		defer wg.Done()
		defer close(apiErrChan)
		if serveErr := httpServer.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			apiErrChan <- serveErr
		}
	}()
	go func() {
		defer wg.Done()
		janitor.Run(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	addr := listener.Addr().String()
	cmd.Println("Taskboard API listening on " + addr)
	logger.Info("server ready", "addr", addr)
	if deps.OnReady != nil {
		deps.OnReady(addr)
	}

	var serveErr error
	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case err, ok := <-apiErrChan:
		if ok && err != nil {
			serveErr = oops.Code("API_SERVER_FAILED").Wrap(err)
		}
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	logger.Info("shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("error stopping api server", "error", err)
	}
	cancel()
	wg.Wait()

	if cfg.Metrics.Addr != "" {
		if err := obsServer.Stop(shutdownCtx); err != nil {
			logger.Warn("error stopping observability server", "error", err)
		}
	}

	logger.Info("shutdown complete")
	return serveErr
}

// newAuthService wires the auth service from configuration.
func newAuthService(
	cfg *config.Config,
	accounts auth.AccountRepository,
	revoker auth.Revoker,
	mailer auth.Mailer,
	logger *slog.Logger,
	metrics *observability.Metrics,
) (*auth.Service, *auth.ResetTokenManager, error) {
	hasher, err := auth.NewArgon2idHasherWithParams(auth.HashParams{
		MemoryKiB:   cfg.Auth.Hash.MemoryKiB,
		Iterations:  cfg.Auth.Hash.Iterations,
		Parallelism: cfg.Auth.Hash.Parallelism,
	})
	if err != nil {
		return nil, nil, oops.With("operation", "create password hasher").Wrap(err)
	}

	tokens, err := auth.NewTokenIssuer([]byte(cfg.Auth.SessionSecret), cfg.Auth.SessionTTL, cfg.Auth.Issuer)
	if err != nil {
		return nil, nil, oops.With("operation", "create session issuer").Wrap(err)
	}

	resets, err := auth.NewResetTokenManager(accounts, cfg.Auth.ResetTokenTTL, nil)
	if err != nil {
		return nil, nil, oops.With("operation", "create reset token manager").Wrap(err)
	}

	if cfg.Auth.ExposeResetToken {
		logger.Warn("reset tokens are returned in forgot-password responses; development only")
	}

	svc, err := auth.NewService(auth.ServiceConfig{
		Accounts:          accounts,
		Hasher:            hasher,
		Tokens:            tokens,
		Resets:            resets,
		Mailer:            mailer,
		Revoker:           revoker,
		Logger:            logger,
		Metrics:           metrics,
		MinPasswordLength: cfg.Auth.MinPasswordLength,
		HashConcurrency:   cfg.Auth.Hash.Concurrency,
		Lockout:           auth.DefaultLockoutPolicy(),
		ExposeResetToken:  cfg.Auth.ExposeResetToken,
	})
	if err != nil {
		return nil, nil, oops.With("operation", "create auth service").Wrap(err)
	}
	return svc, resets, nil
}

// openStore connects the credential store selected by store.driver.
func openStore(ctx context.Context, cfg *config.Config) (auth.AccountRepository, func(), error) {
	policy := store.DefaultRetryPolicy()

	switch cfg.Store.Driver {
	case config.DriverMemory:
		slog.Warn("using in-memory credential store; accounts are lost on restart")
		return memory.NewAccountRepository(), func() {}, nil

	case config.DriverMongo:
		client, err := store.OpenMongo(ctx, cfg.Store.MongoURI, cfg.Store.ConnectTimeout, policy)
		if err != nil {
			return nil, nil, err
		}
		disconnect := func() {
			dctx, dcancel := context.WithTimeout(context.Background(), cleanupTimeout)
			defer dcancel()
			if err := client.Disconnect(dctx); err != nil {
				slog.Warn("error disconnecting mongo", "error", err)
			}
		}
		repo, err := authmongo.NewAccountRepository(ctx, client.Database(cfg.Store.MongoDatabase))
		if err != nil {
			disconnect()
			return nil, nil, err
		}
		return repo, disconnect, nil

	case config.DriverPostgres:
		connectCtx := ctx
		if cfg.Store.ConnectTimeout > 0 {
			var cancel context.CancelFunc
			connectCtx, cancel = context.WithTimeout(ctx, cfg.Store.ConnectTimeout)
			defer cancel()
		}
		pool, err := store.OpenPostgres(connectCtx, cfg.Store.PostgresDSN, policy)
		if err != nil {
			return nil, nil, err
		}
		return authpg.NewAccountRepository(pool), pool.Close, nil
	}

	return nil, nil, oops.Code("CONFIG_INVALID").With("key", "store.driver").
		Errorf("unknown store driver %q", cfg.Store.Driver)
}

// newRevoker returns a Redis revocation list when redis.addr is set and
// keeps logout stateless otherwise.
func newRevoker(ctx context.Context, cfg *config.Config) (auth.Revoker, func(), error) {
	if cfg.Redis.Addr == "" {
		return auth.NopRevoker{}, func() {}, nil
	}

	client, err := authredis.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, nil, err
	}
	closeClient := func() {
		if err := client.Close(); err != nil {
			slog.Warn("error closing redis client", "error", err)
		}
	}
	revoker, err := authredis.NewRevoker(client)
	if err != nil {
		closeClient()
		return nil, nil, err
	}
	slog.Info("session revocation enabled", "redis_addr", cfg.Redis.Addr)
	return revoker, closeClient, nil
}

// newMailer sends reset links through Postmark when a token is configured
// and logs them at debug level otherwise.
func newMailer(cfg *config.Config) (auth.Mailer, error) {
	if cfg.Mail.PostmarkToken == "" {
		if cfg.Store.Driver != config.DriverMemory {
			slog.Warn("no mail transport configured, password reset links are only logged at debug level",
				"store_driver", cfg.Store.Driver)
		}
		return mail.NewLogMailer(slog.Default(), cfg.Mail.ResetURL), nil
	}
	client, err := mail.NewPostmarkClient(cfg.Mail.PostmarkToken, cfg.Mail.From, cfg.Mail.ResetURL)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// monitorServerErrors monitors a server's error channel and cancels the context on error.
// It exits when either an error is received, the channel is closed, or the context is cancelled.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
