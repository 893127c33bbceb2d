// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Taskboard Contributors

// Package config loads Taskboard configuration from defaults, a YAML file,
// the environment and command-line flags, in that order of precedence.
package config

import (
	"net/netip"
	"strings"
	"time"

	"github.com/samber/oops"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverMongo    = "mongo"
	DriverPostgres = "postgres"
)

// MinSecretLength is the minimum session signing secret length in bytes.
const MinSecretLength = 32

// MinPasswordFloor is the lowest password length policy accepted.
const MinPasswordFloor = 6

const redacted = "[redacted]"

// Config is the complete Taskboard configuration.
type Config struct {
	Server  ServerConfig  `koanf:"server" yaml:"server"`
	Metrics MetricsConfig `koanf:"metrics" yaml:"metrics"`
	Log     LogConfig     `koanf:"log" yaml:"log"`
	Store   StoreConfig   `koanf:"store" yaml:"store"`
	Redis   RedisConfig   `koanf:"redis" yaml:"redis"`
	Auth    AuthConfig    `koanf:"auth" yaml:"auth"`
	Mail    MailConfig    `koanf:"mail" yaml:"mail"`
}

// ServerConfig configures the public HTTP API listener.
type ServerConfig struct {
	Addr            string        `koanf:"addr" yaml:"addr"`
	ReadTimeout     time.Duration `koanf:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" yaml:"shutdown_timeout"`
	// CORSOrigins are glob patterns matched against the Origin header.
	CORSOrigins []string `koanf:"cors_origins" yaml:"cors_origins"`
	// TrustedProxies are IPs or CIDRs allowed to name the client through
	// X-Forwarded-For, X-Real-IP or True-Client-IP. Empty means the socket
	// peer is always the client.
	TrustedProxies []string `koanf:"trusted_proxies" yaml:"trusted_proxies"`
}

// MetricsConfig configures the observability listener. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr" yaml:"addr"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Format string `koanf:"format" yaml:"format"`
	Level  string `koanf:"level" yaml:"level"`
}

// StoreConfig selects and configures the credential store.
type StoreConfig struct {
	Driver        string `koanf:"driver" yaml:"driver"`
	MongoURI      string `koanf:"mongo_uri" yaml:"mongo_uri"`
	MongoDatabase string `koanf:"mongo_database" yaml:"mongo_database"`
	PostgresDSN   string `koanf:"postgres_dsn" yaml:"postgres_dsn"`
	// ConnectTimeout bounds the startup retry loop.
	ConnectTimeout time.Duration `koanf:"connect_timeout" yaml:"connect_timeout"`
}

// RedisConfig configures the session revocation list. An empty Addr keeps
// logout stateless.
type RedisConfig struct {
	Addr     string `koanf:"addr" yaml:"addr"`
	Password string `koanf:"password" yaml:"password"`
	DB       int    `koanf:"db" yaml:"db"`
}

// HashConfig holds argon2id parameters.
type HashConfig struct {
	MemoryKiB   uint32 `koanf:"memory_kib" yaml:"memory_kib"`
	Iterations  uint32 `koanf:"iterations" yaml:"iterations"`
	Parallelism uint8  `koanf:"parallelism" yaml:"parallelism"`
	// Concurrency caps simultaneous hash computations; 0 means GOMAXPROCS.
	Concurrency int `koanf:"concurrency" yaml:"concurrency"`
}

// RateLimitConfig is a per-IP token bucket: a burst of Requests refilled
// evenly over Window.
type RateLimitConfig struct {
	Requests int           `koanf:"requests" yaml:"requests"`
	Window   time.Duration `koanf:"window" yaml:"window"`
}

// AuthConfig configures credentials, sessions and password reset.
type AuthConfig struct {
	SessionSecret     string          `koanf:"session_secret" yaml:"session_secret"`
	SessionTTL        time.Duration   `koanf:"session_ttl" yaml:"session_ttl"`
	Issuer            string          `koanf:"issuer" yaml:"issuer"`
	CookieName        string          `koanf:"cookie_name" yaml:"cookie_name"`
	CookieSecure      bool            `koanf:"cookie_secure" yaml:"cookie_secure"`
	ResetTokenTTL     time.Duration   `koanf:"reset_token_ttl" yaml:"reset_token_ttl"`
	ResetSweep        time.Duration   `koanf:"reset_sweep_interval" yaml:"reset_sweep_interval"`
	MinPasswordLength int             `koanf:"min_password_length" yaml:"min_password_length"`
	ExposeResetToken  bool            `koanf:"expose_reset_token" yaml:"expose_reset_token"`
	Hash              HashConfig      `koanf:"hash" yaml:"hash"`
	RateLimit         RateLimitConfig `koanf:"rate_limit" yaml:"rate_limit"`
}

// MailConfig configures reset-link delivery. Without a Postmark token, reset
// mails are written to the log.
type MailConfig struct {
	PostmarkToken string `koanf:"postmark_token" yaml:"postmark_token"`
	From          string `koanf:"from" yaml:"from"`
	// ResetURL is the client page the token is appended to as ?token=.
	ResetURL string `koanf:"reset_url" yaml:"reset_url"`
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return invalid("server.addr", "server.addr is required")
	}
	for _, proxy := range c.Server.TrustedProxies {
		if !validProxy(proxy) {
			return invalid("server.trusted_proxies", "server.trusted_proxies entry %q is not an IP or CIDR", proxy)
		}
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return invalid("log.format", "log.format must be 'json' or 'text', got %q", c.Log.Format)
	}

	switch c.Store.Driver {
	case DriverMemory:
	case DriverMongo:
		if c.Store.MongoURI == "" {
			return invalid("store.mongo_uri", "store.mongo_uri is required for the mongo driver")
		}
		if c.Store.MongoDatabase == "" {
			return invalid("store.mongo_database", "store.mongo_database is required for the mongo driver")
		}
	case DriverPostgres:
		if c.Store.PostgresDSN == "" {
			return invalid("store.postgres_dsn", "store.postgres_dsn is required for the postgres driver")
		}
	default:
		return invalid("store.driver", "store.driver must be one of memory, mongo, postgres, got %q", c.Store.Driver)
	}

	if len(c.Auth.SessionSecret) < MinSecretLength {
		return invalid("auth.session_secret", "auth.session_secret must be at least %d bytes", MinSecretLength)
	}
	if c.Auth.SessionTTL <= 0 {
		return invalid("auth.session_ttl", "auth.session_ttl must be positive")
	}
	if c.Auth.ResetTokenTTL <= 0 {
		return invalid("auth.reset_token_ttl", "auth.reset_token_ttl must be positive")
	}
	if c.Auth.MinPasswordLength < MinPasswordFloor {
		return invalid("auth.min_password_length", "auth.min_password_length must be at least %d", MinPasswordFloor)
	}
	if strings.TrimSpace(c.Auth.CookieName) == "" {
		return invalid("auth.cookie_name", "auth.cookie_name is required")
	}
	if c.Auth.Hash.MemoryKiB == 0 || c.Auth.Hash.Iterations == 0 || c.Auth.Hash.Parallelism == 0 {
		return invalid("auth.hash", "auth.hash parameters must be positive")
	}
	if c.Auth.RateLimit.Requests < 0 || (c.Auth.RateLimit.Requests > 0 && c.Auth.RateLimit.Window <= 0) {
		return invalid("auth.rate_limit", "auth.rate_limit.window must be positive when requests is set")
	}
	if c.Mail.PostmarkToken != "" && c.Mail.From == "" {
		return invalid("mail.from", "mail.from is required when mail.postmark_token is set")
	}
	return nil
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	if c.Auth.SessionSecret != "" {
		c.Auth.SessionSecret = redacted
	}
	if c.Redis.Password != "" {
		c.Redis.Password = redacted
	}
	if c.Mail.PostmarkToken != "" {
		c.Mail.PostmarkToken = redacted
	}
	if c.Store.PostgresDSN != "" {
		c.Store.PostgresDSN = redactURL(c.Store.PostgresDSN)
	}
	if c.Store.MongoURI != "" {
		c.Store.MongoURI = redactURL(c.Store.MongoURI)
	}
	if len(c.Server.CORSOrigins) > 0 {
		c.Server.CORSOrigins = append([]string(nil), c.Server.CORSOrigins...)
	}
	if len(c.Server.TrustedProxies) > 0 {
		c.Server.TrustedProxies = append([]string(nil), c.Server.TrustedProxies...)
	}
	return c
}

func validProxy(entry string) bool {
	entry = strings.TrimSpace(entry)
	if strings.Contains(entry, "/") {
		_, err := netip.ParsePrefix(entry)
		return err == nil
	}
	_, err := netip.ParseAddr(entry)
	return err == nil
}

// redactURL hides the userinfo part of a connection URL.
func redactURL(raw string) string {
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return raw
	}
	at := strings.LastIndex(rest, "@")
	if at < 0 {
		return raw
	}
	return scheme + "://" + redacted + "@" + rest[at+1:]
}

func invalid(key, format string, args ...any) error {
	return oops.Code("CONFIG_INVALID").With("key", key).Errorf(format, args...)
}
