// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Taskboard Contributors

package config

import (
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// EnvPrefix prefixes every environment override. Nested keys use a double
// underscore, so TASKBOARD_AUTH__SESSION_SECRET sets auth.session_secret.
const EnvPrefix = "TASKBOARD_"

// Defaults returns the built-in configuration values keyed by path.
func Defaults() map[string]any {
	return map[string]any{
		"server.addr":             ":5000",
		"server.read_timeout":     "15s",
		"server.write_timeout":    "15s",
		"server.shutdown_timeout": "10s",
		"server.cors_origins":     []string{"http://localhost:3000"},
		"server.trusted_proxies":  []string{},

		"metrics.addr": "127.0.0.1:9100",

		"log.format": "json",
		"log.level":  "info",

		"store.driver":          DriverMongo,
		"store.mongo_uri":       "mongodb://localhost:27017",
		"store.mongo_database":  "taskmanager",
		"store.postgres_dsn":    "",
		"store.connect_timeout": "30s",

		"redis.addr":     "",
		"redis.password": "",
		"redis.db":       0,

		"auth.session_secret":       "",
		"auth.session_ttl":          "24h",
		"auth.issuer":               "taskboard",
		"auth.cookie_name":          "token",
		"auth.cookie_secure":        false,
		"auth.reset_token_ttl":      "1h",
		"auth.reset_sweep_interval": "10m",
		"auth.min_password_length":  MinPasswordFloor,
		"auth.expose_reset_token":   false,
		"auth.hash.memory_kib":      64 * 1024,
		"auth.hash.iterations":      1,
		"auth.hash.parallelism":     4,
		"auth.hash.concurrency":     0,
		"auth.rate_limit.requests":  20,
		"auth.rate_limit.window":    "1m",

		"mail.postmark_token": "",
		"mail.from":           "",
		"mail.reset_url":      "http://localhost:3000/reset-password",
	}
}

// flagKeys maps command-line flag names to configuration paths.
var flagKeys = map[string]string{
	"addr":         "server.addr",
	"metrics-addr": "metrics.addr",
	"log-format":   "log.format",
	"log-level":    "log.level",
	"store":        "store.driver",
	"mongo-uri":    "store.mongo_uri",
	"postgres-dsn": "store.postgres_dsn",
	"redis-addr":   "redis.addr",
	"cors-origin":  "server.cors_origins",

	"trusted-proxy": "server.trusted_proxies",
}

// RegisterFlags adds the flags Load understands to fs. Flag defaults are
// informational; unchanged flags never override other sources.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Defaults()
	fs.String("addr", d["server.addr"].(string), "API listen address")
	fs.String("metrics-addr", d["metrics.addr"].(string), "metrics/health HTTP address (empty = disabled)")
	fs.String("log-format", d["log.format"].(string), "log format (json or text)")
	fs.String("log-level", d["log.level"].(string), "log level (debug, info, warn, error)")
	fs.String("store", d["store.driver"].(string), "credential store driver (memory, mongo, postgres)")
	fs.String("mongo-uri", d["store.mongo_uri"].(string), "MongoDB connection URI")
	fs.String("postgres-dsn", "", "PostgreSQL connection string")
	fs.String("redis-addr", "", "Redis address for session revocation (empty = stateless logout)")
	fs.StringSlice("cors-origin", d["server.cors_origins"].([]string), "allowed CORS origin pattern (repeatable)")
	fs.StringSlice("trusted-proxy", nil, "proxy IP or CIDR whose forwarding headers are honoured (repeatable)")
}

// Load builds the effective configuration. path may be empty; fs may be nil.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "defaults").Wrap(err)
	}

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "file").With("path", path).Wrap(err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "file").With("path", path).Wrap(err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "env").Wrap(err)
	}

	if fs != nil {
		provider := posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(fs, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "unmarshal").Wrap(err)
	}
	return &cfg, nil
}

// envKey turns TASKBOARD_AUTH__SESSION_TTL into auth.session_ttl.
func envKey(name string) string {
	name = strings.TrimPrefix(name, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(name), "__", ".")
}
