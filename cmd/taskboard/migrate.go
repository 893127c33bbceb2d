// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Taskboard Contributors

package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/taskboard/taskboard/internal/store"
)

// Migrator is the subset of store.Migrator the migrate commands drive.
type Migrator interface {
	Up() error
	Down() error
	Force(version int) error
	Status() (*store.MigrationStatus, error)
	Close() error
}

// migratorFactory opens a migrator for a DSN. Tests replace it.
var migratorFactory = func(dsn string) (Migrator, error) {
	m, err := store.NewMigrator(dsn)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage PostgreSQL schema migrations",
		Long: `Apply, roll back or inspect the PostgreSQL credential store schema.
The connection string comes from store.postgres_dsn (--postgres-dsn or
TASKBOARD_STORE__POSTGRES_DSN). MongoDB needs no migrations; its indexes are
created when the server starts.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, func(m Migrator) error {
				cmd.Println("Running migrations...")
				if err := m.Up(); err != nil {
					return err
				}
				cmd.Println("Migrations completed successfully")
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back all migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, func(m Migrator) error {
				cmd.Println("Rolling back migrations...")
				if err := m.Down(); err != nil {
					return err
				}
				cmd.Println("Rollback completed successfully")
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, func(m Migrator) error {
				status, err := m.Status()
				if err != nil {
					return err
				}
				_, err = fmt.Fprint(cmd.OutOrStdout(), formatStatus(status))
				return err
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "force VERSION",
		Short: "Set the schema version without running migrations",
		Long: `Force marks the schema as being at VERSION and clears the dirty flag.
Use it to recover after a failed migration has been repaired by hand.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := parseForceVersion(args[0])
			if err != nil {
				return err
			}
			return withMigrator(cmd, func(m Migrator) error {
				if err := m.Force(version); err != nil {
					return err
				}
				cmd.Printf("Forced schema version to %d\n", version)
				return nil
			})
		},
	})

	return cmd
}

// withMigrator opens a migrator for the configured DSN, runs fn and closes it.
func withMigrator(cmd *cobra.Command, fn func(Migrator) error) (err error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Store.PostgresDSN == "" {
		return oops.Code("CONFIG_INVALID").With("key", "store.postgres_dsn").
			Errorf("store.postgres_dsn is required for migrations")
	}

	m, err := migratorFactory(cfg.Store.PostgresDSN)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "open migrator").Wrap(err)
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	return fn(m)
}

// parseForceVersion parses the VERSION argument of migrate force.
func parseForceVersion(arg string) (int, error) {
	trimmed := strings.TrimSpace(arg)
	if trimmed == "" {
		return 0, oops.Code("INVALID_VERSION").Errorf("version is required")
	}
	version, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, oops.Code("INVALID_VERSION").With("input", arg).Errorf("invalid version %q: must be an integer", arg)
	}
	if version < -1 {
		return 0, oops.Code("INVALID_VERSION").With("input", arg).Errorf("version must be -1 or greater")
	}
	return version, nil
}

func formatStatus(s *store.MigrationStatus) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Current version: %d\n", s.Current)
	if s.Dirty {
		b.WriteString("State: dirty (run 'migrate force' after repairing)\n")
	} else {
		b.WriteString("State: clean\n")
	}
	fmt.Fprintf(&b, "Applied: %d\n", len(s.Applied))
	fmt.Fprintf(&b, "Pending: %d\n", len(s.Pending))
	for _, v := range s.Pending {
		name, err := store.MigrationName(v)
		if err != nil || name == "" {
			name = strconv.FormatUint(uint64(v), 10)
		}
		fmt.Fprintf(&b, "  - %s\n", name)
	}
	return b.String()
}
