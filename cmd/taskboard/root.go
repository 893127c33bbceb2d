// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Taskboard Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/taskboard/taskboard/internal/config"
	"github.com/taskboard/taskboard/internal/xdg"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the Taskboard CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "taskboard",
		Short: "Taskboard - task manager backend",
		Long: `Taskboard serves the task manager's account API: registration,
cookie-based sessions, and email password reset over a JSON HTTP interface.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewConfigCmd())

	return cmd
}

// loadConfig resolves configuration for a subcommand from its file, the
// environment and the flags the user set. Without --config, an existing
// $XDG_CONFIG_HOME/taskboard/config.yaml is used.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path := configFile
	if path == "" {
		found, err := xdg.DefaultConfigFile()
		if err != nil {
			return nil, err
		}
		path = found
	}
	return config.Load(path, cmd.Flags())
}
