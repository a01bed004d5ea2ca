// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/gatehouse/gatehouse/internal/xdg"
)

// Global flags available to all subcommands.
var configFile string

// resolveConfigFile returns the --config value, falling back to the XDG
// config location ($XDG_CONFIG_HOME/gatehouse/gatehouse.yaml) when the
// flag is unset and that file exists.
func resolveConfigFile() string {
	if configFile != "" {
		return configFile
	}
	return xdg.ConfigFile()
}

// NewRootCmd creates the root command for the Gatehouse CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gatehouse",
		Short: "Gatehouse - credential and session lifecycle manager",
		Long: `Gatehouse manages email/password accounts and their sessions:
registration, email verification, login with lockout, logout,
password reset, and session validation.`,
	}

	// Global flag for config file path
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewSweepCmd())

	return cmd
}
