// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package main

import (
	"strconv"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/gatehouse/gatehouse/internal/config"
	"github.com/gatehouse/gatehouse/internal/store"
)

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database schema migrations",
		Long:  `Apply, roll back, and inspect schema migrations against the PostgreSQL database.`,
		RunE:  runMigrateUp,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE:  runMigrateUp,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back all migrations (drops all tables and data)",
		RunE:  runMigrateDown,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show current and pending migration versions",
		RunE:  runMigrateStatus,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "force <version>",
		Short: "Set the migration version without running migrations",
		Long: `Set the recorded migration version without running migrations.
Use only to recover from a dirty state after fixing the schema by hand.`,
		Args: cobra.ExactArgs(1),
		RunE: runMigrateForce,
	})

	return cmd
}

// openMigrator loads config and creates a Migrator for the configured
// database.
func openMigrator(cmd *cobra.Command) (*store.Migrator, error) {
	cfg, err := config.Load(resolveConfigFile(), cmd.Flags())
	if err != nil {
		return nil, err
	}
	if cfg.Database.URL == "" {
		return nil, oops.Code("CONFIG_INVALID").Errorf("database URL is required (config database.url or DATABASE_URL)")
	}
	return store.NewMigrator(cfg.Database.URL)
}

func runMigrateUp(cmd *cobra.Command, _ []string) error {
	migrator, err := openMigrator(cmd)
	if err != nil {
		return err
	}
	defer migrator.Close() //nolint:errcheck // close error is not actionable here

	cmd.Println("Applying migrations...")
	if err := migrator.Up(); err != nil {
		return err
	}

	version, _, err := migrator.Version()
	if err != nil {
		return err
	}
	cmd.Printf("Migrations complete, schema at version %d\n", version)
	return nil
}

func runMigrateDown(cmd *cobra.Command, _ []string) error {
	migrator, err := openMigrator(cmd)
	if err != nil {
		return err
	}
	defer migrator.Close() //nolint:errcheck // close error is not actionable here

	cmd.Println("Rolling back all migrations...")
	if err := migrator.Down(); err != nil {
		return err
	}
	cmd.Println("Rollback complete")
	return nil
}

func runMigrateStatus(cmd *cobra.Command, _ []string) error {
	migrator, err := openMigrator(cmd)
	if err != nil {
		return err
	}
	defer migrator.Close() //nolint:errcheck // close error is not actionable here

	version, dirty, err := migrator.Version()
	if err != nil {
		return err
	}
	if version == 0 {
		cmd.Println("No migrations applied")
	} else {
		name, nameErr := store.MigrationName(version)
		if nameErr != nil || name == "" {
			name = "unknown"
		}
		cmd.Printf("Current version: %d (%s)\n", version, name)
	}
	if dirty {
		cmd.Println("WARNING: schema is dirty; a migration failed partway. Fix the schema and use 'migrate force'.")
	}

	pending, err := migrator.PendingMigrations()
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		cmd.Println("No pending migrations")
		return nil
	}
	for _, v := range pending {
		name, nameErr := store.MigrationName(v)
		if nameErr != nil || name == "" {
			name = "unknown"
		}
		cmd.Printf("Pending: %d (%s)\n", v, name)
	}
	return nil
}

func runMigrateForce(cmd *cobra.Command, args []string) error {
	version, err := strconv.Atoi(args[0])
	if err != nil || version < 0 {
		return oops.Code("INVALID_VERSION").Errorf("version must be a non-negative integer, got %q", args[0])
	}

	migrator, err := openMigrator(cmd)
	if err != nil {
		return err
	}
	defer migrator.Close() //nolint:errcheck // close error is not actionable here

	if err := migrator.Force(version); err != nil {
		return err
	}
	cmd.Printf("Forced schema version to %d\n", version)
	return nil
}
