// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Formworks Contributors

package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/formworks/formworks/internal/config"
	"github.com/formworks/formworks/internal/store"
)

// newMigrateCmd creates the migrate subcommand with its actions.
func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database schema migrations",
		Long:  `Apply, roll back, and inspect the permission schema migrations.`,
	}

	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE:  runMigrateUp,
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back all migrations (drops all permission data)",
			RunE:  runMigrateDown,
		},
		&cobra.Command{
			Use:   "steps <n>",
			Short: "Apply n migrations (negative n rolls back)",
			Args:  cobra.ExactArgs(1),
			RunE:  runMigrateSteps,
		},
		&cobra.Command{
			Use:   "version",
			Short: "Show the current migration version",
			RunE:  runMigrateVersion,
		},
		&cobra.Command{
			Use:   "status",
			Short: "List applied and pending migrations",
			RunE:  runMigrateStatus,
		},
		&cobra.Command{
			Use:   "force <version>",
			Short: "Set the version without running migrations (dirty state recovery)",
			Args:  cobra.ExactArgs(1),
			RunE:  runMigrateForce,
		},
	)

	return cmd
}

// newMigrator resolves the database URL and opens a Migrator.
func newMigrator(cmd *cobra.Command) (*store.Migrator, error) {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return nil, err
	}
	url, err := resolveDatabaseURL(cfg)
	if err != nil {
		return nil, err
	}
	return store.NewMigrator(url)
}

// resolveDatabaseURL prefers the configured URL and falls back to the
// DATABASE_URL environment variable.
func resolveDatabaseURL(cfg *config.Config) (string, error) {
	if cfg.Database.URL != "" {
		return cfg.Database.URL, nil
	}
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url, nil
	}
	return "", oops.Code("CONFIG_INVALID").
		Errorf("database.url or the DATABASE_URL environment variable is required")
}

func closeMigrator(cmd *cobra.Command, m *store.Migrator) {
	if err := m.Close(); err != nil {
		cmd.PrintErrf("warning: failed to close migrator: %v\n", err)
	}
}

func runMigrateUp(cmd *cobra.Command, _ []string) error {
	m, err := newMigrator(cmd)
	if err != nil {
		return err
	}
	defer closeMigrator(cmd, m)

	cmd.Println("Applying migrations...")
	if err := m.Up(); err != nil {
		return err
	}
	cmd.Println("Migrations applied")
	return nil
}

func runMigrateDown(cmd *cobra.Command, _ []string) error {
	m, err := newMigrator(cmd)
	if err != nil {
		return err
	}
	defer closeMigrator(cmd, m)

	cmd.Println("Rolling back all migrations...")
	if err := m.Down(); err != nil {
		return err
	}
	cmd.Println("Rollback complete")
	return nil
}

func runMigrateSteps(cmd *cobra.Command, args []string) error {
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return oops.Code("INVALID_STEPS").Errorf("steps must be an integer, got %q", args[0])
	}

	m, err := newMigrator(cmd)
	if err != nil {
		return err
	}
	defer closeMigrator(cmd, m)

	if err := m.Steps(n); err != nil {
		return err
	}
	cmd.Printf("Applied %d step(s)\n", n)
	return nil
}

func runMigrateVersion(cmd *cobra.Command, _ []string) error {
	m, err := newMigrator(cmd)
	if err != nil {
		return err
	}
	defer closeMigrator(cmd, m)

	version, dirty, err := m.Version()
	if err != nil {
		return err
	}
	if version == 0 {
		cmd.Println("No migrations applied")
		return nil
	}
	name, err := store.MigrationName(version)
	if err != nil {
		return err
	}
	state := ""
	if dirty {
		state = " (dirty)"
	}
	cmd.Printf("Version %d%s: %s\n", version, state, formatMigrationName(name))
	return nil
}

func runMigrateStatus(cmd *cobra.Command, _ []string) error {
	m, err := newMigrator(cmd)
	if err != nil {
		return err
	}
	defer closeMigrator(cmd, m)

	applied, err := m.AppliedMigrations()
	if err != nil {
		return err
	}
	pending, err := m.PendingMigrations()
	if err != nil {
		return err
	}

	cmd.Printf("Applied: %d, pending: %d\n", len(applied), len(pending))
	for _, v := range applied {
		name, nameErr := store.MigrationName(v)
		if nameErr != nil {
			return nameErr
		}
		cmd.Printf("  [x] %d %s\n", v, formatMigrationName(name))
	}
	for _, v := range pending {
		name, nameErr := store.MigrationName(v)
		if nameErr != nil {
			return nameErr
		}
		cmd.Printf("  [ ] %d %s\n", v, formatMigrationName(name))
	}
	return nil
}

func runMigrateForce(cmd *cobra.Command, args []string) error {
	version, err := parseForceVersion(args[0])
	if err != nil {
		return err
	}

	m, err := newMigrator(cmd)
	if err != nil {
		return err
	}
	defer closeMigrator(cmd, m)

	if err := m.Force(version); err != nil {
		return err
	}
	cmd.Printf("Forced version to %d\n", version)
	return nil
}

// parseForceVersion parses a version argument. Sscanf semantics: leading
// whitespace is skipped and parsing stops at the first non-digit.
func parseForceVersion(s string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(s, "%d", &version); err != nil {
		return 0, oops.Code("INVALID_VERSION").
			With("input", s).
			Errorf("version must be an integer, got %q", s)
	}
	return version, nil
}

// formatMigrationName labels versions with no matching embedded file.
func formatMigrationName(name string) string {
	if name == "" {
		return "(unknown)"
	}
	return name
}
