package main

import (
	"github.com/spf13/cobra"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the Formworks CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "formworks",
		Short: "Formworks - permission resolution and role management engine",
		Long: `Formworks resolves layered permissions for forms, workflows, and
reports: admin bypass, role grants, top-level CRUD gates, and per-asset
permission rows.`,
	}

	// Global flag for config file path
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newMigrateCmd())

	return cmd
}
