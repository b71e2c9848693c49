package main

import (
	"github.com/spf13/cobra"
)

var configFile string

// NewRootCmd creates the goaccount command tree.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "goaccount",
		Short: "goAccount - account, session and login service",
		Long: `goAccount serves password, passwordless and TOTP login, rotating
refresh sessions and email-token flows over HTTP, backed by PostgreSQL
and Redis.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (YAML)")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewLoadtestCmd())

	return cmd
}
