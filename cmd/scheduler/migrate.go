package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rezkam/mono/internal/config"
	"github.com/rezkam/mono/internal/store/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations and exit",
	RunE:  runMigrate,
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Store.Backend != "postgres" {
		return fmt.Errorf("migrate: SCHEDULER_STORE_BACKEND must be postgres, got %q", cfg.Store.Backend)
	}

	if err := postgres.Migrate(context.Background(), cfg.Store.PostgresDSN); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
	return nil
}
