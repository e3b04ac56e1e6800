package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/aeon/internal/config"
	"github.com/nextlevelbuilder/aeon/internal/memory"
)

// migrateCmd applies the durable-log schema for the configured database
// driver. Both SQLiteStore and PostgresStore bring their own schema up to
// date on open, so this is an idempotent ops convenience rather than a
// stepwise up/down migrator.
func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the durable-log schema for the configured database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			switch cfg.Database.Driver {
			case "postgres":
				if cfg.Database.PostgresDSN == "" {
					return fmt.Errorf("AEON_POSTGRES_DSN environment variable is not set")
				}
				store, err := memory.OpenPostgresStore(context.Background(), cfg.Database.PostgresDSN)
				if err != nil {
					return fmt.Errorf("apply postgres schema: %w", err)
				}
				defer store.Close()
				slog.Info("postgres schema up to date")
			default:
				path := config.ExpandHome(cfg.Database.SQLitePath)
				store, err := memory.OpenSQLiteStore(path)
				if err != nil {
					return fmt.Errorf("apply sqlite schema: %w", err)
				}
				defer store.Close()
				slog.Info("sqlite schema up to date", "path", path)
			}
			return nil
		},
	}
}
