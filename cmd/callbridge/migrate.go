package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/callbridge/internal/adapters/driven/postgres"
	"github.com/custodia-labs/callbridge/internal/config"
	"github.com/custodia-labs/callbridge/internal/logger"
)

func newMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migration tools",
		Long:  `Apply the embedded schema migrations or report their status.`,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Run all pending migrations",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withDB(cmd.Context(), func(ctx context.Context, db *postgres.DB) error {
					return db.Migrate(ctx)
				})
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show migration status",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withDB(cmd.Context(), func(ctx context.Context, db *postgres.DB) error {
					return db.MigrationStatus(ctx, os.Stdout)
				})
			},
		},
	)

	return cmd
}

func withDB(ctx context.Context, fn func(context.Context, *postgres.DB) error) error {
	cfg, err := config.Load(config.ModeMigrate)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log := logger.Init(logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})

	db, err := postgres.Connect(ctx, postgres.DefaultConfig(cfg.DatabaseURL))
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	if err := fn(ctx, db); err != nil {
		return err
	}
	log.Info("migrate finished")
	return nil
}
