package main

import (
	"github.com/spf13/cobra"

	"github.com/kchenfs/PrepDeck/internal/config"
	"github.com/kchenfs/PrepDeck/internal/database"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load().Normalized()
			logger, err := newLogger(cfg.LogLevel)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			pool, err := database.Connect(cmd.Context(), cfg.DSN(), logger)
			if err != nil {
				return err
			}
			defer pool.Close()
			return database.Migrate(cmd.Context(), pool, cfg.Tables, logger)
		},
	}
}
