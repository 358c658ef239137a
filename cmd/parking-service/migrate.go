package main

import (
	"github.com/spf13/cobra"

	"parking-service/internal/config"
	"parking-service/internal/db"
	"parking-service/internal/logger"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log := logger.New(cfg.Log, cfg.App.Name)

			gdb, err := db.Open(cfg.Database, log)
			if err != nil {
				return err
			}
			defer db.Close(gdb)

			if err := db.Migrate(gdb); err != nil {
				return err
			}
			log.Info().Msg("migrations applied")
			return nil
		},
	}
}
