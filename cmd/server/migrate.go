package main

import (
	"github.com/spf13/cobra"

	"github.com/pesio-ai/be-plt-access/internal/repository"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadRuntime(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			pool, err := openPool(ctx, cfg.Database, log)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := repository.Migrate(ctx, pool); err != nil {
				return err
			}
			version, err := repository.MigrationVersion(ctx, pool)
			if err != nil {
				return err
			}
			log.Info().Int64("version", version).Msg("Migrations applied")
			return nil
		},
	}
}
