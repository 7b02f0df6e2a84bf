package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/pesio-ai/be-plt-access/internal/config"
	"github.com/pesio-ai/be-plt-access/pkg/logger"
)

const serviceName = "access-service"

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "access",
		Short:         "User, role and permission administration service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringSlice("env-file", []string{".env"}, "dotenv files loaded before the environment")

	root.AddCommand(serveCmd(), migrateCmd(), createAdminCmd())
	return root
}

// loadRuntime loads the configuration and the logger for a command
func loadRuntime(cmd *cobra.Command) (*config.Config, *logger.Logger, error) {
	envFiles, err := cmd.Flags().GetStringSlice("env-file")
	if err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(envFiles...)
	if err != nil {
		return nil, nil, err
	}
	log := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: serviceName,
	})
	return cfg, log, nil
}

func openPool(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid database url: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns

	log.Info().Msg("Connecting to database")
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	log.Info().Msg("Database connection established")
	return pool, nil
}
