package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/pesio-ai/be-plt-access/internal/config"
	"github.com/pesio-ai/be-plt-access/internal/handler"
	"github.com/pesio-ai/be-plt-access/internal/mailer"
	"github.com/pesio-ai/be-plt-access/internal/metrics"
	"github.com/pesio-ai/be-plt-access/internal/repository"
	"github.com/pesio-ai/be-plt-access/internal/service"
	jwtpkg "github.com/pesio-ai/be-plt-access/pkg/jwt"
	"github.com/pesio-ai/be-plt-access/pkg/logger"
)

const readHeaderTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the gRPC health server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadRuntime(cmd)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, log)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	pool, err := openPool(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer pool.Close()

	if cfg.Database.MigrateOnStart {
		if err := repository.Migrate(ctx, pool); err != nil {
			return err
		}
		log.Info().Msg("Migrations applied")
	}

	jwtManager, err := jwtpkg.NewManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, serviceName)
	if err != nil {
		return fmt.Errorf("failed to create JWT manager: %w", err)
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	store := service.NewStore(repository.NewStore(pool, log))
	rbac := service.NewRBACService(store, cfg.Cache, log)
	auth := service.NewAuthService(store, jwtManager, mailer.New(cfg.Mail, cfg.Auth.ResetTokenTTL, log), m, cfg.Auth, cfg.Mail.ResetURLBase, log)
	users := service.NewUserService(store, rbac, cfg.Auth, log)
	audit := service.NewAuditService(store)

	redisClient, err := handler.NewRedisClient(ctx, cfg.RateLimit)
	if err != nil {
		return err
	}
	var limiterStore redis.UniversalClient
	if redisClient != nil {
		defer redisClient.Close()
		limiterStore = redisClient
	}
	limits, err := handler.NewRateLimits(cfg.RateLimit, limiterStore)
	if err != nil {
		return err
	}

	gin.SetMode(cfg.Server.GinMode)
	router := handler.NewRouter(handler.Deps{
		Auth:         auth,
		Users:        users,
		RBAC:         rbac,
		Audit:        audit,
		DB:           store,
		Metrics:      m,
		MetricsPath:  cfg.Metrics.Path,
		Limits:       limits,
		CookieSecure: cfg.Server.CookieSecure,
		Log:          log,
	})

	httpServer := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(cfg.Server.HTTPPort)),
		Handler:           router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	health := handler.NewHealthServer(store, log)
	grpcListener, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(cfg.Server.GRPCPort)))
	if err != nil {
		return fmt.Errorf("failed to create gRPC listener: %w", err)
	}

	healthCtx, stopHealth := context.WithCancel(ctx)
	defer stopHealth()
	go health.Run(healthCtx)

	errCh := make(chan error, 2)
	go func() {
		log.Info().Int("port", cfg.Server.GRPCPort).Msg("Starting gRPC health server")
		if err := health.GRPC().Serve(grpcListener); err != nil {
			errCh <- fmt.Errorf("gRPC server failed: %w", err)
		}
	}()
	go func() {
		log.Info().Int("port", cfg.Server.HTTPPort).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server failed: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down gracefully...")
	case runErr = <-errCh:
		log.Error().Err(runErr).Msg("Server error, shutting down")
	}

	stopHealth()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	health.GRPC().GracefulStop()

	log.Info().Msg("Server stopped")
	return runErr
}
