package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/pesio-ai/be-plt-access/pkg/logger"
)

// HealthServiceName is the gRPC health service reported next to the
// overall ("") status
const HealthServiceName = "access.v1"

const (
	healthInterval = 10 * time.Second
	pingTimeout    = 3 * time.Second
)

// Pinger reports whether the database is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthServer serves grpc.health.v1 with reflection and tracks database
// reachability
type HealthServer struct {
	grpc   *grpc.Server
	health *health.Server
	db     Pinger
	log    *logger.Logger
}

func NewHealthServer(db Pinger, log *logger.Logger) *HealthServer {
	srv := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)

	h := &HealthServer{grpc: srv, health: hs, db: db, log: log}
	h.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// GRPC returns the underlying server for Serve and GracefulStop
func (h *HealthServer) GRPC() *grpc.Server {
	return h.grpc
}

func (h *HealthServer) set(status healthpb.HealthCheckResponse_ServingStatus) {
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(HealthServiceName, status)
}

// Check pings the database once and publishes the result
func (h *HealthServer) Check(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		h.log.Warn().Err(err).Msg("Database ping failed")
		h.set(healthpb.HealthCheckResponse_NOT_SERVING)
		return
	}
	h.set(healthpb.HealthCheckResponse_SERVING)
}

// Run checks immediately and then every 10s until ctx is done. It marks
// everything NOT_SERVING on exit.
func (h *HealthServer) Run(ctx context.Context) {
	h.Check(ctx)
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.health.Shutdown()
			return
		case <-ticker.C:
			h.Check(ctx)
		}
	}
}

// Healthz answers GET /healthz after a database ping
func Healthz(db Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), pingTimeout)
		defer cancel()

		if err := db.Ping(ctx); err != nil {
			logger.FromContext(c.Request.Context(), nil).Warn().Err(err).Msg("Health check failed")
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
