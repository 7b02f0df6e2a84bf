package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"

	"github.com/pesio-ai/be-plt-access/internal/config"
	"github.com/pesio-ai/be-plt-access/pkg/logger"
)

// RateLimits holds the global and /auth limiters. A nil *RateLimits
// disables limiting.
type RateLimits struct {
	global *limiter.Limiter
	auth   *limiter.Limiter
}

// NewRateLimits builds the limiters on a shared store: Redis when client is
// non-nil, process memory otherwise.
func NewRateLimits(cfg config.RateLimitConfig, client redis.UniversalClient) (*RateLimits, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	global, err := newStore(cfg, client, "global:")
	if err != nil {
		return nil, err
	}
	auth, err := newStore(cfg, client, "auth:")
	if err != nil {
		return nil, err
	}

	return &RateLimits{
		global: limiter.New(global, limiter.Rate{Period: cfg.Period, Limit: cfg.GlobalLimit}),
		auth:   limiter.New(auth, limiter.Rate{Period: cfg.Period, Limit: cfg.AuthLimit}),
	}, nil
}

func newStore(cfg config.RateLimitConfig, client redis.UniversalClient, scope string) (limiter.Store, error) {
	opts := limiter.StoreOptions{Prefix: cfg.Prefix + scope, MaxRetry: 3}
	if client == nil {
		return memory.NewStoreWithOptions(opts), nil
	}
	store, err := sredis.NewStoreWithOptions(client, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis limiter store: %w", err)
	}
	return store, nil
}

// NewRedisClient connects to the limiter Redis. An empty address returns nil.
func NewRedisClient(ctx context.Context, cfg config.RateLimitConfig) (*redis.Client, error) {
	if cfg.RedisAddr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// Global limits every request by client IP
func (r *RateLimits) Global() gin.HandlerFunc {
	if r == nil {
		return passThrough
	}
	return middleware(r.global)
}

// Auth limits the unauthenticated /auth endpoints by client IP
func (r *RateLimits) Auth() gin.HandlerFunc {
	if r == nil {
		return passThrough
	}
	return middleware(r.auth)
}

func passThrough(c *gin.Context) { c.Next() }

func middleware(l *limiter.Limiter) gin.HandlerFunc {
	return mgin.NewMiddleware(l,
		mgin.WithLimitReachedHandler(func(c *gin.Context) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "Too many requests, please try again later",
				"code":  "RATE_LIMITED",
			})
		}),
		mgin.WithErrorHandler(func(c *gin.Context, err error) {
			// Limiter store failures do not block traffic
			logger.FromContext(c.Request.Context(), nil).Error().Err(err).Msg("Rate limiter unavailable")
			c.Next()
		}),
	)
}
