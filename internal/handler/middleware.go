package handler

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/pesio-ai/be-plt-access/internal/metrics"
	"github.com/pesio-ai/be-plt-access/internal/repository"
	"github.com/pesio-ai/be-plt-access/internal/service"
	apperrors "github.com/pesio-ai/be-plt-access/pkg/errors"
	"github.com/pesio-ai/be-plt-access/pkg/logger"
)

const (
	ctxKeyUser   = "user"
	ctxKeyUserID = "user_id"

	tokenCookie     = "token"
	requestIDHeader = "X-Request-ID"
)

// RequestLogger gives every request a request id and a scoped logger, and
// logs and measures it once served
func RequestLogger(log *logger.Logger, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Header(requestIDHeader, requestID)

		reqLog := log.With("request_id", requestID)
		c.Request = c.Request.WithContext(logger.NewContext(c.Request.Context(), reqLog))

		c.Next()

		status := c.Writer.Status()
		elapsed := time.Since(start)
		m.ObserveRequest(c.Request.Method, c.FullPath(), status, elapsed)

		reqLog = logger.FromContext(c.Request.Context(), reqLog)
		ev := reqLog.Info()
		if status >= 500 {
			ev = reqLog.Error()
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", elapsed).
			Str("client_ip", c.ClientIP()).
			Msg("Request completed")
	}
}

// bearerToken returns the Authorization bearer token, falling back to the
// token cookie
func bearerToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		parts := strings.Fields(h)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
		return ""
	}
	if cookie, err := c.Cookie(tokenCookie); err == nil {
		return cookie
	}
	return ""
}

// SessionGuard authenticates the request and attaches the live user
func SessionGuard(auth *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := auth.VerifyToken(c.Request.Context(), bearerToken(c))
		if err != nil {
			logger.FromContext(c.Request.Context(), nil).Warn().Err(err).Msg("Authentication failed")
			fail(c, err)
			return
		}

		c.Set(ctxKeyUser, user)
		c.Set(ctxKeyUserID, user.ID)
		ctx := c.Request.Context()
		log := logger.FromContext(ctx, nil).WithInt64("user_id", user.ID)
		c.Request = c.Request.WithContext(logger.NewContext(ctx, log))
		c.Next()
	}
}

func currentUser(c *gin.Context) *repository.User {
	if v, ok := c.Get(ctxKeyUser); ok {
		if u, ok := v.(*repository.User); ok {
			return u
		}
	}
	return nil
}

func actor(c *gin.Context) service.Actor {
	a := service.Actor{IPAddress: c.ClientIP()}
	if u := currentUser(c); u != nil {
		a.UserID = u.ID
	}
	return a
}

var errAdminRequired = apperrors.Forbidden("Admin privileges required").WithReason("ADMIN_REQUIRED")

// RequireAdmin lets only SUPER_ADMIN and ADMIN holders through
func RequireAdmin(rbac *service.RBACService) gin.HandlerFunc {
	return func(c *gin.Context) {
		u := currentUser(c)
		if u == nil {
			fail(c, service.ErrAuthRequired)
			return
		}
		ok, err := rbac.HasAdminRole(c.Request.Context(), u.ID)
		if err != nil {
			fail(c, err)
			return
		}
		if !ok {
			fail(c, errAdminRequired)
			return
		}
		c.Next()
	}
}

// RequirePermission checks the permission matrix for action on the system
// module identified by key
func RequirePermission(rbac *service.RBACService, key string, action service.Action) gin.HandlerFunc {
	return func(c *gin.Context) {
		u := currentUser(c)
		if u == nil {
			fail(c, service.ErrAuthRequired)
			return
		}
		ok, err := rbac.AuthorizeSystemModule(c.Request.Context(), u.ID, key, action)
		if err != nil {
			fail(c, err)
			return
		}
		if !ok {
			logger.FromContext(c.Request.Context(), nil).Warn().
				Str("module", key).
				Str("action", string(action)).
				Msg("Permission denied")
			fail(c, apperrors.Forbidden("Insufficient permissions").WithReason("PERMISSION_DENIED"))
			return
		}
		c.Next()
	}
}
