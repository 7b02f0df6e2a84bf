// Package handler exposes the services over HTTP (gin) and gRPC health
package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/pesio-ai/be-plt-access/internal/metrics"
	"github.com/pesio-ai/be-plt-access/internal/service"
	"github.com/pesio-ai/be-plt-access/pkg/logger"
)

// Deps are the collaborators of the HTTP router
type Deps struct {
	Auth         *service.AuthService
	Users        *service.UserService
	RBAC         *service.RBACService
	Audit        *service.AuditService
	DB           Pinger
	Metrics      *metrics.Metrics
	MetricsPath  string
	Limits       *RateLimits
	CookieSecure bool
	Log          *logger.Logger
}

// NewRouter builds the gin engine with every route and its gates
func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(d.Log, d.Metrics), d.Limits.Global())

	r.GET("/healthz", Healthz(d.DB))
	if d.Metrics != nil && d.MetricsPath != "" {
		r.GET(d.MetricsPath, gin.WrapH(d.Metrics.Handler()))
	}

	session := SessionGuard(d.Auth)
	admin := RequireAdmin(d.RBAC)
	can := func(key string, action service.Action) gin.HandlerFunc {
		return RequirePermission(d.RBAC, key, action)
	}

	authH := NewAuthHandler(d.Auth, d.CookieSecure)
	auth := r.Group("/auth")
	{
		auth.POST("/login", d.Limits.Auth(), authH.Login)
		auth.POST("/logout", authH.Logout)
		auth.POST("/forgot-password", d.Limits.Auth(), authH.ForgotPassword)
		auth.POST("/reset-password", d.Limits.Auth(), authH.ResetPassword)
		auth.GET("/verify-token", session, authH.VerifyToken)
		auth.POST("/change-password-after-login", session, authH.ChangePasswordAfterLogin)
	}

	adminH := NewAdminHandler(d.Users, d.RBAC, d.Audit)
	r.POST("/admin/users/:id/reset-password", session, adminH.ResetPassword)

	adm := r.Group("/admin", session, admin)
	{
		adm.GET("/users", can(service.SystemModuleUsers, service.ActionView), adminH.ListUsers)
		adm.POST("/users", can(service.SystemModuleUsers, service.ActionCreate), adminH.CreateUser)
		adm.PUT("/users/:id", can(service.SystemModuleUsers, service.ActionEdit), adminH.UpdateUser)
		adm.PUT("/users/:id/details", can(service.SystemModuleUsers, service.ActionEdit), adminH.UpdateUserDetails)
		adm.POST("/users/:id/status", can(service.SystemModuleUsers, service.ActionEdit), adminH.ChangeStatus)
		adm.POST("/users/:id/approve", can(service.SystemModuleUsers, service.ActionEdit), adminH.ApproveUserLegacy)
		adm.DELETE("/users/:id", can(service.SystemModuleUsers, service.ActionDelete), adminH.DeleteUser)
		adm.POST("/approve-user/:id", can(service.SystemModuleUsers, service.ActionEdit), adminH.ApproveUser)
		adm.GET("/pending-approvals", can(service.SystemModuleUsers, service.ActionView), adminH.PendingApprovals)

		adm.GET("/roles", can(service.SystemModuleSettings, service.ActionView), adminH.ListRoles)
		adm.POST("/roles", can(service.SystemModuleSettings, service.ActionCreate), adminH.CreateRole)
		adm.PUT("/roles/:id", can(service.SystemModuleSettings, service.ActionEdit), adminH.UpdateRole)
		adm.DELETE("/roles/:id", can(service.SystemModuleSettings, service.ActionDelete), adminH.DeleteRole)

		adm.GET("/modules", can(service.SystemModuleSettings, service.ActionView), adminH.ListModules)
		adm.POST("/modules", can(service.SystemModuleSettings, service.ActionCreate), adminH.CreateModule)
		adm.PUT("/modules/:id", can(service.SystemModuleSettings, service.ActionEdit), adminH.UpdateModule)
		adm.DELETE("/modules/:id", can(service.SystemModuleSettings, service.ActionDelete), adminH.DeleteModule)

		adm.GET("/audit-logs", can(service.SystemModuleSettings, service.ActionView), adminH.AuditLogs)
	}

	accessH := NewAccessHandler(d.RBAC)
	r.GET("/access-control/get-permissions", session, accessH.GetPermissions)

	return r
}
