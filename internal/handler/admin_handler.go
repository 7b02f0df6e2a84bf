package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/pesio-ai/be-plt-access/internal/service"
	apperrors "github.com/pesio-ai/be-plt-access/pkg/errors"
)

// AdminHandler serves the /admin endpoints
type AdminHandler struct {
	users *service.UserService
	rbac  *service.RBACService
	audit *service.AuditService
}

func NewAdminHandler(users *service.UserService, rbac *service.RBACService, audit *service.AuditService) *AdminHandler {
	return &AdminHandler{users: users, rbac: rbac, audit: audit}
}

func (h *AdminHandler) ListUsers(c *gin.Context) {
	users, err := h.users.ListUsers(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, users)
}

func (h *AdminHandler) CreateUser(c *gin.Context) {
	var req service.CreateUserRequest
	if !bindJSON(c, &req) {
		return
	}
	user, err := h.users.CreateUser(c.Request.Context(), actor(c), &req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "User created successfully", "user_id": user.ID})
}

func (h *AdminHandler) PendingApprovals(c *gin.Context) {
	pending, err := h.users.PendingApprovals(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, pending)
}

// ApproveUser decides a pending user. The body action defaults to approve.
func (h *AdminHandler) ApproveUser(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var body struct {
		Action string `json:"action"`
	}
	if c.Request.ContentLength != 0 && !bindJSON(c, &body) {
		return
	}
	if body.Action == "" {
		body.Action = service.ActionApprove
	}
	h.decide(c, id, body.Action)
}

// ApproveUserLegacy always approves
func (h *AdminHandler) ApproveUserLegacy(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	h.decide(c, id, service.ActionApprove)
}

func (h *AdminHandler) decide(c *gin.Context, id int64, action string) {
	if _, err := h.users.ApproveOrReject(c.Request.Context(), actor(c), id, action); err != nil {
		fail(c, err)
		return
	}
	if action == service.ActionReject {
		message(c, "User rejected successfully")
		return
	}
	message(c, "User approved successfully")
}

func (h *AdminHandler) UpdateUser(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req service.UpdateUserRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.users.UpdateUser(c.Request.Context(), actor(c), id, &req); err != nil {
		fail(c, err)
		return
	}
	message(c, "User updated successfully")
}

func (h *AdminHandler) UpdateUserDetails(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var fields map[string]any
	if !bindJSON(c, &fields) {
		return
	}
	if err := h.users.UpdateUserDetails(c.Request.Context(), actor(c), id, fields); err != nil {
		fail(c, err)
		return
	}
	message(c, "User details updated successfully")
}

func (h *AdminHandler) ChangeStatus(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var body struct {
		IsActive *bool `json:"is_active"`
	}
	if !bindJSON(c, &body) {
		return
	}
	if body.IsActive == nil {
		fail(c, apperrors.Validation("is_active status is required"))
		return
	}
	if err := h.users.ChangeStatus(c.Request.Context(), actor(c), id, *body.IsActive); err != nil {
		fail(c, err)
		return
	}
	if *body.IsActive {
		message(c, "User activated successfully")
		return
	}
	message(c, "User deactivated successfully")
}

func (h *AdminHandler) DeleteUser(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.users.SoftDelete(c.Request.Context(), actor(c), id); err != nil {
		fail(c, err)
		return
	}
	message(c, "User soft deleted successfully")
}

// ResetPassword sets a user's password. Anyone may reset their own; resetting
// another user's password also needs edit rights on the users module.
func (h *AdminHandler) ResetPassword(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var body struct {
		NewPassword string `json:"new_password"`
	}
	if !bindJSON(c, &body) {
		return
	}

	a := actor(c)
	if id != a.UserID {
		allowed, err := h.rbac.AuthorizeSystemModule(c.Request.Context(), a.UserID, service.SystemModuleUsers, service.ActionEdit)
		if err != nil {
			fail(c, err)
			return
		}
		if !allowed {
			fail(c, apperrors.Forbidden("Only administrators can reset other users' passwords"))
			return
		}
	}

	if err := h.users.AdminResetPassword(c.Request.Context(), a, id, body.NewPassword); err != nil {
		fail(c, err)
		return
	}
	message(c, "Password reset successfully")
}

func (h *AdminHandler) ListRoles(c *gin.Context) {
	roles, err := h.rbac.ListRoles(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, roles)
}

func (h *AdminHandler) CreateRole(c *gin.Context) {
	var req service.CreateRoleRequest
	if !bindJSON(c, &req) {
		return
	}
	role, err := h.rbac.CreateRole(c.Request.Context(), &req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Role created successfully", "role_id": role.ID})
}

func (h *AdminHandler) UpdateRole(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req service.UpdateRoleRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.rbac.UpdateRole(c.Request.Context(), id, &req); err != nil {
		fail(c, err)
		return
	}
	message(c, "Role updated successfully")
}

func (h *AdminHandler) DeleteRole(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.rbac.DeleteRole(c.Request.Context(), id); err != nil {
		fail(c, err)
		return
	}
	message(c, "Role deleted successfully")
}

func (h *AdminHandler) ListModules(c *gin.Context) {
	modules, err := h.rbac.ListModules(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, modules)
}

func (h *AdminHandler) CreateModule(c *gin.Context) {
	var req service.CreateModuleRequest
	if !bindJSON(c, &req) {
		return
	}
	m, err := h.rbac.CreateModule(c.Request.Context(), &req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Module created successfully", "module_id": m.ID})
}

func (h *AdminHandler) UpdateModule(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req service.UpdateModuleRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.rbac.UpdateModule(c.Request.Context(), id, &req); err != nil {
		fail(c, err)
		return
	}
	message(c, "Module updated successfully")
}

func (h *AdminHandler) DeleteModule(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.rbac.DeleteModule(c.Request.Context(), id); err != nil {
		fail(c, err)
		return
	}
	message(c, "Module deleted successfully")
}

func (h *AdminHandler) AuditLogs(c *gin.Context) {
	limit := service.MaxAuditLogs
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			fail(c, apperrors.Validation("Invalid limit"))
			return
		}
		limit = n
	}
	logs, err := h.audit.ListAuditLogs(c.Request.Context(), limit)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, logs)
}
