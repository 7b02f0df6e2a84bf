package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/pesio-ai/be-plt-access/internal/service"
	apperrors "github.com/pesio-ai/be-plt-access/pkg/errors"
)

// AccessHandler answers permission queries
type AccessHandler struct {
	rbac *service.RBACService
}

func NewAccessHandler(rbac *service.RBACService) *AccessHandler {
	return &AccessHandler{rbac: rbac}
}

// GetPermissions returns the effective grants of user_id on module_name.
// Admins may query any user; everyone else only themselves.
func (h *AccessHandler) GetPermissions(c *gin.Context) {
	raw := c.Query("user_id")
	if raw == "" {
		fail(c, apperrors.Validation("User ID is required"))
		return
	}
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		fail(c, apperrors.Validation("Invalid user ID"))
		return
	}
	module := c.Query("module_name")

	ctx := c.Request.Context()
	caller := currentUser(c)
	if caller.ID != userID {
		admin, err := h.rbac.HasAdminRole(ctx, caller.ID)
		if err != nil {
			fail(c, err)
			return
		}
		if !admin {
			fail(c, apperrors.Forbidden("Cannot view other users' permissions"))
			return
		}
	}

	perms, err := h.rbac.UserPermissions(ctx, userID, module)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user_id":     userID,
		"module_name": module,
		"permissions": perms,
	})
}
