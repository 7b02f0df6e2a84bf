package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	apperrors "github.com/pesio-ai/be-plt-access/pkg/errors"
	"github.com/pesio-ai/be-plt-access/pkg/logger"
)

// fail writes err as {"error", "code"} and aborts the chain. Internal errors
// are logged and reported with a generic message.
func fail(c *gin.Context, err error) {
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) {
		appErr = apperrors.Internal(err)
	}

	status := apperrors.HTTPStatus(appErr.Code)
	msg := appErr.Message
	if appErr.Code == apperrors.ErrCodeInternal {
		logger.FromContext(c.Request.Context(), nil).Error().
			Err(err).
			Str("path", c.FullPath()).
			Msg("Request failed")
		msg = "Internal server error"
	}

	c.AbortWithStatusJSON(status, gin.H{"error": msg, "code": appErr.ClientCode()})
}

func message(c *gin.Context, msg string) {
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

// bindJSON decodes the request body into dst. A malformed body is a
// validation error.
func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		fail(c, apperrors.Validation("Invalid request body"))
		return false
	}
	return true
}

// pathID parses the :id route parameter
func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		fail(c, apperrors.Validation("Invalid id"))
		return 0, false
	}
	return id, true
}
