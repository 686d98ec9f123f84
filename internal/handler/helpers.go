package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/mdeck/internal/middleware"
	"github.com/xxxsen/mdeck/internal/pkg/errcode"
	appErr "github.com/xxxsen/mdeck/internal/pkg/errors"
	"github.com/xxxsen/mdeck/internal/pkg/response"
)

func getUserID(c *gin.Context) string {
	value, _ := c.Get(middleware.ContextUserIDKey)
	userID, _ := value.(string)
	return userID
}

func handleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	logutil.GetLogger(c.Request.Context()).Error("request failed",
		zap.String("request_id", c.GetString(middleware.ContextRequestIDKey)),
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.String("user_id", getUserID(c)),
		zap.Error(err),
	)
	switch {
	case errors.Is(err, appErr.ErrUnauthorized):
		response.Error(c, http.StatusUnauthorized, errcode.Unauthorized, "unauthorized")
	case errors.Is(err, appErr.ErrForbidden):
		response.Error(c, http.StatusForbidden, errcode.Forbidden, "forbidden")
	case errors.Is(err, appErr.ErrNotFound):
		response.Error(c, http.StatusNotFound, errcode.NotFound, "not found")
	case errors.Is(err, appErr.ErrInvalid):
		response.Error(c, http.StatusBadRequest, errcode.Invalid, "invalid request")
	case errors.Is(err, appErr.ErrConflict):
		response.Error(c, http.StatusConflict, errcode.Conflict, "conflict")
	case errors.Is(err, appErr.ErrTooMany):
		response.Error(c, http.StatusTooManyRequests, errcode.TooMany, "too many imports in progress, try again later")
	case errors.Is(err, appErr.ErrUnsupported):
		response.Error(c, http.StatusServiceUnavailable, errcode.Unknown, "service unavailable")
	default:
		response.Error(c, http.StatusInternalServerError, errcode.Internal, "internal error")
	}
}

// sameUser rejects requests for another user's resources.
func sameUser(c *gin.Context) bool {
	if c.Param("user_id") != getUserID(c) {
		response.Error(c, http.StatusForbidden, errcode.Forbidden, "forbidden")
		return false
	}
	return true
}
