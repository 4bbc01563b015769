package api

import (
	"errors"
	"net/http"

	"retryflow/internal/service"
	"retryflow/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// statusOf maps service errors to HTTP codes. Anything unrecognised is a 500.
func statusOf(err error) int {
	switch {
	case errors.Is(err, service.ErrConfiguration), errors.Is(err, service.ErrInvalidStatus):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrTaskNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrRunningConflict), errors.Is(err, service.ErrSweepBusy):
		return http.StatusConflict
	case errors.Is(err, service.ErrAllocation), errors.Is(err, service.ErrGeneration):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	code := statusOf(err)
	if code >= http.StatusInternalServerError {
		logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	_ = c.Error(err)
	c.JSON(code, gin.H{"error": err.Error()})
}
