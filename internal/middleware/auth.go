package middleware

import (
	"net/http"

	"retryflow/internal/repository"
	"retryflow/pkg/constraints"
	"retryflow/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// GroupHeader names the group a client node acts for.
const (
	GroupHeader = "X-Retry-Group"
	groupKey    = "retry_group"
)

// GroupMiddleware admits client node calls only for configured, enabled
// groups.
func GroupMiddleware(configs repository.ConfigInterface) gin.HandlerFunc {
	return func(c *gin.Context) {
		group := c.GetHeader(GroupHeader)
		if group == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing " + GroupHeader})
			return
		}

		cfg, err := configs.GetGroup(c.Request.Context(), group)
		if err != nil {
			logger.Error("group lookup failed", zap.String("group", group), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "group lookup failed"})
			return
		}
		if cfg == nil || cfg.GroupStatus != constraints.StatusYes {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "group not enabled"})
			return
		}

		c.Set(groupKey, group)
		c.Next()
	}
}

// Group returns the group admitted by GroupMiddleware.
func Group(c *gin.Context) string {
	return c.GetString(groupKey)
}
