package api

import (
	"context"
	"net/http"

	"retryflow/internal/dto/req"
	"retryflow/internal/dto/resp"
	"retryflow/internal/middleware"
	"retryflow/internal/service"
	v1 "retryflow/pkg/api/v1"

	"github.com/gin-gonic/gin"
)

type ReportProvider interface {
	ReportRetry(ctx context.Context, req v1.ReportRequest) (bool, error)
	BatchReportRetry(ctx context.Context, reqs []v1.ReportRequest) (int, error)
}

type HeartbeatProvider interface {
	Register(ctx context.Context, rc service.RegisterContext) error
}

// RetryHandler serves client nodes: heartbeats and retry reports.
type RetryHandler struct {
	reports    ReportProvider
	heartbeats HeartbeatProvider
}

func NewRetryHandler(reports ReportProvider, heartbeats HeartbeatProvider) *RetryHandler {
	return &RetryHandler{reports: reports, heartbeats: heartbeats}
}

func sameGroup(c *gin.Context, group string) bool {
	if group != middleware.Group(c) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "group does not match " + middleware.GroupHeader})
		return false
	}
	return true
}

func (h *RetryHandler) Register(c *gin.Context) {
	var r v1.RegisterRequest
	if err := c.ShouldBindJSON(&r); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !sameGroup(c, r.GroupName) {
		return
	}
	err := h.heartbeats.Register(c.Request.Context(), service.RegisterContext{
		GroupName:   r.GroupName,
		HostID:      r.HostID,
		HostIP:      r.HostIP,
		HostPort:    r.HostPort,
		ContextPath: r.ContextPath,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, v1.Success(true))
}

func (h *RetryHandler) Report(c *gin.Context) {
	var r v1.ReportRequest
	if err := c.ShouldBindJSON(&r); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !sameGroup(c, r.GroupName) {
		return
	}
	created, err := h.reports.ReportRetry(c.Request.Context(), r)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp.ReportResp{Created: created})
}

// BatchReport answers 207 when some reports failed; the ones that succeeded
// stay stored.
func (h *RetryHandler) BatchReport(c *gin.Context) {
	var r req.BatchReportReq
	if err := c.ShouldBindJSON(&r); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	for _, t := range r.Tasks {
		if !sameGroup(c, t.GroupName) {
			return
		}
	}
	created, err := h.reports.BatchReportRetry(c.Request.Context(), r.Tasks)
	if err != nil {
		c.JSON(http.StatusMultiStatus, gin.H{"created": created, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp.BatchReportResp{Created: created})
}
