package api

import (
	"context"
	"net/http"
	"time"

	"retryflow/internal/dto/req"
	"retryflow/internal/dto/resp"
	"retryflow/internal/model"
	"retryflow/internal/registry"
	"retryflow/internal/repository"
	"retryflow/internal/service"
	v1 "retryflow/pkg/api/v1"
	"retryflow/pkg/constraints"

	"github.com/gin-gonic/gin"
)

type TaskProvider interface {
	GetTask(ctx context.Context, group string, id int64) (*model.RetryTask, error)
	ListTasks(ctx context.Context, q repository.TaskQuery) ([]model.RetryTask, int64, error)
	ListDueTasks(ctx context.Context, group string, now time.Time, limit int) ([]model.RetryTask, error)
	UpdateStatus(ctx context.Context, group string, id int64, status constraints.RetryStatus) error
	UpdateExecutorName(ctx context.Context, group string, ids []int64, executorName string, status constraints.RetryStatus) (int64, error)
	DeleteTasks(ctx context.Context, group string, ids []int64) (int64, error)
	SaveTask(ctx context.Context, req v1.ReportRequest, status constraints.RetryStatus) error
	GenerateIdempotentID(ctx context.Context, req v1.GenerateIdempotentIDRequest) (string, error)
}

type SweepProvider interface {
	Sweep(ctx context.Context, group string) (service.SweepResult, error)
}

// TaskHandler is the operator surface over tasks, dead letters and nodes.
type TaskHandler struct {
	tasks    TaskProvider
	sweeper  SweepProvider
	registry *registry.Registry
	dueLimit int
}

func NewTaskHandler(tasks TaskProvider, sweeper SweepProvider, reg *registry.Registry, dueLimit int) *TaskHandler {
	return &TaskHandler{tasks: tasks, sweeper: sweeper, registry: reg, dueLimit: dueLimit}
}

func (h *TaskHandler) ListTasks(c *gin.Context) {
	var q req.ListTasksQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	query := repository.TaskQuery{
		GroupName:    c.Param("group"),
		SceneName:    q.SceneName,
		BizNo:        q.BizNo,
		IdempotentID: q.IdempotentID,
		UniqueID:     q.UniqueID,
		Page:         q.Page,
		Size:         q.Size,
	}
	if q.RetryStatus != nil {
		s := constraints.RetryStatus(*q.RetryStatus)
		query.RetryStatus = &s
	}

	tasks, total, err := h.tasks.ListTasks(c.Request.Context(), query)
	if err != nil {
		writeError(c, err)
		return
	}
	items := make([]resp.TaskItem, 0, len(tasks))
	for i := range tasks {
		items = append(items, resp.NewTaskItem(&tasks[i]))
	}
	c.JSON(http.StatusOK, resp.TaskPage{Items: items, Total: total, Page: q.Page, Size: q.Size})
}

// ListDue shows the RUNNING tasks whose trigger time has passed.
func (h *TaskHandler) ListDue(c *gin.Context) {
	tasks, err := h.tasks.ListDueTasks(c.Request.Context(), c.Param("group"), time.Now(), h.dueLimit)
	if err != nil {
		writeError(c, err)
		return
	}
	items := make([]resp.TaskItem, 0, len(tasks))
	for i := range tasks {
		items = append(items, resp.NewTaskItem(&tasks[i]))
	}
	c.JSON(http.StatusOK, items)
}

func (h *TaskHandler) GetTask(c *gin.Context) {
	var uri req.TaskURI
	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task id"})
		return
	}
	task, err := h.tasks.GetTask(c.Request.Context(), uri.Group, uri.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp.NewTaskItem(task))
}

func (h *TaskHandler) UpdateStatus(c *gin.Context) {
	var uri req.TaskURI
	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task id"})
		return
	}
	var r req.UpdateStatusReq
	if err := c.ShouldBindJSON(&r); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.tasks.UpdateStatus(c.Request.Context(), uri.Group, uri.ID, constraints.RetryStatus(*r.RetryStatus)); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp.AffectedResp{Rows: 1})
}

func (h *TaskHandler) UpdateExecutorName(c *gin.Context) {
	var r req.UpdateExecutorNameReq
	if err := c.ShouldBindJSON(&r); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rows, err := h.tasks.UpdateExecutorName(c.Request.Context(), c.Param("group"), r.IDs, r.ExecutorName, constraints.RetryStatus(*r.RetryStatus))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp.AffectedResp{Rows: rows})
}

func (h *TaskHandler) DeleteTasks(c *gin.Context) {
	var r req.DeleteTasksReq
	if err := c.ShouldBindJSON(&r); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rows, err := h.tasks.DeleteTasks(c.Request.Context(), c.Param("group"), r.IDs)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp.AffectedResp{Rows: rows})
}

func (h *TaskHandler) SaveTask(c *gin.Context) {
	var r req.SaveTaskReq
	if err := c.ShouldBindJSON(&r); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.tasks.SaveTask(c.Request.Context(), r.ToReport(c.Param("group")), constraints.RetryStatus(*r.RetryStatus)); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"saved": true})
}

func (h *TaskHandler) GenerateIdempotentID(c *gin.Context) {
	var r v1.GenerateIdempotentIDRequest
	if err := c.ShouldBindJSON(&r); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	r.Group = c.Param("group")
	id, err := h.tasks.GenerateIdempotentID(c.Request.Context(), r)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp.IdempotentIDResp{IdempotentID: id})
}

func (h *TaskHandler) Sweep(c *gin.Context) {
	res, err := h.sweeper.Sweep(c.Request.Context(), c.Param("group"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// ListNodes shows the cached registrations of a group, stale ones included.
func (h *TaskHandler) ListNodes(c *gin.Context) {
	now := time.Now()
	nodes := h.registry.AllForGroup(c.Param("group"))
	items := make([]resp.NodeItem, 0, len(nodes))
	for _, n := range nodes {
		items = append(items, resp.NewNodeItem(n, now))
	}
	c.JSON(http.StatusOK, items)
}
