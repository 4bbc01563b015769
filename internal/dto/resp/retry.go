package resp

import (
	"time"

	"retryflow/internal/model"
	"retryflow/internal/registry"
)

type ReportResp struct {
	Created bool `json:"created"`
}

type BatchReportResp struct {
	Created int `json:"created"`
}

type TaskItem struct {
	ID            int64     `json:"id"`
	GroupName     string    `json:"group_name"`
	SceneName     string    `json:"scene_name"`
	BizNo         string    `json:"biz_no"`
	IdempotentID  string    `json:"idempotent_id"`
	UniqueID      string    `json:"unique_id"`
	ExecutorName  string    `json:"executor_name"`
	ArgsStr       string    `json:"args_str"`
	ExtAttrs      string    `json:"ext_attrs"`
	RetryStatus   string    `json:"retry_status"`
	RetryCount    int       `json:"retry_count"`
	NextTriggerAt time.Time `json:"next_trigger_at"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func NewTaskItem(t *model.RetryTask) TaskItem {
	return TaskItem{
		ID:            t.ID,
		GroupName:     t.GroupName,
		SceneName:     t.SceneName,
		BizNo:         t.BizNo,
		IdempotentID:  t.IdempotentID,
		UniqueID:      t.UniqueID,
		ExecutorName:  t.ExecutorName,
		ArgsStr:       t.ArgsStr,
		ExtAttrs:      t.ExtAttrs,
		RetryStatus:   t.RetryStatus.String(),
		RetryCount:    t.RetryCount,
		NextTriggerAt: t.NextTriggerAt,
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
	}
}

type TaskPage struct {
	Items []TaskItem `json:"items"`
	Total int64      `json:"total"`
	Page  int        `json:"page"`
	Size  int        `json:"size"`
}

type AffectedResp struct {
	Rows int64 `json:"rows"`
}

type IdempotentIDResp struct {
	IdempotentID string `json:"idempotent_id"`
}

type NodeItem struct {
	GroupName   string    `json:"group_name"`
	HostID      string    `json:"host_id"`
	HostIP      string    `json:"host_ip"`
	HostPort    int       `json:"host_port"`
	ContextPath string    `json:"context_path"`
	NodeType    string    `json:"node_type"`
	ExpireAt    time.Time `json:"expire_at"`
	Alive       bool      `json:"alive"`
}

func NewNodeItem(n *registry.Node, now time.Time) NodeItem {
	return NodeItem{
		GroupName:   n.GroupName,
		HostID:      n.HostID,
		HostIP:      n.HostIP,
		HostPort:    n.HostPort,
		ContextPath: n.ContextPath,
		NodeType:    n.NodeType.String(),
		ExpireAt:    n.ExpireAt(),
		Alive:       n.Alive(now),
	}
}
