package model

import (
	"time"

	"retryflow/pkg/constraints"
)

// RetryTask lives in one of the partition tables retry_task_{n}.
//
// RunningKey carries the idempotent id while the task is RUNNING and is NULL
// otherwise, so the unique index on (group, scene, running_key) admits at most
// one RUNNING task per idempotent id while keeping finished history.
type RetryTask struct {
	ID            int64                   `json:"id" gorm:"primaryKey"`
	GroupName     string                  `json:"group_name" gorm:"size:64;not null;uniqueIndex:uk_running;index:idx_group_status"`
	SceneName     string                  `json:"scene_name" gorm:"size:64;not null;uniqueIndex:uk_running"`
	BizNo         string                  `json:"biz_no" gorm:"size:64;index"`
	IdempotentID  string                  `json:"idempotent_id" gorm:"size:64;not null;index"`
	UniqueID      string                  `json:"unique_id" gorm:"size:64;not null;index"`
	ExecutorName  string                  `json:"executor_name" gorm:"size:512"`
	ArgsStr       string                  `json:"args_str" gorm:"type:text"`
	ExtAttrs      string                  `json:"ext_attrs" gorm:"type:text"`
	RetryStatus   constraints.RetryStatus `json:"retry_status" gorm:"index:idx_group_status"`
	RetryCount    int                     `json:"retry_count"`
	NextTriggerAt time.Time               `json:"next_trigger_at" gorm:"index"`
	TaskType      int                     `json:"task_type" gorm:"default:1"`
	RunningKey    *string                 `json:"-" gorm:"size:64;uniqueIndex:uk_running"`
	CreatedAt     time.Time               `json:"created_at"`
	UpdatedAt     time.Time               `json:"updated_at"`
}

// SetStatus moves the task to s and keeps RunningKey consistent with it.
func (t *RetryTask) SetStatus(s constraints.RetryStatus) {
	t.RetryStatus = s
	if s == constraints.RetryRunning {
		key := t.IdempotentID
		t.RunningKey = &key
		return
	}
	t.RunningKey = nil
}

// RetryTaskLog mirrors task creation for audit and is only ever updated to
// its terminal status.
type RetryTaskLog struct {
	ID           int64                   `json:"id" gorm:"primaryKey"`
	GroupName    string                  `json:"group_name" gorm:"size:64;not null;index:idx_unique_group"`
	SceneName    string                  `json:"scene_name" gorm:"size:64;not null"`
	BizNo        string                  `json:"biz_no" gorm:"size:64"`
	IdempotentID string                  `json:"idempotent_id" gorm:"size:64"`
	UniqueID     string                  `json:"unique_id" gorm:"size:64;not null;index:idx_unique_group"`
	ExecutorName string                  `json:"executor_name" gorm:"size:512"`
	ArgsStr      string                  `json:"args_str" gorm:"type:text"`
	ExtAttrs     string                  `json:"ext_attrs" gorm:"type:text"`
	RetryStatus  constraints.RetryStatus `json:"retry_status"`
	TaskType     int                     `json:"task_type"`
	CreatedAt    time.Time               `json:"created_at" gorm:"index"`
	UpdatedAt    time.Time               `json:"updated_at"`
}

func (RetryTaskLog) TableName() string { return "retry_task_log" }

type RetryTaskLogMessage struct {
	ID        int64     `json:"id" gorm:"primaryKey"`
	GroupName string    `json:"group_name" gorm:"size:64;not null;index:idx_msg_unique_group"`
	UniqueID  string    `json:"unique_id" gorm:"size:64;not null;index:idx_msg_unique_group"`
	Message   string    `json:"message" gorm:"type:text"`
	CreatedAt time.Time `json:"created_at"`
}

func (RetryTaskLogMessage) TableName() string { return "retry_task_log_message" }

// NewRetryTaskLog copies the audit-relevant fields of a freshly created task.
func NewRetryTaskLog(t *RetryTask) *RetryTaskLog {
	return &RetryTaskLog{
		GroupName:    t.GroupName,
		SceneName:    t.SceneName,
		BizNo:        t.BizNo,
		IdempotentID: t.IdempotentID,
		UniqueID:     t.UniqueID,
		ExecutorName: t.ExecutorName,
		ArgsStr:      t.ArgsStr,
		ExtAttrs:     t.ExtAttrs,
		RetryStatus:  t.RetryStatus,
		TaskType:     t.TaskType,
		CreatedAt:    t.CreatedAt,
	}
}
