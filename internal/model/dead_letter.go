package model

import (
	"time"

	"retryflow/pkg/constraints"
)

// RetryDeadLetter is the immutable archive of an exhausted task, stored in
// retry_dead_letter_{n}. (group_name, task_id) is unique so a replayed
// migration can never archive the same task twice.
type RetryDeadLetter struct {
	ID           int64                   `json:"id" gorm:"primaryKey"`
	GroupName    string                  `json:"group_name" gorm:"size:64;not null;uniqueIndex:uk_group_task"`
	TaskID       int64                   `json:"task_id" gorm:"not null;uniqueIndex:uk_group_task"`
	SceneName    string                  `json:"scene_name" gorm:"size:64;not null"`
	BizNo        string                  `json:"biz_no" gorm:"size:64"`
	IdempotentID string                  `json:"idempotent_id" gorm:"size:64"`
	UniqueID     string                  `json:"unique_id" gorm:"size:64;not null;index"`
	ExecutorName string                  `json:"executor_name" gorm:"size:512"`
	ArgsStr      string                  `json:"args_str" gorm:"type:text"`
	ExtAttrs     string                  `json:"ext_attrs" gorm:"type:text"`
	RetryStatus  constraints.RetryStatus `json:"retry_status"`
	RetryCount   int                     `json:"retry_count"`
	TaskType     int                     `json:"task_type"`
	CreatedAt    time.Time               `json:"created_at"`
}

func NewDeadLetter(t *RetryTask, now time.Time) *RetryDeadLetter {
	return &RetryDeadLetter{
		GroupName:    t.GroupName,
		TaskID:       t.ID,
		SceneName:    t.SceneName,
		BizNo:        t.BizNo,
		IdempotentID: t.IdempotentID,
		UniqueID:     t.UniqueID,
		ExecutorName: t.ExecutorName,
		ArgsStr:      t.ArgsStr,
		ExtAttrs:     t.ExtAttrs,
		RetryStatus:  t.RetryStatus,
		RetryCount:   t.RetryCount,
		TaskType:     t.TaskType,
		CreatedAt:    now,
	}
}
