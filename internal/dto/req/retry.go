package req

import (
	v1 "retryflow/pkg/api/v1"
)

type BatchReportReq struct {
	Tasks []v1.ReportRequest `json:"tasks" binding:"required,min=1,max=500,dive"`
}

type TaskURI struct {
	Group string `uri:"group" binding:"required"`
	ID    int64  `uri:"id" binding:"required"`
}

type ListTasksQuery struct {
	SceneName    string `form:"scene_name"`
	BizNo        string `form:"biz_no"`
	IdempotentID string `form:"idempotent_id"`
	UniqueID     string `form:"unique_id"`
	RetryStatus  *int   `form:"retry_status"`
	Page         int    `form:"page"`
	Size         int    `form:"size"`
}

type UpdateStatusReq struct {
	RetryStatus *int `json:"retry_status" binding:"required"`
}

type UpdateExecutorNameReq struct {
	IDs          []int64 `json:"ids" binding:"required,min=1"`
	ExecutorName string  `json:"executor_name" binding:"required"`
	RetryStatus  *int    `json:"retry_status" binding:"required"`
}

type DeleteTasksReq struct {
	IDs []int64 `json:"ids" binding:"required,min=1"`
}

// SaveTaskReq carries no group; it is taken from the path.
type SaveTaskReq struct {
	SceneName    string `json:"scene_name" binding:"required"`
	BizNo        string `json:"biz_no"`
	IdempotentID string `json:"idempotent_id" binding:"required"`
	ExecutorName string `json:"executor_name"`
	ArgsStr      string `json:"args_str"`
	ExtAttrs     string `json:"ext_attrs"`
	RetryStatus  *int   `json:"retry_status" binding:"required"`
}

func (r SaveTaskReq) ToReport(group string) v1.ReportRequest {
	return v1.ReportRequest{
		GroupName:    group,
		SceneName:    r.SceneName,
		BizNo:        r.BizNo,
		IdempotentID: r.IdempotentID,
		ExecutorName: r.ExecutorName,
		ArgsStr:      r.ArgsStr,
		ExtAttrs:     r.ExtAttrs,
	}
}
