package v1

import (
	"encoding/json"

	"retryflow/pkg/constraints"
)

// RegisterRequest is the heartbeat body a client node posts every cycle.
type RegisterRequest struct {
	GroupName   string `json:"group_name" binding:"required"`
	HostID      string `json:"host_id" binding:"required"`
	HostIP      string `json:"host_ip" binding:"required"`
	HostPort    int    `json:"host_port" binding:"required"`
	ContextPath string `json:"context_path"`
}

// ReportRequest is a "retry me later" report for a failed business operation.
type ReportRequest struct {
	GroupName    string `json:"group_name" binding:"required"`
	SceneName    string `json:"scene_name" binding:"required"`
	BizNo        string `json:"biz_no"`
	IdempotentID string `json:"idempotent_id" binding:"required"`
	ExecutorName string `json:"executor_name"`
	ArgsStr      string `json:"args_str"`
	ExtAttrs     string `json:"ext_attrs"`
}

// IdempotentIDPath is served by every client node under its context path.
const IdempotentIDPath = "/retry/generate/idempotent-id/v1"

// GenerateIdempotentIDRequest is the payload delegated to a live client node.
type GenerateIdempotentIDRequest struct {
	Group        string `json:"group"`
	Scene        string `json:"scene"`
	ArgsStr      string `json:"argsStr"`
	ExecutorName string `json:"executorName"`
}

// Result is the envelope every client node answers with. Status must be
// checked explicitly: a transport-level 200 with Status != 1 is a failure.
type Result struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (r *Result) OK() bool {
	return r != nil && r.Status == constraints.ResultSuccess
}

// DataString decodes Data as a JSON string.
func (r *Result) DataString() (string, error) {
	var s string
	if len(r.Data) == 0 {
		return "", nil
	}
	if err := json.Unmarshal(r.Data, &s); err != nil {
		return "", err
	}
	return s, nil
}

func Success(data any) Result {
	b, err := json.Marshal(data)
	if err != nil {
		return Failure(err.Error())
	}
	return Result{Status: constraints.ResultSuccess, Data: b}
}

func Failure(msg string) Result {
	return Result{Status: constraints.ResultFailure, Message: msg}
}
