package model

import (
	"time"

	"retryflow/pkg/constraints"
)

// ServerNode is the persisted registration row of a client or server node.
type ServerNode struct {
	ID          int64                `json:"id" gorm:"primaryKey"`
	GroupName   string               `json:"group_name" gorm:"size:64;not null;index"`
	HostID      string               `json:"host_id" gorm:"size:64;not null;uniqueIndex:uk_host_id_ip"`
	HostIP      string               `json:"host_ip" gorm:"size:64;not null;uniqueIndex:uk_host_id_ip"`
	HostPort    int                  `json:"host_port"`
	ContextPath string               `json:"context_path" gorm:"size:256"`
	NodeType    constraints.NodeType `json:"node_type"`
	ExpireAt    time.Time            `json:"expire_at" gorm:"index"`
	ExtAttrs    string               `json:"ext_attrs" gorm:"size:256"`
	CreatedAt   time.Time            `json:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at"`
}

func (ServerNode) TableName() string { return "server_node" }
