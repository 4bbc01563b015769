package model

import "time"

// GroupConfig is operator-owned; the coordinator only reads it.
// TotalPartition records the partition count the group was created under;
// routing always uses retry.total_partition.
type GroupConfig struct {
	ID              int64     `json:"id" gorm:"primaryKey"`
	GroupName       string    `json:"group_name" gorm:"size:64;not null;uniqueIndex"`
	GroupStatus     int       `json:"group_status" gorm:"default:1"`
	TotalPartition  int       `json:"total_partition" gorm:"default:32"`
	IDGeneratorMode string    `json:"id_generator_mode" gorm:"size:32;default:snowflake"`
	RouteKey        string    `json:"route_key" gorm:"size:32;default:consistent_hash"`
	InitScene       int       `json:"init_scene" gorm:"default:0"`
	Description     string    `json:"description" gorm:"size:256"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (GroupConfig) TableName() string { return "group_config" }

type SceneConfig struct {
	ID              int64     `json:"id" gorm:"primaryKey"`
	GroupName       string    `json:"group_name" gorm:"size:64;not null;uniqueIndex:uk_group_scene"`
	SceneName       string    `json:"scene_name" gorm:"size:64;not null;uniqueIndex:uk_group_scene"`
	SceneStatus     int       `json:"scene_status" gorm:"default:1"`
	BackOff         int       `json:"back_off" gorm:"default:1"`
	MaxRetryCount   int       `json:"max_retry_count" gorm:"default:21"`
	TriggerInterval int       `json:"trigger_interval"` // seconds, FIXED only
	Description     string    `json:"description" gorm:"size:256"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (SceneConfig) TableName() string { return "scene_config" }
