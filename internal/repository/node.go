package repository

import (
	"context"
	"time"

	"retryflow/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// NodeInterface persists node registrations.
type NodeInterface interface {
	Upsert(ctx context.Context, node *model.ServerNode) error
	ListByGroups(ctx context.Context, groups []string) ([]model.ServerNode, error)
	DeleteExpiredBefore(ctx context.Context, before time.Time) (int64, error)
	WithTx(tx *gorm.DB) NodeInterface
}

type NodeRepository struct {
	db *gorm.DB
}

func NewNodeRepository(db *gorm.DB) *NodeRepository {
	return &NodeRepository{db: db}
}

// Upsert inserts the node or, when (host_id, host_ip) is already known,
// refreshes its lease and address details.
func (r *NodeRepository) Upsert(ctx context.Context, node *model.ServerNode) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "host_id"}, {Name: "host_ip"}},
		DoUpdates: clause.AssignmentColumns([]string{"group_name", "host_port", "context_path", "expire_at", "ext_attrs", "updated_at"}),
	}).Create(node).Error
}

func (r *NodeRepository) ListByGroups(ctx context.Context, groups []string) ([]model.ServerNode, error) {
	if len(groups) == 0 {
		return nil, nil
	}
	var nodes []model.ServerNode
	err := r.db.WithContext(ctx).Where("group_name IN ?", groups).Find(&nodes).Error
	return nodes, err
}

func (r *NodeRepository) DeleteExpiredBefore(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("expire_at < ?", before).Delete(&model.ServerNode{})
	return res.RowsAffected, res.Error
}

func (r *NodeRepository) WithTx(tx *gorm.DB) NodeInterface {
	return &NodeRepository{db: tx}
}
