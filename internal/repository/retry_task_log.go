package repository

import (
	"context"
	"time"

	"retryflow/internal/model"
	"retryflow/pkg/constraints"

	"gorm.io/gorm"
)

type RetryTaskLogInterface interface {
	Create(ctx context.Context, log *model.RetryTaskLog) (int64, error)
	MarkStatus(ctx context.Context, groupName, uniqueID string, status constraints.RetryStatus) (int64, error)
	AppendMessage(ctx context.Context, msg *model.RetryTaskLogMessage) error
	ListMessages(ctx context.Context, groupName, uniqueID string) ([]model.RetryTaskLogMessage, error)
	WithTx(tx *gorm.DB) RetryTaskLogInterface
}

type RetryTaskLogRepository struct {
	db *gorm.DB
}

func NewRetryTaskLogRepository(db *gorm.DB) *RetryTaskLogRepository {
	return &RetryTaskLogRepository{db: db}
}

func (r *RetryTaskLogRepository) Create(ctx context.Context, log *model.RetryTaskLog) (int64, error) {
	res := r.db.WithContext(ctx).Create(log)
	return res.RowsAffected, res.Error
}

// MarkStatus matches by (unique_id, group_name): the log is a separate trail
// and does not share primary keys with the task tables. updated_at always
// changes so MySQL reports matched rows even when the status was already set.
func (r *RetryTaskLogRepository) MarkStatus(ctx context.Context, groupName, uniqueID string, status constraints.RetryStatus) (int64, error) {
	res := r.db.WithContext(ctx).Model(&model.RetryTaskLog{}).
		Where("unique_id = ? AND group_name = ?", uniqueID, groupName).
		Updates(map[string]any{
			"retry_status": status,
			"updated_at":   time.Now(),
		})
	return res.RowsAffected, res.Error
}

func (r *RetryTaskLogRepository) AppendMessage(ctx context.Context, msg *model.RetryTaskLogMessage) error {
	return r.db.WithContext(ctx).Create(msg).Error
}

func (r *RetryTaskLogRepository) ListMessages(ctx context.Context, groupName, uniqueID string) ([]model.RetryTaskLogMessage, error) {
	var msgs []model.RetryTaskLogMessage
	err := r.db.WithContext(ctx).
		Where("group_name = ? AND unique_id = ?", groupName, uniqueID).
		Order("id ASC").
		Find(&msgs).Error
	return msgs, err
}

func (r *RetryTaskLogRepository) WithTx(tx *gorm.DB) RetryTaskLogInterface {
	return &RetryTaskLogRepository{db: tx}
}
