package repository

import (
	"context"

	"retryflow/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type DeadLetterInterface interface {
	// InsertIgnore archives letters, skipping any (group, task_id) already
	// archived. It returns the number of rows actually inserted.
	InsertIgnore(ctx context.Context, p Partition, letters []*model.RetryDeadLetter) (int64, error)
	CountByTaskIDs(ctx context.Context, p Partition, groupName string, taskIDs []int64) (int64, error)
	List(ctx context.Context, p Partition, groupName string, offset, limit int) ([]model.RetryDeadLetter, int64, error)
	WithTx(tx *gorm.DB) DeadLetterInterface
}

type DeadLetterRepository struct {
	db *gorm.DB
}

func NewDeadLetterRepository(db *gorm.DB) *DeadLetterRepository {
	return &DeadLetterRepository{db: db}
}

func (r *DeadLetterRepository) InsertIgnore(ctx context.Context, p Partition, letters []*model.RetryDeadLetter) (int64, error) {
	if len(letters) == 0 {
		return 0, nil
	}
	res := p.deadLetters(r.db.WithContext(ctx)).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(letters, 200)
	return res.RowsAffected, res.Error
}

func (r *DeadLetterRepository) CountByTaskIDs(ctx context.Context, p Partition, groupName string, taskIDs []int64) (int64, error) {
	if len(taskIDs) == 0 {
		return 0, nil
	}
	var count int64
	err := p.deadLetters(r.db.WithContext(ctx)).
		Where("group_name = ? AND task_id IN ?", groupName, taskIDs).
		Count(&count).Error
	return count, err
}

func (r *DeadLetterRepository) List(ctx context.Context, p Partition, groupName string, offset, limit int) ([]model.RetryDeadLetter, int64, error) {
	var letters []model.RetryDeadLetter
	var total int64

	query := p.deadLetters(r.db.WithContext(ctx)).Where("group_name = ?", groupName)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := query.Order("id DESC").Offset(offset).Limit(limit).Find(&letters).Error
	return letters, total, err
}

func (r *DeadLetterRepository) WithTx(tx *gorm.DB) DeadLetterInterface {
	return &DeadLetterRepository{db: tx}
}
