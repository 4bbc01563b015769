package repository

import (
	"context"
	"errors"
	"time"

	"retryflow/internal/model"
	"retryflow/pkg/constraints"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TaskQuery filters the paged task listing. GroupName is mandatory because it
// selects the partition.
type TaskQuery struct {
	GroupName    string
	SceneName    string
	BizNo        string
	IdempotentID string
	UniqueID     string
	RetryStatus  *constraints.RetryStatus
	Page         int
	Size         int
}

// RetryTaskInterface operates on one partition table per call.
type RetryTaskInterface interface {
	CountRunning(ctx context.Context, p Partition, groupName, sceneName, idempotentID string) (int64, error)
	Create(ctx context.Context, p Partition, task *model.RetryTask) (int64, error)
	FindByID(ctx context.Context, p Partition, groupName string, id int64) (*model.RetryTask, error)
	Update(ctx context.Context, p Partition, task *model.RetryTask) (int64, error)
	UpdateExecutorName(ctx context.Context, p Partition, groupName string, ids []int64, executorName string, status constraints.RetryStatus) (int64, error)
	DeleteByIDs(ctx context.Context, p Partition, groupName string, ids []int64) (int64, error)
	DeleteByStatus(ctx context.Context, p Partition, groupName string, status constraints.RetryStatus) (int64, error)
	// LockByStatus reads the group's tasks in status with FOR UPDATE, so
	// inside a transaction they cannot change until commit.
	LockByStatus(ctx context.Context, p Partition, groupName string, status constraints.RetryStatus) ([]model.RetryTask, error)
	// DeleteByIDsInStatus only removes rows still in status.
	DeleteByIDsInStatus(ctx context.Context, p Partition, groupName string, ids []int64, status constraints.RetryStatus) (int64, error)
	List(ctx context.Context, p Partition, q TaskQuery) ([]model.RetryTask, int64, error)
	ListDue(ctx context.Context, p Partition, groupName string, now time.Time, limit int) ([]model.RetryTask, error)
	WithTx(tx *gorm.DB) RetryTaskInterface
}

type RetryTaskRepository struct {
	db *gorm.DB
}

func NewRetryTaskRepository(db *gorm.DB) *RetryTaskRepository {
	return &RetryTaskRepository{db: db}
}

func (r *RetryTaskRepository) CountRunning(ctx context.Context, p Partition, groupName, sceneName, idempotentID string) (int64, error) {
	var count int64
	err := p.tasks(r.db.WithContext(ctx)).
		Where("group_name = ? AND scene_name = ? AND idempotent_id = ? AND retry_status = ?",
			groupName, sceneName, idempotentID, constraints.RetryRunning).
		Count(&count).Error
	return count, err
}

// Create returns ErrDuplicateKey when a RUNNING task with the same idempotent
// id already exists.
func (r *RetryTaskRepository) Create(ctx context.Context, p Partition, task *model.RetryTask) (int64, error) {
	res := p.tasks(r.db.WithContext(ctx)).Create(task)
	return res.RowsAffected, translate(res.Error)
}

// FindByID returns nil, nil when the task does not exist in the group.
func (r *RetryTaskRepository) FindByID(ctx context.Context, p Partition, groupName string, id int64) (*model.RetryTask, error) {
	var task model.RetryTask
	err := p.tasks(r.db.WithContext(ctx)).
		Where("id = ? AND group_name = ?", id, groupName).
		First(&task).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &task, nil
}

// Update writes the mutable scheduling columns of task.
func (r *RetryTaskRepository) Update(ctx context.Context, p Partition, task *model.RetryTask) (int64, error) {
	res := p.tasks(r.db.WithContext(ctx)).
		Where("id = ? AND group_name = ?", task.ID, task.GroupName).
		Updates(map[string]any{
			"retry_status":    task.RetryStatus,
			"retry_count":     task.RetryCount,
			"next_trigger_at": task.NextTriggerAt,
			"executor_name":   task.ExecutorName,
			"running_key":     task.RunningKey,
			"updated_at":      time.Now(),
		})
	return res.RowsAffected, translate(res.Error)
}

func (r *RetryTaskRepository) UpdateExecutorName(ctx context.Context, p Partition, groupName string, ids []int64, executorName string, status constraints.RetryStatus) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := p.tasks(r.db.WithContext(ctx)).
		Where("group_name = ? AND id IN ?", groupName, ids).
		Updates(map[string]any{
			"executor_name": executorName,
			"retry_status":  status,
			"running_key":   gorm.Expr("CASE WHEN ? = ? THEN idempotent_id ELSE NULL END", status, constraints.RetryRunning),
			"updated_at":    time.Now(),
		})
	return res.RowsAffected, translate(res.Error)
}

func (r *RetryTaskRepository) DeleteByIDs(ctx context.Context, p Partition, groupName string, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := p.tasks(r.db.WithContext(ctx)).
		Where("group_name = ? AND id IN ?", groupName, ids).
		Delete(&model.RetryTask{})
	return res.RowsAffected, res.Error
}

func (r *RetryTaskRepository) DeleteByIDsInStatus(ctx context.Context, p Partition, groupName string, ids []int64, status constraints.RetryStatus) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := p.tasks(r.db.WithContext(ctx)).
		Where("group_name = ? AND id IN ? AND retry_status = ?", groupName, ids, status).
		Delete(&model.RetryTask{})
	return res.RowsAffected, res.Error
}

func (r *RetryTaskRepository) DeleteByStatus(ctx context.Context, p Partition, groupName string, status constraints.RetryStatus) (int64, error) {
	res := p.tasks(r.db.WithContext(ctx)).
		Where("group_name = ? AND retry_status = ?", groupName, status).
		Delete(&model.RetryTask{})
	return res.RowsAffected, res.Error
}

func (r *RetryTaskRepository) LockByStatus(ctx context.Context, p Partition, groupName string, status constraints.RetryStatus) ([]model.RetryTask, error) {
	var tasks []model.RetryTask
	err := p.tasks(r.db.WithContext(ctx)).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("group_name = ? AND retry_status = ?", groupName, status).
		Order("id ASC").
		Find(&tasks).Error
	return tasks, err
}

func (r *RetryTaskRepository) List(ctx context.Context, p Partition, q TaskQuery) ([]model.RetryTask, int64, error) {
	var tasks []model.RetryTask
	var total int64

	query := p.tasks(r.db.WithContext(ctx)).Where("group_name = ?", q.GroupName)
	if q.SceneName != "" {
		query = query.Where("scene_name = ?", q.SceneName)
	}
	if q.BizNo != "" {
		query = query.Where("biz_no = ?", q.BizNo)
	}
	if q.IdempotentID != "" {
		query = query.Where("idempotent_id = ?", q.IdempotentID)
	}
	if q.UniqueID != "" {
		query = query.Where("unique_id = ?", q.UniqueID)
	}
	if q.RetryStatus != nil {
		query = query.Where("retry_status = ?", *q.RetryStatus)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page, size := q.Page, q.Size
	if page < 1 {
		page = 1
	}
	if size <= 0 || size > 500 {
		size = 20
	}
	err := query.Order("created_at DESC").Offset((page - 1) * size).Limit(size).Find(&tasks).Error
	return tasks, total, err
}

func (r *RetryTaskRepository) ListDue(ctx context.Context, p Partition, groupName string, now time.Time, limit int) ([]model.RetryTask, error) {
	var tasks []model.RetryTask
	err := p.tasks(r.db.WithContext(ctx)).
		Where("group_name = ? AND retry_status = ? AND next_trigger_at <= ?", groupName, constraints.RetryRunning, now).
		Order("next_trigger_at ASC").
		Limit(limit).
		Find(&tasks).Error
	return tasks, err
}

func (r *RetryTaskRepository) WithTx(tx *gorm.DB) RetryTaskInterface {
	return &RetryTaskRepository{db: tx}
}
