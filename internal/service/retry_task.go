package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"retryflow/internal/model"
	"retryflow/internal/repository"
	v1 "retryflow/pkg/api/v1"
	"retryflow/pkg/constraints"
	"retryflow/pkg/logger"

	"go.uber.org/zap"
)

func (s *RetryService) GetTask(ctx context.Context, group string, id int64) (*model.RetryTask, error) {
	_, p, err := resolveGroup(ctx, s.store.Configs(), group, s.cfg.TotalPartition)
	if err != nil {
		return nil, err
	}
	task, err := s.store.Tasks().FindByID(ctx, p, group, id)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, fmt.Errorf("%w: %s/%d", ErrTaskNotFound, group, id)
	}
	return task, nil
}

func (s *RetryService) ListTasks(ctx context.Context, q repository.TaskQuery) ([]model.RetryTask, int64, error) {
	_, p, err := resolveGroup(ctx, s.store.Configs(), q.GroupName, s.cfg.TotalPartition)
	if err != nil {
		return nil, 0, err
	}
	return s.store.Tasks().List(ctx, p, q)
}

// ListDueTasks returns RUNNING tasks whose next trigger is at or before now,
// earliest first.
func (s *RetryService) ListDueTasks(ctx context.Context, group string, now time.Time, limit int) ([]model.RetryTask, error) {
	_, p, err := resolveGroup(ctx, s.store.Configs(), group, s.cfg.TotalPartition)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	return s.store.Tasks().ListDue(ctx, p, group, now, limit)
}

// UpdateStatus moves one task to status. Moving back to RUNNING schedules a
// new random trigger; moving to FINISH closes the task's log trail.
func (s *RetryService) UpdateStatus(ctx context.Context, group string, id int64, status constraints.RetryStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidStatus, status)
	}
	_, p, err := resolveGroup(ctx, s.store.Configs(), group, s.cfg.TotalPartition)
	if err != nil {
		return err
	}

	return s.store.Transaction(ctx, func(tx repository.Store) error {
		task, err := tx.Tasks().FindByID(ctx, p, group, id)
		if err != nil {
			return err
		}
		if task == nil {
			return fmt.Errorf("%w: %s/%d", ErrTaskNotFound, group, id)
		}

		task.SetStatus(status)
		switch status {
		case constraints.RetryRunning:
			next, err := s.backoff.ComputeNextTrigger(constraints.BackOffRandom, nil)
			if err != nil {
				return err
			}
			task.NextTriggerAt = next
		case constraints.RetryFinish:
			if err := tx.TaskLogs().AppendMessage(ctx, &model.RetryTaskLogMessage{
				GroupName: task.GroupName,
				UniqueID:  task.UniqueID,
				Message:   fmt.Sprintf(operatorFinishMessage, GetOperator(ctx)),
				CreatedAt: s.now(),
			}); err != nil {
				return err
			}
			rows, err := tx.TaskLogs().MarkStatus(ctx, task.GroupName, task.UniqueID, constraints.RetryFinish)
			if err != nil {
				return err
			}
			if rows != 1 {
				return fmt.Errorf("%w: mark task log affected %d rows", ErrPersistenceInconsistency, rows)
			}
		}

		rows, err := tx.Tasks().Update(ctx, p, task)
		if errors.Is(err, repository.ErrDuplicateKey) {
			return fmt.Errorf("%w: %s", ErrRunningConflict, task.IdempotentID)
		}
		if err != nil {
			return err
		}
		if rows != 1 {
			return fmt.Errorf("%w: update task affected %d rows", ErrPersistenceInconsistency, rows)
		}
		logger.Info("retry task status updated",
			zap.String("operator", GetOperator(ctx)),
			zap.String("group", group),
			zap.Int64("id", id),
			zap.String("status", status.String()))
		return nil
	})
}

// UpdateExecutorName rewrites the executor and status of the given tasks.
func (s *RetryService) UpdateExecutorName(ctx context.Context, group string, ids []int64, executorName string, status constraints.RetryStatus) (int64, error) {
	if !status.Valid() {
		return 0, fmt.Errorf("%w: %d", ErrInvalidStatus, status)
	}
	_, p, err := resolveGroup(ctx, s.store.Configs(), group, s.cfg.TotalPartition)
	if err != nil {
		return 0, err
	}
	rows, err := s.store.Tasks().UpdateExecutorName(ctx, p, group, ids, executorName, status)
	if errors.Is(err, repository.ErrDuplicateKey) {
		return 0, ErrRunningConflict
	}
	return rows, err
}

func (s *RetryService) DeleteTasks(ctx context.Context, group string, ids []int64) (int64, error) {
	_, p, err := resolveGroup(ctx, s.store.Configs(), group, s.cfg.TotalPartition)
	if err != nil {
		return 0, err
	}
	rows, err := s.store.Tasks().DeleteByIDs(ctx, p, group, ids)
	if err != nil {
		return 0, err
	}
	logger.Info("retry tasks deleted",
		zap.String("operator", GetOperator(ctx)),
		zap.String("group", group),
		zap.Int64("rows", rows))
	return rows, nil
}

// GenerateIdempotentID asks a live client node of the group to derive the
// idempotent id for executorName and argsStr. Both must match what the node
// expects or the node answers with a failure status.
func (s *RetryService) GenerateIdempotentID(ctx context.Context, req v1.GenerateIdempotentIDRequest) (string, error) {
	s.groups.Add(req.Group)
	node, err := s.allocator.Allocate(ctx, req.Group)
	if err != nil {
		return "", err
	}
	if node == nil {
		return "", fmt.Errorf("%w: group %q", ErrAllocation, req.Group)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.RemoteTimeout)
	defer cancel()

	res, err := s.remote.GenerateIdempotentID(callCtx, node, req)
	if err != nil {
		return "", fmt.Errorf("%w: node %s: %v", ErrGeneration, node.HostID, err)
	}
	if !res.OK() {
		return "", fmt.Errorf("%w: node %s status %d: %s", ErrGeneration, node.HostID, res.Status, res.Message)
	}
	id, err := res.DataString()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGeneration, err)
	}
	if id == "" {
		return "", fmt.Errorf("%w: node %s returned an empty id", ErrGeneration, node.HostID)
	}
	return id, nil
}
