package service

import (
	"context"
	"fmt"
	"time"

	"retryflow/internal/metrics"
	"retryflow/internal/model"
	"retryflow/internal/repository"
	"retryflow/pkg/constraints"
	"retryflow/pkg/logger"

	"go.uber.org/zap"
)

type SweepResult struct {
	Purged   int64 `json:"purged"`
	Migrated int   `json:"migrated"`
}

// DeadLetterService purges finished tasks and archives exhausted ones.
type DeadLetterService struct {
	store          repository.Store
	observer       metrics.RetryObserver
	totalPartition int
	now            func() time.Time
}

func NewDeadLetterService(store repository.Store, observer metrics.RetryObserver, totalPartition int) *DeadLetterService {
	return &DeadLetterService{store: store, observer: observer, totalPartition: totalPartition, now: time.Now}
}

// Sweep deletes the group's FINISH tasks, then moves its MAX_COUNT tasks to
// the dead letter table. The move is one transaction that locks the exhausted
// rows it reads; the dead letter insert ignores tasks already archived, so
// replaying a sweep cannot duplicate them.
func (s *DeadLetterService) Sweep(ctx context.Context, group string) (SweepResult, error) {
	var result SweepResult
	_, p, err := resolveGroup(ctx, s.store.Configs(), group, s.totalPartition)
	if err != nil {
		return result, err
	}

	purged, err := s.store.Tasks().DeleteByStatus(ctx, p, group, constraints.RetryFinish)
	if err != nil {
		return result, fmt.Errorf("purge finished tasks of %s: %w", group, err)
	}
	result.Purged = purged
	s.observer.AddPurged(int(purged))

	err = s.store.Transaction(ctx, func(tx repository.Store) error {
		exhausted, err := tx.Tasks().LockByStatus(ctx, p, group, constraints.RetryMaxCount)
		if err != nil {
			return err
		}
		if len(exhausted) == 0 {
			return nil
		}

		now := s.now()
		letters := make([]*model.RetryDeadLetter, 0, len(exhausted))
		ids := make([]int64, 0, len(exhausted))
		for i := range exhausted {
			letters = append(letters, model.NewDeadLetter(&exhausted[i], now))
			ids = append(ids, exhausted[i].ID)
		}

		inserted, err := tx.DeadLetters().InsertIgnore(ctx, p, letters)
		if err != nil {
			return err
		}
		if inserted < int64(len(letters)) {
			logger.Warn("dead letters already archived, skipping duplicates",
				zap.String("group", group),
				zap.Int64("inserted", inserted),
				zap.Int("expected", len(letters)))
		}

		archived, err := tx.DeadLetters().CountByTaskIDs(ctx, p, group, ids)
		if err != nil {
			return err
		}
		if archived != int64(len(ids)) {
			return fmt.Errorf("%w: %d of %d tasks archived", ErrPersistenceInconsistency, archived, len(ids))
		}

		deleted, err := tx.Tasks().DeleteByIDsInStatus(ctx, p, group, ids, constraints.RetryMaxCount)
		if err != nil {
			return err
		}
		if deleted != int64(len(ids)) {
			return fmt.Errorf("%w: deleted %d of %d exhausted tasks", ErrPersistenceInconsistency, deleted, len(ids))
		}
		result.Migrated = len(ids)
		return nil
	})
	if err != nil {
		result.Migrated = 0
		return result, fmt.Errorf("migrate dead letters of %s: %w", group, err)
	}
	if result.Migrated == 0 {
		return result, nil
	}

	s.observer.AddDeadLetters(result.Migrated)
	logger.Info("dead letters migrated",
		zap.String("group", group),
		zap.Int64("purged", result.Purged),
		zap.Int("migrated", result.Migrated))
	return result, nil
}
