package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"retryflow/internal/repository"
	"retryflow/pkg/logger"

	"go.uber.org/zap"
)

// SweepLockKey guards the sweeper so one server sweeps at a time.
const SweepLockKey = "/locks/retryflow/sweeper"

// ErrSweepBusy means another sweep, local or on another server, holds the
// sweep lock.
var ErrSweepBusy = errors.New("sweep already in progress")

type Locker interface {
	Lock(ctx context.Context) error
	Unlock(ctx context.Context) error
}

type SweeperConfig struct {
	Interval      time.Duration
	LockWait      time.Duration
	GroupWait     time.Duration
	NodeRetention time.Duration
}

// Sweeper periodically runs the dead letter sweep for every configured group
// and drops node rows whose lease ran out long ago.
type Sweeper struct {
	store      repository.Store
	deadLetter *DeadLetterService
	groups     *ConsumerGroups
	lock       Locker
	cfg        SweeperConfig
	now        func() time.Time

	// mu serializes sweeps of this process. The etcd mutex is keyed by the
	// session, so a second Lock from the same process would not block.
	mu sync.Mutex
}

func NewSweeper(store repository.Store, deadLetter *DeadLetterService, groups *ConsumerGroups, lock Locker, cfg SweeperConfig) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = 5 * time.Second
	}
	if cfg.GroupWait <= 0 {
		cfg.GroupWait = 30 * time.Second
	}
	return &Sweeper{
		store:      store,
		deadLetter: deadLetter,
		groups:     groups,
		lock:       lock,
		cfg:        cfg,
		now:        time.Now,
	}
}

func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	logger.Info("sweeper started", zap.Duration("interval", s.cfg.Interval))

	for {
		select {
		case <-ctx.Done():
			logger.Info("sweeper stopped")
			return
		case <-ticker.C:
			err := s.locked(ctx, func() { s.RunOnce(ctx) })
			if errors.Is(err, ErrSweepBusy) {
				logger.Debug("sweep skipped, another sweep holds the lock")
			} else if err != nil {
				logger.Error("failed to acquire sweep lock", zap.Error(err))
			}
		}
	}
}

// Sweep runs the dead letter sweep for one group under the same locks as the
// periodic loop. It returns ErrSweepBusy when a sweep is already running.
func (s *Sweeper) Sweep(ctx context.Context, group string) (SweepResult, error) {
	var (
		res      SweepResult
		sweepErr error
	)
	if err := s.locked(ctx, func() {
		res, sweepErr = s.deadLetter.Sweep(ctx, group)
	}); err != nil {
		return res, err
	}
	return res, sweepErr
}

// locked runs fn holding the process mutex and the distributed lock.
func (s *Sweeper) locked(ctx context.Context, fn func()) error {
	if !s.mu.TryLock() {
		return ErrSweepBusy
	}
	defer s.mu.Unlock()

	lockCtx, cancel := context.WithTimeout(ctx, s.cfg.LockWait)
	err := s.lock.Lock(lockCtx)
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrSweepBusy
		}
		return fmt.Errorf("acquire sweep lock: %w", err)
	}

	fn()

	if err := s.lock.Unlock(context.WithoutCancel(ctx)); err != nil {
		logger.Warn("failed to release sweep lock", zap.Error(err))
	}
	return nil
}

// RunOnce sweeps every enabled group. A failing group is logged and does not
// stop the others.
func (s *Sweeper) RunOnce(ctx context.Context) {
	names, err := s.store.Configs().ListGroupNames(ctx)
	if err != nil {
		logger.Error("sweep: failed to list groups", zap.Error(err))
		return
	}
	s.groups.Add(names...)

	failed := 0
	for _, group := range names {
		groupCtx, cancel := context.WithTimeout(ctx, s.cfg.GroupWait)
		_, err := s.deadLetter.Sweep(groupCtx, group)
		cancel()
		if err != nil {
			failed++
			logger.Error("sweep: group failed", zap.String("group", group), zap.Error(err))
		}
	}

	if s.cfg.NodeRetention > 0 {
		removed, err := s.store.Nodes().DeleteExpiredBefore(ctx, s.now().Add(-s.cfg.NodeRetention))
		if err != nil {
			logger.Error("sweep: failed to purge expired nodes", zap.Error(err))
		} else if removed > 0 {
			logger.Info("sweep: expired nodes purged", zap.Int64("rows", removed))
		}
	}

	logger.Info("sweep finished", zap.Int("groups", len(names)), zap.Int("failed", failed))
}
