package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"retryflow/internal/backoff"
	"retryflow/internal/idgen"
	"retryflow/internal/metrics"
	"retryflow/internal/model"
	"retryflow/internal/registry"
	"retryflow/internal/repository"
	v1 "retryflow/pkg/api/v1"
	"retryflow/pkg/constraints"
	"retryflow/pkg/logger"

	"go.uber.org/zap"
)

// Defaults for scenes created on first report.
const (
	DefaultSceneBackOff       = constraints.BackOffDelayLevel
	DefaultSceneMaxRetryCount = 21
	defaultSceneDescription   = "auto initialised on first report"
	operatorFinishMessage     = "completed by operator %s"
)

// RemoteCaller delegates idempotent id generation to a client node.
type RemoteCaller interface {
	GenerateIdempotentID(ctx context.Context, node *registry.Node, req v1.GenerateIdempotentIDRequest) (*v1.Result, error)
}

type RetryServiceConfig struct {
	RemoteTimeout  time.Duration
	TotalPartition int
}

// RetryService owns the retry task lifecycle.
type RetryService struct {
	store     repository.Store
	backoff   *backoff.Engine
	ids       *idgen.Manager
	allocator *Allocator
	remote    RemoteCaller
	groups    *ConsumerGroups
	observer  metrics.RetryObserver
	cfg       RetryServiceConfig
	now       func() time.Time
}

func NewRetryService(store repository.Store, engine *backoff.Engine, ids *idgen.Manager, allocator *Allocator, remote RemoteCaller, groups *ConsumerGroups, observer metrics.RetryObserver, cfg RetryServiceConfig) *RetryService {
	if cfg.RemoteTimeout <= 0 {
		cfg.RemoteTimeout = 3 * time.Second
	}
	return &RetryService{
		store:     store,
		backoff:   engine,
		ids:       ids,
		allocator: allocator,
		remote:    remote,
		groups:    groups,
		observer:  observer,
		cfg:       cfg,
		now:       time.Now,
	}
}

// errRunningExists aborts a report transaction that lost the race for the
// running slot.
var errRunningExists = errors.New("running task exists")

// resolveGroup loads the group config and its partition. The partition is
// taken from totalPartition, the number of migrated tables, not from the
// group row.
func resolveGroup(ctx context.Context, configs repository.ConfigInterface, group string, totalPartition int) (*model.GroupConfig, repository.Partition, error) {
	cfg, err := configs.GetGroup(ctx, group)
	if err != nil {
		return nil, 0, err
	}
	if cfg == nil {
		return nil, 0, fmt.Errorf("%w: group %q not configured", ErrConfiguration, group)
	}
	return cfg, repository.PartitionOf(group, totalPartition), nil
}

// ensureScene returns the scene, creating the default one when the group
// allows it.
func (s *RetryService) ensureScene(ctx context.Context, group *model.GroupConfig, sceneName string) (*model.SceneConfig, error) {
	configs := s.store.Configs()
	scene, err := configs.GetScene(ctx, group.GroupName, sceneName)
	if err != nil || scene != nil {
		return scene, err
	}
	if group.InitScene != constraints.StatusYes {
		return nil, fmt.Errorf("%w: scene %q of group %q not configured", ErrConfiguration, sceneName, group.GroupName)
	}

	scene = &model.SceneConfig{
		GroupName:     group.GroupName,
		SceneName:     sceneName,
		SceneStatus:   constraints.StatusYes,
		BackOff:       DefaultSceneBackOff,
		MaxRetryCount: DefaultSceneMaxRetryCount,
		Description:   defaultSceneDescription,
	}
	err = configs.CreateScene(ctx, scene)
	if errors.Is(err, repository.ErrDuplicateKey) {
		// another reporter initialised it first
		return configs.GetScene(ctx, group.GroupName, sceneName)
	}
	if err != nil {
		return nil, err
	}
	logger.Info("scene auto initialised", zap.String("group", group.GroupName), zap.String("scene", sceneName))
	return scene, nil
}

// ReportRetry records a failed business operation for later retry. It
// returns false with a nil error when a RUNNING task already holds the
// idempotent id.
func (s *RetryService) ReportRetry(ctx context.Context, req v1.ReportRequest) (bool, error) {
	created, err := s.report(ctx, req, constraints.RetryRunning)
	switch {
	case err != nil:
		s.observer.RecordReport(metrics.ReportFailed)
	case created:
		s.observer.RecordReport(metrics.ReportCreated)
	default:
		s.observer.RecordReport(metrics.ReportNoOp)
		logger.Warn("duplicate report ignored",
			zap.String("group", req.GroupName),
			zap.String("scene", req.SceneName),
			zap.String("idempotent_id", req.IdempotentID))
	}
	return created, err
}

// BatchReportRetry reports each request in its own transaction. Failures are
// joined; successful reports stay committed.
func (s *RetryService) BatchReportRetry(ctx context.Context, reqs []v1.ReportRequest) (int, error) {
	var errs []error
	created := 0
	for i, req := range reqs {
		ok, err := s.ReportRetry(ctx, req)
		if err != nil {
			errs = append(errs, fmt.Errorf("report %d (%s/%s): %w", i, req.GroupName, req.IdempotentID, err))
			continue
		}
		if ok {
			created++
		}
	}
	return created, errors.Join(errs...)
}

// SaveTask creates a task on an operator's behalf. Unlike ReportRetry, a
// RUNNING task holding the idempotent id is ErrRunningConflict.
func (s *RetryService) SaveTask(ctx context.Context, req v1.ReportRequest, status constraints.RetryStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidStatus, status)
	}
	created, err := s.report(ctx, req, status)
	if err != nil {
		return err
	}
	if !created {
		return ErrRunningConflict
	}
	logger.Info("retry task saved by operator",
		zap.String("operator", GetOperator(ctx)),
		zap.String("group", req.GroupName),
		zap.String("idempotent_id", req.IdempotentID))
	return nil
}

func (s *RetryService) report(ctx context.Context, req v1.ReportRequest, status constraints.RetryStatus) (bool, error) {
	group, p, err := resolveGroup(ctx, s.store.Configs(), req.GroupName, s.cfg.TotalPartition)
	if err != nil {
		return false, err
	}
	if _, err := s.ensureScene(ctx, group, req.SceneName); err != nil {
		return false, err
	}
	s.groups.Add(group.GroupName)

	// fast path; the running_key unique index is what actually decides
	if status == constraints.RetryRunning {
		n, err := s.store.Tasks().CountRunning(ctx, p, req.GroupName, req.SceneName, req.IdempotentID)
		if err != nil {
			return false, err
		}
		if n > 0 {
			return false, nil
		}
	}

	gen, err := s.ids.Get(group.IDGeneratorMode)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	uniqueID, err := gen.NextID(ctx, group.GroupName)
	if err != nil {
		return false, err
	}
	next, err := s.backoff.ComputeNextTrigger(constraints.BackOffRandom, nil)
	if err != nil {
		return false, err
	}

	now := s.now()
	task := &model.RetryTask{
		GroupName:     req.GroupName,
		SceneName:     req.SceneName,
		BizNo:         req.BizNo,
		IdempotentID:  req.IdempotentID,
		UniqueID:      uniqueID,
		ExecutorName:  req.ExecutorName,
		ArgsStr:       req.ArgsStr,
		ExtAttrs:      req.ExtAttrs,
		NextTriggerAt: next,
		TaskType:      constraints.TaskTypeRetry,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	task.SetStatus(status)

	err = s.store.Transaction(ctx, func(tx repository.Store) error {
		rows, err := tx.Tasks().Create(ctx, p, task)
		if errors.Is(err, repository.ErrDuplicateKey) {
			return errRunningExists
		}
		if err != nil {
			return err
		}
		if rows != 1 {
			return fmt.Errorf("%w: insert task affected %d rows", ErrPersistenceInconsistency, rows)
		}

		rows, err = tx.TaskLogs().Create(ctx, model.NewRetryTaskLog(task))
		if err != nil {
			return err
		}
		if rows != 1 {
			return fmt.Errorf("%w: insert task log affected %d rows", ErrPersistenceInconsistency, rows)
		}
		return nil
	})
	if errors.Is(err, errRunningExists) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
