package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"retryflow/internal/balance"
	"retryflow/internal/metrics"
	"retryflow/internal/registry"
	"retryflow/internal/repository"
	"retryflow/pkg/logger"

	"go.uber.org/zap"
)

// Allocator picks a live client node of a group for delegated calls.
type Allocator struct {
	configs  repository.ConfigInterface
	registry *registry.Registry
	balancer *balance.Manager
	observer metrics.RetryObserver
	now      func() time.Time
}

func NewAllocator(configs repository.ConfigInterface, reg *registry.Registry, balancer *balance.Manager, observer metrics.RetryObserver) *Allocator {
	return &Allocator{
		configs:  configs,
		registry: reg,
		balancer: balancer,
		observer: observer,
		now:      time.Now,
	}
}

// Allocate returns nil, nil when the group has no live node. An unknown
// group is ErrConfiguration.
func (a *Allocator) Allocate(ctx context.Context, group string) (*registry.Node, error) {
	cfg, err := a.configs.GetGroup(ctx, group)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, fmt.Errorf("%w: group %q not configured", ErrConfiguration, group)
	}

	now := a.now()
	live := make(map[string]*registry.Node)
	for _, n := range a.registry.AllForGroup(group) {
		if n.Alive(now) {
			live[n.HostID] = n
		}
	}
	if len(live) == 0 {
		a.observer.RecordAllocation(false)
		logger.Warn("no live node to allocate", zap.String("group", group))
		return nil, nil
	}

	candidates := make([]string, 0, len(live))
	for id := range live {
		candidates = append(candidates, id)
	}
	sort.Strings(candidates)

	picked := a.balancer.Get(cfg.RouteKey).Route(group, candidates)
	a.observer.RecordAllocation(true)
	return live[picked], nil
}
