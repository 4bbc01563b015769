// Package balance picks one host out of a group's live candidates.
package balance

import (
	"math/rand/v2"
	"sync"
	"sync/atomic"

	"retryflow/pkg/logger"

	"go.uber.org/zap"
)

const (
	Random         = "random"
	RoundRobin     = "round_robin"
	ConsistentHash = "consistent_hash"
)

// Strategy routes key onto one of candidates. Candidates arrive sorted and
// non-empty.
type Strategy interface {
	Route(key string, candidates []string) string
}

type randomStrategy struct{}

func (randomStrategy) Route(_ string, candidates []string) string {
	return candidates[rand.IntN(len(candidates))]
}

type roundRobinStrategy struct {
	counters sync.Map // key -> *atomic.Uint64
}

func (s *roundRobinStrategy) Route(key string, candidates []string) string {
	v, _ := s.counters.LoadOrStore(key, new(atomic.Uint64))
	n := v.(*atomic.Uint64).Add(1) - 1
	return candidates[n%uint64(len(candidates))]
}

// Manager resolves strategies by route key. Strategies are built once.
type Manager struct {
	strategies map[string]Strategy
	fallback   Strategy
}

func NewManager() *Manager {
	rnd := randomStrategy{}
	return &Manager{
		strategies: map[string]Strategy{
			Random:         rnd,
			RoundRobin:     &roundRobinStrategy{},
			ConsistentHash: NewConsistentHash(DefaultReplicas),
		},
		fallback: rnd,
	}
}

// Get returns the strategy for routeKey. Unknown keys fall back to random.
func (m *Manager) Get(routeKey string) Strategy {
	if s, ok := m.strategies[routeKey]; ok {
		return s
	}
	logger.Warn("unknown route key, falling back to random", zap.String("route_key", routeKey))
	return m.fallback
}
