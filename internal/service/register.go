package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"retryflow/internal/metrics"
	"retryflow/internal/model"
	"retryflow/internal/registry"
	"retryflow/internal/repository"
	"retryflow/pkg/constraints"
	"retryflow/pkg/logger"

	"go.uber.org/zap"
)

// DefaultServerGroup is the group coordinator servers register under.
const DefaultServerGroup = "DEFAULT_SERVER"

// DefaultLease is how long a registration stays valid without a refresh.
const DefaultLease = 30 * time.Second

// RegisterContext is the local identity a node registers with.
type RegisterContext struct {
	GroupName   string
	HostID      string
	HostIP      string
	HostPort    int
	ContextPath string
	NodeType    constraints.NodeType
}

// persistNode upserts the registration row and returns the cache entry for it.
func persistNode(ctx context.Context, nodes repository.NodeInterface, rc RegisterContext, expireAt time.Time) (*registry.Node, error) {
	row := &model.ServerNode{
		GroupName:   rc.GroupName,
		HostID:      rc.HostID,
		HostIP:      rc.HostIP,
		HostPort:    rc.HostPort,
		ContextPath: rc.ContextPath,
		NodeType:    rc.NodeType,
		ExpireAt:    expireAt,
	}
	if err := nodes.Upsert(ctx, row); err != nil {
		return nil, fmt.Errorf("persist %s node %s/%s: %w", rc.NodeType, rc.GroupName, rc.HostID, err)
	}
	return registry.NewNode(rc.GroupName, rc.HostID, rc.HostIP, rc.HostPort, rc.ContextPath, rc.NodeType, expireAt), nil
}

// ConsumerGroups is the set of groups this process serves. Client resync only
// reloads nodes for these groups.
type ConsumerGroups struct {
	groups sync.Map
}

func NewConsumerGroups() *ConsumerGroups {
	return &ConsumerGroups{}
}

func (g *ConsumerGroups) Add(names ...string) {
	for _, n := range names {
		g.groups.Store(n, struct{}{})
	}
}

// Load seeds the set with every enabled group config.
func (g *ConsumerGroups) Load(ctx context.Context, configs repository.ConfigInterface) error {
	names, err := configs.ListGroupNames(ctx)
	if err != nil {
		return fmt.Errorf("load consumer groups: %w", err)
	}
	g.Add(names...)
	return nil
}

func (g *ConsumerGroups) List() []string {
	var names []string
	g.groups.Range(func(k, _ any) bool {
		names = append(names, k.(string))
		return true
	})
	sort.Strings(names)
	return names
}

// ServerRegister keeps this coordinator process registered. The host id is
// fixed for the life of the process.
type ServerRegister struct {
	store    repository.Store
	registry *registry.Registry
	observer metrics.RetryObserver
	lease    time.Duration
	self     RegisterContext
	now      func() time.Time
}

func NewServerRegister(store repository.Store, reg *registry.Registry, observer metrics.RetryObserver, lease time.Duration, hostID, hostIP string, hostPort int) *ServerRegister {
	if lease <= 0 {
		lease = DefaultLease
	}
	return &ServerRegister{
		store:    store,
		registry: reg,
		observer: observer,
		lease:    lease,
		self: RegisterContext{
			GroupName: DefaultServerGroup,
			HostID:    hostID,
			HostIP:    hostIP,
			HostPort:  hostPort,
			NodeType:  constraints.NodeServer,
		},
		now: time.Now,
	}
}

func (s *ServerRegister) HostID() string {
	return s.self.HostID
}

// Register persists and caches this server with a fresh lease. Calling it
// again only extends the lease.
func (s *ServerRegister) Register(ctx context.Context) error {
	node, err := persistNode(ctx, s.store.Nodes(), s.self, s.now().Add(s.lease))
	if err != nil {
		return err
	}
	s.registry.Put(node)
	s.observer.RecordRegistration(constraints.NodeServer.String())
	return nil
}

// Run registers immediately and then every lease/2, so one missed cycle
// never lets the lease lapse.
func (s *ServerRegister) Run(ctx context.Context) {
	interval := s.lease / 2
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	logger.Info("server register started",
		zap.String("host_id", s.self.HostID),
		zap.Duration("interval", interval))

	if err := s.Register(ctx); err != nil {
		logger.Error("server register failed", zap.Error(err))
	}
	for {
		select {
		case <-ctx.Done():
			logger.Info("server register stopped")
			return
		case <-ticker.C:
			if err := s.Register(ctx); err != nil {
				logger.Error("server register failed", zap.Error(err))
			}
		}
	}
}

type ClientRegisterConfig struct {
	Lease          time.Duration
	QueueCapacity  int
	PollTimeout    time.Duration
	ResyncInterval time.Duration
}

// ClientRegister accepts client heartbeats. Each heartbeat is persisted
// synchronously and then queued for a cache refresh; a full queue drops the
// refresh, which the next heartbeat or resync makes up for.
type ClientRegister struct {
	store    repository.Store
	registry *registry.Registry
	groups   *ConsumerGroups
	observer metrics.RetryObserver
	cfg      ClientRegisterConfig
	queue    chan *registry.Node
	now      func() time.Time
}

func NewClientRegister(store repository.Store, reg *registry.Registry, groups *ConsumerGroups, observer metrics.RetryObserver, cfg ClientRegisterConfig) *ClientRegister {
	if cfg.Lease <= 0 {
		cfg.Lease = DefaultLease
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 256
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 5 * time.Second
	}
	return &ClientRegister{
		store:    store,
		registry: reg,
		groups:   groups,
		observer: observer,
		cfg:      cfg,
		queue:    make(chan *registry.Node, cfg.QueueCapacity),
		now:      time.Now,
	}
}

// Register persists the heartbeat. Storage failures are returned; a dropped
// cache refresh is not an error.
func (c *ClientRegister) Register(ctx context.Context, rc RegisterContext) error {
	rc.NodeType = constraints.NodeClient
	node, err := persistNode(ctx, c.store.Nodes(), rc, c.now().Add(c.cfg.Lease))
	if err != nil {
		return err
	}
	c.groups.Add(rc.GroupName)
	c.observer.RecordRegistration(constraints.NodeClient.String())

	select {
	case c.queue <- node:
	default:
		c.observer.RecordQueueDrop()
		logger.Warn("client register queue full, refresh dropped",
			zap.String("group", rc.GroupName),
			zap.String("host_id", rc.HostID))
	}
	return nil
}

// Run drains the refresh queue until ctx is cancelled. The iteration in
// flight when ctx is cancelled is completed before returning.
func (c *ClientRegister) Run(ctx context.Context) {
	logger.Info("client register worker started",
		zap.Int("queue_capacity", cap(c.queue)),
		zap.Duration("resync_interval", c.cfg.ResyncInterval))

	poll := time.NewTimer(c.cfg.PollTimeout)
	defer poll.Stop()
	var lastResync time.Time

	for {
		if !poll.Stop() {
			select {
			case <-poll.C:
			default:
			}
		}
		poll.Reset(c.cfg.PollTimeout)

		select {
		case <-ctx.Done():
			logger.Info("client register worker stopped")
			return
		case node := <-c.queue:
			c.registry.RefreshExpiry(node.GroupName, node.HostID, node.ExpireAt())
		case <-poll.C:
		}

		if now := c.now(); now.Sub(lastResync) >= c.cfg.ResyncInterval {
			c.Resync(context.WithoutCancel(ctx))
			lastResync = now
		}
	}
}

// Resync reloads the persisted nodes of every consumed group into the cache.
// A client's heartbeat may land on another server, so the cache cannot rely
// on its own queue alone.
func (c *ClientRegister) Resync(ctx context.Context) {
	groups := c.groups.List()
	if len(groups) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.PollTimeout)
	defer cancel()

	rows, err := c.store.Nodes().ListByGroups(ctx, groups)
	if err != nil {
		logger.Error("client register resync failed", zap.Error(err))
		return
	}
	for _, row := range rows {
		if _, ok := c.registry.Get(row.GroupName, row.HostID); ok {
			c.registry.RefreshExpiry(row.GroupName, row.HostID, row.ExpireAt)
			continue
		}
		c.registry.Put(registry.NewNode(row.GroupName, row.HostID, row.HostIP, row.HostPort, row.ContextPath, row.NodeType, row.ExpireAt))
	}
	logger.Debug("client register resynced", zap.Int("groups", len(groups)), zap.Int("nodes", len(rows)))
}
