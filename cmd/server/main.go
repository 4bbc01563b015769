package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"retryflow/internal/api"
	"retryflow/internal/backoff"
	"retryflow/internal/balance"
	"retryflow/internal/config"
	"retryflow/internal/idgen"
	"retryflow/internal/metrics"
	"retryflow/internal/middleware"
	"retryflow/internal/registry"
	"retryflow/internal/remote"
	"retryflow/internal/repository"
	"retryflow/internal/service"
	"retryflow/pkg/logger"

	"github.com/redis/go-redis/v9"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger.InitLogger(cfg.Server.Environment)
	defer logger.Sync()

	if err := run(cfg); err != nil {
		logger.Error("application startup failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Infrastructure
	rdb, err := initRedis(cfg.Redis)
	if err != nil {
		return err
	}
	defer rdb.Close()

	etcdCli, err := initEtcd(cfg.Etcd)
	if err != nil {
		return err
	}
	defer etcdCli.Close()

	db, err := initDB(cfg.MySQL, cfg.Retry.TotalPartition)
	if err != nil {
		return err
	}
	store := repository.NewGormStore(db)

	sweepLock, err := repository.NewEtcdLock(etcdCli, service.SweepLockKey, cfg.Workers.SweepLockTTL)
	if err != nil {
		return err
	}
	defer sweepLock.Close()

	// Domain
	observer := metrics.NewPrometheusObserver()
	reg := registry.New()
	groups := service.NewConsumerGroups()

	nodeID, release, err := snowflakeNode(ctx, etcdCli, cfg)
	if err != nil {
		return err
	}
	defer release()
	snowflakeGen, err := idgen.NewSnowflakeGenerator(nodeID)
	if err != nil {
		return err
	}
	ids := idgen.NewManager(map[string]idgen.Generator{
		idgen.ModeSnowflake: snowflakeGen,
		idgen.ModeSegment:   idgen.NewSegmentGenerator(rdb, cfg.IDGen.SegmentStep),
	})
	engine := backoff.NewEngine(backoff.Options{
		RandomMin:     cfg.Retry.RandomMin,
		RandomMax:     cfg.Retry.RandomMax,
		MaxDelayLevel: cfg.Retry.MaxDelayLevel,
	})
	allocator := service.NewAllocator(store.Configs(), reg, balance.NewManager(), observer)

	retrySvc := service.NewRetryService(store, engine, ids, allocator, remote.New(cfg.Remote.Timeout), groups, observer,
		service.RetryServiceConfig{RemoteTimeout: cfg.Remote.Timeout, TotalPartition: cfg.Retry.TotalPartition})
	deadLetterSvc := service.NewDeadLetterService(store, observer, cfg.Retry.TotalPartition)
	authSvc := service.NewAuthService(rdb, service.AuthConfig{
		SigningKey:      []byte(cfg.Auth.SigningKey),
		AdminUser:       cfg.Auth.AdminUser,
		AdminPassword:   cfg.Auth.AdminPassword,
		AccessTokenTTL:  cfg.Auth.AccessTokenTTL,
		RefreshTokenTTL: cfg.Auth.RefreshTokenTTL,
	})

	hostID, err := snowflakeGen.NextID(ctx, service.DefaultServerGroup)
	if err != nil {
		return err
	}
	hostIP := cfg.Server.AdvertiseIP
	if hostIP == "" {
		hostIP = detectIP()
	}
	serverRegister := service.NewServerRegister(store, reg, observer, cfg.Register.Lease, hostID, hostIP, cfg.Server.AdvertisePort)
	clientRegister := service.NewClientRegister(store, reg, groups, observer, service.ClientRegisterConfig{
		Lease:          cfg.Register.Lease,
		QueueCapacity:  cfg.Register.QueueCapacity,
		PollTimeout:    cfg.Register.PollTimeout,
		ResyncInterval: cfg.Register.ResyncInterval,
	})
	sweeper := service.NewSweeper(store, deadLetterSvc, groups, sweepLock, service.SweeperConfig{
		Interval:      cfg.Workers.SweepInterval,
		LockWait:      cfg.Workers.SweepLockWait,
		GroupWait:     cfg.Workers.SweepGroupWait,
		NodeRetention: cfg.Workers.NodeRetention,
	})
	limiter := middleware.NewRateLimiter(rdb, cfg.RateLimit.RequestsPerSecond)

	// Seed consumed groups and warm the client cache before serving.
	if err := groups.Load(ctx, store.Configs()); err != nil {
		return err
	}
	clientRegister.Resync(ctx)

	// Background routines
	var wg sync.WaitGroup
	for name, worker := range map[string]func(context.Context){
		"server register": serverRegister.Run,
		"client register": clientRegister.Run,
		"sweeper":         sweeper.Run,
		"rate limiter":    limiter.Run,
	} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Info("starting " + name)
			worker(ctx)
		}()
	}

	// HTTP
	r := api.RegisterRoutes(api.Handlers{
		Retry: api.NewRetryHandler(retrySvc, clientRegister),
		Task:  api.NewTaskHandler(retrySvc, sweeper, reg, cfg.Retry.DuePageSize),
		Auth:  api.NewAuthHandler(authSvc),
		Health: api.NewHealthHandler(map[string]api.HealthCheck{
			"mysql": store.PingContext,
			"redis": func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
			"etcd":  func(ctx context.Context) error { return repository.EtcdHealth(ctx, etcdCli) },
		}),
	}, api.RouterDeps{
		Configs:     store.Configs(),
		Tokens:      authSvc,
		RateLimiter: limiter,
		DevMode:     cfg.Auth.DevMode,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("server starting",
			zap.String("addr", cfg.Server.Port),
			zap.String("host_id", hostID),
			zap.String("env", cfg.Server.Environment))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server listen failed", zap.Error(err))
			cancel()
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}
	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	cancel()
	err = srv.Shutdown(shutdownCtx)
	wg.Wait()
	reg.Clear()
	if err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server exited properly")
	return nil
}

func initRedis(cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return rdb, nil
}

func initEtcd(cfg config.EtcdConfig) (*clientv3.Client, error) {
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}
	return client, nil
}

func initDB(cfg config.MySQLConfig, totalPartition int) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(cfg.DSN), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mysql: %w", err)
	}
	if cfg.AutoMigrate {
		if err := repository.Migrate(db, totalPartition); err != nil {
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}
	return db, nil
}

// snowflakeNode returns the configured node id, or claims a free one in etcd
// that stays reserved until release is called or the process dies.
func snowflakeNode(ctx context.Context, cli *clientv3.Client, cfg *config.Config) (int64, func(), error) {
	if cfg.IDGen.NodeID != config.AutoNodeID {
		return cfg.IDGen.NodeID, func() {}, nil
	}
	claims, err := repository.NewEtcdNodeIDs(cli, "/retryflow/idgen/nodes/", cfg.Server.AdvertiseIP, cfg.Workers.SweepLockTTL)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to open node id session: %w", err)
	}
	id, err := idgen.ClaimNodeID(ctx, claims)
	if err != nil {
		claims.Close()
		return 0, nil, err
	}
	logger.Info("snowflake node id claimed", zap.Int64("node_id", id))
	return id, func() { _ = claims.Close() }, nil
}

// detectIP picks the first non-loopback IPv4 address.
func detectIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}
	for _, a := range addrs {
		if ipNet, ok := a.(*net.IPNet); ok && !ipNet.IP.IsLoopback() && ipNet.IP.To4() != nil {
			return ipNet.IP.String()
		}
	}
	return "127.0.0.1"
}
