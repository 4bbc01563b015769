package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"retryflow/client"
	v1 "retryflow/pkg/api/v1"
	"retryflow/pkg/logger"
)

var (
	serverURL = flag.String("url", "http://localhost:8080", "Coordinator base URL")
	group     = flag.String("group", "loadtest", "Group to report into (must be configured)")
	scene     = flag.String("scene", "loadtest-scene", "Scene name")
	nodes     = flag.Int("nodes", 20, "Simulated client nodes heartbeating")
	workers   = flag.Int("c", 200, "Concurrent reporters")
	duration  = flag.Duration("d", time.Minute, "Test duration")
	keySpace  = flag.Int("keys", 10000, "Distinct idempotent ids; a small space exercises duplicate reports")
)

var (
	created   atomic.Int64
	noops     atomic.Int64
	failures  atomic.Int64
	latencyUs atomic.Int64
	calls     atomic.Int64
)

func main() {
	flag.Parse()
	logger.InitLogger("dev")

	fmt.Printf("Starting report load test\n")
	fmt.Printf("   Target: %s group=%s scene=%s\n", *serverURL, *group, *scene)
	fmt.Printf("   Nodes: %d  Reporters: %d  Keys: %d  Duration: %v\n", *nodes, *workers, *keySpace, *duration)

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	for i := 0; i < *nodes; i++ {
		c := client.NewRetryClient(client.Config{
			ServerAddr: *serverURL,
			GroupName:  *group,
			HostIP:     "127.0.0.1",
			HostPort:   20000 + i,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Run(ctx)
		}()
	}

	reporter := client.NewRetryClient(client.Config{ServerAddr: *serverURL, GroupName: *group})
	for i := 0; i < *workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			report(ctx, reporter)
		}()
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	start := time.Now()
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			printStats(time.Since(start))
		}
	}
	wg.Wait()
	fmt.Println("Load test finished")
	printStats(time.Since(start))
}

func report(ctx context.Context, c *client.RetryClient) {
	for ctx.Err() == nil {
		id := strconv.Itoa(rand.IntN(*keySpace))
		begin := time.Now()
		ok, err := c.Report(ctx, v1.ReportRequest{
			SceneName:    *scene,
			BizNo:        "biz-" + id,
			IdempotentID: "lt-" + id,
			ExecutorName: "loadtestExecutor",
			ArgsStr:      `["` + id + `"]`,
		})
		latencyUs.Add(time.Since(begin).Microseconds())
		calls.Add(1)
		switch {
		case err != nil:
			if ctx.Err() == nil {
				failures.Add(1)
			}
		case ok:
			created.Add(1)
		default:
			noops.Add(1)
		}
	}
}

func printStats(elapsed time.Duration) {
	n := calls.Load()
	avg := 0.0
	if n > 0 {
		avg = float64(latencyUs.Load()) / float64(n) / 1000
	}
	fmt.Printf("[%5.0fs] calls=%d created=%d noop=%d failed=%d avg=%.2fms rps=%.0f\n",
		elapsed.Seconds(), n, created.Load(), noops.Load(), failures.Load(), avg,
		float64(n)/max(elapsed.Seconds(), 1))
}
