// Package client is the SDK a business node embeds: it heartbeats to the
// coordinator, reports failed operations for retry and answers the
// coordinator's idempotent id requests.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	v1 "retryflow/pkg/api/v1"
	"retryflow/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	groupHeader              = "X-Retry-Group"
	DefaultHeartbeatInterval = 15 * time.Second
	DefaultTimeout           = 3 * time.Second
	maxHeartbeatBackoff      = 30 * time.Second
)

var ErrUnexpectedStatus = errors.New("unexpected coordinator response")

type Config struct {
	ServerAddr  string // e.g. http://retry-server:8080
	GroupName   string
	HostID      string // generated when empty
	HostIP      string
	HostPort    int
	ContextPath string
	// HeartbeatInterval should stay below half the server lease.
	HeartbeatInterval time.Duration
	Timeout           time.Duration
}

type RetryClient struct {
	cfg        Config
	httpClient *http.Client
}

func NewRetryClient(cfg Config) *RetryClient {
	if cfg.HostID == "" {
		cfg.HostID = uuid.New().String()
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	cfg.ServerAddr = strings.TrimRight(cfg.ServerAddr, "/")
	return &RetryClient{cfg: cfg, httpClient: &http.Client{Timeout: cfg.Timeout}}
}

func (c *RetryClient) HostID() string {
	return c.cfg.HostID
}

func (c *RetryClient) post(ctx context.Context, path string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.ServerAddr+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(groupHeader, c.cfg.GroupName)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return fmt.Errorf("%w: %s %d %s", ErrUnexpectedStatus, path, resp.StatusCode, e.Error)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Heartbeat registers this node once.
func (c *RetryClient) Heartbeat(ctx context.Context) error {
	var res v1.Result
	err := c.post(ctx, "/v1/register", v1.RegisterRequest{
		GroupName:   c.cfg.GroupName,
		HostID:      c.cfg.HostID,
		HostIP:      c.cfg.HostIP,
		HostPort:    c.cfg.HostPort,
		ContextPath: c.cfg.ContextPath,
	}, &res)
	if err != nil {
		return err
	}
	if !res.OK() {
		return fmt.Errorf("%w: register status %d: %s", ErrUnexpectedStatus, res.Status, res.Message)
	}
	return nil
}

// Run heartbeats until ctx is cancelled. Failures back off with jitter but
// never wait longer than the heartbeat interval allows.
func (c *RetryClient) Run(ctx context.Context) {
	backoff := time.Second
	for {
		wait := c.cfg.HeartbeatInterval
		if err := c.Heartbeat(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("retry heartbeat failed", zap.String("group", c.cfg.GroupName), zap.Error(err))
			wait = backoff + rand.N(backoff/2+1)
			backoff = min(backoff*2, maxHeartbeatBackoff, c.cfg.HeartbeatInterval)
		} else {
			backoff = time.Second
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// Report hands a failed operation to the coordinator. It returns false when
// a RUNNING task for the same idempotent id already exists.
func (c *RetryClient) Report(ctx context.Context, r v1.ReportRequest) (bool, error) {
	r.GroupName = c.cfg.GroupName
	var out struct {
		Created bool `json:"created"`
	}
	if err := c.post(ctx, "/v1/report", r, &out); err != nil {
		return false, err
	}
	return out.Created, nil
}

func (c *RetryClient) BatchReport(ctx context.Context, rs []v1.ReportRequest) (int, error) {
	for i := range rs {
		rs[i].GroupName = c.cfg.GroupName
	}
	var out struct {
		Created int `json:"created"`
	}
	if err := c.post(ctx, "/v1/report/batch", struct {
		Tasks []v1.ReportRequest `json:"tasks"`
	}{rs}, &out); err != nil {
		return 0, err
	}
	return out.Created, nil
}

// IdempotentIDFunc derives the idempotent id the node would have used for a
// call of executorName with argsStr.
type IdempotentIDFunc func(ctx context.Context, req v1.GenerateIdempotentIDRequest) (string, error)

// Handler serves the idempotent id endpoint under the configured context
// path. Failures are answered with HTTP 200 and a failure status.
func (c *RetryClient) Handler(gen IdempotentIDFunc) http.Handler {
	path := v1.IdempotentIDPath
	if cp := strings.Trim(c.cfg.ContextPath, "/"); cp != "" {
		path = "/" + cp + path
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+path, func(w http.ResponseWriter, r *http.Request) {
		var req v1.GenerateIdempotentIDRequest
		var res v1.Result
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			res = v1.Failure("invalid request: " + err.Error())
		} else if req.Group != c.cfg.GroupName {
			res = v1.Failure("unknown group " + req.Group)
		} else if id, err := gen(r.Context(), req); err != nil {
			res = v1.Failure(err.Error())
		} else {
			res = v1.Success(id)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(res)
	})
	return mux
}
