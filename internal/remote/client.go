// Package remote calls client nodes over HTTP.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"retryflow/internal/registry"
	v1 "retryflow/pkg/api/v1"
)

type Client struct {
	httpClient *http.Client
}

// New builds a client whose requests never outlive timeout, even if the
// caller's context has no deadline.
func New(timeout time.Duration) *Client {
	return &Client{httpClient: &http.Client{Timeout: timeout}}
}

// URL is the delegation endpoint of node.
func URL(node *registry.Node) string {
	base := fmt.Sprintf("http://%s:%d", node.HostIP, node.HostPort)
	if cp := strings.Trim(node.ContextPath, "/"); cp != "" {
		base += "/" + cp
	}
	return base + v1.IdempotentIDPath
}

// GenerateIdempotentID asks node to derive the idempotent id for the given
// executor and arguments. The returned Result must still be checked with OK.
func (c *Client) GenerateIdempotentID(ctx context.Context, node *registry.Node, req v1.GenerateIdempotentIDRequest) (*v1.Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, URL(node), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("node %s answered http %d", node.HostID, resp.StatusCode)
	}
	var result v1.Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode node %s response: %w", node.HostID, err)
	}
	return &result, nil
}
