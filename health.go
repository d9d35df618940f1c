package mql

import (
	"context"
	"net/http"
)

// ServerInfo is returned by /v1/health.
type ServerInfo struct {
	Status       string `json:"status"`
	Version      string `json:"version"`
	Organization string `json:"organization,omitempty"`
	RunningJobs  int    `json:"runningJobs"`
	QueuedJobs   int    `json:"queuedJobs"`
}

// Healthy reports whether the server declared itself ready.
func (s *ServerInfo) Healthy() bool {
	return s != nil && s.Status == "ok"
}

// Health checks that the server is reachable and the credentials are
// accepted.
func (c *Client) Health(ctx context.Context, opts ...RequestOption) (*ServerInfo, error) {
	req, err := c.NewRequest(http.MethodGet, "v1/health", nil, opts...)
	if err != nil {
		return nil, err
	}
	info := new(ServerInfo)
	if _, err := c.Do(ctx, req, info); err != nil {
		return nil, err
	}
	return info, nil
}
