// Package ctcpclient is a thin HTTP client for ctcpd's admin API, used by
// ctcpctl, following the teacher's pkg/apiclient package shape (a baseURL +
// http.Client, a shared do helper, typed response payloads) trimmed to the
// admin API's read-only surface: no auth token, since ctcpd's admin API
// carries none.
package ctcpclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client talks to ctcpd's admin HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client against baseURL, e.g. "http://127.0.0.1:8701".
func New(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// envelope mirrors internal/adminapi.Response.
type envelope struct {
	Status    string          `json:"status"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
}

func (c *Client) get(path string, out any) (*envelope, error) {
	resp, err := c.httpClient.Get(c.baseURL + path)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode >= 400 && env.Error == "" {
		return nil, fmt.Errorf("server returned status %d", resp.StatusCode)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return nil, fmt.Errorf("decode response data: %w", err)
		}
	}
	return &env, nil
}

// Health is the decoded /healthz or /readyz payload.
type Health struct {
	Status    string
	Error     string
	StartedAt string
	Uptime    string
}

// Liveness calls GET /healthz.
func (c *Client) Liveness() (*Health, error) {
	return c.probe("/healthz")
}

// Readiness calls GET /readyz.
func (c *Client) Readiness() (*Health, error) {
	return c.probe("/readyz")
}

func (c *Client) probe(path string) (*Health, error) {
	var data struct {
		Service       string `json:"service"`
		StartedAt     string `json:"started_at"`
		Uptime        string `json:"uptime"`
		SessionGroups int    `json:"session_groups"`
	}
	env, err := c.get(path, &data)
	if err != nil {
		return &Health{Status: "unreachable", Error: err.Error()}, err
	}
	return &Health{
		Status:    env.Status,
		Error:     env.Error,
		StartedAt: data.StartedAt,
		Uptime:    data.Uptime,
	}, nil
}

// Job is one capture job within a session group, as reported by /v1/sessions.
type Job struct {
	Desc   uint16   `json:"job_desc"`
	Status string   `json:"status"`
	Tables []string `json:"tables"`
}

// SessionGroup is one control session group, as reported by /v1/sessions.
type SessionGroup struct {
	SGID uint32 `json:"sgid"`
	Jobs []Job  `json:"jobs"`
}

// ListSessions calls GET /v1/sessions.
func (c *Client) ListSessions() ([]SessionGroup, error) {
	var groups []SessionGroup
	if _, err := c.get("/v1/sessions", &groups); err != nil {
		return nil, err
	}
	return groups, nil
}
