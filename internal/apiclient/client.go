// Package apiclient is a minimal HTTP client for the clusterd daemon's
// /api/v1 and /admin surfaces, used by cmd/clusterctl. It talks plain JSON
// over net/http; there is no generated SDK.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/clusterd/scheduler/internal/task"
)

// Client talks to one clusterd daemon instance.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// New builds a Client targeting baseURL (e.g. "http://localhost:8080").
func New(baseURL string, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

// APIError is returned when the daemon responds with a non-2xx status; it
// carries the decoded {"error","message"} body handlers.respondError writes.
type APIError struct {
	StatusCode int
	ErrorText  string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s (status %d)", e.ErrorText, e.Message, e.StatusCode)
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("apiclient: encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("apiclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("apiclient: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return &APIError{StatusCode: resp.StatusCode, ErrorText: apiErr.Error, Message: apiErr.Message}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("apiclient: decode response: %w", err)
	}
	return nil
}

// SubmitTask creates a task and returns its assigned identifier.
func (c *Client) SubmitTask(ctx context.Context, cmd task.Command) (string, error) {
	var out struct {
		TaskIdent string `json:"task_ident"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/tasks/", cmd, &out); err != nil {
		return "", err
	}
	return out.TaskIdent, nil
}

// GetTask retrieves a task's current snapshot.
func (c *Client) GetTask(ctx context.Context, ident string) (task.Snapshot, error) {
	var snap task.Snapshot
	err := c.do(ctx, http.MethodGet, "/api/v1/tasks/"+url.PathEscape(ident), nil, &snap)
	return snap, err
}

// WaitTask blocks server-side until ident reaches FINISHED or timeout
// elapses, mirroring Scheduler.WaitForTask over HTTP.
func (c *Client) WaitTask(ctx context.Context, ident string, timeout time.Duration) (task.Snapshot, error) {
	path := "/api/v1/tasks/" + url.PathEscape(ident) + "/wait"
	if timeout > 0 {
		path += fmt.Sprintf("?request_timeout_ms=%d", timeout.Milliseconds())
	}
	var snap task.Snapshot
	err := c.do(ctx, http.MethodGet, path, nil, &snap)
	return snap, err
}

// KillTask requests cancellation of ident.
func (c *Client) KillTask(ctx context.Context, ident string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/tasks/"+url.PathEscape(ident), nil, nil)
}

// PoolStatus is the daemon's worker pool occupancy, per GET /admin/pool.
type PoolStatus struct {
	PersistentTotal int `json:"persistent_total"`
	PersistentBusy  int `json:"persistent_busy"`
	TempActive      int `json:"temp_active"`
	TempCap         int `json:"temp_cap"`
}

// Pool retrieves the current worker pool occupancy.
func (c *Client) Pool(ctx context.Context) (PoolStatus, error) {
	var out PoolStatus
	err := c.do(ctx, http.MethodGet, "/admin/pool", nil, &out)
	return out, err
}

// CommandEntry mirrors command.Entry's JSON shape without the handler
// func, which never crosses the wire.
type CommandEntry struct {
	Name           string `json:"name"`
	Description    string `json:"description"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
}

// Commands retrieves the registered command manifest.
func (c *Client) Commands(ctx context.Context) ([]CommandEntry, error) {
	var out struct {
		Commands []CommandEntry `json:"commands"`
	}
	err := c.do(ctx, http.MethodGet, "/admin/commands", nil, &out)
	return out.Commands, err
}

// Health checks daemon liveness.
func (c *Client) Health(ctx context.Context) (string, error) {
	var out struct {
		Status string `json:"status"`
	}
	err := c.do(ctx, http.MethodGet, "/admin/health", nil, &out)
	return out.Status, err
}
