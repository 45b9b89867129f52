// Package client reads the observability API of a running operator.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"GuardianScope/internal/engine"
	"GuardianScope/internal/moderation"
)

// ErrNotFound is returned when the requested task does not exist.
var ErrNotFound = errors.New("not found")

// Client connects to an operator via HTTP.
type Client struct {
	baseURL string       // baseURL is the API root, e.g. "http://127.0.0.1:8080"
	http    *http.Client // http carries a request timeout
}

// New creates a client for the API at addr. A bare host:port gets an http scheme.
func New(addr string) *Client {
	base := strings.TrimRight(addr, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}

	return &Client{
		baseURL: base,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Health reports whether the operator answers its health check.
func (c *Client) Health() error {
	var resp struct {
		Status string `json:"status"`
	}

	if err := c.httpGet("/health", &resp); err != nil {
		return err
	}

	if resp.Status != "ok" {
		return fmt.Errorf("unhealthy: %q", resp.Status)
	}

	return nil
}

// Status returns the engine summary.
func (c *Client) Status() (engine.Status, error) {
	var status engine.Status
	err := c.httpGet("/status", &status)

	return status, err
}

// Snapshot returns the full observability view.
func (c *Client) Snapshot() (moderation.Snapshot, error) {
	var snap moderation.Snapshot
	err := c.httpGet("/snapshot", &snap)

	return snap, err
}

// Tasks returns every task, or only those in status when non-empty.
func (c *Client) Tasks(status string) ([]moderation.TaskView, error) {
	path := "/tasks"
	if status != "" {
		path += "?status=" + url.QueryEscape(status)
	}

	var tasks []moderation.TaskView
	err := c.httpGet(path, &tasks)

	return tasks, err
}

// Task returns one task. A missing task matches ErrNotFound.
func (c *Client) Task(id moderation.TaskID) (moderation.TaskView, error) {
	var task moderation.TaskView
	err := c.httpGet(fmt.Sprintf("/tasks/%d", id), &task)

	return task, err
}

// Operators returns the known operators and their stats.
func (c *Client) Operators() ([]moderation.OperatorView, error) {
	var ops []moderation.OperatorView
	err := c.httpGet("/operators", &ops)

	return ops, err
}

// Failures returns the retained operator-attention records.
func (c *Client) Failures() ([]moderation.Failure, error) {
	var failures []moderation.Failure
	err := c.httpGet("/failures", &failures)

	return failures, err
}

// Watch streams pushed snapshots to fn until ctx is done, the connection
// drops, or fn returns an error.
func (c *Client) Watch(ctx context.Context, fn func(moderation.Snapshot) error) error {
	wsURL := "ws" + strings.TrimPrefix(c.baseURL, "http") + "/ws"

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s:\n%w", wsURL, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		var snap moderation.Snapshot
		if err := conn.ReadJSON(&snap); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read snapshot:\n%w", err)
		}

		if err := fn(snap); err != nil {
			return err
		}
	}
}
