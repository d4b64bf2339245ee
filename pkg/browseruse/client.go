// Package browseruse provides a client for the Browser Use cloud agent API,
// used to scrape business websites that lack structured data.
package browseruse

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
)

// Client defines the Browser Use operations used by discovery and enrichment.
type Client interface {
	// RunTask submits a natural-language browsing task and returns its ID.
	RunTask(ctx context.Context, instructions string) (string, error)
	// GetTask fetches the current state of a task.
	GetTask(ctx context.Context, taskID string) (*Task, error)
	// StopTask aborts a running task.
	StopTask(ctx context.Context, taskID string) error
}

// Task statuses reported by the API.
const (
	StatusCreated  = "created"
	StatusRunning  = "running"
	StatusFinished = "finished"
	StatusFailed   = "failed"
	StatusStopped  = "stopped"
)

// Task is the state of a browsing task.
type Task struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Output string `json:"output"`
}

// Done reports whether the task reached a terminal status.
func (t *Task) Done() bool {
	return t.Status == StatusFinished || t.Status == StatusFailed || t.Status == StatusStopped
}

// Option configures the Browser Use client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a new Browser Use client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: "https://api.browser-use.com/api/v1",
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) RunTask(ctx context.Context, instructions string) (string, error) {
	payload, err := json.Marshal(map[string]string{"task": instructions})
	if err != nil {
		return "", eris.Wrap(err, "browseruse: marshal task")
	}

	body, statusCode, err := c.do(ctx, http.MethodPost, "/run-task", payload)
	if err != nil {
		return "", eris.Wrap(err, "browseruse: run task")
	}
	if statusCode != http.StatusOK {
		return "", eris.Errorf("browseruse: run task unexpected status %d: %s", statusCode, string(body))
	}

	var result struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", eris.Wrap(err, "browseruse: unmarshal run task response")
	}
	return result.ID, nil
}

func (c *httpClient) GetTask(ctx context.Context, taskID string) (*Task, error) {
	body, statusCode, err := c.do(ctx, http.MethodGet, "/task/"+taskID, nil)
	if err != nil {
		return nil, eris.Wrapf(err, "browseruse: get task %s", taskID)
	}
	if statusCode != http.StatusOK {
		return nil, eris.Errorf("browseruse: get task unexpected status %d: %s", statusCode, string(body))
	}

	var task Task
	if err := json.Unmarshal(body, &task); err != nil {
		return nil, eris.Wrap(err, "browseruse: unmarshal task")
	}
	return &task, nil
}

func (c *httpClient) StopTask(ctx context.Context, taskID string) error {
	body, statusCode, err := c.do(ctx, http.MethodPut, "/stop-task?task_id="+taskID, nil)
	if err != nil {
		return eris.Wrapf(err, "browseruse: stop task %s", taskID)
	}
	if statusCode != http.StatusOK {
		return eris.Errorf("browseruse: stop task unexpected status %d: %s", statusCode, string(body))
	}
	return nil
}

func (c *httpClient) do(ctx context.Context, method, path string, payload []byte) ([]byte, int, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, 0, eris.Wrap(err, "create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, eris.Wrap(err, "read response body")
	}
	return body, resp.StatusCode, nil
}
