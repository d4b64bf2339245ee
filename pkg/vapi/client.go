// Package vapi provides a client for the Vapi voice agent API.
package vapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
)

// Client defines the Vapi operations used for outbound calling.
type Client interface {
	// CreateCall starts an outbound phone call through a Vapi assistant.
	CreateCall(ctx context.Context, req CreateCallRequest) (*Call, error)
	// GetCall fetches the current state of a call.
	GetCall(ctx context.Context, callID string) (*Call, error)
	// ListCalls fetches calls, passing the query parameters through to the
	// API unchanged.
	ListCalls(ctx context.Context, query url.Values) ([]Call, error)
	// CreateAssistant creates a voice assistant configured with the given
	// system prompt and first message.
	CreateAssistant(ctx context.Context, req CreateAssistantRequest) (*Assistant, error)
	// DeleteAssistant removes an assistant.
	DeleteAssistant(ctx context.Context, assistantID string) error
}

// APIError is returned for non-2xx Vapi responses so callers can inspect the
// upstream status code.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("vapi: status %d: %s", e.StatusCode, e.Body)
}

// CreateCallRequest describes an outbound call.
type CreateCallRequest struct {
	AssistantID   string            `json:"assistantId"`
	PhoneNumberID string            `json:"phoneNumberId"`
	Customer      Customer          `json:"customer"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Customer identifies the callee.
type Customer struct {
	Number string `json:"number"`
	Name   string `json:"name,omitempty"`
}

// Call is the provider's view of a phone call.
type Call struct {
	ID           string     `json:"id"`
	Status       string     `json:"status"`
	EndedReason  string     `json:"endedReason,omitempty"`
	Transcript   string     `json:"transcript,omitempty"`
	Summary      string     `json:"summary,omitempty"`
	RecordingURL string     `json:"recordingUrl,omitempty"`
	Cost         float64    `json:"cost,omitempty"`
	StartedAt    *time.Time `json:"startedAt,omitempty"`
	EndedAt      *time.Time `json:"endedAt,omitempty"`
}

// CreateAssistantRequest configures a new voice assistant.
type CreateAssistantRequest struct {
	Name         string `json:"name"`
	FirstMessage string `json:"firstMessage"`
	SystemPrompt string `json:"-"`
	Model        string `json:"-"`
	Voice        string `json:"-"`
}

// Assistant is a configured voice agent.
type Assistant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Option configures the Vapi client.
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

// NewClient creates a new Vapi client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: "https://api.vapi.ai",
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

func (c *httpClient) CreateCall(ctx context.Context, req CreateCallRequest) (*Call, error) {
	var call Call
	if err := c.doJSON(ctx, http.MethodPost, "/call", req, &call); err != nil {
		return nil, eris.Wrap(err, "vapi: create call")
	}
	return &call, nil
}

func (c *httpClient) GetCall(ctx context.Context, callID string) (*Call, error) {
	var call Call
	if err := c.doJSON(ctx, http.MethodGet, "/call/"+callID, nil, &call); err != nil {
		return nil, eris.Wrapf(err, "vapi: get call %s", callID)
	}
	return &call, nil
}

func (c *httpClient) ListCalls(ctx context.Context, query url.Values) ([]Call, error) {
	path := "/call"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	var calls []Call
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &calls); err != nil {
		return nil, eris.Wrap(err, "vapi: list calls")
	}
	return calls, nil
}

func (c *httpClient) CreateAssistant(ctx context.Context, req CreateAssistantRequest) (*Assistant, error) {
	payload := map[string]any{
		"name":         req.Name,
		"firstMessage": req.FirstMessage,
		"model": map[string]any{
			"provider": "anthropic",
			"model":    req.Model,
			"messages": []map[string]string{
				{"role": "system", "content": req.SystemPrompt},
			},
		},
	}
	if req.Voice != "" {
		payload["voice"] = map[string]string{
			"provider": "11labs",
			"voiceId":  req.Voice,
		}
	}

	var assistant Assistant
	if err := c.doJSON(ctx, http.MethodPost, "/assistant", payload, &assistant); err != nil {
		return nil, eris.Wrap(err, "vapi: create assistant")
	}
	return &assistant, nil
}

func (c *httpClient) DeleteAssistant(ctx context.Context, assistantID string) error {
	if err := c.doJSON(ctx, http.MethodDelete, "/assistant/"+assistantID, nil, nil); err != nil {
		return eris.Wrapf(err, "vapi: delete assistant %s", assistantID)
	}
	return nil
}

// doJSON sends a request with retries on transient failures and decodes the
// JSON response into out when out is non-nil.
func (c *httpClient) doJSON(ctx context.Context, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		payload, err = json.Marshal(in)
		if err != nil {
			return eris.Wrap(err, "marshal request")
		}
	}

	body, statusCode, err := c.retryDo(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return err
	}

	if statusCode < 200 || statusCode >= 300 {
		return &APIError{StatusCode: statusCode, Body: string(body)}
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return eris.Wrap(err, "unmarshal response")
		}
	}
	return nil
}

// retryableStatusCode returns true if the HTTP status code should trigger a retry.
func retryableStatusCode(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusInternalServerError ||
		code == http.StatusBadGateway ||
		code == http.StatusServiceUnavailable
}

// retryDo executes an HTTP request with exponential backoff retries on
// transient failures (429, 500, 502, 503).
func (c *httpClient) retryDo(ctx context.Context, method, url string, payload []byte) ([]byte, int, error) {
	const maxAttempts = 3
	backoff := 1 * time.Second

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		var reqBody io.Reader
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
		if err != nil {
			return nil, 0, eris.Wrap(err, "create request")
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			if attempt < maxAttempts {
				select {
				case <-ctx.Done():
					return nil, 0, ctx.Err()
				case <-time.After(backoff):
				}
				backoff *= 2
				continue
			}
			return nil, 0, lastErr
		}

		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, resp.StatusCode, eris.Wrap(readErr, "read response body")
		}

		if retryableStatusCode(resp.StatusCode) && attempt < maxAttempts {
			lastErr = eris.Errorf("status %d: %s", resp.StatusCode, string(body))
			select {
			case <-ctx.Done():
				return nil, 0, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			continue
		}

		return body, resp.StatusCode, nil
	}

	return nil, 0, lastErr
}
