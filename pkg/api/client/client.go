package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client provides typed access to the repodeploy API for interactive tools.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// New constructs a Client pointing at the provided API base URL.
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = "http://localhost:3000"
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	cli := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// APIError represents an error response from the API.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api request failed with status %d", e.Status)
	}
	return fmt.Sprintf("api request failed (%d): %s", e.Status, e.Message)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

func (c *Client) do(ctx context.Context, method, path string, body any, v any) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	endpoint := c.baseURL + path
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return extractError(resp.StatusCode, resp.Body)
	}

	if v == nil {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func extractError(status int, body io.Reader) APIError {
	apiErr := APIError{Status: status}
	if body == nil {
		return apiErr
	}
	var payload struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	data, err := io.ReadAll(body)
	if err != nil || len(data) == 0 {
		return apiErr
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		apiErr.Message = strings.TrimSpace(string(data))
		return apiErr
	}
	apiErr.Message = strings.TrimSpace(payload.Error)
	apiErr.Code = payload.Code
	return apiErr
}

// StartResult is returned when a deployment is accepted.
type StartResult struct {
	ID      string  `json:"id"`
	LiveURL *string `json:"liveUrl"`
	Status  string  `json:"status"`
}

// Deployment mirrors the status endpoint payload.
type Deployment struct {
	ID           string    `json:"id"`
	RepoURL      string    `json:"repo_url"`
	Status       string    `json:"status"`
	LiveURL      *string   `json:"live_url"`
	BuildLogs    []string  `json:"build_logs"`
	ErrorMessage *string   `json:"error_message"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Terminal reports whether the deployment has finished.
func (d Deployment) Terminal() bool {
	return d.Status == "deployed" || d.Status == "failed"
}

// Deploy submits a repository URL for deployment.
func (c *Client) Deploy(ctx context.Context, repoURL string) (StartResult, error) {
	body := map[string]string{"repoUrl": repoURL}
	var resp StartResult
	if err := c.do(ctx, http.MethodPost, "/api/deploy", body, &resp); err != nil {
		return StartResult{}, err
	}
	return resp, nil
}

// Status fetches the current deployment record.
func (c *Client) Status(ctx context.Context, id string) (Deployment, error) {
	path := fmt.Sprintf("/api/status/%s", url.PathEscape(id))
	var deployment Deployment
	if err := c.do(ctx, http.MethodGet, path, nil, &deployment); err != nil {
		return Deployment{}, err
	}
	return deployment, nil
}

// Watch polls the deployment until it is terminal or ctx ends. onUpdate receives every
// snapshot whose logs or status changed.
func (c *Client) Watch(ctx context.Context, id string, interval time.Duration, onUpdate func(Deployment)) (Deployment, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last Deployment
	for {
		current, err := c.Status(ctx, id)
		if err != nil {
			return last, err
		}
		if onUpdate != nil && (current.Status != last.Status || len(current.BuildLogs) != len(last.BuildLogs)) {
			onUpdate(current)
		}
		last = current
		if current.Terminal() {
			return current, nil
		}
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-ticker.C:
		}
	}
}
