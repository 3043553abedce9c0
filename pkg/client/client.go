// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package client is a Go client for the baton daemon API.
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
	"strconv"
	"time"

	"github.com/tombee/baton/internal/store"
)

// DefaultBaseURL is where a locally running daemon listens.
const DefaultBaseURL = "http://127.0.0.1:7720"

// Client talks to the baton daemon API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.httpClient = client }
}

// WithAPIKey sets the bearer token sent with every request.
func WithAPIKey(apiKey string) Option {
	return func(c *Client) { c.apiKey = apiKey }
}

// New creates a client for the daemon at baseURL. An empty baseURL uses
// DefaultBaseURL.
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{baseURL: baseURL}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return c
}

// APIError is a non-2xx response from the daemon.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("daemon returned %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the daemon.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// IsConflict reports whether err is a 409 from the daemon.
func IsConflict(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict
}

// SubmitRequest is the body for submitting an execution.
type SubmitRequest struct {
	Workflow       string         `json:"workflow"`
	Version        int            `json:"version,omitempty"`
	Input          map[string]any `json:"input,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
}

// SubmitResponse is the daemon's reply to a submission.
type SubmitResponse struct {
	ExecutionID string `json:"execution_id"`
	Status      string `json:"status"`

	// Created is false when an idempotency key matched an earlier
	// submission.
	Created bool `json:"-"`
}

// Submit enqueues an execution.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (*SubmitResponse, error) {
	var out SubmitResponse
	status, err := c.doJSON(ctx, http.MethodPost, "/v1/executions", req, &out)
	if err != nil {
		return nil, err
	}
	out.Created = status == http.StatusAccepted
	return &out, nil
}

// ExecutionDetail is an execution with its audit trail.
type ExecutionDetail struct {
	Execution   *store.Execution    `json:"execution"`
	StepResults []*store.StepResult `json:"step_results"`
	Logs        []*store.LogEntry   `json:"logs,omitempty"`
}

// Get fetches an execution with its step results.
func (c *Client) Get(ctx context.Context, id string, includeLogs bool) (*ExecutionDetail, error) {
	path := "/v1/executions/" + url.PathEscape(id)
	if includeLogs {
		path += "?logs=1"
	}
	var out ExecutionDetail
	if _, err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListOptions filters List results.
type ListOptions struct {
	Status   string
	Workflow string
	Limit    int
	Offset   int
}

// ListResponse is the daemon's reply to a list request.
type ListResponse struct {
	Executions []*store.Execution `json:"executions"`
	Count      int                `json:"count"`
}

// List fetches executions, newest first.
func (c *Client) List(ctx context.Context, opts ListOptions) (*ListResponse, error) {
	q := url.Values{}
	if opts.Status != "" {
		q.Set("status", opts.Status)
	}
	if opts.Workflow != "" {
		q.Set("workflow", opts.Workflow)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}
	path := "/v1/executions"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out ListResponse
	if _, err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Cancel requests cooperative cancellation of an execution.
func (c *Client) Cancel(ctx context.Context, id string) (*store.Execution, error) {
	var out store.Execution
	path := "/v1/executions/" + url.PathEscape(id) + "/cancel"
	if _, err := c.doJSON(ctx, http.MethodPost, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DLQResponse is the daemon's reply to a dead letter list request.
type DLQResponse struct {
	Entries []*store.DLQEntry `json:"entries"`
	Count   int               `json:"count"`
}

// DLQ fetches dead letter entries, newest first.
func (c *Client) DLQ(ctx context.Context, limit int) (*DLQResponse, error) {
	path := "/v1/dlq"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out DLQResponse
	if _, err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// HealthResponse is the daemon's health report.
type HealthResponse struct {
	Status           string `json:"status"`
	Backend          string `json:"backend"`
	Version          string `json:"version"`
	ActiveExecutions int    `json:"active_executions"`
}

// Health checks whether the daemon is reachable.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var out HealthResponse
	if _, err := c.doJSON(ctx, http.MethodGet, "/v1/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VersionResponse is the daemon's build metadata.
type VersionResponse struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	BuildDate string `json:"build_date,omitempty"`
}

// Version fetches the daemon's build metadata.
func (c *Client) Version(ctx context.Context) (*VersionResponse, error) {
	var out VersionResponse
	if _, err := c.doJSON(ctx, http.MethodGet, "/v1/version", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// WaitOptions controls Wait polling.
type WaitOptions struct {
	// PollInterval between status checks. Default: 1s.
	PollInterval time.Duration
}

// Wait polls until the execution reaches a terminal status or ctx ends.
func (c *Client) Wait(ctx context.Context, id string, opts WaitOptions) (*ExecutionDetail, error) {
	interval := opts.PollInterval
	if interval <= 0 {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		detail, err := c.Get(ctx, id, false)
		if err != nil {
			return nil, err
		}
		if detail.Execution.Status.IsTerminal() {
			return detail, nil
		}

		select {
		case <-ctx.Done():
			return detail, ctx.Err()
		case <-ticker.C:
		}
	}
}

// doJSON performs a request with an optional JSON body, decodes the JSON
// response into out when non-nil, and returns the status code.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return resp.StatusCode, decodeAPIError(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err == nil {
		var body struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &body) == nil && body.Error != "" {
			apiErr.Message = body.Error
		} else {
			apiErr.Message = string(data)
		}
	}
	return apiErr
}
