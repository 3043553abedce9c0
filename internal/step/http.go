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

package step

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tombee/baton/internal/netpolicy"
	"github.com/tombee/baton/internal/step/transport"
	"github.com/tombee/baton/internal/store"
	"github.com/tombee/baton/pkg/workflow"
)

// HTTPOptions configures the http step handler.
type HTTPOptions struct {
	// Timeout bounds each outbound request (default: 30s)
	Timeout time.Duration

	// Headers are applied to every outbound request
	Headers map[string]string

	// Policy restricts which hosts steps may contact. Nil allows all.
	Policy *netpolicy.Policy

	// RateRPS and RateBurst configure a limiter shared by all transports
	// this handler creates. Zero disables limiting.
	RateRPS   float64
	RateBurst int

	// TLSInsecure disables TLS certificate validation. Development only.
	TLSInsecure bool
}

// httpHandler performs outbound requests through the transport layer. The
// step's auth config selects the transport; transports are cached per auth
// config so tokens and signing credentials survive across steps.
type httpHandler struct {
	opts    HTTPOptions
	limiter transport.RateLimiter

	mu         sync.Mutex
	transports map[string]transport.Transport
}

func newHTTPHandler(opts HTTPOptions) *httpHandler {
	h := &httpHandler{
		opts:       opts,
		transports: make(map[string]transport.Transport),
	}
	if l := transport.NewLimiter(opts.RateRPS, opts.RateBurst); l != nil {
		h.limiter = l
	}
	return h
}

func (h *httpHandler) Type() string { return "http" }

func (h *httpHandler) Execute(ctx context.Context, step *workflow.Step, ec *Context) (*Result, error) {
	rawURL, ok := step.Config["url"].(string)
	if !ok || rawURL == "" {
		return nil, fmt.Errorf("http step requires a url")
	}

	method, _ := step.Config["method"].(string)
	method = strings.ToUpper(method)
	if method == "" {
		method = "GET"
	}

	body, err := encodeBody(step.Config["body"])
	if err != nil {
		return nil, err
	}

	tr, err := h.transportFor(step.Config)
	if err != nil {
		return nil, err
	}

	resp, err := tr.Execute(ctx, &transport.Request{
		Method:  method,
		URL:     rawURL,
		Headers: stringHeaders(step.Config["headers"]),
		Body:    body,
	})
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP request failed with status %d", resp.StatusCode)
	}

	// JSON bodies land in state as structured data, anything else as the
	// raw string.
	var data any
	if err := json.Unmarshal(resp.Body, &data); err != nil {
		data = string(resp.Body)
	}

	return &Result{
		Status: store.StatusCompleted,
		Output: map[string]any{
			"statusCode": resp.StatusCode,
			"data":       data,
		},
		NextStep: step.Next,
	}, nil
}

// transportFor returns the transport for the step's auth config, creating
// and caching it on first use.
func (h *httpHandler) transportFor(config map[string]any) (transport.Transport, error) {
	auth, _ := config["auth"].(map[string]any)
	key, err := authKey(auth)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	if tr, ok := h.transports[key]; ok {
		h.mu.Unlock()
		return tr, nil
	}
	h.mu.Unlock()

	// Construction may do network work (token endpoints, STS), so it
	// happens outside the lock. A racing step keeps the first entry.
	tr, err := h.buildTransport(auth)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if existing, ok := h.transports[key]; ok {
		return existing, nil
	}
	h.transports[key] = tr
	return tr, nil
}

func (h *httpHandler) buildTransport(auth map[string]any) (transport.Transport, error) {
	base := transport.Config{
		Timeout:     h.opts.Timeout,
		Headers:     h.opts.Headers,
		Policy:      h.opts.Policy,
		TLSInsecure: h.opts.TLSInsecure,
	}

	var (
		tr  transport.Transport
		err error
	)

	authType, _ := auth["type"].(string)
	switch authType {
	case "":
		tr = transport.NewHTTPTransport(base)

	case "oauth2":
		tr, err = transport.NewOAuth2Transport(transport.OAuth2Config{
			ClientID:     stringValue(auth["clientId"]),
			ClientSecret: stringValue(auth["clientSecret"]),
			TokenURL:     stringValue(auth["tokenUrl"]),
			Scopes:       stringSlice(auth["scopes"]),
			HTTP:         base,
		})

	case "aws_sigv4":
		tr, err = transport.NewSigV4Transport(transport.SigV4Config{
			Service: stringValue(auth["service"]),
			Region:  stringValue(auth["region"]),
			HTTP:    base,
		})

	default:
		return nil, fmt.Errorf("unsupported auth type: %q", authType)
	}
	if err != nil {
		return nil, err
	}

	if h.limiter != nil {
		tr.SetRateLimiter(h.limiter)
	}
	return tr, nil
}

// authKey derives a stable cache key from the auth config. Map keys
// marshal in sorted order, so equal configs hash equally.
func authKey(auth map[string]any) (string, error) {
	if len(auth) == 0 {
		return "", nil
	}
	raw, err := json.Marshal(auth)
	if err != nil {
		return "", fmt.Errorf("invalid auth config: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:8]), nil
}

// encodeBody converts the configured body into bytes: strings pass
// through, structured values are JSON-encoded.
func encodeBody(v any) ([]byte, error) {
	switch body := v.(type) {
	case nil:
		return nil, nil
	case string:
		return []byte(body), nil
	case []byte:
		return body, nil
	default:
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		return raw, nil
	}
}

func stringHeaders(v any) map[string]string {
	m, ok := v.(map[string]any)
	if !ok || len(m) == 0 {
		return nil
	}
	headers := make(map[string]string, len(m))
	for k, val := range m {
		if s, ok := val.(string); ok {
			headers[k] = s
		} else {
			headers[k] = fmt.Sprint(val)
		}
	}
	return headers
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}

func stringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
