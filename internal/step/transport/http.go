package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tombee/baton/internal/netpolicy"
)

// DefaultTimeout is the per-request timeout when the config does not set
// one. The step deadline still applies on top through the context.
const DefaultTimeout = 30 * time.Second

// Config configures the plain HTTP transport.
type Config struct {
	// Timeout is the request timeout (default: 30s)
	Timeout time.Duration

	// Headers are default headers applied to all requests
	Headers map[string]string

	// Policy restricts which hosts may be contacted. Nil allows all.
	Policy *netpolicy.Policy

	// TLSInsecure disables TLS certificate validation. Development only.
	TLSInsecure bool
}

// HTTPTransport sends requests over plain HTTP/HTTPS.
type HTTPTransport struct {
	config      Config
	client      *http.Client
	rateLimiter RateLimiter
}

// NewHTTPTransport creates an HTTP transport with pooled connections.
func NewHTTPTransport(cfg Config) *HTTPTransport {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	client := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,

			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: timeout,
			ExpectContinueTimeout: 1 * time.Second,

			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: cfg.TLSInsecure,
			},
		},
	}

	return &HTTPTransport{config: cfg, client: client}
}

// Name returns "http".
func (t *HTTPTransport) Name() string {
	return "http"
}

// SetRateLimiter configures rate limiting for this transport.
func (t *HTTPTransport) SetRateLimiter(limiter RateLimiter) {
	t.rateLimiter = limiter
}

// Execute sends a single HTTP request. The response is returned whatever
// its status code; only transport-level failures produce an error.
func (t *HTTPTransport) Execute(ctx context.Context, req *Request) (*Response, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if err := checkPolicy(t.config.Policy, req.URL); err != nil {
		return nil, err
	}
	if err := waitRateLimit(ctx, t.rateLimiter); err != nil {
		return nil, err
	}

	httpReq, err := t.buildHTTPRequest(ctx, req)
	if err != nil {
		return nil, &TransportError{
			Type:      ErrorTypeInvalidReq,
			Message:   fmt.Sprintf("failed to build HTTP request: %s", err.Error()),
			Retryable: false,
			Cause:     err,
		}
	}

	return doRequest(t.client, httpReq)
}

func (t *HTTPTransport) buildHTTPRequest(ctx context.Context, req *Request) (*http.Request, error) {
	var bodyReader io.Reader
	if req.Body != nil {
		bodyReader = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bodyReader)
	if err != nil {
		return nil, err
	}

	// Default headers from config, overridden by request headers
	for key, value := range t.config.Headers {
		httpReq.Header.Set(key, value)
	}
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}

	if req.Body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	return httpReq, nil
}

// doRequest executes a built request and converts the outcome into the
// transport types. Shared by all transports in this package.
func doRequest(client *http.Client, httpReq *http.Request) (*Response, error) {
	httpResp, err := client.Do(httpReq)
	if err != nil {
		return nil, classifyHTTPError(err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &TransportError{
			Type:      ErrorTypeConnection,
			Message:   fmt.Sprintf("failed to read response body: %s", err.Error()),
			Retryable: true,
			Cause:     err,
		}
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Headers:    httpResp.Header,
		Body:       body,
	}, nil
}

// validateRequest checks method and URL before any network activity.
func validateRequest(req *Request) error {
	if req.Method == "" {
		return &TransportError{
			Type:      ErrorTypeInvalidReq,
			Message:   "invalid request: method is required",
			Retryable: false,
		}
	}

	validMethods := map[string]bool{
		"GET": true, "POST": true, "PUT": true, "DELETE": true,
		"PATCH": true, "HEAD": true, "OPTIONS": true,
	}
	if !validMethods[req.Method] {
		return &TransportError{
			Type:      ErrorTypeInvalidReq,
			Message:   fmt.Sprintf("invalid request: invalid HTTP method: %q", req.Method),
			Retryable: false,
		}
	}

	if req.URL == "" {
		return &TransportError{
			Type:      ErrorTypeInvalidReq,
			Message:   "invalid request: URL is required",
			Retryable: false,
		}
	}
	if _, err := url.Parse(req.URL); err != nil {
		return &TransportError{
			Type:      ErrorTypeInvalidReq,
			Message:   fmt.Sprintf("invalid request: invalid URL: %s", err.Error()),
			Retryable: false,
			Cause:     err,
		}
	}

	return nil
}

// checkPolicy enforces the outbound host policy before dialing.
func checkPolicy(policy *netpolicy.Policy, rawURL string) error {
	if policy == nil {
		return nil
	}
	if err := policy.CheckURL(rawURL); err != nil {
		return &TransportError{
			Type:      ErrorTypePolicy,
			Message:   err.Error(),
			Retryable: false,
			Cause:     err,
		}
	}
	return nil
}

// waitRateLimit blocks on the limiter when one is configured.
func waitRateLimit(ctx context.Context, limiter RateLimiter) error {
	if limiter == nil {
		return nil
	}
	if err := limiter.Wait(ctx); err != nil {
		return &TransportError{
			Type:      ErrorTypeCancelled,
			Message:   "rate limit wait cancelled",
			Retryable: false,
			Cause:     err,
		}
	}
	return nil
}

// classifyHTTPError converts client.Do failures into TransportError types.
func classifyHTTPError(err error) *TransportError {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &TransportError{
			Type:      ErrorTypeCancelled,
			Message:   "request cancelled",
			Retryable: false,
			Cause:     err,
		}
	}

	if isTimeoutError(err) {
		return &TransportError{
			Type:      ErrorTypeTimeout,
			Message:   "request timeout",
			Retryable: true,
			Cause:     err,
		}
	}

	if isConnectionError(err) {
		return &TransportError{
			Type:      ErrorTypeConnection,
			Message:   "connection error",
			Retryable: true,
			Cause:     err,
		}
	}

	return &TransportError{
		Type:      ErrorTypeConnection,
		Message:   fmt.Sprintf("HTTP error: %s", err.Error()),
		Retryable: true,
		Cause:     err,
	}
}

func isTimeoutError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isConnectionError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	errMsg := strings.ToLower(err.Error())
	connectionKeywords := []string{
		"connection refused",
		"connection reset",
		"no such host",
		"network unreachable",
		"eof",
	}
	for _, keyword := range connectionKeywords {
		if strings.Contains(errMsg, keyword) {
			return true
		}
	}

	return false
}
