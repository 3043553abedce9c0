// Package transport provides the outbound HTTP protocols used by the http
// step handler.
//
// The transport layer separates protocol concerns (plain HTTP, OAuth2
// client credentials, AWS SigV4 signing) from step-level concerns (config
// rendering, output shaping, retry scheduling). Transports never retry and
// return a Response for every status code the server produced; deciding
// that a 4xx or 5xx fails the step belongs to the handler, and scheduling
// another attempt belongs to the runner.
package transport

import (
	"context"
)

// Transport executes requests with protocol-specific handling.
type Transport interface {
	// Execute sends a request and returns the server's response. An error
	// means the request never produced a response (connection failure,
	// policy denial, signing failure); it is a *TransportError.
	Execute(ctx context.Context, req *Request) (*Response, error)

	// Name returns the transport identifier (e.g. "http", "oauth2").
	Name() string

	// SetRateLimiter configures rate limiting for this transport.
	// Rate limiting occurs before request execution.
	SetRateLimiter(limiter RateLimiter)
}

// Request is a transport-agnostic request.
type Request struct {
	// Method is the HTTP method (GET, POST, PUT, DELETE, PATCH, HEAD, OPTIONS)
	Method string

	// URL is the full request URL
	URL string

	// Headers are request headers, may be nil
	Headers map[string]string

	// Body is the request body, may be nil
	Body []byte
}

// Response is a transport-agnostic response.
type Response struct {
	// StatusCode is the HTTP status code
	StatusCode int

	// Headers contains response headers
	Headers map[string][]string

	// Body is the response body
	Body []byte
}

// RateLimiter gates transport requests. Implementations block until a
// request is allowed.
type RateLimiter interface {
	// Wait blocks until a request is allowed under the rate limit.
	// Returns an error if the context is cancelled first.
	Wait(ctx context.Context) error
}
