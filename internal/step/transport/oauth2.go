package transport

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// OAuth2Config configures the OAuth2 client_credentials transport.
// Credentials arrive as literals; secret references in step config are
// resolved before the transport is constructed.
type OAuth2Config struct {
	// ClientID is the OAuth2 client ID (required)
	ClientID string

	// ClientSecret is the OAuth2 client secret (required)
	ClientSecret string

	// TokenURL is the OAuth2 token endpoint (required)
	TokenURL string

	// Scopes are the OAuth2 scopes (optional)
	Scopes []string

	// HTTP configures the underlying transport
	HTTP Config
}

// Validate checks the configuration is complete.
func (c *OAuth2Config) Validate() error {
	if c.ClientID == "" {
		return fmt.Errorf("client_id is required for oauth2 transport")
	}
	if c.ClientSecret == "" {
		return fmt.Errorf("client_secret is required for oauth2 transport")
	}
	if c.TokenURL == "" {
		return fmt.Errorf("token_url is required for oauth2 transport")
	}
	return nil
}

// OAuth2Transport authenticates requests with the client_credentials flow.
// Token caching and refresh are handled by the oauth2 TokenSource; each
// Execute reads the current token and delegates to the plain transport.
type OAuth2Transport struct {
	inner  *HTTPTransport
	source oauth2.TokenSource
}

// NewOAuth2Transport creates an OAuth2 transport. The token endpoint is
// subject to the same host policy as request URLs. No token is fetched
// until the first Execute.
func NewOAuth2Transport(cfg OAuth2Config) (*OAuth2Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := checkPolicy(cfg.HTTP.Policy, cfg.TokenURL); err != nil {
		return nil, err
	}

	inner := NewHTTPTransport(cfg.HTTP)

	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       cfg.Scopes,
	}

	// Token requests reuse the pooled client, whose timeout bounds them.
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, inner.client)

	return &OAuth2Transport{
		inner:  inner,
		source: cc.TokenSource(tokenCtx),
	}, nil
}

// Name returns "oauth2".
func (t *OAuth2Transport) Name() string {
	return "oauth2"
}

// SetRateLimiter configures rate limiting for this transport.
func (t *OAuth2Transport) SetRateLimiter(limiter RateLimiter) {
	t.inner.SetRateLimiter(limiter)
}

// Execute acquires a token (cached between calls) and sends the request
// with an Authorization header.
func (t *OAuth2Transport) Execute(ctx context.Context, req *Request) (*Response, error) {
	token, err := t.source.Token()
	if err != nil {
		return nil, classifyTokenError(err)
	}

	headers := make(map[string]string, len(req.Headers)+1)
	for k, v := range req.Headers {
		headers[k] = v
	}
	headers["Authorization"] = fmt.Sprintf("%s %s", token.Type(), token.AccessToken)

	authed := *req
	authed.Headers = headers
	return t.inner.Execute(ctx, &authed)
}

// classifyTokenError converts token endpoint failures into TransportError.
func classifyTokenError(err error) *TransportError {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		status := 0
		if retrieveErr.Response != nil {
			status = retrieveErr.Response.StatusCode
		}

		message := "failed to acquire OAuth2 token"
		if retrieveErr.ErrorCode != "" {
			message = fmt.Sprintf("%s: %s", message, retrieveErr.ErrorCode)
			if retrieveErr.ErrorDescription != "" {
				message = fmt.Sprintf("%s (%s)", message, retrieveErr.ErrorDescription)
			}
		}

		retryable := false
		switch retrieveErr.ErrorCode {
		case "temporarily_unavailable", "server_error":
			retryable = true
		default:
			retryable = status >= 500
		}

		return &TransportError{
			Type:       ErrorTypeAuth,
			StatusCode: status,
			Message:    message,
			Retryable:  retryable,
			Cause:      err,
		}
	}

	return &TransportError{
		Type:      ErrorTypeAuth,
		Message:   fmt.Sprintf("failed to acquire OAuth2 token: %v", err),
		Retryable: false,
		Cause:     err,
	}
}
