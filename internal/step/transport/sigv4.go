package transport

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// SigV4Config configures the AWS SigV4 transport.
type SigV4Config struct {
	// Service is the AWS service name (e.g. "s3", "execute-api", required)
	Service string

	// Region is the AWS region (e.g. "us-east-1", required)
	Region string

	// HTTP configures the underlying transport
	HTTP Config
}

// Validate checks the configuration is complete.
func (c *SigV4Config) Validate() error {
	if c.Service == "" {
		return fmt.Errorf("service is required for aws_sigv4 transport")
	}
	if c.Region == "" {
		return fmt.Errorf("region is required for aws_sigv4 transport")
	}
	return nil
}

// SigV4Transport signs requests with AWS Signature Version 4. Credentials
// come from the default provider chain (environment, shared config, IMDS)
// and are cached with a capped TTL.
type SigV4Transport struct {
	config      SigV4Config
	inner       *HTTPTransport
	awsConfig   aws.Config
	signer      *v4.Signer
	credentials aws.Credentials
	credExpiry  time.Time
	credMu      sync.RWMutex
	rateLimiter RateLimiter
}

// NewSigV4Transport creates a SigV4 transport and validates the resolved
// credentials with an STS GetCallerIdentity call.
func NewSigV4Transport(cfg SigV4Config) (*SigV4Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, &TransportError{
			Type:      ErrorTypeAuth,
			Message:   fmt.Sprintf("failed to load AWS configuration: %v", err),
			Retryable: false,
			Cause:     err,
		}
	}

	t := &SigV4Transport{
		config:    cfg,
		inner:     NewHTTPTransport(cfg.HTTP),
		awsConfig: awsCfg,
		signer:    v4.NewSigner(),
	}

	if err := t.validateCredentials(ctx); err != nil {
		return nil, err
	}

	return t, nil
}

// Name returns "aws_sigv4".
func (t *SigV4Transport) Name() string {
	return "aws_sigv4"
}

// SetRateLimiter configures rate limiting for this transport.
func (t *SigV4Transport) SetRateLimiter(limiter RateLimiter) {
	t.rateLimiter = limiter
}

// Execute signs and sends a single request. Signing covers the final
// header set, so the request is built here rather than delegated.
func (t *SigV4Transport) Execute(ctx context.Context, req *Request) (*Response, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if err := checkPolicy(t.config.HTTP.Policy, req.URL); err != nil {
		return nil, err
	}
	if err := waitRateLimit(ctx, t.rateLimiter); err != nil {
		return nil, err
	}
	if err := t.refreshCredentials(ctx); err != nil {
		return nil, err
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, &TransportError{
			Type:      ErrorTypeInvalidReq,
			Message:   fmt.Sprintf("failed to build HTTP request: %v", err),
			Retryable: false,
			Cause:     err,
		}
	}

	for k, v := range t.config.HTTP.Headers {
		httpReq.Header.Set(k, v)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if req.Body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	hash := payloadHash(req.Body)
	httpReq.Header.Set("X-Amz-Content-Sha256", hash)

	t.credMu.RLock()
	creds := t.credentials
	t.credMu.RUnlock()

	if err := t.signer.SignHTTP(ctx, creds, httpReq, hash, t.config.Service, t.config.Region, time.Now()); err != nil {
		return nil, &TransportError{
			Type:      ErrorTypeInvalidReq,
			Message:   fmt.Sprintf("failed to sign request: %v", err),
			Retryable: false,
			Cause:     err,
		}
	}

	return doRequest(t.inner.client, httpReq)
}

// validateCredentials calls STS GetCallerIdentity to catch bad credentials
// at construction instead of on the first workflow step.
func (t *SigV4Transport) validateCredentials(ctx context.Context) error {
	if err := t.refreshCredentials(ctx); err != nil {
		return err
	}

	stsClient := sts.NewFromConfig(t.awsConfig)

	validationCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := stsClient.GetCallerIdentity(validationCtx, &sts.GetCallerIdentityInput{}); err != nil {
		return &TransportError{
			Type:      ErrorTypeAuth,
			Message:   fmt.Sprintf("AWS credential validation failed: %v", sanitizeAWSError(err.Error())),
			Retryable: false,
			Cause:     err,
		}
	}

	return nil
}

// refreshCredentials retrieves and caches credentials from the provider
// chain, capping the cache at one hour.
func (t *SigV4Transport) refreshCredentials(ctx context.Context) error {
	t.credMu.Lock()
	defer t.credMu.Unlock()

	if !t.credExpiry.IsZero() && time.Now().Before(t.credExpiry) {
		return nil
	}

	creds, err := t.awsConfig.Credentials.Retrieve(ctx)
	if err != nil {
		return &TransportError{
			Type:      ErrorTypeAuth,
			Message:   fmt.Sprintf("unable to resolve AWS credentials: %v", sanitizeAWSError(err.Error())),
			Retryable: false,
			Cause:     err,
		}
	}

	t.credentials = creds
	expiry := creds.Expires
	if expiry.IsZero() || time.Until(expiry) > time.Hour {
		expiry = time.Now().Add(time.Hour)
	}
	t.credExpiry = expiry

	return nil
}

// payloadHash computes the hex SHA256 of the request body, as required by
// the X-Amz-Content-Sha256 header.
func payloadHash(body []byte) string {
	if body == nil {
		body = []byte{}
	}
	hash := sha256.Sum256(body)
	return hex.EncodeToString(hash[:])
}

// sanitizeAWSError redacts AWS access key IDs from error messages.
func sanitizeAWSError(msg string) string {
	searchPos := 0
	for {
		akiaPos := strings.Index(msg[searchPos:], "AKIA")
		if akiaPos == -1 {
			break
		}
		akiaPos += searchPos

		endPos := akiaPos + 20
		if endPos > len(msg) {
			endPos = len(msg)
		}

		msg = msg[:akiaPos] + "AKIA****" + msg[endPos:]
		searchPos = akiaPos + len("AKIA****")
	}
	return msg
}
