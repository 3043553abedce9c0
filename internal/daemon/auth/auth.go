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

// Package auth provides authentication middleware for the daemon API.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/tombee/baton/internal/daemon/httputil"
)

// Scopes recognized by the API. A principal with no scopes is granted
// everything; scoped credentials are restricted to what they list.
const (
	ScopeExecutionsRead  = "executions:read"
	ScopeExecutionsWrite = "executions:write"
	ScopeDLQRead         = "dlq:read"
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

const principalContextKey contextKey = "principal"

// Principal is an authenticated API client.
type Principal struct {
	ID     string
	Scopes []string
}

// HasScope reports whether the principal may use the given scope.
// An empty scope list grants everything.
func (p *Principal) HasScope(scope string) bool {
	if p == nil || len(p.Scopes) == 0 {
		return true
	}
	for _, s := range p.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// PrincipalFromContext extracts the authenticated principal from the
// request context.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalContextKey).(*Principal)
	return p, ok
}

// ContextWithPrincipal returns a new context with the given principal.
// This is primarily for testing purposes.
func ContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

// Config contains authentication configuration.
type Config struct {
	// APIKey enables static bearer-token auth when non-empty.
	APIKey string

	// JWT enables token auth when non-nil.
	JWT *JWTConfig

	// RateLimit contains rate limiting configuration.
	RateLimit RateLimitConfig
}

// Middleware authenticates and rate limits API requests.
type Middleware struct {
	apiKey      []byte
	jwt         *JWTConfig
	rateLimiter *RateLimiter
}

// NewMiddleware creates an auth middleware. With neither an API key nor
// a JWT config the middleware only rate limits; the listener validation
// in config restricts that mode to loopback addresses.
func NewMiddleware(cfg Config) *Middleware {
	m := &Middleware{
		jwt:         cfg.JWT,
		rateLimiter: NewRateLimiter(cfg.RateLimit),
	}
	if cfg.APIKey != "" {
		m.apiKey = []byte(cfg.APIKey)
	}
	return m
}

// open reports whether requests are accepted without credentials.
func (m *Middleware) open() bool {
	return m.apiKey == nil && m.jwt == nil
}

// Wrap wraps an http.Handler with authentication and rate limiting.
// Health checks stay reachable without credentials so probes work.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/health" {
			next.ServeHTTP(w, r)
			return
		}

		principal, ok := m.authenticate(r)
		if !ok {
			w.Header().Set("WWW-Authenticate", "Bearer")
			httputil.WriteError(w, http.StatusUnauthorized, "invalid or missing credentials")
			return
		}

		if !m.rateLimiter.Allow(principal.ID) {
			w.Header().Set("Retry-After", "1")
			httputil.WriteError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		ctx := context.WithValue(r.Context(), principalContextKey, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// authenticate resolves the request to a principal. In open mode every
// request maps to a shared anonymous principal keyed by remote host so
// rate limiting still applies per client.
func (m *Middleware) authenticate(r *http.Request) (*Principal, bool) {
	if m.open() {
		host := r.RemoteAddr
		if i := strings.LastIndex(host, ":"); i >= 0 {
			host = host[:i]
		}
		return &Principal{ID: host}, true
	}

	token := extractToken(r)
	if token == "" {
		return nil, false
	}

	if m.jwt != nil {
		if claims, err := ValidateJWT(token, *m.jwt); err == nil {
			id := claims.UserID
			if id == "" {
				id = claims.Subject
			}
			return &Principal{ID: id, Scopes: claims.Scopes}, true
		}
	}

	if m.apiKey != nil {
		if subtle.ConstantTimeCompare([]byte(token), m.apiKey) == 1 {
			// Key the limiter by a digest so logs never see the key.
			sum := sha256.Sum256(m.apiKey)
			return &Principal{ID: "key-" + hex.EncodeToString(sum[:4])}, true
		}
	}

	return nil, false
}

// extractToken pulls the credential from the Authorization or X-API-Key
// header. Query parameter credentials are not supported; they leak into
// access logs.
func extractToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	return ""
}

// RequireScope wraps a handler with a scope check on the authenticated
// principal. Requests without a principal (open mode) pass through.
func RequireScope(scope string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p, ok := PrincipalFromContext(r.Context()); ok && !p.HasScope(scope) {
			httputil.WriteError(w, http.StatusForbidden, "missing required scope: "+scope)
			return
		}
		next.ServeHTTP(w, r)
	})
}
