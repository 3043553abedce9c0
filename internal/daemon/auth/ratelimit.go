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

package auth

import (
	"sync"

	"golang.org/x/time/rate"
)

// RateLimitConfig contains rate limiting configuration.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained request rate per client.
	// Zero or negative disables limiting.
	RequestsPerSecond float64

	// BurstSize is the token bucket capacity. Defaults to 2x the rate
	// (minimum 1) when unset.
	BurstSize int
}

// RateLimiter provides per-client token bucket rate limiting.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

// NewRateLimiter creates a rate limiter. A nil limiter or one with a
// non-positive rate allows everything.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.RequestsPerSecond <= 0 {
		return &RateLimiter{}
	}
	burst := cfg.BurstSize
	if burst <= 0 {
		burst = int(2 * cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
	}
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(cfg.RequestsPerSecond),
		burst:    burst,
	}
}

// Allow reports whether a request from the given client is within its
// rate budget, consuming a token if so. Unauthenticated clients share
// a single bucket keyed by the empty string.
func (rl *RateLimiter) Allow(clientID string) bool {
	if rl == nil || rl.limiters == nil {
		return true
	}

	rl.mu.Lock()
	limiter, ok := rl.limiters[clientID]
	if !ok {
		limiter = rate.NewLimiter(rl.rps, rl.burst)
		rl.limiters[clientID] = limiter
	}
	rl.mu.Unlock()

	return limiter.Allow()
}
