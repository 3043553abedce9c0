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

// Package retry computes the backoff schedule between execution attempts.
package retry

import (
	"math"
	"math/rand"
	"time"

	"github.com/tombee/baton/pkg/workflow"
)

// jitterFraction bounds the random jitter added to each delay, as a
// fraction of the capped delay.
const jitterFraction = 0.2

// Policy controls exponential backoff between attempts of an execution.
type Policy struct {
	// MaxAttempts is the total number of attempts before an execution is
	// dead-lettered (default: 3).
	MaxAttempts int

	// BaseDelay is the delay after the first failed attempt (default: 1s).
	BaseDelay time.Duration

	// Multiplier is the exponential growth factor (default: 2.0).
	Multiplier float64

	// MaxDelay caps the delay before jitter is applied (default: 30s).
	MaxDelay time.Duration
}

// DefaultPolicy returns the policy applied when a workflow declares no
// retry block.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   1 * time.Second,
		Multiplier:  2.0,
		MaxDelay:    30 * time.Second,
	}
}

// FromWorkflow converts a workflow retry block to a runtime policy. A nil
// block uses the defaults, and non-positive fields inherit their default
// values individually.
func FromWorkflow(p *workflow.RetryPolicy) Policy {
	return DefaultPolicy().Merge(p)
}

// Merge overlays a workflow retry block onto p. Fields the block omits
// (non-positive) keep p's values, so a daemon-configured base policy
// supplies the fallbacks for steps that declare a partial block.
func (p Policy) Merge(wp *workflow.RetryPolicy) Policy {
	if wp == nil {
		return p
	}
	if wp.MaxAttempts > 0 {
		p.MaxAttempts = wp.MaxAttempts
	}
	if wp.BaseDelayMs > 0 {
		p.BaseDelay = time.Duration(wp.BaseDelayMs) * time.Millisecond
	}
	if wp.BackoffMultiplier > 0 {
		p.Multiplier = wp.BackoffMultiplier
	}
	if wp.MaxDelayMs > 0 {
		p.MaxDelay = time.Duration(wp.MaxDelayMs) * time.Millisecond
	}
	return p
}

// Exhausted reports whether a failure on the given 1-based attempt leaves
// no attempts remaining.
func (p Policy) Exhausted(attempt int) bool {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultPolicy().MaxAttempts
	}
	return attempt >= maxAttempts
}

// Delay returns the backoff after a failed attempt. attempt is 1-based;
// values below 1 are treated as 1.
//
// Formula: delay = min(BaseDelay * Multiplier^(attempt-1), MaxDelay), plus
// uniform jitter in [0, 20%) of the capped delay, truncated to whole
// milliseconds. Jitter spreads out retries that would otherwise fire in
// lockstep after a shared outage. Pass a seeded *rand.Rand for a
// deterministic schedule; nil uses the shared source.
func (p Policy) Delay(attempt int, rng *rand.Rand) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	multiplier := p.Multiplier
	if multiplier <= 0 {
		multiplier = DefaultPolicy().Multiplier
	}

	delay := float64(p.BaseDelay.Milliseconds()) * math.Pow(multiplier, float64(attempt-1))
	if maxDelay := float64(p.MaxDelay.Milliseconds()); maxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}

	jitter := randFloat(rng) * jitterFraction * delay
	return time.Duration(math.Floor(delay+jitter)) * time.Millisecond
}

func randFloat(rng *rand.Rand) float64 {
	if rng != nil {
		return rng.Float64()
	}
	return rand.Float64()
}
