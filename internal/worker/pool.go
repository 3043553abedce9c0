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

// Package worker runs the claim/execute poll loop.
//
// A Pool periodically claims due executions from the store, up to its
// free concurrency, and dispatches each to the runner in its own
// goroutine. Workers are symmetric: any number of pools in any number of
// processes may poll the same store, coordinated only by the claim
// primitive. The pool also owns the stale-claim sweeper that recovers
// locks abandoned by crashed workers.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/baton/internal/log"
	"github.com/tombee/baton/internal/metrics"
	"github.com/tombee/baton/internal/store"
)

// Default pool parameters.
const (
	DefaultConcurrency        = 3
	DefaultPollInterval       = 1 * time.Second
	DefaultStaleLockThreshold = 30 * time.Minute

	// maxSweepInterval caps how rarely the sweeper runs even when the
	// stale threshold is long.
	maxSweepInterval = 5 * time.Minute
)

// Runner executes one claimed execution to its next stopping point.
type Runner interface {
	Run(ctx context.Context, executionID string) error
}

// Config configures a Pool. Zero values use defaults.
type Config struct {
	// WorkerID identifies this pool's claims. Empty generates
	// hostname-pid-<uuid8>.
	WorkerID string

	// Concurrency is the maximum number of in-flight executions
	// (default: 3).
	Concurrency int

	// PollInterval is the gap between claim attempts (default: 1s).
	PollInterval time.Duration

	// StaleLockThreshold is the age at which another worker's abandoned
	// claim is released (default: 30m). Zero disables the sweeper only
	// when negative; zero uses the default.
	StaleLockThreshold time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Pool is a long-lived claim/execute loop.
type Pool struct {
	id             string
	concurrency    int
	pollInterval   time.Duration
	staleThreshold time.Duration

	store  store.ExecutionStore
	runner Runner
	logger *slog.Logger
	tracer trace.Tracer

	mu     sync.Mutex
	active map[string]struct{}

	draining atomic.Bool
	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once
	loopWg   sync.WaitGroup
}

// New creates a Pool over the given store and runner.
func New(st store.ExecutionStore, runner Runner, cfg Config) *Pool {
	id := cfg.WorkerID
	if id == "" {
		id = GenerateWorkerID()
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	staleThreshold := cfg.StaleLockThreshold
	if staleThreshold == 0 {
		staleThreshold = DefaultStaleLockThreshold
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Pool{
		id:             id,
		concurrency:    concurrency,
		pollInterval:   pollInterval,
		staleThreshold: staleThreshold,
		store:          st,
		runner:         runner,
		logger:         log.WithComponent(logger, "worker"),
		tracer:         otel.Tracer("baton/worker"),
		active:         make(map[string]struct{}),
		stopCh:         make(chan struct{}),
	}
}

// GenerateWorkerID builds a hostname-pid-<uuid8> worker identity.
func GenerateWorkerID() string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "baton"
	}
	return fmt.Sprintf("%s-%d-%s", hostname, os.Getpid(), uuid.New().String()[:8])
}

// WorkerID returns the pool's claim identity.
func (p *Pool) WorkerID() string { return p.id }

// Draining reports whether Stop has begun.
func (p *Pool) Draining() bool { return p.draining.Load() }

// ActiveCount returns the number of in-flight executions.
func (p *Pool) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

// Active reports whether the given execution is currently dispatched.
func (p *Pool) Active(executionID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.active[executionID]
	return ok
}

// Start launches the poll and sweep loops. It returns immediately; the
// loops run until Stop or ctx cancellation.
func (p *Pool) Start(ctx context.Context) {
	p.logger.Info("worker pool started",
		log.WorkerIDKey, p.id,
		"concurrency", p.concurrency,
		"poll_interval", p.pollInterval.String())

	p.loopWg.Add(1)
	go func() {
		defer p.loopWg.Done()
		p.pollLoop(ctx)
	}()

	if p.staleThreshold > 0 {
		p.loopWg.Add(1)
		go func() {
			defer p.loopWg.Done()
			p.sweepLoop(ctx)
		}()
	}
}

// Stop drains the pool: no further claims are made, and Stop blocks
// until in-flight executions finish or ctx expires. Executions still
// running at the deadline keep their claims; the sweeper (another
// worker's, or this pool's after restart) recovers them.
func (p *Pool) Stop(ctx context.Context) error {
	p.draining.Store(true)
	p.stopOnce.Do(func() { close(p.stopCh) })

	done := make(chan struct{})
	go func() {
		p.loopWg.Wait()
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped", log.WorkerIDKey, p.id)
		return nil
	case <-ctx.Done():
		remaining := p.ActiveCount()
		if remaining > 0 {
			return fmt.Errorf("drain timeout: %d execution(s) still running", remaining)
		}
		return ctx.Err()
	}
}

// pollLoop claims and dispatches work every poll interval.
func (p *Pool) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	// Claim immediately on startup rather than waiting a full interval.
	p.pollOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.pollOnce(ctx)
		}
	}
}

// pollOnce claims up to the free concurrency and dispatches the batch.
func (p *Pool) pollOnce(ctx context.Context) {
	if p.draining.Load() {
		return
	}

	free := p.concurrency - p.ActiveCount()
	if free <= 0 {
		return
	}

	claimCtx, span := p.tracer.Start(ctx, "pool.claim",
		trace.WithAttributes(
			attribute.String("worker.id", p.id),
			attribute.Int("claim.batch_size", free),
		))
	executions, err := p.store.Claim(claimCtx, p.id, free)
	span.End()
	if err != nil {
		metrics.RecordStoreError("Claim")
		p.logger.Warn("claim failed", log.Error(err))
		return
	}
	metrics.RecordClaim(len(executions))
	if len(executions) == 0 {
		return
	}

	p.logger.Debug("claimed executions",
		log.WorkerIDKey, p.id,
		"count", len(executions))

	for _, exec := range executions {
		p.dispatch(ctx, exec.ID)
	}
}

// dispatch runs one claimed execution in its own goroutine.
func (p *Pool) dispatch(ctx context.Context, executionID string) {
	p.mu.Lock()
	p.active[executionID] = struct{}{}
	p.mu.Unlock()

	p.wg.Add(1)
	metrics.ExecutionStarted()

	go func() {
		defer func() {
			p.mu.Lock()
			delete(p.active, executionID)
			p.mu.Unlock()
			metrics.ExecutionFinished()
			p.wg.Done()
		}()

		if err := p.runner.Run(ctx, executionID); err != nil {
			// The row stays in its last committed state; the stale
			// sweeper will make it claimable again.
			p.logger.Error("execution run failed",
				log.ExecutionIDKey, executionID,
				log.Error(err))
		}
	}()
}

// sweepLoop periodically releases stale claims left by crashed workers.
func (p *Pool) sweepLoop(ctx context.Context) {
	interval := p.staleThreshold / 2
	if interval > maxSweepInterval {
		interval = maxSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			released, err := p.store.ReleaseStaleClaims(ctx, p.staleThreshold)
			if err != nil {
				metrics.RecordStoreError("ReleaseStaleClaims")
				p.logger.Warn("stale claim sweep failed", log.Error(err))
				continue
			}
			if released > 0 {
				metrics.RecordStaleClaimsReleased(released)
				p.logger.Info("released stale claims",
					"count", released,
					"threshold", p.staleThreshold.String())
			}
		}
	}
}
