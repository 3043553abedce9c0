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

// Package daemon composes the store, workflow resolver, step interpreter,
// execution engine, worker pool, and HTTP API into the batond process.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/tombee/baton/internal/config"
	"github.com/tombee/baton/internal/daemon/api"
	"github.com/tombee/baton/internal/daemon/auth"
	"github.com/tombee/baton/internal/engine"
	"github.com/tombee/baton/internal/log"
	"github.com/tombee/baton/internal/netpolicy"
	"github.com/tombee/baton/internal/retry"
	"github.com/tombee/baton/internal/runner"
	"github.com/tombee/baton/internal/secrets"
	"github.com/tombee/baton/internal/step"
	"github.com/tombee/baton/internal/store"
	"github.com/tombee/baton/internal/store/memory"
	"github.com/tombee/baton/internal/store/postgres"
	"github.com/tombee/baton/internal/store/sqlite"
	"github.com/tombee/baton/internal/worker"
	"github.com/tombee/baton/pkg/observability"
	"github.com/tombee/baton/pkg/workflow"
)

// Options carries build metadata into the daemon.
type Options struct {
	Version   string
	Commit    string
	BuildDate string

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Daemon is the assembled batond process.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger

	store    store.Store
	resolver *workflow.DirResolver
	secrets  *secrets.Resolver
	engine   *engine.Engine
	pool     *worker.Pool
	provider *observability.Provider
	server   *http.Server

	watchCancel context.CancelFunc
}

// New assembles a daemon from validated configuration. Nothing is
// started; Start launches the watcher, pool, and HTTP server.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Daemon, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	st, backendName, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	resolver, err := workflow.NewDirResolver(cfg.Workflows.Dir, logger)
	if err != nil {
		closeStore(st)
		return nil, fmt.Errorf("failed to load workflows from %s: %w", cfg.Workflows.Dir, err)
	}

	secretsResolver, err := buildSecrets(cfg)
	if err != nil {
		closeStore(st)
		return nil, err
	}

	// The daemon's own API key may be a secret reference.
	apiKey := cfg.Daemon.Auth.APIKey
	if apiKey != "" {
		apiKey, err = secretsResolver.Expand(ctx, apiKey)
		if err != nil {
			closeStore(st)
			return nil, fmt.Errorf("failed to resolve daemon API key: %w", err)
		}
	}

	provider, err := observability.Setup(ctx, observability.Config{
		Exporter:       cfg.Observability.Tracing.Exporter,
		Endpoint:       cfg.Observability.Tracing.Endpoint,
		SampleRatio:    cfg.Observability.Tracing.SampleRatio,
		Insecure:       cfg.Observability.Tracing.Insecure,
		Headers:        cfg.Observability.Tracing.Headers,
		ServiceVersion: opts.Version,
	})
	if err != nil {
		closeStore(st)
		return nil, fmt.Errorf("failed to set up tracing: %w", err)
	}

	registry := step.NewRegistry(step.Deps{
		HTTP: step.HTTPOptions{
			Timeout: time.Duration(cfg.Daemon.HTTP.TimeoutMs) * time.Millisecond,
			Policy: &netpolicy.Policy{
				Allow: cfg.Daemon.HTTP.Policy.Allow,
				Block: cfg.Daemon.HTTP.Policy.Block,
			},
			RateRPS:     cfg.Daemon.HTTP.RateRPS,
			RateBurst:   cfg.Daemon.HTTP.RateBurst,
			TLSInsecure: cfg.Daemon.HTTP.TLSInsecure,
		},
	})
	interp := step.NewInterpreter(registry, step.InterpreterConfig{
		DefaultTimeout: cfg.Step.DefaultTimeout(),
		Logger:         logger,
	})

	retryBase := retry.Policy{
		MaxAttempts: cfg.Retry.DefaultMaxAttempts,
		BaseDelay:   time.Duration(cfg.Retry.DefaultBaseDelayMs) * time.Millisecond,
		Multiplier:  retry.DefaultPolicy().Multiplier,
		MaxDelay:    time.Duration(cfg.Retry.DefaultMaxDelayMs) * time.Millisecond,
	}

	run := runner.New(st, resolver, interp, runner.Options{
		Secrets: secretsResolver,
		Logger:  logger,
		Retry:   retryBase,
	})

	pool := worker.New(st, run, worker.Config{
		WorkerID:           cfg.Worker.ID,
		Concurrency:        cfg.Worker.Concurrency,
		PollInterval:       cfg.Worker.PollInterval(),
		StaleLockThreshold: cfg.Claim.StaleLockThreshold(),
		Logger:             logger,
	})

	eng := engine.New(st, resolver, logger)

	var authMW *auth.Middleware
	authCfg := auth.Config{
		APIKey: apiKey,
		RateLimit: auth.RateLimitConfig{
			RequestsPerSecond: cfg.Daemon.Auth.RateLimitRPS,
			BurstSize:         cfg.Daemon.Auth.RateLimitBurst,
		},
	}
	if cfg.Daemon.Auth.JWTSecret != "" {
		authCfg.JWT = &auth.JWTConfig{
			Secret:   []byte(cfg.Daemon.Auth.JWTSecret),
			Issuer:   cfg.Daemon.Auth.JWTIssuer,
			Audience: cfg.Daemon.Auth.JWTAudience,
		}
	}
	authMW = auth.NewMiddleware(authCfg)

	handler := api.NewHandler(eng, pool, backendName, api.VersionInfo{
		Version:   opts.Version,
		Commit:    opts.Commit,
		BuildDate: opts.BuildDate,
	})
	router := api.NewRouter(handler, api.RouterConfig{
		Auth:    authMW,
		Metrics: cfg.Observability.MetricsEnabled(),
		Logger:  logger,
	})

	server := &http.Server{
		Addr:              cfg.Daemon.Listen.TCPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &Daemon{
		cfg:      cfg,
		logger:   log.WithComponent(logger, "daemon"),
		store:    st,
		resolver: resolver,
		secrets:  secretsResolver,
		engine:   eng,
		pool:     pool,
		provider: provider,
		server:   server,
	}, nil
}

// Engine exposes the execution engine, mainly for tests.
func (d *Daemon) Engine() *engine.Engine { return d.engine }

// Addr returns the configured listen address.
func (d *Daemon) Addr() string { return d.server.Addr }

// Start launches the workflow watcher, the worker pool, and the HTTP
// server. It returns once the listener is accepting; server errors after
// that are reported on the returned channel.
func (d *Daemon) Start(ctx context.Context) (<-chan error, error) {
	if d.cfg.Workflows.WatchEnabled() {
		watchCtx, cancel := context.WithCancel(context.Background())
		d.watchCancel = cancel
		if err := d.resolver.Watch(watchCtx); err != nil {
			cancel()
			return nil, fmt.Errorf("failed to watch workflow directory: %w", err)
		}
	}

	d.pool.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		var err error
		if d.cfg.Daemon.Listen.TLSCert != "" {
			err = d.server.ListenAndServeTLS(d.cfg.Daemon.Listen.TLSCert, d.cfg.Daemon.Listen.TLSKey)
		} else {
			err = d.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	d.logger.Info("daemon started",
		"addr", d.server.Addr,
		"worker_id", d.pool.WorkerID(),
		"workflows_dir", d.cfg.Workflows.Dir)
	return errCh, nil
}

// Shutdown stops the daemon: the HTTP server stops accepting, the pool
// drains, the watcher and store close, and the tracer flushes. Bounded
// by the configured shutdown timeout.
func (d *Daemon) Shutdown(ctx context.Context) error {
	timeout := d.cfg.Daemon.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var errs []error

	if err := d.server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown: %w", err))
	}

	if err := d.pool.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("pool drain: %w", err))
	}

	if d.watchCancel != nil {
		d.watchCancel()
	}
	if err := d.resolver.Close(); err != nil {
		errs = append(errs, fmt.Errorf("resolver close: %w", err))
	}

	closeStore(d.store)

	if err := d.provider.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("tracer shutdown: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	d.logger.Info("daemon stopped")
	return nil
}

// openStore opens the configured backend and returns it with its name
// for the health endpoint.
func openStore(cfg *config.Config) (store.Store, string, error) {
	switch cfg.Backend.Type {
	case config.BackendMemory:
		return memory.New(), "memory", nil

	case config.BackendSQLite:
		path := cfg.Backend.SQLite.Path
		if path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, "", fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		backend, err := sqlite.New(sqlite.Config{Path: path, WAL: true})
		if err != nil {
			return nil, "", fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return backend, "sqlite", nil

	case config.BackendPostgres:
		backend, err := postgres.New(postgres.Config{
			ConnectionString: cfg.Backend.Postgres.URL,
			MaxOpenConns:     cfg.Backend.Postgres.MaxOpenConns,
			MaxIdleConns:     cfg.Backend.Postgres.MaxIdleConns,
			ConnMaxLifetime:  time.Duration(cfg.Backend.Postgres.ConnMaxLifetimeSeconds) * time.Second,
		})
		if err != nil {
			return nil, "", fmt.Errorf("failed to open postgres store: %w", err)
		}
		return backend, "postgres", nil

	default:
		return nil, "", fmt.Errorf("unknown backend type %q", cfg.Backend.Type)
	}
}

func closeStore(st store.Store) {
	if closer, ok := st.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
}

// buildSecrets wires the secret backends listed in config, in order.
func buildSecrets(cfg *config.Config) (*secrets.Resolver, error) {
	var backends []secrets.Backend
	for _, name := range cfg.Secrets.Backends {
		switch name {
		case "env":
			backends = append(backends, secrets.NewEnvBackend())
		case "keychain":
			backends = append(backends, secrets.NewKeychainBackend())
		case "file":
			backend, err := secrets.NewFileBackend(cfg.Secrets.FilePath, "")
			if err != nil {
				return nil, fmt.Errorf("failed to open secrets file backend: %w", err)
			}
			backends = append(backends, backend)
		default:
			return nil, fmt.Errorf("unknown secrets backend %q", name)
		}
	}
	return secrets.NewResolver(backends...), nil
}
