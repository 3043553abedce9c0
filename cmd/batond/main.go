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

// Command batond is the baton workflow daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/tombee/baton/internal/config"
	"github.com/tombee/baton/internal/daemon"
	"github.com/tombee/baton/internal/log"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	var (
		configPath   = flag.String("config", "", "Path to config file")
		backendType  = flag.String("backend", "", "Storage backend (memory, sqlite, postgres)")
		sqlitePath   = flag.String("sqlite-path", "", "SQLite database path")
		postgresURL  = flag.String("postgres-url", "", "PostgreSQL connection URL")
		listenAddr   = flag.String("listen", "", "TCP address to listen on")
		workflowsDir = flag.String("workflows-dir", "", "Directory for workflow files")
		concurrency  = flag.Int("concurrency", 0, "Maximum executions processed in parallel")
		workerID     = flag.String("worker-id", "", "Stable worker identity for claims")
		tlsCert      = flag.String("tls-cert", "", "Path to TLS certificate file")
		tlsKey       = flag.String("tls-key", "", "Path to TLS private key file")
		allowRemote  = flag.Bool("allow-remote", false, "Allow binding to non-localhost addresses (SECURITY WARNING)")
		showVersion  = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("batond %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	logger := log.New(log.FromEnv())
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("Failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	if *backendType != "" {
		cfg.Backend.Type = *backendType
	}
	if *sqlitePath != "" {
		cfg.Backend.SQLite.Path = *sqlitePath
	}
	if *postgresURL != "" {
		cfg.Backend.Postgres.URL = *postgresURL
	}
	if *listenAddr != "" {
		cfg.Daemon.Listen.TCPAddr = *listenAddr
	}
	if *workflowsDir != "" {
		cfg.Workflows.Dir = *workflowsDir
	}
	if *concurrency > 0 {
		cfg.Worker.Concurrency = *concurrency
	}
	if *workerID != "" {
		cfg.Worker.ID = *workerID
	}
	if *tlsCert != "" {
		cfg.Daemon.Listen.TLSCert = *tlsCert
	}
	if *tlsKey != "" {
		cfg.Daemon.Listen.TLSKey = *tlsKey
	}
	if *allowRemote {
		cfg.Daemon.Listen.AllowRemote = true
		logger.Warn("--allow-remote is enabled. The daemon will accept connections from any network address. Ensure you have authentication and TLS configured before exposing it.")
	}

	if err := cfg.Validate(); err != nil {
		logger.Error("Invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d, err := daemon.New(ctx, cfg, daemon.Options{
		Version:   version,
		Commit:    commit,
		BuildDate: buildDate,
		Logger:    logger,
	})
	if err != nil {
		logger.Error("Failed to create daemon", slog.Any("error", err))
		os.Exit(1)
	}

	errCh, err := d.Start(ctx)
	if err != nil {
		logger.Error("Failed to start daemon", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("Daemon started", slog.String("addr", d.Addr()))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("Shutting down", slog.String("signal", sig.String()))
		cancel()
		if err := d.Shutdown(context.Background()); err != nil {
			logger.Error("Error during shutdown", slog.Any("error", err))
			os.Exit(1)
		}
	case err := <-errCh:
		if err != nil {
			logger.Error("Daemon error", slog.Any("error", err))
			os.Exit(1)
		}
	}
}
