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

package api

import (
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tombee/baton/internal/daemon/auth"
	"github.com/tombee/baton/internal/daemon/httputil"
	"github.com/tombee/baton/internal/log"
)

// RouterConfig controls optional router features.
type RouterConfig struct {
	// Auth authenticates requests and applies per-client rate limits.
	Auth *auth.Middleware

	// Metrics exposes GET /metrics when true.
	Metrics bool

	// Logger receives request logs. Defaults to slog.Default().
	Logger *slog.Logger
}

// NewRouter builds the API handler: routes plus the middleware chain
// (panic recovery outermost, then request logging, then auth).
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = log.WithComponent(logger, "api")

	mux := http.NewServeMux()

	mux.Handle("POST /v1/executions",
		auth.RequireScope(auth.ScopeExecutionsWrite, http.HandlerFunc(h.handleSubmit)))
	mux.Handle("GET /v1/executions",
		auth.RequireScope(auth.ScopeExecutionsRead, http.HandlerFunc(h.handleList)))
	mux.Handle("GET /v1/executions/{id}",
		auth.RequireScope(auth.ScopeExecutionsRead, http.HandlerFunc(h.handleGet)))
	mux.Handle("POST /v1/executions/{id}/cancel",
		auth.RequireScope(auth.ScopeExecutionsWrite, http.HandlerFunc(h.handleCancel)))
	mux.Handle("GET /v1/dlq",
		auth.RequireScope(auth.ScopeDLQRead, http.HandlerFunc(h.handleDLQ)))
	mux.HandleFunc("GET /v1/health", h.handleHealth)
	mux.HandleFunc("GET /v1/version", h.handleVersion)

	if cfg.Metrics {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	var handler http.Handler = mux
	if cfg.Auth != nil {
		handler = cfg.Auth.Wrap(handler)
	}
	handler = requestLogging(logger, handler)
	handler = recoverPanics(logger, handler)
	return handler
}

// statusRecorder captures the response status for logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func requestLogging(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		logger.Info("request completed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Int64(log.DurationKey, time.Since(start).Milliseconds()),
		)
	})
}

func recoverPanics(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("handler panic",
					slog.Any("panic", rec),
					slog.String("path", r.URL.Path),
					slog.String("stack", string(debug.Stack())),
				)
				httputil.WriteError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
