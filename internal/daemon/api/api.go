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

// Package api provides the HTTP API for the daemon.
package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/tombee/baton/internal/daemon/httputil"
	"github.com/tombee/baton/internal/engine"
	"github.com/tombee/baton/internal/store"
	batonerrors "github.com/tombee/baton/pkg/errors"
)

// VersionInfo identifies the running build.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	BuildDate string `json:"build_date,omitempty"`
}

// PoolStatus exposes worker pool state for health checks and submit
// backpressure.
type PoolStatus interface {
	ActiveCount() int
	Draining() bool
}

// Handler serves the execution API.
type Handler struct {
	engine  *engine.Engine
	pool    PoolStatus
	backend string
	version VersionInfo
}

// NewHandler creates a Handler over the engine. pool may be nil when the
// process serves the API without running a worker pool.
func NewHandler(eng *engine.Engine, pool PoolStatus, backend string, version VersionInfo) *Handler {
	return &Handler{
		engine:  eng,
		pool:    pool,
		backend: backend,
		version: version,
	}
}

// SubmitRequest is the request body for submitting an execution.
type SubmitRequest struct {
	Workflow       string         `json:"workflow"`
	Version        int            `json:"version,omitempty"`
	Input          map[string]any `json:"input,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
}

// SubmitResponse is the response body for a submitted execution.
type SubmitResponse struct {
	ExecutionID string `json:"execution_id"`
	Status      string `json:"status"`
}

// handleSubmit handles POST /v1/executions.
func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if h.pool != nil && h.pool.Draining() {
		w.Header().Set("Retry-After", "10")
		httputil.WriteError(w, http.StatusServiceUnavailable, "daemon is shutting down gracefully")
		return
	}

	var req SubmitRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	exec, created, err := h.engine.Submit(r.Context(), engine.SubmitRequest{
		WorkflowName:    req.Workflow,
		WorkflowVersion: req.Version,
		Input:           req.Input,
		IdempotencyKey:  req.IdempotencyKey,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}

	// Replays of an earlier submission return 200; new work returns 202.
	status := http.StatusAccepted
	if !created {
		status = http.StatusOK
	}
	httputil.WriteJSON(w, status, SubmitResponse{
		ExecutionID: exec.ID,
		Status:      string(exec.Status),
	})
}

// handleList handles GET /v1/executions.
func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	filter := store.ListFilter{
		WorkflowName: r.URL.Query().Get("workflow"),
	}

	if s := r.URL.Query().Get("status"); s != "" {
		status := store.Status(s)
		if !status.IsValid() {
			httputil.WriteError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", s))
			return
		}
		filter.Status = status
	}

	if s := r.URL.Query().Get("limit"); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil || limit < 0 {
			httputil.WriteError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		filter.Limit = limit
	}

	if s := r.URL.Query().Get("offset"); s != "" {
		offset, err := strconv.Atoi(s)
		if err != nil || offset < 0 {
			httputil.WriteError(w, http.StatusBadRequest, "offset must be a non-negative integer")
			return
		}
		filter.Offset = offset
	}

	executions, err := h.engine.List(r.Context(), filter)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"executions": executions,
		"count":      len(executions),
	})
}

// handleGet handles GET /v1/executions/{id}.
func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	includeLogs := r.URL.Query().Get("logs") == "1"

	detail, err := h.engine.Get(r.Context(), r.PathValue("id"), includeLogs)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, detail)
}

// handleCancel handles POST /v1/executions/{id}/cancel.
func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	exec, err := h.engine.Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, exec)
}

// handleDLQ handles GET /v1/dlq.
func (h *Handler) handleDLQ(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			httputil.WriteError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	entries, err := h.engine.DLQ(r.Context(), limit)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

// handleHealth handles GET /v1/health.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":  "ok",
		"backend": h.backend,
		"version": h.version.Version,
	}
	if h.pool != nil {
		resp["active_executions"] = h.pool.ActiveCount()
		if h.pool.Draining() {
			resp["status"] = "draining"
		}
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// handleVersion handles GET /v1/version.
func (h *Handler) handleVersion(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.version)
}

// writeEngineError maps engine errors to HTTP status codes.
func writeEngineError(w http.ResponseWriter, err error) {
	var (
		notFound   *batonerrors.NotFoundError
		conflict   *batonerrors.ConflictError
		validation *batonerrors.ValidationError
	)
	switch {
	case errors.As(err, &notFound):
		httputil.WriteError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &conflict):
		httputil.WriteError(w, http.StatusConflict, err.Error())
	case errors.As(err, &validation):
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
	default:
		httputil.WriteError(w, http.StatusInternalServerError, err.Error())
	}
}
