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

package step

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tombee/baton/internal/store"
	"github.com/tombee/baton/pkg/workflow"
)

// logHandler appends a message to the execution log.
type logHandler struct{}

func (h *logHandler) Type() string { return "log" }

func (h *logHandler) Execute(ctx context.Context, step *workflow.Step, ec *Context) (*Result, error) {
	raw, ok := step.Config["message"]
	if !ok || raw == nil {
		return nil, fmt.Errorf("log step requires a message")
	}
	message, ok := raw.(string)
	if !ok {
		message = fmt.Sprint(raw)
	}

	level, _ := step.Config["level"].(string)
	level = strings.ToLower(level)
	if level == "" {
		level = "info"
	}

	ec.Logs.Append(level, message, nil)

	logger := ec.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Log(ctx, slogLevel(level), message,
		"execution_id", ec.ExecutionID,
		"step_id", step.ID)

	return &Result{
		Status:   store.StatusCompleted,
		Output:   map[string]any{"logged": true},
		NextStep: step.Next,
	}, nil
}

func slogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
