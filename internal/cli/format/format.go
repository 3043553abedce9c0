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

// Package format renders CLI output: status colors, plain tables, and a
// JSON mode for scripting.
package format

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/tombee/baton/internal/store"
)

// Status styles. Colors follow the execution lifecycle: active states in
// cool colors, terminal success green, terminal failure red.
var (
	styleCompleted = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))  // green
	styleFailed    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")) // red
	styleRunning   = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))  // cyan
	styleRetry     = lipgloss.NewStyle().Foreground(lipgloss.Color("214")) // yellow
	styleCancelled = lipgloss.NewStyle().Foreground(lipgloss.Color("245")) // gray
	stylePending   = lipgloss.NewStyle().Faint(true)

	// Muted styles secondary text like timestamps and IDs.
	Muted = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))

	// Bold styles emphasized text.
	Bold = lipgloss.NewStyle().Bold(true)
)

// IsTTY reports whether w is an interactive terminal. Styled output and
// prompts are only used when it is.
func IsTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Status renders an execution status, colored when color is enabled.
func Status(s store.Status, color bool) string {
	if !color {
		return string(s)
	}
	switch s {
	case store.StatusCompleted:
		return styleCompleted.Render(string(s))
	case store.StatusFailed:
		return styleFailed.Render(string(s))
	case store.StatusRunning:
		return styleRunning.Render(string(s))
	case store.StatusRetryScheduled:
		return styleRetry.Render(string(s))
	case store.StatusCancelled:
		return styleCancelled.Render(string(s))
	default:
		return stylePending.Render(string(s))
	}
}

// Table renders rows under a header with space-padded columns. Styled
// cells are measured by printable width so colors don't break alignment.
type Table struct {
	headers []string
	rows    [][]string
}

// NewTable creates a table with the given column headers.
func NewTable(headers ...string) *Table {
	return &Table{headers: headers}
}

// AddRow appends a row. Missing cells render empty.
func (t *Table) AddRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

// Render writes the table to w.
func (t *Table) Render(w io.Writer) {
	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) && lipgloss.Width(cell) > widths[i] {
				widths[i] = lipgloss.Width(cell)
			}
		}
	}

	writeRow := func(cells []string) {
		var b strings.Builder
		for i, width := range widths {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			b.WriteString(cell)
			if i < len(widths)-1 {
				b.WriteString(strings.Repeat(" ", width-lipgloss.Width(cell)+2))
			}
		}
		fmt.Fprintln(w, strings.TrimRight(b.String(), " "))
	}

	writeRow(t.headers)
	for _, row := range t.rows {
		writeRow(row)
	}
}

// PrintJSON writes v as indented JSON for --json mode.
func PrintJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Timestamp renders t compactly, or "-" for the zero time.
func Timestamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

// Truncate shortens s to max runes with an ellipsis.
func Truncate(s string, max int) string {
	if max <= 3 || len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

// ShortID returns the first eight characters of a UUID for table display.
func ShortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
