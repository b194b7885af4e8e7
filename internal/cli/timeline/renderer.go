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

// Package timeline renders a run's invocation records as an ASCII timeline.
package timeline

import (
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/tombee/folio/pkg/execution"
)

const (
	// MinTerminalWidth is the minimum supported terminal width
	MinTerminalWidth = 80
	// DefaultBarWidth is the default width for duration bars
	DefaultBarWidth = 40
	// StatusIconOK indicates a successful attempt
	StatusIconOK = "✓"
	// StatusIconRetry indicates a failed attempt that was retried
	StatusIconRetry = "↻"
	// StatusIconError indicates a failed final attempt
	StatusIconError = "✗"

	nameWidth = 24
)

// Row is one invocation record positioned on the timeline.
type Row struct {
	Name      string
	Scope     string
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
	Icon      string
	Level     int // Nesting depth of the record's sub-run
}

// Renderer renders ASCII timelines from invocation records.
type Renderer struct {
	Width    int
	BarWidth int
}

// NewRenderer creates a renderer sized to the terminal on stdout.
func NewRenderer() (*Renderer, error) {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		// Default to 100 if detection fails
		width = 100
	}
	return NewRendererWidth(width)
}

// NewRendererWidth creates a renderer for a fixed width.
func NewRendererWidth(width int) (*Renderer, error) {
	if width < MinTerminalWidth {
		return nil, fmt.Errorf("terminal width %d is too narrow (minimum %d columns)", width, MinTerminalWidth)
	}

	// Format: "│ name ██████░░░░  duration  icon │"
	barWidth := width - nameWidth - 15
	if barWidth > 60 {
		barWidth = 60
	}
	if barWidth < DefaultBarWidth {
		barWidth = DefaultBarWidth
	}
	return &Renderer{Width: nameWidth + barWidth + 15, BarWidth: barWidth}, nil
}

// Render generates a timeline of the records in log order.
func (r *Renderer) Render(title string, records []execution.Record) (string, error) {
	if len(records) == 0 {
		return "", fmt.Errorf("no records to render")
	}

	rows := Rows(records)
	minTime, maxTime := bounds(rows)
	total := maxTime.Sub(minTime)

	var sb strings.Builder
	border := strings.Repeat("─", r.Width-2)
	sb.WriteString("┌" + border + "┐\n")
	sb.WriteString(fmt.Sprintf("│ %-*s %8s │\n", r.Width-13, truncate(title, r.Width-13), formatDuration(total)))
	sb.WriteString("├" + border + "┤\n")
	for _, row := range rows {
		sb.WriteString(r.renderRow(row, minTime, total))
	}
	sb.WriteString("└" + border + "┘\n")
	return sb.String(), nil
}

// Rows converts records to timeline rows.
func Rows(records []execution.Record) []Row {
	rows := make([]Row, 0, len(records))
	for i := range records {
		rec := &records[i]

		name := rec.NodeID
		if rec.Attempt > 1 {
			name = fmt.Sprintf("%s (%d)", rec.NodeID, rec.Attempt)
		}
		icon := StatusIconOK
		switch {
		case rec.Succeeded():
		case !rec.Final:
			icon = StatusIconRetry
		default:
			icon = StatusIconError
		}

		level := 0
		if rec.Scope != "" {
			level = strings.Count(rec.Scope, "/") + 1
		}

		rows = append(rows, Row{
			Name:      name,
			Scope:     rec.Scope,
			StartTime: rec.StartedAt,
			EndTime:   rec.EndedAt,
			Duration:  rec.EndedAt.Sub(rec.StartedAt),
			Icon:      icon,
			Level:     level,
		})
	}
	return rows
}

// bounds finds the earliest start and latest end time across all rows.
func bounds(rows []Row) (time.Time, time.Time) {
	minTime := rows[0].StartTime
	maxTime := rows[0].EndTime
	for _, row := range rows {
		if row.StartTime.Before(minTime) {
			minTime = row.StartTime
		}
		if row.EndTime.After(maxTime) {
			maxTime = row.EndTime
		}
	}
	return minTime, maxTime
}

// renderRow generates a timeline line for a single record.
func (r *Renderer) renderRow(row Row, minTime time.Time, total time.Duration) string {
	startPos, barLength := 0, r.BarWidth
	if total > 0 {
		startPos = int(float64(row.StartTime.Sub(minTime)) / float64(total) * float64(r.BarWidth))
		barLength = int(float64(row.Duration) / float64(total) * float64(r.BarWidth))
	}
	if startPos >= r.BarWidth {
		startPos = r.BarWidth - 1
	}
	if barLength < 1 {
		barLength = 1
	}
	if startPos+barLength > r.BarWidth {
		barLength = r.BarWidth - startPos
	}

	bar := make([]rune, r.BarWidth)
	for i := range bar {
		if i >= startPos && i < startPos+barLength {
			bar[i] = '█'
		} else {
			bar[i] = '░'
		}
	}

	indent := strings.Repeat("  ", row.Level)
	prefix := ""
	if row.Level > 0 {
		prefix = "└─ "
	}
	width := nameWidth - len(indent) - len([]rune(prefix))
	if width < 10 {
		width = 10
	}

	return fmt.Sprintf("│ %s%s%-*s %s %7s %s │\n",
		indent,
		prefix,
		width,
		truncate(row.Name, width),
		string(bar),
		formatDuration(row.Duration),
		row.Icon,
	)
}

// truncate shortens a string to maxLen with ellipsis if needed.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%dµs", d.Microseconds())
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%.1fm", d.Minutes())
}
