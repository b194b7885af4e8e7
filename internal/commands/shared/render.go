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

package shared

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/tombee/folio/pkg/engine"
	"github.com/tombee/folio/pkg/execution"
)

// PrintStatus writes a run status as labelled lines.
func PrintStatus(w io.Writer, st *engine.RunStatus) {
	fmt.Fprintf(w, "%s %s  %s\n", RenderLabel("run:     "), st.RunID, RenderRunStatus(st.Status))
	fmt.Fprintf(w, "%s %s@%d\n", RenderLabel("workflow:"), st.WorkflowID, st.Version)
	fmt.Fprintf(w, "%s %d\n", RenderLabel("records: "), st.Records)
	if len(st.Frontier) > 0 {
		fmt.Fprintf(w, "%s %s\n", RenderLabel("frontier:"), strings.Join(st.Frontier, ", "))
	}
	if st.CompletedAt != nil {
		fmt.Fprintf(w, "%s %s (%s)\n", RenderLabel("finished:"),
			st.CompletedAt.Local().Format(time.DateTime), FormatElapsed(st.CompletedAt.Sub(st.CreatedAt)))
	} else {
		fmt.Fprintf(w, "%s %s\n", RenderLabel("started: "), st.CreatedAt.Local().Format(time.DateTime))
	}
	if e := st.LastError; e != nil {
		fmt.Fprintf(w, "%s %s\n", RenderLabel("error:   "), StatusError.Render(describeError(e)))
	}
}

// PrintRecords writes one line per invocation record in log order.
func PrintRecords(w io.Writer, records []execution.Record) {
	for i := range records {
		rec := &records[i]

		name := rec.NodeID
		if rec.Scope != "" {
			name = rec.Scope + "/" + rec.NodeID
		}
		line := fmt.Sprintf("%s %-32s %s %7s", RecordSymbol(rec), name,
			Muted.Render(fmt.Sprintf("#%d", rec.Attempt)), FormatElapsed(rec.Duration))
		if rec.Label != "" {
			line += "  → " + rec.Label
		}
		if rec.Error != nil {
			line += "  " + StatusError.Render(describeError(rec.Error))
		}
		fmt.Fprintln(w, line)
	}
}

func describeError(e *execution.ErrorRecord) string {
	msg := fmt.Sprintf("%s: %s", e.Class, e.Message)
	if e.NodeID != "" {
		msg += " (node " + e.NodeID + ")"
	}
	return msg
}
