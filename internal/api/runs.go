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
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/tombee/folio/pkg/errors"
	"github.com/tombee/folio/pkg/execution"
)

// runsHandler handles run-related API requests.
type runsHandler struct {
	runner  Runner
	maxBody int64
	logger  *slog.Logger
}

func (h *runsHandler) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/workflows/{id}/runs", h.handleCreate)
	mux.HandleFunc("GET /v1/runs", h.handleList)
	mux.HandleFunc("GET /v1/runs/{id}", h.handleGet)
	mux.HandleFunc("GET /v1/runs/{id}/records", h.handleRecords)
	mux.HandleFunc("GET /v1/runs/{id}/extractions", h.handleExtractions)
	mux.HandleFunc("POST /v1/runs/{id}/cancel", h.handleCancel)
	mux.HandleFunc("POST /v1/runs/{id}/resume", h.handleResume)
}

// handleCreate handles POST /v1/workflows/{id}/runs. The body is the
// trigger payload; an empty body is an empty object. The path id may carry
// a version as "id@version".
func (h *runsHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ref := r.PathValue("id")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		writeError(w, &errors.ValidationError{Field: "body", Message: fmt.Sprintf("failed to read trigger payload: %v", err)})
		return
	}

	var payload interface{} = map[string]interface{}{}
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			writeError(w, &errors.ValidationError{
				Field:      "body",
				Message:    fmt.Sprintf("invalid JSON: %v", err),
				Suggestion: "send the trigger payload as a JSON document",
			})
			return
		}
	}

	runID, err := h.runner.StartRun(r.Context(), ref, payload)
	if err != nil {
		writeError(w, err)
		return
	}
	h.logger.Info("run started", "run_id", runID, "workflow", ref)

	w.Header().Set("Location", "/v1/runs/"+runID)
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
}

// handleList handles GET /v1/runs.
func (h *runsHandler) handleList(w http.ResponseWriter, r *http.Request) {
	runs, err := h.runner.Runs(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	status := execution.Status(r.URL.Query().Get("status"))
	workflowID := r.URL.Query().Get("workflow")
	filtered := make([]execution.Summary, 0, len(runs))
	for _, s := range runs {
		if status != "" && s.Status != status {
			continue
		}
		if workflowID != "" && s.WorkflowID != workflowID {
			continue
		}
		filtered = append(filtered, s)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"runs":  filtered,
		"count": len(filtered),
	})
}

// handleGet handles GET /v1/runs/{id}.
func (h *runsHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	status, err := h.runner.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleRecords handles GET /v1/runs/{id}/records. Clients that accept
// text/event-stream get the log so far followed by new records as they
// are appended.
func (h *runsHandler) handleRecords(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		h.streamRecords(w, r, id)
		return
	}

	records, err := h.runner.Records(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"records": records,
		"count":   len(records),
	})
}

// handleExtractions handles GET /v1/runs/{id}/extractions.
func (h *runsHandler) handleExtractions(w http.ResponseWriter, r *http.Request) {
	records, err := h.runner.Extractions(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	extractions := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		extractions = append(extractions, map[string]any{
			"node_id": rec.NodeID,
			"scope":   rec.Scope,
			"handler": rec.Handler,
			"output":  rec.Output,
			"at":      rec.EndedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"extractions": extractions,
		"count":       len(extractions),
	})
}

// handleCancel handles POST /v1/runs/{id}/cancel.
func (h *runsHandler) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.runner.Cancel(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": id, "status": "cancelling"})
}

// handleResume handles POST /v1/runs/{id}/resume.
func (h *runsHandler) handleResume(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.runner.Resume(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": id, "status": "resumed"})
}

// streamRecords streams records via SSE.
func (h *runsHandler) streamRecords(w http.ResponseWriter, r *http.Request, id string) {
	// Subscribe before reading the log so no append falls in between
	ch, unsubscribe, subErr := h.runner.Subscribe(id)
	if subErr == nil {
		defer unsubscribe()
	}

	records, err := h.runner.Records(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	rc := http.NewResponseController(w)

	last := -1
	for _, rec := range records {
		writeEvent(w, "record", rec)
		last = rec.Seq
	}
	_ = rc.Flush()

	if subErr == nil {
		for done := false; !done; {
			select {
			case <-r.Context().Done():
				return
			case rec, ok := <-ch:
				if !ok {
					done = true
					break
				}
				if rec.Seq <= last {
					continue
				}
				writeEvent(w, "record", rec)
				last = rec.Seq
				_ = rc.Flush()
			}
		}
	}

	if status, err := h.runner.Status(r.Context(), id); err == nil {
		writeEvent(w, "done", map[string]string{"status": string(status.Status)})
		_ = rc.Flush()
	}
}

func writeEvent(w io.Writer, event string, data any) {
	encoded, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, encoded)
}
