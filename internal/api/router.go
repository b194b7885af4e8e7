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

// Package api provides the HTTP API for starting and inspecting runs.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/tombee/folio/internal/log"
	"github.com/tombee/folio/internal/tracing"
	"github.com/tombee/folio/pkg/engine"
	"github.com/tombee/folio/pkg/execution"
	"github.com/tombee/folio/pkg/workflow"
)

// Runner is the part of the engine the API drives.
type Runner interface {
	StartRun(ctx context.Context, workflowRef string, payload interface{}) (string, error)
	Status(ctx context.Context, runID string) (*engine.RunStatus, error)
	Records(ctx context.Context, runID string) ([]execution.Record, error)
	Extractions(ctx context.Context, runID string) ([]execution.Record, error)
	Runs(ctx context.Context) ([]execution.Summary, error)
	Cancel(ctx context.Context, runID string) error
	Resume(ctx context.Context, runID string) error
	Subscribe(runID string) (<-chan execution.Record, func(), error)
}

// Catalog lists registered workflows.
type Catalog interface {
	List(ctx context.Context) []workflow.Summary
}

// RouterConfig holds configuration for the API router.
type RouterConfig struct {
	Version   string
	Commit    string
	BuildDate string

	// MaxBodyBytes limits trigger payloads. Zero means 10 MiB.
	MaxBodyBytes int64
}

// Router wraps an http.ServeMux with logging and trace propagation.
type Router struct {
	mux     *http.ServeMux
	config  RouterConfig
	runner  Runner
	catalog Catalog
	logger  *slog.Logger
	handler http.Handler
}

// NewRouter creates a router with every API endpoint registered.
func NewRouter(cfg RouterConfig, runner Runner, catalog Catalog, logger *slog.Logger) *Router {
	if logger == nil {
		logger = log.New(log.FromEnv())
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 10 << 20
	}
	r := &Router{
		mux:     http.NewServeMux(),
		config:  cfg,
		runner:  runner,
		catalog: catalog,
		logger:  log.WithComponent(logger, "api"),
	}

	r.mux.HandleFunc("GET /health", r.handleHealth)
	r.mux.HandleFunc("GET /v1/version", r.handleVersion)
	r.mux.HandleFunc("GET /v1/workflows", r.handleListWorkflows)

	runs := &runsHandler{runner: runner, maxBody: cfg.MaxBodyBytes, logger: r.logger}
	runs.registerRoutes(r.mux)

	// Extract trace context first, then log with the request span active
	var h http.Handler = r.mux
	h = log.HTTPMiddleware(r.logger)(h)
	h = tracing.HTTPMiddleware(h)
	r.handler = h

	return r
}

// SetMetricsHandler serves Prometheus metrics at /metrics.
func (r *Router) SetMetricsHandler(handler http.Handler) {
	if handler != nil {
		r.mux.Handle("GET /metrics", handler)
	}
}

// ServeHTTP implements http.Handler.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.handler.ServeHTTP(w, req)
}

// Mux returns the underlying ServeMux for registering additional routes.
func (r *Router) Mux() *http.ServeMux {
	return r.mux
}

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": r.config.Version,
	})
}

func (r *Router) handleVersion(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version":    r.config.Version,
		"commit":     r.config.Commit,
		"build_date": r.config.BuildDate,
	})
}

func (r *Router) handleListWorkflows(w http.ResponseWriter, req *http.Request) {
	workflows := r.catalog.List(req.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"workflows": workflows,
		"count":     len(workflows),
	})
}
