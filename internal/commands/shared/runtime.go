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
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/tombee/folio/internal/catalog"
	"github.com/tombee/folio/internal/config"
	"github.com/tombee/folio/internal/handlers"
	"github.com/tombee/folio/internal/log"
	"github.com/tombee/folio/internal/store"
	"github.com/tombee/folio/pkg/engine"
	"github.com/tombee/folio/pkg/handler"
	"github.com/tombee/folio/pkg/workflow"
)

// Runtime is the local engine stack shared by the commands.
type Runtime struct {
	Config   *config.Config
	Logger   *slog.Logger
	Store    store.Store
	Catalog  *workflow.Catalog
	Loader   *catalog.Loader
	Registry *handler.Registry
	Engine   *engine.Engine
}

// RuntimeOptions adjusts how a Runtime is assembled.
type RuntimeOptions struct {
	// Observer receives engine lifecycle events
	Observer engine.Observer

	// LogOutput receives log lines. Default: os.Stderr
	LogOutput io.Writer

	// RequireWorkflows fails when the workflows directory cannot be read.
	// Otherwise a missing directory leaves the catalog empty.
	RequireWorkflows bool
}

// LoadConfig loads the file named by --config, falling back to the XDG
// config file when it exists.
func LoadConfig() (*config.Config, error) {
	path := GetConfigPath()
	if path == "" {
		if p, err := config.ConfigPath(); err == nil {
			if _, err := os.Stat(p); err == nil {
				path = p
			}
		}
	}
	return config.Load(path)
}

// NewLogger builds the command logger. --verbose lowers the level to debug
// and --quiet raises it to error.
func NewLogger(cfg *config.Config, out io.Writer) *slog.Logger {
	if out == nil {
		out = os.Stderr
	}
	lc := &log.Config{
		Level:     cfg.Log.Level,
		Format:    log.Format(cfg.Log.Format),
		Output:    out,
		AddSource: cfg.Log.AddSource,
	}
	switch {
	case GetVerbose():
		lc.Level = "debug"
	case GetQuiet():
		lc.Level = "error"
	}
	return log.New(lc)
}

// OpenRuntime loads configuration and wires store, catalog, handlers and
// engine. Callers must Close the runtime.
func OpenRuntime(ctx context.Context, opts RuntimeOptions) (*Runtime, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	return NewRuntime(ctx, cfg, opts)
}

// NewRuntime wires a runtime from an already loaded configuration.
func NewRuntime(ctx context.Context, cfg *config.Config, opts RuntimeOptions) (*Runtime, error) {
	logger := NewLogger(cfg, opts.LogOutput)

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	st, err := store.Open(cfg.Store, cfg.DataDir, logger)
	if err != nil {
		return nil, err
	}

	cat := workflow.NewCatalog()
	loader := catalog.NewLoader(cfg.Workflows.Dir, cfg.Workflows.Pattern, cat, logger)
	if _, err := loader.LoadAll(ctx); err != nil {
		if opts.RequireWorkflows {
			st.Close()
			return nil, err
		}
		logger.Debug("no workflows directory", "dir", cfg.Workflows.Dir, "error", err)
	}

	reg := handler.NewRegistry()
	if err := handlers.Register(reg, cfg.Handlers, logger); err != nil {
		st.Close()
		return nil, err
	}
	reg.Freeze()

	eng := engine.New(reg, cat, st).
		WithLogger(logger).
		WithParallelConcurrency(cfg.Engine.ParallelConcurrency).
		WithNodeTimeout(cfg.Engine.NodeTimeout).
		WithObserver(opts.Observer)

	return &Runtime{
		Config:   cfg,
		Logger:   logger,
		Store:    st,
		Catalog:  cat,
		Loader:   loader,
		Registry: reg,
		Engine:   eng,
	}, nil
}

// Register loads a workflow file into the catalog and returns its
// "id@version" reference.
func (r *Runtime) Register(path string) (string, error) {
	key, _, err := r.Loader.LoadFile(path)
	if err != nil {
		return "", NewInvalidWorkflowError(fmt.Sprintf("invalid workflow %s", path), err)
	}
	return key, nil
}

// Resolve turns a workflow argument into a catalog reference, registering
// the file first when the argument names one.
func (r *Runtime) Resolve(arg string) (string, error) {
	wa, err := ResolveWorkflowArg(arg)
	if err != nil {
		return "", NewInvalidWorkflowError("", err)
	}
	if wa.Path != "" {
		return r.Register(wa.Path)
	}
	return wa.Ref, nil
}

// Close suspends any background runs and closes the store.
func (r *Runtime) Close(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, r.Config.Engine.ShutdownTimeout)
	defer cancel()
	if err := r.Engine.Shutdown(shutdownCtx); err != nil {
		r.Logger.Warn("engine shutdown timed out", "error", err)
	}
	return r.Store.Close()
}
