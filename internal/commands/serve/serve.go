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

// Package serve runs folio as a long-lived service: the HTTP API, the
// workflow directory watcher, the inbox and the retention sweep.
package serve

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/tombee/folio/internal/api"
	"github.com/tombee/folio/internal/commands/completion"
	"github.com/tombee/folio/internal/commands/shared"
	"github.com/tombee/folio/internal/config"
	"github.com/tombee/folio/internal/inbox"
	"github.com/tombee/folio/internal/tracing"
)

// NewCommand creates the serve command.
func NewCommand() *cobra.Command {
	var (
		addr    string
		backend string
		watch   bool
		resume  bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the folio API server",
		Long: `Run folio as a service.

The server registers every workflow in the workflows directory and exposes
the HTTP API for starting, inspecting, cancelling and resuming runs. When
configured it also watches the workflows directory for new versions, starts
a run for each document dropped into the inbox directory, and prunes old
finished runs.

Runs still executing at shutdown are suspended and persisted. They are
resumed on the next start when engine.resume_on_start is set.`,
		Example: `  # Start with the configured address
  folio serve

  # Listen on another address and pick up workflow edits
  folio serve --addr :8080 --watch`,
		Annotations: map[string]string{
			"group": "execution",
		},
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := shared.LoadConfig()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr = addr
			}
			if cmd.Flags().Changed("store") {
				cfg.Store.Backend = backend
			}
			if cmd.Flags().Changed("watch") {
				cfg.Workflows.Watch = watch
			}
			if cmd.Flags().Changed("resume") {
				cfg.Engine.ResumeOnStart = resume
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := run(ctx, cfg, options{}); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Goodbye!")
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Address to listen on (default: server.addr)")
	cmd.Flags().StringVar(&backend, "store", "", "Run store backend: memory, file, sqlite or badger (default: store.backend)")
	cmd.Flags().BoolVar(&watch, "watch", false, "Register new workflow versions as files change")
	cmd.Flags().BoolVar(&resume, "resume", false, "Resume interrupted runs on start")

	_ = cmd.RegisterFlagCompletionFunc("store", completion.CompleteStoreBackends)

	return cmd
}

// options are the hooks tests use to observe a running server.
type options struct {
	// ready receives the listen address once the API accepts connections
	ready chan<- net.Addr

	// registry isolates Prometheus metrics from the default registry
	registry *prometheus.Registry
}

// run serves until ctx is cancelled, then shuts every component down.
func run(ctx context.Context, cfg *config.Config, opts options) error {
	build := shared.Build()

	var providerOpts []tracing.Option
	if opts.registry != nil {
		providerOpts = append(providerOpts, tracing.WithRegistry(opts.registry))
	}
	provider, err := tracing.NewProvider(ctx, tracing.FromSettings(cfg.Tracing, build.Version), providerOpts...)
	if err != nil {
		return fmt.Errorf("failed to start tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			slog.Default().Warn("tracing shutdown failed", "error", err)
		}
	}()

	rt, err := shared.NewRuntime(ctx, cfg, shared.RuntimeOptions{
		Observer:         provider.Observer(),
		RequireWorkflows: true,
	})
	if err != nil {
		return err
	}
	logger := rt.Logger
	logger.Info("folio starting", "version", build.Version, "store", cfg.Store.Backend, "workflows", len(rt.Catalog.List(ctx)))

	var wg sync.WaitGroup
	defer wg.Wait()
	bgCtx, cancelBg := context.WithCancel(ctx)
	defer cancelBg()

	if cfg.Workflows.Watch {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := rt.Loader.Watch(bgCtx); err != nil {
				logger.Error("workflow watcher stopped", "error", err)
			}
		}()
	}

	if cfg.Engine.ResumeOnStart {
		n, err := rt.Engine.ResumeInterrupted(ctx)
		if err != nil {
			logger.Warn("failed to resume interrupted runs", "error", err)
		} else if n > 0 {
			logger.Info("resumed interrupted runs", "count", n)
		}
	}

	var in *inbox.Inbox
	if cfg.Inbox.Enabled {
		in, err = inbox.New(inbox.Config{
			Dir:       cfg.Inbox.Dir,
			Workflow:  cfg.Inbox.Workflow,
			Include:   cfg.Inbox.Include,
			Exclude:   cfg.Inbox.Exclude,
			Recursive: cfg.Inbox.Recursive,
			Debounce:  cfg.Inbox.Debounce,
			RateLimit: cfg.Inbox.RateLimit,
			Burst:     cfg.Inbox.Burst,
		}, rt.Engine, logger)
		if err == nil {
			err = in.Start(bgCtx)
		}
		if err != nil {
			cancelBg()
			rt.Close(context.WithoutCancel(ctx))
			return err
		}
	}

	if cfg.Retention.MaxAge > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sweep(bgCtx, rt.Engine, cfg.Retention, logger)
		}()
	}

	router := api.NewRouter(api.RouterConfig{
		Version:      build.Version,
		Commit:       build.Commit,
		BuildDate:    build.BuildDate,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
	}, rt.Engine, rt.Catalog, logger)
	router.SetMetricsHandler(provider.MetricsHandler())

	serveErr := api.Serve(ctx, cfg.Server.Addr, router, cfg.Server.ShutdownTimeout, logger, opts.ready)
	logger.Info("shutting down")

	cancelBg()
	if in != nil {
		if err := in.Stop(); err != nil {
			logger.Warn("inbox shutdown failed", "error", err)
		}
	}
	if err := rt.Close(context.WithoutCancel(ctx)); err != nil {
		logger.Warn("store close failed", "error", err)
	}
	if serveErr != nil {
		return fmt.Errorf("server error: %w", serveErr)
	}
	logger.Info("shutdown complete")
	return nil
}

// pruner is the part of the engine the retention sweep drives.
type pruner interface {
	Prune(ctx context.Context, maxAge time.Duration) (int, error)
}

// sweep prunes finished runs once at start and then on every interval.
func sweep(ctx context.Context, p pruner, cfg config.RetentionConfig, logger *slog.Logger) {
	prune := func() {
		n, err := p.Prune(ctx, cfg.MaxAge)
		switch {
		case err != nil && ctx.Err() == nil:
			logger.Warn("retention sweep failed", "error", err)
		case n > 0:
			logger.Info("pruned finished runs", "count", n, "max_age", cfg.MaxAge)
		}
	}

	prune()
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}
