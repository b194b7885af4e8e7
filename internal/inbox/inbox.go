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

// Package inbox implements the drop-folder trigger: a watched directory where
// every settled new document starts a run of a configured workflow.
package inbox

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	folioerrors "github.com/tombee/folio/pkg/errors"
)

// Starter starts workflow runs. *engine.Engine satisfies it.
type Starter interface {
	StartRun(ctx context.Context, workflowRef string, payload interface{}) (string, error)
}

// Config defines the inbox.
type Config struct {
	// Dir is the directory to watch
	Dir string

	// Workflow is started for each document ("id" or "id@version")
	Workflow string

	// Include and Exclude are doublestar patterns. Exclude is applied on top
	// of DefaultExcludePatterns.
	Include []string
	Exclude []string

	// Recursive also watches subdirectories
	Recursive bool

	// Debounce is how long a file must be quiet before it is picked up.
	// Zero starts a run on the first event.
	Debounce time.Duration

	// RateLimit caps run starts per second. Zero means no limit.
	RateLimit float64
	Burst     int
}

// Inbox watches a directory and starts one run per new document. A document
// is identified by its path, size and modification time, so rewriting a file
// with new content starts a new run while duplicate events do not.
type Inbox struct {
	cfg     Config
	starter Starter
	matcher *PatternMatcher
	limiter *rate.Limiter
	logger  *slog.Logger

	mu        sync.Mutex
	seen      map[string]string
	watcher   *Watcher
	debouncer *Debouncer
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
}

// New validates the configuration and creates an inbox. It does not start
// watching until Start is called.
func New(cfg Config, starter Starter, logger *slog.Logger) (*Inbox, error) {
	if cfg.Dir == "" {
		return nil, &folioerrors.ConfigError{Key: "inbox.dir", Reason: "inbox directory is required"}
	}
	if cfg.Workflow == "" {
		return nil, &folioerrors.ConfigError{Key: "inbox.workflow", Reason: "inbox workflow is required"}
	}
	if starter == nil {
		return nil, fmt.Errorf("inbox: starter is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	dir, err := NormalizePath(cfg.Dir)
	if err != nil {
		return nil, &folioerrors.ConfigError{Key: "inbox.dir", Reason: "invalid inbox directory", Cause: err}
	}
	cfg.Dir = dir

	exclude := append(DefaultExcludePatterns(), cfg.Exclude...)
	matcher, err := NewPatternMatcher(cfg.Include, exclude)
	if err != nil {
		return nil, &folioerrors.ConfigError{Key: "inbox.include", Reason: err.Error()}
	}

	i := &Inbox{
		cfg:     cfg,
		starter: starter,
		matcher: matcher,
		logger:  logger.With(slog.String("component", "inbox")),
		seen:    make(map[string]string),
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		i.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return i, nil
}

// Dir returns the normalized watched directory.
func (i *Inbox) Dir() string { return i.cfg.Dir }

// Start begins watching. Runs are started with a context derived from ctx;
// cancelling it stops the inbox.
func (i *Inbox) Start(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.watcher != nil {
		return fmt.Errorf("inbox already started")
	}

	w, err := NewWatcher(i.cfg.Dir, i.cfg.Recursive, i.logger)
	if err != nil {
		return err
	}

	i.ctx, i.cancel = context.WithCancel(ctx)
	i.watcher = w
	i.done = make(chan struct{})
	if i.cfg.Debounce > 0 {
		i.debouncer = NewDebouncer(i.cfg.Debounce, func(doc *Document) {
			i.Submit(i.ctx, doc)
		})
	}

	w.Start(i.ctx)
	go i.handleDocuments(w, i.debouncer)

	i.logger.Info("inbox started",
		"dir", i.cfg.Dir,
		"workflow", i.cfg.Workflow,
		"debounce", i.cfg.Debounce,
		"rate_limit", i.cfg.RateLimit)
	return nil
}

// Stop stops watching. Documents still waiting out their debounce window
// are submitted before Stop returns.
func (i *Inbox) Stop() error {
	i.mu.Lock()
	w, d, done := i.watcher, i.debouncer, i.done
	i.watcher, i.debouncer = nil, nil
	i.mu.Unlock()

	if w == nil {
		return nil
	}
	err := w.Stop()
	<-done
	if d != nil {
		d.Stop()
	}
	i.cancel()
	i.logger.Info("inbox stopped")
	return err
}

func (i *Inbox) handleDocuments(w *Watcher, d *Debouncer) {
	defer close(i.done)

	for doc := range w.Documents() {
		rel, err := filepath.Rel(i.cfg.Dir, doc.Path)
		if err != nil {
			rel = doc.Path
		}
		if !i.matcher.Match(rel) {
			recordSkipped("pattern")
			i.logger.Debug("file excluded by pattern", "path", doc.Path)
			continue
		}

		if d != nil {
			d.Add(doc)
		} else {
			i.Submit(i.ctx, doc)
		}
	}
}

// Submit starts a run for doc unless the same version of the file already
// started one. It returns the run id, or "" when the document was skipped.
func (i *Inbox) Submit(ctx context.Context, doc *Document) (string, error) {
	sig := doc.signature()

	i.mu.Lock()
	if prev, ok := i.seen[doc.Path]; ok && prev == sig {
		i.mu.Unlock()
		recordSkipped("duplicate")
		i.logger.Debug("document already submitted", "path", doc.Path)
		return "", nil
	}
	i.seen[doc.Path] = sig
	i.mu.Unlock()

	if i.limiter != nil {
		if err := i.limiter.Wait(ctx); err != nil {
			i.forget(doc.Path, sig)
			recordSkipped("rate_limit")
			i.logger.Warn("inbox stopped while waiting for rate limit", "path", doc.Path, "error", err)
			return "", err
		}
	}

	runID, err := i.starter.StartRun(ctx, i.cfg.Workflow, doc.Trigger())
	if err != nil {
		i.forget(doc.Path, sig)
		recordError("start_run")
		i.logger.Error("failed to start run for document",
			"path", doc.Path,
			"workflow", i.cfg.Workflow,
			"error", err)
		return "", err
	}

	recordTrigger(i.cfg.Workflow)
	i.logger.Info("document started run",
		"path", doc.Path,
		"workflow", i.cfg.Workflow,
		"run_id", runID)
	return runID, nil
}

// forget clears a failed submission so a later event can retry it.
func (i *Inbox) forget(path, sig string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.seen[path] == sig {
		delete(i.seen, path)
	}
}

// NormalizePath expands a leading ~, makes the path absolute, resolves
// symlinks and checks that it is a directory.
func NormalizePath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path cannot be empty")
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	path = os.ExpandEnv(path)

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", abs, err)
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", resolved)
	}
	return resolved, nil
}
