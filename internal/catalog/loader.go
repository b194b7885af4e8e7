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

// Package catalog loads workflow definition files into the versioned
// workflow catalog and registers new versions as files change.
package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/tombee/folio/pkg/errors"
	"github.com/tombee/folio/pkg/workflow"
)

// DefaultPattern matches YAML files at any depth.
const DefaultPattern = "**/*.{yaml,yml}"

// ParseFile reads, parses and validates one workflow file.
func ParseFile(path string) (*workflow.Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	def, err := workflow.ParseDefinition(data)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", path)
	}
	return def, nil
}

// FileError is a workflow file that failed to load.
type FileError struct {
	Path string
	Err  error
}

func (e FileError) Error() string { return fmt.Sprintf("%s: %v", e.Path, e.Err) }

// Result summarizes a directory load.
type Result struct {
	// Registered lists the id@version keys added by this load
	Registered []string

	// Unchanged counts files whose definition was already registered
	Unchanged int

	// Failed lists files that could not be parsed or registered
	Failed []FileError
}

// Loader registers workflow files from a directory into a catalog. Files are
// selected with a doublestar pattern relative to the directory.
//
// A registered version is immutable. Reloading a file whose content is
// unchanged is a no-op; editing a file without bumping its version is
// reported as a failure and the registered version stays in effect.
type Loader struct {
	dir      string
	pattern  string
	catalog  *workflow.Catalog
	logger   *slog.Logger
	debounce time.Duration

	mu      sync.Mutex
	digests map[string]string // id@version -> content digest
}

// NewLoader creates a loader for dir. An empty pattern uses DefaultPattern.
func NewLoader(dir, pattern string, cat *workflow.Catalog, logger *slog.Logger) *Loader {
	if pattern == "" {
		pattern = DefaultPattern
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		dir:      dir,
		pattern:  pattern,
		catalog:  cat,
		logger:   logger.With(slog.String("component", "catalog")),
		debounce: 200 * time.Millisecond,
		digests:  make(map[string]string),
	}
}

// Files returns the workflow files under the directory in lexical order.
func (l *Loader) Files() ([]string, error) {
	if !doublestar.ValidatePattern(l.pattern) {
		return nil, &errors.ConfigError{Key: "workflows.pattern", Reason: fmt.Sprintf("invalid pattern %q", l.pattern)}
	}
	matches, err := doublestar.Glob(os.DirFS(l.dir), l.pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, errors.Wrapf(err, "listing workflows in %s", l.dir)
	}
	sort.Strings(matches)

	files := make([]string, len(matches))
	for i, m := range matches {
		files[i] = filepath.Join(l.dir, filepath.FromSlash(m))
	}
	return files, nil
}

// LoadAll registers every matching file. A broken file does not stop the
// others from loading; it is reported in Result.Failed. The error is
// non-nil only when the directory itself cannot be read.
func (l *Loader) LoadAll(ctx context.Context) (*Result, error) {
	if _, err := os.Stat(l.dir); err != nil {
		return nil, &errors.ConfigError{Key: "workflows.dir", Reason: "workflow directory is not readable", Cause: err}
	}
	files, err := l.Files()
	if err != nil {
		return nil, err
	}

	res := &Result{}
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		key, added, err := l.LoadFile(path)
		switch {
		case err != nil:
			res.Failed = append(res.Failed, FileError{Path: path, Err: err})
			l.logger.Warn("skipping invalid workflow file", "path", path, "error", err)
		case added:
			res.Registered = append(res.Registered, key)
		default:
			res.Unchanged++
		}
	}

	l.logger.Info("workflows loaded",
		"dir", l.dir,
		"registered", len(res.Registered),
		"unchanged", res.Unchanged,
		"failed", len(res.Failed))
	return res, nil
}

// LoadFile parses one file and registers its definition. It returns the
// definition key and whether a new version was added.
func (l *Loader) LoadFile(path string) (string, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false, errors.Wrapf(err, "reading %s", path)
	}
	def, err := workflow.ParseDefinition(data)
	if err != nil {
		return "", false, err
	}

	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])
	key := def.Key()

	l.mu.Lock()
	defer l.mu.Unlock()

	if prev, ok := l.digests[key]; ok {
		if prev == digest {
			return key, false, nil
		}
		return key, false, &errors.ValidationError{
			Field:      "version",
			Message:    fmt.Sprintf("%s changed but version %d is already registered", def.ID, def.Version),
			Suggestion: "bump the version to publish a change",
		}
	}

	if err := l.catalog.Register(def); err != nil {
		return key, false, err
	}
	l.digests[key] = digest
	l.logger.Info("workflow registered", "workflow_id", def.ID, "version", def.Version, "path", path)
	return key, true, nil
}

// Watch registers new versions as workflow files are created or written,
// until ctx is cancelled. Events for a file are debounced so an editor save
// loads once.
func (l *Loader) Watch(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer fsw.Close()

	err = filepath.WalkDir(l.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fsw.Add(path)
		}
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "watching %s", l.dir)
	}
	l.logger.Info("watching workflow directory", "dir", l.dir)

	var (
		mu      sync.Mutex
		pending = make(map[string]*time.Timer)
		wg      sync.WaitGroup
	)
	defer func() {
		mu.Lock()
		for _, t := range pending {
			if t.Stop() {
				wg.Done()
			}
		}
		mu.Unlock()
		wg.Wait()
	}()

	schedule := func(path string) {
		mu.Lock()
		defer mu.Unlock()
		if t, ok := pending[path]; ok && t.Stop() {
			wg.Done()
		}
		wg.Add(1)
		pending[path] = time.AfterFunc(l.debounce, func() {
			defer wg.Done()
			mu.Lock()
			delete(pending, path)
			mu.Unlock()
			l.reload(path)
		})
	}

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("stopped watching workflow directory")
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			info, err := os.Stat(event.Name)
			if err != nil {
				continue
			}
			if info.IsDir() {
				if err := fsw.Add(event.Name); err != nil {
					l.logger.Warn("failed to watch new directory", "path", event.Name, "error", err)
				}
				continue
			}
			if l.matches(event.Name) {
				schedule(event.Name)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			l.logger.Error("workflow watcher error", "error", err)
		}
	}
}

func (l *Loader) reload(path string) {
	if _, _, err := l.LoadFile(path); err != nil {
		l.logger.Warn("workflow reload failed", "path", path, "error", err)
	}
}

func (l *Loader) matches(path string) bool {
	rel, err := filepath.Rel(l.dir, path)
	if err != nil {
		return false
	}
	ok, _ := doublestar.Match(l.pattern, filepath.ToSlash(rel))
	return ok
}
