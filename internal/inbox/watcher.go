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

package inbox

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher wraps fsnotify.Watcher and turns filesystem events under a
// directory into documents. Directories, removals and chmod events are
// dropped; a rename into the directory arrives as a create.
type Watcher struct {
	root      string
	recursive bool
	watcher   *fsnotify.Watcher
	docs      chan *Document
	logger    *slog.Logger
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewWatcher creates a watcher for root. With recursive set, existing and
// newly created subdirectories are watched too.
func NewWatcher(root string, recursive bool, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		root:      root,
		recursive: recursive,
		watcher:   fsw,
		docs:      make(chan *Document, 100),
		logger:    logger.With(slog.String("path", root)),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}

	if err := w.addTree(root); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

// addTree watches dir and, when recursive, every directory below it.
func (w *Watcher) addTree(dir string) error {
	if !w.recursive {
		if err := w.watcher.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
		return nil
	}
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && d.Name()[0] == '.' {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}

// Start begins watching for file events.
func (w *Watcher) Start(ctx context.Context) {
	go w.eventLoop(ctx)
	w.logger.Info("inbox watcher started", "recursive", w.recursive)
}

// Stop stops the watcher and releases resources.
func (w *Watcher) Stop() error {
	close(w.stopCh)
	<-w.doneCh
	return w.watcher.Close()
}

// Documents returns the channel of observed documents. It is closed when
// the watcher stops.
func (w *Watcher) Documents() <-chan *Document {
	return w.docs
}

func (w *Watcher) eventLoop(ctx context.Context) {
	defer close(w.doneCh)
	defer close(w.docs)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("inbox watcher stopped (context cancelled)")
			return
		case <-w.stopCh:
			w.logger.Info("inbox watcher stopped")
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				w.logger.Warn("inbox watcher event channel closed")
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				w.logger.Warn("inbox watcher error channel closed")
				return
			}
			recordError("watch")
			w.logger.Error("inbox watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	var kind string
	switch {
	case event.Has(fsnotify.Create):
		kind = "created"
	case event.Has(fsnotify.Write):
		kind = "modified"
	default:
		return
	}
	recordEvent(kind)

	info, err := os.Stat(event.Name)
	if err != nil {
		// removed again before we got to it
		w.logger.Debug("failed to stat file", "path", event.Name, "error", err)
		return
	}

	if info.IsDir() {
		if kind == "created" && w.recursive {
			if err := w.addTree(event.Name); err != nil {
				recordError("watch")
				w.logger.Warn("failed to watch new directory", "path", event.Name, "error", err)
			}
		}
		return
	}
	if !info.Mode().IsRegular() {
		return
	}

	doc := NewDocument(event.Name, kind, info.Size(), info.ModTime())
	select {
	case w.docs <- doc:
		w.logger.Debug("inbox event", "type", kind, "path", event.Name)
	default:
		recordSkipped("backlog")
		w.logger.Warn("inbox backlog full, dropping event", "type", kind, "path", event.Name)
	}
}
