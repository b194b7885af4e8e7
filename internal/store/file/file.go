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

// Package file provides a run store that keeps one snapshot file per run
// in a directory. It suits single-process deployments that want runs to
// survive a restart without running a database.
package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tombee/folio/pkg/engine"
	"github.com/tombee/folio/pkg/errors"
	"github.com/tombee/folio/pkg/execution"
)

// Compile-time interface assertions.
var (
	_ engine.Persister = (*Store)(nil)
	_ engine.Lister    = (*Store)(nil)
	_ engine.Pruner    = (*Store)(nil)
)

const snapshotExt = ".json"

// Config contains file store configuration.
type Config struct {
	// Dir is the directory snapshot files are written to. It is created
	// if missing.
	Dir string
}

// Store persists run snapshots as files.
type Store struct {
	mu  sync.RWMutex
	dir string
}

// New creates a file store rooted at cfg.Dir.
func New(cfg Config) (*Store, error) {
	if cfg.Dir == "" {
		return nil, &errors.ConfigError{Key: "store.path", Reason: "a directory is required for the file store"}
	}
	if err := os.MkdirAll(cfg.Dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &Store{dir: cfg.Dir}, nil
}

// Save writes the snapshot atomically: a reader sees the old or the new
// snapshot, never a torn one.
func (s *Store) Save(ctx context.Context, runID string, snap *execution.Snapshot) error {
	path, err := s.path(runID)
	if err != nil {
		return err
	}
	data, err := snap.Encode()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, "."+runID+"-*")
	if err != nil {
		return fmt.Errorf("failed to create snapshot file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}

// Load reads the latest snapshot of a run.
func (s *Store) Load(ctx context.Context, runID string) (*execution.Snapshot, error) {
	path, err := s.path(runID)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read(path, runID)
}

func (s *Store) read(path, runID string) (*execution.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &errors.NotFoundError{Resource: "run", ID: runID}
		}
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	snap, err := execution.DecodeSnapshot(data)
	if err != nil {
		return nil, errors.Wrapf(err, "run %s", runID)
	}
	return snap, nil
}

// List returns a summary of every stored run, newest first.
func (s *Store) List(ctx context.Context) ([]execution.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids, err := s.runIDs()
	if err != nil {
		return nil, err
	}
	out := make([]execution.Summary, 0, len(ids))
	for _, id := range ids {
		snap, err := s.read(filepath.Join(s.dir, id+snapshotExt), id)
		if err != nil {
			return nil, err
		}
		out = append(out, snap.State.Summary())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].RunID < out[j].RunID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Prune deletes terminal runs completed before the cutoff.
func (s *Store) Prune(ctx context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids, err := s.runIDs()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		path := filepath.Join(s.dir, id+snapshotExt)
		snap, err := s.read(path, id)
		if err != nil {
			return n, err
		}
		sum := snap.State.Summary()
		if !sum.Status.IsTerminal() || sum.CompletedAt == nil || !sum.CompletedAt.Before(before) {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return n, fmt.Errorf("failed to delete snapshot: %w", err)
		}
		n++
	}
	return n, nil
}

// Close is a no-op; every write is already on disk.
func (s *Store) Close() error { return nil }

func (s *Store) runIDs() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read store directory: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, snapshotExt) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, snapshotExt))
	}
	return ids, nil
}

// path returns the snapshot file of a run. Run ids are used as file names,
// so anything that could escape the directory is rejected.
func (s *Store) path(runID string) (string, error) {
	if runID == "" || runID != filepath.Base(runID) || strings.HasPrefix(runID, ".") {
		return "", &errors.ValidationError{Field: "run_id", Message: fmt.Sprintf("invalid run id %q", runID)}
	}
	return filepath.Join(s.dir, runID+snapshotExt), nil
}
