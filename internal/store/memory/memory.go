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

// Package memory provides an in-memory run store for tests and
// single-process use. Snapshots are kept encoded, so callers never share
// state with the store.
package memory

import (
	"context"
	"sort"
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

type entry struct {
	data    []byte
	summary execution.Summary
}

// Store is an in-memory run store.
type Store struct {
	mu    sync.RWMutex
	runs  map[string]entry
	saves int
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{runs: make(map[string]entry)}
}

// Save stores a snapshot, replacing any earlier one for the run.
func (s *Store) Save(ctx context.Context, runID string, snap *execution.Snapshot) error {
	data, err := snap.Encode()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[runID] = entry{data: data, summary: snap.State.Summary()}
	s.saves++
	return nil
}

// Load returns the latest snapshot of a run.
func (s *Store) Load(ctx context.Context, runID string) (*execution.Snapshot, error) {
	s.mu.RLock()
	e, ok := s.runs[runID]
	s.mu.RUnlock()
	if !ok {
		return nil, &errors.NotFoundError{Resource: "run", ID: runID}
	}
	return execution.DecodeSnapshot(e.data)
}

// List returns a summary of every run, newest first.
func (s *Store) List(ctx context.Context) ([]execution.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]execution.Summary, 0, len(s.runs))
	for _, e := range s.runs {
		out = append(out, e.summary)
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

	n := 0
	for id, e := range s.runs {
		sum := e.summary
		if sum.Status.IsTerminal() && sum.CompletedAt != nil && sum.CompletedAt.Before(before) {
			delete(s.runs, id)
			n++
		}
	}
	return n, nil
}

// Saves returns how many snapshots have been written.
func (s *Store) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}

// Close is a no-op.
func (s *Store) Close() error { return nil }
