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

// Package storetest holds the behaviour every run store must share.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/folio/pkg/engine"
	"github.com/tombee/folio/pkg/errors"
	"github.com/tombee/folio/pkg/execution"
	"github.com/tombee/folio/pkg/workflow"
)

// Store is what the conformance suite exercises.
type Store interface {
	engine.Persister
	engine.Lister
	engine.Pruner
}

var epoch = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

// NewState builds a run state created at epoch plus offset.
func NewState(runID string, offset time.Duration) *execution.State {
	def := &workflow.Definition{ID: "letters", Version: 2}
	return execution.NewState(runID, def, map[string]interface{}{"document": runID + ".tif"}, epoch.Add(offset))
}

func save(t *testing.T, s Store, st *execution.State) {
	t.Helper()
	require.NoError(t, s.Save(context.Background(), st.RunID, execution.NewSnapshot(st, st.UpdatedAt)))
}

// Run runs the conformance suite against a fresh store per subtest.
func Run(t *testing.T, open func(t *testing.T) Store) {
	t.Run("save and load", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		st := NewState("run-1", 0)
		st.Append(execution.Record{
			ID:       "01HQ",
			NodeID:   "ingest",
			NodeType: workflow.NodeTypeInput,
			Attempt:  1,
			Final:    true,
			Output:   map[string]interface{}{"pages": []interface{}{1.0, 2.0}},
			EndedAt:  epoch.Add(time.Second),
		})
		st.Frontier = []string{"triage"}
		save(t, s, st)

		snap, err := s.Load(ctx, "run-1")
		require.NoError(t, err)
		assert.Equal(t, execution.SnapshotVersion, snap.Version)
		assert.Equal(t, "letters", snap.State.WorkflowID)
		assert.Equal(t, 2, snap.State.WorkflowVersion)
		assert.Equal(t, []string{"triage"}, snap.State.Frontier)
		require.Len(t, snap.State.Records, 1)
		assert.Equal(t, map[string]interface{}{"pages": []interface{}{1.0, 2.0}}, snap.State.Records[0].Output)
	})

	t.Run("save replaces the earlier snapshot", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		st := NewState("run-1", 0)
		save(t, s, st)
		st.Finish(execution.StatusSucceeded, epoch.Add(time.Minute))
		save(t, s, st)

		snap, err := s.Load(ctx, "run-1")
		require.NoError(t, err)
		assert.Equal(t, execution.StatusSucceeded, snap.State.Status)
		require.NotNil(t, snap.State.CompletedAt)

		runs, err := s.List(ctx)
		require.NoError(t, err)
		require.Len(t, runs, 1)
		assert.Equal(t, execution.StatusSucceeded, runs[0].Status)
	})

	t.Run("load unknown run", func(t *testing.T) {
		s := open(t)
		_, err := s.Load(context.Background(), "missing")
		var nf *errors.NotFoundError
		assert.ErrorAs(t, err, &nf)
	})

	t.Run("list newest first", func(t *testing.T) {
		s := open(t)
		save(t, s, NewState("run-old", 0))
		save(t, s, NewState("run-new", time.Hour))
		save(t, s, NewState("run-mid", time.Minute))

		runs, err := s.List(context.Background())
		require.NoError(t, err)
		ids := make([]string, 0, len(runs))
		for _, r := range runs {
			ids = append(ids, r.RunID)
		}
		assert.Equal(t, []string{"run-new", "run-mid", "run-old"}, ids)
		assert.Equal(t, "letters", runs[0].WorkflowID)
		assert.Equal(t, execution.StatusRunning, runs[0].Status)
	})

	t.Run("prune removes old terminal runs only", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		old := NewState("old-done", 0)
		old.Finish(execution.StatusSucceeded, epoch.Add(time.Minute))
		save(t, s, old)

		recent := NewState("recent-done", 0)
		recent.Finish(execution.StatusFailed, epoch.Add(3*time.Hour))
		save(t, s, recent)

		save(t, s, NewState("suspended", 0))

		n, err := s.Prune(ctx, epoch.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		_, err = s.Load(ctx, "old-done")
		var nf *errors.NotFoundError
		assert.ErrorAs(t, err, &nf)

		runs, err := s.List(ctx)
		require.NoError(t, err)
		assert.Len(t, runs, 2)
	})
}
