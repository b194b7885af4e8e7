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

package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/folio/internal/store/storetest"
	"github.com/tombee/folio/pkg/execution"
)

// createTestStore creates a SQLite store in a temporary directory.
func createTestStore(t *testing.T, path string) *Store {
	t.Helper()
	s, err := New(Config{Path: path, WAL: true})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Store {
		return createTestStore(t, filepath.Join(t.TempDir(), "folio.db"))
	})
}

func TestStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "folio.db")
	ctx := context.Background()

	s, err := New(Config{Path: path})
	require.NoError(t, err)
	st := storetest.NewState("run-1", 0)
	st.Frontier = []string{"ocr"}
	require.NoError(t, s.Save(ctx, "run-1", execution.NewSnapshot(st, st.CreatedAt)))
	require.NoError(t, s.Close())

	reopened := createTestStore(t, path)
	snap, err := reopened.Load(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"ocr"}, snap.State.Frontier)
}

func TestStore_CompletedAtRoundTrips(t *testing.T) {
	s := createTestStore(t, filepath.Join(t.TempDir(), "folio.db"))
	ctx := context.Background()

	st := storetest.NewState("run-1", 0)
	st.Finish(execution.StatusCancelled, st.CreatedAt.Add(90))
	require.NoError(t, s.Save(ctx, "run-1", execution.NewSnapshot(st, st.CreatedAt)))

	runs, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.NotNil(t, runs[0].CompletedAt)
	assert.True(t, runs[0].CompletedAt.Equal(*st.CompletedAt))
	assert.Equal(t, execution.StatusCancelled, runs[0].Status)
}

func TestNew_RequiresPath(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}
