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
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	folioerrors "github.com/tombee/folio/pkg/errors"
)

type fakeStarter struct {
	mu    sync.Mutex
	calls []map[string]interface{}
	refs  []string
	err   error
}

func (f *fakeStarter) StartRun(ctx context.Context, workflowRef string, payload interface{}) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.refs = append(f.refs, workflowRef)
	f.calls = append(f.calls, payload.(map[string]interface{}))
	return "run-" + itoa(int64(len(f.calls))), nil
}

func (f *fakeStarter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeStarter) document(i int) *Document {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[i]["document"].(*Document)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNew_Validation(t *testing.T) {
	starter := &fakeStarter{}

	_, err := New(Config{Workflow: "standard"}, starter, nil)
	var cfgErr *folioerrors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "inbox.dir", cfgErr.Key)

	_, err = New(Config{Dir: t.TempDir()}, starter, nil)
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "inbox.workflow", cfgErr.Key)

	_, err = New(Config{Dir: filepath.Join(t.TempDir(), "missing"), Workflow: "standard"}, starter, nil)
	require.ErrorAs(t, err, &cfgErr)

	file := filepath.Join(t.TempDir(), "file.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0600))
	_, err = New(Config{Dir: file, Workflow: "standard"}, starter, nil)
	assert.Error(t, err)
}

func TestSubmit_DeduplicatesSameVersion(t *testing.T) {
	starter := &fakeStarter{}
	in, err := New(Config{Dir: t.TempDir(), Workflow: "standard"}, starter, quietLogger())
	require.NoError(t, err)

	mtime := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	doc := NewDocument(filepath.Join(in.Dir(), "scan.pdf"), "created", 10, mtime)

	runID, err := in.Submit(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, "run-1", runID)

	runID, err = in.Submit(context.Background(), NewDocument(doc.Path, "modified", 10, mtime))
	require.NoError(t, err)
	assert.Empty(t, runID, "an unchanged file must not start a second run")

	runID, err = in.Submit(context.Background(), NewDocument(doc.Path, "modified", 12, mtime.Add(time.Second)))
	require.NoError(t, err)
	assert.Equal(t, "run-2", runID)

	assert.Equal(t, []string{"standard", "standard"}, starter.refs)
	assert.Equal(t, "inbox", starter.calls[0]["source"])
}

func TestSubmit_FailedStartCanBeRetried(t *testing.T) {
	starter := &fakeStarter{err: errors.New("engine is shutting down")}
	in, err := New(Config{Dir: t.TempDir(), Workflow: "standard"}, starter, quietLogger())
	require.NoError(t, err)

	doc := NewDocument(filepath.Join(in.Dir(), "scan.pdf"), "created", 10, time.Now())
	_, err = in.Submit(context.Background(), doc)
	require.Error(t, err)

	starter.err = nil
	runID, err := in.Submit(context.Background(), doc)
	require.NoError(t, err)
	assert.NotEmpty(t, runID)
}

func TestSubmit_RateLimitHonoursContext(t *testing.T) {
	starter := &fakeStarter{}
	in, err := New(Config{Dir: t.TempDir(), Workflow: "standard", RateLimit: 0.001, Burst: 1}, starter, quietLogger())
	require.NoError(t, err)

	_, err = in.Submit(context.Background(), NewDocument(filepath.Join(in.Dir(), "a.pdf"), "created", 1, time.Now()))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = in.Submit(ctx, NewDocument(filepath.Join(in.Dir(), "b.pdf"), "created", 1, time.Now()))
	assert.Error(t, err)
	assert.Equal(t, 1, starter.count())
}

func TestInbox_StartsRunForDroppedDocument(t *testing.T) {
	dir := t.TempDir()
	starter := &fakeStarter{}
	in, err := New(Config{
		Dir:      dir,
		Workflow: "standard@2",
		Include:  []string{"*.pdf"},
		Debounce: 30 * time.Millisecond,
	}, starter, quietLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, in.Start(ctx))
	defer in.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.txt"), []byte("notes"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".scan.pdf.swp"), []byte("swap"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scan.pdf"), []byte("%PDF-1.7"), 0600))

	require.Eventually(t, func() bool { return starter.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	// give stray events time to arrive; none may start another run
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, starter.count())

	doc := starter.document(0)
	assert.Equal(t, "scan.pdf", doc.Name)
	assert.Equal(t, int64(8), doc.Size)
	assert.Equal(t, "standard@2", starter.refs[0])
}

func TestInbox_RecursiveWatchesNewDirectories(t *testing.T) {
	dir := t.TempDir()
	starter := &fakeStarter{}
	in, err := New(Config{Dir: dir, Workflow: "standard", Recursive: true}, starter, quietLogger())
	require.NoError(t, err)

	require.NoError(t, in.Start(context.Background()))
	defer in.Stop()

	sub := filepath.Join(dir, "2025")
	require.NoError(t, os.Mkdir(sub, 0700))
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(sub, "letter.tif"), []byte("II*"), 0600))

	require.Eventually(t, func() bool { return starter.count() >= 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, filepath.Join(in.Dir(), "2025"), starter.document(0).Dir)
}

func TestInbox_StartTwice(t *testing.T) {
	in, err := New(Config{Dir: t.TempDir(), Workflow: "standard"}, &fakeStarter{}, quietLogger())
	require.NoError(t, err)

	require.NoError(t, in.Start(context.Background()))
	assert.Error(t, in.Start(context.Background()))
	require.NoError(t, in.Stop())
	require.NoError(t, in.Stop())
}
