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

package handlers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/tombee/folio/pkg/errors"
	"github.com/tombee/folio/pkg/handler"
)

// Record is one line written by sink.jsonl.
type Record struct {
	RunID      string      `json:"run_id"`
	WorkflowID string      `json:"workflow_id"`
	Version    int         `json:"version"`
	NodeID     string      `json:"node_id"`
	Scope      string      `json:"scope,omitempty"`
	WrittenAt  time.Time   `json:"written_at"`
	Data       interface{} `json:"data"`
}

// sink appends the node's inputs to <dir>/<workflow id>.jsonl.
// config.file overrides the file name.
type sink struct {
	dir string
	now func() time.Time

	mu sync.Mutex
}

func newSink(dir string) *sink {
	if dir == "" {
		dir = "."
	}
	return &sink{dir: dir, now: time.Now}
}

func (s *sink) Invoke(ctx context.Context, inputs map[string]interface{}, config map[string]interface{}) (interface{}, error) {
	inv, _ := handler.InvocationFrom(ctx)

	name, err := stringConfig(config, "file", false)
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = inv.WorkflowID
		if name == "" {
			name = "output"
		}
		name += ".jsonl"
	}
	if filepath.Base(name) != name {
		return nil, errors.Permanentf("config.file %q must be a plain file name", name)
	}

	rec := Record{
		RunID:      inv.RunID,
		WorkflowID: inv.WorkflowID,
		Version:    inv.WorkflowVersion,
		NodeID:     inv.NodeID,
		Scope:      inv.Scope,
		WrittenAt:  s.now().UTC(),
		Data:       inputs,
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return nil, &errors.PermanentError{Message: "record is not JSON-serializable", Cause: err}
	}
	line = append(line, '\n')

	path := filepath.Join(s.dir, name)
	if err := s.append(path, line); err != nil {
		return nil, &errors.TransientError{Message: fmt.Sprintf("write %s", path), Cause: err}
	}

	return map[string]interface{}{
		"file":  path,
		"bytes": len(line),
	}, nil
}

func (s *sink) append(path string, line []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(line); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
