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

package completion

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/tombee/folio/internal/commands/shared"
)

func workflowDoc(id string) []byte {
	return []byte(fmt.Sprintf("id: %s\nentry: a\nnodes:\n  - id: a\n    type: processing\n    handler: passthrough\n", id))
}

func TestWorkflowID(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		expected bool
	}{
		{
			name:     "workflow definition",
			content:  string(workflowDoc("letters")),
			expected: true,
		},
		{
			name:     "YAML without nodes",
			content:  "id: letters\nentry: a\n",
			expected: false,
		},
		{
			name:     "YAML without id",
			content:  "nodes: []\n",
			expected: false,
		},
		{
			name:     "invalid YAML",
			content:  `{{{invalid`,
			expected: false,
		},
		{
			name:     "empty file",
			content:  "",
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			testFile := filepath.Join(t.TempDir(), "test.yaml")
			if err := os.WriteFile(testFile, []byte(tt.content), 0600); err != nil {
				t.Fatalf("Failed to create test file: %v", err)
			}

			id, ok := workflowID(testFile)
			if ok != tt.expected {
				t.Errorf("workflowID() ok = %v, want %v", ok, tt.expected)
			}
			if ok && id != "letters" {
				t.Errorf("workflowID() = %q, want letters", id)
			}
		})
	}
}

func TestWorkflowID_NonexistentFile(t *testing.T) {
	if _, ok := workflowID("/nonexistent/file.yaml"); ok {
		t.Error("workflowID() should fail for a nonexistent file")
	}
}

func TestIsSafeFile(t *testing.T) {
	tmpDir := t.TempDir()

	regularFile := filepath.Join(tmpDir, "regular.yaml")
	if err := os.WriteFile(regularFile, []byte("test"), 0600); err != nil {
		t.Fatalf("Failed to create regular file: %v", err)
	}
	if !isSafeFile(regularFile) {
		t.Error("Regular file should be safe")
	}

	symlinkFile := filepath.Join(tmpDir, "symlink.yaml")
	if err := os.Symlink(regularFile, symlinkFile); err != nil {
		t.Skipf("Cannot create symlink (may not be supported): %v", err)
	}
	if isSafeFile(symlinkFile) {
		t.Error("Symlink should not be safe")
	}
}

func TestDiscoverWorkflowFiles_DepthLimit(t *testing.T) {
	tmpDir := t.TempDir()

	dir := tmpDir
	for depth := 0; depth <= 3; depth++ {
		if depth > 0 {
			dir = filepath.Join(dir, fmt.Sprintf("level%d", depth))
			if err := os.Mkdir(dir, 0755); err != nil {
				t.Fatal(err)
			}
		}
		name := fmt.Sprintf("workflow%d", depth)
		if err := os.WriteFile(filepath.Join(dir, name+".yaml"), workflowDoc(name), 0600); err != nil {
			t.Fatal(err)
		}
	}
	// Not a workflow
	os.WriteFile(filepath.Join(tmpDir, "config.yaml"), []byte("log:\n  level: debug\n"), 0600)

	t.Chdir(tmpDir)

	files, err := discoverWorkflowFiles(".", 2)
	if err != nil {
		t.Fatalf("discoverWorkflowFiles failed: %v", err)
	}
	if len(files) != 3 {
		t.Errorf("Expected 3 files, got %d", len(files))
	}
	for _, f := range files {
		if strings.Contains(f.path, "level3") {
			t.Error("Should not include files at depth 3")
		}
		if strings.Contains(f.path, "config.yaml") {
			t.Error("Should not include non-workflow YAML")
		}
	}
}

func TestCompleteWorkflowFiles_Limit(t *testing.T) {
	tmpDir := t.TempDir()
	for i := 0; i < 150; i++ {
		name := fmt.Sprintf("workflow%03d", i)
		os.WriteFile(filepath.Join(tmpDir, name+".yaml"), workflowDoc(name), 0600)
	}

	t.Chdir(tmpDir)

	results, directive := CompleteWorkflowFiles(nil, nil, "")
	if directive != cobra.ShellCompDirectiveDefault {
		t.Errorf("Expected Default directive, got %v", directive)
	}
	if len(results) != maxWorkflowFiles {
		t.Fatalf("Expected %d files, got %d", maxWorkflowFiles, len(results))
	}
	parts := strings.SplitN(results[0], "\t", 2)
	if len(parts) != 2 || parts[1] != strings.TrimSuffix(filepath.Base(parts[0]), ".yaml") {
		t.Errorf("Expected the workflow id as description, got %q", results[0])
	}
}

func TestCompleteWorkflowFiles_RegisteredIDs(t *testing.T) {
	tmpDir := t.TempDir()
	wfDir := filepath.Join(tmpDir, "workflows")
	if err := os.MkdirAll(filepath.Join(wfDir, "letters"), 0755); err != nil {
		t.Fatal(err)
	}
	os.WriteFile(filepath.Join(wfDir, "standard.yaml"), workflowDoc("standard"), 0600)
	os.WriteFile(filepath.Join(wfDir, "letters", "classical.yml"), workflowDoc("classical"), 0600)
	os.WriteFile(filepath.Join(wfDir, "letters", "classical-v2.yml"), workflowDoc("classical"), 0600)

	cfgPath := filepath.Join(tmpDir, "config.yaml")
	os.WriteFile(cfgPath, []byte(fmt.Sprintf("workflows:\n  dir: %s\n", wfDir)), 0600)
	shared.SetConfigPathForTest(cfgPath)
	t.Cleanup(func() { shared.SetConfigPathForTest("") })

	t.Chdir(t.TempDir())

	results, _ := CompleteWorkflowFiles(nil, nil, "")
	if len(results) != 2 || results[0] != "classical" || results[1] != "standard" {
		t.Errorf("Expected [classical standard], got %v", results)
	}
}
