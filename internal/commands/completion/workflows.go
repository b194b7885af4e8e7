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
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const (
	maxWorkflowFiles = 100
	maxSearchDepth   = 2
)

type workflowFile struct {
	path    string
	id      string
	modTime int64
}

// CompleteWorkflowFiles completes the workflow argument of run and validate.
// It offers the ids registered from the configured workflows directory,
// then .yaml and .yml files up to two directories below the working
// directory that look like workflow definitions, newest first. At most 100
// files are returned.
func CompleteWorkflowFiles(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return SafeCompletionWrapper(func() ([]string, cobra.ShellCompDirective) {
		completions := registeredWorkflowIDs()

		files, err := discoverWorkflowFiles(".", maxSearchDepth)
		if err != nil {
			return completions, cobra.ShellCompDirectiveDefault
		}
		sort.Slice(files, func(i, j int) bool {
			return files[i].modTime > files[j].modTime
		})
		if len(files) > maxWorkflowFiles {
			files = files[:maxWorkflowFiles]
		}
		for _, f := range files {
			completions = append(completions, f.path+"\t"+f.id)
		}
		return completions, cobra.ShellCompDirectiveDefault
	})
}

// registeredWorkflowIDs lists the distinct workflow ids in the configured
// workflows directory.
func registeredWorkflowIDs() []string {
	cfg, err := LoadConfigForCompletion()
	if err != nil || cfg == nil || cfg.Workflows.Dir == "" {
		return nil
	}
	files, err := discoverWorkflowFiles(cfg.Workflows.Dir, maxSearchDepth)
	if err != nil {
		return nil
	}

	seen := make(map[string]bool, len(files))
	var ids []string
	for _, f := range files {
		if !seen[f.id] {
			seen[f.id] = true
			ids = append(ids, f.id)
		}
	}
	sort.Strings(ids)
	return ids
}

// discoverWorkflowFiles walks root up to maxDepth directories deep.
func discoverWorkflowFiles(root string, maxDepth int) ([]workflowFile, error) {
	var files []workflowFile

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}

		relPath, _ := filepath.Rel(root, path)
		depth := strings.Count(relPath, string(filepath.Separator))
		if depth > maxDepth {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		if d.IsDir() && strings.HasPrefix(d.Name(), ".") && path != root {
			return fs.SkipDir
		}
		if d.IsDir() || (!strings.HasSuffix(path, ".yaml") && !strings.HasSuffix(path, ".yml")) {
			return nil
		}
		if !isSafeFile(path) {
			return nil
		}
		id, ok := workflowID(path)
		if !ok {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		files = append(files, workflowFile{
			path:    path,
			id:      id,
			modTime: info.ModTime().Unix(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// isSafeFile rejects symlinks in the final path component.
func isSafeFile(path string) bool {
	info, err := os.Lstat(path)
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeSymlink == 0
}

// workflowID returns the id of a YAML file with top-level id and nodes
// keys. Other YAML files are not workflows.
func workflowID(path string) (string, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}

	var doc struct {
		ID    string        `yaml:"id"`
		Nodes []interface{} `yaml:"nodes"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return "", false
	}
	return doc.ID, doc.ID != "" && doc.Nodes != nil
}
