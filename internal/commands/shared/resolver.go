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

package shared

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// WorkflowArg is a resolved workflow argument: either a file to register
// before use or a catalog reference ("id" or "id@version").
type WorkflowArg struct {
	Path string
	Ref  string
}

// ResolveWorkflowArg decides whether arg names a workflow file or a
// catalog reference. Resolution order:
// 1. arg exists as a file
// 2. arg.yaml exists
// 3. arg ends in .yaml or .yml but does not exist: error
// 4. otherwise arg is a catalog reference
func ResolveWorkflowArg(arg string) (WorkflowArg, error) {
	if info, err := os.Stat(arg); err == nil {
		if info.IsDir() {
			return WorkflowArg{}, fmt.Errorf("%q is a directory, not a workflow file", arg)
		}
		return WorkflowArg{Path: arg}, nil
	}

	if _, err := os.Stat(arg + ".yaml"); err == nil {
		return WorkflowArg{Path: arg + ".yaml"}, nil
	}

	switch strings.ToLower(filepath.Ext(arg)) {
	case ".yaml", ".yml":
		return WorkflowArg{}, fmt.Errorf("workflow file not found: %s", arg)
	}
	return WorkflowArg{Ref: arg}, nil
}
