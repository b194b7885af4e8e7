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

package expression

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var (
	// Matches nodes.id (expr-lang member access)
	nodeRefPattern = regexp.MustCompile(`\bnodes\.([A-Za-z_][A-Za-z0-9_]*)`)
	// Matches nodes["id"] (expr-lang index access)
	nodeIndexPattern = regexp.MustCompile(`\bnodes\[\s*["']([A-Za-z_][A-Za-z0-9_]*)["']\s*\]`)
	// Matches local.x or one of the bare local names
	localRefPattern = regexp.MustCompile(`\blocal\b`)
)

// NodeReferences extracts the unique node ids an expression reads from,
// sorted for stable error messages.
//
// Example:
//
//	NodeReferences(`nodes.ocr.confidence > 0.8 && nodes["detect"].script == "latin"`)
//	// []string{"detect", "ocr"}
func NodeReferences(expression string) []string {
	set := make(map[string]bool)
	for _, m := range nodeRefPattern.FindAllStringSubmatch(expression, -1) {
		set[m[1]] = true
	}
	for _, m := range nodeIndexPattern.FindAllStringSubmatch(expression, -1) {
		set[m[1]] = true
	}

	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// UsesLocal reports whether an expression reads the local root explicitly.
func UsesLocal(expression string) bool {
	return localRefPattern.MatchString(expression)
}

// ValidateNodeReferences checks that every node an expression reads from is
// in the allowed set.
func ValidateNodeReferences(expression string, allowed map[string]bool) error {
	var invalid []string
	for _, id := range NodeReferences(expression) {
		if !allowed[id] {
			invalid = append(invalid, id)
		}
	}
	if len(invalid) > 0 {
		return fmt.Errorf("expression reads node(s) not guaranteed to have run: %s", strings.Join(invalid, ", "))
	}
	return nil
}
