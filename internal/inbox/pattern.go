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
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// PatternMatcher handles include and exclude glob matching for inbox files.
// Patterns use doublestar syntax, so "**/*.pdf" matches at any depth.
type PatternMatcher struct {
	include []string
	exclude []string
}

// NewPatternMatcher creates a matcher. An empty include list admits every
// file; exclude patterns are applied after include patterns.
func NewPatternMatcher(include, exclude []string) (*PatternMatcher, error) {
	for _, pattern := range include {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid include pattern %q", pattern)
		}
	}
	for _, pattern := range exclude {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid exclude pattern %q", pattern)
		}
	}
	return &PatternMatcher{include: include, exclude: exclude}, nil
}

// Match reports whether path is admitted. Patterns are tried against the
// full path and the base name.
func (pm *PatternMatcher) Match(path string) bool {
	included := len(pm.include) == 0
	for _, pattern := range pm.include {
		if matchPattern(pattern, path) {
			included = true
			break
		}
	}
	if !included {
		return false
	}

	for _, pattern := range pm.exclude {
		if matchPattern(pattern, path) {
			return false
		}
	}
	return true
}

func matchPattern(pattern, path string) bool {
	if matched, _ := doublestar.PathMatch(pattern, path); matched {
		return true
	}
	matched, _ := doublestar.Match(pattern, filepath.Base(path))
	return matched
}

// DefaultExcludePatterns returns editor swap files, partial downloads and
// system files that never hold a finished document.
func DefaultExcludePatterns() []string {
	return []string{
		".*",
		"*~",
		"*.swp",
		"*.tmp",
		"*.part",
		"*.crdownload",
		"Thumbs.db",
	}
}

func lowerExt(path string) string {
	return strings.ToLower(filepath.Ext(path))
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
