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
	"path/filepath"
	"time"
)

// Document describes a file dropped into the inbox. It becomes the trigger
// payload of the run started for it, so workflows reference it as
// trigger.document.path, trigger.document.ext and so on.
type Document struct {
	// Path is the absolute path to the file
	Path string `json:"path"`

	// Name is the filename without directory component
	Name string `json:"name"`

	// Dir is the directory containing the file
	Dir string `json:"dir"`

	// Ext is the lower-cased file extension including the dot (".pdf")
	Ext string `json:"ext"`

	// Event is the filesystem event that surfaced the file: created or modified
	Event string `json:"event"`

	Size  int64     `json:"size"`
	MTime time.Time `json:"mtime"`
}

// NewDocument creates a document from a path and its stat results.
func NewDocument(path, event string, size int64, mtime time.Time) *Document {
	return &Document{
		Path:  path,
		Name:  filepath.Base(path),
		Dir:   filepath.Dir(path),
		Ext:   lowerExt(path),
		Event: event,
		Size:  size,
		MTime: mtime,
	}
}

// signature identifies one version of a file's content for deduplication.
func (d *Document) signature() string {
	return d.Path + "|" + d.MTime.UTC().Format(time.RFC3339Nano) + "|" + itoa(d.Size)
}

// Trigger returns the run payload for the document.
func (d *Document) Trigger() map[string]interface{} {
	return map[string]interface{}{
		"source":   "inbox",
		"document": d,
	}
}
