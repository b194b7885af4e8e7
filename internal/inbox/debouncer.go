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
	"sync"
	"time"
)

// Debouncer delays delivery of a document until no new event for the same
// path arrives within the window. Scanners and copy tools write a file in
// several chunks; only the settled file should start a run. Each path has its
// own timer and only the latest event is delivered.
type Debouncer struct {
	mu      sync.Mutex
	window  time.Duration
	timers  map[string]*debounceTimer
	onFlush func(*Document)
	stopped bool
}

type debounceTimer struct {
	timer *time.Timer
	doc   *Document
}

// NewDebouncer creates a debouncer that calls onFlush with the latest
// document for a path once the window elapses.
func NewDebouncer(window time.Duration, onFlush func(*Document)) *Debouncer {
	return &Debouncer{
		window:  window,
		timers:  make(map[string]*debounceTimer),
		onFlush: onFlush,
	}
}

// Add records an event, resetting the path's timer.
func (d *Debouncer) Add(doc *Document) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	path := doc.Path
	dt, exists := d.timers[path]
	if exists {
		dt.timer.Stop()
		dt.doc = doc
	} else {
		dt = &debounceTimer{doc: doc}
		d.timers[path] = dt
	}

	dt.timer = time.AfterFunc(d.window, func() {
		d.flush(path)
	})
}

func (d *Debouncer) flush(path string) {
	d.mu.Lock()
	dt, exists := d.timers[path]
	if !exists {
		d.mu.Unlock()
		return
	}
	delete(d.timers, path)
	d.mu.Unlock()

	// outside the lock: onFlush may start a run
	if d.onFlush != nil {
		d.onFlush(dt.doc)
	}
}

// Stop cancels all timers and flushes the pending documents.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true

	pending := make([]*Document, 0, len(d.timers))
	for path, dt := range d.timers {
		dt.timer.Stop()
		pending = append(pending, dt.doc)
		delete(d.timers, path)
	}
	d.mu.Unlock()

	if d.onFlush != nil {
		for _, doc := range pending {
			d.onFlush(doc)
		}
	}
}

// Pending returns the number of paths with pending timers.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.timers)
}
