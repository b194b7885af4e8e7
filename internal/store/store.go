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

// Package store opens the configured run store.
package store

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/tombee/folio/internal/config"
	"github.com/tombee/folio/internal/store/badger"
	"github.com/tombee/folio/internal/store/file"
	"github.com/tombee/folio/internal/store/memory"
	"github.com/tombee/folio/internal/store/sqlite"
	"github.com/tombee/folio/pkg/engine"
	"github.com/tombee/folio/pkg/errors"
)

// Backend names accepted in configuration.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
)

// Store is a run store that can also list, prune and be closed.
type Store interface {
	engine.Persister
	engine.Lister
	engine.Pruner
	io.Closer
}

// Compile-time interface assertions.
var (
	_ Store = (*memory.Store)(nil)
	_ Store = (*file.Store)(nil)
	_ Store = (*sqlite.Store)(nil)
	_ Store = (*badger.Store)(nil)
)

// Open creates the store named by cfg.Backend. A relative or empty path is
// resolved against dataDir.
func Open(cfg config.StoreConfig, dataDir string, logger *slog.Logger) (Store, error) {
	path := cfg.Path
	if path != "" && !filepath.IsAbs(path) && dataDir != "" {
		path = filepath.Join(dataDir, path)
	}

	switch cfg.Backend {
	case BackendMemory, "":
		return memory.New(), nil
	case BackendFile:
		if path == "" {
			path = filepath.Join(dataDir, "runs")
		}
		return file.New(file.Config{Dir: path})
	case BackendSQLite:
		if path == "" {
			path = filepath.Join(dataDir, "folio.db")
		}
		s, err := sqlite.New(sqlite.Config{Path: path, WAL: cfg.WAL})
		if err != nil {
			return nil, fmt.Errorf("failed to create sqlite store: %w", err)
		}
		return s, nil
	case BackendBadger:
		if path == "" {
			path = filepath.Join(dataDir, "badger")
		}
		s, err := badger.New(badger.Config{Dir: path, Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("failed to create badger store: %w", err)
		}
		return s, nil
	default:
		return nil, &errors.ConfigError{
			Key:    "store.backend",
			Reason: fmt.Sprintf("unknown store backend %q (expected memory, file, sqlite or badger)", cfg.Backend),
		}
	}
}
