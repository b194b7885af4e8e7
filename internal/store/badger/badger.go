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

// Package badger provides an embedded key-value run store on BadgerDB.
// Each run keeps two keys: its encoded snapshot, and a small summary that
// listing and pruning scan without decoding whole snapshots.
package badger

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/goccy/go-json"

	"github.com/tombee/folio/pkg/engine"
	"github.com/tombee/folio/pkg/errors"
	"github.com/tombee/folio/pkg/execution"
)

// Compile-time interface assertions.
var (
	_ engine.Persister = (*Store)(nil)
	_ engine.Lister    = (*Store)(nil)
	_ engine.Pruner    = (*Store)(nil)
)

const (
	snapshotPrefix = "run:"
	summaryPrefix  = "summary:"
)

// Config contains BadgerDB configuration.
type Config struct {
	// Dir is the database directory. Ignored when InMemory is set.
	Dir string

	// InMemory keeps everything in memory; used by tests.
	InMemory bool

	// Logger receives BadgerDB's warnings and errors.
	Logger *slog.Logger
}

// Store is a BadgerDB run store.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
}

// New opens the database.
func New(cfg Config) (*Store, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "store.badger")

	var opts badger.Options
	switch {
	case cfg.InMemory:
		opts = badger.DefaultOptions("")
		opts.InMemory = true
	case cfg.Dir != "":
		opts = badger.DefaultOptions(cfg.Dir)
	default:
		return nil, &errors.ConfigError{Key: "store.path", Reason: "a directory is required for the badger store"}
	}
	opts.Logger = &badgerAdapter{logger: logger}
	opts.MemTableSize = 16 << 20
	opts.NumMemtables = 2
	opts.BlockCacheSize = 8 << 20
	opts.IndexCacheSize = 8 << 20

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Save writes the snapshot and summary in one transaction.
func (s *Store) Save(ctx context.Context, runID string, snap *execution.Snapshot) error {
	data, err := snap.Encode()
	if err != nil {
		return err
	}
	summary, err := json.Marshal(snap.State.Summary())
	if err != nil {
		return fmt.Errorf("failed to marshal run summary: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(snapshotPrefix+runID), data); err != nil {
			return err
		}
		return txn.Set([]byte(summaryPrefix+runID), summary)
	})
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// Load returns the latest snapshot of a run.
func (s *Store) Load(ctx context.Context, runID string) (*execution.Snapshot, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(snapshotPrefix + runID))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if stderrors.Is(err, badger.ErrKeyNotFound) {
		return nil, &errors.NotFoundError{Resource: "run", ID: runID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run: %w", err)
	}
	snap, err := execution.DecodeSnapshot(data)
	if err != nil {
		return nil, errors.Wrapf(err, "run %s", runID)
	}
	return snap, nil
}

// List returns a summary of every run, newest first.
func (s *Store) List(ctx context.Context) ([]execution.Summary, error) {
	runs, err := s.summaries()
	if err != nil {
		return nil, err
	}
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].RunID < runs[j].RunID
		}
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
	return runs, nil
}

// Prune deletes terminal runs completed before the cutoff.
func (s *Store) Prune(ctx context.Context, before time.Time) (int, error) {
	runs, err := s.summaries()
	if err != nil {
		return 0, err
	}

	n := 0
	err = s.db.Update(func(txn *badger.Txn) error {
		for _, sum := range runs {
			if !sum.Status.IsTerminal() || sum.CompletedAt == nil || !sum.CompletedAt.Before(before) {
				continue
			}
			if err := txn.Delete([]byte(snapshotPrefix + sum.RunID)); err != nil {
				return err
			}
			if err := txn.Delete([]byte(summaryPrefix + sum.RunID)); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	return n, nil
}

func (s *Store) summaries() ([]execution.Summary, error) {
	runs := []execution.Summary{}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(summaryPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				var sum execution.Summary
				if err := json.Unmarshal(val, &sum); err != nil {
					s.logger.Warn("skipping unreadable run summary", "key", string(item.Key()), "error", err)
					return nil
				}
				runs = append(runs, sum)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan runs: %w", err)
	}
	return runs, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// badgerAdapter routes BadgerDB logging to slog. Info and debug chatter is
// dropped.
type badgerAdapter struct {
	logger *slog.Logger
}

func (b *badgerAdapter) Errorf(format string, args ...interface{}) {
	b.logger.Error(fmt.Sprintf(format, args...))
}

func (b *badgerAdapter) Warningf(format string, args ...interface{}) {
	b.logger.Warn(fmt.Sprintf(format, args...))
}

func (b *badgerAdapter) Infof(format string, args ...interface{}) {}

func (b *badgerAdapter) Debugf(format string, args ...interface{}) {}
