package engine

import (
	"context"
	"time"

	"github.com/tombee/folio/pkg/execution"
)

// Persister durably stores execution state between node invocations.
//
// Save is called after every appended record and on every status change.
// Implementations must tolerate concurrent saves for different runs; for
// the same run, the last write wins. Load returns an errors.NotFoundError
// for unknown runs.
type Persister interface {
	Save(ctx context.Context, runID string, snap *execution.Snapshot) error
	Load(ctx context.Context, runID string) (*execution.Snapshot, error)
}

// Lister is implemented by persisters that can enumerate runs.
type Lister interface {
	List(ctx context.Context) ([]execution.Summary, error)
}

// Pruner is implemented by persisters that can delete old terminal runs.
type Pruner interface {
	// Prune deletes terminal runs completed before the cutoff and returns
	// how many were removed. Running runs are never pruned.
	Prune(ctx context.Context, before time.Time) (int, error)
}
