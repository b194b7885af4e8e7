package execution

import (
	"fmt"
	"time"

	json "github.com/goccy/go-json"

	"github.com/tombee/folio/pkg/errors"
)

// SnapshotVersion is the current snapshot encoding version.
const SnapshotVersion = 1

// Snapshot is the persisted form of a run's state. It is written after
// every appended record, so a run interrupted between two records resumes
// from the last one with nothing lost and nothing repeated.
type Snapshot struct {
	Version int       `json:"version"`
	State   *State    `json:"state"`
	SavedAt time.Time `json:"saved_at"`
}

// NewSnapshot captures a copy of state.
func NewSnapshot(state *State, now time.Time) *Snapshot {
	return &Snapshot{
		Version: SnapshotVersion,
		State:   state.Clone(),
		SavedAt: now,
	}
}

// Encode serializes a snapshot.
func (s *Snapshot) Encode() ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return data, nil
}

// DecodeSnapshot parses a snapshot. A snapshot that cannot be trusted is a
// FatalEngineError: resuming from it could re-run or skip nodes.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, &errors.FatalEngineError{Message: "corrupt snapshot", Cause: err}
	}
	if s.Version != SnapshotVersion {
		return nil, &errors.FatalEngineError{
			Message: fmt.Sprintf("unsupported snapshot version %d (expected %d)", s.Version, SnapshotVersion),
		}
	}
	if s.State == nil || s.State.RunID == "" {
		return nil, &errors.FatalEngineError{Message: "snapshot has no run state"}
	}
	if s.State.Records == nil {
		s.State.Records = []Record{}
	}
	if s.State.Frontier == nil {
		s.State.Frontier = []string{}
	}
	return &s, nil
}

// Normalize converts a value to its JSON data model (maps, slices, strings,
// float64, bool and nil). Outputs and trigger payloads are normalized before
// they enter the log so a resumed run sees exactly what the original saw.
func Normalize(v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("value is not JSON-serializable: %w", err)
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("value is not JSON-serializable: %w", err)
	}
	return out, nil
}
