// Package execution holds the per-run execution state: an append-only log of
// node invocation records plus run metadata. Everything else about a run (the
// current view of node outputs, the frontier of runnable nodes) is derived
// from that log, which is what makes runs replayable and resumable.
package execution

import (
	"time"

	"github.com/tombee/folio/pkg/errors"
	"github.com/tombee/folio/pkg/workflow"
)

// Status represents the lifecycle status of a run.
type Status string

const (
	// StatusRunning indicates the run is in progress or suspended.
	StatusRunning Status = "running"

	// StatusSucceeded indicates the run reached the end of every live path.
	StatusSucceeded Status = "succeeded"

	// StatusFailed indicates the run was terminated by an unrecovered error.
	StatusFailed Status = "failed"

	// StatusCancelled indicates the run was cancelled on request.
	StatusCancelled Status = "cancelled"
)

// IsTerminal returns true if the status is a final state.
func (s Status) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

// ErrorRecord is a classified failure kept in the run's history.
type ErrorRecord struct {
	// Class is the failure classification
	Class errors.Class `json:"class"`

	// Message is the error text
	Message string `json:"message"`

	// NodeID is the failing node, if any
	NodeID string `json:"node_id,omitempty"`

	// Scope locates the node inside loop or parallel sub-runs
	Scope string `json:"scope,omitempty"`

	// Attempt is the failing attempt number
	Attempt int `json:"attempt,omitempty"`

	// At is when the failure was recorded
	At time.Time `json:"at"`
}

// NewErrorRecord classifies err into an ErrorRecord.
func NewErrorRecord(err error, nodeID, scope string, attempt int, at time.Time) *ErrorRecord {
	if err == nil {
		return nil
	}
	return &ErrorRecord{
		Class:   errors.Classify(err),
		Message: err.Error(),
		NodeID:  nodeID,
		Scope:   scope,
		Attempt: attempt,
		At:      at,
	}
}

// Record is one node invocation in the execution log. Records are immutable
// once appended; a retry appends a new record with the next attempt number.
type Record struct {
	// ID is a time-sortable unique identifier
	ID string `json:"id"`

	// Seq is the record's position in the run's log
	Seq int `json:"seq"`

	// Scope is empty for the top-level graph and names the sub-run otherwise
	// (e.g. "pages[3]" or "chapters#2")
	Scope string `json:"scope,omitempty"`

	// NodeID is the node that ran
	NodeID string `json:"node_id"`

	// NodeType is the node's category
	NodeType workflow.NodeType `json:"node_type"`

	// Handler is the handler capability, for handler-backed nodes
	Handler string `json:"handler,omitempty"`

	// Attempt is the 1-based attempt number
	Attempt int `json:"attempt"`

	// Final marks the record that concludes the node. Earlier attempts that
	// were retried are not final.
	Final bool `json:"final"`

	// Inputs are the resolved inputs
	Inputs map[string]interface{} `json:"inputs,omitempty"`

	// Output is the node's output on success
	Output interface{} `json:"output,omitempty"`

	// Label is the route label chosen by decision, branch and switch nodes
	Label string `json:"label,omitempty"`

	// Routes are the successors activated when the node concluded
	Routes []string `json:"routes,omitempty"`

	// Error is the classified failure, if the attempt failed
	Error *ErrorRecord `json:"error,omitempty"`

	// StartedAt is when the attempt started
	StartedAt time.Time `json:"started_at"`

	// EndedAt is when the attempt ended
	EndedAt time.Time `json:"ended_at"`

	// Duration is EndedAt - StartedAt
	Duration time.Duration `json:"duration"`
}

// Succeeded reports whether the attempt produced an output.
func (r *Record) Succeeded() bool {
	return r.Error == nil
}

// State is the execution state of one run.
type State struct {
	// RunID is the generated run identifier
	RunID string `json:"run_id"`

	// WorkflowID and WorkflowVersion bind the run to one immutable definition
	WorkflowID      string `json:"workflow_id"`
	WorkflowVersion int    `json:"workflow_version"`

	// Trigger is the initial payload
	Trigger interface{} `json:"trigger"`

	// Status is the run's lifecycle status
	Status Status `json:"status"`

	// Records is the append-only execution log
	Records []Record `json:"records"`

	// Errors are the failures recorded so far, including recovered ones
	Errors []ErrorRecord `json:"errors,omitempty"`

	// Frontier caches the nodes eligible to run next. It is always
	// re-derivable from Records and is refreshed after every append.
	Frontier []string `json:"frontier"`

	// CancelRequested records that a cancel was asked for
	CancelRequested bool `json:"cancel_requested,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewState creates the state of a new run bound to def.
func NewState(runID string, def *workflow.Definition, trigger interface{}, now time.Time) *State {
	return &State{
		RunID:           runID,
		WorkflowID:      def.ID,
		WorkflowVersion: def.Version,
		Trigger:         trigger,
		Status:          StatusRunning,
		Records:         []Record{},
		Frontier:        []string{def.Entry},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Append adds a record to the log, assigning its sequence number.
// Failures are also appended to the error history.
func (s *State) Append(rec Record) Record {
	rec.Seq = len(s.Records)
	s.Records = append(s.Records, rec)
	if rec.Error != nil {
		s.Errors = append(s.Errors, *rec.Error)
	}
	if rec.EndedAt.After(s.UpdatedAt) {
		s.UpdatedAt = rec.EndedAt
	}
	return rec
}

// Finish moves the run to a terminal status.
func (s *State) Finish(status Status, now time.Time) {
	s.Status = status
	s.Frontier = []string{}
	s.UpdatedAt = now
	s.CompletedAt = &now
}

// Fail records a run-level failure and moves the run to failed.
func (s *State) Fail(rec *ErrorRecord, now time.Time) {
	if rec != nil {
		s.Errors = append(s.Errors, *rec)
	}
	s.Finish(StatusFailed, now)
}

// LastError returns the most recent error, or nil.
func (s *State) LastError() *ErrorRecord {
	if len(s.Errors) == 0 {
		return nil
	}
	e := s.Errors[len(s.Errors)-1]
	return &e
}

// RecordsFor returns the records of one node in one scope, in order.
func (s *State) RecordsFor(scope, nodeID string) []Record {
	var out []Record
	for _, r := range s.Records {
		if r.Scope == scope && r.NodeID == nodeID {
			out = append(out, r)
		}
	}
	return out
}

// Clone returns a copy whose slices can be read while the run continues.
// Record contents are shared since records are immutable.
func (s *State) Clone() *State {
	c := *s
	c.Records = append([]Record(nil), s.Records...)
	c.Errors = append([]ErrorRecord(nil), s.Errors...)
	c.Frontier = append([]string(nil), s.Frontier...)
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// Summary is the listing view of a run kept alongside its snapshot.
type Summary struct {
	RunID           string     `json:"run_id"`
	WorkflowID      string     `json:"workflow_id"`
	WorkflowVersion int        `json:"workflow_version"`
	Status          Status     `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// Summary returns the listing view of the run.
func (s *State) Summary() Summary {
	return Summary{
		RunID:           s.RunID,
		WorkflowID:      s.WorkflowID,
		WorkflowVersion: s.WorkflowVersion,
		Status:          s.Status,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
		CompletedAt:     s.CompletedAt,
	}
}
