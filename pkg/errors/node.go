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

package errors

import (
	"context"
	"errors"
	"fmt"
)

// Class is the engine's classification of a node failure. It decides
// whether the retry manager may try again and whether a fallback applies.
type Class string

const (
	// ClassTransient failures are retry-eligible: timeouts, rate limits, transient I/O.
	ClassTransient Class = "transient"
	// ClassPermanent failures are not retried; they route to a fallback or fail the run.
	ClassPermanent Class = "permanent"
	// ClassRouting failures are authoring bugs found at run time and always fail the run.
	ClassRouting Class = "routing"
	// ClassFatal failures mean the execution state cannot be trusted; always fatal.
	ClassFatal Class = "fatal"
	// ClassCancelled marks a run stopped by an explicit cancel request.
	ClassCancelled Class = "cancelled"
)

// Retryable reports whether failures of this class may be attempted again.
func (c Class) Retryable() bool {
	return c == ClassTransient
}

// Recoverable reports whether failures of this class may be routed to a
// declared fallback node instead of failing the run.
func (c Class) Recoverable() bool {
	return c == ClassTransient || c == ClassPermanent
}

// TransientError is returned by handlers for failures that may succeed on retry.
type TransientError struct {
	// NodeID is the node that failed (set by the engine if the handler left it empty)
	NodeID string

	// Message describes the failure
	Message string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *TransientError) Error() string {
	return nodeMessage("transient error", e.NodeID, e.Message, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *TransientError) Unwrap() error { return e.Cause }

// ErrorType implements ErrorClassifier.
func (e *TransientError) ErrorType() string { return string(ClassTransient) }

// IsRetryable implements ErrorClassifier.
func (e *TransientError) IsRetryable() bool { return true }

// PermanentError is returned by handlers for failures that will not go away
// on retry, such as malformed input.
type PermanentError struct {
	// NodeID is the node that failed
	NodeID string

	// Message describes the failure
	Message string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *PermanentError) Error() string {
	return nodeMessage("permanent error", e.NodeID, e.Message, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *PermanentError) Unwrap() error { return e.Cause }

// ErrorType implements ErrorClassifier.
func (e *PermanentError) ErrorType() string { return string(ClassPermanent) }

// IsRetryable implements ErrorClassifier.
func (e *PermanentError) IsRetryable() bool { return false }

// RoutingError is raised by the engine when a decision, branch or switch
// node cannot select a successor. It indicates an authoring bug.
type RoutingError struct {
	// NodeID is the routing node
	NodeID string

	// Label is the label or value that could not be routed, if any
	Label string

	// Message describes the failure
	Message string
}

// Error implements the error interface.
func (e *RoutingError) Error() string {
	if e.Label != "" {
		return fmt.Sprintf("routing error in node %s: %s (label %q)", e.NodeID, e.Message, e.Label)
	}
	return fmt.Sprintf("routing error in node %s: %s", e.NodeID, e.Message)
}

// ErrorType implements ErrorClassifier.
func (e *RoutingError) ErrorType() string { return string(ClassRouting) }

// IsRetryable implements ErrorClassifier.
func (e *RoutingError) IsRetryable() bool { return false }

// FatalEngineError signals corrupted or unresolvable execution state.
// It is never retried and always aborts the run.
type FatalEngineError struct {
	// RunID is the affected run, if known
	RunID string

	// NodeID is the node being scheduled when the problem was found, if any
	NodeID string

	// Message describes the failure
	Message string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *FatalEngineError) Error() string {
	return nodeMessage("fatal engine error", e.NodeID, e.Message, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *FatalEngineError) Unwrap() error { return e.Cause }

// ErrorType implements ErrorClassifier.
func (e *FatalEngineError) ErrorType() string { return string(ClassFatal) }

// IsRetryable implements ErrorClassifier.
func (e *FatalEngineError) IsRetryable() bool { return false }

// Transient marks err as retry-eligible. Returns nil if err is nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Cause: err}
}

// Transientf creates a TransientError with a formatted message.
func Transientf(format string, args ...interface{}) error {
	return &TransientError{Message: fmt.Sprintf(format, args...)}
}

// Permanent marks err as not retry-eligible. Returns nil if err is nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Cause: err}
}

// Permanentf creates a PermanentError with a formatted message.
func Permanentf(format string, args ...interface{}) error {
	return &PermanentError{Message: fmt.Sprintf(format, args...)}
}

// Classify maps any error onto the engine's failure classes.
//
// Typed engine errors keep their class. A deadline exceeded is transient.
// Other errors implementing ErrorClassifier are classified by IsRetryable.
// Anything else is permanent, so unknown failures are never silently retried.
func Classify(err error) Class {
	if err == nil {
		return ""
	}

	var fatal *FatalEngineError
	if errors.As(err, &fatal) {
		return ClassFatal
	}
	var routing *RoutingError
	if errors.As(err, &routing) {
		return ClassRouting
	}
	var transient *TransientError
	if errors.As(err, &transient) {
		return ClassTransient
	}
	var permanent *PermanentError
	if errors.As(err, &permanent) {
		return ClassPermanent
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}
	var classifier ErrorClassifier
	if errors.As(err, &classifier) {
		if classifier.IsRetryable() {
			return ClassTransient
		}
		return ClassPermanent
	}
	return ClassPermanent
}

func nodeMessage(kind, nodeID, message string, cause error) string {
	msg := kind
	if nodeID != "" {
		msg = fmt.Sprintf("%s in node %s", msg, nodeID)
	}
	switch {
	case message != "" && cause != nil:
		return fmt.Sprintf("%s: %s: %v", msg, message, cause)
	case message != "":
		return fmt.Sprintf("%s: %s", msg, message)
	case cause != nil:
		return fmt.Sprintf("%s: %v", msg, cause)
	}
	return msg
}
