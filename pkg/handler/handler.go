// Package handler provides the node handler registry.
//
// Handlers are the opaque units of work behind input, processing, decision,
// extraction, output and integration nodes: OCR, translation, entity
// recognition, storage sinks and so on. Each is registered under a capability
// name with a Descriptor declaring its node category, whether it is safe to
// retry, and (for decision handlers) the closed label vocabulary it returns.
//
// The registry is populated at startup, frozen, and then shared read-only by
// every run.
package handler

import (
	"context"

	"github.com/tombee/folio/pkg/workflow"
)

// Handler is the uniform contract every node handler implements.
//
// Invoke receives the node's resolved inputs and its configuration payload.
// It returns an output value or an error. Errors should be typed with
// errors.TransientError or errors.PermanentError (or implement
// errors.ErrorClassifier); anything else is treated as permanent.
//
// Outputs must be JSON-representable. Decision handlers return a label,
// either as a string or as a map with a "label" key.
type Handler interface {
	Invoke(ctx context.Context, inputs map[string]interface{}, config map[string]interface{}) (interface{}, error)
}

// Func adapts an ordinary function to the Handler interface.
type Func func(ctx context.Context, inputs map[string]interface{}, config map[string]interface{}) (interface{}, error)

// Invoke calls f.
func (f Func) Invoke(ctx context.Context, inputs map[string]interface{}, config map[string]interface{}) (interface{}, error) {
	return f(ctx, inputs, config)
}

// Descriptor declares what a handler is and how the engine may treat it.
type Descriptor struct {
	// Name is the capability name nodes refer to (e.g. "ocr.tesseract")
	Name string `json:"name"`

	// Category is the node type this handler implements
	Category workflow.NodeType `json:"category"`

	// Description is a human-readable summary
	Description string `json:"description,omitempty"`

	// Idempotent declares the handler safe to re-run with the same inputs.
	// Non-idempotent handlers are never retried automatically.
	Idempotent bool `json:"idempotent"`

	// Labels is the closed vocabulary a decision handler may return
	Labels []string `json:"labels,omitempty"`
}

// Entry is a registered handler with its descriptor.
type Entry struct {
	Descriptor
	Handler Handler
}
