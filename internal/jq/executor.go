// Package jq compiles and runs jq programs for the jq processing handler.
package jq

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/itchyny/gojq"

	"github.com/tombee/folio/pkg/errors"
)

const (
	// DefaultTimeout bounds a single program run
	DefaultTimeout = 1 * time.Second

	// DefaultMaxInputSize is the largest input accepted, measured as JSON (10MB)
	DefaultMaxInputSize = 10 * 1024 * 1024
)

// Executor runs jq programs with a timeout and an input size limit.
// Compiled programs are cached by source, so a workflow that runs the same
// program over thousands of pages compiles it once. It is safe for
// concurrent use.
type Executor struct {
	timeout      time.Duration
	maxInputSize int64

	mu    sync.RWMutex
	cache map[string]*gojq.Code
}

// NewExecutor creates an executor. Zero values select the defaults.
func NewExecutor(timeout time.Duration, maxInputSize int64) *Executor {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	if maxInputSize == 0 {
		maxInputSize = DefaultMaxInputSize
	}
	return &Executor{
		timeout:      timeout,
		maxInputSize: maxInputSize,
		cache:        make(map[string]*gojq.Code),
	}
}

// Execute runs program against data. A program yielding one value returns
// it; several values are returned as a slice and none as nil. An empty
// program returns data unchanged.
//
// Compile errors, runtime errors and oversized input are permanent: the
// same program over the same input fails the same way. A timeout is
// transient.
func (e *Executor) Execute(ctx context.Context, program string, data interface{}) (interface{}, error) {
	if program == "" {
		return data, nil
	}
	if err := e.validateInputSize(data); err != nil {
		return nil, err
	}

	code, err := e.compile(program)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var results []interface{}
	iter := code.RunWithContext(runCtx, data)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			if runCtx.Err() != nil && ctx.Err() == nil {
				return nil, &errors.TransientError{Message: fmt.Sprintf("jq program timed out after %v", e.timeout)}
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, &errors.PermanentError{Message: "jq program failed", Cause: err}
		}
		results = append(results, v)
	}

	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}

// Validate compiles program without running it.
func (e *Executor) Validate(program string) error {
	if program == "" {
		return nil
	}
	_, err := e.compile(program)
	return err
}

func (e *Executor) compile(program string) (*gojq.Code, error) {
	e.mu.RLock()
	code, ok := e.cache[program]
	e.mu.RUnlock()
	if ok {
		return code, nil
	}

	query, err := gojq.Parse(program)
	if err != nil {
		return nil, &errors.PermanentError{Message: "invalid jq program", Cause: err}
	}
	code, err = gojq.Compile(query)
	if err != nil {
		return nil, &errors.PermanentError{Message: "jq compilation failed", Cause: err}
	}

	e.mu.Lock()
	e.cache[program] = code
	e.mu.Unlock()
	return code, nil
}

func (e *Executor) validateInputSize(data interface{}) error {
	encoded, err := json.Marshal(data)
	if err != nil {
		return &errors.PermanentError{Message: "jq input is not JSON-serializable", Cause: err}
	}
	if int64(len(encoded)) > e.maxInputSize {
		return &errors.PermanentError{
			Message: fmt.Sprintf("jq input size (%d bytes) exceeds maximum (%d bytes)", len(encoded), e.maxInputSize),
		}
	}
	return nil
}
