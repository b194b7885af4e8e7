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

package expression

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/tombee/folio/pkg/errors"
)

// Evaluator evaluates expressions against a run view.
// It caches compiled expressions for improved performance on repeated evaluations.
// An Evaluator is safe for concurrent use by independent runs.
type Evaluator struct {
	cache map[cacheKey]*vm.Program
	mu    sync.RWMutex
}

type cacheKey struct {
	expression string
	boolean    bool
}

// New creates a new expression evaluator.
func New() *Evaluator {
	return &Evaluator{
		cache: make(map[cacheKey]*vm.Program),
	}
}

// Evaluate evaluates a boolean expression against the given context.
// Returns the boolean result or an error if evaluation fails.
//
// Example:
//
//	ctx := BuildContext(trigger, map[string]any{"ocr": map[string]any{"confidence": 0.91}}, nil)
//	ok, err := eval.Evaluate(`nodes.ocr.confidence >= 0.8`, ctx)
func (e *Evaluator) Evaluate(expression string, ctx map[string]interface{}) (bool, error) {
	if expression == "" {
		return true, nil // Empty expression defaults to true
	}

	result, err := e.run(expression, true, ctx)
	if err != nil {
		return false, err
	}

	boolResult, ok := result.(bool)
	if !ok {
		return false, &errors.ValidationError{
			Field:      "expression",
			Message:    fmt.Sprintf("expression must return boolean, got %T (%v)", result, result),
			Suggestion: "use comparison operators (==, !=, <, >, etc.) or boolean functions",
		}
	}

	return boolResult, nil
}

// Value evaluates an expression and returns its raw result.
// Switch nodes use it to compute the discrete value they route on.
func (e *Evaluator) Value(expression string, ctx map[string]interface{}) (interface{}, error) {
	if expression == "" {
		return nil, &errors.ValidationError{
			Field:   "expression",
			Message: "expression is empty",
		}
	}
	return e.run(expression, false, ctx)
}

// Check compiles an expression without running it.
func (e *Evaluator) Check(expression string, boolean bool) error {
	if _, err := e.compile(expression, boolean); err != nil {
		return &errors.ValidationError{
			Field:      "expression",
			Message:    fmt.Sprintf("failed to compile expression %q: %s", expression, err.Error()),
			Suggestion: "check expression syntax",
		}
	}
	return nil
}

func (e *Evaluator) run(expression string, boolean bool, ctx map[string]interface{}) (interface{}, error) {
	program, err := e.compile(expression, boolean)
	if err != nil {
		return nil, &errors.ValidationError{
			Field:      "expression",
			Message:    fmt.Sprintf("failed to compile expression: %s", err.Error()),
			Suggestion: "check expression syntax and ensure all referenced values exist",
		}
	}

	// Merge custom functions into context for runtime
	evalCtx := make(map[string]interface{}, len(ctx)+len(builtins))
	for k, v := range ctx {
		evalCtx[k] = v
	}
	for name, fn := range builtins {
		evalCtx[name] = fn
	}

	result, err := expr.Run(program, evalCtx)
	if err != nil {
		return nil, &errors.ValidationError{
			Field:      "expression",
			Message:    fmt.Sprintf("expression evaluation failed: %s", err.Error()),
			Suggestion: "verify that all referenced nodes have produced output on this path",
		}
	}
	return result, nil
}

// compile compiles an expression and caches the result.
func (e *Evaluator) compile(expression string, boolean bool) (*vm.Program, error) {
	key := cacheKey{expression: expression, boolean: boolean}

	e.mu.RLock()
	if prog, ok := e.cache[key]; ok {
		e.mu.RUnlock()
		return prog, nil
	}
	e.mu.RUnlock()

	env := make(map[string]interface{}, len(builtins))
	for name, fn := range builtins {
		env[name] = fn
	}

	opts := []expr.Option{
		expr.Env(env),
		// The view is only known at run time
		expr.AllowUndefinedVariables(),
	}
	if boolean {
		opts = append(opts, expr.AsBool())
	}

	prog, err := expr.Compile(expression, opts...)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[key] = prog
	e.mu.Unlock()

	return prog, nil
}

// CacheSize returns the number of cached expressions.
func (e *Evaluator) CacheSize() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.cache)
}
