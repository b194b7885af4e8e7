// Package expression evaluates the engine-interpreted expressions of a
// workflow: branch conditions, switch selectors and loop exit conditions.
//
// It uses the expr-lang/expr library. Expressions see the run's current
// view:
//
//   - trigger: the payload that started the run
//   - nodes: outputs of concluded nodes keyed by node id
//   - local: item, index, acc, iteration and total inside loop and parallel bodies
//
// Local values are also exposed at top level when they do not shadow a root.
//
// Example expressions:
//
//	nodes.ocr.confidence >= 0.8
//	has(trigger.tags, "fragment")
//	length(acc.pages) >= 10
//	nodes.detect.script
//
// The evaluator caches compiled programs.
//
// Note: The expr library uses "contains" as a string operator (for substring matching),
// so use "in" or "has()" for array membership checks.
package expression
