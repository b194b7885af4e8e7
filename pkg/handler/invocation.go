package handler

import "context"

// Invocation identifies the node attempt a handler is serving.
type Invocation struct {
	RunID           string
	WorkflowID      string
	WorkflowVersion int
	NodeID          string

	// Scope locates the attempt inside loop and parallel bodies, such as
	// "pages[3]"; empty at the top level
	Scope   string
	Attempt int
}

type invocationKey struct{}

// WithInvocation returns a context carrying inv. The engine sets it on
// every handler call.
func WithInvocation(ctx context.Context, inv Invocation) context.Context {
	return context.WithValue(ctx, invocationKey{}, inv)
}

// InvocationFrom returns the invocation carried by ctx, if any.
func InvocationFrom(ctx context.Context) (Invocation, bool) {
	inv, ok := ctx.Value(invocationKey{}).(Invocation)
	return inv, ok
}
