package observability

import "context"

// Checker is a dependency reported by the readiness probe.
// Check must honor ctx and be safe for concurrent use.
type Checker interface {
	// Name identifies the component in the probe response (e.g. "postgres", "redis").
	Name() string
	// Check returns nil when the component is usable.
	Check(ctx context.Context) error
}

// CheckerFunc adapts a ping function to the Checker interface.
type CheckerFunc struct {
	name string
	fn   func(ctx context.Context) error
}

// NewCheckerFunc names fn as a readiness dependency.
func NewCheckerFunc(name string, fn func(ctx context.Context) error) CheckerFunc {
	return CheckerFunc{name: name, fn: fn}
}

func (c CheckerFunc) Name() string { return c.name }

func (c CheckerFunc) Check(ctx context.Context) error { return c.fn(ctx) }
