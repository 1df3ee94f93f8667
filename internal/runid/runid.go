// Package runid generates and threads a per-execution identifier through a
// context.Context, so log lines for one job run can be correlated without
// passing an extra parameter through every call.
package runid

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey struct{}

// New generates a random UUID v4 run ID, assigned once per Executor.Run
// invocation.
func New() string {
	return uuid.NewString()
}

// WithRunID returns a copy of ctx with the run ID attached.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext extracts the run ID from ctx. Returns "" if absent.
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}
