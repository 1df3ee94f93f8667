// Package logctx adapts a base slog.Handler so that job_id and run_id,
// when present on a context, are attached to every log record automatically
// instead of needing to be passed at every call site.
package logctx

import (
	"context"
	"log/slog"

	"github.com/jobscheduler/dispatcher/internal/runid"
)

type jobIDKey struct{}

// WithJobID returns a copy of ctx carrying jobID for log enrichment.
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, jobIDKey{}, jobID)
}

func jobIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(jobIDKey{}).(string)
	return id
}

// Handler wraps an slog.Handler and enriches every record with job_id/run_id
// pulled from the record's context, when present.
type Handler struct {
	inner slog.Handler
}

// New returns a handler that enriches every record with context values
// (job_id, run_id) before delegating to inner.
func New(inner slog.Handler) *Handler {
	return &Handler{inner: inner}
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	if id := jobIDFromContext(ctx); id != "" {
		r.AddAttrs(slog.String("job_id", id))
	}
	if id := runid.FromContext(ctx); id != "" {
		r.AddAttrs(slog.String("run_id", id))
	}
	return h.inner.Handle(ctx, r)
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{inner: h.inner.WithAttrs(attrs)}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{inner: h.inner.WithGroup(name)}
}
