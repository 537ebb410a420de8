// Package storelog provides the per-operation correlation-id logging
// convention used by ReadStore: every Stream subscription (including
// the one a Get opens on a MemoryCache miss) is tagged with a uuid so
// that a reader can trace one logical operation across memory, SoT,
// and fetcher hops, the same way the donor correlates one HTTP
// request across middleware and handler log lines. Mutations are not
// tagged.
package storelog

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type contextKey struct{}

var opIDKey = contextKey{}

// WithOperationID attaches a fresh correlation id to ctx and returns
// both the new context and the id, mirroring the donor's
// WithRequestID/RequestIDFromCtx pair.
func WithOperationID(ctx context.Context) (context.Context, string) {
	id := uuid.NewString()
	return context.WithValue(ctx, opIDKey, id), id
}

// OperationID returns the correlation id attached to ctx, or "" if
// none was attached.
func OperationID(ctx context.Context) string {
	id, _ := ctx.Value(opIDKey).(string)
	return id
}

// Scoped returns base enriched with the operation id from ctx (if
// any) and the given component name, ready to log structured fields
// for a single store operation.
func Scoped(base zerolog.Logger, ctx context.Context, component string) zerolog.Logger {
	l := base.With().Str("component", component)
	if id := OperationID(ctx); id != "" {
		l = l.Str("op_id", id)
	}
	return l.Logger()
}
