package progress

import "context"

type runIDKey struct{}

// WithRunID returns a context carrying the run ID stamped on emitted events.
func WithRunID(ctx context.Context, id [16]byte) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

// RunIDFrom returns the run ID stored by WithRunID, or the zero ID.
func RunIDFrom(ctx context.Context) [16]byte {
	id, _ := ctx.Value(runIDKey{}).([16]byte)
	return id
}
