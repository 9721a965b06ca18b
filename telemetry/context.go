package telemetry

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Correlation identifies one analysis run. It is generated once per run,
// threaded through every log and metric emission, and never persisted beyond
// the run.
type Correlation struct {
	// ID is the opaque correlation token. When the caller supplies one (for
	// example the platform run ID) it is reused; otherwise a UUID is minted.
	ID string
	// StartedAt is the wall-clock run start.
	StartedAt time.Time
}

type correlationKey struct{}

// NewCorrelation builds a Correlation for a run. An empty id mints a fresh
// UUID.
func NewCorrelation(id string) Correlation {
	if id == "" {
		id = uuid.NewString()
	}
	return Correlation{ID: id, StartedAt: time.Now()}
}

// WithCorrelation returns a context carrying the given correlation.
func WithCorrelation(ctx context.Context, corr Correlation) context.Context {
	return context.WithValue(ctx, correlationKey{}, corr)
}

// FromContext extracts the run correlation, if any.
func FromContext(ctx context.Context) (Correlation, bool) {
	corr, ok := ctx.Value(correlationKey{}).(Correlation)
	return corr, ok
}
