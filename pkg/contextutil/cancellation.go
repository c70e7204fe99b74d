package contextutil

import (
	"context"
)

// IsCancelled returns whether or not the context's Done channel is closed. It
// is used by long-running walks to poll for abandonment between entries
// without blocking.
func IsCancelled(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}
