package util

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// DetachTimeout bounds how long a detached task may run after the request
// that spawned it already returned
const DetachTimeout = 30 * time.Second

// Detach runs fn in its own goroutine with a fresh context, decoupled from the
// caller's request lifecycle. Failures are logged and swallowed: detached work
// is best-effort and must never block or fail the primary operation.
func Detach(logger *zap.Logger, name string, fn func(ctx context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), DetachTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			logger.Warn("Detached task failed",
				zap.String("Task", name),
				zap.Error(err),
			)
		}
	}()
}
