package async

import (
	"context"
	"fmt"
	"io"
	"runtime/debug"
	"time"

	"github.com/platinummonkey/hub/pkg/observability"
)

// Run executes fn with panic recovery and, when timeout is positive, a
// deadline. A panic is returned as an error.
//
// Example:
//
//	err := Run(ctx, time.Minute, "override purge", func(ctx context.Context) error {
//	    _, err := manager.PurgeExpiredOverrides(ctx)
//	    return err
//	})
func Run(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) (err error) {
	ctx := parentCtx
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parentCtx, timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s: %v\n%s", taskName, r, debug.Stack())
		}
	}()

	return fn(ctx)
}

// Go runs fn in a goroutine until it returns or ctx is cancelled. Errors and
// panics are logged rather than crashing the process. The returned channel is
// closed when fn has finished.
//
// Use this instead of a bare `go func()` for long-lived background work.
func Go(ctx context.Context, logger *observability.Logger, taskName string, fn func(context.Context) error) <-chan struct{} {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, io.Discard)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := Run(ctx, 0, taskName, fn); err != nil && ctx.Err() == nil {
			logger.WithError(err).WithField("task", taskName).Error("Background task failed")
		}
	}()
	return done
}

// Every calls fn each interval until ctx is cancelled. A failing tick is
// logged and the next one still runs.
func Every(ctx context.Context, logger *observability.Logger, interval time.Duration, taskName string, fn func(context.Context) error) <-chan struct{} {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, io.Discard)
	}
	return Go(ctx, logger, taskName, func(ctx context.Context) error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if err := Run(ctx, interval, taskName, fn); err != nil {
					logger.WithError(err).WithField("task", taskName).Warn("Periodic task failed")
				}
			}
		}
	})
}
