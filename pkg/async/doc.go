// Package async runs background work with panic recovery.
//
// Run executes a task synchronously, converting panics into errors and
// applying an optional deadline. Go starts a supervised goroutine whose
// failures are logged, and Every runs a task on a fixed interval:
//
//	async.Go(ctx, logger, "tenancy watcher", func(ctx context.Context) error {
//		return config.WatchTenancyFile(ctx, path, logger, onChange)
//	})
//
//	async.Every(ctx, logger, 15*time.Second, "db stats", func(context.Context) error {
//		metrics.UpdateDBStats(db.Stats())
//		return nil
//	})
package async
