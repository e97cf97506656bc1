package messagehub

import (
	"fmt"
	"time"
)

// Option is a function that configures a CleanupWorker.
//
// Example:
//
//	worker, err := messagehub.NewCleanupWorker(
//	    messagehub.WithRepositories(bundles, storage),
//	    messagehub.WithLogger(logger),
//	    messagehub.WithBatchSize(200), // optional
//	)
type Option func(*CleanupWorker) error

// WithRepositories sets the required repository dependencies for the cleanup worker.
// Both repositories are required and must not be nil.
//
// This is a required option for NewCleanupWorker.
//
// Parameters:
//   - bundles: Bundle persistence
//   - storage: Cabinet storage holding the consumed notifications
func WithRepositories(bundles BundleRepository, storage CabinetStorage) Option {
	return func(w *CleanupWorker) error {
		if bundles == nil {
			return fmt.Errorf("bundles cannot be nil")
		}
		if storage == nil {
			return fmt.Errorf("storage cannot be nil")
		}

		w.bundles = bundles
		w.storage = storage
		return nil
	}
}

// WithLogger sets the logger instance for the cleanup worker.
// Logger is required and must not be nil.
//
// This is a required option for NewCleanupWorker.
//
// Use NoopLogger for silent operation or implement Logger interface
// to integrate with your logging system (slog, zap, etc.).
func WithLogger(logger Logger) Option {
	return func(w *CleanupWorker) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		w.logger = logger
		return nil
	}
}

// WithRetention sets how long dequeued bundles are kept before removal.
// This is an optional configuration - default is 7 days. Must be > 0.
func WithRetention(retention time.Duration) Option {
	return func(w *CleanupWorker) error {
		if retention <= 0 {
			return fmt.Errorf("retention must be > 0, got %v", retention)
		}
		w.retention = retention
		return nil
	}
}

// WithBatchSize sets the number of bundles to remove per batch.
// This is an optional configuration - default is 100 bundles per batch.
//
// Must be > 0. Larger batches clear backlogs faster but hold more rows in memory.
func WithBatchSize(size int) Option {
	return func(w *CleanupWorker) error {
		if size <= 0 {
			return fmt.Errorf("batch size must be > 0, got %d", size)
		}
		w.batchSize = size
		return nil
	}
}

// WithClock replaces the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(w *CleanupWorker) error {
		if now == nil {
			return fmt.Errorf("clock cannot be nil")
		}
		w.now = now
		return nil
	}
}
