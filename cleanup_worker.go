package messagehub

import (
	"context"
	"fmt"
	"time"
)

// CleanupWorker removes delivered data: bundles dequeued longer ago than the
// retention window, and the cabinet notifications they carried.
//
// The worker runs continuously in the background, processing batches at regular intervals.
// Outstanding bundles and unread notifications are never touched.
//
// Thread safety: Safe for concurrent use. Each batch is processed sequentially.
type CleanupWorker struct {
	bundles   BundleRepository
	storage   CabinetStorage
	logger    Logger
	retention time.Duration
	batchSize int
	now       func() time.Time
}

// NewCleanupWorker creates a new cleanup worker with the provided options.
//
// Required options:
//   - WithRepositories: bundle repository and cabinet storage
//   - WithLogger: logger instance
//
// Optional options:
//   - WithRetention: how long dequeued bundles are kept (default: 7 days)
//   - WithBatchSize: bundles removed per batch (default: 100)
//
// Example:
//
//	worker, err := messagehub.NewCleanupWorker(
//	    messagehub.WithRepositories(bundles, storage),
//	    messagehub.WithLogger(logger),
//	    messagehub.WithRetention(72*time.Hour), // optional
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
func NewCleanupWorker(opts ...Option) (*CleanupWorker, error) {
	w := &CleanupWorker{
		retention: 7 * 24 * time.Hour,
		batchSize: 100,
		now:       time.Now,
	}

	for _, opt := range opts {
		if err := opt(w); err != nil {
			return nil, NewErrorWithCause(ErrCodeConfiguration, "failed to apply option", err)
		}
	}

	if w.bundles == nil {
		return nil, NewError(ErrCodeConfiguration, "BundleRepository is required (use WithRepositories)")
	}
	if w.storage == nil {
		return nil, NewError(ErrCodeConfiguration, "CabinetStorage is required (use WithRepositories)")
	}
	if w.logger == nil {
		return nil, NewError(ErrCodeConfiguration, "Logger is required (use WithLogger)")
	}

	return w, nil
}

// CleanupDequeuedBundles deletes one batch of bundles dequeued before the
// retention window together with their consumed notifications.
//
// Returns the number of deleted bundles. Individual failures are logged and
// don't stop batch processing.
func (w *CleanupWorker) CleanupDequeuedBundles(ctx context.Context) (int, error) {
	cutoff := w.now().UTC().Add(-w.retention)

	bundles, err := w.bundles.FindDequeuedBefore(ctx, cutoff, w.batchSize)
	if err != nil {
		if IsNoData(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to find dequeued bundles: %w", err)
	}

	deleted := 0
	for _, bundle := range bundles {
		purged, err := w.storage.PurgeNotifications(ctx, bundle.NotificationIDs)
		if err != nil {
			w.logger.Errorf("Failed to purge notifications of bundle %s: %v", bundle.ID, err)
			continue
		}
		if err := w.bundles.Delete(ctx, bundle.ID); err != nil {
			w.logger.Errorf("Failed to delete bundle %s: %v", bundle.ID, err)
			continue
		}
		w.logger.Debugf("Bundle %s removed with %d notifications", bundle.ID, purged)
		deleted++
	}

	return deleted, nil
}

// Run starts the worker loop, processing batches at the specified interval.
// Blocks until context is cancelled. Use in a goroutine for background processing.
//
// Example:
//
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	go worker.Run(ctx, time.Hour)
func (w *CleanupWorker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.logger.Info("Cleanup worker started")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Cleanup worker stopped")
			return
		case <-ticker.C:
			w.processBatch(ctx)
		}
	}
}

func (w *CleanupWorker) processBatch(ctx context.Context) {
	count, err := w.CleanupDequeuedBundles(ctx)
	if err != nil {
		w.logger.Errorf("Error cleaning up dequeued bundles: %v", err)
		return
	}
	if count > 0 {
		w.logger.Infof("Cleanup processed: bundles=%d", count)
	}
}
