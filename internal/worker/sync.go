package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MOODMNKY-LLC/mood-mnky-command-sub007/internal/config"
)

// TotalsSource reads every profile's XP total from the source of truth.
type TotalsSource interface {
	AllTotals(ctx context.Context) (map[string]int64, error)
}

// TotalsCache holds the realtime copy of the totals.
type TotalsCache interface {
	BatchSetTotals(ctx context.Context, totals map[string]int64) error
}

// SyncWorker periodically rebuilds the realtime rank cache from the
// database, repairing any drift left by cache writes that failed after a
// committed award.
type SyncWorker struct {
	source  TotalsSource
	cache   TotalsCache
	config  *config.SyncConfig
	logger  *slog.Logger
	stopCh  chan struct{}
	doneCh  chan struct{}
	mu      sync.Mutex
	running bool
}

// NewSyncWorker creates a new sync worker
func NewSyncWorker(
	source TotalsSource,
	cache TotalsCache,
	cfg *config.SyncConfig,
	logger *slog.Logger,
) *SyncWorker {
	return &SyncWorker{
		source: source,
		cache:  cache,
		config: cfg,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start begins the background sync process
func (w *SyncWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	w.logger.Info("sync worker started", "interval", w.config.Interval)

	go w.run(ctx)
	return nil
}

// Stop stops the background sync process
func (w *SyncWorker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("sync worker stopped")
	return nil
}

// run is the main worker loop
func (w *SyncWorker) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			if err := w.SyncToCache(ctx); err != nil {
				w.logger.Error("sync cycle failed", "error", err)
			}
		}
	}
}

// SyncToCache rebuilds the rank cache from the database totals. Also run
// once at startup so the cache recovers after a Redis restart.
func (w *SyncWorker) SyncToCache(ctx context.Context) error {
	startTime := time.Now()

	totals, err := w.source.AllTotals(ctx)
	if err != nil {
		return err
	}
	if len(totals) == 0 {
		w.logger.Debug("no totals to sync")
		return nil
	}

	// Push in batches to avoid one oversized pipeline
	batchSize := w.config.BatchSize
	if batchSize == 0 {
		batchSize = 1000
	}

	batch := make(map[string]int64, batchSize)
	for profileID, total := range totals {
		batch[profileID] = total

		if len(batch) >= batchSize {
			if err := w.cache.BatchSetTotals(ctx, batch); err != nil {
				return err
			}
			batch = make(map[string]int64, batchSize)
		}
	}
	if len(batch) > 0 {
		if err := w.cache.BatchSetTotals(ctx, batch); err != nil {
			return err
		}
	}

	w.logger.Info("sync cycle completed",
		"duration", time.Since(startTime),
		"profiles", len(totals),
	)
	return nil
}

// IsRunning returns whether the worker is currently running
func (w *SyncWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}
