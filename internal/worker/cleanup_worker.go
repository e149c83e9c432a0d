package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/garage-core/internal/store"
)

// CleanupWorker periodically deletes expired store entries.
type CleanupWorker struct {
	store    *store.Store
	interval time.Duration
	logger   *zap.Logger
}

// NewCleanupWorker builds a worker. A non-positive interval disables Run.
func NewCleanupWorker(st *store.Store, interval time.Duration, logger *zap.Logger) *CleanupWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CleanupWorker{store: st, interval: interval, logger: logger}
}

// SweepOnce removes expired entries and returns how many were deleted.
func (w *CleanupWorker) SweepOnce(ctx context.Context) int {
	res := w.store.CleanupExpired(ctx)
	if !res.OK() {
		w.logger.Warn("cleanup sweep failed", zap.Error(res.Err))
		return 0
	}
	if res.Value > 0 {
		w.logger.Info("expired entries removed", zap.Int("count", res.Value))
	}
	return res.Value
}

// Run sweeps on every tick until ctx is done.
func (w *CleanupWorker) Run(ctx context.Context) {
	if w.interval <= 0 {
		w.logger.Debug("cleanup worker disabled")
		return
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.SweepOnce(ctx)
		}
	}
}

// Start runs the worker in its own goroutine. The returned channel is closed
// once it has stopped.
func (w *CleanupWorker) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()
	return done
}
