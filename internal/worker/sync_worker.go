package worker

import (
	"context"
	"log/slog"
	"time"

	"p2precon/internal/service"
)

// Syncer runs one failure-tolerant sync pass.
type Syncer interface {
	Run(ctx context.Context, tolerant bool) (service.Snapshot, error)
}

// SyncWorker refreshes orders from the exchange in the background.
type SyncWorker struct {
	syncer   Syncer
	interval time.Duration
}

func NewSyncWorker(syncer Syncer, interval time.Duration) *SyncWorker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &SyncWorker{
		syncer:   syncer,
		interval: interval,
	}
}

// Start runs a pass immediately and then on every tick until ctx is done.
func (w *SyncWorker) Start(ctx context.Context) {
	slog.Info("starting sync worker", "interval", w.interval)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.Info("sync worker stopped")
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

func (w *SyncWorker) runOnce(ctx context.Context) {
	snap, err := w.syncer.Run(ctx, true)
	if err != nil {
		slog.Error("background sync failed", "error", err)
		return
	}
	slog.Info("background sync finished",
		"pass", snap.Result.PassID, "orders", snap.Result.NewOrders,
		"source", snap.Result.Source, "fallback", snap.Result.Fallback)
}
