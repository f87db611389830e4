package review

import (
	"context"
	"log/slog"
	"time"
)

// Worker periodically re-runs automatic verification over pending reviews,
// picking up reviews whose transactions completed after submission.
type Worker struct {
	service  *Service
	interval time.Duration
	logger   *slog.Logger
}

// NewWorker creates a backfill worker.
func NewWorker(service *Service, interval time.Duration, logger *slog.Logger) *Worker {
	return &Worker{service: service, interval: interval, logger: logger}
}

// Run blocks, reverifying on every tick until the context is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("review backfill worker started", "interval", w.interval)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("review backfill worker stopped")
			return
		case <-ticker.C:
			n, err := w.service.ReverifyPending(ctx, 500)
			if err != nil {
				w.logger.Warn("review backfill pass failed", "error", err)
				continue
			}
			if n > 0 {
				w.logger.Info("review backfill verified reviews", "count", n)
			}
		}
	}
}
