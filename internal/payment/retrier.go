package payment

import (
	"context"
	"log/slog"
	"time"
)

const retryBatchSize = 50

// RefundRetrier periodically retries PENDING refunds whose backoff elapsed
type RefundRetrier struct {
	service  *Service
	interval time.Duration
}

// NewRefundRetrier creates a retrier polling every interval
func NewRefundRetrier(service *Service, interval time.Duration) *RefundRetrier {
	return &RefundRetrier{service: service, interval: interval}
}

// Run polls until ctx is canceled
func (r *RefundRetrier) Run(ctx context.Context) {
	slog.Info("refund retrier started", "interval", r.interval)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("refund retrier stopped")
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *RefundRetrier) tick(ctx context.Context) {
	for {
		n, err := r.service.RetryDueRefunds(ctx, retryBatchSize)
		if err != nil {
			slog.Error("refund retry pass failed", "error", err)
			return
		}
		if n > 0 {
			slog.Debug("refund retry pass", "attempted", n)
		}
		if n < retryBatchSize || ctx.Err() != nil {
			return
		}
	}
}
