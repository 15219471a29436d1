package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// ReceiptRetrier is implemented by the receipt use case.
type ReceiptRetrier interface {
	RetryPending(ctx context.Context, olderThan time.Time, limit int) (int, error)
}

// ReceiptWorker resends receipts whose first delivery failed.
type ReceiptWorker struct {
	interval time.Duration
	after    time.Duration
	batch    int
	receipts ReceiptRetrier
	log      *zerolog.Logger
}

func NewReceiptWorker(interval, retryAfter time.Duration, batch int, receipts ReceiptRetrier, logger *zerolog.Logger) *ReceiptWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	if batch <= 0 {
		batch = 50
	}
	compLog := logger.With().Str("component", "ReceiptWorker").Logger()
	return &ReceiptWorker{
		interval: interval,
		after:    retryAfter,
		batch:    batch,
		receipts: receipts,
		log:      &compLog,
	}
}

func (w *ReceiptWorker) Run(ctx context.Context) error {
	w.log.Info().Msg("Starting receipt worker")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping receipt worker")
			return ctx.Err()
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

func (w *ReceiptWorker) runOnce(ctx context.Context) {
	// only payments old enough that the inline send has had its chance
	sent, err := w.receipts.RetryPending(ctx, time.Now().Add(-w.after), w.batch)
	if err != nil {
		w.log.Error().Err(err).Msg("receipt retry failed")
	}
	if sent > 0 {
		w.log.Info().Int("count", sent).Msg("receipts resent")
	}
}
