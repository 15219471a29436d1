package sched

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"order-payments/internal/domain/model"
	"order-payments/internal/domain/ports/repository"
	"order-payments/internal/infra/metrics"
	"order-payments/internal/infra/worker"
)

// PaymentSyncer is the slice of the payment use case the reconciler drives.
type PaymentSyncer interface {
	SyncPaymentLinkStatus(ctx context.Context, paymentID string) (*model.Payment, error)
}

// PaymentReconciler periodically pulls the gateway state of payments that have
// been pending for longer than staleAfter. It covers lost or delayed webhooks
// and retires expired payment links.
type PaymentReconciler struct {
	syncer     PaymentSyncer
	payments   repository.PaymentRepository
	pool       *worker.Pool
	limiter    *rate.Limiter
	interval   time.Duration
	staleAfter time.Duration
	batch      int
	log        *zerolog.Logger
}

type ReconcilerOptions struct {
	Interval   time.Duration
	StaleAfter time.Duration
	BatchSize  int
	RatePerSec float64
}

func NewPaymentReconciler(syncer PaymentSyncer, payments repository.PaymentRepository, pool *worker.Pool, opts ReconcilerOptions, logger *zerolog.Logger) *PaymentReconciler {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Minute
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 15 * time.Minute
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 5
	}
	compLog := logger.With().Str("component", "PaymentReconciler").Logger()
	return &PaymentReconciler{
		syncer:     syncer,
		payments:   payments,
		pool:       pool,
		limiter:    rate.NewLimiter(rate.Limit(opts.RatePerSec), 1),
		interval:   opts.Interval,
		staleAfter: opts.StaleAfter,
		batch:      opts.BatchSize,
		log:        &compLog,
	}
}

func (w *PaymentReconciler) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Dur("stale_after", w.staleAfter).Msg("Starting payment reconciler")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping payment reconciler")
			return ctx.Err()
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep reconciles one batch and returns how many payments were synced
// without error.
func (w *PaymentReconciler) Sweep(ctx context.Context) int {
	cutoff := time.Now().Add(-w.staleAfter)
	pending, err := w.payments.ListPendingOlderThan(ctx, repository.NoTX, cutoff, w.batch)
	if err != nil {
		metrics.IncReconcilerRun("error")
		w.log.Error().Err(err).Msg("list pending payments failed")
		return 0
	}
	if len(pending) == 0 {
		metrics.IncReconcilerRun("empty")
		return 0
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for _, p := range pending {
		if err := w.limiter.Wait(ctx); err != nil {
			break
		}
		id := p.ID
		wg.Add(1)
		err := w.pool.Submit(ctx, func(ctx context.Context) error {
			defer wg.Done()
			cur, err := w.syncer.SyncPaymentLinkStatus(ctx, id)
			if err != nil {
				metrics.IncReconciledPayment("error")
				w.log.Warn().Err(err).Str("payment_id", id).Msg("sync failed")
				return nil
			}
			metrics.IncReconciledPayment(string(cur.Status))
			mu.Lock()
			ok++
			mu.Unlock()
			return nil
		})
		if err != nil {
			wg.Done()
			w.log.Warn().Err(err).Msg("reconciler could not queue sync")
			break
		}
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		// queued syncs still run against the cancelled ctx; nothing waits for them
		metrics.IncReconcilerRun("cancelled")
		mu.Lock()
		defer mu.Unlock()
		w.log.Info().Int("pending", len(pending)).Int("synced", ok).Msg("reconciler sweep cancelled")
		return ok
	}

	metrics.IncReconcilerRun("ok")
	w.log.Info().Int("pending", len(pending)).Int("synced", ok).Msg("reconciler sweep finished")
	return ok
}
