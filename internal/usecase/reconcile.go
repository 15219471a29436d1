package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"order-payments/internal/domain"
	"order-payments/internal/domain/model"
	"order-payments/internal/domain/ports/adapter"
	"order-payments/internal/domain/ports/repository"
	"order-payments/internal/infra/logging"
	"order-payments/internal/infra/metrics"
)

// maxUpdateAttempts bounds optimistic-concurrency retries of one unit of work.
const maxUpdateAttempts = 3

// idempotencyKey derives a stable gateway idempotency key. attempt must only
// change when the caller means a new, distinct operation.
func idempotencyKey(scope, op string, attempt int64) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", scope, op, attempt)))
	return op + "-" + hex.EncodeToString(sum[:16])
}

// withConcurrencyRetry re-runs fn while it fails with ErrConcurrentUpdate.
func withConcurrencyRetry(ctx context.Context, fn func() error) error {
	var err error
	for i := 0; i < maxUpdateAttempts; i++ {
		if err = fn(); !errors.Is(err, domain.ErrConcurrentUpdate) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(i+1) * 10 * time.Millisecond):
		}
	}
	return err
}

// applyTransition loads the payment inside a transaction, applies t through the
// shared state machine and persists the result. A regression comes back as
// ErrReconciliationConflict with the current payment.
func applyTransition(ctx context.Context, tm repository.TransactionManager, payments repository.PaymentRepository, id string, t model.Transition) (*model.Payment, model.Outcome, error) {
	var (
		p   *model.Payment
		out model.Outcome
	)
	err := withConcurrencyRetry(ctx, func() error {
		return tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
			cur, err := payments.FindByID(ctx, tx, id)
			if err != nil {
				return err
			}
			p = cur
			o, err := model.Apply(cur, t)
			out = o
			if err != nil {
				return err
			}
			if !o.Changed {
				return nil
			}
			return payments.Update(ctx, tx, cur)
		})
	})
	return p, out, err
}

// retryRead runs a gateway read with exponential backoff. Validation and
// not-found errors are returned immediately.
func retryRead[T any](ctx context.Context, attempts int, backoff time.Duration, fn func() (T, error)) (T, error) {
	var (
		v   T
		err error
	)
	if attempts <= 0 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		v, err = fn()
		if err == nil || !retryable(err) {
			return v, err
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return v, ctx.Err()
		case <-time.After(backoff << i):
		}
	}
	return v, err
}

func retryable(err error) bool {
	if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrInvalidArgument) || errors.Is(err, domain.ErrInvalidAmount) {
		return false
	}
	var ge *domain.GatewayError
	if errors.As(err, &ge) {
		return ge.Code == domain.GatewayCodeProcessingError
	}
	return true
}

// effects runs the best-effort work that follows a committed payment change.
// Nothing here can undo or fail the status write.
type effects struct {
	totals   OrderTotalsUseCase
	receipts ReceiptUseCase
	events   adapter.EventPublisher
	log      *zerolog.Logger
}

func (e *effects) afterCommit(ctx context.Context, p *model.Payment, out model.Outcome) {
	if p == nil || !out.Changed {
		return
	}
	log := logging.With(logging.WithPaymentID(logging.WithOrderRef(ctx, p.OrderRef), p.ID), e.log)

	if out.StatusChanged() {
		metrics.IncPayment(string(p.Status))
		log.Info().Str("from", string(out.From)).Str("to", string(out.To)).Msg("payment status changed")
	}
	if out.Captured() {
		metrics.AddPaymentRevenue(p.Currency, p.Amount)
	}
	if e.events != nil {
		if err := e.events.PublishPaymentStatus(ctx, p); err != nil {
			log.Warn().Err(err).Msg("publish payment status failed")
		}
	}
	if e.totals != nil {
		if _, err := e.totals.Recompute(ctx, p.OrderRef); err != nil {
			log.Error().Err(err).Msg("order totals recompute failed")
		}
	}
	if out.Captured() && e.receipts != nil {
		if err := e.receipts.SendReceipt(ctx, p.ID); err != nil {
			log.Warn().Err(err).Msg("receipt not sent; the retry worker will pick it up")
		}
	}
}
