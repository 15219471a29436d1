package usecase

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"order-payments/internal/domain"
	"order-payments/internal/domain/ports/adapter"
	"order-payments/internal/domain/ports/repository"
	"order-payments/internal/infra/logging"
	"order-payments/internal/infra/metrics"
)

// Compile-time check
var _ ReceiptUseCase = (*receiptUC)(nil)

type ReceiptUseCase interface {
	// SendReceipt sends at most one receipt per payment. A lost claim is not an
	// error; a failed send releases the claim and returns *domain.NotificationError.
	SendReceipt(ctx context.Context, paymentID string) error
	// RetryPending resends receipts for captured payments paid before olderThan
	// that still have none. It returns how many were sent.
	RetryPending(ctx context.Context, olderThan time.Time, limit int) (int, error)
}

type receiptUC struct {
	payments repository.PaymentRepository
	notifier adapter.ReceiptNotifier
	log      *zerolog.Logger
}

func NewReceiptUseCase(payments repository.PaymentRepository, notifier adapter.ReceiptNotifier, logger *zerolog.Logger) *receiptUC {
	return &receiptUC{payments: payments, notifier: notifier, log: logging.Component(logger, "ReceiptUC")}
}

func (u *receiptUC) SendReceipt(ctx context.Context, paymentID string) error {
	won, err := u.payments.ClaimReceipt(ctx, repository.NoTX, paymentID, time.Now())
	if err != nil {
		return err
	}
	if !won {
		metrics.IncReceipt("skipped")
		return nil
	}

	p, err := u.payments.FindByID(ctx, repository.NoTX, paymentID)
	if err == nil {
		err = u.notifier.SendReceipt(ctx, p)
	}
	if err != nil {
		metrics.IncReceipt("failed")
		if rerr := u.payments.ReleaseReceipt(ctx, repository.NoTX, paymentID); rerr != nil {
			u.log.Error().Err(rerr).Str("payment_id", paymentID).Msg("release receipt claim failed")
		}
		return &domain.NotificationError{PaymentID: paymentID, Cause: err}
	}
	metrics.IncReceipt("sent")
	u.log.Info().Str("payment_id", paymentID).Str("order_ref", p.OrderRef).Msg("receipt sent")
	return nil
}

func (u *receiptUC) RetryPending(ctx context.Context, olderThan time.Time, limit int) (int, error) {
	list, err := u.payments.ListUnnotified(ctx, repository.NoTX, olderThan, limit)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, p := range list {
		if ctx.Err() != nil {
			return sent, ctx.Err()
		}
		if err := u.SendReceipt(ctx, p.ID); err != nil {
			u.log.Warn().Err(err).Str("payment_id", p.ID).Msg("receipt retry failed")
			continue
		}
		sent++
	}
	return sent, nil
}
