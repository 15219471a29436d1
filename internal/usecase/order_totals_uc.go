package usecase

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"order-payments/internal/domain/model"
	"order-payments/internal/domain/ports/adapter"
	"order-payments/internal/domain/ports/repository"
	"order-payments/internal/infra/logging"
	"order-payments/internal/infra/metrics"
)

// Compile-time check
var _ OrderTotalsUseCase = (*orderTotalsUC)(nil)

// OrderTotalsUseCase keeps an order's paid amount and balance in line with its
// payments.
type OrderTotalsUseCase interface {
	// Recompute derives the totals snapshot from the full payment set and
	// persists it. Concurrent calls for one order serialize and converge.
	Recompute(ctx context.Context, orderRef string) (model.OrderTotals, error)
}

// ExcessRefunder returns overpaid money; used by the auto_refund policy.
type ExcessRefunder interface {
	RefundExcess(ctx context.Context, orderRef string, excess int64) error
}

type orderTotalsUC struct {
	payments repository.PaymentRepository
	orders   repository.OrderRepository
	tm       repository.TransactionManager
	events   adapter.EventPublisher
	policy   model.OverpaymentPolicy
	log      *zerolog.Logger

	mu       sync.RWMutex
	refunder ExcessRefunder
}

func NewOrderTotalsUseCase(
	payments repository.PaymentRepository,
	orders repository.OrderRepository,
	tm repository.TransactionManager,
	events adapter.EventPublisher,
	policy model.OverpaymentPolicy,
	logger *zerolog.Logger,
) *orderTotalsUC {
	if !policy.IsValid() {
		policy = model.OverpaymentFlag
	}
	return &orderTotalsUC{
		payments: payments,
		orders:   orders,
		tm:       tm,
		events:   events,
		policy:   policy,
		log:      logging.Component(logger, "OrderTotalsUC"),
	}
}

// SetExcessRefunder wires the refunder after construction; the refunder itself
// depends on this use case.
func (u *orderTotalsUC) SetExcessRefunder(r ExcessRefunder) {
	u.mu.Lock()
	u.refunder = r
	u.mu.Unlock()
}

type autoRefundKey struct{}

func (u *orderTotalsUC) Recompute(ctx context.Context, orderRef string) (model.OrderTotals, error) {
	var totals model.OrderTotals
	err := withConcurrencyRetry(ctx, func() error {
		return u.tm.WithTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead}, func(ctx context.Context, tx repository.Tx) error {
			if err := u.orders.LockOrder(ctx, tx, orderRef); err != nil {
				return err
			}
			total, currency, err := u.orders.GetOrderTotal(ctx, tx, orderRef)
			if err != nil {
				return err
			}
			list, err := u.payments.ListByOrder(ctx, tx, orderRef)
			if err != nil {
				return err
			}
			totals = model.ComputeTotals(orderRef, total, currency, list, u.policy)
			return u.orders.ApplyTotals(ctx, tx, totals)
		})
	})
	if err != nil {
		return model.OrderTotals{}, fmt.Errorf("recompute totals for %s: %w", orderRef, err)
	}

	metrics.IncOrderRecompute(string(totals.PaymentStatus))
	log := logging.With(logging.WithOrderRef(ctx, orderRef), u.log)
	log.Debug().
		Int64("paid", totals.PaidAmount).
		Int64("balance_due", totals.BalanceDue).
		Str("status", string(totals.PaymentStatus)).
		Msg("order totals recomputed")

	if u.events != nil {
		if err := u.events.PublishOrderTotals(ctx, totals); err != nil {
			log.Warn().Err(err).Msg("publish order totals failed")
		}
	}

	if totals.OverpaidAmount > 0 {
		log.Warn().Int64("overpaid", totals.OverpaidAmount).Str("policy", string(u.policy)).Msg("order overpaid")
		u.maybeAutoRefund(ctx, log, totals)
	}
	return totals, nil
}

func (u *orderTotalsUC) maybeAutoRefund(ctx context.Context, log *zerolog.Logger, totals model.OrderTotals) {
	if u.policy != model.OverpaymentAutoRefund || ctx.Value(autoRefundKey{}) != nil {
		return
	}
	u.mu.RLock()
	r := u.refunder
	u.mu.RUnlock()
	if r == nil {
		return
	}
	// refunds recompute again; the marker keeps that nested pass from refunding twice
	ctx = context.WithValue(ctx, autoRefundKey{}, true)
	if err := r.RefundExcess(ctx, totals.OrderRef, totals.OverpaidAmount); err != nil {
		log.Error().Err(err).Int64("overpaid", totals.OverpaidAmount).Msg("auto refund of overpayment failed")
	}
}
