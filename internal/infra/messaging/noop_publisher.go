package messaging

import (
	"context"

	"github.com/rs/zerolog"

	"order-payments/internal/domain/model"
	"order-payments/internal/domain/ports/adapter"
)

var _ adapter.EventPublisher = (*NoopPublisher)(nil)

// NoopPublisher is used when no brokers are configured.
type NoopPublisher struct {
	log *zerolog.Logger
}

func NewNoopPublisher(logger *zerolog.Logger) *NoopPublisher {
	l := logger.With().Str("component", "noop_publisher").Logger()
	return &NoopPublisher{log: &l}
}

func (n *NoopPublisher) PublishPaymentStatus(ctx context.Context, p *model.Payment) error {
	n.log.Debug().Str("payment_id", p.ID).Str("status", string(p.Status)).Msg("[noop] payment status")
	return nil
}

func (n *NoopPublisher) PublishOrderTotals(ctx context.Context, t model.OrderTotals) error {
	n.log.Debug().Str("order_ref", t.OrderRef).Str("status", string(t.PaymentStatus)).Msg("[noop] order totals")
	return nil
}

func (n *NoopPublisher) Close() error { return nil }
