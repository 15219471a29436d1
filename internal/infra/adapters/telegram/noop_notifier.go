package telegram

import (
	"context"

	"github.com/rs/zerolog"

	"order-payments/internal/domain/model"
	"order-payments/internal/domain/ports/adapter"
)

var _ adapter.ReceiptNotifier = (*NoopNotifier)(nil)

// NoopNotifier logs receipts instead of sending them.
type NoopNotifier struct {
	log *zerolog.Logger
}

func NewNoopNotifier(logger *zerolog.Logger) *NoopNotifier {
	l := logger.With().Str("component", "noop_notifier").Logger()
	return &NoopNotifier{log: &l}
}

func (n *NoopNotifier) SendReceipt(ctx context.Context, p *model.Payment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n.log.Info().
		Str("payment_id", p.ID).
		Str("order_ref", p.OrderRef).
		Int64("amount", p.Amount).
		Str("currency", p.Currency).
		Msg("[noop] receipt")
	return nil
}
