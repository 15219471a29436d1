package adapter

import (
	"context"
	"time"

	"order-payments/internal/domain/model"
)

// ReceiptNotifier delivers a "payment received" receipt.
type ReceiptNotifier interface {
	SendReceipt(ctx context.Context, p *model.Payment) error
}

// EventPublisher fans payment state out to downstream consumers. Publishing is
// best-effort; callers log failures and move on.
type EventPublisher interface {
	PublishPaymentStatus(ctx context.Context, p *model.Payment) error
	PublishOrderTotals(ctx context.Context, t model.OrderTotals) error
	Close() error
}

// Locker serializes work on one key across processes.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Unlock(ctx context.Context, key, token string) error
}
