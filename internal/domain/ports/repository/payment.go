package repository

import (
	"context"
	"time"

	"order-payments/internal/domain/model"
)

// -----------------------------
// Payments
// -----------------------------

// PaymentRepository persists payments. Each gateway identifier (intent id,
// link id) is unique, and at most one pending payment link exists per order;
// violations surface as domain.ErrAlreadyExists.
type PaymentRepository interface {
	Save(ctx context.Context, tx Tx, p *model.Payment) error
	// Update writes p only if the stored version still equals p.Version, then
	// bumps p.Version. A stale version returns domain.ErrConcurrentUpdate.
	Update(ctx context.Context, tx Tx, p *model.Payment) error

	FindByID(ctx context.Context, tx Tx, id string) (*model.Payment, error)
	FindByIntentID(ctx context.Context, tx Tx, intentID string) (*model.Payment, error)
	FindByLinkID(ctx context.Context, tx Tx, linkID string) (*model.Payment, error)
	FindByChargeID(ctx context.Context, tx Tx, chargeID string) (*model.Payment, error)
	// FindPendingLinkByOrder returns the pending payment_link row for an order
	// regardless of expiry; callers check ExpiresAt.
	FindPendingLinkByOrder(ctx context.Context, tx Tx, orderRef string) (*model.Payment, error)
	ListByOrder(ctx context.Context, tx Tx, orderRef string) ([]*model.Payment, error)
	CountByOrder(ctx context.Context, tx Tx, orderRef string, method model.PaymentMethod) (int, error)

	ListPendingOlderThan(ctx context.Context, tx Tx, olderThan time.Time, limit int) ([]*model.Payment, error)
	ListUnnotified(ctx context.Context, tx Tx, olderThan time.Time, limit int) ([]*model.Payment, error)

	// ClaimReceipt sets receipt_sent_at only when it is still NULL and reports
	// whether this caller won the claim.
	ClaimReceipt(ctx context.Context, tx Tx, id string, at time.Time) (bool, error)
	ReleaseReceipt(ctx context.Context, tx Tx, id string) error
}

// -----------------------------
// Processed webhook events
// -----------------------------

type WebhookEventRepository interface {
	// Record inserts the event id; a previously seen id returns domain.ErrAlreadyExists.
	Record(ctx context.Context, tx Tx, rec *model.WebhookEventRecord) error
	SetOutcome(ctx context.Context, tx Tx, eventID string, outcome model.WebhookOutcome, paymentID *string) error
}
