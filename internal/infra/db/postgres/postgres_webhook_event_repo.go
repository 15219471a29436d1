package postgres

import (
	"context"
	"crypto/rand"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/oklog/ulid/v2"

	"order-payments/internal/domain"
	"order-payments/internal/domain/model"
	"order-payments/internal/domain/ports/repository"
)

var _ repository.WebhookEventRepository = (*webhookEventRepo)(nil)

type webhookEventRepo struct {
	pool *pgxpool.Pool
}

func NewWebhookEventRepo(pool *pgxpool.Pool) *webhookEventRepo {
	return &webhookEventRepo{pool: pool}
}

// Record claims the gateway event id. The unique index on event_id is the
// dedupe: a replay inside a concurrent transaction blocks until the first one
// commits and then fails with a unique violation.
func (r *webhookEventRepo) Record(ctx context.Context, tx repository.Tx, rec *model.WebhookEventRecord) error {
	if rec.ID == "" {
		rec.ID = ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
	}
	if rec.ReceivedAt.IsZero() {
		rec.ReceivedAt = time.Now()
	}
	const q = `
INSERT INTO webhook_events (id, event_id, event_type, outcome, payment_id, received_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (event_id) DO NOTHING;`
	tag, err := execSQL(ctx, r.pool, tx, q, rec.ID, rec.EventID, rec.Type, rec.Outcome, rec.PaymentID, rec.ReceivedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAlreadyExists
	}
	return nil
}

func (r *webhookEventRepo) SetOutcome(ctx context.Context, tx repository.Tx, eventID string, outcome model.WebhookOutcome, paymentID *string) error {
	const q = `UPDATE webhook_events SET outcome = $2, payment_id = COALESCE($3, payment_id) WHERE event_id = $1;`
	tag, err := execSQL(ctx, r.pool, tx, q, eventID, outcome, paymentID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
