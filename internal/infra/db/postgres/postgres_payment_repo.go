package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"order-payments/internal/domain"
	"order-payments/internal/domain/model"
	"order-payments/internal/domain/ports/repository"
)

var _ repository.PaymentRepository = (*paymentRepo)(nil)

type paymentRepo struct {
	pool *pgxpool.Pool
}

func NewPaymentRepo(pool *pgxpool.Pool) *paymentRepo {
	return &paymentRepo{pool: pool}
}

const paymentColumns = `
id, order_ref, customer_ref, amount, currency, refunded_amount, method, status,
payment_intent_id, charge_id, customer_id, payment_method_id, payment_link_id,
metadata, error_message, card_last4, card_brand, payment_url, expires_at,
paid_at, receipt_sent_at, disputed, version, created_at, updated_at`

func (r *paymentRepo) Save(ctx context.Context, tx repository.Tx, p *model.Payment) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Metadata == nil {
		p.Metadata = map[string]string{}
	}
	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	if p.Version == 0 {
		p.Version = 1
	}

	const q = `
INSERT INTO payments (` + paymentColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25);`

	_, err := execSQL(ctx, r.pool, tx, q,
		p.ID, p.OrderRef, p.CustomerRef, p.Amount, p.Currency, p.RefundedAmount, p.Method, p.Status,
		nullIfEmpty(p.Gateway.PaymentIntentID), nullIfEmpty(p.Gateway.ChargeID), nullIfEmpty(p.Gateway.CustomerID),
		nullIfEmpty(p.Gateway.PaymentMethodID), nullIfEmpty(p.Gateway.PaymentLinkID),
		p.Metadata, p.ErrorMessage, p.CardLast4, p.CardBrand, nullIfEmpty(p.PaymentURL), p.ExpiresAt,
		p.PaidAt, p.ReceiptSentAt, p.Disputed, p.Version, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save payment %s: %w", p.ID, err)
	}
	return nil
}

func (r *paymentRepo) Update(ctx context.Context, tx repository.Tx, p *model.Payment) error {
	if p.Metadata == nil {
		p.Metadata = map[string]string{}
	}
	const q = `
UPDATE payments SET
  customer_ref = $3,
  refunded_amount = $4,
  status = $5,
  payment_intent_id = $6,
  charge_id = $7,
  customer_id = $8,
  payment_method_id = $9,
  payment_link_id = $10,
  metadata = $11,
  error_message = $12,
  card_last4 = $13,
  card_brand = $14,
  payment_url = $15,
  expires_at = $16,
  paid_at = $17,
  disputed = $18,
  updated_at = $19,
  version = version + 1
WHERE id = $1 AND version = $2;`

	tag, err := execSQL(ctx, r.pool, tx, q,
		p.ID, p.Version, p.CustomerRef, p.RefundedAmount, p.Status,
		nullIfEmpty(p.Gateway.PaymentIntentID), nullIfEmpty(p.Gateway.ChargeID), nullIfEmpty(p.Gateway.CustomerID),
		nullIfEmpty(p.Gateway.PaymentMethodID), nullIfEmpty(p.Gateway.PaymentLinkID),
		p.Metadata, p.ErrorMessage, p.CardLast4, p.CardBrand, nullIfEmpty(p.PaymentURL), p.ExpiresAt,
		p.PaidAt, p.Disputed, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update payment %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConcurrentUpdate
	}
	p.Version++
	return nil
}

func (r *paymentRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Payment, error) {
	return r.findOne(ctx, tx, "id = $1", id)
}

func (r *paymentRepo) FindByIntentID(ctx context.Context, tx repository.Tx, intentID string) (*model.Payment, error) {
	return r.findOne(ctx, tx, "payment_intent_id = $1", intentID)
}

func (r *paymentRepo) FindByLinkID(ctx context.Context, tx repository.Tx, linkID string) (*model.Payment, error) {
	return r.findOne(ctx, tx, "payment_link_id = $1", linkID)
}

func (r *paymentRepo) FindByChargeID(ctx context.Context, tx repository.Tx, chargeID string) (*model.Payment, error) {
	return r.findOne(ctx, tx, "charge_id = $1", chargeID)
}

func (r *paymentRepo) FindPendingLinkByOrder(ctx context.Context, tx repository.Tx, orderRef string) (*model.Payment, error) {
	return r.findOne(ctx, tx, "order_ref = $1 AND method = 'payment_link' AND status = 'pending'", orderRef)
}

func (r *paymentRepo) findOne(ctx context.Context, tx repository.Tx, where string, arg interface{}) (*model.Payment, error) {
	q := `SELECT ` + paymentColumns + ` FROM payments WHERE ` + where
	if inTx(tx) {
		q += " FOR UPDATE"
	}
	row, err := pickRow(ctx, r.pool, tx, q, arg)
	if err != nil {
		return nil, err
	}
	p, err := scanPayment(row)
	if err != nil {
		return nil, mapPgError(err)
	}
	return p, nil
}

func (r *paymentRepo) ListByOrder(ctx context.Context, tx repository.Tx, orderRef string) ([]*model.Payment, error) {
	q := `SELECT ` + paymentColumns + ` FROM payments WHERE order_ref = $1 ORDER BY created_at, id`
	return r.list(ctx, tx, q, orderRef)
}

func (r *paymentRepo) CountByOrder(ctx context.Context, tx repository.Tx, orderRef string, method model.PaymentMethod) (int, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT COUNT(*) FROM payments WHERE order_ref = $1 AND method = $2`, orderRef, method)
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, mapPgError(err)
	}
	return n, nil
}

func (r *paymentRepo) ListPendingOlderThan(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.Payment, error) {
	q := `SELECT ` + paymentColumns + `
FROM payments
WHERE status = 'pending' AND created_at < $1
ORDER BY created_at
LIMIT $2`
	return r.list(ctx, tx, q, olderThan, limit)
}

func (r *paymentRepo) ListUnnotified(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.Payment, error) {
	q := `SELECT ` + paymentColumns + `
FROM payments
WHERE status IN ('succeeded', 'partially_refunded', 'refunded')
  AND receipt_sent_at IS NULL
  AND paid_at IS NOT NULL
  AND paid_at < $1
ORDER BY paid_at
LIMIT $2`
	return r.list(ctx, tx, q, olderThan, limit)
}

func (r *paymentRepo) ClaimReceipt(ctx context.Context, tx repository.Tx, id string, at time.Time) (bool, error) {
	const q = `UPDATE payments SET receipt_sent_at = $2 WHERE id = $1 AND receipt_sent_at IS NULL;`
	tag, err := execSQL(ctx, r.pool, tx, q, id, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *paymentRepo) ReleaseReceipt(ctx context.Context, tx repository.Tx, id string) error {
	_, err := execSQL(ctx, r.pool, tx, `UPDATE payments SET receipt_sent_at = NULL WHERE id = $1;`, id)
	return err
}

func (r *paymentRepo) list(ctx context.Context, tx repository.Tx, q string, args ...interface{}) ([]*model.Payment, error) {
	rows, err := queryRows(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrReadDatabaseRow, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPayment(row pgx.Row) (*model.Payment, error) {
	var (
		p                                        model.Payment
		intentID, chargeID, customerID, methodID *string
		linkID, paymentURL                       *string
	)
	err := row.Scan(
		&p.ID, &p.OrderRef, &p.CustomerRef, &p.Amount, &p.Currency, &p.RefundedAmount, &p.Method, &p.Status,
		&intentID, &chargeID, &customerID, &methodID, &linkID,
		&p.Metadata, &p.ErrorMessage, &p.CardLast4, &p.CardBrand, &paymentURL, &p.ExpiresAt,
		&p.PaidAt, &p.ReceiptSentAt, &p.Disputed, &p.Version, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Gateway = model.GatewayIDs{
		PaymentIntentID: deref(intentID),
		ChargeID:        deref(chargeID),
		CustomerID:      deref(customerID),
		PaymentMethodID: deref(methodID),
		PaymentLinkID:   deref(linkID),
	}
	p.PaymentURL = deref(paymentURL)
	if p.Metadata == nil {
		p.Metadata = map[string]string{}
	}
	return &p, nil
}
