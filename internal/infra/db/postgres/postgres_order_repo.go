package postgres

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/jackc/pgx/v4/pgxpool"

	"order-payments/internal/domain"
	"order-payments/internal/domain/model"
	"order-payments/internal/domain/ports/repository"
)

var _ repository.OrderRepository = (*orderRepo)(nil)

// orderRepo reads order totals from the orders table and writes the derived
// payment totals back onto it.
type orderRepo struct {
	pool *pgxpool.Pool
}

func NewOrderRepo(pool *pgxpool.Pool) *orderRepo {
	return &orderRepo{pool: pool}
}

func (r *orderRepo) GetOrderTotal(ctx context.Context, tx repository.Tx, orderRef string) (int64, string, error) {
	q := `SELECT total_amount, currency FROM orders WHERE order_ref = $1`
	if inTx(tx) {
		q += " FOR UPDATE"
	}
	row, err := pickRow(ctx, r.pool, tx, q, orderRef)
	if err != nil {
		return 0, "", err
	}
	var (
		total    int64
		currency string
	)
	if err := row.Scan(&total, &currency); err != nil {
		return 0, "", mapPgError(err)
	}
	return total, currency, nil
}

func (r *orderRepo) ApplyTotals(ctx context.Context, tx repository.Tx, t model.OrderTotals) error {
	const q = `
UPDATE orders SET
  paid_amount = $2,
  balance_due = $3,
  overpaid_amount = $4,
  payment_status = $5,
  totals_computed_at = $6
WHERE order_ref = $1;`
	tag, err := execSQL(ctx, r.pool, tx, q, t.OrderRef, t.PaidAmount, t.BalanceDue, t.OverpaidAmount, t.PaymentStatus, t.ComputedAt)
	if err != nil {
		return fmt.Errorf("apply totals %s: %w", t.OrderRef, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// LockOrder takes a transaction-scoped advisory lock keyed by the order ref.
func (r *orderRepo) LockOrder(ctx context.Context, tx repository.Tx, orderRef string) error {
	if !inTx(tx) {
		return domain.ErrInvalidExecContext
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte("order:" + orderRef))
	_, err := execSQL(ctx, r.pool, tx, `SELECT pg_advisory_xact_lock($1)`, int64(h.Sum64()))
	return err
}
