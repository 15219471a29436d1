//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"order-payments/internal/domain"
	"order-payments/internal/domain/model"
	"order-payments/internal/domain/ports/repository"
)

func TestOrderRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode.")
	}
	ctx := context.Background()
	repo := NewOrderRepo(testPool)
	tm := NewTxManager(testPool)

	t.Run("should read the total and apply derived totals", func(t *testing.T) {
		cleanup(t)
		_, err := testPool.Exec(ctx, `INSERT INTO orders (order_ref, total_amount, currency) VALUES ('SO-1', 10000, 'USD')`)
		require.NoError(t, err)

		total, cur, err := repo.GetOrderTotal(ctx, nil, "SO-1")
		require.NoError(t, err)
		assert.EqualValues(t, 10000, total)
		assert.Equal(t, "USD", cur)

		err = tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
			if err := repo.LockOrder(ctx, tx, "SO-1"); err != nil {
				return err
			}
			return repo.ApplyTotals(ctx, tx, model.OrderTotals{
				OrderRef: "SO-1", OrderTotal: 10000, PaidAmount: 4000, BalanceDue: 6000,
				PaymentStatus: model.OrderPartiallyPaid, ComputedAt: time.Now(),
			})
		})
		require.NoError(t, err)

		var status string
		var due int64
		require.NoError(t, testPool.QueryRow(ctx, `SELECT payment_status, balance_due FROM orders WHERE order_ref = 'SO-1'`).Scan(&status, &due))
		assert.Equal(t, "partially_paid", status)
		assert.EqualValues(t, 6000, due)
	})

	t.Run("should report unknown orders", func(t *testing.T) {
		cleanup(t)
		_, _, err := repo.GetOrderTotal(ctx, nil, "nope")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("should refuse to lock outside a transaction", func(t *testing.T) {
		assert.ErrorIs(t, repo.LockOrder(ctx, nil, "SO-1"), domain.ErrInvalidExecContext)
	})
}
