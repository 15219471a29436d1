package repository

import (
	"context"

	"order-payments/internal/domain/model"
)

// OrderRepository is the order collaborator: it only knows an order's total
// and accepts derived payment totals.
type OrderRepository interface {
	GetOrderTotal(ctx context.Context, tx Tx, orderRef string) (total int64, currency string, err error)
	ApplyTotals(ctx context.Context, tx Tx, totals model.OrderTotals) error
	// LockOrder serializes writers of one order's totals for the life of tx.
	LockOrder(ctx context.Context, tx Tx, orderRef string) error
}
