package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

type Tx interface{}

var NoTX interface{}

// TransactionManager executes fn within a database transaction, passing the
// underlying handle via tx.
//
// Repositories detect a tx implementation-side (pgx.Tx for Postgres) and
// switch to SELECT ... FOR UPDATE and tx-bound Exec/Query. Repositories MUST
// accept a nil tx (non-transactional path).
//
// tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx Tx) error {
// 	p, err := payments.FindByID(ctx, tx, id)
// 	...
// 	return payments.Update(ctx, tx, p)
// })
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
