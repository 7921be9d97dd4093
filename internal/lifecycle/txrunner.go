package lifecycle

import (
	"context"
	"database/sql"

	"multirole-accounts/internal/db"
)

// sqlTxRunner runs lifecycle transactions on a *sql.DB with the short
// default timeout.
type sqlTxRunner struct {
	db *sql.DB
}

// NewTxRunner returns a TxRunner over database.
func NewTxRunner(database *sql.DB) TxRunner {
	return &sqlTxRunner{db: database}
}

func (r *sqlTxRunner) InTx(ctx context.Context, fn func(ctx context.Context, q db.Querier) error) error {
	return db.InTx(ctx, r.db, func(ctx context.Context, tx *sql.Tx) error {
		return fn(ctx, tx)
	})
}
