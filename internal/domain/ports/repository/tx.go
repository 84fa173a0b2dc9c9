package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

type Tx interface{}

// TransactionManager provides a thin abstraction to execute a function within a
// database transaction, passing the underlying transaction handle via `qx`.
// Repositories accept `qx any` so use cases can compose repository calls in one
// transaction without importing the driver; the concrete type of `qx` is
// infra-defined (pgx.Tx for Postgres). Repositories MUST gracefully accept
// `nil` qx (non-transactional path).
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
