// Package internal contains the transaction plumbing shared by the
// PostgreSQL stores, and the testcontainers setup of their tests.
package internal

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// TxBeginner represents a pgx-related component that can initiate transactions.
type TxBeginner interface {
	BeginTx(ctx context.Context, options pgx.TxOptions) (pgx.Tx, error)
}

// ReadWrite are the options of the read-committed, read-write transactions
// used by the stores.
var ReadWrite = pgx.TxOptions{
	IsoLevel:   pgx.ReadCommitted,
	AccessMode: pgx.ReadWrite,
}

// RunTransaction runs a data change path in a transaction, handling the
// transaction lifecycle (begin, commit, rollback), and returns its result.
func RunTransaction[T any](
	ctx context.Context,
	db TxBeginner,
	options pgx.TxOptions, //nolint:gocritic // The pgx API uses value semantics, will do the same here.
	do func(ctx context.Context, tx pgx.Tx) (T, error),
) (result T, err error) {
	var zero T

	tx, err := db.BeginTx(ctx, options)
	if err != nil {
		return zero, fmt.Errorf("failed to begin transaction, %w", err)
	}

	defer func() {
		if err == nil {
			return
		}

		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil {
			err = fmt.Errorf("failed to rollback transaction, %w (caused by: %w)", rollbackErr, err)
		}
	}()

	if result, err = do(ctx, tx); err != nil {
		return zero, err
	}

	if err = tx.Commit(ctx); err != nil {
		return zero, fmt.Errorf("failed to commit transaction, %w", err)
	}

	return result, nil
}
