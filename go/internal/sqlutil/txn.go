package sqlutil

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// Beginner is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Run executes fn inside a transaction.
// If fn returns an error the tx rolls back, else it commits.
func Run[T any](ctx context.Context, db Beginner, fn func(tx pgx.Tx) (T, error)) (T, error) {
	var zero T

	tx, err := db.Begin(ctx) // BEGIN
	if err != nil {
		return zero, err
	}
	defer tx.Rollback(ctx) // no-op after COMMIT

	out, err := fn(tx)
	if err != nil {
		return zero, err // ROLLBACK
	}
	if err := tx.Commit(ctx); err != nil { // COMMIT
		return zero, err
	}
	return out, nil
}
