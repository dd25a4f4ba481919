package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "github.com/kislikjeka/fundflow/internal/shared/errors"
)

// Transaction management using pgx transactions.
// The open pgx.Tx travels in the context, so every repository of this package
// joins the same unit of work when handed a context returned by BeginTx.

// ctxKey is the context key type for storing database transactions
type ctxKey string

const txContextKey ctxKey = "db_tx"

// queryer is implemented by both *pgxpool.Pool and pgx.Tx
type queryer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// txFromContext retrieves the transaction from context if one exists
func txFromContext(ctx context.Context) pgx.Tx {
	if tx, ok := ctx.Value(txContextKey).(pgx.Tx); ok {
		return tx
	}
	return nil
}

// queryerFor returns the transaction if one exists in context, otherwise the pool.
// This allows all repository methods to work both inside and outside transactions.
func queryerFor(ctx context.Context, pool *pgxpool.Pool) queryer {
	if tx := txFromContext(ctx); tx != nil {
		return tx
	}
	return pool
}

// beginTx starts a READ COMMITTED transaction and stores it in the context.
// Writers serialize on SELECT ... FOR UPDATE row locks rather than on isolation level.
func beginTx(ctx context.Context, pool *pgxpool.Pool) (context.Context, error) {
	if tx := txFromContext(ctx); tx != nil {
		return ctx, apperrors.New(apperrors.CodeInternal, "transaction already in progress")
	}

	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return ctx, apperrors.StorageFailure("failed to begin transaction", err)
	}

	return context.WithValue(ctx, txContextKey, tx), nil
}

func commitTx(ctx context.Context) error {
	tx := txFromContext(ctx)
	if tx == nil {
		return apperrors.New(apperrors.CodeInternal, "no transaction in context")
	}

	if err := tx.Commit(ctx); err != nil {
		return storageError("failed to commit transaction", err)
	}

	return nil
}

func rollbackTx(ctx context.Context) error {
	tx := txFromContext(ctx)
	if tx == nil {
		return apperrors.New(apperrors.CodeInternal, "no transaction in context")
	}

	if err := tx.Rollback(ctx); err != nil {
		// Ignore already rolled back or committed errors
		if errors.Is(err, pgx.ErrTxClosed) {
			return nil
		}
		return storageError("failed to rollback transaction", err)
	}

	return nil
}

// requireTx fails fast when a locking or balance-writing call runs outside a unit of work
func requireTx(ctx context.Context, op string) error {
	if txFromContext(ctx) == nil {
		return fmt.Errorf("%s: %w", op, errNoUnitOfWork)
	}
	return nil
}

var errNoUnitOfWork = apperrors.New(apperrors.CodeInternal, "operation requires an active unit of work")

// UnitOfWork opens database transactions shared by every repository of this package
type UnitOfWork struct {
	pool *pgxpool.Pool
}

// NewUnitOfWork creates a unit-of-work manager over pool
func NewUnitOfWork(pool *pgxpool.Pool) *UnitOfWork {
	return &UnitOfWork{pool: pool}
}

// Do runs fn inside one database transaction, committing only if fn returns nil
func (u *UnitOfWork) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	txCtx, err := beginTx(ctx, u.pool)
	if err != nil {
		return err
	}

	committed := false
	defer func() {
		if !committed {
			_ = rollbackTx(txCtx)
		}
	}()

	if err := fn(txCtx); err != nil {
		return err
	}

	if err := commitTx(txCtx); err != nil {
		return err
	}

	committed = true
	return nil
}
