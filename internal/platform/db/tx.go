package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type contextKey string

const DBTxKey contextKey = "db_tx"

// ErrNoPool is returned by WithTx when no transaction starter is available.
var ErrNoPool = errors.New("no database connection in context")

// Querier is the subset of pgx shared by pools, connections and transactions.
type Querier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// Beginner starts transactions. *pgxpool.Pool satisfies it.
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// TxFromContext returns the transaction stored by WithTx, if any.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(DBTxKey).(pgx.Tx)
	return tx
}

// Conn returns the transaction in ctx, falling back to q.
func Conn(ctx context.Context, q Querier) Querier {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}
	return q
}

// WithTx begins a transaction on b and returns a context carrying it.
func WithTx(ctx context.Context, b Beginner) (context.Context, pgx.Tx, error) {
	if b == nil {
		return ctx, nil, ErrNoPool
	}
	tx, err := b.Begin(ctx)
	if err != nil {
		return ctx, nil, fmt.Errorf("begin transaction: %w", err)
	}
	return context.WithValue(ctx, DBTxKey, tx), tx, nil
}

// TxManager runs units of work in a single transaction each.
type TxManager struct {
	b Beginner
}

func NewTxManager(b Beginner) *TxManager {
	return &TxManager{b: b}
}

// InTx runs fn inside a transaction that commits when fn returns nil and rolls
// back otherwise. A call made while ctx already holds a transaction joins it.
func (m *TxManager) InTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if TxFromContext(ctx) != nil {
		return fn(ctx)
	}

	txCtx, tx, err := WithTx(ctx, m.b)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err := fn(txCtx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
