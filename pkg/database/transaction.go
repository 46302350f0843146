package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"
)

type TxContextKey string

const txKey = TxContextKey("tx-context-key")

// ErrRollbackOnly is returned by Commit when a nested unit of work rolled back.
var ErrRollbackOnly = errors.New("transaction was marked for rollback")

type Tx interface {
	Querier
	IsOpen() bool
	DriverName() string
	Rebind(query string) string
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Transaction wraps sqlx.Tx. Only the caller that began it can end it.
type Transaction struct {
	*sqlx.Tx
	logger       ectologger.Logger
	mu           sync.Mutex
	isClosed     bool
	rollbackOnly bool
}

func NewTx(tx *sqlx.Tx, logger ectologger.Logger) *Transaction {
	return &Transaction{
		Tx:     tx,
		logger: logger,
	}
}

// GetTx joins the transaction carried by ctx or begins a new one. A joined
// transaction cannot commit; rolling it back dooms the outer transaction.
func GetTx(ctx context.Context, logger ectologger.Logger, db DB, opts *sql.TxOptions) (context.Context, Tx, error) {
	if outer, ok := ctx.Value(txKey).(*Transaction); ok && outer.IsOpen() {
		return ctx, &joinedTx{Transaction: outer}, nil
	}

	tx, err := db.BeginTxx(ctx, opts)
	if err != nil {
		logger.WithContext(ctx).WithError(err).Errorf("error while beginning transaction")
		return ctx, nil, fmt.Errorf("error while beginning transaction: %w", err)
	}

	newTx := NewTx(tx, logger)
	return context.WithValue(ctx, txKey, newTx), newTx, nil
}

func (t *Transaction) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.isClosed
}

func (t *Transaction) Rollback(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.isClosed {
		return nil // already committed or rolled back
	}

	t.isClosed = true
	if err := t.Tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		t.logger.WithContext(ctx).WithError(err).Errorf("error while rolling back transaction")
		return fmt.Errorf("error while rolling back transaction: %w", err)
	}
	return nil
}

func (t *Transaction) Commit(ctx context.Context) error {
	t.mu.Lock()
	doomed := t.rollbackOnly
	t.mu.Unlock()
	if doomed {
		if err := t.Rollback(ctx); err != nil {
			return err
		}
		return ErrRollbackOnly
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.isClosed {
		return nil
	}

	t.isClosed = true
	if err := t.Tx.Commit(); err != nil {
		t.logger.WithContext(ctx).WithError(err).Errorf("error while committing transaction")
		return fmt.Errorf("error while committing transaction: %w", err)
	}
	return nil
}

func (t *Transaction) markRollbackOnly() {
	t.mu.Lock()
	t.rollbackOnly = true
	t.mu.Unlock()
}

// joinedTx is handed to callers that join an already open transaction.
type joinedTx struct {
	*Transaction
	mu   sync.Mutex
	done bool
}

func (j *joinedTx) Commit(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.done = true
	return nil
}

func (j *joinedTx) Rollback(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.done {
		return nil
	}
	j.done = true
	j.Transaction.markRollbackOnly()
	return nil
}
