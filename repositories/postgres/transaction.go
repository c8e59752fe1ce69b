package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/preset/enhancement-gateway/repositories"
	"go.uber.org/zap"
)

// Postgres SQLSTATE codes after which a ledger transaction is safe to rerun
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// defaultTxAttempts bounds reruns of a transaction that lost a lock race
const defaultTxAttempts = 3

// transactionContextKey is the context key for storing transactions
type transactionContextKey struct{}

// TransactionManager runs credit ledger work in database transactions.
// Nested InTransaction calls join the outer transaction instead of opening a new one.
type TransactionManager struct {
	db          *DB
	logger      *zap.Logger
	maxAttempts int
	backoff     time.Duration
}

// NewTransactionManager creates a new transaction manager
func NewTransactionManager(db *DB, logger *zap.Logger) repositories.TransactionManager {
	return &TransactionManager{
		db:          db,
		logger:      logger,
		maxAttempts: defaultTxAttempts,
		backoff:     20 * time.Millisecond,
	}
}

// Begin starts a new transaction
func (tm *TransactionManager) Begin(ctx context.Context) (repositories.Transaction, error) {
	sqlTx, err := tm.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	return &Transaction{
		tx:      sqlTx,
		ctx:     ctx,
		logger:  tm.logger,
		started: time.Now(),
	}, nil
}

// InTransaction executes fn within a transaction, committing when it returns nil.
// A serialization failure or deadlock reruns fn from the start, so fn must only
// touch the database and captured locals it reassigns.
func (tm *TransactionManager) InTransaction(ctx context.Context, fn func(ctx context.Context, tx repositories.Transaction) error) error {
	if tx, ok := GetTransactionFromContext(ctx); ok {
		return fn(ctx, tx)
	}

	var err error
	for attempt := 1; attempt <= tm.maxAttempts; attempt++ {
		err = tm.runOnce(ctx, fn)
		if err == nil || !isRetryable(err) || attempt == tm.maxAttempts {
			return err
		}

		tm.logger.Warn("ledger transaction conflicted, retrying",
			zap.Int("attempt", attempt),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return err
		case <-time.After(time.Duration(attempt) * tm.backoff):
		}
	}
	return err
}

func (tm *TransactionManager) runOnce(ctx context.Context, fn func(ctx context.Context, tx repositories.Transaction) error) (err error) {
	tx, err := tm.Begin(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	txCtx := context.WithValue(ctx, transactionContextKey{}, tx)

	if err := fn(txCtx, tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			tm.logger.Error("failed to rollback transaction",
				zap.Error(rbErr),
				zap.NamedError("original_error", err),
			)
		}
		return err
	}

	return tx.Commit()
}

// isRetryable reports whether err is a Postgres lock conflict
func isRetryable(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == codeSerializationFailure || pqErr.Code == codeDeadlockDetected
}

// Transaction implements the Transaction interface
type Transaction struct {
	tx      *sql.Tx
	ctx     context.Context
	logger  *zap.Logger
	started time.Time
}

// Commit commits the transaction
func (t *Transaction) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	t.logger.Debug("transaction committed", zap.Duration("duration", time.Since(t.started)))
	return nil
}

// Rollback rolls back the transaction. Rolling back a finished transaction is a no-op.
func (t *Transaction) Rollback() error {
	if err := t.tx.Rollback(); err != nil {
		if errors.Is(err, sql.ErrTxDone) {
			return nil
		}
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}
	t.logger.Debug("transaction rolled back", zap.Duration("duration", time.Since(t.started)))
	return nil
}

// Context returns the context the transaction was started with
func (t *Transaction) Context() context.Context {
	return t.ctx
}

// GetTransactionFromContext retrieves a transaction from the context if available
func GetTransactionFromContext(ctx context.Context) (repositories.Transaction, bool) {
	tx, ok := ctx.Value(transactionContextKey{}).(repositories.Transaction)
	return tx, ok
}

// Executor is satisfied by both *sql.DB and *sql.Tx
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// GetExecutor returns the transaction carried by ctx, or the pool when there is none
func GetExecutor(ctx context.Context, db *DB) Executor {
	if tx, ok := GetTransactionFromContext(ctx); ok {
		if pgTx, ok := tx.(*Transaction); ok {
			return pgTx.tx
		}
	}
	return db.DB
}
