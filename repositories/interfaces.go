package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/preset/enhancement-gateway/models"
)

var (
	// ErrNotFound is returned when a lookup matches no row
	ErrNotFound = errors.New("record not found")

	// ErrInsufficientBalance is returned when a conditional decrement would drive a balance negative
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction
	// Automatically commits if function succeeds, rolls back on error
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Context returns the transaction context
	Context() context.Context
}

// CreditRepository handles per-user credit balances
type CreditRepository interface {
	// GetByUserID retrieves a user's credit record, locking the row when called inside a transaction
	GetByUserID(ctx context.Context, userID uuid.UUID) (*models.UserCredits, error)

	// GetSubscriptionTier reads the user's plan from their profile, defaulting to free
	GetSubscriptionTier(ctx context.Context, userID uuid.UUID) (models.SubscriptionTier, error)

	// Create inserts a new credit record
	Create(ctx context.Context, credits *models.UserCredits) error

	// Reset stores a monthly reset of the record
	Reset(ctx context.Context, credits *models.UserCredits) error

	// Consume atomically decrements the balance and returns what is left.
	// Returns ErrInsufficientBalance when the balance cannot cover the amount.
	Consume(ctx context.Context, userID uuid.UUID, credits int) (int, error)

	// Refund atomically returns credits to the balance and returns the new balance
	Refund(ctx context.Context, userID uuid.UUID, credits int) (int, error)

	// AllocateTier resets every user on a tier to the given allowance and returns the rows touched
	AllocateTier(ctx context.Context, tier models.SubscriptionTier, allowance int, at time.Time) (int64, error)
}

// CreditPoolRepository handles the platform-owned credit pools
type CreditPoolRepository interface {
	// GetByProvider retrieves the pool for a provider, locking the row when called inside a transaction
	GetByProvider(ctx context.Context, provider string) (*models.CreditPool, error)

	// Consume atomically decrements the pool.
	// Returns ErrInsufficientBalance when the pool cannot cover the amount.
	Consume(ctx context.Context, provider string, credits int) error

	// Refund returns credits to the pool
	Refund(ctx context.Context, provider string, credits int) error

	// Refill adds purchased credits to the pool
	Refill(ctx context.Context, provider string, amount int, at time.Time) error

	// CreatePurchaseRequest records a pool top-up request
	CreatePurchaseRequest(ctx context.Context, req *models.CreditPurchaseRequest) error
}

// CreditTransactionRepository handles the credit transaction log
type CreditTransactionRepository interface {
	// Insert inserts a new transaction entry
	Insert(ctx context.Context, tx *models.CreditTransaction) error

	// GetByUserID retrieves a user's transactions, newest first, with pagination
	GetByUserID(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.CreditTransaction, error)
}

// ProviderRepository handles the persisted provider health records
type ProviderRepository interface {
	// Upsert inserts or updates a provider record by name
	Upsert(ctx context.Context, rec *models.ProviderRecord) error

	// GetByName retrieves a provider record by name
	GetByName(ctx context.Context, name string) (*models.ProviderRecord, error)

	// List retrieves all provider records ordered by priority
	List(ctx context.Context) ([]*models.ProviderRecord, error)
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	Credits            CreditRepository
	CreditPools        CreditPoolRepository
	CreditTransactions CreditTransactionRepository
	Providers          ProviderRepository
}
