package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/preset/enhancement-gateway/models"
	"github.com/preset/enhancement-gateway/repositories"
	"go.uber.org/zap"
)

// CreditPoolRepository implements the repositories.CreditPoolRepository interface
type CreditPoolRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewCreditPoolRepository creates a new credit pool repository
func NewCreditPoolRepository(db *DB, logger *zap.Logger) repositories.CreditPoolRepository {
	return &CreditPoolRepository{
		db:     db,
		logger: logger,
	}
}

// GetByProvider retrieves the pool held with a provider
func (r *CreditPoolRepository) GetByProvider(ctx context.Context, provider string) (*models.CreditPool, error) {
	query := `
		SELECT id, provider, total_purchased, total_consumed, available_balance,
		       cost_per_credit, auto_refill_amount, status, last_refill_at, updated_at
		FROM credit_pools
		WHERE provider = $1
	` + lockClause(ctx)

	p := &models.CreditPool{}
	err := GetExecutor(ctx, r.db).QueryRowContext(ctx, query, provider).Scan(
		&p.ID,
		&p.Provider,
		&p.TotalPurchased,
		&p.TotalConsumed,
		&p.AvailableBalance,
		&p.CostPerCredit,
		&p.AutoRefillAmount,
		&p.Status,
		&p.LastRefillAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("credit pool %s: %w", provider, repositories.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get credit pool: %w", err)
	}

	return p, nil
}

// Consume atomically decrements an active pool
func (r *CreditPoolRepository) Consume(ctx context.Context, provider string, credits int) error {
	query := `
		UPDATE credit_pools
		SET available_balance = available_balance - $2,
		    total_consumed = total_consumed + $2,
		    updated_at = $3
		WHERE provider = $1 AND status = 'active' AND available_balance >= $2
	`

	result, err := GetExecutor(ctx, r.db).ExecContext(ctx, query, provider, credits, time.Now())
	if err != nil {
		return fmt.Errorf("failed to consume pool credits: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return repositories.ErrInsufficientBalance
	}
	return nil
}

// Refund returns credits to the pool
func (r *CreditPoolRepository) Refund(ctx context.Context, provider string, credits int) error {
	query := `
		UPDATE credit_pools
		SET available_balance = available_balance + $2,
		    total_consumed = GREATEST(total_consumed - $2, 0),
		    updated_at = $3
		WHERE provider = $1
	`

	result, err := GetExecutor(ctx, r.db).ExecContext(ctx, query, provider, credits, time.Now())
	if err != nil {
		return fmt.Errorf("failed to refund pool credits: %w", err)
	}
	return requireRow(result, fmt.Sprintf("credit pool %s", provider))
}

// Refill adds purchased credits to the pool
func (r *CreditPoolRepository) Refill(ctx context.Context, provider string, amount int, at time.Time) error {
	query := `
		UPDATE credit_pools
		SET total_purchased = total_purchased + $2,
		    available_balance = available_balance + $2,
		    last_refill_at = $3,
		    updated_at = $3
		WHERE provider = $1
	`

	result, err := GetExecutor(ctx, r.db).ExecContext(ctx, query, provider, amount, at)
	if err != nil {
		return fmt.Errorf("failed to refill credit pool: %w", err)
	}
	if err := requireRow(result, fmt.Sprintf("credit pool %s", provider)); err != nil {
		return err
	}

	r.logger.Info("credit pool refilled", zap.String("provider", provider), zap.Int("amount", amount))
	return nil
}

// CreatePurchaseRequest records a pool top-up request
func (r *CreditPoolRepository) CreatePurchaseRequest(ctx context.Context, req *models.CreditPurchaseRequest) error {
	query := `
		INSERT INTO credit_purchase_requests (id, provider, amount_requested, estimated_cost, status, requested_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := GetExecutor(ctx, r.db).ExecContext(ctx, query,
		req.ID,
		req.Provider,
		req.AmountRequested,
		req.EstimatedCost,
		req.Status,
		req.RequestedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create purchase request: %w", err)
	}
	return nil
}
