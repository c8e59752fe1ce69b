package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/preset/enhancement-gateway/models"
	"github.com/preset/enhancement-gateway/repositories"
	"go.uber.org/zap"
)

// CreditRepository implements the repositories.CreditRepository interface
type CreditRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewCreditRepository creates a new credit repository
func NewCreditRepository(db *DB, logger *zap.Logger) repositories.CreditRepository {
	return &CreditRepository{
		db:     db,
		logger: logger,
	}
}

// GetByUserID retrieves a user's credit record
func (r *CreditRepository) GetByUserID(ctx context.Context, userID uuid.UUID) (*models.UserCredits, error) {
	query := `
		SELECT id, user_id, subscription_tier, monthly_allowance, current_balance,
		       consumed_this_month, last_reset_at, created_at, updated_at
		FROM user_credits
		WHERE user_id = $1
	` + lockClause(ctx)

	executor := GetExecutor(ctx, r.db)
	c := &models.UserCredits{}

	err := executor.QueryRowContext(ctx, query, userID).Scan(
		&c.ID,
		&c.UserID,
		&c.SubscriptionTier,
		&c.MonthlyAllowance,
		&c.CurrentBalance,
		&c.ConsumedThisMonth,
		&c.LastResetAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user credits %s: %w", userID, repositories.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get user credits: %w", err)
	}

	return c, nil
}

// GetSubscriptionTier reads the user's plan from users_profile
func (r *CreditRepository) GetSubscriptionTier(ctx context.Context, userID uuid.UUID) (models.SubscriptionTier, error) {
	query := `SELECT subscription_tier FROM users_profile WHERE user_id = $1`

	var tier sql.NullString
	err := GetExecutor(ctx, r.db).QueryRowContext(ctx, query, userID).Scan(&tier)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.TierFree, nil
		}
		return "", fmt.Errorf("failed to get subscription tier: %w", err)
	}
	if !tier.Valid || tier.String == "" {
		return models.TierFree, nil
	}

	return models.SubscriptionTier(tier.String), nil
}

// Create inserts a new credit record
func (r *CreditRepository) Create(ctx context.Context, c *models.UserCredits) error {
	query := `
		INSERT INTO user_credits (
			id, user_id, subscription_tier, monthly_allowance, current_balance,
			consumed_this_month, last_reset_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := GetExecutor(ctx, r.db).ExecContext(ctx, query,
		c.ID,
		c.UserID,
		c.SubscriptionTier,
		c.MonthlyAllowance,
		c.CurrentBalance,
		c.ConsumedThisMonth,
		c.LastResetAt,
		c.CreatedAt,
		c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create user credits: %w", err)
	}

	r.logger.Debug("user credits initialized",
		zap.String("user_id", c.UserID.String()),
		zap.String("tier", string(c.SubscriptionTier)),
		zap.Int("allowance", c.MonthlyAllowance))
	return nil
}

// Reset stores a monthly reset of the record
func (r *CreditRepository) Reset(ctx context.Context, c *models.UserCredits) error {
	query := `
		UPDATE user_credits
		SET current_balance = $2, consumed_this_month = $3, last_reset_at = $4, updated_at = $5
		WHERE user_id = $1
	`

	result, err := GetExecutor(ctx, r.db).ExecContext(ctx, query,
		c.UserID,
		c.CurrentBalance,
		c.ConsumedThisMonth,
		c.LastResetAt,
		c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to reset user credits: %w", err)
	}

	return requireRow(result, fmt.Sprintf("user credits %s", c.UserID))
}

// Consume atomically decrements the user's balance
func (r *CreditRepository) Consume(ctx context.Context, userID uuid.UUID, credits int) (int, error) {
	query := `
		UPDATE user_credits
		SET current_balance = current_balance - $2,
		    consumed_this_month = consumed_this_month + $2,
		    updated_at = $3
		WHERE user_id = $1 AND current_balance >= $2
		RETURNING current_balance
	`

	var remaining int
	err := GetExecutor(ctx, r.db).QueryRowContext(ctx, query, userID, credits, time.Now()).Scan(&remaining)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, repositories.ErrInsufficientBalance
		}
		return 0, fmt.Errorf("failed to consume user credits: %w", err)
	}

	return remaining, nil
}

// Refund atomically returns credits to the user's balance
func (r *CreditRepository) Refund(ctx context.Context, userID uuid.UUID, credits int) (int, error) {
	query := `
		UPDATE user_credits
		SET current_balance = current_balance + $2,
		    consumed_this_month = GREATEST(consumed_this_month - $2, 0),
		    updated_at = $3
		WHERE user_id = $1
		RETURNING current_balance
	`

	var balance int
	err := GetExecutor(ctx, r.db).QueryRowContext(ctx, query, userID, credits, time.Now()).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("user credits %s: %w", userID, repositories.ErrNotFound)
		}
		return 0, fmt.Errorf("failed to refund user credits: %w", err)
	}

	return balance, nil
}

// AllocateTier upserts a full allowance for every profile on the tier
func (r *CreditRepository) AllocateTier(ctx context.Context, tier models.SubscriptionTier, allowance int, at time.Time) (int64, error) {
	query := `
		INSERT INTO user_credits (
			id, user_id, subscription_tier, monthly_allowance, current_balance,
			consumed_this_month, last_reset_at, created_at, updated_at
		)
		SELECT gen_random_uuid(), p.user_id, p.subscription_tier, $2, $2, 0, $3, $3, $3
		FROM users_profile p
		WHERE p.subscription_tier = $1
		ON CONFLICT (user_id) DO UPDATE SET
			subscription_tier = EXCLUDED.subscription_tier,
			monthly_allowance = EXCLUDED.monthly_allowance,
			current_balance = EXCLUDED.current_balance,
			consumed_this_month = 0,
			last_reset_at = EXCLUDED.last_reset_at,
			updated_at = EXCLUDED.updated_at
	`

	result, err := GetExecutor(ctx, r.db).ExecContext(ctx, query, tier, allowance, at)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate %s credits: %w", tier, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	r.logger.Info("monthly credits allocated",
		zap.String("tier", string(tier)),
		zap.Int("allowance", allowance),
		zap.Int64("users", rows))
	return rows, nil
}

// lockClause returns a row lock when the context carries a transaction
func lockClause(ctx context.Context) string {
	if _, ok := GetTransactionFromContext(ctx); ok {
		return " FOR UPDATE"
	}
	return ""
}

// requireRow converts a zero-row update into ErrNotFound
func requireRow(result sql.Result, what string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%s: %w", what, repositories.ErrNotFound)
	}
	return nil
}
