package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/preset/enhancement-gateway/models"
	"github.com/preset/enhancement-gateway/repositories"
	"go.uber.org/zap"
)

// CreditTransactionRepository implements the repositories.CreditTransactionRepository interface
type CreditTransactionRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewCreditTransactionRepository creates a new credit transaction repository
func NewCreditTransactionRepository(db *DB, logger *zap.Logger) repositories.CreditTransactionRepository {
	return &CreditTransactionRepository{
		db:     db,
		logger: logger,
	}
}

// Insert inserts a new transaction entry
func (r *CreditTransactionRepository) Insert(ctx context.Context, tx *models.CreditTransaction) error {
	query := `
		INSERT INTO credit_transactions (
			id, user_id, transaction_type, credits_used, cost_usd, provider,
			api_request_id, enhancement_type, status, error_message, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := GetExecutor(ctx, r.db).ExecContext(ctx, query,
		tx.ID,
		tx.UserID,
		tx.TransactionType,
		tx.CreditsUsed,
		tx.CostUSD,
		tx.Provider,
		tx.APIRequestID,
		tx.EnhancementType,
		tx.Status,
		tx.ErrorMessage,
		tx.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert credit transaction: %w", err)
	}

	r.logger.Debug("credit transaction inserted",
		zap.String("id", tx.ID.String()),
		zap.String("provider", tx.Provider),
		zap.String("status", string(tx.Status)))
	return nil
}

// GetByUserID retrieves a user's transactions with pagination
func (r *CreditTransactionRepository) GetByUserID(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.CreditTransaction, error) {
	query := `
		SELECT id, user_id, transaction_type, credits_used, cost_usd, provider,
		       api_request_id, enhancement_type, status, error_message, created_at
		FROM credit_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := GetExecutor(ctx, r.db).QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query credit transactions: %w", err)
	}
	defer rows.Close()

	var txs []*models.CreditTransaction
	for rows.Next() {
		tx := &models.CreditTransaction{}
		if err := rows.Scan(
			&tx.ID,
			&tx.UserID,
			&tx.TransactionType,
			&tx.CreditsUsed,
			&tx.CostUSD,
			&tx.Provider,
			&tx.APIRequestID,
			&tx.EnhancementType,
			&tx.Status,
			&tx.ErrorMessage,
			&tx.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan credit transaction: %w", err)
		}
		txs = append(txs, tx)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating credit transactions: %w", err)
	}

	return txs, nil
}
