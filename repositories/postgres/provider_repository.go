package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/preset/enhancement-gateway/models"
	"github.com/preset/enhancement-gateway/repositories"
	"go.uber.org/zap"
)

// ProviderRepository implements the repositories.ProviderRepository interface
type ProviderRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewProviderRepository creates a new provider repository
func NewProviderRepository(db *DB, logger *zap.Logger) repositories.ProviderRepository {
	return &ProviderRepository{
		db:     db,
		logger: logger,
	}
}

// Upsert inserts or updates a provider's health by name.
// Priority and cost are only written on insert so admin edits survive health updates.
func (r *ProviderRepository) Upsert(ctx context.Context, rec *models.ProviderRecord) error {
	query := `
		INSERT INTO api_providers (
			name, is_active, last_health_check, success_rate_24h, last_error,
			priority, cost_per_request, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (name) DO UPDATE SET
			is_active = EXCLUDED.is_active,
			last_health_check = EXCLUDED.last_health_check,
			success_rate_24h = EXCLUDED.success_rate_24h,
			last_error = EXCLUDED.last_error,
			updated_at = EXCLUDED.updated_at
	`

	_, err := GetExecutor(ctx, r.db).ExecContext(ctx, query,
		rec.Name,
		rec.IsActive,
		rec.LastHealthCheck,
		rec.SuccessRate24h,
		rec.LastError,
		rec.Priority,
		rec.CostPerRequest,
		rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert provider %s: %w", rec.Name, err)
	}

	r.logger.Debug("provider health stored",
		zap.String("provider", rec.Name),
		zap.Bool("is_active", rec.IsActive))
	return nil
}

// GetByName retrieves a provider record by name
func (r *ProviderRepository) GetByName(ctx context.Context, name string) (*models.ProviderRecord, error) {
	query := `
		SELECT name, is_active, last_health_check, success_rate_24h, last_error,
		       priority, cost_per_request, updated_at
		FROM api_providers
		WHERE name = $1
	`

	rec, err := scanProvider(GetExecutor(ctx, r.db).QueryRowContext(ctx, query, name))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("provider %s: %w", name, repositories.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get provider: %w", err)
	}
	return rec, nil
}

// List retrieves all provider records ordered by priority
func (r *ProviderRepository) List(ctx context.Context) ([]*models.ProviderRecord, error) {
	query := `
		SELECT name, is_active, last_health_check, success_rate_24h, last_error,
		       priority, cost_per_request, updated_at
		FROM api_providers
		ORDER BY priority ASC, name ASC
	`

	rows, err := GetExecutor(ctx, r.db).QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query providers: %w", err)
	}
	defer rows.Close()

	var recs []*models.ProviderRecord
	for rows.Next() {
		rec, err := scanProvider(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan provider: %w", err)
		}
		recs = append(recs, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating providers: %w", err)
	}

	return recs, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProvider(row rowScanner) (*models.ProviderRecord, error) {
	rec := &models.ProviderRecord{}
	var lastCheck sql.NullTime
	if err := row.Scan(
		&rec.Name,
		&rec.IsActive,
		&lastCheck,
		&rec.SuccessRate24h,
		&rec.LastError,
		&rec.Priority,
		&rec.CostPerRequest,
		&rec.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if lastCheck.Valid {
		rec.LastHealthCheck = lastCheck.Time
	}
	return rec, nil
}
