package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/preset/enhancement-gateway/config"
	"go.uber.org/zap"
)

// DB wraps the sql.DB connection pool
type DB struct {
	*sql.DB
	logger *zap.Logger
}

// NewDB creates a new database connection pool
func NewDB(cfg config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	dsn := cfg.DSN()

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established",
		zap.String("connection", cfg.LogString()))

	return WrapDB(db, logger), nil
}

// WrapDB wraps an already opened pool
func WrapDB(db *sql.DB, logger *zap.Logger) *DB {
	return &DB{DB: db, logger: logger}
}

// Close closes the database connection pool
func (db *DB) Close() error {
	db.logger.Info("closing database connection")
	return db.DB.Close()
}

// HealthCheck performs a health check on the database
func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	// Check if we can query
	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database query check failed: %w", err)
	}

	return nil
}

// Stats returns database connection pool statistics
func (db *DB) Stats() sql.DBStats {
	return db.DB.Stats()
}

// InitSchema initializes the database schema
func (db *DB) InitSchema(ctx context.Context) error {
	schema := `
		-- Per-user credit balances
		CREATE TABLE IF NOT EXISTS user_credits (
			id UUID PRIMARY KEY,
			user_id UUID NOT NULL UNIQUE,
			subscription_tier VARCHAR(20) NOT NULL DEFAULT 'free',
			monthly_allowance INTEGER NOT NULL DEFAULT 0,
			current_balance INTEGER NOT NULL DEFAULT 0 CHECK (current_balance >= 0),
			consumed_this_month INTEGER NOT NULL DEFAULT 0,
			last_reset_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		-- Platform credit pools held with providers
		CREATE TABLE IF NOT EXISTS credit_pools (
			id UUID PRIMARY KEY,
			provider VARCHAR(100) NOT NULL UNIQUE,
			total_purchased INTEGER NOT NULL DEFAULT 0,
			total_consumed INTEGER NOT NULL DEFAULT 0,
			available_balance INTEGER NOT NULL DEFAULT 0 CHECK (available_balance >= 0),
			cost_per_credit DECIMAL(10, 6) NOT NULL,
			auto_refill_amount INTEGER NOT NULL DEFAULT 0,
			status VARCHAR(20) NOT NULL DEFAULT 'active',
			last_refill_at TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		-- Pool top-up requests
		CREATE TABLE IF NOT EXISTS credit_purchase_requests (
			id UUID PRIMARY KEY,
			provider VARCHAR(100) NOT NULL,
			amount_requested INTEGER NOT NULL,
			estimated_cost DECIMAL(12, 4) NOT NULL,
			status VARCHAR(50) NOT NULL,
			requested_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		-- Credit transaction log
		CREATE TABLE IF NOT EXISTS credit_transactions (
			id UUID PRIMARY KEY,
			user_id UUID NOT NULL,
			transaction_type VARCHAR(50) NOT NULL,
			credits_used INTEGER NOT NULL DEFAULT 0,
			cost_usd DECIMAL(10, 6) NOT NULL DEFAULT 0,
			provider VARCHAR(100) NOT NULL,
			api_request_id VARCHAR(255),
			enhancement_type VARCHAR(50) NOT NULL,
			status VARCHAR(20) NOT NULL,
			error_message TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		-- Provider health
		CREATE TABLE IF NOT EXISTS api_providers (
			name VARCHAR(100) PRIMARY KEY,
			is_active BOOLEAN NOT NULL DEFAULT true,
			last_health_check TIMESTAMP,
			success_rate_24h DECIMAL(5, 2) NOT NULL DEFAULT 100,
			last_error TEXT,
			priority INTEGER NOT NULL DEFAULT 0,
			cost_per_request DECIMAL(10, 6) NOT NULL DEFAULT 0,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		CREATE INDEX IF NOT EXISTS idx_user_credits_tier ON user_credits(subscription_tier);
		CREATE INDEX IF NOT EXISTS idx_credit_transactions_user_id ON credit_transactions(user_id);
		CREATE INDEX IF NOT EXISTS idx_credit_transactions_created_at ON credit_transactions(created_at);
		CREATE INDEX IF NOT EXISTS idx_credit_transactions_provider ON credit_transactions(provider);
		CREATE INDEX IF NOT EXISTS idx_credit_purchase_requests_status ON credit_purchase_requests(status);
	`

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	db.logger.Info("database schema initialized successfully")
	return nil
}
