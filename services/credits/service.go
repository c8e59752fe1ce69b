package credits

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/preset/enhancement-gateway/models"
	"github.com/preset/enhancement-gateway/repositories"
	"github.com/preset/enhancement-gateway/services"
	"github.com/preset/enhancement-gateway/services/alerts"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const insufficientCreditsMessage = "Insufficient credits. Upgrade to Plus or Pro for AI enhancements."

// Config holds ledger settings
type Config struct {
	// PoolProvider names the platform credit pool paid tiers fall back to
	PoolProvider string

	// TierAllowances maps subscription tier to monthly credits
	TierAllowances map[string]int
}

// Service implements Ledger on top of the credit repositories
type Service struct {
	txMgr        repositories.TransactionManager
	credits      repositories.CreditRepository
	pools        repositories.CreditPoolRepository
	transactions repositories.CreditTransactionRepository
	providers    repositories.ProviderRepository
	recorder     TransactionRecorder
	alerts       alerts.Service
	cfg          Config
	logger       *zap.Logger
	now          func() time.Time
}

// NewService creates a ledger service.
// recorder and alertService are optional; without a recorder transactions
// are inserted synchronously.
func NewService(
	txMgr repositories.TransactionManager,
	repos *repositories.Repositories,
	recorder TransactionRecorder,
	alertService alerts.Service,
	cfg Config,
	logger *zap.Logger,
) *Service {
	return &Service{
		txMgr:        txMgr,
		credits:      repos.Credits,
		pools:        repos.CreditPools,
		transactions: repos.CreditTransactions,
		providers:    repos.Providers,
		recorder:     recorder,
		alerts:       alertService,
		cfg:          cfg,
		logger:       logger,
		now:          time.Now,
	}
}

var _ Ledger = (*Service)(nil)

// CheckAndConsume charges the user's own balance first, then the platform pool for paid tiers
func (s *Service) CheckAndConsume(ctx context.Context, userID uuid.UUID, amount int, purpose string) (*Consumption, error) {
	if amount <= 0 {
		return nil, services.NewDomainError(services.ErrorTypeValidation, "credit amount must be positive", nil).
			WithDetail("amount", amount)
	}

	var (
		consumption *Consumption
		account     *models.UserCredits
	)
	err := s.txMgr.InTransaction(ctx, func(ctx context.Context, _ repositories.Transaction) error {
		consumption = nil
		var err error
		account, err = s.loadAccount(ctx, userID)
		if err != nil {
			return err
		}
		if account.CurrentBalance < amount {
			return nil
		}

		remaining, err := s.credits.Consume(ctx, userID, amount)
		if errors.Is(err, repositories.ErrInsufficientBalance) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("credit consumption failed: %w", err)
		}
		consumption = &Consumption{
			Source:           SourceUserCredits,
			CreditsConsumed:  amount,
			RemainingBalance: remaining,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if consumption != nil {
		s.logger.Debug("consumed user credits",
			zap.String("user_id", userID.String()),
			zap.Int("credits", amount),
			zap.Int("remaining", consumption.RemainingBalance),
			zap.String("purpose", purpose))
		return consumption, nil
	}

	if !account.SubscriptionTier.CanUsePlatformCredits() {
		return nil, services.NewInsufficientCreditsError(insufficientCreditsMessage, account.CurrentBalance, amount)
	}

	return s.consumePlatformCredits(ctx, userID, amount, purpose)
}

// consumePlatformCredits charges the shared pool, refilling it first when it runs dry
func (s *Service) consumePlatformCredits(ctx context.Context, userID uuid.UUID, amount int, purpose string) (*Consumption, error) {
	provider := s.cfg.PoolProvider

	pool, err := s.pools.GetByProvider(ctx, provider)
	if err != nil && !errors.Is(err, repositories.ErrNotFound) {
		return nil, fmt.Errorf("failed to load credit pool: %w", err)
	}

	if pool == nil || !pool.CanCover(amount) {
		if err := s.autoRefill(ctx, pool); err != nil {
			s.notify(ctx, alerts.Alert{
				Type:    alerts.TypeCreditRefillFailed,
				Level:   alerts.LevelError,
				Message: fmt.Sprintf("Failed to refill credits for %s: %v", provider, err),
			})
			return nil, services.NewPlatformCreditsDepletedError(provider, err)
		}
	}

	var consumption *Consumption
	err = s.txMgr.InTransaction(ctx, func(ctx context.Context, _ repositories.Transaction) error {
		pool, err := s.pools.GetByProvider(ctx, provider)
		if err != nil {
			return fmt.Errorf("failed to load credit pool: %w", err)
		}
		if !pool.CanCover(amount) {
			return repositories.ErrInsufficientBalance
		}
		if err := s.pools.Consume(ctx, provider, amount); err != nil {
			return err
		}

		consumption = &Consumption{
			Source:           SourcePlatformPool,
			CreditsConsumed:  amount,
			RemainingBalance: pool.AvailableBalance - amount,
			CostUSD:          pool.Cost(amount).InexactFloat64(),
			PoolProvider:     provider,
		}
		return nil
	})
	if errors.Is(err, repositories.ErrInsufficientBalance) {
		return nil, services.NewPlatformCreditsDepletedError(provider, err)
	}
	if err != nil {
		return nil, fmt.Errorf("platform credit consumption failed: %w", err)
	}

	s.record(models.NewCreditTransaction(userID, models.TransactionTypePlatformDeduction, provider, purpose).
		WithCharge(amount, consumption.CostUSD))

	s.logger.Info("consumed platform credits",
		zap.String("user_id", userID.String()),
		zap.String("pool", provider),
		zap.Int("credits", amount),
		zap.Float64("cost_usd", consumption.CostUSD),
		zap.Int("pool_remaining", consumption.RemainingBalance))

	return consumption, nil
}

// autoRefill tops up an exhausted pool with its configured refill amount and
// files a purchase request for manual approval
func (s *Service) autoRefill(ctx context.Context, pool *models.CreditPool) error {
	if pool == nil {
		return fmt.Errorf("no credit pool for %s", s.cfg.PoolProvider)
	}
	if pool.Status != models.PoolStatusActive {
		return fmt.Errorf("credit pool for %s is %s", pool.Provider, pool.Status)
	}
	if pool.AutoRefillAmount <= 0 {
		return fmt.Errorf("auto refill disabled for %s", pool.Provider)
	}

	rec, err := s.providers.GetByName(ctx, pool.Provider)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return fmt.Errorf("provider %s not configured", pool.Provider)
		}
		return fmt.Errorf("failed to load provider %s: %w", pool.Provider, err)
	}

	err = s.txMgr.InTransaction(ctx, func(ctx context.Context, _ repositories.Transaction) error {
		purchase := models.NewCreditPurchaseRequest(pool.Provider, pool.AutoRefillAmount, decimal.NewFromFloat(rec.CostPerRequest))
		if err := s.pools.CreatePurchaseRequest(ctx, purchase); err != nil {
			return err
		}
		return s.pools.Refill(ctx, pool.Provider, pool.AutoRefillAmount, s.now())
	})
	if err != nil {
		return err
	}

	s.logger.Info("refilled platform credit pool",
		zap.String("pool", pool.Provider),
		zap.Int("amount", pool.AutoRefillAmount))
	s.notify(ctx, alerts.Alert{
		Type:    alerts.TypeCreditRefillSuccess,
		Level:   alerts.LevelInfo,
		Message: fmt.Sprintf("Successfully refilled %d credits for %s", pool.AutoRefillAmount, pool.Provider),
	})
	return nil
}

// Refund returns consumed credits to their source
func (s *Service) Refund(ctx context.Context, userID uuid.UUID, c *Consumption) error {
	if c == nil || c.CreditsConsumed <= 0 {
		return nil
	}

	switch c.Source {
	case SourceUserCredits:
		if _, err := s.credits.Refund(ctx, userID, c.CreditsConsumed); err != nil {
			return fmt.Errorf("failed to refund user credits: %w", err)
		}
	case SourcePlatformPool:
		if err := s.pools.Refund(ctx, c.PoolProvider, c.CreditsConsumed); err != nil {
			return fmt.Errorf("failed to refund platform credits: %w", err)
		}
		s.record(models.NewCreditTransaction(userID, models.TransactionTypeRefund, c.PoolProvider, "").
			WithCharge(-c.CreditsConsumed, -c.CostUSD))
	default:
		return fmt.Errorf("unknown credit source %q", c.Source)
	}

	s.logger.Debug("refunded credits",
		zap.String("user_id", userID.String()),
		zap.String("source", string(c.Source)),
		zap.Int("credits", c.CreditsConsumed))
	return nil
}

// LogTransaction records one enhancement attempt
func (s *Service) LogTransaction(ctx context.Context, entry TransactionEntry) error {
	tx := models.NewCreditTransaction(entry.UserID, models.TransactionTypeDeduction, entry.Provider, entry.EnhancementType).
		WithCharge(entry.CreditsUsed, entry.CostUSD).
		WithAPIRequest(entry.RequestID)
	if entry.Failed {
		tx.MarkFailed(entry.ErrorMessage)
	}

	if s.recorder != nil {
		return s.recorder.Record(tx)
	}
	if err := s.transactions.Insert(ctx, tx); err != nil {
		return fmt.Errorf("failed to log credit transaction: %w", err)
	}
	return nil
}

// Balance returns the user's credit record, creating or resetting it as needed
func (s *Service) Balance(ctx context.Context, userID uuid.UUID) (*models.UserCredits, error) {
	var account *models.UserCredits
	err := s.txMgr.InTransaction(ctx, func(ctx context.Context, _ repositories.Transaction) error {
		var err error
		account, err = s.loadAccount(ctx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

// History returns the user's most recent transactions
func (s *Service) History(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.CreditTransaction, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	txs, err := s.transactions.GetByUserID(ctx, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to load credit history: %w", err)
	}
	return txs, nil
}

// AllocateMonthlyCredits resets every user to their tier's allowance.
// Returns the number of accounts touched per tier.
func (s *Service) AllocateMonthlyCredits(ctx context.Context) (map[models.SubscriptionTier]int64, error) {
	now := s.now()
	touched := make(map[models.SubscriptionTier]int64, len(s.cfg.TierAllowances))

	err := s.txMgr.InTransaction(ctx, func(ctx context.Context, _ repositories.Transaction) error {
		for tier, allowance := range s.cfg.TierAllowances {
			t := models.SubscriptionTier(strings.ToLower(tier))
			n, err := s.credits.AllocateTier(ctx, t, allowance, now)
			if err != nil {
				return fmt.Errorf("failed to allocate %s credits: %w", t, err)
			}
			touched[t] = n
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("allocated monthly credits", zap.Any("accounts_per_tier", touched))
	return touched, nil
}

// loadAccount reads the user's credits, creating the record on first use and
// applying a pending monthly reset. Must run inside a transaction.
func (s *Service) loadAccount(ctx context.Context, userID uuid.UUID) (*models.UserCredits, error) {
	account, err := s.credits.GetByUserID(ctx, userID)
	if errors.Is(err, repositories.ErrNotFound) {
		return s.initializeAccount(ctx, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user credits: %w", err)
	}

	now := s.now()
	if account.NeedsMonthlyReset(now) {
		account.ResetMonthly(now)
		if err := s.credits.Reset(ctx, account); err != nil {
			return nil, fmt.Errorf("failed to reset monthly credits: %w", err)
		}
	}
	return account, nil
}

func (s *Service) initializeAccount(ctx context.Context, userID uuid.UUID) (*models.UserCredits, error) {
	tier, err := s.credits.GetSubscriptionTier(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to read subscription tier: %w", err)
	}

	account := models.NewUserCredits(userID, tier, s.allowance(tier))
	account.LastResetAt = s.now()
	if err := s.credits.Create(ctx, account); err != nil {
		return nil, fmt.Errorf("failed to initialize user credits: %w", err)
	}

	s.logger.Info("initialized user credits",
		zap.String("user_id", userID.String()),
		zap.String("tier", string(tier)),
		zap.Int("allowance", account.MonthlyAllowance))
	return account, nil
}

func (s *Service) allowance(tier models.SubscriptionTier) int {
	for name, n := range s.cfg.TierAllowances {
		if strings.EqualFold(name, string(tier)) {
			return n
		}
	}
	return 0
}

// record writes a ledger-internal transaction, logging rather than failing on error
func (s *Service) record(tx *models.CreditTransaction) {
	var err error
	if s.recorder != nil {
		err = s.recorder.Record(tx)
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = s.transactions.Insert(ctx, tx)
		cancel()
	}
	if err != nil {
		s.logger.Warn("failed to record credit transaction",
			zap.String("transaction_type", string(tx.TransactionType)),
			zap.Error(err))
	}
}

func (s *Service) notify(ctx context.Context, alert alerts.Alert) {
	if s.alerts == nil {
		return
	}
	if err := s.alerts.Notify(context.WithoutCancel(ctx), alert); err != nil {
		s.logger.Warn("failed to send alert", zap.String("alert_type", alert.Type), zap.Error(err))
	}
}
