package credits

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/preset/enhancement-gateway/models"
	"github.com/preset/enhancement-gateway/repositories"
	"github.com/preset/enhancement-gateway/services"
	"github.com/preset/enhancement-gateway/services/alerts"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeTxManager struct {
	calls int
}

type fakeTx struct{ ctx context.Context }

func (t *fakeTx) Commit() error            { return nil }
func (t *fakeTx) Rollback() error          { return nil }
func (t *fakeTx) Context() context.Context { return t.ctx }

func (m *fakeTxManager) Begin(ctx context.Context) (repositories.Transaction, error) {
	return &fakeTx{ctx: ctx}, nil
}

func (m *fakeTxManager) InTransaction(ctx context.Context, fn func(ctx context.Context, tx repositories.Transaction) error) error {
	m.calls++
	return fn(ctx, &fakeTx{ctx: ctx})
}

type MockCreditRepository struct{ mock.Mock }

func (m *MockCreditRepository) GetByUserID(ctx context.Context, userID uuid.UUID) (*models.UserCredits, error) {
	args := m.Called(ctx, userID)
	if c := args.Get(0); c != nil {
		return c.(*models.UserCredits), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockCreditRepository) GetSubscriptionTier(ctx context.Context, userID uuid.UUID) (models.SubscriptionTier, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(models.SubscriptionTier), args.Error(1)
}

func (m *MockCreditRepository) Create(ctx context.Context, c *models.UserCredits) error {
	return m.Called(ctx, c).Error(0)
}

func (m *MockCreditRepository) Reset(ctx context.Context, c *models.UserCredits) error {
	return m.Called(ctx, c).Error(0)
}

func (m *MockCreditRepository) Consume(ctx context.Context, userID uuid.UUID, credits int) (int, error) {
	args := m.Called(ctx, userID, credits)
	return args.Int(0), args.Error(1)
}

func (m *MockCreditRepository) Refund(ctx context.Context, userID uuid.UUID, credits int) (int, error) {
	args := m.Called(ctx, userID, credits)
	return args.Int(0), args.Error(1)
}

func (m *MockCreditRepository) AllocateTier(ctx context.Context, tier models.SubscriptionTier, allowance int, at time.Time) (int64, error) {
	args := m.Called(ctx, tier, allowance, at)
	return args.Get(0).(int64), args.Error(1)
}

type MockPoolRepository struct{ mock.Mock }

func (m *MockPoolRepository) GetByProvider(ctx context.Context, provider string) (*models.CreditPool, error) {
	args := m.Called(ctx, provider)
	if p := args.Get(0); p != nil {
		return p.(*models.CreditPool), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockPoolRepository) Consume(ctx context.Context, provider string, credits int) error {
	return m.Called(ctx, provider, credits).Error(0)
}

func (m *MockPoolRepository) Refund(ctx context.Context, provider string, credits int) error {
	return m.Called(ctx, provider, credits).Error(0)
}

func (m *MockPoolRepository) Refill(ctx context.Context, provider string, amount int, at time.Time) error {
	return m.Called(ctx, provider, amount, at).Error(0)
}

func (m *MockPoolRepository) CreatePurchaseRequest(ctx context.Context, req *models.CreditPurchaseRequest) error {
	return m.Called(ctx, req).Error(0)
}

type MockTransactionRepository struct{ mock.Mock }

func (m *MockTransactionRepository) Insert(ctx context.Context, tx *models.CreditTransaction) error {
	return m.Called(ctx, tx).Error(0)
}

func (m *MockTransactionRepository) GetByUserID(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.CreditTransaction, error) {
	args := m.Called(ctx, userID, limit, offset)
	if txs := args.Get(0); txs != nil {
		return txs.([]*models.CreditTransaction), args.Error(1)
	}
	return nil, args.Error(1)
}

type MockProviderRepository struct{ mock.Mock }

func (m *MockProviderRepository) Upsert(ctx context.Context, rec *models.ProviderRecord) error {
	return m.Called(ctx, rec).Error(0)
}

func (m *MockProviderRepository) GetByName(ctx context.Context, name string) (*models.ProviderRecord, error) {
	args := m.Called(ctx, name)
	if r := args.Get(0); r != nil {
		return r.(*models.ProviderRecord), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockProviderRepository) List(ctx context.Context) ([]*models.ProviderRecord, error) {
	args := m.Called(ctx)
	return args.Get(0).([]*models.ProviderRecord), args.Error(1)
}

type recorderStub struct {
	mu  sync.Mutex
	txs []*models.CreditTransaction
}

func (r *recorderStub) Record(tx *models.CreditTransaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.txs = append(r.txs, tx)
	return nil
}

type alertStub struct {
	alerts []alerts.Alert
}

func (a *alertStub) Notify(_ context.Context, alert alerts.Alert) error {
	a.alerts = append(a.alerts, alert)
	return nil
}

type fixture struct {
	svc       *Service
	credits   *MockCreditRepository
	pools     *MockPoolRepository
	txs       *MockTransactionRepository
	providers *MockProviderRepository
	recorder  *recorderStub
	alerts    *alertStub
	now       time.Time
}

func newFixture() *fixture {
	f := &fixture{
		credits:   new(MockCreditRepository),
		pools:     new(MockPoolRepository),
		txs:       new(MockTransactionRepository),
		providers: new(MockProviderRepository),
		recorder:  &recorderStub{},
		alerts:    &alertStub{},
		now:       time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC),
	}
	repos := &repositories.Repositories{
		Credits:            f.credits,
		CreditPools:        f.pools,
		CreditTransactions: f.txs,
		Providers:          f.providers,
	}
	f.svc = NewService(&fakeTxManager{}, repos, f.recorder, f.alerts, Config{
		PoolProvider:   "nanobanana",
		TierAllowances: map[string]int{"free": 0, "plus": 10, "pro": 25},
	}, zap.NewNop())
	f.svc.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) account(userID uuid.UUID, tier models.SubscriptionTier, balance int) *models.UserCredits {
	return &models.UserCredits{
		ID:               uuid.New(),
		UserID:           userID,
		SubscriptionTier: tier,
		MonthlyAllowance: 10,
		CurrentBalance:   balance,
		LastResetAt:      f.now.AddDate(0, 0, -3),
	}
}

func activePool(balance, refill int) *models.CreditPool {
	return &models.CreditPool{
		Provider:         "nanobanana",
		AvailableBalance: balance,
		CostPerCredit:    decimal.RequireFromString("0.025"),
		AutoRefillAmount: refill,
		Status:           models.PoolStatusActive,
	}
}

func TestCheckAndConsume_UserCredits(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	userID := uuid.New()

	f.credits.On("GetByUserID", mock.Anything, userID).Return(f.account(userID, models.TierPlus, 5), nil)
	f.credits.On("Consume", mock.Anything, userID, 1).Return(4, nil)

	c, err := f.svc.CheckAndConsume(ctx, userID, 1, "upscale")
	require.NoError(t, err)

	assert.Equal(t, SourceUserCredits, c.Source)
	assert.Equal(t, 1, c.CreditsConsumed)
	assert.Equal(t, 4, c.RemainingBalance)
	assert.Zero(t, c.CostUSD)
	f.pools.AssertNotCalled(t, "GetByProvider", mock.Anything, mock.Anything)
}

func TestCheckAndConsume_InvalidAmount(t *testing.T) {
	f := newFixture()

	_, err := f.svc.CheckAndConsume(context.Background(), uuid.New(), 0, "upscale")
	assert.True(t, services.IsValidationError(err))
}

func TestCheckAndConsume_InitializesNewUser(t *testing.T) {
	f := newFixture()
	userID := uuid.New()

	f.credits.On("GetByUserID", mock.Anything, userID).Return(nil, repositories.ErrNotFound)
	f.credits.On("GetSubscriptionTier", mock.Anything, userID).Return(models.TierPro, nil)
	f.credits.On("Create", mock.Anything, mock.MatchedBy(func(c *models.UserCredits) bool {
		return c.UserID == userID && c.MonthlyAllowance == 25 && c.CurrentBalance == 25 && c.LastResetAt.Equal(f.now)
	})).Return(nil)
	f.credits.On("Consume", mock.Anything, userID, 1).Return(24, nil)

	c, err := f.svc.CheckAndConsume(context.Background(), userID, 1, "lighting")
	require.NoError(t, err)
	assert.Equal(t, 24, c.RemainingBalance)
	f.credits.AssertExpectations(t)
}

func TestCheckAndConsume_AppliesMonthlyReset(t *testing.T) {
	f := newFixture()
	userID := uuid.New()

	stale := f.account(userID, models.TierPlus, 0)
	stale.LastResetAt = time.Date(2025, 2, 27, 0, 0, 0, 0, time.UTC)
	stale.ConsumedThisMonth = 10

	f.credits.On("GetByUserID", mock.Anything, userID).Return(stale, nil)
	f.credits.On("Reset", mock.Anything, mock.MatchedBy(func(c *models.UserCredits) bool {
		return c.CurrentBalance == 10 && c.ConsumedThisMonth == 0
	})).Return(nil)
	f.credits.On("Consume", mock.Anything, userID, 1).Return(9, nil)

	c, err := f.svc.CheckAndConsume(context.Background(), userID, 1, "upscale")
	require.NoError(t, err)
	assert.Equal(t, SourceUserCredits, c.Source)
	f.credits.AssertExpectations(t)
}

func TestCheckAndConsume_FreeTierWithoutBalance(t *testing.T) {
	f := newFixture()
	userID := uuid.New()

	f.credits.On("GetByUserID", mock.Anything, userID).Return(f.account(userID, models.TierFree, 0), nil)

	_, err := f.svc.CheckAndConsume(context.Background(), userID, 1, "upscale")

	require.Error(t, err)
	assert.True(t, services.IsCreditsError(err))
	assert.ErrorIs(t, err, services.ErrCreditsExhausted)
	details := services.GetErrorDetails(err)
	assert.Equal(t, services.CodeInsufficientCredits, details["code"])
	assert.Contains(t, err.Error(), "Upgrade to Plus or Pro")
	f.credits.AssertNotCalled(t, "Consume", mock.Anything, mock.Anything, mock.Anything)
	f.pools.AssertNotCalled(t, "GetByProvider", mock.Anything, mock.Anything)
}

func TestCheckAndConsume_PlatformPool(t *testing.T) {
	f := newFixture()
	userID := uuid.New()

	f.credits.On("GetByUserID", mock.Anything, userID).Return(f.account(userID, models.TierPro, 0), nil)
	f.pools.On("GetByProvider", mock.Anything, "nanobanana").Return(activePool(100, 500), nil)
	f.pools.On("Consume", mock.Anything, "nanobanana", 1).Return(nil)

	c, err := f.svc.CheckAndConsume(context.Background(), userID, 1, "style-transfer")
	require.NoError(t, err)

	assert.Equal(t, SourcePlatformPool, c.Source)
	assert.Equal(t, "nanobanana", c.PoolProvider)
	assert.Equal(t, 99, c.RemainingBalance)
	assert.InDelta(t, 0.025, c.CostUSD, 1e-9)

	require.Len(t, f.recorder.txs, 1)
	assert.Equal(t, models.TransactionTypePlatformDeduction, f.recorder.txs[0].TransactionType)
	assert.Equal(t, "style-transfer", f.recorder.txs[0].EnhancementType)
	assert.Empty(t, f.alerts.alerts)
}

func TestCheckAndConsume_PoolAutoRefill(t *testing.T) {
	f := newFixture()
	userID := uuid.New()

	f.credits.On("GetByUserID", mock.Anything, userID).Return(f.account(userID, models.TierPlus, 0), nil)
	f.pools.On("GetByProvider", mock.Anything, "nanobanana").Return(activePool(0, 500), nil).Once()
	f.pools.On("GetByProvider", mock.Anything, "nanobanana").Return(activePool(500, 500), nil).Once()
	f.providers.On("GetByName", mock.Anything, "nanobanana").Return(&models.ProviderRecord{Name: "nanobanana", CostPerRequest: 0.025}, nil)
	f.pools.On("CreatePurchaseRequest", mock.Anything, mock.MatchedBy(func(r *models.CreditPurchaseRequest) bool {
		return r.AmountRequested == 500 && r.EstimatedCost.Equal(decimal.RequireFromString("12.5")) &&
			r.Status == models.PurchaseStatusPendingApproval
	})).Return(nil)
	f.pools.On("Refill", mock.Anything, "nanobanana", 500, f.now).Return(nil)
	f.pools.On("Consume", mock.Anything, "nanobanana", 1).Return(nil)

	c, err := f.svc.CheckAndConsume(context.Background(), userID, 1, "upscale")
	require.NoError(t, err)
	assert.Equal(t, 499, c.RemainingBalance)

	require.Len(t, f.alerts.alerts, 1)
	assert.Equal(t, alerts.TypeCreditRefillSuccess, f.alerts.alerts[0].Type)
	assert.Equal(t, "Successfully refilled 500 credits for nanobanana", f.alerts.alerts[0].Message)
	f.pools.AssertExpectations(t)
}

func TestCheckAndConsume_PoolDepleted(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fixture)
	}{
		{
			name: "no pool",
			setup: func(f *fixture) {
				f.pools.On("GetByProvider", mock.Anything, "nanobanana").Return(nil, repositories.ErrNotFound)
			},
		},
		{
			name: "refill disabled",
			setup: func(f *fixture) {
				f.pools.On("GetByProvider", mock.Anything, "nanobanana").Return(activePool(0, 0), nil)
			},
		},
		{
			name: "provider not configured",
			setup: func(f *fixture) {
				f.pools.On("GetByProvider", mock.Anything, "nanobanana").Return(activePool(0, 100), nil)
				f.providers.On("GetByName", mock.Anything, "nanobanana").Return(nil, repositories.ErrNotFound)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			userID := uuid.New()
			f.credits.On("GetByUserID", mock.Anything, userID).Return(f.account(userID, models.TierPlus, 0), nil)
			tt.setup(f)

			_, err := f.svc.CheckAndConsume(context.Background(), userID, 1, "upscale")

			require.Error(t, err)
			assert.True(t, services.IsCreditsError(err))
			assert.Equal(t, services.CodePlatformCreditsDepleted, services.GetErrorDetails(err)["code"])
			require.Len(t, f.alerts.alerts, 1)
			assert.Equal(t, alerts.TypeCreditRefillFailed, f.alerts.alerts[0].Type)
			assert.Equal(t, alerts.LevelError, f.alerts.alerts[0].Level)
			f.pools.AssertNotCalled(t, "Consume", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestCheckAndConsume_RepositoryError(t *testing.T) {
	f := newFixture()
	userID := uuid.New()
	f.credits.On("GetByUserID", mock.Anything, userID).Return(nil, errors.New("connection refused"))

	_, err := f.svc.CheckAndConsume(context.Background(), userID, 1, "upscale")

	require.Error(t, err)
	assert.False(t, services.IsCreditsError(err))
	assert.Contains(t, err.Error(), "failed to fetch user credits")
}

func TestRefund(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	userID := uuid.New()

	f.credits.On("Refund", mock.Anything, userID, 1).Return(5, nil)
	require.NoError(t, f.svc.Refund(ctx, userID, &Consumption{Source: SourceUserCredits, CreditsConsumed: 1}))
	assert.Empty(t, f.recorder.txs)

	f.pools.On("Refund", mock.Anything, "nanobanana", 1).Return(nil)
	require.NoError(t, f.svc.Refund(ctx, userID, &Consumption{
		Source: SourcePlatformPool, CreditsConsumed: 1, CostUSD: 0.025, PoolProvider: "nanobanana",
	}))
	require.Len(t, f.recorder.txs, 1)
	assert.Equal(t, models.TransactionTypeRefund, f.recorder.txs[0].TransactionType)
	assert.Equal(t, -1, f.recorder.txs[0].CreditsUsed)

	assert.NoError(t, f.svc.Refund(ctx, userID, nil))
	assert.Error(t, f.svc.Refund(ctx, userID, &Consumption{Source: "bogus", CreditsConsumed: 1}))
}

func TestLogTransaction(t *testing.T) {
	f := newFixture()
	userID := uuid.New()

	err := f.svc.LogTransaction(context.Background(), TransactionEntry{
		UserID:          userID,
		Provider:        "fal_ai",
		EnhancementType: "upscale",
		Failed:          true,
		ErrorMessage:    "quota exceeded",
	})
	require.NoError(t, err)

	require.Len(t, f.recorder.txs, 1)
	tx := f.recorder.txs[0]
	assert.Equal(t, models.TransactionStatusFailed, tx.Status)
	assert.Equal(t, 0, tx.CreditsUsed)
	require.NotNil(t, tx.ErrorMessage)
	assert.Equal(t, "quota exceeded", *tx.ErrorMessage)
}

func TestLogTransaction_WithoutRecorder(t *testing.T) {
	f := newFixture()
	f.svc.recorder = nil
	userID := uuid.New()

	f.txs.On("Insert", mock.Anything, mock.MatchedBy(func(tx *models.CreditTransaction) bool {
		return tx.UserID == userID && tx.CreditsUsed == 1 && tx.CostUSD == 0.03 &&
			tx.APIRequestID != nil && *tx.APIRequestID == "req-1"
	})).Return(nil)

	err := f.svc.LogTransaction(context.Background(), TransactionEntry{
		UserID: userID, Provider: "B", CreditsUsed: 1, CostUSD: 0.03, EnhancementType: "upscale", RequestID: "req-1",
	})
	require.NoError(t, err)
	f.txs.AssertExpectations(t)
}

func TestAllocateMonthlyCredits(t *testing.T) {
	f := newFixture()

	f.credits.On("AllocateTier", mock.Anything, models.TierFree, 0, f.now).Return(int64(7), nil)
	f.credits.On("AllocateTier", mock.Anything, models.TierPlus, 10, f.now).Return(int64(3), nil)
	f.credits.On("AllocateTier", mock.Anything, models.TierPro, 25, f.now).Return(int64(1), nil)

	touched, err := f.svc.AllocateMonthlyCredits(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[models.SubscriptionTier]int64{
		models.TierFree: 7, models.TierPlus: 3, models.TierPro: 1,
	}, touched)
}

func TestBalanceAndHistory(t *testing.T) {
	f := newFixture()
	userID := uuid.New()
	acct := f.account(userID, models.TierPlus, 6)

	f.credits.On("GetByUserID", mock.Anything, userID).Return(acct, nil)
	got, err := f.svc.Balance(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, 6, got.CurrentBalance)

	f.txs.On("GetByUserID", mock.Anything, userID, 20, 0).Return([]*models.CreditTransaction{}, nil)
	_, err = f.svc.History(context.Background(), userID, 0, -5)
	require.NoError(t, err)

	f.txs.On("GetByUserID", mock.Anything, userID, 100, 40).Return([]*models.CreditTransaction{}, nil)
	_, err = f.svc.History(context.Background(), userID, 500, 40)
	require.NoError(t, err)
	f.txs.AssertExpectations(t)
}
