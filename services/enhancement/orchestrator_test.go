package enhancement

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/preset/enhancement-gateway/models"
	"github.com/preset/enhancement-gateway/services"
	"github.com/preset/enhancement-gateway/services/alerts"
	"github.com/preset/enhancement-gateway/services/credits"
	"github.com/preset/enhancement-gateway/services/providers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeProvider struct {
	name     string
	priority int
	cost     float64
	healthy  bool
	err      error
	url      string
	delay    time.Duration

	mu      sync.Mutex
	calls   int
	healthN int
}

func (p *fakeProvider) Name() string               { return p.name }
func (p *fakeProvider) Priority() int              { return p.priority }
func (p *fakeProvider) CostPerRequestUSD() float64 { return p.cost }

func (p *fakeProvider) HealthCheck(context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.healthN++
	return p.healthy
}

func (p *fakeProvider) Enhance(ctx context.Context, _ *providers.EnhancementRequest) (*providers.EnhancedImage, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()

	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.err != nil {
		return nil, p.err
	}
	return &providers.EnhancedImage{EnhancedURL: p.url}, nil
}

func (p *fakeProvider) SuccessRate(context.Context) float64 {
	if p.healthy {
		return 100
	}
	return 0
}

func (p *fakeProvider) LastError(context.Context) string {
	if p.err != nil {
		return p.err.Error()
	}
	return ""
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type consumeCall struct {
	userID  uuid.UUID
	amount  int
	purpose string
}

type fakeLedger struct {
	mu        sync.Mutex
	cost      float64
	err       error
	refundErr error
	consumed  []consumeCall
	refunds   int
	entries   []credits.TransactionEntry
}

func (l *fakeLedger) CheckAndConsume(_ context.Context, userID uuid.UUID, amount int, purpose string) (*credits.Consumption, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	l.consumed = append(l.consumed, consumeCall{userID, amount, purpose})
	return &credits.Consumption{Source: credits.SourceUserCredits, CreditsConsumed: amount, CostUSD: l.cost}, nil
}

func (l *fakeLedger) Refund(context.Context, uuid.UUID, *credits.Consumption) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.refundErr != nil {
		return l.refundErr
	}
	l.refunds++
	return nil
}

func (l *fakeLedger) LogTransaction(_ context.Context, e credits.TransactionEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
	return nil
}

type fakeHealthStore struct {
	mu      sync.Mutex
	records []*models.ProviderRecord
	err     error
}

func (s *fakeHealthStore) Upsert(_ context.Context, rec *models.ProviderRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return s.err
}

type fakeAlerts struct {
	mu     sync.Mutex
	alerts []alerts.Alert
	err    error
}

func (a *fakeAlerts) Notify(_ context.Context, alert alerts.Alert) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, alert)
	return a.err
}

func defaultConfig() Config {
	return Config{
		ProviderTimeout:      time.Second,
		ChainTimeout:         5 * time.Second,
		CreditsPerRequest:    1,
		RefundFailedAttempts: true,
	}
}

func newOrchestrator(t *testing.T, ledger credits.Ledger, store HealthStore, alertSvc alerts.Service, cfg Config, ps ...providers.Provider) *Orchestrator {
	t.Helper()
	o, err := NewOrchestrator(ps, ledger, store, alertSvc, cfg, zap.NewNop())
	require.NoError(t, err)
	return o
}

func upscale() *providers.EnhancementRequest {
	return &providers.EnhancementRequest{InputImageURL: "https://x/in.png", EnhancementType: providers.EnhancementUpscale}
}

func TestNewOrchestrator_Validation(t *testing.T) {
	_, err := NewOrchestrator(nil, &fakeLedger{}, nil, nil, defaultConfig(), zap.NewNop())
	assert.ErrorIs(t, err, services.ErrNoProvidersConfigured)

	_, err = NewOrchestrator([]providers.Provider{&fakeProvider{name: "a"}}, nil, nil, nil, defaultConfig(), zap.NewNop())
	assert.True(t, services.IsInternalError(err))
}

func TestEnhanceWithFallback_PriorityOrderingAndShortCircuit(t *testing.T) {
	p1 := &fakeProvider{name: "p1", priority: 1, healthy: true, err: errors.New("boom")}
	p2 := &fakeProvider{name: "p2", priority: 2, healthy: true, url: "https://x/p2.png"}
	p3 := &fakeProvider{name: "p3", priority: 3, healthy: true, url: "https://x/p3.png"}
	ledger := &fakeLedger{}

	// registration order differs from priority order
	o := newOrchestrator(t, ledger, nil, nil, defaultConfig(), p3, p1, p2)
	assert.Equal(t, []string{"p1", "p2", "p3"}, o.Providers())

	out, err := o.EnhanceWithFallback(context.Background(), upscale(), uuid.New())
	require.NoError(t, err)
	require.False(t, out.IsDegraded())

	assert.Equal(t, "p2", out.Result.Provider)
	assert.Equal(t, "https://x/p2.png", out.Result.EnhancedURL)
	assert.Equal(t, 1, p1.callCount())
	assert.Equal(t, 1, p2.callCount())
	assert.Equal(t, 0, p3.callCount())
	assert.Equal(t, 0, p3.healthN)
}

func TestEnhanceWithFallback_AllFailDegrades(t *testing.T) {
	p1 := &fakeProvider{name: "nanobanana", priority: 1, healthy: true, err: errors.New("quota exceeded")}
	p2 := &fakeProvider{name: "fal_ai", priority: 2, healthy: true, err: providers.NewProviderError("fal_ai", "SERVER_ERROR", "upstream 503", 503, true, nil)}
	ledger := &fakeLedger{}

	o := newOrchestrator(t, ledger, nil, nil, defaultConfig(), p1, p2)
	start := time.Now()

	out, err := o.EnhanceWithFallback(context.Background(), upscale(), uuid.New())
	require.NoError(t, err)
	require.True(t, out.IsDegraded())

	d := out.Degraded
	assert.Equal(t, KindSuggestion, d.Kind)
	assert.Equal(t, "nanobanana: quota exceeded, fal_ai: upstream 503", d.DegradationReason)
	assert.Equal(t, "https://x/in.png", d.OriginalURL)
	assert.Equal(t, "https://x/in.png", d.EnhancedURL)
	assert.Equal(t, `Try using "upscale" enhancement during off-peak hours`, d.Suggestion)
	require.NotNil(t, d.RetryAfter)
	assert.True(t, d.RetryAfter.After(start))
	assert.Empty(t, d.CSSFilter)
}

func TestEnhanceWithFallback_LightingDegradesToCSSFilter(t *testing.T) {
	p1 := &fakeProvider{name: "a", priority: 1, healthy: true, err: errors.New("down")}
	o := newOrchestrator(t, &fakeLedger{}, nil, nil, defaultConfig(), p1)

	req := &providers.EnhancementRequest{InputImageURL: "https://x/in.png", EnhancementType: providers.EnhancementLighting}
	out, err := o.EnhanceWithFallback(context.Background(), req, uuid.New())
	require.NoError(t, err)
	require.True(t, out.IsDegraded())

	assert.Equal(t, KindCSSFilter, out.Degraded.Kind)
	assert.Equal(t, "brightness(1.2) contrast(1.1) saturate(1.1)", out.Degraded.CSSFilter)
	assert.Equal(t, "Applied basic lighting adjustment. Upgrade for AI enhancement.", out.Degraded.Message)
	assert.Nil(t, out.Degraded.RetryAfter)
}

func TestEnhanceWithFallback_CreditExhaustionShortCircuits(t *testing.T) {
	p1 := &fakeProvider{name: "a", priority: 1, healthy: true, url: "https://x/a.png"}
	p2 := &fakeProvider{name: "b", priority: 2, healthy: true, url: "https://x/b.png"}
	creditErr := services.NewInsufficientCreditsError("Insufficient credits. Upgrade to Plus or Pro for AI enhancements.", 0, 1)
	ledger := &fakeLedger{err: creditErr}

	o := newOrchestrator(t, ledger, nil, nil, defaultConfig(), p1, p2)

	out, err := o.EnhanceWithFallback(context.Background(), upscale(), uuid.New())
	assert.Nil(t, out)
	assert.ErrorIs(t, err, creditErr)
	assert.True(t, services.IsCreditsError(err))
	assert.Equal(t, 0, p1.callCount())
	assert.Equal(t, 0, p2.callCount())
	assert.Empty(t, ledger.entries)
}

func TestEnhanceWithFallback_UnhealthyProvidersAreFree(t *testing.T) {
	sick := &fakeProvider{name: "sick", priority: 1, healthy: false, url: "https://x/sick.png"}
	ok := &fakeProvider{name: "ok", priority: 2, healthy: true, url: "https://x/ok.png"}
	ledger := &fakeLedger{}
	store := &fakeHealthStore{}

	o := newOrchestrator(t, ledger, store, nil, defaultConfig(), sick, ok)

	out, err := o.EnhanceWithFallback(context.Background(), upscale(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Result.Provider)

	assert.Equal(t, 0, sick.callCount())
	assert.Len(t, ledger.consumed, 1)
	require.Len(t, ledger.entries, 1)
	assert.Equal(t, "ok", ledger.entries[0].Provider)
	assert.Empty(t, store.records)
}

func TestEnhanceWithFallback_NoHealthyProviders(t *testing.T) {
	ledger := &fakeLedger{}
	o := newOrchestrator(t, ledger, nil, nil, defaultConfig(),
		&fakeProvider{name: "a", priority: 1}, &fakeProvider{name: "b", priority: 2})

	out, err := o.EnhanceWithFallback(context.Background(), upscale(), uuid.New())
	require.NoError(t, err)
	require.True(t, out.IsDegraded())
	assert.Empty(t, out.Degraded.DegradationReason)
	assert.Empty(t, ledger.consumed)
	assert.Empty(t, ledger.entries)
}

func TestEnhanceWithFallback_ExampleScenario(t *testing.T) {
	a := &fakeProvider{name: "A", priority: 1, healthy: true, err: errors.New("quota exceeded")}
	b := &fakeProvider{name: "B", priority: 2, healthy: true, cost: 0.03, url: "https://x/out.png"}
	ledger := &fakeLedger{cost: 0.03}
	store := &fakeHealthStore{}
	alertSvc := &fakeAlerts{}
	userID := uuid.New()

	o := newOrchestrator(t, ledger, store, alertSvc, defaultConfig(), a, b)

	out, err := o.EnhanceWithFallback(context.Background(), upscale(), userID)
	require.NoError(t, err)
	require.NotNil(t, out.Result)
	assert.Equal(t, "https://x/out.png", out.Result.EnhancedURL)
	assert.Equal(t, "B", out.Result.Provider)
	assert.Equal(t, 0.03, out.Result.CostUSD)
	assert.Equal(t, 0.03, out.Result.Metadata["provider_cost_usd"])

	// one credit consumed per dispatched attempt
	require.Len(t, ledger.consumed, 2)
	for _, c := range ledger.consumed {
		assert.Equal(t, consumeCall{userID, 1, "upscale"}, c)
	}

	// the failed attempt was refunded, and its log entry says so
	assert.Equal(t, 1, ledger.refunds)
	require.Len(t, ledger.entries, 2)
	assert.Equal(t, "A", ledger.entries[0].Provider)
	assert.True(t, ledger.entries[0].Failed)
	assert.Equal(t, 0, ledger.entries[0].CreditsUsed)
	assert.Zero(t, ledger.entries[0].CostUSD)
	assert.Equal(t, "quota exceeded", ledger.entries[0].ErrorMessage)
	assert.Equal(t, "B", ledger.entries[1].Provider)
	assert.False(t, ledger.entries[1].Failed)
	assert.Equal(t, 1, ledger.entries[1].CreditsUsed)
	assert.Equal(t, 0.03, ledger.entries[1].CostUSD)

	// A was marked unhealthy and an alert raised
	require.Len(t, store.records, 1)
	assert.Equal(t, "A", store.records[0].Name)
	assert.False(t, store.records[0].IsActive)
	require.Len(t, alertSvc.alerts, 1)
	assert.Equal(t, alerts.TypeProviderUnhealthy, alertSvc.alerts[0].Type)
	assert.Equal(t, alerts.LevelError, alertSvc.alerts[0].Level)
	assert.Equal(t, "Provider A is unhealthy: quota exceeded", alertSvc.alerts[0].Message)
}

func TestEnhanceWithFallback_ChargedWhenRefundDisabledOrFails(t *testing.T) {
	tests := []struct {
		name   string
		refund bool
		err    error
	}{
		{"refund disabled", false, nil},
		{"refund failed", true, errors.New("db down")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			cfg.RefundFailedAttempts = tt.refund
			ledger := &fakeLedger{cost: 0.025, refundErr: tt.err}
			p := &fakeProvider{name: "a", priority: 1, healthy: true, err: errors.New("down")}

			o := newOrchestrator(t, ledger, nil, nil, cfg, p)
			_, err := o.EnhanceWithFallback(context.Background(), upscale(), uuid.New())
			require.NoError(t, err)

			require.Len(t, ledger.entries, 1)
			assert.Equal(t, 1, ledger.entries[0].CreditsUsed)
			assert.Equal(t, 0.025, ledger.entries[0].CostUSD)
			assert.Equal(t, 0, ledger.refunds)
		})
	}
}

func TestEnhanceWithFallback_ProviderTimeout(t *testing.T) {
	cfg := defaultConfig()
	cfg.ProviderTimeout = 20 * time.Millisecond
	slow := &fakeProvider{name: "slow", priority: 1, healthy: true, delay: time.Second, url: "https://x/slow.png"}
	fast := &fakeProvider{name: "fast", priority: 2, healthy: true, url: "https://x/fast.png"}

	o := newOrchestrator(t, &fakeLedger{}, nil, nil, cfg, slow, fast)

	out, err := o.EnhanceWithFallback(context.Background(), upscale(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, "fast", out.Result.Provider)
}

func TestEnhanceWithFallback_ChainDeadlineReturnsRetryLater(t *testing.T) {
	cfg := defaultConfig()
	cfg.ProviderTimeout = 0
	cfg.ChainTimeout = 30 * time.Millisecond
	slow := &fakeProvider{name: "slow", priority: 1, healthy: true, delay: time.Second}
	next := &fakeProvider{name: "next", priority: 2, healthy: true, url: "https://x/next.png"}

	o := newOrchestrator(t, &fakeLedger{}, nil, nil, cfg, slow, next)
	start := time.Now()

	out, err := o.EnhanceWithFallback(context.Background(), upscale(), uuid.New())
	require.NoError(t, err)
	require.True(t, out.IsDegraded())

	assert.Equal(t, KindRetryLater, out.Degraded.Kind)
	assert.Contains(t, out.Degraded.DegradationReason, "slow: ")
	assert.Contains(t, out.Degraded.DegradationReason, "deadline exceeded before trying next")
	require.NotNil(t, out.Degraded.RetryAfter)
	assert.True(t, out.Degraded.RetryAfter.After(start))
	assert.Equal(t, 0, next.callCount())
}

func TestEnhanceWithFallback_CallerCancellation(t *testing.T) {
	p := &fakeProvider{name: "a", priority: 1, healthy: true, url: "https://x/a.png"}
	o := newOrchestrator(t, &fakeLedger{}, nil, nil, defaultConfig(), p)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.EnhanceWithFallback(ctx, upscale(), uuid.New())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, p.callCount())
}

func TestEnhanceWithFallback_InvalidRequest(t *testing.T) {
	o := newOrchestrator(t, &fakeLedger{}, nil, nil, defaultConfig(), &fakeProvider{name: "a", healthy: true})

	_, err := o.EnhanceWithFallback(context.Background(), &providers.EnhancementRequest{EnhancementType: "upscale"}, uuid.New())
	assert.True(t, services.IsValidationError(err))

	_, err = o.EnhanceWithFallback(context.Background(), &providers.EnhancementRequest{InputImageURL: "https://x", EnhancementType: "sharpen"}, uuid.New())
	assert.True(t, services.IsValidationError(err))
}

func TestProviderStatus_IdempotentAndOrdered(t *testing.T) {
	ps := []providers.Provider{
		&fakeProvider{name: "google_direct", priority: 4, healthy: true, cost: 0.039},
		&fakeProvider{name: "nanobanana", priority: 1, healthy: true, cost: 0.025},
		&fakeProvider{name: "kie_ai", priority: 3, healthy: false, cost: 0.023, err: errors.New("timeout")},
		&fakeProvider{name: "fal_ai", priority: 2, healthy: true, cost: 0.039},
	}
	o := newOrchestrator(t, &fakeLedger{}, nil, nil, defaultConfig(), ps...)

	first, err := o.ProviderStatus(context.Background())
	require.NoError(t, err)
	second, err := o.ProviderStatus(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	require.Len(t, first, 4)
	for i, name := range []string{"nanobanana", "fal_ai", "kie_ai", "google_direct"} {
		assert.Equal(t, name, first[i].Name)
		assert.Equal(t, i+1, first[i].Priority)
	}
	assert.False(t, first[2].IsHealthy)
	assert.Equal(t, "timeout", first[2].LastError)
	assert.Equal(t, 0.025, first[0].CostPerRequestUSD)
	assert.Equal(t, 100.0, first[0].SuccessRate24h)
}

func TestUpdateProviderHealth_AlertsOnTransitionOnly(t *testing.T) {
	store := &fakeHealthStore{}
	alertSvc := &fakeAlerts{}
	p := &fakeProvider{name: "fal_ai", priority: 2, healthy: true, cost: 0.039}
	o := newOrchestrator(t, &fakeLedger{}, store, alertSvc, defaultConfig(), p)
	ctx := context.Background()

	require.NoError(t, o.UpdateProviderHealth(ctx, "fal_ai", false, "rate limited"))
	require.NoError(t, o.UpdateProviderHealth(ctx, "fal_ai", false, "rate limited again"))
	require.NoError(t, o.UpdateProviderHealth(ctx, "fal_ai", true, ""))
	require.NoError(t, o.UpdateProviderHealth(ctx, "fal_ai", false, "down"))

	require.Len(t, alertSvc.alerts, 2)
	assert.Equal(t, "Provider fal_ai is unhealthy: rate limited", alertSvc.alerts[0].Message)
	assert.Equal(t, "Provider fal_ai is unhealthy: down", alertSvc.alerts[1].Message)

	require.Len(t, store.records, 4)
	rec := store.records[2]
	assert.True(t, rec.IsActive)
	assert.Equal(t, 100.0, rec.SuccessRate24h)
	assert.Equal(t, 2, rec.Priority)
	assert.Equal(t, 0.039, rec.CostPerRequest)
	require.NotNil(t, store.records[0].LastError)
	assert.Equal(t, "rate limited", *store.records[0].LastError)
}

func TestUpdateProviderHealth_AlertFailureIsSwallowed(t *testing.T) {
	alertSvc := &fakeAlerts{err: errors.New("queue full")}
	o := newOrchestrator(t, &fakeLedger{}, nil, alertSvc, defaultConfig(), &fakeProvider{name: "a", priority: 1})

	assert.NoError(t, o.UpdateProviderHealth(context.Background(), "a", false, "down"))
	assert.Len(t, alertSvc.alerts, 1)
}

func TestUpdateProviderHealth_Errors(t *testing.T) {
	store := &fakeHealthStore{err: errors.New("db down")}
	o := newOrchestrator(t, &fakeLedger{}, store, nil, defaultConfig(), &fakeProvider{name: "a", priority: 1})

	assert.ErrorIs(t, o.UpdateProviderHealth(context.Background(), "missing", true, ""), services.ErrProviderNotFound)
	assert.ErrorContains(t, o.UpdateProviderHealth(context.Background(), "a", true, ""), "db down")
}

func TestEnhanceWithFallback_RecoveredProviderIsMarkedHealthy(t *testing.T) {
	store := &fakeHealthStore{}
	p := &fakeProvider{name: "a", priority: 1, healthy: true, err: errors.New("down")}
	o := newOrchestrator(t, &fakeLedger{}, store, nil, defaultConfig(), p)
	ctx := context.Background()

	_, err := o.EnhanceWithFallback(ctx, upscale(), uuid.New())
	require.NoError(t, err)

	p.err = nil
	p.url = "https://x/a.png"
	out, err := o.EnhanceWithFallback(ctx, upscale(), uuid.New())
	require.NoError(t, err)
	require.NotNil(t, out.Result)

	require.Len(t, store.records, 2)
	assert.False(t, store.records[0].IsActive)
	assert.True(t, store.records[1].IsActive)
}

func TestOverrideProviderHealth_DisabledProviderIsSkipped(t *testing.T) {
	store := &fakeHealthStore{}
	ledger := &fakeLedger{}
	a := &fakeProvider{name: "a", priority: 1, healthy: true, url: "https://x/a.png"}
	b := &fakeProvider{name: "b", priority: 2, healthy: true, url: "https://x/b.png"}
	o := newOrchestrator(t, ledger, store, nil, defaultConfig(), a, b)
	ctx := context.Background()

	require.NoError(t, o.OverrideProviderHealth(ctx, "a", false, "manual maintenance"))

	out, err := o.EnhanceWithFallback(ctx, upscale(), uuid.New())
	require.NoError(t, err)
	require.NotNil(t, out.Result)

	assert.Equal(t, "b", out.Result.Provider)
	assert.Equal(t, 0, a.callCount())
	assert.Equal(t, 0, a.healthN)
	assert.Len(t, ledger.consumed, 1)
	require.Len(t, ledger.entries, 1)
	assert.Equal(t, "b", ledger.entries[0].Provider)

	require.Len(t, store.records, 1)
	assert.Equal(t, "a", store.records[0].Name)
	assert.False(t, store.records[0].IsActive)
}

func TestOverrideProviderHealth_SurvivesChainSuccess(t *testing.T) {
	store := &fakeHealthStore{}
	a := &fakeProvider{name: "a", priority: 1, healthy: true, url: "https://x/a.png"}
	o := newOrchestrator(t, &fakeLedger{}, store, nil, defaultConfig(), a)
	ctx := context.Background()

	require.NoError(t, o.OverrideProviderHealth(ctx, "a", false, "manual maintenance"))

	out, err := o.EnhanceWithFallback(ctx, upscale(), uuid.New())
	require.NoError(t, err)
	require.True(t, out.IsDegraded())
	assert.Equal(t, 0, a.callCount())

	statuses, err := o.ProviderStatus(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.False(t, statuses[0].IsHealthy)
	assert.Equal(t, "manual maintenance", statuses[0].LastError)

	require.Len(t, store.records, 1)
	assert.False(t, store.records[0].IsActive)
}

func TestOverrideProviderHealth_ReenableRestoresProvider(t *testing.T) {
	store := &fakeHealthStore{}
	a := &fakeProvider{name: "a", priority: 1, healthy: true, url: "https://x/a.png"}
	o := newOrchestrator(t, &fakeLedger{}, store, nil, defaultConfig(), a)
	ctx := context.Background()

	require.NoError(t, o.OverrideProviderHealth(ctx, "a", false, ""))
	require.NoError(t, o.OverrideProviderHealth(ctx, "a", true, ""))

	out, err := o.EnhanceWithFallback(ctx, upscale(), uuid.New())
	require.NoError(t, err)
	require.NotNil(t, out.Result)
	assert.Equal(t, "a", out.Result.Provider)
	assert.Equal(t, 1, a.callCount())

	require.Len(t, store.records, 2)
	require.NotNil(t, store.records[0].LastError)
	assert.Equal(t, "disabled by operator", *store.records[0].LastError)
	assert.True(t, store.records[1].IsActive)
}

func TestOverrideProviderHealth_UnknownProvider(t *testing.T) {
	o := newOrchestrator(t, &fakeLedger{}, nil, nil, defaultConfig(), &fakeProvider{name: "a", priority: 1})
	assert.ErrorIs(t, o.OverrideProviderHealth(context.Background(), "missing", false, "x"), services.ErrProviderNotFound)
}
