package enhancement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/preset/enhancement-gateway/models"
	"github.com/preset/enhancement-gateway/services"
	"github.com/preset/enhancement-gateway/services/alerts"
	"github.com/preset/enhancement-gateway/services/credits"
	"github.com/preset/enhancement-gateway/services/providers"
	"github.com/samber/lo"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// HealthStore persists provider health by name
type HealthStore interface {
	Upsert(ctx context.Context, rec *models.ProviderRecord) error
}

// Config holds fallback chain settings
type Config struct {
	// ProviderTimeout bounds a single provider call, 0 disables it
	ProviderTimeout time.Duration

	// ChainTimeout bounds the whole chain, 0 disables it
	ChainTimeout time.Duration

	// CreditsPerRequest is charged before every provider call
	CreditsPerRequest int

	// RefundFailedAttempts returns the credit of a failed provider call
	RefundFailedAttempts bool
}

// Orchestrator tries providers in priority order until one succeeds
type Orchestrator struct {
	providers []providers.Provider
	byName    map[string]providers.Provider
	ledger    credits.Ledger
	health    HealthStore
	alerts    alerts.Service
	cfg       Config
	logger    *zap.Logger
	now       func() time.Time

	mu          sync.Mutex
	lastHealthy map[string]bool
	disabled    map[string]string // operator overrides, name to reason
}

// NewOrchestrator creates an orchestrator over ps, sorted by priority.
// health and alertService may be nil.
func NewOrchestrator(
	ps []providers.Provider,
	ledger credits.Ledger,
	health HealthStore,
	alertService alerts.Service,
	cfg Config,
	logger *zap.Logger,
) (*Orchestrator, error) {
	if len(ps) == 0 {
		return nil, services.ErrNoProvidersConfigured
	}
	if ledger == nil {
		return nil, services.WrapInternal("credit ledger is required", nil)
	}
	if cfg.CreditsPerRequest <= 0 {
		cfg.CreditsPerRequest = 1
	}

	sorted := providers.SortByPriority(ps)
	return &Orchestrator{
		providers:   sorted,
		byName:      lo.KeyBy(sorted, func(p providers.Provider) string { return p.Name() }),
		ledger:      ledger,
		health:      health,
		alerts:      alertService,
		cfg:         cfg,
		logger:      logger,
		now:         time.Now,
		lastHealthy: make(map[string]bool, len(sorted)),
		disabled:    make(map[string]string),
	}, nil
}

// Providers returns the provider names in chain order
func (o *Orchestrator) Providers() []string {
	return lo.Map(o.providers, func(p providers.Provider, _ int) string { return p.Name() })
}

// EnhanceWithFallback runs req through the chain for userID.
// Provider failures never surface as errors: when every provider fails the
// outcome carries a DegradedResponse. Credit errors abort the chain and are
// returned as is.
func (o *Orchestrator) EnhanceWithFallback(ctx context.Context, req *providers.EnhancementRequest, userID uuid.UUID) (*Outcome, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	chainCtx, cancel := o.withTimeout(ctx, o.cfg.ChainTimeout)
	defer cancel()

	logger := o.logger.With(
		zap.String("user_id", userID.String()),
		zap.String("enhancement_type", string(req.EnhancementType)))

	var errs error
	for i, p := range o.providers {
		if chainCtx.Err() != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return o.deadlineExpired(req, errs, o.providers[i:], logger), nil
		}

		if reason, ok := o.disabledReason(p.Name()); ok {
			logger.Warn("provider disabled by operator, skipping",
				zap.String("provider", p.Name()),
				zap.String("reason", reason))
			continue
		}

		if !p.HealthCheck(chainCtx) {
			logger.Warn("provider is unhealthy, skipping", zap.String("provider", p.Name()))
			continue
		}

		consumption, err := o.ledger.CheckAndConsume(chainCtx, userID, o.cfg.CreditsPerRequest, string(req.EnhancementType))
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if chainCtx.Err() != nil && !services.IsCreditsError(err) {
				return o.deadlineExpired(req, errs, o.providers[i:], logger), nil
			}
			return nil, err
		}

		img, err := o.attempt(chainCtx, p, req)
		if err == nil {
			o.settleSuccess(ctx, p, req, userID, consumption)
			logger.Info("enhancement succeeded",
				zap.String("provider", p.Name()),
				zap.Float64("cost_usd", consumption.CostUSD))

			img.Metadata["provider_cost_usd"] = p.CostPerRequestUSD()
			return &Outcome{Result: &Result{
				EnhancedImage: *img,
				Provider:      p.Name(),
				CostUSD:       consumption.CostUSD,
			}}, nil
		}

		errs = multierr.Append(errs, fmt.Errorf("%s: %s", p.Name(), err.Error()))
		o.settleFailure(ctx, p, req, userID, consumption, err, logger)

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	logger.Warn("all providers failed, returning degraded response", zap.Error(errs))
	return &Outcome{Degraded: degrade(req, errs, o.now())}, nil
}

func (o *Orchestrator) attempt(ctx context.Context, p providers.Provider, req *providers.EnhancementRequest) (*providers.EnhancedImage, error) {
	attemptCtx, cancel := o.withTimeout(ctx, o.cfg.ProviderTimeout)
	defer cancel()

	img, err := p.Enhance(attemptCtx, req)
	if err != nil {
		return nil, err
	}
	if img == nil || img.EnhancedURL == "" {
		return nil, errors.New("provider returned no image")
	}
	if img.Metadata == nil {
		img.Metadata = make(map[string]interface{})
	}
	return img, nil
}

func (o *Orchestrator) settleSuccess(ctx context.Context, p providers.Provider, req *providers.EnhancementRequest, userID uuid.UUID, c *credits.Consumption) {
	bgCtx := context.WithoutCancel(ctx)

	o.logTransaction(bgCtx, credits.TransactionEntry{
		UserID:          userID,
		Provider:        p.Name(),
		CreditsUsed:     c.CreditsConsumed,
		CostUSD:         c.CostUSD,
		EnhancementType: string(req.EnhancementType),
	})

	if _, disabled := o.disabledReason(p.Name()); !disabled && o.knownUnhealthy(p.Name()) {
		if err := o.UpdateProviderHealth(bgCtx, p.Name(), true, ""); err != nil {
			o.logger.Warn("failed to update provider health", zap.String("provider", p.Name()), zap.Error(err))
		}
	}
}

// settleFailure refunds or charges the attempt, logs it to match, and marks the provider unhealthy
func (o *Orchestrator) settleFailure(ctx context.Context, p providers.Provider, req *providers.EnhancementRequest, userID uuid.UUID, c *credits.Consumption, cause error, logger *zap.Logger) {
	bgCtx := context.WithoutCancel(ctx)
	msg := cause.Error()

	logger.Warn("provider failed", zap.String("provider", p.Name()), zap.Error(cause))

	charged, cost := c.CreditsConsumed, c.CostUSD
	if o.cfg.RefundFailedAttempts {
		if err := o.ledger.Refund(bgCtx, userID, c); err != nil {
			logger.Error("failed to refund credits for failed attempt",
				zap.String("provider", p.Name()),
				zap.Error(err))
		} else {
			charged, cost = 0, 0
		}
	}

	o.logTransaction(bgCtx, credits.TransactionEntry{
		UserID:          userID,
		Provider:        p.Name(),
		CreditsUsed:     charged,
		CostUSD:         cost,
		EnhancementType: string(req.EnhancementType),
		Failed:          true,
		ErrorMessage:    msg,
	})

	if err := o.UpdateProviderHealth(bgCtx, p.Name(), false, msg); err != nil {
		logger.Warn("failed to update provider health", zap.String("provider", p.Name()), zap.Error(err))
	}
}

func (o *Orchestrator) logTransaction(ctx context.Context, entry credits.TransactionEntry) {
	if err := o.ledger.LogTransaction(ctx, entry); err != nil {
		o.logger.Warn("failed to log credit transaction",
			zap.String("provider", entry.Provider),
			zap.String("user_id", entry.UserID.String()),
			zap.Error(err))
	}
}

func (o *Orchestrator) deadlineExpired(req *providers.EnhancementRequest, errs error, untried []providers.Provider, logger *zap.Logger) *Outcome {
	names := lo.Map(untried, func(p providers.Provider, _ int) string { return p.Name() })
	logger.Warn("enhancement chain deadline exceeded",
		zap.Duration("chain_timeout", o.cfg.ChainTimeout),
		zap.Strings("untried", names))
	return &Outcome{Degraded: retryLater(req, errs, names, o.now())}
}

// ProviderStatus checks every provider concurrently.
// The result follows chain order. Providers disabled by an operator are
// reported unhealthy with the override reason.
func (o *Orchestrator) ProviderStatus(ctx context.Context) ([]ProviderStatus, error) {
	statuses := make([]ProviderStatus, len(o.providers))

	g, gctx := errgroup.WithContext(ctx)
	for i, p := range o.providers {
		i, p := i, p
		g.Go(func() error {
			if reason, ok := o.disabledReason(p.Name()); ok {
				statuses[i] = ProviderStatus{
					Name:              p.Name(),
					Priority:          p.Priority(),
					CostPerRequestUSD: p.CostPerRequestUSD(),
					LastError:         reason,
				}
				return nil
			}
			statuses[i] = ProviderStatus{
				Name:              p.Name(),
				Priority:          p.Priority(),
				IsHealthy:         p.HealthCheck(gctx),
				CostPerRequestUSD: p.CostPerRequestUSD(),
				SuccessRate24h:    p.SuccessRate(gctx),
				LastError:         p.LastError(gctx),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return statuses, nil
}

// OverrideProviderHealth applies an operator health flag. A provider set
// unhealthy is left out of the chain until an operator sets it healthy again;
// chain results never clear the override.
func (o *Orchestrator) OverrideProviderHealth(ctx context.Context, name string, healthy bool, errorMessage string) error {
	if _, ok := o.byName[name]; !ok {
		return services.ErrProviderNotFound
	}

	o.mu.Lock()
	if healthy {
		delete(o.disabled, name)
	} else {
		if errorMessage == "" {
			errorMessage = "disabled by operator"
		}
		o.disabled[name] = errorMessage
	}
	o.mu.Unlock()

	o.logger.Info("provider health overridden",
		zap.String("provider", name),
		zap.Bool("healthy", healthy),
		zap.String("reason", errorMessage))

	return o.UpdateProviderHealth(ctx, name, healthy, errorMessage)
}

// UpdateProviderHealth persists the provider's health and raises an alert
// when it becomes unhealthy. Alert delivery never fails the call.
func (o *Orchestrator) UpdateProviderHealth(ctx context.Context, name string, healthy bool, errorMessage string) error {
	p, ok := o.byName[name]
	if !ok {
		return services.ErrProviderNotFound
	}

	o.mu.Lock()
	previous, known := o.lastHealthy[name]
	o.lastHealthy[name] = healthy
	o.mu.Unlock()

	var persistErr error
	if o.health != nil {
		rate := 0.0
		if healthy {
			rate = p.SuccessRate(ctx)
		}
		rec := models.NewProviderRecord(name, healthy, rate, errorMessage)
		rec.Priority = p.Priority()
		rec.CostPerRequest = p.CostPerRequestUSD()
		rec.LastHealthCheck = o.now()
		if err := o.health.Upsert(ctx, rec); err != nil {
			persistErr = fmt.Errorf("failed to persist health for %s: %w", name, err)
		}
	}

	if !healthy && (!known || previous) {
		o.notifyUnhealthy(ctx, name, errorMessage)
	}

	return persistErr
}

func (o *Orchestrator) notifyUnhealthy(ctx context.Context, name, errorMessage string) {
	if o.alerts == nil {
		return
	}
	msg := fmt.Sprintf("Provider %s is unhealthy", name)
	if errorMessage != "" {
		msg += ": " + errorMessage
	}

	err := o.alerts.Notify(context.WithoutCancel(ctx), alerts.Alert{
		Type:      alerts.TypeProviderUnhealthy,
		Level:     alerts.LevelError,
		Message:   msg,
		Timestamp: o.now(),
	})
	if err != nil {
		o.logger.Warn("failed to send provider alert", zap.String("provider", name), zap.Error(err))
	}
}

func (o *Orchestrator) disabledReason(name string) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	reason, ok := o.disabled[name]
	return reason, ok
}

func (o *Orchestrator) knownUnhealthy(name string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	healthy, known := o.lastHealthy[name]
	return known && !healthy
}

func (o *Orchestrator) withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func validateRequest(req *providers.EnhancementRequest) error {
	if req == nil || req.InputImageURL == "" {
		return services.NewDomainError(services.ErrorTypeValidation, "input image URL is required", nil).
			WithDetail("field", "input_image_url")
	}
	if !req.EnhancementType.IsValid() {
		return services.NewDomainError(services.ErrorTypeValidation, "invalid enhancement type", nil).
			WithDetail("field", "enhancement_type").
			WithDetail("value", string(req.EnhancementType))
	}
	return nil
}
