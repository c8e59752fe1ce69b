package providers

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/preset/enhancement-gateway/config"
	"github.com/preset/enhancement-gateway/services/providers/stats"
	"go.uber.org/zap"
)

const (
	healthKey   = "health"
	cooldownKey = "cooldown"
	pingTimeout = 5 * time.Second
)

// Dialect is the provider-specific part of an HTTP backend
type Dialect interface {
	Enhance(ctx context.Context, c *Client, req *EnhancementRequest) (*EnhancedImage, error)
}

// Pinger is implemented by dialects that have a cheap liveness endpoint
type Pinger interface {
	Ping(ctx context.Context, c *Client) error
}

// HTTPProvider implements Provider on top of a Dialect.
// It caches health results, backs off after transient failures,
// and feeds every outcome to a stats tracker.
type HTTPProvider struct {
	cfg     config.ProviderConfig
	client  *Client
	dialect Dialect
	tracker stats.Tracker
	health  *cache.Cache
	logger  *zap.Logger
}

// NewHTTPProvider wires a dialect into a Provider
func NewHTTPProvider(cfg config.ProviderConfig, client *Client, dialect Dialect, tracker stats.Tracker, logger *zap.Logger) *HTTPProvider {
	if tracker == nil {
		tracker = stats.NewMemoryTracker(24 * time.Hour)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPProvider{
		cfg:     cfg,
		client:  client,
		dialect: dialect,
		tracker: tracker,
		health:  cache.New(cfg.HealthCacheTTL, time.Minute),
		logger:  logger.With(zap.String("provider", cfg.Name)),
	}
}

// Name returns the provider name
func (p *HTTPProvider) Name() string {
	return p.cfg.Name
}

// Priority returns the chain position
func (p *HTTPProvider) Priority() int {
	return p.cfg.Priority
}

// CostPerRequestUSD returns the upstream price of one call
func (p *HTTPProvider) CostPerRequestUSD() float64 {
	return p.cfg.CostPerRequestUSD
}

// HealthCheck reports whether the provider is worth attempting
func (p *HTTPProvider) HealthCheck(ctx context.Context) (healthy bool) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("health check panicked", zap.Any("panic", r))
			healthy = false
		}
	}()

	if p.cfg.APIKey == "" {
		return false
	}
	if _, cooling := p.health.Get(cooldownKey); cooling {
		return false
	}
	if v, ok := p.health.Get(healthKey); ok {
		return v.(bool)
	}

	healthy = true
	if pinger, ok := p.dialect.(Pinger); ok {
		pctx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()
		if err := pinger.Ping(pctx, p.client); err != nil {
			p.logger.Warn("provider ping failed", zap.Error(err))
			healthy = false
		}
	}

	if ctx.Err() == nil && p.cfg.HealthCacheTTL > 0 {
		p.health.Set(healthKey, healthy, cache.DefaultExpiration)
	}
	return healthy
}

// Enhance runs the dialect and records the outcome
func (p *HTTPProvider) Enhance(ctx context.Context, req *EnhancementRequest) (*EnhancedImage, error) {
	start := time.Now()

	img, err := p.dialect.Enhance(ctx, p.client, req)
	if err == nil && (img == nil || img.EnhancedURL == "") {
		err = NewProviderError(p.cfg.Name, "NO_OUTPUT", "Provider returned no image", 0, true, nil)
	}

	// Outcomes are recorded even when the caller's deadline has passed.
	recordCtx := context.WithoutCancel(ctx)

	if err != nil {
		p.health.Delete(healthKey)
		if p.cfg.FailureCooldown > 0 && (IsRetryable(err) || ctx.Err() != nil) {
			p.health.Set(cooldownKey, true, p.cfg.FailureCooldown)
		}
		if rerr := p.tracker.RecordFailure(recordCtx, p.cfg.Name, err.Error()); rerr != nil {
			p.logger.Warn("failed to record provider failure", zap.Error(rerr))
		}
		p.logger.Warn("enhancement failed",
			zap.String("enhancement_type", string(req.EnhancementType)),
			zap.Duration("latency", time.Since(start)),
			zap.Error(err))
		return nil, err
	}

	if rerr := p.tracker.RecordSuccess(recordCtx, p.cfg.Name); rerr != nil {
		p.logger.Warn("failed to record provider success", zap.Error(rerr))
	}

	if img.Metadata == nil {
		img.Metadata = make(map[string]interface{})
	}
	img.Metadata["provider"] = p.cfg.Name
	img.Metadata["latency_ms"] = time.Since(start).Milliseconds()
	if p.cfg.Model != "" {
		img.Metadata["model"] = p.cfg.Model
	}

	p.logger.Info("enhancement completed",
		zap.String("enhancement_type", string(req.EnhancementType)),
		zap.Duration("latency", time.Since(start)))
	return img, nil
}

// SuccessRate reads the rolling success percentage
func (p *HTTPProvider) SuccessRate(ctx context.Context) float64 {
	rate, err := p.tracker.SuccessRate(ctx, p.cfg.Name)
	if err != nil {
		p.logger.Warn("failed to read success rate", zap.Error(err))
		return 0
	}
	return rate
}

// LastError reads the most recent failure message
func (p *HTTPProvider) LastError(ctx context.Context) string {
	msg, err := p.tracker.LastError(ctx, p.cfg.Name)
	if err != nil {
		p.logger.Warn("failed to read last error", zap.Error(err))
		return ""
	}
	return msg
}

// String implements fmt.Stringer for log output
func (p *HTTPProvider) String() string {
	return fmt.Sprintf("%s(priority=%d)", p.cfg.Name, p.cfg.Priority)
}
