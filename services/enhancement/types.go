// Package enhancement runs an enhancement request through the provider
// fallback chain.
package enhancement

import (
	"time"

	"github.com/preset/enhancement-gateway/services/providers"
)

// Result is a successful enhancement
type Result struct {
	providers.EnhancedImage

	// Provider is the name of the provider that produced the image
	Provider string `json:"provider"`

	// CostUSD is what the ledger charged for the attempt
	CostUSD float64 `json:"cost_usd"`
}

// DegradedKind identifies the non-AI fallback that was returned
type DegradedKind string

const (
	KindCSSFilter  DegradedKind = "css-filter-fallback"
	KindSuggestion DegradedKind = "suggestion-fallback"
	KindRetryLater DegradedKind = "retry-later"
)

// DegradedResponse is returned when no provider produced an image.
// The original image is always echoed back.
type DegradedResponse struct {
	Kind              DegradedKind `json:"kind"`
	OriginalURL       string       `json:"original_url"`
	EnhancedURL       string       `json:"enhanced_url"`
	CSSFilter         string       `json:"css_filter,omitempty"`
	Suggestion        string       `json:"suggestion,omitempty"`
	RetryAfter        *time.Time   `json:"retry_after,omitempty"`
	Message           string       `json:"message,omitempty"`
	DegradationReason string       `json:"degradation_reason"`
}

// Outcome holds exactly one of Result or Degraded
type Outcome struct {
	Result   *Result
	Degraded *DegradedResponse
}

// IsDegraded reports whether the chain fell back to a degraded response
func (o *Outcome) IsDegraded() bool {
	return o.Degraded != nil
}

// ProviderStatus is a point-in-time view of one provider
type ProviderStatus struct {
	Name              string  `json:"name"`
	Priority          int     `json:"priority"`
	IsHealthy         bool    `json:"is_healthy"`
	CostPerRequestUSD float64 `json:"cost_per_request_usd"`
	SuccessRate24h    float64 `json:"success_rate_24h"`
	LastError         string  `json:"last_error,omitempty"`
}
