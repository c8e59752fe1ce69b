package enhancement

import (
	"fmt"
	"strings"
	"time"

	"github.com/preset/enhancement-gateway/services/providers"
	"go.uber.org/multierr"
)

const (
	lightingCSSFilter = "brightness(1.2) contrast(1.1) saturate(1.1)"
	lightingMessage   = "Applied basic lighting adjustment. Upgrade for AI enhancement."
	retryLaterMessage = "Enhancement is taking longer than expected. Please try again later."
	retryDelay        = 30 * time.Minute
)

// degradationReason joins every collected failure with ", "
func degradationReason(errs error) string {
	list := multierr.Errors(errs)
	msgs := make([]string, len(list))
	for i, err := range list {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, ", ")
}

// degrade picks the fallback for a request that no provider could serve
func degrade(req *providers.EnhancementRequest, errs error, now time.Time) *DegradedResponse {
	resp := &DegradedResponse{
		OriginalURL:       req.InputImageURL,
		EnhancedURL:       req.InputImageURL,
		DegradationReason: degradationReason(errs),
	}

	if req.EnhancementType == providers.EnhancementLighting {
		resp.Kind = KindCSSFilter
		resp.CSSFilter = lightingCSSFilter
		resp.Message = lightingMessage
		return resp
	}

	retryAfter := now.Add(retryDelay)
	resp.Kind = KindSuggestion
	resp.Suggestion = fmt.Sprintf("Try using %q enhancement during off-peak hours", string(req.EnhancementType))
	resp.RetryAfter = &retryAfter
	return resp
}

// retryLater is returned when the chain deadline expired before every provider was tried
func retryLater(req *providers.EnhancementRequest, errs error, untried []string, now time.Time) *DegradedResponse {
	errs = multierr.Append(errs, fmt.Errorf("deadline exceeded before trying %s", strings.Join(untried, ", ")))
	retryAfter := now.Add(retryDelay)

	return &DegradedResponse{
		Kind:              KindRetryLater,
		OriginalURL:       req.InputImageURL,
		EnhancedURL:       req.InputImageURL,
		RetryAfter:        &retryAfter,
		Message:           retryLaterMessage,
		DegradationReason: degradationReason(errs),
	}
}
