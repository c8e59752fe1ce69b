package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/samber/lo"
)

// Provider is an image-enhancement backend participating in the fallback chain
type Provider interface {
	// Name returns the provider identifier (e.g., "nanobanana", "fal_ai")
	Name() string

	// Priority orders providers in the chain, lower first
	Priority() int

	// CostPerRequestUSD is the upstream price of one enhancement
	CostPerRequestUSD() float64

	// HealthCheck reports whether the provider should be attempted.
	// It never panics and returns false on any internal error.
	HealthCheck(ctx context.Context) bool

	// Enhance performs one enhancement
	Enhance(ctx context.Context, req *EnhancementRequest) (*EnhancedImage, error)

	// SuccessRate returns the success percentage (0-100) over the tracking window
	SuccessRate(ctx context.Context) float64

	// LastError returns the most recent failure message, or "" when none
	LastError(ctx context.Context) string
}

// EnhancementType is the kind of enhancement requested
type EnhancementType string

const (
	EnhancementUpscale           EnhancementType = "upscale"
	EnhancementLighting          EnhancementType = "lighting"
	EnhancementStyleTransfer     EnhancementType = "style-transfer"
	EnhancementBackgroundRemoval EnhancementType = "background-removal"
	EnhancementColorGrading      EnhancementType = "color-grading"
)

// EnhancementTypes lists every supported enhancement type
var EnhancementTypes = []EnhancementType{
	EnhancementUpscale,
	EnhancementLighting,
	EnhancementStyleTransfer,
	EnhancementBackgroundRemoval,
	EnhancementColorGrading,
}

// IsValid reports whether t is a supported enhancement type
func (t EnhancementType) IsValid() bool {
	return lo.Contains(EnhancementTypes, t)
}

// EnhancementRequest is one enhancement job
type EnhancementRequest struct {
	// InputImageURL must be publicly reachable by the provider
	InputImageURL string `json:"input_image_url" validate:"required,url"`

	EnhancementType EnhancementType `json:"enhancement_type" validate:"required,oneof=upscale lighting style-transfer background-removal color-grading"`

	// Style is an optional style hint
	Style string `json:"style,omitempty" validate:"omitempty,max=100"`

	// Prompt is an optional free-text instruction
	Prompt string `json:"prompt,omitempty" validate:"omitempty,max=2000"`

	// Strength scales the effect, 0 means provider default
	Strength float64 `json:"strength,omitempty" validate:"omitempty,gte=0,lte=1"`
}

// EnhancedImage is a provider's output
type EnhancedImage struct {
	EnhancedURL string                 `json:"enhanced_url"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

var basePrompts = map[EnhancementType]string{
	EnhancementUpscale:           "Upscale this image, increasing resolution and recovering fine detail without changing the content",
	EnhancementLighting:          "Improve the lighting of this image with balanced exposure and natural contrast",
	EnhancementStyleTransfer:     "Restyle this image while preserving its composition",
	EnhancementBackgroundRemoval: "Remove the background of this image and keep the main subject intact",
	EnhancementColorGrading:      "Apply a cinematic color grade to this image",
}

// BuildPrompt renders the instruction sent to prompt-driven providers
func BuildPrompt(req *EnhancementRequest) string {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		prompt = basePrompts[req.EnhancementType]
	}
	if req.Style != "" {
		prompt += fmt.Sprintf(", in a %s style", req.Style)
	}
	if req.Strength > 0 {
		return fmt.Sprintf("%s (Enhancement type: %s, Strength: %.2f)", prompt, req.EnhancementType, req.Strength)
	}
	return fmt.Sprintf("%s (Enhancement type: %s)", prompt, req.EnhancementType)
}

// ProviderError represents an error from a provider
type ProviderError struct {
	// Provider that generated the error
	Provider string

	// Code is the error code
	Code string

	// Message is the error message
	Message string

	// StatusCode is the HTTP status code (if applicable)
	StatusCode int

	// Retryable indicates the failure is likely transient
	Retryable bool

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface
func (e *ProviderError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap implements error unwrapping
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// NewProviderError creates a new provider error
func NewProviderError(provider, code, message string, statusCode int, retryable bool, cause error) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Retryable:  retryable,
		Cause:      cause,
	}
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.Retryable
	}
	return false
}
