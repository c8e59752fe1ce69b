package providers

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnhancementType_IsValid(t *testing.T) {
	for _, et := range EnhancementTypes {
		assert.True(t, et.IsValid(), string(et))
	}
	assert.False(t, EnhancementType("sharpen").IsValid())
	assert.False(t, EnhancementType("").IsValid())
}

func TestBuildPrompt(t *testing.T) {
	tests := []struct {
		name string
		req  EnhancementRequest
		want string
	}{
		{
			name: "default prompt",
			req:  EnhancementRequest{EnhancementType: EnhancementLighting},
			want: "Improve the lighting of this image with balanced exposure and natural contrast (Enhancement type: lighting)",
		},
		{
			name: "custom prompt with style",
			req:  EnhancementRequest{EnhancementType: EnhancementStyleTransfer, Prompt: "  make it moody ", Style: "noir"},
			want: "make it moody, in a noir style (Enhancement type: style-transfer)",
		},
		{
			name: "strength",
			req:  EnhancementRequest{EnhancementType: EnhancementUpscale, Prompt: "sharpen", Strength: 0.5},
			want: "sharpen (Enhancement type: upscale, Strength: 0.50)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BuildPrompt(&tt.req))
		})
	}
}

func TestProviderError(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewProviderError("fal_ai", "HTTP_ERROR", "HTTP request failed", 0, true, cause)

	assert.Equal(t, "HTTP request failed: connection reset", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.True(t, IsRetryable(err))
	assert.True(t, IsRetryable(fmt.Errorf("attempt 1: %w", err)))

	plain := NewProviderError("fal_ai", "AUTH_ERROR", "bad key", 401, false, nil)
	assert.Equal(t, "bad key", plain.Error())
	assert.False(t, IsRetryable(plain))
	assert.False(t, IsRetryable(errors.New("other")))
}
