// Package alerts delivers operational notifications about providers and
// platform credit pools.
package alerts

import (
	"context"
	"time"
)

// Level is the severity of an alert
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Alert types raised by the gateway
const (
	TypeProviderUnhealthy   = "provider_unhealthy"
	TypeCreditRefillSuccess = "credit_refill_success"
	TypeCreditRefillFailed  = "credit_refill_failed"
)

// Alert is one operational notification
type Alert struct {
	Type      string    `json:"type"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Service delivers alerts. Implementations must be safe for concurrent use.
type Service interface {
	Notify(ctx context.Context, alert Alert) error
}
