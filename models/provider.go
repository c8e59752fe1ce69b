package models

import "time"

// ProviderRecord is the persisted health view of an enhancement provider
type ProviderRecord struct {
	Name            string    `json:"name" db:"name"`
	IsActive        bool      `json:"is_active" db:"is_active"`
	LastHealthCheck time.Time `json:"last_health_check" db:"last_health_check"`
	SuccessRate24h  float64   `json:"success_rate_24h" db:"success_rate_24h"`
	LastError       *string   `json:"last_error,omitempty" db:"last_error"`
	Priority        int       `json:"priority" db:"priority"`
	CostPerRequest  float64   `json:"cost_per_request" db:"cost_per_request"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the ProviderRecord model
func (ProviderRecord) TableName() string {
	return "api_providers"
}

// NewProviderRecord creates a health record stamped with the current time
func NewProviderRecord(name string, isActive bool, successRate float64, lastError string) *ProviderRecord {
	now := time.Now()
	rec := &ProviderRecord{
		Name:            name,
		IsActive:        isActive,
		LastHealthCheck: now,
		SuccessRate24h:  successRate,
		UpdatedAt:       now,
	}
	if lastError != "" {
		rec.LastError = &lastError
	}
	return rec
}
