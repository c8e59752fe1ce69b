package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SubscriptionTier is the plan a user is billed under
type SubscriptionTier string

const (
	TierFree SubscriptionTier = "free"
	TierPlus SubscriptionTier = "plus"
	TierPro  SubscriptionTier = "pro"
)

// CanUsePlatformCredits reports whether the tier may draw on the shared platform pool
func (t SubscriptionTier) CanUsePlatformCredits() bool {
	return t == TierPlus || t == TierPro
}

// UserCredits holds a user's monthly credit allowance and balance
type UserCredits struct {
	ID                uuid.UUID        `json:"id" db:"id"`
	UserID            uuid.UUID        `json:"user_id" db:"user_id"`
	SubscriptionTier  SubscriptionTier `json:"subscription_tier" db:"subscription_tier"`
	MonthlyAllowance  int              `json:"monthly_allowance" db:"monthly_allowance"`
	CurrentBalance    int              `json:"current_balance" db:"current_balance"`
	ConsumedThisMonth int              `json:"consumed_this_month" db:"consumed_this_month"`
	LastResetAt       time.Time        `json:"last_reset_at" db:"last_reset_at"`
	CreatedAt         time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the UserCredits model
func (UserCredits) TableName() string {
	return "user_credits"
}

// NewUserCredits creates a credit record with a full allowance
func NewUserCredits(userID uuid.UUID, tier SubscriptionTier, allowance int) *UserCredits {
	now := time.Now()
	return &UserCredits{
		ID:               uuid.New(),
		UserID:           userID,
		SubscriptionTier: tier,
		MonthlyAllowance: allowance,
		CurrentBalance:   allowance,
		LastResetAt:      now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// NeedsMonthlyReset reports whether at least one calendar month has passed since the last reset
func (c *UserCredits) NeedsMonthlyReset(now time.Time) bool {
	months := (now.Year()-c.LastResetAt.Year())*12 + int(now.Month()) - int(c.LastResetAt.Month())
	return months >= 1
}

// ResetMonthly restores the balance to the monthly allowance
func (c *UserCredits) ResetMonthly(now time.Time) {
	c.CurrentBalance = c.MonthlyAllowance
	c.ConsumedThisMonth = 0
	c.LastResetAt = now
	c.UpdatedAt = now
}

// PoolStatus represents the state of a platform credit pool
type PoolStatus string

const (
	PoolStatusActive   PoolStatus = "active"
	PoolStatusDisabled PoolStatus = "disabled"
)

// CreditPool is the platform-owned credit balance held with a provider
type CreditPool struct {
	ID               uuid.UUID       `json:"id" db:"id"`
	Provider         string          `json:"provider" db:"provider"`
	TotalPurchased   int             `json:"total_purchased" db:"total_purchased"`
	TotalConsumed    int             `json:"total_consumed" db:"total_consumed"`
	AvailableBalance int             `json:"available_balance" db:"available_balance"`
	CostPerCredit    decimal.Decimal `json:"cost_per_credit" db:"cost_per_credit"`
	AutoRefillAmount int             `json:"auto_refill_amount" db:"auto_refill_amount"`
	Status           PoolStatus      `json:"status" db:"status"`
	LastRefillAt     *time.Time      `json:"last_refill_at,omitempty" db:"last_refill_at"`
	UpdatedAt        time.Time       `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the CreditPool model
func (CreditPool) TableName() string {
	return "credit_pools"
}

// CanCover reports whether the pool is active and holds at least the given credits
func (p *CreditPool) CanCover(credits int) bool {
	return p.Status == PoolStatusActive && p.AvailableBalance >= credits
}

// Cost returns the USD cost of consuming the given credits from the pool
func (p *CreditPool) Cost(credits int) decimal.Decimal {
	return p.CostPerCredit.Mul(decimal.NewFromInt(int64(credits)))
}

// PurchaseStatus represents the state of a credit purchase request
type PurchaseStatus string

const (
	PurchaseStatusPendingApproval PurchaseStatus = "pending_manual_approval"
	PurchaseStatusApproved        PurchaseStatus = "approved"
)

// CreditPurchaseRequest records a top-up of a platform pool
type CreditPurchaseRequest struct {
	ID              uuid.UUID       `json:"id" db:"id"`
	Provider        string          `json:"provider" db:"provider"`
	AmountRequested int             `json:"amount_requested" db:"amount_requested"`
	EstimatedCost   decimal.Decimal `json:"estimated_cost" db:"estimated_cost"`
	Status          PurchaseStatus  `json:"status" db:"status"`
	RequestedAt     time.Time       `json:"requested_at" db:"requested_at"`
}

// TableName returns the table name for the CreditPurchaseRequest model
func (CreditPurchaseRequest) TableName() string {
	return "credit_purchase_requests"
}

// NewCreditPurchaseRequest creates a pending purchase request priced at the provider's per-request cost
func NewCreditPurchaseRequest(provider string, amount int, costPerRequest decimal.Decimal) *CreditPurchaseRequest {
	return &CreditPurchaseRequest{
		ID:              uuid.New(),
		Provider:        provider,
		AmountRequested: amount,
		EstimatedCost:   costPerRequest.Mul(decimal.NewFromInt(int64(amount))),
		Status:          PurchaseStatusPendingApproval,
		RequestedAt:     time.Now(),
	}
}
