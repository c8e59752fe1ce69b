package models

import (
	"time"

	"github.com/google/uuid"
)

// TransactionType represents the kind of credit movement
type TransactionType string

const (
	TransactionTypeDeduction         TransactionType = "deduction"
	TransactionTypePlatformDeduction TransactionType = "platform_deduction"
	TransactionTypeRefund            TransactionType = "refund"
	TransactionTypeAllocation        TransactionType = "allocation"
)

// TransactionStatus represents the outcome of the attempt a transaction belongs to
type TransactionStatus string

const (
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
)

// CreditTransaction is one entry in the credit transaction log
type CreditTransaction struct {
	ID              uuid.UUID         `json:"id" db:"id"`
	UserID          uuid.UUID         `json:"user_id" db:"user_id"`
	TransactionType TransactionType   `json:"transaction_type" db:"transaction_type"`
	CreditsUsed     int               `json:"credits_used" db:"credits_used"`
	CostUSD         float64           `json:"cost_usd" db:"cost_usd"`
	Provider        string            `json:"provider" db:"provider"`
	APIRequestID    *string           `json:"api_request_id,omitempty" db:"api_request_id"`
	EnhancementType string            `json:"enhancement_type" db:"enhancement_type"`
	Status          TransactionStatus `json:"status" db:"status"`
	ErrorMessage    *string           `json:"error_message,omitempty" db:"error_message"`
	CreatedAt       time.Time         `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the CreditTransaction model
func (CreditTransaction) TableName() string {
	return "credit_transactions"
}

// NewCreditTransaction creates a completed transaction entry
func NewCreditTransaction(userID uuid.UUID, txType TransactionType, provider, enhancementType string) *CreditTransaction {
	return &CreditTransaction{
		ID:              uuid.New(),
		UserID:          userID,
		TransactionType: txType,
		Provider:        provider,
		EnhancementType: enhancementType,
		Status:          TransactionStatusCompleted,
		CreatedAt:       time.Now(),
	}
}

// WithCharge sets the credits and USD cost charged
func (t *CreditTransaction) WithCharge(credits int, costUSD float64) *CreditTransaction {
	t.CreditsUsed = credits
	t.CostUSD = costUSD
	return t
}

// WithAPIRequest sets the upstream request identifier
func (t *CreditTransaction) WithAPIRequest(requestID string) *CreditTransaction {
	if requestID != "" {
		t.APIRequestID = &requestID
	}
	return t
}

// MarkFailed flags the transaction as belonging to a failed attempt
func (t *CreditTransaction) MarkFailed(message string) *CreditTransaction {
	t.Status = TransactionStatusFailed
	t.ErrorMessage = &message
	return t
}
