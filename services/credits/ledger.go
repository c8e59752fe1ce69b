// Package credits implements the credit ledger: per-user monthly allowances
// backed by a shared platform pool for paid tiers.
package credits

import (
	"context"

	"github.com/google/uuid"
	"github.com/preset/enhancement-gateway/models"
)

// Source identifies which balance paid for an enhancement
type Source string

const (
	SourceUserCredits  Source = "user_credits"
	SourcePlatformPool Source = "platform_pool"
)

// Consumption describes credits taken from a balance
type Consumption struct {
	Source           Source  `json:"source"`
	CreditsConsumed  int     `json:"credits_consumed"`
	RemainingBalance int     `json:"remaining_balance"`
	CostUSD          float64 `json:"cost_usd"`

	// PoolProvider is set when Source is SourcePlatformPool
	PoolProvider string `json:"pool_provider,omitempty"`
}

// TransactionEntry is one enhancement attempt to be written to the transaction log
type TransactionEntry struct {
	UserID          uuid.UUID
	Provider        string
	CreditsUsed     int
	CostUSD         float64
	EnhancementType string
	RequestID       string

	// Failed marks an attempt whose provider call did not succeed
	Failed       bool
	ErrorMessage string
}

// Ledger is the credit bookkeeping used by the enhancement chain
type Ledger interface {
	// CheckAndConsume takes amount credits from the user, or from the platform
	// pool for paid tiers. Fails with an ErrorTypeCredits domain error when
	// neither can pay.
	CheckAndConsume(ctx context.Context, userID uuid.UUID, amount int, purpose string) (*Consumption, error)

	// Refund returns a consumption to the balance it came from
	Refund(ctx context.Context, userID uuid.UUID, consumption *Consumption) error

	// LogTransaction records an attempt. Delivery is best effort.
	LogTransaction(ctx context.Context, entry TransactionEntry) error
}

// TransactionRecorder persists transaction log entries, typically asynchronously
type TransactionRecorder interface {
	Record(tx *models.CreditTransaction) error
}
