package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/household-ledger/internal/types"
)

// Transaction represents one ledger entry for a household account.
//
// ExternalID is the deduplication key: when present it is unique within the
// household, so importing the same provider transaction twice is a no-op.
// Processing is a transient claim flag used to keep concurrent categorization
// passes from double-processing the same row; it is only ever set through the
// repository's atomic claim operation.
type Transaction struct {
	ID          string                      `json:"id" db:"id"`
	HouseholdID string                      `json:"householdId" db:"household_id"`
	AccountID   string                      `json:"accountId" db:"account_id"`
	Date        time.Time                   `json:"date" db:"date"`
	Description string                      `json:"description" db:"description"`
	Merchant    *string                     `json:"merchant,omitempty" db:"merchant"`
	Amount      decimal.Decimal             `json:"amount" db:"amount"`
	Direction   types.TransactionDirection  `json:"direction" db:"direction"`
	ExternalID  *string                     `json:"externalId,omitempty" db:"external_id"`
	CategoryID  *string                     `json:"categoryId,omitempty" db:"category_id"`
	Source      *types.CategorizationSource `json:"source,omitempty" db:"source"`
	Confidence  float64                     `json:"confidence" db:"confidence"`
	NeedsReview bool                        `json:"needsReview" db:"needs_review"`
	Processing  bool                        `json:"processing" db:"processing"`
	Ignored     bool                        `json:"ignored" db:"ignored"`
	CreatedAt   time.Time                   `json:"createdAt" db:"created_at"`
}

// Categorized reports whether the transaction has a category assigned
func (t *Transaction) Categorized() bool {
	return t.CategoryID != nil && *t.CategoryID != ""
}
