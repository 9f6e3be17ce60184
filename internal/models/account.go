package models

import (
	"time"

	"github.com/household-ledger/internal/types"
)

// Account represents a money container belonging to a household.
// ExternalID links the account to a provider-side account identifier and is
// used to auto-provision accounts during import.
type Account struct {
	ID          string            `json:"id" db:"id"`
	HouseholdID string            `json:"householdId" db:"household_id"`
	Name        string            `json:"name" db:"name"`
	Type        types.AccountType `json:"type" db:"type"`
	ExternalID  *string           `json:"externalId,omitempty" db:"external_id"`
	CreatedAt   time.Time         `json:"createdAt" db:"created_at"`
}
