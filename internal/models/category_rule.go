package models

import (
	"time"

	"github.com/household-ledger/internal/types"
)

// CategoryRule maps a text pattern to a category for one household.
//
// Priority is a trust weight, not an execution order: when several rules
// match the same transaction the rule with the higher priority number wins,
// and matcher kind (merchant before keyword before pattern) only breaks
// ties between rules of equal priority.
type CategoryRule struct {
	ID          string               `json:"id" db:"id"`
	HouseholdID string               `json:"householdId" db:"household_id"`
	Kind        types.MatcherKind    `json:"kind" db:"kind"`
	Pattern     string               `json:"pattern" db:"pattern"`
	CategoryID  string               `json:"categoryId" db:"category_id"`
	Priority    int                  `json:"priority" db:"priority"`
	Active      bool                 `json:"active" db:"active"`
	Provenance  types.RuleProvenance `json:"provenance" db:"provenance"`
	CreatedAt   time.Time            `json:"createdAt" db:"created_at"`
}
