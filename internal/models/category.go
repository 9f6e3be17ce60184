package models

import (
	"time"

	"github.com/household-ledger/internal/types"
)

// Category represents a tree node in a household's category taxonomy.
// System categories are seeded and shared; user categories belong to one
// household. ParentID is nil for root categories.
type Category struct {
	ID          string             `json:"id" db:"id"`
	HouseholdID string             `json:"householdId" db:"household_id"`
	Name        string             `json:"name" db:"name"`
	ParentID    *string            `json:"parentId,omitempty" db:"parent_id"`
	Type        types.CategoryType `json:"type" db:"type"`
	System      bool               `json:"system" db:"system"`
	CreatedAt   time.Time          `json:"createdAt" db:"created_at"`
}
