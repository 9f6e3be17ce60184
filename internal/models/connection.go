// Package models provides data models for the household ledger system.
package models

import (
	"time"
)

// Connection represents one external institution credential set for a household.
// Credentials and the long-lived token are stored encrypted; the vault is the
// only component that sees them in the clear.
type Connection struct {
	ID                   string            `json:"id" db:"id"`
	HouseholdID          string            `json:"householdId" db:"household_id"`
	ProviderTag          string            `json:"providerTag" db:"provider_tag"`
	DisplayName          string            `json:"displayName" db:"display_name"`
	EncryptedCredentials string            `json:"-" db:"encrypted_credentials"`
	EncryptedToken       *string           `json:"-" db:"encrypted_token"`
	Active               bool              `json:"active" db:"active"`
	AccountMapping       map[string]string `json:"accountMapping,omitempty" db:"account_mapping"`
	LastSyncAt           *time.Time        `json:"lastSyncAt,omitempty" db:"last_sync_at"`
	LastSyncStatus       *string           `json:"lastSyncStatus,omitempty" db:"last_sync_status"`
	CreatedAt            time.Time         `json:"createdAt" db:"created_at"`
	UpdatedAt            time.Time         `json:"updatedAt" db:"updated_at"`
}

// MappedAccountID returns the internal account ID mapped to an external
// account identifier, if the connection carries such a mapping.
func (c *Connection) MappedAccountID(externalAccountID string) (string, bool) {
	if c.AccountMapping == nil {
		return "", false
	}
	id, ok := c.AccountMapping[externalAccountID]
	return id, ok
}
