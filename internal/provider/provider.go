// Package provider defines the uniform adapter contract over external
// financial institutions and the closed registry of concrete adapters.
//
// Expected failure modes (invalid credentials, expired sessions) are
// reported inside the result structs, never as error returns; only genuinely
// unexpected conditions propagate as errors and are caught by the sync
// orchestrator.
package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/household-ledger/internal/types"
)

// Credentials holds the plaintext secrets for one connection. They exist in
// the clear only between vault decryption and the provider call.
type Credentials struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
}

// RawTransaction is a provider-side transaction before import. Amount is
// signed: negative for money leaving the account.
type RawTransaction struct {
	ProviderTxID  string          `json:"providerTxId"`
	Date          time.Time       `json:"date"`
	Description   string          `json:"description"`
	Merchant      string          `json:"merchant,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	CategoryLabel string          `json:"categoryLabel,omitempty"`
}

// AccountScrape groups the raw transactions of one provider-side account
type AccountScrape struct {
	AccountID    string           `json:"accountId"`
	AccountName  string           `json:"accountName,omitempty"`
	Transactions []RawTransaction `json:"transactions"`
}

// ScrapeRequest carries everything an adapter needs for one fetch
type ScrapeRequest struct {
	StartDate      time.Time
	Credentials    *Credentials
	LongLivedToken string
}

// ScrapeResult is the uniform outcome of a scrape. Success false with an
// ErrorType carries an expected failure; the orchestrator classifies it.
type ScrapeResult struct {
	Success      bool
	Accounts     []AccountScrape
	ErrorType    types.ScrapeErrorType
	ErrorMessage string
}

// TwoFactorInit is the outcome of starting a one-time-code exchange
type TwoFactorInit struct {
	Success      bool
	SessionID    string
	ErrorMessage string
}

// TwoFactorResult is the outcome of completing a one-time-code exchange
type TwoFactorResult struct {
	Success        bool
	LongLivedToken string
	ErrorMessage   string
}

// Adapter is the uniform contract every institution adapter implements
type Adapter interface {
	// Tag returns the provider tag connections reference
	Tag() string

	// RequiresTwoFactor reports whether authentication needs the
	// interactive one-time-code exchange. Static per provider.
	RequiresTwoFactor() bool

	// Scrape authenticates and fetches raw transactions from startDate on
	Scrape(ctx context.Context, req *ScrapeRequest) (*ScrapeResult, error)
}

// TwoFactorAdapter extends Adapter with the two-step code exchange
type TwoFactorAdapter interface {
	Adapter

	// InitTwoFactor starts the exchange and returns a session identifier
	// correlating it with the completion step
	InitTwoFactor(ctx context.Context, creds *Credentials) (*TwoFactorInit, error)

	// CompleteTwoFactor consumes the session and exchanges the one-time
	// code for a long-lived token
	CompleteTwoFactor(ctx context.Context, creds *Credentials, code, sessionID string) (*TwoFactorResult, error)
}

// Registry holds the closed set of adapters keyed by provider tag.
// Adding a provider means registering a new adapter, not modifying callers.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates an empty adapter registry
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter to the registry
func (r *Registry) Register(adapter Adapter) error {
	if adapter == nil {
		return fmt.Errorf("adapter cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tag := adapter.Tag()
	if _, exists := r.adapters[tag]; exists {
		return fmt.Errorf("adapter already registered for provider %s", tag)
	}

	r.adapters[tag] = adapter
	return nil
}

// Get returns the adapter for a provider tag
func (r *Registry) Get(tag string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	adapter, ok := r.adapters[tag]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for provider %s", tag)
	}

	return adapter, nil
}

// GetTwoFactor returns the adapter for a provider tag, requiring it to
// support the two-factor exchange
func (r *Registry) GetTwoFactor(tag string) (TwoFactorAdapter, error) {
	adapter, err := r.Get(tag)
	if err != nil {
		return nil, err
	}

	tfa, ok := adapter.(TwoFactorAdapter)
	if !ok {
		return nil, fmt.Errorf("provider %s does not support two-factor authentication", tag)
	}

	return tfa, nil
}

// Tags returns the registered provider tags
func (r *Registry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tags := make([]string, 0, len(r.adapters))
	for tag := range r.adapters {
		tags = append(tags, tag)
	}
	return tags
}
