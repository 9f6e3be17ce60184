package provider

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAdapter struct {
	tag string
}

func (s *stubAdapter) Tag() string             { return s.tag }
func (s *stubAdapter) RequiresTwoFactor() bool { return false }

func (s *stubAdapter) Scrape(ctx context.Context, req *ScrapeRequest) (*ScrapeResult, error) {
	return &ScrapeResult{Success: true}, nil
}

type stubTwoFactorAdapter struct {
	stubAdapter
}

func (s *stubTwoFactorAdapter) InitTwoFactor(ctx context.Context, creds *Credentials) (*TwoFactorInit, error) {
	return &TwoFactorInit{Success: true, SessionID: "session-1"}, nil
}

func (s *stubTwoFactorAdapter) CompleteTwoFactor(ctx context.Context, creds *Credentials, code, sessionID string) (*TwoFactorResult, error) {
	return &TwoFactorResult{Success: true, LongLivedToken: "token-1"}, nil
}

func TestRegistryRegisterAndGet(t *testing.T) {
	registry := NewRegistry()

	require.NoError(t, registry.Register(&stubAdapter{tag: "bank-a"}))
	require.NoError(t, registry.Register(&stubTwoFactorAdapter{stubAdapter{tag: "bank-b"}}))

	adapter, err := registry.Get("bank-a")
	require.NoError(t, err)
	assert.Equal(t, "bank-a", adapter.Tag())

	_, err = registry.Get("bank-c")
	assert.Error(t, err)

	assert.ElementsMatch(t, []string{"bank-a", "bank-b"}, registry.Tags())
}

func TestRegistryRejectsDuplicateTag(t *testing.T) {
	registry := NewRegistry()

	require.NoError(t, registry.Register(&stubAdapter{tag: "bank-a"}))
	assert.Error(t, registry.Register(&stubAdapter{tag: "bank-a"}))
}

func TestRegistryRejectsNilAdapter(t *testing.T) {
	registry := NewRegistry()
	assert.Error(t, registry.Register(nil))
}

func TestRegistryGetTwoFactor(t *testing.T) {
	registry := NewRegistry()

	require.NoError(t, registry.Register(&stubAdapter{tag: "plain"}))
	require.NoError(t, registry.Register(&stubTwoFactorAdapter{stubAdapter{tag: "otp"}}))

	tfa, err := registry.GetTwoFactor("otp")
	require.NoError(t, err)
	assert.Equal(t, "otp", tfa.Tag())

	_, err = registry.GetTwoFactor("plain")
	assert.Error(t, err)

	_, err = registry.GetTwoFactor("missing")
	assert.Error(t, err)
}

func TestConvertWireAccounts(t *testing.T) {
	accounts, err := convertWireAccounts([]wireAccount{
		{
			AccountID:   "acc-1",
			AccountName: "Checking",
			Transactions: []wireTransaction{
				{
					ID:          "tx-1",
					Date:        "2026-08-15",
					Description: "SHUFERSAL DEAL TLV",
					Merchant:    "Shufersal",
					Amount:      "-154.30",
					Category:    "Groceries",
				},
				{
					ID:     "tx-2",
					Date:   "2026-08-16",
					Amount: "5000.00",
				},
			},
		},
	})
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	require.Len(t, accounts[0].Transactions, 2)

	tx := accounts[0].Transactions[0]
	assert.Equal(t, "tx-1", tx.ProviderTxID)
	assert.Equal(t, time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC), tx.Date)
	assert.Equal(t, "Shufersal", tx.Merchant)
	assert.Equal(t, "-154.30", tx.Amount.StringFixed(2))
	assert.Equal(t, "Groceries", tx.CategoryLabel)

	assert.True(t, accounts[0].Transactions[1].Amount.IsPositive())
}

func TestConvertWireAccountsRejectsBadPayload(t *testing.T) {
	_, err := convertWireAccounts([]wireAccount{
		{
			AccountID: "acc-1",
			Transactions: []wireTransaction{
				{ID: "tx-1", Date: "not-a-date", Amount: "1.00"},
			},
		},
	})
	assert.Error(t, err)

	_, err = convertWireAccounts([]wireAccount{
		{
			AccountID: "acc-1",
			Transactions: []wireTransaction{
				{ID: "tx-1", Date: "2026-08-15", Amount: "lots"},
			},
		},
	})
	assert.Error(t, err)
}
