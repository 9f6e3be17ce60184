package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/household-ledger/internal/config"
	"github.com/household-ledger/internal/twofactor"
	"github.com/household-ledger/internal/types"
)

func providerConfig(baseURL string) *config.ProviderConfig {
	return &config.ProviderConfig{BaseURL: baseURL, RequestsPerSec: 100}
}

func TestDemoBankScrapeSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/login":
			var body demoBankLoginRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "alice", body.Username)
			json.NewEncoder(w).Encode(demoBankLoginResponse{SessionToken: "sess-1"})
		case "/v1/transactions":
			var body demoBankTransactionsRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "sess-1", body.SessionToken)
			assert.Equal(t, "2026-06-01", body.Since)
			json.NewEncoder(w).Encode(demoBankTransactionsResponse{
				Accounts: []wireAccount{
					{
						AccountID:   "ext-1",
						AccountName: "Checking",
						Transactions: []wireTransaction{
							{ID: "tx-1", Date: "2026-06-02", Description: "coffee", Amount: "-18.50"},
						},
					},
				},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	adapter := NewDemoBankAdapter(providerConfig(server.URL))
	assert.False(t, adapter.RequiresTwoFactor())

	result, err := adapter.Scrape(context.Background(), &ScrapeRequest{
		StartDate:   time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
		Credentials: &Credentials{Username: "alice", Password: "secret"},
	})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Len(t, result.Accounts, 1)
	assert.Equal(t, "ext-1", result.Accounts[0].AccountID)
	require.Len(t, result.Accounts[0].Transactions, 1)
	assert.Equal(t, "-18.50", result.Accounts[0].Transactions[0].Amount.StringFixed(2))
}

func TestDemoBankScrapeInvalidCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	adapter := NewDemoBankAdapter(providerConfig(server.URL))

	result, err := adapter.Scrape(context.Background(), &ScrapeRequest{
		StartDate:   time.Now(),
		Credentials: &Credentials{Username: "alice", Password: "wrong"},
	})
	// Rejected credentials are an expected outcome, not an error
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, types.ScrapeErrorAuth, result.ErrorType)
	assert.Contains(t, result.ErrorMessage, "invalid credentials")
}

func TestDemoBankScrapeProviderDown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	adapter := NewDemoBankAdapter(providerConfig(server.URL))

	result, err := adapter.Scrape(context.Background(), &ScrapeRequest{
		StartDate:   time.Now(),
		Credentials: &Credentials{Username: "alice", Password: "secret"},
	})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, types.ScrapeErrorTransient, result.ErrorType)
}

func TestOTPBankTwoFactorFlow(t *testing.T) {
	var verifyBody otpVerifyBody
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/otp/request":
			var body otpRequestBody
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			// Provider rejects local formats, adapter must normalize
			assert.Equal(t, "+972541234567", body.Phone)
			json.NewEncoder(w).Encode(otpRequestResponse{DeviceToken: "dev-1", OTPContext: "ctx-1"})
		case "/v1/otp/verify":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&verifyBody))
			json.NewEncoder(w).Encode(otpVerifyResponse{LongLivedToken: "long-lived-1"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	sessions := twofactor.NewMemoryStore(time.Minute)
	defer sessions.Close()

	adapter, err := NewOTPBankAdapter(providerConfig(server.URL), sessions)
	require.NoError(t, err)
	assert.True(t, adapter.RequiresTwoFactor())

	creds := &Credentials{Username: "bob", PhoneNumber: "054-123-4567"}

	init, err := adapter.InitTwoFactor(context.Background(), creds)
	require.NoError(t, err)
	require.True(t, init.Success)
	require.NotEmpty(t, init.SessionID)

	result, err := adapter.CompleteTwoFactor(context.Background(), creds, "123456", init.SessionID)
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t, "long-lived-1", result.LongLivedToken)

	// Intermediate state from init must flow through to verification
	assert.Equal(t, "dev-1", verifyBody.DeviceToken)
	assert.Equal(t, "ctx-1", verifyBody.OTPContext)

	// The session is consumed, a replay fails as expired
	replay, err := adapter.CompleteTwoFactor(context.Background(), creds, "123456", init.SessionID)
	require.NoError(t, err)
	assert.False(t, replay.Success)
	assert.Contains(t, replay.ErrorMessage, "expired")
}

func TestOTPBankInitRequiresPhone(t *testing.T) {
	sessions := twofactor.NewMemoryStore(time.Minute)
	defer sessions.Close()

	adapter, err := NewOTPBankAdapter(providerConfig("http://unused"), sessions)
	require.NoError(t, err)

	init, err := adapter.InitTwoFactor(context.Background(), &Credentials{Username: "bob"})
	require.NoError(t, err)
	assert.False(t, init.Success)
	assert.Contains(t, init.ErrorMessage, "phone")
}

func TestOTPBankScrapeWithoutTokenAsksForAuth(t *testing.T) {
	sessions := twofactor.NewMemoryStore(time.Minute)
	defer sessions.Close()

	adapter, err := NewOTPBankAdapter(providerConfig("http://unused"), sessions)
	require.NoError(t, err)

	result, err := adapter.Scrape(context.Background(), &ScrapeRequest{StartDate: time.Now()})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, types.ScrapeErrorAuth, result.ErrorType)
}

func TestOTPBankScrapeExpiredToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	sessions := twofactor.NewMemoryStore(time.Minute)
	defer sessions.Close()

	adapter, err := NewOTPBankAdapter(providerConfig(server.URL), sessions)
	require.NoError(t, err)

	result, err := adapter.Scrape(context.Background(), &ScrapeRequest{
		StartDate:      time.Now(),
		LongLivedToken: "stale",
	})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, types.ScrapeErrorAuth, result.ErrorType)
	assert.Contains(t, result.ErrorMessage, "token expired")
}
