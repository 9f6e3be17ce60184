package provider

import (
	"context"
	"fmt"
	"net/http"

	"github.com/household-ledger/internal/config"
	"github.com/household-ledger/internal/types"
)

// DemoBankTag is the provider tag for the demobank adapter
const DemoBankTag = "demobank"

// DemoBankAdapter talks to an institution with stateless credential
// authentication: every scrape logs in, fetches, and discards the session.
type DemoBankAdapter struct {
	http *httpClient
}

// NewDemoBankAdapter creates a demobank adapter
func NewDemoBankAdapter(cfg *config.ProviderConfig) *DemoBankAdapter {
	return &DemoBankAdapter{
		http: newHTTPClient(DemoBankTag, cfg.BaseURL, cfg.RequestsPerSec),
	}
}

// Tag returns the provider tag
func (a *DemoBankAdapter) Tag() string {
	return DemoBankTag
}

// RequiresTwoFactor reports that demobank authenticates with credentials only
func (a *DemoBankAdapter) RequiresTwoFactor() bool {
	return false
}

type demoBankLoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type demoBankLoginResponse struct {
	SessionToken string `json:"sessionToken"`
	Error        string `json:"error,omitempty"`
}

type demoBankTransactionsRequest struct {
	SessionToken string `json:"sessionToken"`
	Since        string `json:"since"`
}

type demoBankTransactionsResponse struct {
	Accounts []wireAccount `json:"accounts"`
	Error    string        `json:"error,omitempty"`
}

// Scrape authenticates with credentials and fetches transactions. Rejected
// credentials come back as an auth-typed result, not an error.
func (a *DemoBankAdapter) Scrape(ctx context.Context, req *ScrapeRequest) (*ScrapeResult, error) {
	var login demoBankLoginResponse
	status, err := a.http.postJSON(ctx, "/v1/login", &demoBankLoginRequest{
		Username: req.Credentials.Username,
		Password: req.Credentials.Password,
	}, &login)
	if err != nil {
		return &ScrapeResult{
			Success:      false,
			ErrorType:    types.ScrapeErrorTransient,
			ErrorMessage: err.Error(),
		}, nil
	}

	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return &ScrapeResult{
			Success:      false,
			ErrorType:    types.ScrapeErrorAuth,
			ErrorMessage: "invalid credentials",
		}, nil
	}
	if status != http.StatusOK {
		return &ScrapeResult{
			Success:      false,
			ErrorType:    types.ScrapeErrorTransient,
			ErrorMessage: fmt.Sprintf("login returned status %d", status),
		}, nil
	}

	var resp demoBankTransactionsResponse
	status, err = a.http.postJSON(ctx, "/v1/transactions", &demoBankTransactionsRequest{
		SessionToken: login.SessionToken,
		Since:        req.StartDate.Format("2006-01-02"),
	}, &resp)
	if err != nil {
		return &ScrapeResult{
			Success:      false,
			ErrorType:    types.ScrapeErrorTransient,
			ErrorMessage: err.Error(),
		}, nil
	}

	if status == http.StatusUnauthorized {
		return &ScrapeResult{
			Success:      false,
			ErrorType:    types.ScrapeErrorAuth,
			ErrorMessage: "session expired",
		}, nil
	}
	if status != http.StatusOK {
		return &ScrapeResult{
			Success:      false,
			ErrorType:    types.ScrapeErrorTransient,
			ErrorMessage: fmt.Sprintf("transactions returned status %d", status),
		}, nil
	}

	accounts, err := convertWireAccounts(resp.Accounts)
	if err != nil {
		return nil, err
	}

	return &ScrapeResult{Success: true, Accounts: accounts}, nil
}
