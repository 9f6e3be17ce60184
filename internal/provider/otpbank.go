package provider

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/household-ledger/internal/config"
	"github.com/household-ledger/internal/twofactor"
	"github.com/household-ledger/internal/types"
)

// OTPBankTag is the provider tag for the otpbank adapter
const OTPBankTag = "otpbank"

// OTPBankAdapter talks to an institution whose authentication requires a
// one-time code sent to the user's phone. The interactive exchange yields a
// long-lived token that later scrapes reuse until the provider rejects it.
type OTPBankAdapter struct {
	http     *httpClient
	sessions twofactor.SessionStore
}

// NewOTPBankAdapter creates an otpbank adapter. The session store bridges
// the init and complete steps of the code exchange.
func NewOTPBankAdapter(cfg *config.ProviderConfig, sessions twofactor.SessionStore) (*OTPBankAdapter, error) {
	if sessions == nil {
		return nil, fmt.Errorf("session store cannot be nil")
	}

	return &OTPBankAdapter{
		http:     newHTTPClient(OTPBankTag, cfg.BaseURL, cfg.RequestsPerSec),
		sessions: sessions,
	}, nil
}

// Tag returns the provider tag
func (a *OTPBankAdapter) Tag() string {
	return OTPBankTag
}

// RequiresTwoFactor reports that otpbank needs the one-time-code exchange
func (a *OTPBankAdapter) RequiresTwoFactor() bool {
	return true
}

type otpRequestBody struct {
	Username string `json:"username"`
	Phone    string `json:"phone"`
}

type otpRequestResponse struct {
	DeviceToken string `json:"deviceToken"`
	OTPContext  string `json:"otpContext"`
	Error       string `json:"error,omitempty"`
}

type otpVerifyBody struct {
	Username    string `json:"username"`
	DeviceToken string `json:"deviceToken"`
	OTPContext  string `json:"otpContext"`
	Code        string `json:"code"`
}

type otpVerifyResponse struct {
	LongLivedToken string `json:"longLivedToken"`
	Error          string `json:"error,omitempty"`
}

// InitTwoFactor asks the provider to send a one-time code to the user's
// phone and stores the intermediate context under a fresh session ID. The
// phone number is normalized to international format first; the provider's
// verification endpoint rejects local formats.
func (a *OTPBankAdapter) InitTwoFactor(ctx context.Context, creds *Credentials) (*TwoFactorInit, error) {
	phone := NormalizePhone(creds.PhoneNumber)
	if phone == "" {
		return &TwoFactorInit{
			Success:      false,
			ErrorMessage: "phone number is required for two-factor authentication",
		}, nil
	}

	var resp otpRequestResponse
	status, err := a.http.postJSON(ctx, "/v1/otp/request", &otpRequestBody{
		Username: creds.Username,
		Phone:    phone,
	}, &resp)
	if err != nil {
		return &TwoFactorInit{Success: false, ErrorMessage: err.Error()}, nil
	}
	if status != http.StatusOK {
		return &TwoFactorInit{
			Success:      false,
			ErrorMessage: fmt.Sprintf("otp request returned status %d", status),
		}, nil
	}

	sessionID := uuid.New().String()
	if err := a.sessions.Put(ctx, sessionID, &twofactor.SessionState{
		ProviderTag: OTPBankTag,
		DeviceToken: resp.DeviceToken,
		OTPContext:  resp.OTPContext,
		CreatedAt:   time.Now().UTC(),
	}); err != nil {
		return nil, fmt.Errorf("failed to store two-factor session: %w", err)
	}

	return &TwoFactorInit{Success: true, SessionID: sessionID}, nil
}

// CompleteTwoFactor consumes the session exactly once and exchanges the
// one-time code for a long-lived token. A missing or already-consumed
// session fails with a session-expired message; it never proceeds silently.
func (a *OTPBankAdapter) CompleteTwoFactor(ctx context.Context, creds *Credentials, code, sessionID string) (*TwoFactorResult, error) {
	state, err := a.sessions.Consume(ctx, sessionID)
	if err != nil {
		if err == twofactor.ErrSessionExpired {
			return &TwoFactorResult{
				Success:      false,
				ErrorMessage: "two-factor session expired, restart authentication",
			}, nil
		}
		return nil, fmt.Errorf("failed to consume two-factor session: %w", err)
	}

	var resp otpVerifyResponse
	status, err := a.http.postJSON(ctx, "/v1/otp/verify", &otpVerifyBody{
		Username:    creds.Username,
		DeviceToken: state.DeviceToken,
		OTPContext:  state.OTPContext,
		Code:        code,
	}, &resp)
	if err != nil {
		return &TwoFactorResult{Success: false, ErrorMessage: err.Error()}, nil
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return &TwoFactorResult{Success: false, ErrorMessage: "invalid one-time code"}, nil
	}
	if status != http.StatusOK {
		return &TwoFactorResult{
			Success:      false,
			ErrorMessage: fmt.Sprintf("otp verify returned status %d", status),
		}, nil
	}

	return &TwoFactorResult{Success: true, LongLivedToken: resp.LongLivedToken}, nil
}

type otpScrapeRequest struct {
	Token string `json:"token"`
	Since string `json:"since"`
}

type otpScrapeResponse struct {
	Accounts []wireAccount `json:"accounts"`
	Error    string        `json:"error,omitempty"`
}

// Scrape fetches transactions using the long-lived token from a completed
// two-factor exchange. Without a token, or once the provider rejects it,
// the result asks for re-authentication.
func (a *OTPBankAdapter) Scrape(ctx context.Context, req *ScrapeRequest) (*ScrapeResult, error) {
	if req.LongLivedToken == "" {
		return &ScrapeResult{
			Success:      false,
			ErrorType:    types.ScrapeErrorAuth,
			ErrorMessage: "no long-lived token, two-factor authentication required",
		}, nil
	}

	var resp otpScrapeResponse
	status, err := a.http.postJSON(ctx, "/v1/transactions", &otpScrapeRequest{
		Token: req.LongLivedToken,
		Since: req.StartDate.Format("2006-01-02"),
	}, &resp)
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
			ErrorMessage: "token expired, two-factor authentication required",
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
