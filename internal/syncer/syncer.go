// Package syncer orchestrates pulling transactions from external providers
// into household ledgers.
package syncer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/household-ledger/internal/engine"
	apperrors "github.com/household-ledger/internal/errors"
	"github.com/household-ledger/internal/logging"
	"github.com/household-ledger/internal/models"
	"github.com/household-ledger/internal/provider"
	"github.com/household-ledger/internal/types"
	"github.com/household-ledger/internal/vault"
)

// ConnectionStore is the connection persistence the orchestrator needs
type ConnectionStore interface {
	GetByID(ctx context.Context, householdID, connectionID string) (*models.Connection, error)
	ListActive(ctx context.Context, householdID string) ([]*models.Connection, error)
	Deactivate(ctx context.Context, connectionID string) error
	Reactivate(ctx context.Context, connectionID string) error
	UpdateLastSync(ctx context.Context, connectionID string, status types.SyncJobStatus, at time.Time) error
	UpdateSyncStatus(ctx context.Context, connectionID string, status types.SyncJobStatus) error
	SetLongLivedToken(ctx context.Context, connectionID string, encryptedToken string) error
	ClearLongLivedToken(ctx context.Context, connectionID string) error
	SetAccountMapping(ctx context.Context, connectionID string, mapping map[string]string) error
}

// JobStore is the sync job persistence the orchestrator needs
type JobStore interface {
	Create(ctx context.Context, connectionID string) (*models.SyncJob, error)
	Complete(ctx context.Context, jobID string, status types.SyncJobStatus, found, added int, errorMessage *string) error
}

// AccountStore is the account persistence the orchestrator needs
type AccountStore interface {
	GetByID(ctx context.Context, householdID, accountID string) (*models.Account, error)
	GetByExternalID(ctx context.Context, householdID, externalID string) (*models.Account, error)
	Create(ctx context.Context, account *models.Account) error
}

// CategoryStore is the category persistence the orchestrator needs
type CategoryStore interface {
	FindByName(ctx context.Context, householdID, name string) (*models.Category, error)
	Create(ctx context.Context, cat *models.Category) error
}

// RuleStore is the rule persistence the orchestrator needs
type RuleStore interface {
	ListActive(ctx context.Context, householdID string) ([]*models.CategoryRule, error)
}

// TransactionStore is the transaction persistence the orchestrator needs
type TransactionStore interface {
	Create(ctx context.Context, tx *models.Transaction) error
	ExistingExternalIDs(ctx context.Context, householdID string, externalIDs []string) (map[string]bool, error)
}

// providerCategoryConfidence is recorded when a transaction's category comes
// from the provider's own label
const providerCategoryConfidence = 0.9

// resyncOverlap is how far behind the last successful sync a fetch starts,
// so transactions posted late by the institution are not missed.
// Deduplication makes the overlap safe.
const resyncOverlap = 7 * 24 * time.Hour

// ServiceConfig holds the orchestrator's dependencies
type ServiceConfig struct {
	Connections  ConnectionStore
	Jobs         JobStore
	Accounts     AccountStore
	Categories   CategoryStore
	Rules        RuleStore
	Transactions TransactionStore
	Vault        *vault.Vault
	Registry     *provider.Registry
	Engine       *engine.Engine

	// ScrapeTimeout bounds one provider fetch
	ScrapeTimeout time.Duration
	// StartWindow is how far back a first sync reaches
	StartWindow time.Duration
}

// Service pulls transactions from providers and imports them
type Service struct {
	cfg    *ServiceConfig
	logger *logging.Logger
}

// NewService creates a sync orchestrator
func NewService(cfg *ServiceConfig) (*Service, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Connections == nil || cfg.Jobs == nil || cfg.Accounts == nil ||
		cfg.Categories == nil || cfg.Rules == nil || cfg.Transactions == nil {
		return nil, fmt.Errorf("all stores must be provided")
	}
	if cfg.Vault == nil {
		return nil, fmt.Errorf("vault cannot be nil")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("provider registry cannot be nil")
	}
	if cfg.Engine == nil {
		return nil, fmt.Errorf("categorization engine cannot be nil")
	}
	if cfg.ScrapeTimeout <= 0 {
		cfg.ScrapeTimeout = 2 * time.Minute
	}
	if cfg.StartWindow <= 0 {
		cfg.StartWindow = 90 * 24 * time.Hour
	}

	return &Service{
		cfg:    cfg,
		logger: logging.GetGlobalLogger().WithField("component", "syncer"),
	}, nil
}

// ConnectionSyncResult is the outcome of syncing one connection
type ConnectionSyncResult struct {
	ConnectionID      string              `json:"connectionId"`
	JobID             string              `json:"jobId"`
	Status            types.SyncJobStatus `json:"status"`
	TransactionsFound int                 `json:"transactionsFound"`
	TransactionsNew   int                 `json:"transactionsNew"`
	AuthRequired      bool                `json:"authRequired,omitempty"`
	ErrorMessage      string              `json:"errorMessage,omitempty"`
}

// HouseholdSyncResult aggregates the outcomes of syncing every active
// connection of a household
type HouseholdSyncResult struct {
	HouseholdID string                  `json:"householdId"`
	Succeeded   int                     `json:"succeeded"`
	Failed      int                     `json:"failed"`
	Results     []*ConnectionSyncResult `json:"results"`
}

// authMessageMarkers are provider error substrings that mean the stored
// credentials or token no longer work, as opposed to a transient fault
var authMessageMarkers = []string{
	"invalid credentials",
	"authentication",
	"login failed",
	"token expired",
	"session expired",
	"re-authenticate",
}

// isAuthFailure classifies a failed scrape: anything the adapter typed as
// auth, plus messages that clearly describe a credential problem
func isAuthFailure(errorType types.ScrapeErrorType, message string) bool {
	if errorType == types.ScrapeErrorAuth {
		return true
	}
	lower := strings.ToLower(message)
	for _, marker := range authMessageMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// ExternalTxID builds the deduplication key for an imported transaction
func ExternalTxID(externalAccountID, providerTxID string) string {
	return externalAccountID + ":" + providerTxID
}

// SyncConnection runs one sync attempt for a connection.
//
// A sync job is created in running state before any external call and is
// always completed, success or error, even when the attempt panics partway.
// Expected provider failures (bad credentials, provider down) come back in
// the result, not as an error return.
func (s *Service) SyncConnection(ctx context.Context, householdID, connectionID string) (result *ConnectionSyncResult, err error) {
	conn, err := s.cfg.Connections.GetByID(ctx, householdID, connectionID)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to load connection", err)
	}
	if conn == nil {
		return nil, apperrors.NewNotFoundError("connection", connectionID)
	}

	job, err := s.cfg.Jobs.Create(ctx, conn.ID)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to create sync job", err)
	}

	result = &ConnectionSyncResult{
		ConnectionID: conn.ID,
		JobID:        job.ID,
		Status:       types.JobRunning,
	}

	// The job never stays running: whatever happens below, including a
	// panic inside an adapter, the deferred guard moves it to a terminal
	// state before the attempt returns.
	completed := false
	finish := func(status types.SyncJobStatus, message string) {
		completed = true
		result.Status = status
		var msgPtr *string
		if message != "" {
			result.ErrorMessage = message
			msgPtr = &message
		}
		if err := s.cfg.Jobs.Complete(ctx, job.ID, status, result.TransactionsFound, result.TransactionsNew, msgPtr); err != nil {
			s.logger.WithError(err).WithField("jobId", job.ID).Error("Failed to complete sync job")
		}
		// Only a successful sync advances the timestamp the next fetch
		// window anchors on. Stamping it on failures would let repeated
		// transient errors march the window past transactions that were
		// never fetched.
		if status == types.JobSuccess {
			if err := s.cfg.Connections.UpdateLastSync(ctx, conn.ID, status, time.Now().UTC()); err != nil {
				s.logger.WithError(err).WithField("connectionId", conn.ID).Error("Failed to update connection sync state")
			}
		} else {
			if err := s.cfg.Connections.UpdateSyncStatus(ctx, conn.ID, status); err != nil {
				s.logger.WithError(err).WithField("connectionId", conn.ID).Error("Failed to update connection sync state")
			}
		}
	}
	defer func() {
		if !completed {
			message := "sync aborted"
			if err != nil {
				message = err.Error()
			}
			if r := recover(); r != nil {
				message = fmt.Sprintf("sync panicked: %v", r)
				finish(types.JobError, message)
				panic(r)
			}
			finish(types.JobError, message)
		}
	}()

	var creds provider.Credentials
	if err := s.cfg.Vault.DecryptJSON(conn.EncryptedCredentials, &creds); err != nil {
		finish(types.JobError, "stored credentials could not be decrypted")
		return result, apperrors.NewCredentialError(conn.ID, err)
	}

	var token string
	if conn.EncryptedToken != nil {
		token, err = s.cfg.Vault.DecryptString(*conn.EncryptedToken)
		if err != nil {
			finish(types.JobError, "stored token could not be decrypted")
			return result, apperrors.NewCredentialError(conn.ID, err)
		}
	}

	adapter, err := s.cfg.Registry.Get(conn.ProviderTag)
	if err != nil {
		finish(types.JobError, err.Error())
		return result, apperrors.NewInternalError("unknown provider", err)
	}

	scrapeCtx, cancel := context.WithTimeout(ctx, s.cfg.ScrapeTimeout)
	defer cancel()

	scrape, err := adapter.Scrape(scrapeCtx, &provider.ScrapeRequest{
		StartDate:      s.startDate(conn),
		Credentials:    &creds,
		LongLivedToken: token,
	})
	if err != nil {
		finish(types.JobError, err.Error())
		return result, apperrors.NewTransientProviderError(conn.ProviderTag, err)
	}

	if !scrape.Success {
		if isAuthFailure(scrape.ErrorType, scrape.ErrorMessage) {
			// The connection cannot recover without the user; stop the
			// background worker from hammering a dead credential set.
			if err := s.cfg.Connections.Deactivate(ctx, conn.ID); err != nil {
				s.logger.WithError(err).WithField("connectionId", conn.ID).Error("Failed to deactivate connection")
			}
			// A rejected long-lived token is dead; drop it so a manual
			// retry doesn't resend it before re-authentication.
			if conn.EncryptedToken != nil {
				if err := s.cfg.Connections.ClearLongLivedToken(ctx, conn.ID); err != nil {
					s.logger.WithError(err).WithField("connectionId", conn.ID).Error("Failed to clear long-lived token")
				}
			}
			result.AuthRequired = true
			finish(types.JobError, scrape.ErrorMessage)
			return result, nil
		}

		finish(types.JobError, scrape.ErrorMessage)
		return result, nil
	}

	found, added, importErr := s.importAccounts(ctx, conn, scrape.Accounts)
	result.TransactionsFound = found
	result.TransactionsNew = added
	if importErr != nil {
		finish(types.JobError, importErr.Error())
		return result, importErr
	}

	finish(types.JobSuccess, "")
	return result, nil
}

/// startDate picks where a fetch begins: a window behind the last successful
// sync, or the full start window when the connection has never succeeded.
// LastSyncAt only ever marks a success, so failed attempts never move it.
func (s *Service) startDate(conn *models.Connection) time.Time {
	if conn.LastSyncAt != nil {
		return conn.LastSyncAt.Add(-resyncOverlap)
	}
	return time.Now().UTC().Add(-s.cfg.StartWindow)
}

// importAccounts ingests every scraped account, tolerating per-transaction
// failures. Returns how many provider transactions were seen and how many
// were new.
func (s *Service) importAccounts(ctx context.Context, conn *models.Connection, accounts []provider.AccountScrape) (found, added int, err error) {
	rules, err := s.cfg.Rules.ListActive(ctx, conn.HouseholdID)
	if err != nil {
		return 0, 0, apperrors.NewInternalError("failed to load rules", err)
	}

	// One batched lookup decides novelty for the whole scrape
	var externalIDs []string
	for _, acc := range accounts {
		for _, raw := range acc.Transactions {
			externalIDs = append(externalIDs, ExternalTxID(acc.AccountID, raw.ProviderTxID))
		}
	}
	existing, err := s.cfg.Transactions.ExistingExternalIDs(ctx, conn.HouseholdID, externalIDs)
	if err != nil {
		return 0, 0, apperrors.NewInternalError("failed to check existing transactions", err)
	}

	for _, acc := range accounts {
		found += len(acc.Transactions)

		accountID, err := s.resolveAccount(ctx, conn, &acc)
		if err != nil {
			s.logger.WithError(err).WithFields(map[string]interface{}{
				"connectionId":      conn.ID,
				"externalAccountId": acc.AccountID,
			}).Error("Failed to resolve account, skipping its transactions")
			continue
		}

		for _, raw := range acc.Transactions {
			externalID := ExternalTxID(acc.AccountID, raw.ProviderTxID)
			if existing[externalID] {
				continue
			}

			tx := s.buildTransaction(ctx, conn, accountID, externalID, &raw, rules)
			if err := s.cfg.Transactions.Create(ctx, tx); err != nil {
				// One bad row does not abort the import
				s.logger.WithError(err).WithField("externalId", externalID).Error("Failed to persist transaction")
				continue
			}
			existing[externalID] = true
			added++
		}
	}

	return found, added, nil
}

// resolveAccount finds the internal account for a provider-side account:
// the connection's stored mapping first, then lookup by external ID, then
// auto-provisioning. A mapping pointing at a deleted account is ignored.
func (s *Service) resolveAccount(ctx context.Context, conn *models.Connection, scrape *provider.AccountScrape) (string, error) {
	if mappedID, ok := conn.MappedAccountID(scrape.AccountID); ok {
		account, err := s.cfg.Accounts.GetByID(ctx, conn.HouseholdID, mappedID)
		if err != nil {
			return "", fmt.Errorf("failed to look up mapped account: %w", err)
		}
		if account != nil {
			return account.ID, nil
		}
		s.logger.WithFields(map[string]interface{}{
			"connectionId":      conn.ID,
			"externalAccountId": scrape.AccountID,
			"mappedAccountId":   mappedID,
		}).Warn("Account mapping points at a missing account, re-provisioning")
	}

	account, err := s.cfg.Accounts.GetByExternalID(ctx, conn.HouseholdID, scrape.AccountID)
	if err != nil {
		return "", fmt.Errorf("failed to look up account by external id: %w", err)
	}
	if account != nil {
		return account.ID, nil
	}

	name := scrape.AccountName
	if name == "" {
		name = fmt.Sprintf("%s %s", conn.ProviderTag, scrape.AccountID)
	}
	externalID := scrape.AccountID
	account = &models.Account{
		HouseholdID: conn.HouseholdID,
		Name:        name,
		Type:        types.AccountChecking,
		ExternalID:  &externalID,
	}
	if err := s.cfg.Accounts.Create(ctx, account); err != nil {
		return "", fmt.Errorf("failed to auto-provision account: %w", err)
	}

	mapping := make(map[string]string, len(conn.AccountMapping)+1)
	for k, v := range conn.AccountMapping {
		mapping[k] = v
	}
	mapping[scrape.AccountID] = account.ID
	conn.AccountMapping = mapping
	if err := s.cfg.Connections.SetAccountMapping(ctx, conn.ID, mapping); err != nil {
		s.logger.WithError(err).WithField("connectionId", conn.ID).Warn("Failed to store account mapping")
	}

	return account.ID, nil
}

// buildTransaction converts a raw provider transaction into a ledger entry,
// assigning a category from the provider's own label when one exists and
// from the rule engine otherwise
func (s *Service) buildTransaction(ctx context.Context, conn *models.Connection, accountID, externalID string, raw *provider.RawTransaction, rules []*models.CategoryRule) *models.Transaction {
	direction := types.DirectionExpense
	if raw.Amount.IsPositive() {
		direction = types.DirectionIncome
	}

	var merchant *string
	if raw.Merchant != "" {
		m := raw.Merchant
		merchant = &m
	}

	tx := &models.Transaction{
		HouseholdID: conn.HouseholdID,
		AccountID:   accountID,
		Date:        raw.Date,
		Description: raw.Description,
		Merchant:    merchant,
		Amount:      raw.Amount.Abs(),
		Direction:   direction,
		ExternalID:  &externalID,
	}

	if raw.CategoryLabel != "" {
		if categoryID := s.categoryFromLabel(ctx, conn.HouseholdID, raw.CategoryLabel, direction); categoryID != "" {
			source := types.SourceProvider
			tx.CategoryID = &categoryID
			tx.Source = &source
			tx.Confidence = providerCategoryConfidence
			return tx
		}
	}

	assignment := s.cfg.Engine.Categorize(ctx, &engine.Candidate{
		HouseholdID: conn.HouseholdID,
		Description: raw.Description,
		Merchant:    raw.Merchant,
		Amount:      raw.Amount,
		Direction:   direction,
	}, rules)

	source := assignment.Source
	tx.Source = &source
	tx.Confidence = assignment.Confidence
	if assignment.CategoryID != "" {
		categoryID := assignment.CategoryID
		tx.CategoryID = &categoryID
	} else {
		tx.NeedsReview = true
	}

	return tx
}

// categoryFromLabel finds or creates the household category matching a
// provider's label. Lookup failures fall through to the rule engine rather
// than failing the import.
func (s *Service) categoryFromLabel(ctx context.Context, householdID, label string, direction types.TransactionDirection) string {
	cat, err := s.cfg.Categories.FindByName(ctx, householdID, label)
	if err != nil {
		s.logger.WithError(err).WithField("label", label).Warn("Failed to look up provider category")
		return ""
	}
	if cat != nil {
		return cat.ID
	}

	catType := types.CategoryVariable
	if direction == types.DirectionIncome {
		catType = types.CategoryIncome
	}
	cat = &models.Category{
		HouseholdID: householdID,
		Name:        label,
		Type:        catType,
	}
	if err := s.cfg.Categories.Create(ctx, cat); err != nil {
		s.logger.WithError(err).WithField("label", label).Warn("Failed to create provider category")
		return ""
	}
	return cat.ID
}

// SyncAll syncs every active connection of a household. One connection's
// failure, including a panic, never blocks the others.
func (s *Service) SyncAll(ctx context.Context, householdID string) (*HouseholdSyncResult, error) {
	conns, err := s.cfg.Connections.ListActive(ctx, householdID)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to list connections", err)
	}

	result := &HouseholdSyncResult{HouseholdID: householdID}
	for _, conn := range conns {
		connResult := s.syncConnectionSafe(ctx, householdID, conn.ID)
		result.Results = append(result.Results, connResult)
		if connResult.Status == types.JobSuccess {
			result.Succeeded++
		} else {
			result.Failed++
		}
	}

	return result, nil
}

// syncConnectionSafe runs one connection sync and converts panics and
// errors into an error-status result
func (s *Service) syncConnectionSafe(ctx context.Context, householdID, connectionID string) (result *ConnectionSyncResult) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithFields(map[string]interface{}{
				"connectionId": connectionID,
				"panic":        fmt.Sprintf("%v", r),
			}).Error("Sync panicked")
			result = &ConnectionSyncResult{
				ConnectionID: connectionID,
				Status:       types.JobError,
				ErrorMessage: fmt.Sprintf("sync panicked: %v", r),
			}
		}
	}()

	res, err := s.SyncConnection(ctx, householdID, connectionID)
	if err != nil {
		if res == nil {
			return &ConnectionSyncResult{
				ConnectionID: connectionID,
				Status:       types.JobError,
				ErrorMessage: err.Error(),
			}
		}
		return res
	}
	return res
}

// InitConnectionTwoFactor starts the interactive code exchange for a
// two-factor connection
func (s *Service) InitConnectionTwoFactor(ctx context.Context, householdID, connectionID string) (*provider.TwoFactorInit, error) {
	conn, err := s.cfg.Connections.GetByID(ctx, householdID, connectionID)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to load connection", err)
	}
	if conn == nil {
		return nil, apperrors.NewNotFoundError("connection", connectionID)
	}

	adapter, err := s.cfg.Registry.GetTwoFactor(conn.ProviderTag)
	if err != nil {
		return nil, apperrors.NewValidationError("connectionId", err.Error())
	}

	var creds provider.Credentials
	if err := s.cfg.Vault.DecryptJSON(conn.EncryptedCredentials, &creds); err != nil {
		return nil, apperrors.NewCredentialError(conn.ID, err)
	}

	return adapter.InitTwoFactor(ctx, &creds)
}

// CompleteConnectionTwoFactor finishes the code exchange, stores the
// encrypted long-lived token and reactivates the connection
func (s *Service) CompleteConnectionTwoFactor(ctx context.Context, householdID, connectionID, code, sessionID string) (*provider.TwoFactorResult, error) {
	conn, err := s.cfg.Connections.GetByID(ctx, householdID, connectionID)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to load connection", err)
	}
	if conn == nil {
		return nil, apperrors.NewNotFoundError("connection", connectionID)
	}

	adapter, err := s.cfg.Registry.GetTwoFactor(conn.ProviderTag)
	if err != nil {
		return nil, apperrors.NewValidationError("connectionId", err.Error())
	}

	var creds provider.Credentials
	if err := s.cfg.Vault.DecryptJSON(conn.EncryptedCredentials, &creds); err != nil {
		return nil, apperrors.NewCredentialError(conn.ID, err)
	}

	result, err := adapter.CompleteTwoFactor(ctx, &creds, code, sessionID)
	if err != nil {
		return nil, apperrors.NewInternalError("two-factor completion failed", err)
	}
	if !result.Success {
		return result, nil
	}

	encrypted, err := s.cfg.Vault.EncryptString(result.LongLivedToken)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to encrypt token", err)
	}
	if err := s.cfg.Connections.SetLongLivedToken(ctx, conn.ID, encrypted); err != nil {
		return nil, apperrors.NewInternalError("failed to store token", err)
	}
	if err := s.cfg.Connections.Reactivate(ctx, conn.ID); err != nil {
		return nil, apperrors.NewInternalError("failed to reactivate connection", err)
	}

	return result, nil
}
