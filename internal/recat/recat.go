// Package recat implements manual recategorization and the bounded
// bulk-apply pass over uncategorized transactions.
package recat

import (
	"context"
	"fmt"

	"github.com/household-ledger/internal/engine"
	apperrors "github.com/household-ledger/internal/errors"
	"github.com/household-ledger/internal/logging"
	"github.com/household-ledger/internal/models"
	"github.com/household-ledger/internal/types"
)

// DefaultBatchSize bounds one bulk-apply pass so it stays interactive
const DefaultBatchSize = 20

// correctionRulePriority ranks rules derived from a manual correction above
// auto-created suggestion rules
const correctionRulePriority = 100

// TransactionStore is the transaction persistence recategorization needs
type TransactionStore interface {
	GetByID(ctx context.Context, householdID, transactionID string) (*models.Transaction, error)
	SetCategory(ctx context.Context, householdID, transactionID string, categoryID *string, source types.CategorizationSource, confidence float64, needsReview bool) error
	ClaimProcessing(ctx context.Context, householdID, transactionID string) (bool, error)
	ClaimUncategorizedBatch(ctx context.Context, householdID string, limit int) ([]*models.Transaction, error)
	ReleaseProcessing(ctx context.Context, householdID string, transactionIDs ...string) error
	CountUncategorized(ctx context.Context, householdID string) (int, error)
}

// CategoryStore is the category persistence recategorization needs
type CategoryStore interface {
	GetByID(ctx context.Context, householdID, categoryID string) (*models.Category, error)
	UpdateParent(ctx context.Context, householdID, categoryID string, newParentID *string) error
}

// RuleStore is the rule persistence recategorization needs
type RuleStore interface {
	ListActive(ctx context.Context, householdID string) ([]*models.CategoryRule, error)
	Create(ctx context.Context, rule *models.CategoryRule) error
}

// ServiceConfig holds the recategorization service's dependencies
type ServiceConfig struct {
	Transactions TransactionStore
	Categories   CategoryStore
	Rules        RuleStore
	Engine       *engine.Engine

	// BatchSize bounds one bulk-apply pass
	BatchSize int
}

// Service applies manual category corrections and re-runs the engine over
// uncategorized transactions
type Service struct {
	cfg    *ServiceConfig
	logger *logging.Logger
}

// NewService creates a recategorization service
func NewService(cfg *ServiceConfig) (*Service, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Transactions == nil || cfg.Categories == nil || cfg.Rules == nil {
		return nil, fmt.Errorf("all stores must be provided")
	}
	if cfg.Engine == nil {
		return nil, fmt.Errorf("categorization engine cannot be nil")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}

	return &Service{
		cfg:    cfg,
		logger: logging.GetGlobalLogger().WithField("component", "recat"),
	}, nil
}

// Recategorize assigns a category chosen by the user to one transaction.
// The transaction is claimed for the duration of the update so a concurrent
// bulk pass cannot overwrite the correction. With createRule set, the
// correction also becomes a merchant rule so future imports follow it.
func (s *Service) Recategorize(ctx context.Context, householdID, transactionID, categoryID string, createRule bool) (*models.Transaction, error) {
	tx, err := s.cfg.Transactions.GetByID(ctx, householdID, transactionID)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to load transaction", err)
	}
	if tx == nil {
		return nil, apperrors.NewNotFoundError("transaction", transactionID)
	}

	category, err := s.cfg.Categories.GetByID(ctx, householdID, categoryID)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to load category", err)
	}
	if category == nil {
		// The household-scoped lookup cannot tell a missing category from
		// another household's; not-found reveals nothing either way
		return nil, apperrors.NewNotFoundError("category", categoryID)
	}

	claimed, err := s.cfg.Transactions.ClaimProcessing(ctx, householdID, transactionID)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to claim transaction", err)
	}
	if !claimed {
		return nil, apperrors.NewLockConflictError(transactionID)
	}
	defer func() {
		if err := s.cfg.Transactions.ReleaseProcessing(ctx, householdID, transactionID); err != nil {
			s.logger.WithError(err).WithField("transactionId", transactionID).Error("Failed to release transaction")
		}
	}()

	if err := s.cfg.Transactions.SetCategory(ctx, householdID, transactionID, &categoryID, types.SourceManual, 1.0, false); err != nil {
		return nil, apperrors.NewInternalError("failed to set category", err)
	}

	if createRule {
		s.createCorrectionRule(ctx, householdID, tx, categoryID)
	}

	source := types.SourceManual
	tx.CategoryID = &categoryID
	tx.Source = &source
	tx.Confidence = 1.0
	tx.NeedsReview = false
	return tx, nil
}

// createCorrectionRule derives a rule from a manual correction: a merchant
// rule when the transaction has a merchant, otherwise a keyword rule on the
// description. Rule creation failures never fail the correction itself.
func (s *Service) createCorrectionRule(ctx context.Context, householdID string, tx *models.Transaction, categoryID string) {
	rule := &models.CategoryRule{
		HouseholdID: householdID,
		CategoryID:  categoryID,
		Priority:    correctionRulePriority,
		Active:      true,
		Provenance:  types.ProvenanceCorrection,
	}

	switch {
	case tx.Merchant != nil && *tx.Merchant != "":
		rule.Kind = types.MatchMerchant
		rule.Pattern = *tx.Merchant
	case tx.Description != "":
		rule.Kind = types.MatchKeyword
		rule.Pattern = tx.Description
	default:
		return
	}

	if err := s.cfg.Rules.Create(ctx, rule); err != nil {
		s.logger.WithError(err).WithField("transactionId", tx.ID).Warn("Failed to create correction rule")
	}
}

// MoveCategory places a category under a new parent, or at the top level
// when newParentID is nil. The store rejects moves that would create a
// cycle in the category tree and moves of system categories.
func (s *Service) MoveCategory(ctx context.Context, householdID, categoryID string, newParentID *string) error {
	cat, err := s.cfg.Categories.GetByID(ctx, householdID, categoryID)
	if err != nil {
		return apperrors.NewInternalError("failed to load category", err)
	}
	if cat == nil {
		return apperrors.NewNotFoundError("category", categoryID)
	}

	if newParentID != nil {
		parent, err := s.cfg.Categories.GetByID(ctx, householdID, *newParentID)
		if err != nil {
			return apperrors.NewInternalError("failed to load parent category", err)
		}
		if parent == nil {
			return apperrors.NewNotFoundError("category", *newParentID)
		}
	}

	if err := s.cfg.Categories.UpdateParent(ctx, householdID, categoryID, newParentID); err != nil {
		return apperrors.NewValidationError("parentId", err.Error())
	}
	return nil
}

// BulkApplyResult reports one bulk-apply pass
type BulkApplyResult struct {
	Updated   int `json:"updated"`
	Remaining int `json:"remaining"`
}

// BulkApply re-runs the rule engine over a bounded batch of uncategorized
// transactions. Each transaction is claimed atomically before processing
// and released after, so concurrent passes and manual corrections never
// double-process a row. Remaining reports how many uncategorized
// transactions are left after the pass.
func (s *Service) BulkApply(ctx context.Context, householdID string) (*BulkApplyResult, error) {
	rules, err := s.cfg.Rules.ListActive(ctx, householdID)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to load rules", err)
	}

	batch, err := s.cfg.Transactions.ClaimUncategorizedBatch(ctx, householdID, s.cfg.BatchSize)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to claim batch", err)
	}

	claimed := make([]string, 0, len(batch))
	for _, tx := range batch {
		claimed = append(claimed, tx.ID)
	}
	defer func() {
		if err := s.cfg.Transactions.ReleaseProcessing(ctx, householdID, claimed...); err != nil {
			s.logger.WithError(err).Error("Failed to release bulk batch")
		}
	}()

	result := &BulkApplyResult{}
	for _, tx := range batch {
		merchant := ""
		if tx.Merchant != nil {
			merchant = *tx.Merchant
		}

		assignment := s.cfg.Engine.Categorize(ctx, &engine.Candidate{
			HouseholdID: householdID,
			Description: tx.Description,
			Merchant:    merchant,
			Amount:      tx.Amount,
			Direction:   tx.Direction,
		}, rules)
		if assignment.CategoryID == "" {
			continue
		}

		if err := s.cfg.Transactions.SetCategory(ctx, householdID, tx.ID, &assignment.CategoryID, assignment.Source, assignment.Confidence, false); err != nil {
			s.logger.WithError(err).WithField("transactionId", tx.ID).Error("Failed to set category")
			continue
		}
		result.Updated++
	}

	remaining, err := s.cfg.Transactions.CountUncategorized(ctx, householdID)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to count remaining", err)
	}
	result.Remaining = remaining

	return result, nil
}
