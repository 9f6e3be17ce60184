package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/household-ledger/internal/models"
	"github.com/household-ledger/internal/types"
)

// TransactionRepository handles transaction persistence.
//
// Amounts are stored as NUMERIC and travel as strings between Go and
// Postgres so no precision is lost. The processing flag is only ever set
// through ClaimProcessing, which is an atomic conditional update; callers
// that hold a claim release it with ReleaseProcessing when done.
type TransactionRepository struct {
	db *PostgresDB
}

// NewTransactionRepository creates a new transaction repository
func NewTransactionRepository(db *PostgresDB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

const transactionColumns = `
	id, household_id, account_id, date, description, merchant, amount::text,
	direction, external_id, category_id, source, confidence, needs_review,
	processing, ignored, created_at
`

func scanTransaction(row pgx.Row) (*models.Transaction, error) {
	var tx models.Transaction
	var amount string

	err := row.Scan(
		&tx.ID,
		&tx.HouseholdID,
		&tx.AccountID,
		&tx.Date,
		&tx.Description,
		&tx.Merchant,
		&amount,
		&tx.Direction,
		&tx.ExternalID,
		&tx.CategoryID,
		&tx.Source,
		&tx.Confidence,
		&tx.NeedsReview,
		&tx.Processing,
		&tx.Ignored,
		&tx.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	tx.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("failed to parse stored amount %q: %w", amount, err)
	}
	return &tx, nil
}

// Create creates a new transaction record
func (r *TransactionRepository) Create(ctx context.Context, tx *models.Transaction) error {
	if tx.ID == "" {
		tx.ID = uuid.New().String()
	}
	tx.CreatedAt = time.Now().UTC()

	query := `
		INSERT INTO transactions (
			id, household_id, account_id, date, description, merchant, amount,
			direction, external_id, category_id, source, confidence, needs_review,
			processing, ignored, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`

	_, err := r.db.Pool().Exec(ctx, query,
		tx.ID,
		tx.HouseholdID,
		tx.AccountID,
		tx.Date,
		tx.Description,
		tx.Merchant,
		tx.Amount.String(),
		tx.Direction,
		tx.ExternalID,
		tx.CategoryID,
		tx.Source,
		tx.Confidence,
		tx.NeedsReview,
		tx.Processing,
		tx.Ignored,
		tx.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

// GetByID retrieves a transaction by ID scoped to a household
func (r *TransactionRepository) GetByID(ctx context.Context, householdID, transactionID string) (*models.Transaction, error) {
	query := `SELECT` + transactionColumns + `FROM transactions WHERE id = $1 AND household_id = $2`

	tx, err := scanTransaction(r.db.Pool().QueryRow(ctx, query, transactionID, householdID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return tx, nil
}

// ExistingExternalIDs returns which of the given external IDs already exist
// for a household. The sync orchestrator uses this to skip already-imported
// provider transactions.
func (r *TransactionRepository) ExistingExternalIDs(ctx context.Context, householdID string, externalIDs []string) (map[string]bool, error) {
	existing := make(map[string]bool, len(externalIDs))
	if len(externalIDs) == 0 {
		return existing, nil
	}

	query := `
		SELECT external_id
		FROM transactions
		WHERE household_id = $1 AND external_id = ANY($2)
	`

	rows, err := r.db.Pool().Query(ctx, query, householdID, externalIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to check external ids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan external id: %w", err)
		}
		existing[id] = true
	}
	return existing, rows.Err()
}

// SetCategory assigns a category to a transaction
func (r *TransactionRepository) SetCategory(ctx context.Context, householdID, transactionID string, categoryID *string, source types.CategorizationSource, confidence float64, needsReview bool) error {
	query := `
		UPDATE transactions
		SET category_id = $3, source = $4, confidence = $5, needs_review = $6
		WHERE id = $1 AND household_id = $2
	`

	result, err := r.db.Pool().Exec(ctx, query,
		transactionID, householdID, categoryID, string(source), confidence, needsReview,
	)
	if err != nil {
		return fmt.Errorf("failed to set category: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("transaction not found: %s", transactionID)
	}
	return nil
}

// ClaimProcessing atomically claims a transaction for categorization.
// Returns false when the transaction is already claimed by another pass.
func (r *TransactionRepository) ClaimProcessing(ctx context.Context, householdID, transactionID string) (bool, error) {
	query := `
		UPDATE transactions
		SET processing = true
		WHERE id = $1 AND household_id = $2 AND processing = false
	`

	result, err := r.db.Pool().Exec(ctx, query, transactionID, householdID)
	if err != nil {
		return false, fmt.Errorf("failed to claim transaction: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// ClaimUncategorizedBatch atomically claims up to limit unclaimed,
// uncategorized transactions for a household and returns them. Rows locked
// by a concurrent claim are skipped rather than waited on.
func (r *TransactionRepository) ClaimUncategorizedBatch(ctx context.Context, householdID string, limit int) ([]*models.Transaction, error) {
	query := `
		UPDATE transactions
		SET processing = true
		WHERE id IN (
			SELECT id FROM transactions
			WHERE household_id = $1 AND category_id IS NULL
				AND processing = false AND ignored = false
			ORDER BY date, id
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING` + transactionColumns

	rows, err := r.db.Pool().Query(ctx, query, householdID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim transaction batch: %w", err)
	}
	defer rows.Close()

	var txs []*models.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// ReleaseProcessing clears the processing claim on the given transactions
func (r *TransactionRepository) ReleaseProcessing(ctx context.Context, householdID string, transactionIDs ...string) error {
	if len(transactionIDs) == 0 {
		return nil
	}

	query := `
		UPDATE transactions
		SET processing = false
		WHERE household_id = $1 AND id = ANY($2)
	`

	_, err := r.db.Pool().Exec(ctx, query, householdID, transactionIDs)
	if err != nil {
		return fmt.Errorf("failed to release transactions: %w", err)
	}
	return nil
}

// CountUncategorized counts the transactions still waiting for a category
func (r *TransactionRepository) CountUncategorized(ctx context.Context, householdID string) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM transactions
		WHERE household_id = $1 AND category_id IS NULL AND ignored = false
	`

	var count int
	if err := r.db.Pool().QueryRow(ctx, query, householdID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count uncategorized transactions: %w", err)
	}
	return count, nil
}

// ListByAccount retrieves transactions for an account, newest first
func (r *TransactionRepository) ListByAccount(ctx context.Context, householdID, accountID string, limit, offset int) ([]*models.Transaction, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT` + transactionColumns + `
		FROM transactions
		WHERE household_id = $1 AND account_id = $2
		ORDER BY date DESC, id
		LIMIT $3 OFFSET $4
	`

	rows, err := r.db.Pool().Query(ctx, query, householdID, accountID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var txs []*models.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}
