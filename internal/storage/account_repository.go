package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/household-ledger/internal/models"
)

// AccountRepository handles account persistence
type AccountRepository struct {
	db *PostgresDB
}

// NewAccountRepository creates a new account repository
func NewAccountRepository(db *PostgresDB) *AccountRepository {
	return &AccountRepository{db: db}
}

// Create creates a new account record
func (r *AccountRepository) Create(ctx context.Context, account *models.Account) error {
	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	account.CreatedAt = time.Now().UTC()

	query := `
		INSERT INTO accounts (id, household_id, name, type, external_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.Pool().Exec(ctx, query,
		account.ID,
		account.HouseholdID,
		account.Name,
		account.Type,
		account.ExternalID,
		account.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

// GetByID retrieves an account by ID scoped to a household
func (r *AccountRepository) GetByID(ctx context.Context, householdID, accountID string) (*models.Account, error) {
	query := `
		SELECT id, household_id, name, type, external_id, created_at
		FROM accounts
		WHERE id = $1 AND household_id = $2
	`

	var account models.Account
	err := r.db.Pool().QueryRow(ctx, query, accountID, householdID).Scan(
		&account.ID,
		&account.HouseholdID,
		&account.Name,
		&account.Type,
		&account.ExternalID,
		&account.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &account, nil
}

// GetByExternalID retrieves a household's account by its provider-side
// identifier. Used during import to reuse previously auto-provisioned
// accounts.
func (r *AccountRepository) GetByExternalID(ctx context.Context, householdID, externalID string) (*models.Account, error) {
	query := `
		SELECT id, household_id, name, type, external_id, created_at
		FROM accounts
		WHERE household_id = $1 AND external_id = $2
	`

	var account models.Account
	err := r.db.Pool().QueryRow(ctx, query, householdID, externalID).Scan(
		&account.ID,
		&account.HouseholdID,
		&account.Name,
		&account.Type,
		&account.ExternalID,
		&account.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get account by external id: %w", err)
	}
	return &account, nil
}

// ListByHousehold retrieves all accounts for a household
func (r *AccountRepository) ListByHousehold(ctx context.Context, householdID string) ([]*models.Account, error) {
	query := `
		SELECT id, household_id, name, type, external_id, created_at
		FROM accounts
		WHERE household_id = $1
		ORDER BY created_at
	`

	rows, err := r.db.Pool().Query(ctx, query, householdID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*models.Account
	for rows.Next() {
		var account models.Account
		err := rows.Scan(
			&account.ID,
			&account.HouseholdID,
			&account.Name,
			&account.Type,
			&account.ExternalID,
			&account.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, &account)
	}
	return accounts, rows.Err()
}
