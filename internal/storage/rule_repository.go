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

// RuleRepository handles categorization rule persistence
type RuleRepository struct {
	db *PostgresDB
}

// NewRuleRepository creates a new rule repository
func NewRuleRepository(db *PostgresDB) *RuleRepository {
	return &RuleRepository{db: db}
}

const ruleColumns = `id, household_id, kind, pattern, category_id, priority, active, provenance, created_at`

func scanRule(row pgx.Row) (*models.CategoryRule, error) {
	var rule models.CategoryRule
	err := row.Scan(
		&rule.ID,
		&rule.HouseholdID,
		&rule.Kind,
		&rule.Pattern,
		&rule.CategoryID,
		&rule.Priority,
		&rule.Active,
		&rule.Provenance,
		&rule.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

// Create creates a new rule record
func (r *RuleRepository) Create(ctx context.Context, rule *models.CategoryRule) error {
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	rule.CreatedAt = time.Now().UTC()

	query := `
		INSERT INTO category_rules (id, household_id, kind, pattern, category_id, priority, active, provenance, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.Pool().Exec(ctx, query,
		rule.ID,
		rule.HouseholdID,
		rule.Kind,
		rule.Pattern,
		rule.CategoryID,
		rule.Priority,
		rule.Active,
		rule.Provenance,
		rule.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create rule: %w", err)
	}
	return nil
}

// GetByID retrieves a rule by ID scoped to a household
func (r *RuleRepository) GetByID(ctx context.Context, householdID, ruleID string) (*models.CategoryRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM category_rules WHERE id = $1 AND household_id = $2`

	rule, err := scanRule(r.db.Pool().QueryRow(ctx, query, ruleID, householdID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return rule, nil
}

// ListActive retrieves a household's active rules. Ordering is left to the
// categorization engine, which ranks matches by priority and matcher kind.
func (r *RuleRepository) ListActive(ctx context.Context, householdID string) ([]*models.CategoryRule, error) {
	query := `
		SELECT ` + ruleColumns + `
		FROM category_rules
		WHERE household_id = $1 AND active = true
		ORDER BY priority DESC, created_at
	`

	rows, err := r.db.Pool().Query(ctx, query, householdID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var rules []*models.CategoryRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// Deactivate disables a rule without deleting it
func (r *RuleRepository) Deactivate(ctx context.Context, householdID, ruleID string) error {
	query := `UPDATE category_rules SET active = false WHERE id = $1 AND household_id = $2`

	result, err := r.db.Pool().Exec(ctx, query, ruleID, householdID)
	if err != nil {
		return fmt.Errorf("failed to deactivate rule: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("rule not found: %s", ruleID)
	}
	return nil
}
