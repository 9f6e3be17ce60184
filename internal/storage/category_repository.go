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

// CategoryRepository handles category tree persistence. A household sees
// the shared system categories plus its own.
type CategoryRepository struct {
	db *PostgresDB
}

// NewCategoryRepository creates a new category repository
func NewCategoryRepository(db *PostgresDB) *CategoryRepository {
	return &CategoryRepository{db: db}
}

// Seeded system categories carry a NULL household_id; it scans as ""
const categoryColumns = `id, COALESCE(household_id::text, ''), name, parent_id, type, system, created_at`

func scanCategory(row pgx.Row) (*models.Category, error) {
	var cat models.Category
	err := row.Scan(
		&cat.ID,
		&cat.HouseholdID,
		&cat.Name,
		&cat.ParentID,
		&cat.Type,
		&cat.System,
		&cat.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &cat, nil
}

// Create creates a new category record
func (r *CategoryRepository) Create(ctx context.Context, cat *models.Category) error {
	if cat.ID == "" {
		cat.ID = uuid.New().String()
	}
	cat.CreatedAt = time.Now().UTC()

	query := `
		INSERT INTO categories (id, household_id, name, parent_id, type, system, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.Pool().Exec(ctx, query,
		cat.ID,
		cat.HouseholdID,
		cat.Name,
		cat.ParentID,
		cat.Type,
		cat.System,
		cat.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create category: %w", err)
	}
	return nil
}

// GetByID retrieves a category visible to a household: one of its own or a
// shared system category
func (r *CategoryRepository) GetByID(ctx context.Context, householdID, categoryID string) (*models.Category, error) {
	query := `
		SELECT ` + categoryColumns + `
		FROM categories
		WHERE id = $1 AND (household_id = $2 OR system = true)
	`

	cat, err := scanCategory(r.db.Pool().QueryRow(ctx, query, categoryID, householdID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get category: %w", err)
	}
	return cat, nil
}

// FindByName finds a category visible to a household by case-insensitive
// name match. Household categories shadow system categories of the same
// name.
func (r *CategoryRepository) FindByName(ctx context.Context, householdID, name string) (*models.Category, error) {
	query := `
		SELECT ` + categoryColumns + `
		FROM categories
		WHERE lower(name) = lower($2) AND (household_id = $1 OR system = true)
		ORDER BY system
		LIMIT 1
	`

	cat, err := scanCategory(r.db.Pool().QueryRow(ctx, query, householdID, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find category by name: %w", err)
	}
	return cat, nil
}

// ListVisible retrieves the categories a household can use
func (r *CategoryRepository) ListVisible(ctx context.Context, householdID string) ([]*models.Category, error) {
	query := `
		SELECT ` + categoryColumns + `
		FROM categories
		WHERE household_id = $1 OR system = true
		ORDER BY name
	`

	rows, err := r.db.Pool().Query(ctx, query, householdID)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	defer rows.Close()

	var cats []*models.Category
	for rows.Next() {
		cat, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		cats = append(cats, cat)
	}
	return cats, rows.Err()
}

// DescendantIDs returns the IDs of a category and every category below it
// in the tree, walking parent links breadth-first. A visited set guards the
// walk against a corrupted tree with a parent cycle.
func (r *CategoryRepository) DescendantIDs(ctx context.Context, householdID, categoryID string) ([]string, error) {
	cats, err := r.ListVisible(ctx, householdID)
	if err != nil {
		return nil, err
	}

	children := make(map[string][]string, len(cats))
	for _, cat := range cats {
		if cat.ParentID != nil {
			children[*cat.ParentID] = append(children[*cat.ParentID], cat.ID)
		}
	}

	visited := map[string]bool{categoryID: true}
	ids := []string{categoryID}
	for i := 0; i < len(ids); i++ {
		for _, child := range children[ids[i]] {
			if !visited[child] {
				visited[child] = true
				ids = append(ids, child)
			}
		}
	}
	return ids, nil
}

// ValidateParentChange checks that moving a category under a new parent
// would not create a cycle: the new parent must not be the category itself
// or one of its descendants.
func (r *CategoryRepository) ValidateParentChange(ctx context.Context, householdID, categoryID, newParentID string) error {
	descendants, err := r.DescendantIDs(ctx, householdID, categoryID)
	if err != nil {
		return err
	}
	for _, id := range descendants {
		if id == newParentID {
			return fmt.Errorf("category %s cannot be moved under its own descendant %s", categoryID, newParentID)
		}
	}
	return nil
}

// UpdateParent moves a user category under a new parent after cycle
// validation. System categories are not movable.
func (r *CategoryRepository) UpdateParent(ctx context.Context, householdID, categoryID string, newParentID *string) error {
	if newParentID != nil {
		if err := r.ValidateParentChange(ctx, householdID, categoryID, *newParentID); err != nil {
			return err
		}
	}

	query := `UPDATE categories SET parent_id = $3 WHERE id = $1 AND household_id = $2 AND system = false`

	result, err := r.db.Pool().Exec(ctx, query, categoryID, householdID, newParentID)
	if err != nil {
		return fmt.Errorf("failed to update category parent: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("category not found or not editable: %s", categoryID)
	}
	return nil
}
