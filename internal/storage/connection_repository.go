package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/household-ledger/internal/models"
	"github.com/household-ledger/internal/types"
)

// ConnectionRepository handles bank connection persistence
type ConnectionRepository struct {
	db *PostgresDB
}

// NewConnectionRepository creates a new connection repository
func NewConnectionRepository(db *PostgresDB) *ConnectionRepository {
	return &ConnectionRepository{db: db}
}

const connectionColumns = `
	id, household_id, provider_tag, display_name, encrypted_credentials,
	encrypted_token, active, account_mapping, last_sync_at, last_sync_status,
	created_at, updated_at
`

func scanConnection(row pgx.Row) (*models.Connection, error) {
	var conn models.Connection
	var mapping []byte

	err := row.Scan(
		&conn.ID,
		&conn.HouseholdID,
		&conn.ProviderTag,
		&conn.DisplayName,
		&conn.EncryptedCredentials,
		&conn.EncryptedToken,
		&conn.Active,
		&mapping,
		&conn.LastSyncAt,
		&conn.LastSyncStatus,
		&conn.CreatedAt,
		&conn.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(mapping) > 0 {
		if err := json.Unmarshal(mapping, &conn.AccountMapping); err != nil {
			return nil, fmt.Errorf("failed to decode account mapping: %w", err)
		}
	}

	return &conn, nil
}

// Create creates a new connection record
func (r *ConnectionRepository) Create(ctx context.Context, conn *models.Connection) error {
	if conn.ID == "" {
		conn.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	conn.CreatedAt = now
	conn.UpdatedAt = now
	conn.Active = true

	mapping, err := json.Marshal(conn.AccountMapping)
	if err != nil {
		return fmt.Errorf("failed to encode account mapping: %w", err)
	}

	query := `
		INSERT INTO connections (
			id, household_id, provider_tag, display_name, encrypted_credentials,
			encrypted_token, active, account_mapping, last_sync_at, last_sync_status,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err = r.db.Pool().Exec(ctx, query,
		conn.ID,
		conn.HouseholdID,
		conn.ProviderTag,
		conn.DisplayName,
		conn.EncryptedCredentials,
		conn.EncryptedToken,
		conn.Active,
		mapping,
		conn.LastSyncAt,
		conn.LastSyncStatus,
		conn.CreatedAt,
		conn.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create connection: %w", err)
	}
	return nil
}

// GetByID retrieves a connection by ID scoped to a household
func (r *ConnectionRepository) GetByID(ctx context.Context, householdID, connectionID string) (*models.Connection, error) {
	query := `SELECT` + connectionColumns + `FROM connections WHERE id = $1 AND household_id = $2`

	conn, err := scanConnection(r.db.Pool().QueryRow(ctx, query, connectionID, householdID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Not found, return nil without error
		}
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	return conn, nil
}

// ListByHousehold retrieves all connections for a household
func (r *ConnectionRepository) ListByHousehold(ctx context.Context, householdID string) ([]*models.Connection, error) {
	query := `SELECT` + connectionColumns + `FROM connections WHERE household_id = $1 ORDER BY created_at`
	return r.list(ctx, query, householdID)
}

// ListActive retrieves the active connections for a household
func (r *ConnectionRepository) ListActive(ctx context.Context, householdID string) ([]*models.Connection, error) {
	query := `SELECT` + connectionColumns + `FROM connections WHERE household_id = $1 AND active = true ORDER BY created_at`
	return r.list(ctx, query, householdID)
}

func (r *ConnectionRepository) list(ctx context.Context, query string, args ...any) ([]*models.Connection, error) {
	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	defer rows.Close()

	var conns []*models.Connection
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan connection: %w", err)
		}
		conns = append(conns, conn)
	}
	return conns, rows.Err()
}

// ListHouseholdsWithActiveConnections returns the distinct household IDs
// that have at least one active connection. The background worker uses this
// to decide which households to sync.
func (r *ConnectionRepository) ListHouseholdsWithActiveConnections(ctx context.Context) ([]string, error) {
	query := `SELECT DISTINCT household_id FROM connections WHERE active = true ORDER BY household_id`

	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list households: %w", err)
	}
	defer rows.Close()

	var households []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan household id: %w", err)
		}
		households = append(households, id)
	}
	return households, rows.Err()
}

// Deactivate marks a connection inactive so the background worker skips it.
// The connection stays visible for manual retry after re-authentication.
func (r *ConnectionRepository) Deactivate(ctx context.Context, connectionID string) error {
	query := `UPDATE connections SET active = false, updated_at = $2 WHERE id = $1`

	result, err := r.db.Pool().Exec(ctx, query, connectionID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to deactivate connection: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("connection not found: %s", connectionID)
	}
	return nil
}

// Reactivate marks a connection active again after re-authentication
func (r *ConnectionRepository) Reactivate(ctx context.Context, connectionID string) error {
	query := `UPDATE connections SET active = true, updated_at = $2 WHERE id = $1`

	result, err := r.db.Pool().Exec(ctx, query, connectionID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to reactivate connection: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("connection not found: %s", connectionID)
	}
	return nil
}

// UpdateLastSync records a successful sync. last_sync_at anchors the next
// fetch window, so only success may advance it; failed attempts go through
// UpdateSyncStatus instead.
func (r *ConnectionRepository) UpdateLastSync(ctx context.Context, connectionID string, status types.SyncJobStatus, at time.Time) error {
	query := `
		UPDATE connections
		SET last_sync_at = $2, last_sync_status = $3, updated_at = $4
		WHERE id = $1
	`

	result, err := r.db.Pool().Exec(ctx, query, connectionID, at, string(status), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update last sync: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("connection not found: %s", connectionID)
	}
	return nil
}

// UpdateSyncStatus records the outcome of a failed sync attempt without
// touching last_sync_at
func (r *ConnectionRepository) UpdateSyncStatus(ctx context.Context, connectionID string, status types.SyncJobStatus) error {
	query := `
		UPDATE connections
		SET last_sync_status = $2, updated_at = $3
		WHERE id = $1
	`

	result, err := r.db.Pool().Exec(ctx, query, connectionID, string(status), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update sync status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("connection not found: %s", connectionID)
	}
	return nil
}

// SetLongLivedToken stores the encrypted long-lived token obtained from a
// completed two-factor exchange
func (r *ConnectionRepository) SetLongLivedToken(ctx context.Context, connectionID string, encryptedToken string) error {
	query := `UPDATE connections SET encrypted_token = $2, updated_at = $3 WHERE id = $1`

	result, err := r.db.Pool().Exec(ctx, query, connectionID, encryptedToken, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set long-lived token: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("connection not found: %s", connectionID)
	}
	return nil
}

// ClearLongLivedToken drops a token the provider rejected
func (r *ConnectionRepository) ClearLongLivedToken(ctx context.Context, connectionID string) error {
	query := `UPDATE connections SET encrypted_token = NULL, updated_at = $2 WHERE id = $1`

	_, err := r.db.Pool().Exec(ctx, query, connectionID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to clear long-lived token: %w", err)
	}
	return nil
}

// SetAccountMapping replaces the external-to-internal account mapping
func (r *ConnectionRepository) SetAccountMapping(ctx context.Context, connectionID string, mapping map[string]string) error {
	encoded, err := json.Marshal(mapping)
	if err != nil {
		return fmt.Errorf("failed to encode account mapping: %w", err)
	}

	query := `UPDATE connections SET account_mapping = $2, updated_at = $3 WHERE id = $1`

	result, err := r.db.Pool().Exec(ctx, query, connectionID, encoded, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set account mapping: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("connection not found: %s", connectionID)
	}
	return nil
}
