package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/household-ledger/internal/models"
	"github.com/household-ledger/internal/types"
)

// SyncJobRepository handles sync job persistence
type SyncJobRepository struct {
	db *PostgresDB
}

// NewSyncJobRepository creates a new sync job repository
func NewSyncJobRepository(db *PostgresDB) *SyncJobRepository {
	return &SyncJobRepository{db: db}
}

// Create creates a sync job in running state
func (r *SyncJobRepository) Create(ctx context.Context, connectionID string) (*models.SyncJob, error) {
	job := &models.SyncJob{
		ID:           uuid.New().String(),
		ConnectionID: connectionID,
		Status:       types.JobRunning,
		StartedAt:    time.Now().UTC(),
	}

	query := `
		INSERT INTO sync_jobs (id, connection_id, status, transactions_found, transactions_new, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.Pool().Exec(ctx, query,
		job.ID,
		job.ConnectionID,
		job.Status,
		job.TransactionsFound,
		job.TransactionsNew,
		job.StartedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync job: %w", err)
	}
	return job, nil
}

// Complete moves a running job to its terminal state. Jobs only move
// forward: completing an already-completed job is rejected.
func (r *SyncJobRepository) Complete(ctx context.Context, jobID string, status types.SyncJobStatus, found, added int, errorMessage *string) error {
	if status != types.JobSuccess && status != types.JobError {
		return fmt.Errorf("invalid terminal status: %s", status)
	}

	query := `
		UPDATE sync_jobs
		SET status = $2, transactions_found = $3, transactions_new = $4,
			error_message = $5, completed_at = $6
		WHERE id = $1 AND status = $7
	`

	result, err := r.db.Pool().Exec(ctx, query,
		jobID, status, found, added, errorMessage, time.Now().UTC(), types.JobRunning,
	)
	if err != nil {
		return fmt.Errorf("failed to complete sync job: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("sync job not running: %s", jobID)
	}
	return nil
}

// GetByID retrieves a sync job by ID
func (r *SyncJobRepository) GetByID(ctx context.Context, jobID string) (*models.SyncJob, error) {
	query := `
		SELECT id, connection_id, status, transactions_found, transactions_new,
			   error_message, started_at, completed_at
		FROM sync_jobs
		WHERE id = $1
	`

	var job models.SyncJob
	err := r.db.Pool().QueryRow(ctx, query, jobID).Scan(
		&job.ID,
		&job.ConnectionID,
		&job.Status,
		&job.TransactionsFound,
		&job.TransactionsNew,
		&job.ErrorMessage,
		&job.StartedAt,
		&job.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get sync job: %w", err)
	}
	return &job, nil
}

// ListByConnection retrieves the most recent sync jobs for a connection
func (r *SyncJobRepository) ListByConnection(ctx context.Context, connectionID string, limit int) ([]*models.SyncJob, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, connection_id, status, transactions_found, transactions_new,
			   error_message, started_at, completed_at
		FROM sync_jobs
		WHERE connection_id = $1
		ORDER BY started_at DESC
		LIMIT $2
	`

	rows, err := r.db.Pool().Query(ctx, query, connectionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.SyncJob
	for rows.Next() {
		var job models.SyncJob
		err := rows.Scan(
			&job.ID,
			&job.ConnectionID,
			&job.Status,
			&job.TransactionsFound,
			&job.TransactionsNew,
			&job.ErrorMessage,
			&job.StartedAt,
			&job.CompletedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync job: %w", err)
		}
		jobs = append(jobs, &job)
	}
	return jobs, rows.Err()
}
