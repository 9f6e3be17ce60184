package models

import (
	"time"

	"github.com/household-ledger/internal/types"
)

// SyncJob represents one sync attempt for a connection.
// A job is always completed (success or error), even when the orchestrator
// fails partway; a job left in running state indicates a crashed process.
type SyncJob struct {
	ID                string              `json:"id" db:"id"`
	ConnectionID      string              `json:"connectionId" db:"connection_id"`
	Status            types.SyncJobStatus `json:"status" db:"status"`
	TransactionsFound int                 `json:"transactionsFound" db:"transactions_found"`
	TransactionsNew   int                 `json:"transactionsNew" db:"transactions_new"`
	ErrorMessage      *string             `json:"errorMessage,omitempty" db:"error_message"`
	StartedAt         time.Time           `json:"startedAt" db:"started_at"`
	CompletedAt       *time.Time          `json:"completedAt,omitempty" db:"completed_at"`
}

// Terminal reports whether the job has reached a final state
func (j *SyncJob) Terminal() bool {
	return j.Status == types.JobSuccess || j.Status == types.JobError
}
