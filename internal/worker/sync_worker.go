// Package worker runs the periodic background sync over every household
// with active connections.
package worker

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/household-ledger/internal/syncer"
)

// HouseholdLister enumerates the households the worker should sync
type HouseholdLister interface {
	ListHouseholdsWithActiveConnections(ctx context.Context) ([]string, error)
}

// HouseholdSyncer runs a full sync for one household
type HouseholdSyncer interface {
	SyncAll(ctx context.Context, householdID string) (*syncer.HouseholdSyncResult, error)
}

// SyncWorker periodically syncs every household's active connections
type SyncWorker struct {
	syncService  HouseholdSyncer
	households   HouseholdLister
	pollInterval time.Duration

	running        bool
	mu             sync.RWMutex
	stopCh         chan struct{}
	doneCh         chan struct{}
	lastPollTime   time.Time
	lastSyncCounts map[string]int
}

// SyncWorkerConfig holds configuration for the sync worker
type SyncWorkerConfig struct {
	SyncService  HouseholdSyncer
	Households   HouseholdLister
	PollInterval time.Duration // default: 6 hours
}

// NewSyncWorker creates a new sync worker
func NewSyncWorker(cfg *SyncWorkerConfig) (*SyncWorker, error) {
	if cfg.SyncService == nil {
		return nil, fmt.Errorf("sync service cannot be nil")
	}
	if cfg.Households == nil {
		return nil, fmt.Errorf("household lister cannot be nil")
	}

	pollInterval := cfg.PollInterval
	if pollInterval == 0 {
		pollInterval = 6 * time.Hour
	}
	if pollInterval < time.Minute {
		return nil, fmt.Errorf("poll interval must be at least one minute, got %v", pollInterval)
	}

	return &SyncWorker{
		syncService:    cfg.SyncService,
		households:     cfg.Households,
		pollInterval:   pollInterval,
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
		lastSyncCounts: make(map[string]int),
	}, nil
}

// Start begins the polling loop
func (w *SyncWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("sync worker is already running")
	}
	w.running = true
	w.mu.Unlock()

	log.Printf("[SyncWorker] Starting with poll interval %v", w.pollInterval)

	go w.pollLoop(ctx)

	return nil
}

// Stop gracefully stops the sync worker
func (w *SyncWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return fmt.Errorf("sync worker is not running")
	}
	w.mu.Unlock()

	log.Printf("[SyncWorker] Stopping")
	close(w.stopCh)

	select {
	case <-w.doneCh:
		log.Printf("[SyncWorker] Stopped gracefully")
	case <-ctx.Done():
		log.Printf("[SyncWorker] Stop timed out")
		return ctx.Err()
	case <-time.After(30 * time.Second):
		return fmt.Errorf("stop timeout")
	}

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	return nil
}

// pollLoop is the main polling loop that runs in a goroutine
func (w *SyncWorker) pollLoop(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[SyncWorker] Context cancelled")
			return
		case <-w.stopCh:
			log.Printf("[SyncWorker] Stop signal received")
			return
		case <-ticker.C:
			w.mu.Lock()
			w.lastPollTime = time.Now()
			w.mu.Unlock()

			if err := w.SyncOnce(ctx); err != nil {
				// Continue polling despite errors
				log.Printf("[SyncWorker] Sync cycle error: %v", err)
			}
		}
	}
}

// SyncOnce runs one sync cycle over every household with active
// connections. One household's failure never blocks the others.
func (w *SyncWorker) SyncOnce(ctx context.Context) error {
	households, err := w.households.ListHouseholdsWithActiveConnections(ctx)
	if err != nil {
		return fmt.Errorf("failed to list households: %w", err)
	}

	var firstErr error
	for _, householdID := range households {
		result, err := w.syncService.SyncAll(ctx, householdID)
		if err != nil {
			log.Printf("[SyncWorker] Household %s: sync failed: %v", householdID, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		added := 0
		for _, r := range result.Results {
			added += r.TransactionsNew
		}
		w.mu.Lock()
		w.lastSyncCounts[householdID] = added
		w.mu.Unlock()

		if result.Failed > 0 {
			log.Printf("[SyncWorker] Household %s: %d connections synced, %d failed, %d new transactions",
				householdID, result.Succeeded, result.Failed, added)
		} else if added > 0 {
			log.Printf("[SyncWorker] Household %s: imported %d new transactions", householdID, added)
		}
	}

	return firstErr
}

// WorkerStatus reports the worker's current state
type WorkerStatus struct {
	Running      bool           `json:"running"`
	PollInterval string         `json:"pollInterval"`
	LastPollTime time.Time      `json:"lastPollTime"`
	LastSyncNew  map[string]int `json:"lastSyncNew"`
}

// GetStatus returns the worker's current status
func (w *SyncWorker) GetStatus() *WorkerStatus {
	w.mu.RLock()
	defer w.mu.RUnlock()

	counts := make(map[string]int, len(w.lastSyncCounts))
	for k, v := range w.lastSyncCounts {
		counts[k] = v
	}

	return &WorkerStatus{
		Running:      w.running,
		PollInterval: w.pollInterval.String(),
		LastPollTime: w.lastPollTime,
		LastSyncNew:  counts,
	}
}
