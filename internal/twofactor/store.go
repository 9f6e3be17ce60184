// Package twofactor provides the short-lived session store that bridges the
// initiate and complete steps of a provider's one-time-code exchange.
//
// A session is created by InitTwoFactor, consumed exactly once by
// CompleteTwoFactor, and deleted regardless of outcome. Sessions expire after
// a finite TTL even when never completed. The store is injected rather than
// global so multi-instance deployments can swap in the Redis implementation
// and tests can use a deterministic in-memory one.
package twofactor

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrSessionExpired is returned when a session is missing, already consumed,
// or past its TTL. Callers must surface it as a distinguishable
// session-expired failure, never proceed silently.
var ErrSessionExpired = errors.New("two-factor session expired or already used")

// SessionState holds the provider-specific intermediate context between the
// initiate and complete steps of a two-factor exchange.
type SessionState struct {
	ProviderTag string    `json:"providerTag"`
	DeviceToken string    `json:"deviceToken"`
	OTPContext  string    `json:"otpContext"`
	CreatedAt   time.Time `json:"createdAt"`
}

// SessionStore maps session identifiers to intermediate two-factor state
type SessionStore interface {
	// Put stores session state under sessionID with the store's TTL
	Put(ctx context.Context, sessionID string, state *SessionState) error

	// Consume retrieves and deletes the state for sessionID in one step.
	// A second Consume of the same sessionID returns ErrSessionExpired.
	Consume(ctx context.Context, sessionID string) (*SessionState, error)
}

// memoryEntry wraps session state with its expiry deadline
type memoryEntry struct {
	state     *SessionState
	expiresAt time.Time
}

// MemoryStore is an in-process SessionStore for single-instance deployments
// and tests. Expired entries are dropped lazily on Consume and swept by a
// background janitor.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*memoryEntry
	ttl      time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewMemoryStore creates a memory store with the given session TTL
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	s := &MemoryStore{
		sessions: make(map[string]*memoryEntry),
		ttl:      ttl,
		stopCh:   make(chan struct{}),
	}

	go s.janitor()

	return s
}

// Put stores session state under sessionID
func (s *MemoryStore) Put(ctx context.Context, sessionID string, state *SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[sessionID] = &memoryEntry{
		state:     state,
		expiresAt: time.Now().Add(s.ttl),
	}

	return nil
}

// Consume retrieves and deletes the state for sessionID
func (s *MemoryStore) Consume(ctx context.Context, sessionID string) (*SessionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionExpired
	}

	delete(s.sessions, sessionID)

	if time.Now().After(entry.expiresAt) {
		return nil, ErrSessionExpired
	}

	return entry.state, nil
}

// Close stops the background janitor
func (s *MemoryStore) Close() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
}

// janitor periodically sweeps expired sessions so abandoned flows do not
// accumulate for the life of the process
func (s *MemoryStore) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			s.mu.Lock()
			for id, entry := range s.sessions {
				if now.After(entry.expiresAt) {
					delete(s.sessions, id)
				}
			}
			s.mu.Unlock()
		case <-s.stopCh:
			return
		}
	}
}
