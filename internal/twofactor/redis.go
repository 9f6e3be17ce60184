package twofactor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a SessionStore backed by Redis, for deployments where
// two-factor flows are not pinned to a single process.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a Redis-backed session store
func NewRedisStore(client *redis.Client, ttl time.Duration) (*RedisStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	return &RedisStore{client: client, ttl: ttl}, nil
}

// sessionKey namespaces two-factor sessions in the shared Redis keyspace
func sessionKey(sessionID string) string {
	return "twofactor:session:" + sessionID
}

// Put stores session state under sessionID with the store's TTL
func (s *RedisStore) Put(ctx context.Context, sessionID string, state *SessionState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal session state: %w", err)
	}

	if err := s.client.Set(ctx, sessionKey(sessionID), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}

	return nil
}

// Consume retrieves and deletes the state for sessionID atomically via GETDEL,
// so two concurrent completions cannot both obtain the session.
func (s *RedisStore) Consume(ctx context.Context, sessionID string) (*SessionState, error) {
	payload, err := s.client.GetDel(ctx, sessionKey(sessionID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionExpired
		}
		return nil, fmt.Errorf("failed to consume session: %w", err)
	}

	var state SessionState
	if err := json.Unmarshal([]byte(payload), &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session state: %w", err)
	}

	return &state, nil
}
