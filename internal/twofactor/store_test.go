package twofactor

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testState() *SessionState {
	return &SessionState{
		ProviderTag: "otpbank",
		DeviceToken: "device-1",
		OTPContext:  "ctx-1",
		CreatedAt:   time.Now().UTC(),
	}
}

func TestMemoryStoreConsumeOnce(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "s1", testState()))

	state, err := store.Consume(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "device-1", state.DeviceToken)
	assert.Equal(t, "ctx-1", state.OTPContext)

	// Second consume of the same session must fail, not issue state again
	_, err = store.Consume(ctx, "s1")
	assert.ErrorIs(t, err, ErrSessionExpired)
}

func TestMemoryStoreMissingSession(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	defer store.Close()

	_, err := store.Consume(context.Background(), "never-created")
	assert.ErrorIs(t, err, ErrSessionExpired)
}

func TestMemoryStoreTTLExpiry(t *testing.T) {
	store := NewMemoryStore(10 * time.Millisecond)
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "s1", testState()))
	time.Sleep(30 * time.Millisecond)

	_, err := store.Consume(ctx, "s1")
	assert.ErrorIs(t, err, ErrSessionExpired)
}

func setupRedisStore(t *testing.T, ttl time.Duration) *RedisStore {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	store, err := NewRedisStore(client, ttl)
	require.NoError(t, err)
	return store
}

func TestRedisStoreConsumeOnce(t *testing.T) {
	store := setupRedisStore(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "s1", testState()))

	state, err := store.Consume(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "otpbank", state.ProviderTag)
	assert.Equal(t, "device-1", state.DeviceToken)

	_, err = store.Consume(ctx, "s1")
	assert.ErrorIs(t, err, ErrSessionExpired)
}

func TestRedisStoreMissingSession(t *testing.T) {
	store := setupRedisStore(t, time.Minute)

	_, err := store.Consume(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSessionExpired)
}

func TestRedisStoreNilClient(t *testing.T) {
	_, err := NewRedisStore(nil, time.Minute)
	assert.Error(t, err)
}
