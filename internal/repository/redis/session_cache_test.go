package redis

import (
	"context"
	"testing"
	"time"

	"auth-service/internal/client"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSessionCache(t *testing.T) *SessionCache {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return NewSessionCache(&client.RedisClient{Client: rdb})
}

func liveSession(userID uuid.UUID) *CachedSession {
	return &CachedSession{
		UserID:    userID,
		DeviceID:  "device-1",
		Role:      "user",
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	}
}

func TestCacheSessionRoundtrip(t *testing.T) {
	cache := newTestSessionCache(t)
	ctx := context.Background()
	sessionID := uuid.New()
	userID := uuid.New()

	require.NoError(t, cache.CacheSession(ctx, sessionID, liveSession(userID)))

	cached, err := cache.Session(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, userID, cached.UserID)
	assert.Equal(t, "device-1", cached.DeviceID)
	assert.False(t, cached.Revoked)
}

func TestSessionMissForUnknownID(t *testing.T) {
	cache := newTestSessionCache(t)

	_, err := cache.Session(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMarkRevokedWritesTombstone(t *testing.T) {
	cache := newTestSessionCache(t)
	ctx := context.Background()
	sessionID := uuid.New()

	require.NoError(t, cache.CacheSession(ctx, sessionID, liveSession(uuid.New())))
	require.NoError(t, cache.MarkRevoked(ctx, 15*time.Minute, sessionID))

	cached, err := cache.Session(ctx, sessionID)
	require.NoError(t, err)
	assert.True(t, cached.Revoked)
}

func TestCacheSessionCannotOverwriteTombstone(t *testing.T) {
	cache := newTestSessionCache(t)
	ctx := context.Background()
	sessionID := uuid.New()
	session := liveSession(uuid.New())

	require.NoError(t, cache.CacheSession(ctx, sessionID, session))
	require.NoError(t, cache.MarkRevoked(ctx, 15*time.Minute, sessionID))

	// A writer holding a pre-revocation row loses to the tombstone.
	require.NoError(t, cache.CacheSession(ctx, sessionID, session))

	cached, err := cache.Session(ctx, sessionID)
	require.NoError(t, err)
	assert.True(t, cached.Revoked)
}

func TestMarkRevokedTombstonesUncachedSession(t *testing.T) {
	cache := newTestSessionCache(t)
	ctx := context.Background()
	sessionID := uuid.New()

	// Revoking an id with no cache entry still plants the tombstone,
	// so a later stale write cannot claim the slot.
	require.NoError(t, cache.MarkRevoked(ctx, 15*time.Minute, sessionID))
	require.NoError(t, cache.CacheSession(ctx, sessionID, liveSession(uuid.New())))

	cached, err := cache.Session(ctx, sessionID)
	require.NoError(t, err)
	assert.True(t, cached.Revoked)
}
