package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"auth-service/internal/client"
	"auth-service/internal/util"

	"github.com/google/uuid"
)

const sessionPrefix = "session:"

// ErrCacheMiss means the session is not cached; fall through to Postgres.
var ErrCacheMiss = errors.New("session cache miss")

// CachedSession is the projection of a refresh token row kept in Redis
// for fast access-token validation. Postgres stays authoritative; the
// cache only short-circuits the happy path. A revoked entry is a
// tombstone: it answers "rejected" without a store round trip.
type CachedSession struct {
	UserID    uuid.UUID `json:"user_id"`
	DeviceID  string    `json:"device_id"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
	Revoked   bool      `json:"revoked,omitempty"`
}

type SessionCache struct {
	client *client.RedisClient
}

func NewSessionCache(client *client.RedisClient) *SessionCache {
	return &SessionCache{client: client}
}

func (c *SessionCache) CacheSession(ctx context.Context, sessionID uuid.UUID, session *CachedSession) error {
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return nil
	}

	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal cached session: %w", err)
	}

	// NX: an existing entry, revocation marker included, is left alone.
	// A plain SET here could overwrite a marker written between the
	// caller's store read and this write.
	key := sessionPrefix + sessionID.String()
	if _, err := c.client.SetNX(ctx, key, payload, ttl); err != nil {
		util.Warn("Failed to cache session",
			util.String("session_id", sessionID.String()),
			util.ErrorField(err))
		return err
	}
	return nil
}

func (c *SessionCache) Session(ctx context.Context, sessionID uuid.UUID) (*CachedSession, error) {
	key := sessionPrefix + sessionID.String()

	payload, err := c.client.Get(ctx, key)
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("get cached session: %w", err)
	}

	var session CachedSession
	if err := json.Unmarshal([]byte(payload), &session); err != nil {
		// Corrupt entry; drop it and treat as a miss.
		_ = c.client.Del(ctx, key)
		return nil, ErrCacheMiss
	}
	return &session, nil
}

// MarkRevoked replaces cached entries for revoked sessions with
// tombstones instead of deleting them. A deleted key would reopen the
// slot for a late CacheSession holding a pre-revocation row; the
// tombstone occupies it until every access token signed against the row
// has expired, which is why the caller passes the access token TTL.
func (c *SessionCache) MarkRevoked(ctx context.Context, ttl time.Duration, sessionIDs ...uuid.UUID) error {
	if len(sessionIDs) == 0 || ttl <= 0 {
		return nil
	}

	payload, err := json.Marshal(&CachedSession{Revoked: true})
	if err != nil {
		return fmt.Errorf("marshal revocation marker: %w", err)
	}

	for _, id := range sessionIDs {
		if err := c.client.Set(ctx, sessionPrefix+id.String(), payload, ttl); err != nil {
			util.Error("Failed to mark sessions revoked in cache",
				util.Int("session_count", len(sessionIDs)),
				util.ErrorField(err))
			return fmt.Errorf("mark sessions revoked: %w", err)
		}
	}

	util.Debug("Sessions marked revoked in cache", util.Int("session_count", len(sessionIDs)))
	return nil
}
