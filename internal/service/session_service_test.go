package service

import (
	"context"
	"testing"
	"time"

	"auth-service/internal/client"
	"auth-service/internal/config"
	"auth-service/internal/model"
	redisrepo "auth-service/internal/repository/redis"
	"auth-service/internal/token"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testJWTConfig() config.JWTConfig {
	return config.JWTConfig{
		AccessSecret:  "test-access-secret",
		RefreshSecret: "test-refresh-secret",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
		Issuer:        "auth-service",
	}
}

func testDevice() model.DeviceInfo {
	return model.DeviceInfo{
		DeviceID:   "device-1",
		DeviceName: "test phone",
		IPAddress:  "127.0.0.1",
		UserAgent:  "go-test",
	}
}

func newTestSessionService(t *testing.T) (*SessionService, *memStore) {
	t.Helper()
	store := newMemStore()
	tokens := token.NewManager(testJWTConfig())
	return NewSessionService(store, tokens, nil, nil), store
}

func newCachedSessionService(t *testing.T) (*SessionService, *memStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := newMemStore()
	tokens := token.NewManager(testJWTConfig())
	cache := redisrepo.NewSessionCache(&client.RedisClient{Client: rdb})
	return NewSessionService(store, tokens, cache, nil), store
}

func seedUser(t *testing.T, store *memStore) *model.User {
	t.Helper()
	email := "user@example.com"
	user := &model.User{
		ID:       uuid.New(),
		Email:    &email,
		Role:     model.RoleUser,
		IsActive: true,
	}
	require.NoError(t, store.CreateUser(context.Background(), user))
	return user
}

func TestIssueSessionBindsTokenToRow(t *testing.T) {
	svc, store := newTestSessionService(t)
	user := seedUser(t, store)
	ctx := context.Background()

	response, err := svc.IssueSession(ctx, user, testDevice())
	require.NoError(t, err)
	require.NotEmpty(t, response.AccessToken)
	require.NotEmpty(t, response.RefreshToken)
	assert.Equal(t, int((15 * time.Minute).Seconds()), response.ExpiresIn)

	// The access token's session id points at a live row.
	claims, err := svc.ValidateAccessToken(ctx, response.AccessToken)
	require.NoError(t, err)

	sessionID := uuid.MustParse(claims.SessionID)
	session, err := store.SessionByID(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, user.ID, session.UserID)
	assert.Equal(t, "device-1", session.DeviceID)
	assert.False(t, session.IsRevoked)
}

func TestIssueSessionRequiresDevice(t *testing.T) {
	svc, store := newTestSessionService(t)
	user := seedUser(t, store)

	_, err := svc.IssueSession(context.Background(), user, model.DeviceInfo{})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestValidateRejectsRevokedSession(t *testing.T) {
	svc, store := newTestSessionService(t)
	user := seedUser(t, store)
	ctx := context.Background()

	response, err := svc.IssueSession(ctx, user, testDevice())
	require.NoError(t, err)

	// A well-signed, unexpired token dies with its session row.
	_, err = store.RevokeSessions(ctx, user.ID, "")
	require.NoError(t, err)

	_, err = svc.ValidateAccessToken(ctx, response.AccessToken)
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestValidateAnswersFromCache(t *testing.T) {
	svc, store := newCachedSessionService(t)
	user := seedUser(t, store)
	ctx := context.Background()

	response, err := svc.IssueSession(ctx, user, testDevice())
	require.NoError(t, err)

	claims, err := svc.ValidateAccessToken(ctx, response.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID.String(), claims.UserID)

	require.NoError(t, svc.Logout(ctx, user.ID, testDevice().DeviceID))

	_, err = svc.ValidateAccessToken(ctx, response.AccessToken)
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestLogoutBeatsLateCacheWrite(t *testing.T) {
	svc, store := newCachedSessionService(t)
	user := seedUser(t, store)
	ctx := context.Background()

	response, err := svc.IssueSession(ctx, user, testDevice())
	require.NoError(t, err)

	claims, err := svc.ValidateAccessToken(ctx, response.AccessToken)
	require.NoError(t, err)
	sessionID := uuid.MustParse(claims.SessionID)

	// Snapshot the row the way a validator racing the logout sees it.
	store.mu.Lock()
	stale := *store.sessions[sessionID]
	store.mu.Unlock()

	require.NoError(t, svc.Logout(ctx, user.ID, testDevice().DeviceID))

	// The racing validator lands its cache write after the revocation.
	// The tombstone must survive it.
	svc.cacheSession(ctx, &stale, claims.Role)

	_, err = svc.ValidateAccessToken(ctx, response.AccessToken)
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestValidateRejectsGarbageToken(t *testing.T) {
	svc, _ := newTestSessionService(t)

	_, err := svc.ValidateAccessToken(context.Background(), "not-a-jwt")
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestRefreshRotatesSession(t *testing.T) {
	svc, store := newTestSessionService(t)
	user := seedUser(t, store)
	ctx := context.Background()

	first, err := svc.IssueSession(ctx, user, testDevice())
	require.NoError(t, err)

	second, err := svc.RefreshTokens(ctx, first.RefreshToken, testDevice())
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
	assert.NotEqual(t, first.AccessToken, second.AccessToken)

	// The old pair is dead on both paths.
	_, err = svc.RefreshTokens(ctx, first.RefreshToken, testDevice())
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	_, err = svc.ValidateAccessToken(ctx, first.AccessToken)
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	// The new pair works.
	_, err = svc.ValidateAccessToken(ctx, second.AccessToken)
	assert.NoError(t, err)
}

func TestRefreshRejectsDeviceMismatch(t *testing.T) {
	svc, store := newTestSessionService(t)
	user := seedUser(t, store)
	ctx := context.Background()

	response, err := svc.IssueSession(ctx, user, testDevice())
	require.NoError(t, err)

	other := testDevice()
	other.DeviceID = "device-2"

	_, err = svc.RefreshTokens(ctx, response.RefreshToken, other)
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestRefreshRejectsMissingDevice(t *testing.T) {
	svc, store := newTestSessionService(t)
	user := seedUser(t, store)
	ctx := context.Background()

	response, err := svc.IssueSession(ctx, user, testDevice())
	require.NoError(t, err)

	// Omitting the device id does not slip past the binding.
	_, err = svc.RefreshTokens(ctx, response.RefreshToken, model.DeviceInfo{})
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	// The token itself is still usable from the bound device.
	_, err = svc.RefreshTokens(ctx, response.RefreshToken, testDevice())
	assert.NoError(t, err)
}

func TestRefreshRejectsDisabledAccount(t *testing.T) {
	svc, store := newTestSessionService(t)
	user := seedUser(t, store)
	ctx := context.Background()

	response, err := svc.IssueSession(ctx, user, testDevice())
	require.NoError(t, err)

	store.mu.Lock()
	store.users[user.ID].IsActive = false
	store.mu.Unlock()

	_, err = svc.RefreshTokens(ctx, response.RefreshToken, testDevice())
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestLogoutRevokesOnlyOneDevice(t *testing.T) {
	svc, store := newTestSessionService(t)
	user := seedUser(t, store)
	ctx := context.Background()

	phone, err := svc.IssueSession(ctx, user, testDevice())
	require.NoError(t, err)

	laptop := testDevice()
	laptop.DeviceID = "device-2"
	laptopSession, err := svc.IssueSession(ctx, user, laptop)
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, user.ID, "device-1"))

	_, err = svc.ValidateAccessToken(ctx, phone.AccessToken)
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	_, err = svc.ValidateAccessToken(ctx, laptopSession.AccessToken)
	assert.NoError(t, err)
}

func TestLogoutIsIdempotent(t *testing.T) {
	svc, store := newTestSessionService(t)
	user := seedUser(t, store)
	ctx := context.Background()

	assert.NoError(t, svc.Logout(ctx, user.ID, "device-1"))
	assert.NoError(t, svc.Logout(ctx, user.ID, "device-1"))
}

func TestLogoutAllDevices(t *testing.T) {
	svc, store := newTestSessionService(t)
	user := seedUser(t, store)
	ctx := context.Background()

	var tokens []string
	for _, deviceID := range []string{"device-1", "device-2", "device-3"} {
		device := testDevice()
		device.DeviceID = deviceID
		response, err := svc.IssueSession(ctx, user, device)
		require.NoError(t, err)
		tokens = append(tokens, response.AccessToken)
	}

	count, err := svc.LogoutAllDevices(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	for _, accessToken := range tokens {
		_, err := svc.ValidateAccessToken(ctx, accessToken)
		assert.ErrorIs(t, err, ErrNotAuthenticated)
	}
}
