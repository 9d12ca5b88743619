package token

import (
	"testing"
	"time"

	"auth-service/internal/config"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() config.JWTConfig {
	return config.JWTConfig{
		AccessSecret:  "test-access-secret",
		RefreshSecret: "test-refresh-secret",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
		Issuer:        "auth-service",
	}
}

func TestAccessTokenRoundtrip(t *testing.T) {
	m := NewManager(testConfig())
	userID := uuid.New()
	sessionID := uuid.New()

	signed, err := m.SignAccessToken(userID, "user", sessionID)
	require.NoError(t, err)

	claims, err := m.ParseAccessToken(signed)
	require.NoError(t, err)
	assert.Equal(t, userID.String(), claims.UserID)
	assert.Equal(t, sessionID.String(), claims.SessionID)
	assert.Equal(t, "user", claims.Role)
	assert.Equal(t, "auth-service", claims.Issuer)
}

func TestRefreshTokenRoundtrip(t *testing.T) {
	m := NewManager(testConfig())
	userID := uuid.New()

	signed, jti, err := m.SignRefreshToken(userID, "user", "device-1")
	require.NoError(t, err)
	require.NotEmpty(t, jti)

	claims, err := m.ParseRefreshToken(signed)
	require.NoError(t, err)
	assert.Equal(t, userID.String(), claims.UserID)
	assert.Equal(t, "device-1", claims.DeviceID)
	assert.Equal(t, jti, claims.ID)
}

func TestRefreshTokensNeverCollide(t *testing.T) {
	m := NewManager(testConfig())
	userID := uuid.New()

	first, firstJTI, err := m.SignRefreshToken(userID, "user", "device-1")
	require.NoError(t, err)
	second, secondJTI, err := m.SignRefreshToken(userID, "user", "device-1")
	require.NoError(t, err)

	// Same user, same device, same instant: the jti keeps them distinct.
	assert.NotEqual(t, firstJTI, secondJTI)
	assert.NotEqual(t, first, second)
}

func TestParseRejectsWrongSecret(t *testing.T) {
	m := NewManager(testConfig())

	other := testConfig()
	other.AccessSecret = "a-different-secret"
	forged, err := NewManager(other).SignAccessToken(uuid.New(), "user", uuid.New())
	require.NoError(t, err)

	_, err = m.ParseAccessToken(forged)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseRejectsCrossTokenClass(t *testing.T) {
	m := NewManager(testConfig())

	// A refresh token must never be accepted where an access token is
	// expected; the secrets are disjoint.
	refresh, _, err := m.SignRefreshToken(uuid.New(), "user", "device-1")
	require.NoError(t, err)

	_, err = m.ParseAccessToken(refresh)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseRejectsExpiredToken(t *testing.T) {
	cfg := testConfig()
	cfg.AccessTTL = -time.Minute
	m := NewManager(cfg)

	signed, err := m.SignAccessToken(uuid.New(), "user", uuid.New())
	require.NoError(t, err)

	_, err = m.ParseAccessToken(signed)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestParseRejectsWrongIssuer(t *testing.T) {
	cfg := testConfig()
	cfg.Issuer = "some-other-service"
	foreign, err := NewManager(cfg).SignAccessToken(uuid.New(), "user", uuid.New())
	require.NoError(t, err)

	_, err = NewManager(testConfig()).ParseAccessToken(foreign)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseRejectsGarbage(t *testing.T) {
	m := NewManager(testConfig())

	_, err := m.ParseAccessToken("garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
