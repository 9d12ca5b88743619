package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"auth-service/internal/events"
	"auth-service/internal/model"
	"auth-service/internal/repository"
	redisrepo "auth-service/internal/repository/redis"
	"auth-service/internal/token"
	"auth-service/internal/util"

	"github.com/google/uuid"
)

// SessionService owns the session lifecycle. Sessions are stateful:
// every access token carries the id of a refresh_tokens row, and
// validation consults the store, never the signature alone.
type SessionService struct {
	store     repository.Store
	tokens    *token.Manager
	cache     *redisrepo.SessionCache
	publisher *events.Publisher
}

func NewSessionService(
	store repository.Store,
	tokens *token.Manager,
	cache *redisrepo.SessionCache,
	publisher *events.Publisher,
) *SessionService {
	return &SessionService{
		store:     store,
		tokens:    tokens,
		cache:     cache,
		publisher: publisher,
	}
}

// IssueSession mints a token pair for an authenticated user. The session
// row id is allocated up front and signed into the access token, so the
// row and the token agree from the first instant.
func (s *SessionService) IssueSession(ctx context.Context, user *model.User, device model.DeviceInfo) (*model.AuthResponse, error) {
	if device.DeviceID == "" {
		return nil, fmt.Errorf("%w: device id required", ErrInvalidInput)
	}

	now := time.Now().UTC()
	sessionID := uuid.New()

	accessToken, err := s.tokens.SignAccessToken(user.ID, user.Role, sessionID)
	if err != nil {
		return nil, err
	}

	refreshToken, _, err := s.tokens.SignRefreshToken(user.ID, user.Role, device.DeviceID)
	if err != nil {
		return nil, err
	}

	session := &model.RefreshToken{
		ID:         sessionID,
		UserID:     user.ID,
		Token:      refreshToken,
		DeviceID:   device.DeviceID,
		DeviceName: device.DeviceName,
		IPAddress:  device.IPAddress,
		UserAgent:  device.UserAgent,
		ExpiresAt:  now.Add(s.tokens.RefreshTTL()),
		CreatedAt:  now,
	}

	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	s.cacheSession(ctx, session, user.Role)

	return &model.AuthResponse{
		AuthTokens: model.AuthTokens{
			AccessToken:  accessToken,
			RefreshToken: refreshToken,
			ExpiresIn:    int(s.tokens.AccessTTL().Seconds()),
		},
		DeviceID: device.DeviceID,
		User:     SummarizeUser(user),
	}, nil
}

// RefreshTokens rotates a session: the presented refresh token's row is
// revoked and a successor row inserted in one transaction. Losing a
// concurrent rotation is a failed authentication, never a retry.
func (s *SessionService) RefreshTokens(ctx context.Context, refreshToken string, device model.DeviceInfo) (*model.AuthResponse, error) {
	claims, err := s.tokens.ParseRefreshToken(refreshToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotAuthenticated, err)
	}

	session, err := s.store.SessionByToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown refresh token", ErrNotAuthenticated)
		}
		return nil, fmt.Errorf("load session: %w", err)
	}

	now := time.Now().UTC()

	switch {
	case session.IsRevoked:
		return nil, fmt.Errorf("%w: session revoked", ErrNotAuthenticated)
	case now.After(session.ExpiresAt):
		return nil, fmt.Errorf("%w: session expired", ErrNotAuthenticated)
	}

	// An absent device id is a mismatch too, not a pass.
	if device.DeviceID != session.DeviceID {
		s.record(ctx, session.UserID, model.EventDeviceMismatch, device, map[string]string{
			"session_device": session.DeviceID,
		})
		return nil, fmt.Errorf("%w: device mismatch", ErrNotAuthenticated)
	}

	user, err := s.store.UserByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("%w: session owner missing", ErrNotAuthenticated)
	}
	if !user.IsActive {
		return nil, fmt.Errorf("%w: account disabled", ErrNotAuthenticated)
	}
	if claims.UserID != user.ID.String() {
		return nil, fmt.Errorf("%w: token subject mismatch", ErrNotAuthenticated)
	}

	nextID := uuid.New()

	accessToken, err := s.tokens.SignAccessToken(user.ID, user.Role, nextID)
	if err != nil {
		return nil, err
	}

	nextRefresh, _, err := s.tokens.SignRefreshToken(user.ID, user.Role, session.DeviceID)
	if err != nil {
		return nil, err
	}

	next := &model.RefreshToken{
		ID:         nextID,
		UserID:     user.ID,
		Token:      nextRefresh,
		DeviceID:   session.DeviceID,
		DeviceName: session.DeviceName,
		IPAddress:  device.IPAddress,
		UserAgent:  device.UserAgent,
		ExpiresAt:  now.Add(s.tokens.RefreshTTL()),
		CreatedAt:  now,
	}

	if err := s.store.RotateSession(ctx, session.ID, next); err != nil {
		if errors.Is(err, repository.ErrNotFound) || errors.Is(err, repository.ErrAlreadyExists) {
			// A concurrent rotation consumed this token first.
			return nil, fmt.Errorf("%w: refresh token already used", ErrNotAuthenticated)
		}
		return nil, fmt.Errorf("rotate session: %w", err)
	}

	s.MarkRevoked(ctx, session.ID)
	s.cacheSession(ctx, next, user.Role)
	s.record(ctx, user.ID, model.EventRefreshToken, device, nil)

	return &model.AuthResponse{
		AuthTokens: model.AuthTokens{
			AccessToken:  accessToken,
			RefreshToken: nextRefresh,
			ExpiresIn:    int(s.tokens.AccessTTL().Seconds()),
		},
		DeviceID: session.DeviceID,
		User:     SummarizeUser(user),
	}, nil
}

// Logout revokes the user's sessions on one device. Revoking an already
// logged-out device succeeds; logout is idempotent.
func (s *SessionService) Logout(ctx context.Context, userID uuid.UUID, deviceID string) error {
	if deviceID == "" {
		return fmt.Errorf("%w: device id required", ErrInvalidInput)
	}

	revoked, err := s.store.RevokeSessions(ctx, userID, deviceID)
	if err != nil {
		return fmt.Errorf("revoke sessions: %w", err)
	}

	s.MarkRevoked(ctx, revoked...)
	s.record(ctx, userID, model.EventLogout, model.DeviceInfo{DeviceID: deviceID}, nil)
	return nil
}

// LogoutAllDevices revokes every active session of the user.
func (s *SessionService) LogoutAllDevices(ctx context.Context, userID uuid.UUID) (int, error) {
	revoked, err := s.store.RevokeSessions(ctx, userID, "")
	if err != nil {
		return 0, fmt.Errorf("revoke sessions: %w", err)
	}

	s.MarkRevoked(ctx, revoked...)
	s.record(ctx, userID, model.EventLogoutAll, model.DeviceInfo{}, map[string]string{
		"revoked_sessions": fmt.Sprintf("%d", len(revoked)),
	})
	return len(revoked), nil
}

// ValidateAccessToken authenticates a request. Signature and expiry are
// necessary but not sufficient: the embedded session row must still be
// live. The cache answers the happy path; Postgres is authoritative on a
// miss.
func (s *SessionService) ValidateAccessToken(ctx context.Context, accessToken string) (*token.AccessClaims, error) {
	claims, err := s.tokens.ParseAccessToken(accessToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotAuthenticated, err)
	}

	sessionID, err := uuid.Parse(claims.SessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed session id", ErrNotAuthenticated)
	}
	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed user id", ErrNotAuthenticated)
	}

	now := time.Now().UTC()

	if s.cache != nil {
		if cached, cacheErr := s.cache.Session(ctx, sessionID); cacheErr == nil {
			if cached.Revoked {
				return nil, fmt.Errorf("%w: session revoked", ErrNotAuthenticated)
			}
			if cached.UserID == userID && now.Before(cached.ExpiresAt) {
				return claims, nil
			}
			// Stale or foreign entry; decide on the store's word.
		}
	}

	session, err := s.store.SessionByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown session", ErrNotAuthenticated)
		}
		return nil, fmt.Errorf("load session: %w", err)
	}

	switch {
	case session.IsRevoked:
		return nil, fmt.Errorf("%w: session revoked", ErrNotAuthenticated)
	case now.After(session.ExpiresAt):
		return nil, fmt.Errorf("%w: session expired", ErrNotAuthenticated)
	case session.UserID != userID:
		return nil, fmt.Errorf("%w: session owner mismatch", ErrNotAuthenticated)
	}

	s.cacheSession(ctx, session, claims.Role)
	return claims, nil
}

// -------------------- helpers --------------------

func (s *SessionService) cacheSession(ctx context.Context, session *model.RefreshToken, role string) {
	if s.cache == nil {
		return
	}
	err := s.cache.CacheSession(ctx, session.ID, &redisrepo.CachedSession{
		UserID:    session.UserID,
		DeviceID:  session.DeviceID,
		Role:      role,
		ExpiresAt: session.ExpiresAt,
	})
	if err != nil {
		util.Debug("Session cache write failed",
			util.String("session_id", session.ID.String()),
			util.ErrorField(err))
	}
}

// MarkRevoked writes revocation tombstones over the cached entries of
// revoked sessions. Best-effort: Postgres already holds the revocation.
// The tombstone TTL matches the access token lifetime, so it outlives
// every token that could still name the session.
func (s *SessionService) MarkRevoked(ctx context.Context, sessionIDs ...uuid.UUID) {
	if s.cache == nil || len(sessionIDs) == 0 {
		return
	}
	if err := s.cache.MarkRevoked(ctx, s.tokens.AccessTTL(), sessionIDs...); err != nil {
		util.Warn("Session cache revocation marking failed",
			util.Int("session_count", len(sessionIDs)),
			util.ErrorField(err))
	}
}

func (s *SessionService) record(ctx context.Context, userID uuid.UUID, eventType model.EventType, device model.DeviceInfo, metadata map[string]string) {
	if s.publisher == nil {
		return
	}
	event := &model.ActivityEvent{
		UserID:    userID,
		EventType: eventType,
		DeviceID:  device.DeviceID,
		IPAddress: device.IPAddress,
		UserAgent: device.UserAgent,
		Metadata:  metadata,
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		util.Warn("Failed to record session event",
			util.String("event_type", string(eventType)),
			util.ErrorField(err))
	}
}

// SummarizeUser projects a user row onto the response shape, masking the
// phone number.
func SummarizeUser(user *model.User) model.UserSummary {
	summary := model.UserSummary{
		ID:              user.ID,
		Name:            user.Name,
		Role:            user.Role,
		IsVerified:      user.IsVerified,
		IsPhoneVerified: user.IsPhoneVerified,
	}
	if user.Email != nil {
		summary.Email = *user.Email
	}
	if user.Phone != nil {
		summary.Phone = util.MaskPhone(*user.Phone)
	}
	return summary
}
