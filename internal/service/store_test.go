package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"auth-service/internal/model"
	"auth-service/internal/repository"

	"github.com/google/uuid"
)

// memStore is an in-memory repository.Store with the same contracts as
// the Postgres implementation: unique constraints, supersede-on-create
// for OTPs, atomic rotation, transactional password reset.
type memStore struct {
	mu       sync.Mutex
	users    map[uuid.UUID]*model.User
	otps     map[uuid.UUID]*model.OTPVerification
	sessions map[uuid.UUID]*model.RefreshToken
	tokens   map[uuid.UUID]*model.CredentialToken
	events   []*model.ActivityEvent
}

func newMemStore() *memStore {
	return &memStore{
		users:    make(map[uuid.UUID]*model.User),
		otps:     make(map[uuid.UUID]*model.OTPVerification),
		sessions: make(map[uuid.UUID]*model.RefreshToken),
		tokens:   make(map[uuid.UUID]*model.CredentialToken),
	}
}

// -------------------- users --------------------

func (m *memStore) CreateUser(ctx context.Context, user *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if user.Email != nil && u.Email != nil && strings.EqualFold(*u.Email, *user.Email) {
			return repository.ErrAlreadyExists
		}
		if user.Phone != nil && u.Phone != nil && *u.Phone == *user.Phone &&
			user.CountryCode != nil && u.CountryCode != nil && *u.CountryCode == *user.CountryCode {
			return repository.ErrAlreadyExists
		}
		if user.GoogleID != nil && u.GoogleID != nil && *u.GoogleID == *user.GoogleID {
			return repository.ErrAlreadyExists
		}
	}

	clone := *user
	m.users[user.ID] = &clone
	return nil
}

func (m *memStore) UserByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		clone := *u
		return &clone, nil
	}
	return nil, repository.ErrNotFound
}

func (m *memStore) UserByEmail(ctx context.Context, email string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email != nil && strings.EqualFold(*u.Email, email) {
			clone := *u
			return &clone, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memStore) UserByPhone(ctx context.Context, phone, countryCode string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userByPhoneLocked(phone, countryCode)
}

func (m *memStore) userByPhoneLocked(phone, countryCode string) (*model.User, error) {
	for _, u := range m.users {
		if u.Phone != nil && *u.Phone == phone && u.CountryCode != nil && *u.CountryCode == countryCode {
			clone := *u
			return &clone, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memStore) UserByGoogleID(ctx context.Context, googleID string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.GoogleID != nil && *u.GoogleID == googleID {
			clone := *u
			return &clone, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memStore) FindOrCreateUserByPhone(ctx context.Context, phone, countryCode string, now time.Time) (*model.User, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, err := m.userByPhoneLocked(phone, countryCode); err == nil {
		u := m.users[existing.ID]
		u.IsPhoneVerified = true
		u.LastLoginAt = &now
		clone := *u
		return &clone, false, nil
	}

	user := &model.User{
		ID:              uuid.New(),
		Phone:           &phone,
		CountryCode:     &countryCode,
		Role:            model.RoleUser,
		IsPhoneVerified: true,
		IsActive:        true,
		LastLoginAt:     &now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	m.users[user.ID] = user
	clone := *user
	return &clone, true, nil
}

func (m *memStore) UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.LastLoginAt = &at
	return nil
}

func (m *memStore) AttachGoogleID(ctx context.Context, id uuid.UUID, googleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.GoogleID != nil && *u.GoogleID == googleID && u.ID != id {
			return repository.ErrAlreadyExists
		}
	}
	u, ok := m.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.GoogleID = &googleID
	u.IsVerified = true
	return nil
}

// -------------------- otps --------------------

func (m *memStore) CountRecentOTPs(ctx context.Context, phone, countryCode string, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, o := range m.otps {
		if o.PhoneNumber == phone && o.CountryCode == countryCode && !o.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (m *memStore) CreateOTP(ctx context.Context, otp *model.OTPVerification) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, o := range m.otps {
		if o.PhoneNumber == otp.PhoneNumber && o.Purpose == otp.Purpose &&
			!o.IsVerified && o.ExpiresAt.After(otp.CreatedAt) {
			o.ExpiresAt = otp.CreatedAt
		}
	}

	clone := *otp
	m.otps[otp.ID] = &clone
	return nil
}

func (m *memStore) LatestActiveOTP(ctx context.Context, phone, countryCode string) (*model.OTPVerification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	var latest *model.OTPVerification
	for _, o := range m.otps {
		if o.PhoneNumber != phone || o.CountryCode != countryCode || o.IsVerified || !o.ExpiresAt.After(now) {
			continue
		}
		if latest == nil || o.CreatedAt.After(latest.CreatedAt) {
			latest = o
		}
	}
	if latest == nil {
		return nil, repository.ErrNotFound
	}
	clone := *latest
	return &clone, nil
}

func (m *memStore) IncrementOTPAttempts(ctx context.Context, id uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.otps[id]
	if !ok {
		return 0, repository.ErrNotFound
	}
	o.Attempts++
	return o.Attempts, nil
}

func (m *memStore) MarkOTPVerified(ctx context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.otps[id]
	if !ok || o.IsVerified {
		return repository.ErrNotFound
	}
	o.IsVerified = true
	o.VerifiedAt = &at
	return nil
}

func (m *memStore) MarkOTPResent(ctx context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.otps[id]
	if !ok {
		return repository.ErrNotFound
	}
	o.ResentCount++
	o.LastResentAt = at
	return nil
}

// -------------------- sessions --------------------

func (m *memStore) CreateSession(ctx context.Context, session *model.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createSessionLocked(session)
}

func (m *memStore) createSessionLocked(session *model.RefreshToken) error {
	for _, s := range m.sessions {
		if s.Token == session.Token {
			return repository.ErrAlreadyExists
		}
	}
	clone := *session
	m.sessions[session.ID] = &clone
	return nil
}

func (m *memStore) SessionByID(ctx context.Context, id uuid.UUID) (*model.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		clone := *s
		return &clone, nil
	}
	return nil, repository.ErrNotFound
}

func (m *memStore) SessionByToken(ctx context.Context, token string) (*model.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.Token == token {
			clone := *s
			return &clone, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memStore) RotateSession(ctx context.Context, oldID uuid.UUID, next *model.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	old, ok := m.sessions[oldID]
	if !ok || old.IsRevoked {
		return repository.ErrNotFound
	}
	if err := m.createSessionLocked(next); err != nil {
		return err
	}
	old.IsRevoked = true
	return nil
}

func (m *memStore) RevokeSessions(ctx context.Context, userID uuid.UUID, deviceID string) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var revoked []uuid.UUID
	for _, s := range m.sessions {
		if s.UserID != userID || s.IsRevoked {
			continue
		}
		if deviceID != "" && s.DeviceID != deviceID {
			continue
		}
		s.IsRevoked = true
		revoked = append(revoked, s.ID)
	}
	return revoked, nil
}

// -------------------- credential tokens --------------------

func (m *memStore) CreateCredentialToken(ctx context.Context, token *model.CredentialToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tokens {
		if t.Token == token.Token {
			return repository.ErrAlreadyExists
		}
	}
	clone := *token
	m.tokens[token.ID] = &clone
	return nil
}

func (m *memStore) CredentialTokenByValue(ctx context.Context, value string, purpose model.TokenPurpose) (*model.CredentialToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tokens {
		if t.Token == value && t.Purpose == purpose {
			clone := *t
			return &clone, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memStore) ConsumeEmailVerification(ctx context.Context, tokenID, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tokens[tokenID]
	if !ok || t.UsedAt != nil {
		return repository.ErrNotFound
	}
	u, ok := m.users[userID]
	if !ok {
		return repository.ErrNotFound
	}

	now := time.Now().UTC()
	t.UsedAt = &now
	u.IsVerified = true
	return nil
}

func (m *memStore) ResetPassword(ctx context.Context, userID, tokenID uuid.UUID, passwordHash string) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tokens[tokenID]
	if !ok || t.UsedAt != nil {
		return nil, repository.ErrNotFound
	}
	u, ok := m.users[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}

	now := time.Now().UTC()
	t.UsedAt = &now
	u.PasswordHash = &passwordHash

	var revoked []uuid.UUID
	for _, s := range m.sessions {
		if s.UserID == userID && !s.IsRevoked {
			s.IsRevoked = true
			revoked = append(revoked, s.ID)
		}
	}
	return revoked, nil
}

// -------------------- activity --------------------

func (m *memStore) AppendActivity(ctx context.Context, event *model.ActivityEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *event
	m.events = append(m.events, &clone)
	return nil
}

// -------------------- test notifiers --------------------

type captureNotifier struct {
	mu     sync.Mutex
	codes  []string
	sent   []string
	smsErr error
}

func (n *captureNotifier) SendOTP(ctx context.Context, phone, countryCode, code string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.smsErr != nil {
		return n.smsErr
	}
	n.codes = append(n.codes, code)
	return nil
}

func (n *captureNotifier) SendVerificationEmail(ctx context.Context, email, token string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, token)
	return nil
}

func (n *captureNotifier) SendPasswordResetEmail(ctx context.Context, email, token string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, token)
	return nil
}

func (n *captureNotifier) lastCode() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.codes) == 0 {
		return ""
	}
	return n.codes[len(n.codes)-1]
}

func (n *captureNotifier) failSMS(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.smsErr = err
}

func (n *captureNotifier) lastToken() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.sent) == 0 {
		return ""
	}
	return n.sent[len(n.sent)-1]
}
