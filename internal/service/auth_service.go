package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"auth-service/internal/config"
	"auth-service/internal/events"
	"auth-service/internal/hashing"
	"auth-service/internal/model"
	"auth-service/internal/notify"
	"auth-service/internal/repository"
	"auth-service/internal/util"

	"github.com/google/uuid"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

const minPasswordLength = 8

// AuthService implements the three authentication methods. Phone OTP is
// primary and auto-registers, email/password is secondary and explicit,
// Google OAuth is tertiary and links by verified email.
type AuthService struct {
	store     repository.Store
	hasher    *hashing.Hasher
	otp       *OTPService
	sessions  *SessionService
	mailer    notify.EmailSender
	publisher *events.Publisher
	tokenCfg  config.TokenConfig
}

// RegisterResult is returned by email registration. No session: the
// account must verify or log in first.
type RegisterResult struct {
	User model.UserSummary `json:"user"`
}

func NewAuthService(
	store repository.Store,
	hasher *hashing.Hasher,
	otp *OTPService,
	sessions *SessionService,
	mailer notify.EmailSender,
	publisher *events.Publisher,
	tokenCfg config.TokenConfig,
) *AuthService {
	return &AuthService{
		store:     store,
		hasher:    hasher,
		otp:       otp,
		sessions:  sessions,
		mailer:    mailer,
		publisher: publisher,
		tokenCfg:  tokenCfg,
	}
}

// -------------------- PHONE OTP --------------------

// LoginWithOTP verifies the submitted code and issues a session. First
// successful verification of an unknown number creates the account.
func (s *AuthService) LoginWithOTP(ctx context.Context, creds model.PhoneOTPCredentials, device model.DeviceInfo) (*model.AuthResponse, bool, error) {
	otp, err := s.otp.VerifyOTP(ctx, creds.Phone, creds.CountryCode, creds.Code)
	if err != nil {
		return nil, false, err
	}

	now := time.Now().UTC()
	user, created, err := s.store.FindOrCreateUserByPhone(ctx, otp.PhoneNumber, otp.CountryCode, now)
	if err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			// Creation race lost; the row exists now.
			user, err = s.store.UserByPhone(ctx, otp.PhoneNumber, otp.CountryCode)
			if err != nil {
				return nil, false, fmt.Errorf("load user: %w", err)
			}
			created = false
		} else {
			return nil, false, fmt.Errorf("find or create user: %w", err)
		}
	}

	if !user.IsActive {
		return nil, false, fmt.Errorf("%w: account disabled", ErrNotAuthenticated)
	}

	response, err := s.sessions.IssueSession(ctx, user, device)
	if err != nil {
		return nil, false, err
	}

	eventType := model.EventLogin
	if created {
		eventType = model.EventRegister
	}
	s.record(ctx, user.ID, eventType, device, map[string]string{"method": string(model.AuthMethodPhoneOTP)})

	return response, created, nil
}

// -------------------- EMAIL / PASSWORD --------------------

// Login authenticates an email/password pair. Unknown address, missing
// password credential and wrong password are indistinguishable to the
// caller.
func (s *AuthService) Login(ctx context.Context, creds model.PasswordCredentials, device model.DeviceInfo) (*model.AuthResponse, error) {
	email := strings.ToLower(strings.TrimSpace(creds.Email))
	if !emailPattern.MatchString(email) {
		return nil, fmt.Errorf("%w: malformed email", ErrInvalidInput)
	}
	if creds.Password == "" {
		return nil, fmt.Errorf("%w: password required", ErrInvalidInput)
	}

	user, err := s.store.UserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: bad credentials", ErrNotAuthenticated)
		}
		return nil, fmt.Errorf("load user: %w", err)
	}

	if !user.HasPassword() || !s.hasher.VerifyPassword(creds.Password, *user.PasswordHash) {
		return nil, fmt.Errorf("%w: bad credentials", ErrNotAuthenticated)
	}
	if !user.IsActive {
		return nil, fmt.Errorf("%w: account disabled", ErrNotAuthenticated)
	}
	// A correct password is not enough until the address is verified.
	if !user.IsVerified {
		return nil, fmt.Errorf("%w: email not verified", ErrPermissionDenied)
	}

	now := time.Now().UTC()
	if err := s.store.UpdateLastLogin(ctx, user.ID, now); err != nil {
		util.Warn("Failed to stamp last login",
			util.String("user_id", user.ID.String()),
			util.ErrorField(err))
	}
	user.LastLoginAt = &now

	response, err := s.sessions.IssueSession(ctx, user, device)
	if err != nil {
		return nil, err
	}

	s.record(ctx, user.ID, model.EventLogin, device, map[string]string{"method": string(model.AuthMethodPassword)})
	return response, nil
}

// Register creates an email/password account and dispatches the
// verification email. The caller logs in separately.
func (s *AuthService) Register(ctx context.Context, email, password, name string) (*RegisterResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if !emailPattern.MatchString(email) {
		return nil, fmt.Errorf("%w: malformed email", ErrInvalidInput)
	}
	if len(password) < minPasswordLength {
		return nil, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}
	name = util.SanitizeInput(name)
	if util.ContainsSuspicious(name) {
		return nil, fmt.Errorf("%w: invalid name", ErrInvalidInput)
	}

	passwordHash, err := s.hasher.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := time.Now().UTC()
	user := &model.User{
		ID:           uuid.New(),
		Email:        &email,
		PasswordHash: &passwordHash,
		Name:         name,
		Role:         model.RoleUser,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			return nil, fmt.Errorf("%w: email already registered", ErrConflict)
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	if err := s.issueCredentialToken(ctx, user, model.TokenPurposeEmailVerify); err != nil {
		// The account exists; verification can be re-requested later.
		util.Error("Failed to issue verification token",
			util.String("user_id", user.ID.String()),
			util.ErrorField(err))
	}

	s.record(ctx, user.ID, model.EventRegister, model.DeviceInfo{}, map[string]string{"method": string(model.AuthMethodPassword)})

	return &RegisterResult{User: SummarizeUser(user)}, nil
}

// VerifyEmail consumes a verification token and marks the account
// verified.
func (s *AuthService) VerifyEmail(ctx context.Context, tokenValue string) error {
	if tokenValue == "" {
		return fmt.Errorf("%w: token required", ErrInvalidInput)
	}

	credToken, err := s.store.CredentialTokenByValue(ctx, tokenValue, model.TokenPurposeEmailVerify)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: unknown verification token", ErrNotAuthenticated)
		}
		return fmt.Errorf("load token: %w", err)
	}

	now := time.Now().UTC()
	if !credToken.Usable(now) {
		return fmt.Errorf("%w: verification token expired or used", ErrNotAuthenticated)
	}

	if err := s.store.ConsumeEmailVerification(ctx, credToken.ID, credToken.UserID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: verification token already used", ErrNotAuthenticated)
		}
		return fmt.Errorf("consume token: %w", err)
	}

	s.record(ctx, credToken.UserID, model.EventEmailVerified, model.DeviceInfo{}, nil)
	return nil
}

// ResendVerificationEmail issues a fresh verification token for an
// unverified account. Silent for unknown, disabled or already verified
// addresses so account existence cannot be probed.
func (s *AuthService) ResendVerificationEmail(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if !emailPattern.MatchString(email) {
		return fmt.Errorf("%w: malformed email", ErrInvalidInput)
	}

	user, err := s.store.UserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load user: %w", err)
	}
	if !user.IsActive || user.IsVerified {
		return nil
	}

	if err := s.issueCredentialToken(ctx, user, model.TokenPurposeEmailVerify); err != nil {
		util.Error("Failed to reissue verification token",
			util.String("user_id", user.ID.String()),
			util.ErrorField(err))
		return fmt.Errorf("issue verification token: %w", err)
	}
	return nil
}

// EmailVerifiedStatus reports whether the address belongs to a verified
// account.
func (s *AuthService) EmailVerifiedStatus(ctx context.Context, email string) (bool, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if !emailPattern.MatchString(email) {
		return false, fmt.Errorf("%w: malformed email", ErrInvalidInput)
	}

	user, err := s.store.UserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, fmt.Errorf("%w: unknown email", ErrNotFound)
		}
		return false, fmt.Errorf("load user: %w", err)
	}
	return user.IsVerified, nil
}

// ForgotPassword issues a reset token when the address belongs to a
// password account. Always succeeds from the caller's view so addresses
// cannot be probed.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if !emailPattern.MatchString(email) {
		return fmt.Errorf("%w: malformed email", ErrInvalidInput)
	}

	user, err := s.store.UserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load user: %w", err)
	}
	if !user.IsActive {
		return nil
	}

	if err := s.issueCredentialToken(ctx, user, model.TokenPurposePasswordReset); err != nil {
		util.Error("Failed to issue reset token",
			util.String("user_id", user.ID.String()),
			util.ErrorField(err))
		return fmt.Errorf("issue reset token: %w", err)
	}
	return nil
}

// ResetPassword sets a new password from a reset token. Every session of
// the user ends in the same transaction.
func (s *AuthService) ResetPassword(ctx context.Context, tokenValue, newPassword string) error {
	if tokenValue == "" {
		return fmt.Errorf("%w: token required", ErrInvalidInput)
	}
	if len(newPassword) < minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}

	credToken, err := s.store.CredentialTokenByValue(ctx, tokenValue, model.TokenPurposePasswordReset)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: unknown reset token", ErrNotAuthenticated)
		}
		return fmt.Errorf("load token: %w", err)
	}

	now := time.Now().UTC()
	if !credToken.Usable(now) {
		return fmt.Errorf("%w: reset token expired or used", ErrNotAuthenticated)
	}

	passwordHash, err := s.hasher.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	revoked, err := s.store.ResetPassword(ctx, credToken.UserID, credToken.ID, passwordHash)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: reset token already used", ErrNotAuthenticated)
		}
		return fmt.Errorf("reset password: %w", err)
	}

	s.sessions.MarkRevoked(ctx, revoked...)
	s.record(ctx, credToken.UserID, model.EventPasswordReset, model.DeviceInfo{}, map[string]string{
		"revoked_sessions": fmt.Sprintf("%d", len(revoked)),
	})
	return nil
}

// -------------------- GOOGLE OAUTH --------------------

// LoginWithGoogle signs in a pre-verified Google identity assertion.
// Known subject logs straight in; a known email gets the subject linked;
// anything else becomes a new verified account.
func (s *AuthService) LoginWithGoogle(ctx context.Context, identity model.OAuthIdentity, device model.DeviceInfo) (*model.AuthResponse, bool, error) {
	if identity.Subject == "" {
		return nil, false, fmt.Errorf("%w: oauth subject required", ErrInvalidInput)
	}
	email := strings.ToLower(strings.TrimSpace(identity.Email))

	now := time.Now().UTC()

	var created bool
	user, err := s.store.UserByGoogleID(ctx, identity.Subject)
	switch {
	case err == nil:
		// Known subject.

	case errors.Is(err, repository.ErrNotFound):
		user, created, err = s.linkOrCreateGoogleUser(ctx, identity, email, now)
		if err != nil {
			return nil, false, err
		}

	default:
		return nil, false, fmt.Errorf("load user: %w", err)
	}

	if !user.IsActive {
		return nil, false, fmt.Errorf("%w: account disabled", ErrNotAuthenticated)
	}

	if err := s.store.UpdateLastLogin(ctx, user.ID, now); err != nil {
		util.Warn("Failed to stamp last login",
			util.String("user_id", user.ID.String()),
			util.ErrorField(err))
	}
	user.LastLoginAt = &now

	response, err := s.sessions.IssueSession(ctx, user, device)
	if err != nil {
		return nil, false, err
	}

	s.record(ctx, user.ID, model.EventGoogleLogin, device, map[string]string{"method": string(model.AuthMethodOAuth)})
	return response, created, nil
}

func (s *AuthService) linkOrCreateGoogleUser(ctx context.Context, identity model.OAuthIdentity, email string, now time.Time) (*model.User, bool, error) {
	if email != "" && emailPattern.MatchString(email) {
		existing, err := s.store.UserByEmail(ctx, email)
		switch {
		case err == nil:
			if err := s.store.AttachGoogleID(ctx, existing.ID, identity.Subject); err != nil {
				if errors.Is(err, repository.ErrAlreadyExists) {
					return nil, false, fmt.Errorf("%w: google account already linked elsewhere", ErrConflict)
				}
				return nil, false, fmt.Errorf("attach google id: %w", err)
			}
			existing.GoogleID = &identity.Subject
			existing.IsVerified = true
			return existing, false, nil

		case errors.Is(err, repository.ErrNotFound):
			// Fall through to creation.

		default:
			return nil, false, fmt.Errorf("load user: %w", err)
		}
	}

	name := util.SanitizeInput(identity.Name)
	user := &model.User{
		ID:         uuid.New(),
		GoogleID:   &identity.Subject,
		Name:       name,
		Role:       model.RoleUser,
		IsVerified: true,
		IsActive:   true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if email != "" && emailPattern.MatchString(email) {
		user.Email = &email
	}

	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			return nil, false, fmt.Errorf("%w: account already exists", ErrConflict)
		}
		return nil, false, fmt.Errorf("create user: %w", err)
	}
	return user, true, nil
}

// -------------------- helpers --------------------

func (s *AuthService) issueCredentialToken(ctx context.Context, user *model.User, purpose model.TokenPurpose) error {
	if user.Email == nil {
		return fmt.Errorf("%w: account has no email", ErrInvalidInput)
	}

	value, err := generateTokenValue()
	if err != nil {
		return err
	}

	ttl := s.tokenCfg.EmailVerifyTTL
	if purpose == model.TokenPurposePasswordReset {
		ttl = s.tokenCfg.PasswordResetTTL
	}

	now := time.Now().UTC()
	credToken := &model.CredentialToken{
		ID:        uuid.New(),
		UserID:    user.ID,
		Token:     value,
		Purpose:   purpose,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}

	if err := s.store.CreateCredentialToken(ctx, credToken); err != nil {
		return fmt.Errorf("create credential token: %w", err)
	}

	switch purpose {
	case model.TokenPurposeEmailVerify:
		return s.mailer.SendVerificationEmail(ctx, *user.Email, value)
	case model.TokenPurposePasswordReset:
		return s.mailer.SendPasswordResetEmail(ctx, *user.Email, value)
	}
	return nil
}

func (s *AuthService) record(ctx context.Context, userID uuid.UUID, eventType model.EventType, device model.DeviceInfo, metadata map[string]string) {
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
		util.Warn("Failed to record auth event",
			util.String("event_type", string(eventType)),
			util.ErrorField(err))
	}
}

// generateTokenValue draws a 256-bit random token, hex encoded.
func generateTokenValue() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(raw), nil
}
