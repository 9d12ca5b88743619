package repository

import (
	"context"
	"errors"
	"time"

	"auth-service/internal/model"

	"github.com/google/uuid"
)

var (
	// ErrNotFound means no row matched the lookup.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists means a unique constraint rejected the write.
	ErrAlreadyExists = errors.New("already exists")
)

// UserRepository defines the interface for user data operations
type UserRepository interface {
	CreateUser(ctx context.Context, user *model.User) error
	UserByID(ctx context.Context, id uuid.UUID) (*model.User, error)
	UserByEmail(ctx context.Context, email string) (*model.User, error)
	UserByPhone(ctx context.Context, phone, countryCode string) (*model.User, error)
	UserByGoogleID(ctx context.Context, googleID string) (*model.User, error)
	// FindOrCreateUserByPhone returns the user owning the phone number,
	// creating one on first OTP verification. Either way the row leaves
	// with is_phone_verified set and last_login_at stamped.
	FindOrCreateUserByPhone(ctx context.Context, phone, countryCode string, now time.Time) (*model.User, bool, error)
	UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error
	// AttachGoogleID links an OAuth identity to an existing account and
	// marks it verified (the provider vouched for the address).
	AttachGoogleID(ctx context.Context, id uuid.UUID, googleID string) error
}

// OTPRepository defines the interface for OTP verification records.
type OTPRepository interface {
	// CountRecentOTPs counts challenges issued for the number since the
	// given instant; the send rate limit is decided on this.
	CountRecentOTPs(ctx context.Context, phone, countryCode string, since time.Time) (int, error)
	// CreateOTP expires prior unverified records of the same purpose and
	// inserts the new one inside a single transaction.
	CreateOTP(ctx context.Context, otp *model.OTPVerification) error
	// LatestActiveOTP returns the newest unverified, unexpired record for
	// the number regardless of purpose.
	LatestActiveOTP(ctx context.Context, phone, countryCode string) (*model.OTPVerification, error)
	IncrementOTPAttempts(ctx context.Context, id uuid.UUID) (int, error)
	MarkOTPVerified(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkOTPResent(ctx context.Context, id uuid.UUID, at time.Time) error
}

// SessionRepository defines the interface for persisted session records.
type SessionRepository interface {
	CreateSession(ctx context.Context, session *model.RefreshToken) error
	SessionByID(ctx context.Context, id uuid.UUID) (*model.RefreshToken, error)
	SessionByToken(ctx context.Context, token string) (*model.RefreshToken, error)
	// RotateSession atomically revokes the old row and inserts the new
	// one; a duplicate token value surfaces as ErrAlreadyExists.
	RotateSession(ctx context.Context, oldID uuid.UUID, next *model.RefreshToken) error
	// RevokeSessions revokes every active session for the user, optionally
	// narrowed to one device, and returns the revoked ids.
	RevokeSessions(ctx context.Context, userID uuid.UUID, deviceID string) ([]uuid.UUID, error)
}

// CredentialTokenRepository manages single-use email verification and
// password reset tokens.
type CredentialTokenRepository interface {
	CreateCredentialToken(ctx context.Context, token *model.CredentialToken) error
	CredentialTokenByValue(ctx context.Context, value string, purpose model.TokenPurpose) (*model.CredentialToken, error)
	// ConsumeEmailVerification marks the token used and the user verified
	// in one transaction.
	ConsumeEmailVerification(ctx context.Context, tokenID, userID uuid.UUID) error
	// ResetPassword updates the password hash, consumes the reset token
	// and revokes every session of the user in one transaction. Returns
	// the revoked session ids.
	ResetPassword(ctx context.Context, userID, tokenID uuid.UUID, passwordHash string) ([]uuid.UUID, error)
}

// ActivityRepository appends audit entries.
type ActivityRepository interface {
	AppendActivity(ctx context.Context, event *model.ActivityEvent) error
}

// Store aggregates every repository the services consume.
type Store interface {
	UserRepository
	OTPRepository
	SessionRepository
	CredentialTokenRepository
	ActivityRepository
}
