package model

import (
	"time"

	"github.com/google/uuid"
)

// -------------------- ENUMS --------------------

type OTPPurpose string

const (
	OTPPurposeLogin        OTPPurpose = "LOGIN"
	OTPPurposeRegistration OTPPurpose = "REGISTRATION"
)

type TokenPurpose string

const (
	TokenPurposeEmailVerify   TokenPurpose = "EMAIL_VERIFICATION"
	TokenPurposePasswordReset TokenPurpose = "PASSWORD_RESET"
)

type EventType string

const (
	EventOTPSent        EventType = "OTP_SENT"
	EventOTPVerified    EventType = "OTP_VERIFIED"
	EventOTPResent      EventType = "OTP_RESENT"
	EventLogin          EventType = "LOGIN"
	EventRegister       EventType = "REGISTER"
	EventGoogleLogin    EventType = "GOOGLE_LOGIN"
	EventRefreshToken   EventType = "REFRESH_TOKEN"
	EventLogout         EventType = "LOGOUT"
	EventLogoutAll      EventType = "LOGOUT_ALL"
	EventEmailVerified  EventType = "EMAIL_VERIFIED"
	EventPasswordReset  EventType = "PASSWORD_RESET"
	EventDeviceMismatch EventType = "DEVICE_MISMATCH"
	EventRateLimited    EventType = "RATE_LIMITED"
)

const RoleUser = "user"

// -------------------- USER --------------------

// User is the identity record. A user must be reachable through at least
// one of email, phone+countryCode, or googleID; optional credentials are
// NULLable pointers so the partial unique indexes apply.
type User struct {
	ID              uuid.UUID  `db:"id"`
	Email           *string    `db:"email"`
	Phone           *string    `db:"phone"`
	CountryCode     *string    `db:"country_code"`
	PasswordHash    *string    `db:"password_hash"`
	GoogleID        *string    `db:"google_id"`
	Name            string     `db:"name"`
	Role            string     `db:"role"`
	IsVerified      bool       `db:"is_verified"`
	IsPhoneVerified bool       `db:"is_phone_verified"`
	IsActive        bool       `db:"is_active"`
	LastLoginAt     *time.Time `db:"last_login_at"`
	CreatedAt       time.Time  `db:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"`
}

// HasPassword reports whether the account carries a password credential.
// Phone-only and OAuth-only accounts return false and must never pass a
// password login.
func (u *User) HasPassword() bool {
	return u.PasswordHash != nil && *u.PasswordHash != ""
}

// UserSummary is the sanitized projection returned inside AuthResponse.
type UserSummary struct {
	ID              uuid.UUID `json:"id"`
	Email           string    `json:"email,omitempty"`
	Phone           string    `json:"phone,omitempty"`
	Name            string    `json:"name,omitempty"`
	Role            string    `json:"role"`
	IsVerified      bool      `json:"is_verified"`
	IsPhoneVerified bool      `json:"is_phone_verified"`
}

// -------------------- OTP --------------------

// OTPVerification is one outstanding OTP challenge. The plaintext code is
// kept so resend redelivers the same code; rows live at most ten minutes.
type OTPVerification struct {
	ID           uuid.UUID  `db:"id"`
	PhoneNumber  string     `db:"phone_number"`
	CountryCode  string     `db:"country_code"`
	OTPCode      string     `db:"otp_code"`
	OTPHash      string     `db:"otp_hash"`
	Purpose      OTPPurpose `db:"purpose"`
	IsVerified   bool       `db:"is_verified"`
	VerifiedAt   *time.Time `db:"verified_at"`
	Attempts     int        `db:"attempts"`
	MaxAttempts  int        `db:"max_attempts"`
	ResentCount  int        `db:"resent_count"`
	LastResentAt time.Time  `db:"last_resent_at"`
	ExpiresAt    time.Time  `db:"expires_at"`
	CreatedAt    time.Time  `db:"created_at"`
}

// -------------------- SESSION --------------------

// RefreshToken is the persisted session record. Its id is the stateful
// anchor embedded in access tokens; rotation inserts a new row and revokes
// this one, it never mutates the id.
type RefreshToken struct {
	ID         uuid.UUID  `db:"id"`
	UserID     uuid.UUID  `db:"user_id"`
	Token      string     `db:"token"`
	DeviceID   string     `db:"device_id"`
	DeviceName string     `db:"device_name"`
	IPAddress  string     `db:"ip_address"`
	UserAgent  string     `db:"user_agent"`
	IsRevoked  bool       `db:"is_revoked"`
	ExpiresAt  time.Time  `db:"expires_at"`
	LastUsedAt *time.Time `db:"last_used_at"`
	CreatedAt  time.Time  `db:"created_at"`
}

// SessionValidation is the result of a store-backed session check.
type SessionValidation struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// -------------------- CREDENTIAL TOKENS --------------------

// CredentialToken is a single-use, time-boxed token (email verification or
// password reset). Usable only while UsedAt is nil and ExpiresAt is ahead.
type CredentialToken struct {
	ID        uuid.UUID    `db:"id"`
	UserID    uuid.UUID    `db:"user_id"`
	Token     string       `db:"token"`
	Purpose   TokenPurpose `db:"purpose"`
	ExpiresAt time.Time    `db:"expires_at"`
	UsedAt    *time.Time   `db:"used_at"`
	CreatedAt time.Time    `db:"created_at"`
}

func (t *CredentialToken) Usable(now time.Time) bool {
	return t.UsedAt == nil && now.Before(t.ExpiresAt)
}

// -------------------- ACTIVITY --------------------

// ActivityEvent is one audit entry. Postgres is the authoritative log;
// copies are fanned out to Kafka/ClickHouse/Elasticsearch best-effort.
type ActivityEvent struct {
	ID          uuid.UUID         `db:"id" json:"id"`
	UserID      uuid.UUID         `db:"user_id" json:"user_id"`
	EventType   EventType         `db:"event_type" json:"event_type"`
	DeviceID    string            `db:"device_id" json:"device_id,omitempty"`
	IPAddress   string            `db:"ip_address" json:"ip_address,omitempty"`
	UserAgent   string            `db:"user_agent" json:"user_agent,omitempty"`
	Metadata    map[string]string `db:"metadata" json:"metadata,omitempty"`
	EventBucket int               `db:"-" json:"event_bucket"`
	CreatedAt   time.Time         `db:"created_at" json:"created_at"`
}

// Security reports whether the event should be indexed for investigation.
func (e *ActivityEvent) Security() bool {
	switch e.EventType {
	case EventDeviceMismatch, EventRateLimited, EventPasswordReset, EventLogoutAll:
		return true
	}
	return false
}

// -------------------- REQUEST / RESPONSE --------------------

// DeviceInfo describes the client device a session is bound to.
type DeviceInfo struct {
	DeviceID   string `json:"device_id"`
	DeviceName string `json:"device_name"`
	IPAddress  string `json:"ip_address"`
	UserAgent  string `json:"user_agent"`
}

// AuthTokens is the token pair minted for a session.
type AuthTokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

// AuthResponse is the normalized success payload of every login path.
type AuthResponse struct {
	AuthTokens
	DeviceID string      `json:"device_id"`
	User     UserSummary `json:"user"`
}

// -------------------- IDENTITY SUM TYPE --------------------

type AuthMethod string

const (
	AuthMethodPassword AuthMethod = "password"
	AuthMethodPhoneOTP AuthMethod = "phone_otp"
	AuthMethodOAuth    AuthMethod = "oauth"
)

// Identity is the tagged union of credentials a client can present. Each
// login path validates its own variant before a session is issued.
type Identity interface {
	Method() AuthMethod
}

type PasswordCredentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (PasswordCredentials) Method() AuthMethod { return AuthMethodPassword }

type PhoneOTPCredentials struct {
	Phone       string `json:"phone"`
	CountryCode string `json:"country_code"`
	Code        string `json:"code"`
}

func (PhoneOTPCredentials) Method() AuthMethod { return AuthMethodPhoneOTP }

// OAuthIdentity is an identity assertion already verified by the OAuth
// provider integration in front of this service.
type OAuthIdentity struct {
	Provider string `json:"provider"`
	Subject  string `json:"subject"`
	Email    string `json:"email"`
	Name     string `json:"name"`
}

func (OAuthIdentity) Method() AuthMethod { return AuthMethodOAuth }
