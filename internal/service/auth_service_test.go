package service

import (
	"context"
	"testing"
	"time"

	"auth-service/internal/config"
	"auth-service/internal/hashing"
	"auth-service/internal/model"
	"auth-service/internal/token"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type authFixture struct {
	auth     *AuthService
	otp      *OTPService
	sessions *SessionService
	store    *memStore
	notifier *captureNotifier
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	store := newMemStore()
	notifier := &captureNotifier{}
	cfg := &config.Config{
		OTP: testOTPConfig(),
		JWT: testJWTConfig(),
		Tokens: config.TokenConfig{
			EmailVerifyTTL:   24 * time.Hour,
			PasswordResetTTL: time.Hour,
		},
	}
	hasher := hashing.NewHasher(cfg)
	otp := NewOTPService(store, hasher, nil, notifier, nil, cfg.OTP)
	sessions := NewSessionService(store, token.NewManager(cfg.JWT), nil, nil)
	auth := NewAuthService(store, hasher, otp, sessions, notifier, nil, cfg.Tokens)
	return &authFixture{auth: auth, otp: otp, sessions: sessions, store: store, notifier: notifier}
}

func (f *authFixture) register(t *testing.T, email, password string) *RegisterResult {
	t.Helper()
	result, err := f.auth.Register(context.Background(), email, password, "Test User")
	require.NoError(t, err)
	return result
}

// registerVerified registers and consumes the verification token so the
// account can log in with its password.
func (f *authFixture) registerVerified(t *testing.T, email, password string) *RegisterResult {
	t.Helper()
	result := f.register(t, email, password)
	require.NoError(t, f.auth.VerifyEmail(context.Background(), f.notifier.lastToken()))
	return result
}

// loginWithOTP runs the full send-then-verify flow for a phone number.
func (f *authFixture) loginWithOTP(t *testing.T, phone, countryCode string) (*model.AuthResponse, bool) {
	t.Helper()
	ctx := context.Background()
	_, err := f.otp.SendOTP(ctx, phone, countryCode)
	require.NoError(t, err)

	creds := model.PhoneOTPCredentials{Phone: phone, CountryCode: countryCode, Code: f.notifier.lastCode()}
	response, created, err := f.auth.LoginWithOTP(ctx, creds, testDevice())
	require.NoError(t, err)
	return response, created
}

// -------------------- REGISTER / LOGIN --------------------

func TestRegisterCreatesUnverifiedAccount(t *testing.T) {
	f := newAuthFixture(t)

	result := f.register(t, "New.User@Example.com", "password123")
	assert.Equal(t, "new.user@example.com", result.User.Email)
	assert.False(t, result.User.IsVerified)

	stored, err := f.store.UserByEmail(context.Background(), "new.user@example.com")
	require.NoError(t, err)
	assert.True(t, stored.HasPassword())
	assert.False(t, stored.IsVerified)

	// Registration dispatches a verification token but no session.
	assert.NotEmpty(t, f.notifier.lastToken())
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	f := newAuthFixture(t)
	f.register(t, "dup@example.com", "password123")

	_, err := f.auth.Register(context.Background(), "DUP@example.com", "password123", "Other")
	assert.ErrorIs(t, err, ErrConflict)
}

func TestRegisterValidatesInput(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	_, err := f.auth.Register(ctx, "not-an-email", "password123", "")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.auth.Register(ctx, "ok@example.com", "short", "")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestLoginRoundtrip(t *testing.T) {
	f := newAuthFixture(t)
	f.registerVerified(t, "login@example.com", "password123")
	ctx := context.Background()

	response, err := f.auth.Login(ctx, model.PasswordCredentials{Email: "login@example.com", Password: "password123"}, testDevice())
	require.NoError(t, err)

	_, err = f.sessions.ValidateAccessToken(ctx, response.AccessToken)
	assert.NoError(t, err)
}

func TestLoginRequiresVerifiedEmail(t *testing.T) {
	f := newAuthFixture(t)
	f.register(t, "pending@example.com", "password123")
	ctx := context.Background()

	// Correct password, unverified address: forbidden, no session.
	_, err := f.auth.Login(ctx, model.PasswordCredentials{Email: "pending@example.com", Password: "password123"}, testDevice())
	assert.ErrorIs(t, err, ErrPermissionDenied)

	stored, err := f.store.UserByEmail(ctx, "pending@example.com")
	require.NoError(t, err)
	assert.Nil(t, stored.LastLoginAt)
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	f := newAuthFixture(t)
	f.register(t, "victim@example.com", "password123")
	ctx := context.Background()

	_, wrongPassword := f.auth.Login(ctx, model.PasswordCredentials{Email: "victim@example.com", Password: "wrong-password"}, testDevice())
	_, unknownEmail := f.auth.Login(ctx, model.PasswordCredentials{Email: "nobody@example.com", Password: "password123"}, testDevice())

	// Neither failure mode may leak whether the account exists.
	assert.ErrorIs(t, wrongPassword, ErrNotAuthenticated)
	assert.ErrorIs(t, unknownEmail, ErrNotAuthenticated)
	assert.Equal(t, wrongPassword.Error(), unknownEmail.Error())
}

func TestLoginRefusesAccountWithoutPassword(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	// An account created through Google linking has an email but no hash.
	_, created, err := f.auth.LoginWithGoogle(ctx, model.OAuthIdentity{
		Provider: "google",
		Subject:  "google-sub-1",
		Email:    "oauth-only@example.com",
	}, testDevice())
	require.NoError(t, err)
	require.True(t, created)

	_, err = f.auth.Login(ctx, model.PasswordCredentials{Email: "oauth-only@example.com", Password: "password123"}, testDevice())
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

// -------------------- PHONE OTP --------------------

func TestLoginWithOTPAutoRegisters(t *testing.T) {
	f := newAuthFixture(t)

	first, created := f.loginWithOTP(t, "9876543210", "IN")
	assert.True(t, created)
	assert.True(t, first.User.IsPhoneVerified)

	second, created := f.loginWithOTP(t, "9876543210", "IN")
	assert.False(t, created)
	assert.Equal(t, first.User.ID, second.User.ID)
}

func TestLoginWithOTPRejectsWrongCode(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	_, err := f.otp.SendOTP(ctx, "9876543210", "IN")
	require.NoError(t, err)

	wrong := "000000"
	if f.notifier.lastCode() == wrong {
		wrong = "000001"
	}

	_, _, err = f.auth.LoginWithOTP(ctx, model.PhoneOTPCredentials{Phone: "9876543210", CountryCode: "IN", Code: wrong}, testDevice())
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	// No account gets created on a failed verification.
	_, err = f.store.UserByPhone(ctx, "9876543210", "IN")
	assert.Error(t, err)
}

// -------------------- EMAIL VERIFICATION --------------------

func TestVerifyEmailIsSingleUse(t *testing.T) {
	f := newAuthFixture(t)
	result := f.register(t, "verify@example.com", "password123")
	ctx := context.Background()

	tokenValue := f.notifier.lastToken()
	require.NoError(t, f.auth.VerifyEmail(ctx, tokenValue))

	stored, err := f.store.UserByID(ctx, result.User.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsVerified)

	assert.ErrorIs(t, f.auth.VerifyEmail(ctx, tokenValue), ErrNotAuthenticated)
}

func TestVerifyEmailRejectsUnknownToken(t *testing.T) {
	f := newAuthFixture(t)

	err := f.auth.VerifyEmail(context.Background(), "deadbeefdeadbeefdeadbeefdeadbeef")
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestResendVerificationEmail(t *testing.T) {
	f := newAuthFixture(t)
	f.register(t, "slow@example.com", "password123")
	ctx := context.Background()

	before := len(f.notifier.sent)
	require.NoError(t, f.auth.ResendVerificationEmail(ctx, "slow@example.com"))
	require.Len(t, f.notifier.sent, before+1)

	// The reissued token still verifies.
	require.NoError(t, f.auth.VerifyEmail(ctx, f.notifier.lastToken()))

	// Verified and unknown addresses are silently ignored.
	require.NoError(t, f.auth.ResendVerificationEmail(ctx, "slow@example.com"))
	require.NoError(t, f.auth.ResendVerificationEmail(ctx, "ghost@example.com"))
	assert.Len(t, f.notifier.sent, before+1)
}

func TestEmailVerifiedStatus(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	_, err := f.auth.EmailVerifiedStatus(ctx, "ghost@example.com")
	assert.ErrorIs(t, err, ErrNotFound)

	f.register(t, "status@example.com", "password123")
	verified, err := f.auth.EmailVerifiedStatus(ctx, "status@example.com")
	require.NoError(t, err)
	assert.False(t, verified)

	require.NoError(t, f.auth.VerifyEmail(ctx, f.notifier.lastToken()))
	verified, err = f.auth.EmailVerifiedStatus(ctx, "status@example.com")
	require.NoError(t, err)
	assert.True(t, verified)
}

// -------------------- PASSWORD RESET --------------------

func TestForgotPasswordIsSilentForUnknownEmail(t *testing.T) {
	f := newAuthFixture(t)

	before := len(f.notifier.sent)
	assert.NoError(t, f.auth.ForgotPassword(context.Background(), "ghost@example.com"))
	assert.Len(t, f.notifier.sent, before)
}

func TestResetPasswordRevokesAllSessions(t *testing.T) {
	f := newAuthFixture(t)
	f.registerVerified(t, "reset@example.com", "password123")
	ctx := context.Background()

	creds := model.PasswordCredentials{Email: "reset@example.com", Password: "password123"}
	session, err := f.auth.Login(ctx, creds, testDevice())
	require.NoError(t, err)

	require.NoError(t, f.auth.ForgotPassword(ctx, "reset@example.com"))
	resetToken := f.notifier.lastToken()
	require.NotEmpty(t, resetToken)

	require.NoError(t, f.auth.ResetPassword(ctx, resetToken, "fresh-password-1"))

	// Every session minted before the reset is dead.
	_, err = f.sessions.ValidateAccessToken(ctx, session.AccessToken)
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	// The old password no longer works, the new one does.
	_, err = f.auth.Login(ctx, creds, testDevice())
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	_, err = f.auth.Login(ctx, model.PasswordCredentials{Email: "reset@example.com", Password: "fresh-password-1"}, testDevice())
	assert.NoError(t, err)

	// The reset token is single use.
	err = f.auth.ResetPassword(ctx, resetToken, "another-password-1")
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestResetPasswordValidatesNewPassword(t *testing.T) {
	f := newAuthFixture(t)
	f.register(t, "weak@example.com", "password123")
	ctx := context.Background()

	require.NoError(t, f.auth.ForgotPassword(ctx, "weak@example.com"))

	err := f.auth.ResetPassword(ctx, f.notifier.lastToken(), "short")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

// -------------------- GOOGLE --------------------

func TestLoginWithGoogleLinksExistingEmailAccount(t *testing.T) {
	f := newAuthFixture(t)
	registered := f.register(t, "linked@example.com", "password123")
	ctx := context.Background()

	response, created, err := f.auth.LoginWithGoogle(ctx, model.OAuthIdentity{
		Provider: "google",
		Subject:  "google-sub-42",
		Email:    "linked@example.com",
	}, testDevice())
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, registered.User.ID, response.User.ID)

	stored, err := f.store.UserByGoogleID(ctx, "google-sub-42")
	require.NoError(t, err)
	assert.Equal(t, registered.User.ID, stored.ID)
}

func TestLoginWithGoogleRequiresSubject(t *testing.T) {
	f := newAuthFixture(t)

	_, _, err := f.auth.LoginWithGoogle(context.Background(), model.OAuthIdentity{Provider: "google", Email: "x@example.com"}, testDevice())
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestLoginWithGoogleReusesLinkedAccount(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	identity := model.OAuthIdentity{Provider: "google", Subject: "google-sub-7", Email: "g7@example.com"}

	first, created, err := f.auth.LoginWithGoogle(ctx, identity, testDevice())
	require.NoError(t, err)
	require.True(t, created)

	second, created, err := f.auth.LoginWithGoogle(ctx, identity, testDevice())
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.User.ID, second.User.ID)
}
