package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"time"

	"auth-service/internal/config"
	"auth-service/internal/events"
	"auth-service/internal/hashing"
	"auth-service/internal/model"
	"auth-service/internal/notify"
	"auth-service/internal/repository"
	redisrepo "auth-service/internal/repository/redis"
	"auth-service/internal/util"

	"github.com/google/uuid"
)

// OTPService owns the OTP challenge lifecycle: issue, verify, resend.
// Every challenge is a Postgres row; Redis only pre-screens the send
// rate limit.
type OTPService struct {
	store     repository.Store
	hasher    *hashing.Hasher
	rateLimit *redisrepo.RateLimitCache
	notifier  notify.SMSSender
	publisher *events.Publisher
	cfg       config.OTPConfig
}

// SendOTPResult is the challenge receipt: seconds until the code
// expires, the earliest moment a resend is accepted, and how many
// resends remain.
type SendOTPResult struct {
	ExpiresIn   int       `json:"expires_in"`
	CanResendAt time.Time `json:"can_resend_at"`
	ResendsLeft int       `json:"resends_left"`
}

func NewOTPService(
	store repository.Store,
	hasher *hashing.Hasher,
	rateLimit *redisrepo.RateLimitCache,
	notifier notify.SMSSender,
	publisher *events.Publisher,
	cfg config.OTPConfig,
) *OTPService {
	return &OTPService{
		store:     store,
		hasher:    hasher,
		rateLimit: rateLimit,
		notifier:  notifier,
		publisher: publisher,
		cfg:       cfg,
	}
}

// SendOTP issues a new challenge for the number, superseding any live
// challenge of the same purpose. The purpose follows the account state:
// a known number gets LOGIN, an unknown one REGISTRATION. At most
// cfg.RateLimitMax sends per number inside cfg.RateLimitWindow.
func (s *OTPService) SendOTP(ctx context.Context, phone, countryCode string) (*SendOTPResult, error) {
	normalized, err := normalizePhoneInput(phone, countryCode)
	if err != nil {
		return nil, err
	}

	purpose := model.OTPPurposeRegistration
	if _, err := s.store.UserByPhone(ctx, normalized, countryCode); err == nil {
		purpose = model.OTPPurposeLogin
	} else if !errors.Is(err, repository.ErrNotFound) {
		// The challenge still goes out; the purpose only informs copy.
		util.Warn("User lookup failed during otp send",
			util.String("phone", util.MaskPhone(normalized)),
			util.ErrorField(err))
	}

	now := time.Now().UTC()

	if err := s.checkSendLimit(ctx, normalized, countryCode, now); err != nil {
		return nil, err
	}

	code, err := generateOTPCode()
	if err != nil {
		return nil, fmt.Errorf("generate otp: %w", err)
	}

	hash, err := s.hasher.HashOTP(code)
	if err != nil {
		return nil, fmt.Errorf("hash otp: %w", err)
	}

	otp := &model.OTPVerification{
		ID:           uuid.New(),
		PhoneNumber:  normalized,
		CountryCode:  countryCode,
		OTPCode:      code,
		OTPHash:      hash,
		Purpose:      purpose,
		MaxAttempts:  s.cfg.MaxAttempts,
		LastResentAt: now,
		ExpiresAt:    now.Add(s.cfg.Expiry),
		CreatedAt:    now,
	}

	if err := s.store.CreateOTP(ctx, otp); err != nil {
		return nil, fmt.Errorf("create otp: %w", err)
	}

	// Delivery is fire-and-forget. The challenge row is already live
	// and counted against the rate limit; a gateway failure is logged
	// and the client retries through resend.
	if err := s.notifier.SendOTP(ctx, normalized, countryCode, code); err != nil {
		util.Error("OTP delivery failed",
			util.String("phone", util.MaskPhone(normalized)),
			util.ErrorField(err))
	}

	s.record(ctx, uuid.Nil, model.EventOTPSent, map[string]string{
		"phone":   util.MaskPhone(normalized),
		"purpose": string(purpose),
	})

	return &SendOTPResult{
		ExpiresIn:   int(s.cfg.Expiry.Seconds()),
		CanResendAt: now.Add(s.cfg.ResendCooldown),
		ResendsLeft: s.cfg.MaxResends,
	}, nil
}

// VerifyOTP checks the submitted code against the live challenge.
// The attempt-cap check precedes the compare, and the counter moves on
// every compare, so the cap cannot be probed past.
func (s *OTPService) VerifyOTP(ctx context.Context, phone, countryCode, code string) (*model.OTPVerification, error) {
	normalized, err := normalizePhoneInput(phone, countryCode)
	if err != nil {
		return nil, err
	}
	if len(code) != 6 {
		return nil, fmt.Errorf("%w: otp code must be 6 digits", ErrInvalidInput)
	}

	otp, err := s.store.LatestActiveOTP(ctx, normalized, countryCode)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: no active otp challenge", ErrNotAuthenticated)
		}
		return nil, fmt.Errorf("load otp: %w", err)
	}

	if otp.Attempts >= otp.MaxAttempts {
		return nil, fmt.Errorf("%w: otp attempts exhausted", ErrPermissionDenied)
	}

	match := s.hasher.VerifyOTP(code, otp.OTPHash)

	attempts, err := s.store.IncrementOTPAttempts(ctx, otp.ID)
	if err != nil {
		return nil, fmt.Errorf("count otp attempt: %w", err)
	}

	if !match {
		return nil, fmt.Errorf("%w: otp mismatch, %d attempts remaining", ErrNotAuthenticated, otp.MaxAttempts-attempts)
	}

	now := time.Now().UTC()
	if err := s.store.MarkOTPVerified(ctx, otp.ID, now); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// A concurrent verify won; this submission loses.
			return nil, fmt.Errorf("%w: otp already consumed", ErrNotAuthenticated)
		}
		return nil, fmt.Errorf("mark otp verified: %w", err)
	}

	otp.IsVerified = true
	otp.VerifiedAt = &now

	s.record(ctx, uuid.Nil, model.EventOTPVerified, map[string]string{
		"phone":   util.MaskPhone(normalized),
		"purpose": string(otp.Purpose),
	})

	return otp, nil
}

// ResendOTP redelivers the live challenge's code. Capped at
// cfg.MaxResends per challenge with cfg.ResendCooldown between sends.
func (s *OTPService) ResendOTP(ctx context.Context, phone, countryCode string) (*SendOTPResult, error) {
	normalized, err := normalizePhoneInput(phone, countryCode)
	if err != nil {
		return nil, err
	}

	otp, err := s.store.LatestActiveOTP(ctx, normalized, countryCode)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: no active otp challenge", ErrNotFound)
		}
		return nil, fmt.Errorf("load otp: %w", err)
	}

	// Cooldown before the cap: a caller inside the wait window hears
	// how long to wait, even when the cap is already spent.
	now := time.Now().UTC()
	if remaining := s.cfg.ResendCooldown - now.Sub(otp.LastResentAt); remaining > 0 {
		return nil, fmt.Errorf("%w: resend available in %d seconds", ErrRateLimited, int(remaining.Seconds())+1)
	}

	if otp.ResentCount >= s.cfg.MaxResends {
		return nil, fmt.Errorf("%w: otp resends exhausted", ErrPermissionDenied)
	}

	if err := s.store.MarkOTPResent(ctx, otp.ID, now); err != nil {
		return nil, fmt.Errorf("mark otp resent: %w", err)
	}

	// Same fire-and-forget contract as the first send.
	if err := s.notifier.SendOTP(ctx, normalized, countryCode, otp.OTPCode); err != nil {
		util.Error("OTP redelivery failed",
			util.String("phone", util.MaskPhone(normalized)),
			util.ErrorField(err))
	}

	s.record(ctx, uuid.Nil, model.EventOTPResent, map[string]string{
		"phone": util.MaskPhone(normalized),
	})

	return &SendOTPResult{
		ExpiresIn:   int(otp.ExpiresAt.Sub(now).Seconds()),
		CanResendAt: now.Add(s.cfg.ResendCooldown),
		ResendsLeft: s.cfg.MaxResends - otp.ResentCount - 1,
	}, nil
}

// checkSendLimit enforces the per-number send cap. The Redis counter
// rejects hot loops cheaply; the Postgres count is the authority and a
// Redis outage only skips the fast path.
func (s *OTPService) checkSendLimit(ctx context.Context, phone, countryCode string, now time.Time) error {
	if s.rateLimit != nil {
		phoneHash := hashPhoneKey(phone, countryCode)
		count, err := s.rateLimit.IncrementOTPSends(ctx, phoneHash, s.cfg.RateLimitWindow)
		if err == nil && count > int64(s.cfg.RateLimitMax) {
			s.record(ctx, uuid.Nil, model.EventRateLimited, map[string]string{
				"phone": util.MaskPhone(phone),
				"what":  "otp_send",
			})
			return fmt.Errorf("%w: too many otp requests", ErrRateLimited)
		}
	}

	recent, err := s.store.CountRecentOTPs(ctx, phone, countryCode, now.Add(-s.cfg.RateLimitWindow))
	if err != nil {
		return fmt.Errorf("count recent otps: %w", err)
	}
	if recent >= s.cfg.RateLimitMax {
		s.record(ctx, uuid.Nil, model.EventRateLimited, map[string]string{
			"phone": util.MaskPhone(phone),
			"what":  "otp_send",
		})
		return fmt.Errorf("%w: too many otp requests", ErrRateLimited)
	}
	return nil
}

func (s *OTPService) record(ctx context.Context, userID uuid.UUID, eventType model.EventType, metadata map[string]string) {
	if s.publisher == nil {
		return
	}
	event := &model.ActivityEvent{
		UserID:    userID,
		EventType: eventType,
		Metadata:  metadata,
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		util.Warn("Failed to record otp event",
			util.String("event_type", string(eventType)),
			util.ErrorField(err))
	}
}

// normalizePhoneInput validates and normalizes a phone submission. A
// usable national number has at least ten digits and a resolvable
// country.
func normalizePhoneInput(phone, countryCode string) (string, error) {
	if countryCode == "" || util.CallingCode(countryCode) == "" {
		return "", fmt.Errorf("%w: unknown country code", ErrInvalidInput)
	}
	normalized := util.NormalizePhone(phone, countryCode)
	if len(normalized) < 10 {
		return "", fmt.Errorf("%w: phone number too short", ErrInvalidInput)
	}
	return normalized, nil
}

// generateOTPCode draws a uniform 6-digit code from crypto/rand.
func generateOTPCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

func hashPhoneKey(phone, countryCode string) string {
	sum := sha256.Sum256([]byte(countryCode + ":" + phone))
	return hex.EncodeToString(sum[:])
}
