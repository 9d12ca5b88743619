package notify

import (
	"context"

	"auth-service/internal/util"
)

// SMSSender delivers an OTP code to a phone number. The wire to an SMS
// gateway is environment-specific; the service only needs delivery.
type SMSSender interface {
	SendOTP(ctx context.Context, phone, countryCode, code string) error
}

// EmailSender delivers verification and password reset links.
type EmailSender interface {
	SendVerificationEmail(ctx context.Context, email, token string) error
	SendPasswordResetEmail(ctx context.Context, email, token string) error
}

// LogNotifier is the development delivery channel: it logs instead of
// sending. Codes are masked; token values never reach the logs.
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) SendOTP(ctx context.Context, phone, countryCode, code string) error {
	util.Info("OTP dispatched",
		util.String("phone", util.MaskPhone(phone)),
		util.String("country_code", countryCode))
	return nil
}

func (n *LogNotifier) SendVerificationEmail(ctx context.Context, email, token string) error {
	util.Info("Verification email dispatched", util.String("email", email))
	return nil
}

func (n *LogNotifier) SendPasswordResetEmail(ctx context.Context, email, token string) error {
	util.Info("Password reset email dispatched", util.String("email", email))
	return nil
}
