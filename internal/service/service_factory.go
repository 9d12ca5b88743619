package service

import (
	"auth-service/internal/config"
	"auth-service/internal/events"
	"auth-service/internal/hashing"
	"auth-service/internal/notify"
	"auth-service/internal/repository"
	redisrepo "auth-service/internal/repository/redis"
	"auth-service/internal/token"
)

// ServiceFactory creates and manages service instances
type ServiceFactory struct {
	store     repository.Store
	hasher    *hashing.Hasher
	tokens    *token.Manager
	sessCache *redisrepo.SessionCache
	rateLimit *redisrepo.RateLimitCache
	sms       notify.SMSSender
	mailer    notify.EmailSender
	publisher *events.Publisher
	cfg       *config.Config

	otpService     *OTPService
	sessionService *SessionService
	authService    *AuthService
}

// NewServiceFactory creates a new service factory
func NewServiceFactory(
	store repository.Store,
	hasher *hashing.Hasher,
	tokens *token.Manager,
	sessCache *redisrepo.SessionCache,
	rateLimit *redisrepo.RateLimitCache,
	sms notify.SMSSender,
	mailer notify.EmailSender,
	publisher *events.Publisher,
	cfg *config.Config,
) *ServiceFactory {
	return &ServiceFactory{
		store:     store,
		hasher:    hasher,
		tokens:    tokens,
		sessCache: sessCache,
		rateLimit: rateLimit,
		sms:       sms,
		mailer:    mailer,
		publisher: publisher,
		cfg:       cfg,
	}
}

// OTPService returns the OTP service instance (singleton)
func (f *ServiceFactory) OTPService() *OTPService {
	if f.otpService == nil {
		f.otpService = NewOTPService(f.store, f.hasher, f.rateLimit, f.sms, f.publisher, f.cfg.OTP)
	}
	return f.otpService
}

// SessionService returns the session service instance (singleton)
func (f *ServiceFactory) SessionService() *SessionService {
	if f.sessionService == nil {
		f.sessionService = NewSessionService(f.store, f.tokens, f.sessCache, f.publisher)
	}
	return f.sessionService
}

// AuthService returns the auth service instance (singleton)
func (f *ServiceFactory) AuthService() *AuthService {
	if f.authService == nil {
		f.authService = NewAuthService(
			f.store,
			f.hasher,
			f.OTPService(),
			f.SessionService(),
			f.mailer,
			f.publisher,
			f.cfg.Tokens,
		)
	}
	return f.authService
}
