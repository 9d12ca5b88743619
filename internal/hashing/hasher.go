package hashing

import (
	"errors"
	"fmt"

	"auth-service/internal/config"

	"golang.org/x/crypto/bcrypt"
)

var ErrHashFailed = errors.New("hashing failed")

// Hasher hashes short-lived OTP codes and long-lived passwords with bcrypt.
// bcrypt salts internally, so hashes are self-contained strings; the cost
// factor comes from config (10 by default, interactive-auth territory).
type Hasher struct {
	otpCost      int
	passwordCost int
}

func NewHasher(cfg *config.Config) *Hasher {
	cost := cfg.OTP.BcryptCost
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}

	return &Hasher{
		otpCost:      cost,
		passwordCost: bcrypt.DefaultCost,
	}
}

// HashOTP hashes a one-time code for storage.
func (h *Hasher) HashOTP(code string) (string, error) {
	return h.hash(code, h.otpCost)
}

// VerifyOTP compares a supplied code against a stored hash.
func (h *Hasher) VerifyOTP(code, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)) == nil
}

// HashPassword hashes a user password for storage.
func (h *Hasher) HashPassword(password string) (string, error) {
	return h.hash(password, h.passwordCost)
}

// VerifyPassword compares a supplied password against a stored hash.
func (h *Hasher) VerifyPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

func (h *Hasher) hash(data string, cost int) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(data), cost)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrHashFailed, err)
	}
	return string(bytes), nil
}
