package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"auth-service/internal/model"
	"auth-service/internal/repository"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const otpColumns = `
	id, phone_hash, phone_number, country_code, otp_code, otp_hash, purpose,
	is_verified, verified_at, attempts, max_attempts,
	resent_count, last_resent_at, expires_at, created_at
`

func (s *Store) CountRecentOTPs(ctx context.Context, phone, countryCode string, since time.Time) (int, error) {
	const op = "postgres.CountRecentOTPs"

	var count int
	err := s.db.QueryRow(ctx,
		`SELECT count(*) FROM otp_verifications WHERE phone_hash = $1 AND created_at >= $2`,
		hashPhone(phone, countryCode), since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return count, nil
}

// CreateOTP supersedes earlier unverified challenges of the same purpose
// and inserts the new one atomically, so at most one record per
// phone+purpose is ever live.
func (s *Store) CreateOTP(ctx context.Context, otp *model.OTPVerification) error {
	const op = "postgres.CreateOTP"

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer tx.Rollback(ctx)

	phoneHash := hashPhone(otp.PhoneNumber, otp.CountryCode)

	_, err = tx.Exec(ctx, `
		UPDATE otp_verifications
		SET expires_at = $3
		WHERE phone_hash = $1 AND purpose = $2 AND is_verified = FALSE AND expires_at > $3`,
		phoneHash, otp.Purpose, otp.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO otp_verifications (
			id, phone_hash, phone_number, country_code, otp_code, otp_hash, purpose,
			is_verified, verified_at, attempts, max_attempts,
			resent_count, last_resent_at, expires_at, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, NULL, 0, $8, 0, $9, $10, $9)`,
		otp.ID, phoneHash, otp.PhoneNumber, otp.CountryCode, otp.OTPCode, otp.OTPHash, otp.Purpose,
		otp.MaxAttempts, otp.CreatedAt, otp.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Store) LatestActiveOTP(ctx context.Context, phone, countryCode string) (*model.OTPVerification, error) {
	const op = "postgres.LatestActiveOTP"

	query := `
		SELECT ` + otpColumns + `
		FROM otp_verifications
		WHERE phone_hash = $1 AND is_verified = FALSE AND expires_at > now()
		ORDER BY created_at DESC
		LIMIT 1`

	otp, err := scanOTP(s.db.QueryRow(ctx, query, hashPhone(phone, countryCode)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, repository.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return otp, nil
}

// IncrementOTPAttempts bumps the attempt counter and returns the new
// value. The increment happens in the database so concurrent wrong
// guesses cannot share a count.
func (s *Store) IncrementOTPAttempts(ctx context.Context, id uuid.UUID) (int, error) {
	const op = "postgres.IncrementOTPAttempts"

	var attempts int
	err := s.db.QueryRow(ctx,
		`UPDATE otp_verifications SET attempts = attempts + 1 WHERE id = $1 RETURNING attempts`,
		id,
	).Scan(&attempts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("%s: %w", op, repository.ErrNotFound)
		}
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return attempts, nil
}

func (s *Store) MarkOTPVerified(ctx context.Context, id uuid.UUID, at time.Time) error {
	const op = "postgres.MarkOTPVerified"

	tag, err := s.db.Exec(ctx,
		`UPDATE otp_verifications SET is_verified = TRUE, verified_at = $2 WHERE id = $1 AND is_verified = FALSE`,
		id, at,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, repository.ErrNotFound)
	}
	return nil
}

func (s *Store) MarkOTPResent(ctx context.Context, id uuid.UUID, at time.Time) error {
	const op = "postgres.MarkOTPResent"

	tag, err := s.db.Exec(ctx,
		`UPDATE otp_verifications SET resent_count = resent_count + 1, last_resent_at = $2 WHERE id = $1`,
		id, at,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, repository.ErrNotFound)
	}
	return nil
}

func scanOTP(row pgx.Row) (*model.OTPVerification, error) {
	var (
		otp       model.OTPVerification
		phoneHash string
	)
	err := row.Scan(
		&otp.ID, &phoneHash, &otp.PhoneNumber, &otp.CountryCode,
		&otp.OTPCode, &otp.OTPHash, &otp.Purpose,
		&otp.IsVerified, &otp.VerifiedAt, &otp.Attempts, &otp.MaxAttempts,
		&otp.ResentCount, &otp.LastResentAt, &otp.ExpiresAt, &otp.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &otp, nil
}
