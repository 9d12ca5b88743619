package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"auth-service/internal/encryption"
	"auth-service/internal/model"
	"auth-service/internal/repository"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const userColumns = `
	id, email, phone_hash, phone_encrypted, phone_dek, phone_key_id,
	country_code, password_hash, google_id, name, role,
	is_verified, is_phone_verified, is_active,
	last_login_at, created_at, updated_at
`

// CreateUser inserts a new identity record. The phone number, when
// present, is envelope-encrypted and indexed by hash.
func (s *Store) CreateUser(ctx context.Context, user *model.User) error {
	const op = "postgres.CreateUser"

	phoneHash, encrypted, err := s.encryptPhone(ctx, user)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	query := `
		INSERT INTO users (
			id, email, phone_hash, phone_encrypted, phone_dek, phone_key_id,
			country_code, password_hash, google_id, name, role,
			is_verified, is_phone_verified, is_active,
			last_login_at, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`

	_, err = s.db.Exec(ctx, query,
		user.ID, lowerPtr(user.Email),
		phoneHash, encrypted.ciphertext, encrypted.dek, encrypted.keyID,
		user.CountryCode, user.PasswordHash, user.GoogleID, user.Name, user.Role,
		user.IsVerified, user.IsPhoneVerified, user.IsActive,
		user.LastLoginAt, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s: %w", op, repository.ErrAlreadyExists)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Store) UserByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	const op = "postgres.UserByID"
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return s.scanUser(ctx, op, s.db.QueryRow(ctx, query, id))
}

func (s *Store) UserByEmail(ctx context.Context, email string) (*model.User, error) {
	const op = "postgres.UserByEmail"
	query := `SELECT ` + userColumns + ` FROM users WHERE email = lower($1)`
	return s.scanUser(ctx, op, s.db.QueryRow(ctx, query, email))
}

func (s *Store) UserByPhone(ctx context.Context, phone, countryCode string) (*model.User, error) {
	const op = "postgres.UserByPhone"
	query := `SELECT ` + userColumns + ` FROM users WHERE phone_hash = $1 AND country_code = $2`
	return s.scanUser(ctx, op, s.db.QueryRow(ctx, query, hashPhone(phone, countryCode), countryCode))
}

func (s *Store) UserByGoogleID(ctx context.Context, googleID string) (*model.User, error) {
	const op = "postgres.UserByGoogleID"
	query := `SELECT ` + userColumns + ` FROM users WHERE google_id = $1`
	return s.scanUser(ctx, op, s.db.QueryRow(ctx, query, googleID))
}

// FindOrCreateUserByPhone is the auto-registration step of OTP login:
// first successful verification creates the account. Runs in one
// transaction so a row either exists verified-and-stamped or not at all.
func (s *Store) FindOrCreateUserByPhone(ctx context.Context, phone, countryCode string, now time.Time) (*model.User, bool, error) {
	const op = "postgres.FindOrCreateUserByPhone"

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	defer tx.Rollback(ctx)

	phoneHash := hashPhone(phone, countryCode)

	query := `SELECT ` + userColumns + ` FROM users WHERE phone_hash = $1 AND country_code = $2 FOR UPDATE`
	user, err := s.scanUserRow(ctx, tx.QueryRow(ctx, query, phoneHash, countryCode))

	switch {
	case err == nil:
		_, err = tx.Exec(ctx,
			`UPDATE users SET is_phone_verified = TRUE, last_login_at = $2, updated_at = $2 WHERE id = $1`,
			user.ID, now,
		)
		if err != nil {
			return nil, false, fmt.Errorf("%s: %w", op, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, false, fmt.Errorf("%s: %w", op, err)
		}
		user.IsPhoneVerified = true
		user.LastLoginAt = &now
		return user, false, nil

	case errors.Is(err, pgx.ErrNoRows):
		encrypted, encErr := s.enc.EncryptField(ctx, phone)
		if encErr != nil {
			return nil, false, fmt.Errorf("%s: %w", op, encErr)
		}

		user = &model.User{
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

		_, err = tx.Exec(ctx, `
			INSERT INTO users (
				id, phone_hash, phone_encrypted, phone_dek, phone_key_id,
				country_code, role, is_phone_verified, is_active,
				last_login_at, created_at, updated_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE, TRUE, $8, $8, $8)`,
			user.ID, phoneHash, encrypted.Ciphertext, encrypted.EncryptedDEK, encrypted.KeyID,
			countryCode, user.Role, now,
		)
		if err != nil {
			if isUniqueViolation(err) {
				// Lost a creation race; the winner's row is the user.
				return nil, false, fmt.Errorf("%s: %w", op, repository.ErrAlreadyExists)
			}
			return nil, false, fmt.Errorf("%s: %w", op, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, false, fmt.Errorf("%s: %w", op, err)
		}
		return user, true, nil

	default:
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
}

func (s *Store) UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	const op = "postgres.UpdateLastLogin"

	tag, err := s.db.Exec(ctx,
		`UPDATE users SET last_login_at = $2, updated_at = $2 WHERE id = $1`,
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

func (s *Store) AttachGoogleID(ctx context.Context, id uuid.UUID, googleID string) error {
	const op = "postgres.AttachGoogleID"

	tag, err := s.db.Exec(ctx,
		`UPDATE users SET google_id = $2, is_verified = TRUE, updated_at = now() WHERE id = $1`,
		id, googleID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s: %w", op, repository.ErrAlreadyExists)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, repository.ErrNotFound)
	}
	return nil
}

// -------------------- scanning / encryption helpers --------------------

type encryptedPhone struct {
	ciphertext *string
	dek        *string
	keyID      *string
}

func (s *Store) encryptPhone(ctx context.Context, user *model.User) (*string, encryptedPhone, error) {
	if user.Phone == nil || *user.Phone == "" {
		return nil, encryptedPhone{}, nil
	}
	if user.CountryCode == nil {
		return nil, encryptedPhone{}, fmt.Errorf("phone without country code")
	}

	field, err := s.enc.EncryptField(ctx, *user.Phone)
	if err != nil {
		return nil, encryptedPhone{}, err
	}

	hash := hashPhone(*user.Phone, *user.CountryCode)
	return &hash, encryptedPhone{
		ciphertext: &field.Ciphertext,
		dek:        &field.EncryptedDEK,
		keyID:      &field.KeyID,
	}, nil
}

func (s *Store) scanUser(ctx context.Context, op string, row pgx.Row) (*model.User, error) {
	user, err := s.scanUserRow(ctx, row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, repository.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return user, nil
}

func (s *Store) scanUserRow(ctx context.Context, row pgx.Row) (*model.User, error) {
	var (
		user       model.User
		phoneHash  *string
		ciphertext *string
		dek        *string
		keyID      *string
	)

	err := row.Scan(
		&user.ID, &user.Email, &phoneHash, &ciphertext, &dek, &keyID,
		&user.CountryCode, &user.PasswordHash, &user.GoogleID, &user.Name, &user.Role,
		&user.IsVerified, &user.IsPhoneVerified, &user.IsActive,
		&user.LastLoginAt, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if ciphertext != nil && dek != nil && keyID != nil {
		phone, decErr := s.enc.DecryptField(ctx, &encryption.EncryptedField{
			Ciphertext:   *ciphertext,
			EncryptedDEK: *dek,
			KeyID:        *keyID,
		})
		if decErr != nil {
			return nil, decErr
		}
		user.Phone = &phone
	}

	return &user, nil
}

func lowerPtr(s *string) *string {
	if s == nil {
		return nil
	}
	lowered := strings.ToLower(*s)
	return &lowered
}
