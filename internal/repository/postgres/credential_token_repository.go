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

func (s *Store) CreateCredentialToken(ctx context.Context, token *model.CredentialToken) error {
	const op = "postgres.CreateCredentialToken"

	_, err := s.db.Exec(ctx, `
		INSERT INTO credential_tokens (id, user_id, token, purpose, expires_at, used_at, created_at)
		VALUES ($1, $2, $3, $4, $5, NULL, $6)`,
		token.ID, token.UserID, token.Token, token.Purpose, token.ExpiresAt, token.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s: %w", op, repository.ErrAlreadyExists)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Store) CredentialTokenByValue(ctx context.Context, value string, purpose model.TokenPurpose) (*model.CredentialToken, error) {
	const op = "postgres.CredentialTokenByValue"

	var token model.CredentialToken
	err := s.db.QueryRow(ctx, `
		SELECT id, user_id, token, purpose, expires_at, used_at, created_at
		FROM credential_tokens
		WHERE token = $1 AND purpose = $2`,
		value, purpose,
	).Scan(
		&token.ID, &token.UserID, &token.Token, &token.Purpose,
		&token.ExpiresAt, &token.UsedAt, &token.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, repository.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &token, nil
}

// ConsumeEmailVerification marks the token used and flips the user's
// is_verified flag in one transaction. Consuming an already-used token
// reports ErrNotFound so the caller treats it as invalid.
func (s *Store) ConsumeEmailVerification(ctx context.Context, tokenID, userID uuid.UUID) error {
	const op = "postgres.ConsumeEmailVerification"

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()

	tag, err := tx.Exec(ctx,
		`UPDATE credential_tokens SET used_at = $2 WHERE id = $1 AND used_at IS NULL`,
		tokenID, now,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, repository.ErrNotFound)
	}

	_, err = tx.Exec(ctx,
		`UPDATE users SET is_verified = TRUE, updated_at = $2 WHERE id = $1`,
		userID, now,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ResetPassword replaces the password hash, consumes the reset token and
// revokes every session of the user in one transaction. All existing
// devices are signed out the moment the new password lands.
func (s *Store) ResetPassword(ctx context.Context, userID, tokenID uuid.UUID, passwordHash string) ([]uuid.UUID, error) {
	const op = "postgres.ResetPassword"

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()

	tag, err := tx.Exec(ctx,
		`UPDATE credential_tokens SET used_at = $2 WHERE id = $1 AND used_at IS NULL`,
		tokenID, now,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("%s: %w", op, repository.ErrNotFound)
	}

	tag, err = tx.Exec(ctx,
		`UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1`,
		userID, passwordHash, now,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("%s: %w", op, repository.ErrNotFound)
	}

	rows, err := tx.Query(ctx,
		`UPDATE refresh_tokens SET is_revoked = TRUE WHERE user_id = $1 AND is_revoked = FALSE RETURNING id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var revoked []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		revoked = append(revoked, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return revoked, nil
}
