package postgres

import (
	"context"
	"errors"
	"fmt"

	"auth-service/internal/model"
	"auth-service/internal/repository"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const sessionColumns = `
	id, user_id, token, device_id, device_name, ip_address, user_agent,
	is_revoked, expires_at, last_used_at, created_at
`

func (s *Store) CreateSession(ctx context.Context, session *model.RefreshToken) error {
	const op = "postgres.CreateSession"

	_, err := s.db.Exec(ctx, `
		INSERT INTO refresh_tokens (
			id, user_id, token, device_id, device_name, ip_address, user_agent,
			is_revoked, expires_at, last_used_at, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, $8, NULL, $9)`,
		session.ID, session.UserID, session.Token,
		session.DeviceID, session.DeviceName, session.IPAddress, session.UserAgent,
		session.ExpiresAt, session.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s: %w", op, repository.ErrAlreadyExists)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Store) SessionByID(ctx context.Context, id uuid.UUID) (*model.RefreshToken, error) {
	const op = "postgres.SessionByID"
	query := `SELECT ` + sessionColumns + ` FROM refresh_tokens WHERE id = $1`
	return scanSession(op, s.db.QueryRow(ctx, query, id))
}

func (s *Store) SessionByToken(ctx context.Context, token string) (*model.RefreshToken, error) {
	const op = "postgres.SessionByToken"
	query := `SELECT ` + sessionColumns + ` FROM refresh_tokens WHERE token = $1`
	return scanSession(op, s.db.QueryRow(ctx, query, token))
}

// RotateSession revokes the presented session and inserts its successor
// in one transaction, so a crash can never leave two live rows for the
// same grant. A duplicate token value aborts the rotation.
func (s *Store) RotateSession(ctx context.Context, oldID uuid.UUID, next *model.RefreshToken) error {
	const op = "postgres.RotateSession"

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE refresh_tokens SET is_revoked = TRUE, last_used_at = $2 WHERE id = $1 AND is_revoked = FALSE`,
		oldID, next.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, repository.ErrNotFound)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO refresh_tokens (
			id, user_id, token, device_id, device_name, ip_address, user_agent,
			is_revoked, expires_at, last_used_at, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, $8, NULL, $9)`,
		next.ID, next.UserID, next.Token,
		next.DeviceID, next.DeviceName, next.IPAddress, next.UserAgent,
		next.ExpiresAt, next.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s: %w", op, repository.ErrAlreadyExists)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// RevokeSessions revokes every active session of the user. An empty
// deviceID means all devices; otherwise only sessions bound to that
// device are touched. Returns the revoked ids so caches can be purged.
func (s *Store) RevokeSessions(ctx context.Context, userID uuid.UUID, deviceID string) ([]uuid.UUID, error) {
	const op = "postgres.RevokeSessions"

	query := `
		UPDATE refresh_tokens
		SET is_revoked = TRUE
		WHERE user_id = $1 AND is_revoked = FALSE`
	args := []interface{}{userID}

	if deviceID != "" {
		query += ` AND device_id = $2`
		args = append(args, deviceID)
	}
	query += ` RETURNING id`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var revoked []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		revoked = append(revoked, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return revoked, nil
}

func scanSession(op string, row pgx.Row) (*model.RefreshToken, error) {
	var session model.RefreshToken
	err := row.Scan(
		&session.ID, &session.UserID, &session.Token,
		&session.DeviceID, &session.DeviceName, &session.IPAddress, &session.UserAgent,
		&session.IsRevoked, &session.ExpiresAt, &session.LastUsedAt, &session.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, repository.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &session, nil
}
