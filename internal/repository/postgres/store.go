package postgres

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"auth-service/internal/client"
	"auth-service/internal/encryption"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Store is the Postgres credential store. One instance implements every
// repository interface; phone numbers are envelope-encrypted before they
// touch a row and looked up through a SHA-256 hash column.
type Store struct {
	db     *pgxpool.Pool
	enc    *encryption.Manager
	logger *zap.Logger
}

func NewStore(pg *client.PostgresClient, enc *encryption.Manager, logger *zap.Logger) *Store {
	return &Store{
		db:     pg.Pool,
		enc:    enc,
		logger: logger,
	}
}

func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("store ping failed: %w", err)
	}
	return nil
}

// hashPhone produces the deterministic lookup key for a normalized number.
func hashPhone(phone, countryCode string) string {
	sum := sha256.Sum256([]byte(countryCode + ":" + phone))
	return hex.EncodeToString(sum[:])
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}
