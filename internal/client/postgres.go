package client

import (
	"context"
	"fmt"
	"time"

	"auth-service/internal/config"
	"auth-service/internal/util"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

// PostgresClient owns the pgx connection pool backing the credential store.
type PostgresClient struct {
	Pool   *pgxpool.Pool
	config *config.PostgresConfig
}

// NewPostgresClient builds the pool, pings it and applies pending goose
// migrations before anyone touches the store.
func NewPostgresClient(cfg *config.Config, logger *zap.Logger) (*PostgresClient, error) {
	pgConfig := cfg.Postgres

	poolConfig, err := pgxpool.ParseConfig(pgConfig.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Postgres URL: %w", err)
	}

	poolConfig.MaxConns = pgConfig.MaxConns
	poolConfig.MinConns = pgConfig.MinConns
	poolConfig.MaxConnLifetime = pgConfig.MaxConnLifetime
	poolConfig.MaxConnIdleTime = pgConfig.MaxConnIdleTime

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping Postgres: %w", err)
	}

	if err := runMigrations(pgConfig); err != nil {
		pool.Close()
		return nil, err
	}

	util.Info("Postgres client initialized",
		zap.Int32("max_conns", pgConfig.MaxConns),
		zap.String("migrations_dir", pgConfig.MigrationsDir),
	)

	return &PostgresClient{
		Pool:   pool,
		config: &pgConfig,
	}, nil
}

// runMigrations applies goose SQL migrations over a database/sql handle;
// goose does not speak the native pgx pool.
func runMigrations(cfg config.PostgresConfig) error {
	if cfg.MigrationsDir == "" {
		return nil
	}

	db, err := goose.OpenDBWithDriver("pgx", cfg.URL)
	if err != nil {
		return fmt.Errorf("failed to open migration connection: %w", err)
	}
	defer db.Close()

	goose.SetTableName("auth_goose_version")
	if err := goose.Up(db, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// HealthCheck verifies Postgres connectivity.
func (p *PostgresClient) HealthCheck(ctx context.Context) error {
	if err := p.Pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres ping failed: %w", err)
	}
	return nil
}

// Close drains the pool.
func (p *PostgresClient) Close() {
	if p.Pool != nil {
		p.Pool.Close()
		util.Info("Postgres client closed")
	}
}
