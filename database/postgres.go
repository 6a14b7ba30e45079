package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"salonsite/api/config"
)

type DBClient struct {
	DB     *sqlx.DB
	logger *zap.Logger
}

const postgresUsersSchema = `
	CREATE TABLE IF NOT EXISTS users (
		id              BIGSERIAL PRIMARY KEY,
		email           TEXT NOT NULL,
		hashed_password BYTEA NOT NULL,
		is_admin        BOOLEAN NOT NULL DEFAULT FALSE,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email ON users (email);
`

// Deleting a user keeps the visit and clears the reference.
const postgresVisitsSchema = `
	CREATE TABLE IF NOT EXISTS visits (
		id          UUID PRIMARY KEY,
		path        TEXT NOT NULL,
		timestamp   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		ip_address  TEXT,
		user_id     BIGINT REFERENCES users (id) ON DELETE SET NULL,
		session_key VARCHAR(40),
		referrer    VARCHAR(500),
		user_agent  VARCHAR(255),
		device_type VARCHAR(50)
	);
	CREATE INDEX IF NOT EXISTS idx_visits_timestamp ON visits (timestamp);
	CREATE INDEX IF NOT EXISTS idx_visits_path ON visits (path);
	CREATE INDEX IF NOT EXISTS idx_visits_ip_address ON visits (ip_address);
	CREATE INDEX IF NOT EXISTS idx_visits_session_key ON visits (session_key);
	CREATE INDEX IF NOT EXISTS idx_visits_user_id ON visits (user_id);
`

func NewPostgresDB(cfg config.PostgresConfig, logger *zap.Logger) (*DBClient, error) {
	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("error opening database connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to the database (ping failed): %w", err)
	}

	logger.Info("PostgreSQL connected",
		zap.Int("max_open_conns", cfg.MaxOpenConns),
		zap.Int("max_idle_conns", cfg.MaxIdleConns),
		zap.Duration("conn_max_lifetime", cfg.ConnMaxLifetime),
	)
	return &DBClient{DB: db, logger: logger}, nil
}

// Migrate creates the users table and, when withVisits is set, the visits
// table used by the PostgreSQL event store.
func (c *DBClient) Migrate(ctx context.Context, withVisits bool) error {
	if _, err := c.DB.ExecContext(ctx, postgresUsersSchema); err != nil {
		return fmt.Errorf("failed to create users table: %w", err)
	}
	if !withVisits {
		return nil
	}
	if _, err := c.DB.ExecContext(ctx, postgresVisitsSchema); err != nil {
		return fmt.Errorf("failed to create visits table: %w", err)
	}
	return nil
}

func (c *DBClient) Close() {
	if c.DB == nil {
		return
	}
	if err := c.DB.Close(); err != nil {
		c.logger.Error("could not close database", zap.Error(err))
		return
	}
	c.logger.Info("PostgreSQL connection closed")
}
