package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/xiaot623/agentrun/internal/domain"
)

// PostgresConfig holds connection pool settings.
type PostgresConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultPostgresConfig returns default configuration.
func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// PostgresStore implements Store using PostgreSQL (or CockroachDB).
type PostgresStore struct {
	sqlStore
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore opens dsn, pings it and applies the schema.
func NewPostgresStore(dsn string, config *PostgresConfig) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	if config == nil {
		config = DefaultPostgresConfig()
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), config.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := newPostgresStore(db)
	if err := store.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return store, nil
}

func newPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{sqlStore{db: db, numbered: true}}
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL DEFAULT '',
			user_id TEXT NOT NULL DEFAULT '',
			agent_id TEXT NOT NULL,
			input TEXT NOT NULL DEFAULT '',
			input_mode TEXT NOT NULL DEFAULT 'fit',
			turn_limit INTEGER NOT NULL,
			timeout_seconds INTEGER NOT NULL,
			status TEXT NOT NULL,
			conversation_id TEXT,
			scope TEXT NOT NULL DEFAULT 'private',
			result_channel TEXT NOT NULL,
			logs_channel TEXT NOT NULL,
			turns INTEGER NOT NULL DEFAULT 0,
			trigger_id TEXT,
			trigger_key TEXT,
			error TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			started_at TIMESTAMPTZ,
			ended_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_tenant_status ON runs(tenant_id, status, created_at)`,
		`CREATE TABLE IF NOT EXISTS run_logs (
			id BIGSERIAL PRIMARY KEY,
			run_id TEXT NOT NULL,
			agent_id TEXT NOT NULL DEFAULT '',
			user_id TEXT NOT NULL DEFAULT '',
			tenant_id TEXT NOT NULL DEFAULT '',
			scope TEXT NOT NULL DEFAULT 'private',
			type TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_run_logs_run ON run_logs(run_id, id)`,
		`CREATE TABLE IF NOT EXISTS agents (
			agent_id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL DEFAULT '',
			user_id TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL,
			system_prompt TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL DEFAULT '',
			temperature DOUBLE PRECISION NOT NULL DEFAULT 0,
			trigger_desc TEXT NOT NULL DEFAULT '',
			state TEXT NOT NULL DEFAULT '',
			tools TEXT NOT NULL DEFAULT '[]',
			memories TEXT NOT NULL DEFAULT '[]',
			version INTEGER NOT NULL DEFAULT 1,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS trigger_items (
			trigger_id TEXT NOT NULL,
			item_key TEXT NOT NULL,
			claimed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (trigger_id, item_key)
		)`,
	}
	for _, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// AppendRunLog inserts a log row and sets log.ID.
func (s *PostgresStore) AppendRunLog(ctx context.Context, log *domain.RunLog) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO run_logs (run_id, agent_id, user_id, tenant_id, scope, type, role, content, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`,
		log.RunID, log.AgentID, log.UserID, log.TenantID, string(log.Scope), log.Type, string(log.Role),
		string(log.Content), log.CreatedAt,
	).Scan(&log.ID)
	if err != nil {
		return fmt.Errorf("append run log: %w", err)
	}
	return nil
}
