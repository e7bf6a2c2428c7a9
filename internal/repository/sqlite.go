package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/xiaot623/agentrun/internal/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	sqlStore
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	store := &SQLiteStore{sqlStore{db: db}}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
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
			error TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			started_at DATETIME,
			ended_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_tenant_status ON runs(tenant_id, status, created_at)`,
		`CREATE TABLE IF NOT EXISTS run_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			agent_id TEXT NOT NULL DEFAULT '',
			user_id TEXT NOT NULL DEFAULT '',
			tenant_id TEXT NOT NULL DEFAULT '',
			scope TEXT NOT NULL DEFAULT 'private',
			type TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_run_logs_run ON run_logs(run_id, id)`,
		`CREATE TABLE IF NOT EXISTS agents (
			agent_id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL DEFAULT '',
			user_id TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL,
			system_prompt TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL DEFAULT '',
			temperature REAL NOT NULL DEFAULT 0,
			trigger_desc TEXT NOT NULL DEFAULT '',
			state TEXT NOT NULL DEFAULT '',
			tools TEXT NOT NULL DEFAULT '[]',
			memories TEXT NOT NULL DEFAULT '[]',
			version INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS trigger_items (
			trigger_id TEXT NOT NULL,
			item_key TEXT NOT NULL,
			claimed_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (trigger_id, item_key)
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}

	// Trigger provenance was added after the first release.
	if err := s.ensureColumn("runs", "trigger_id", "ALTER TABLE runs ADD COLUMN trigger_id TEXT"); err != nil {
		return err
	}
	if err := s.ensureColumn("runs", "trigger_key", "ALTER TABLE runs ADD COLUMN trigger_key TEXT"); err != nil {
		return err
	}
	return nil
}

func (s *SQLiteStore) ensureColumn(tableName, columnName, ddl string) error {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull int
		var dfltValue sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return err
		}
		if name == columnName {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	_, err = s.db.Exec(ddl)
	return err
}

// AppendRunLog inserts a log row and sets log.ID.
func (s *SQLiteStore) AppendRunLog(ctx context.Context, log *domain.RunLog) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO run_logs (run_id, agent_id, user_id, tenant_id, scope, type, role, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		log.RunID, log.AgentID, log.UserID, log.TenantID, string(log.Scope), log.Type, string(log.Role),
		string(log.Content), log.CreatedAt)
	if err != nil {
		return fmt.Errorf("append run log: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("append run log: %w", err)
	}
	log.ID = id
	return nil
}
