// Package database is the persistence layer: connection setup, schema, and
// typed repository functions over database/sql, grounded on the teacher's
// internal/database/database.go (sqlite3, inline schema string, *sql.DB
// wrapper, one method per query). Unlike the teacher, two drivers are
// supported behind the same schema and query set — mattn/go-sqlite3 for
// local/dev use and lib/pq for production Postgres, both already teacher
// dependencies — selected by the DSN scheme.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Driver identifies which SQL dialect a DB was opened with.
type Driver string

const (
	DriverSQLite   Driver = "sqlite3"
	DriverPostgres Driver = "postgres"
)

// DB wraps a *sql.DB with the driver it was opened against.
type DB struct {
	SQL    *sql.DB
	Driver Driver
}

// Open opens dsn, picking the driver by scheme: a "postgres://" or
// "postgresql://" prefix selects lib/pq, anything else is treated as a
// sqlite3 file path (including the ":memory:" DSN used by tests).
func Open(dsn string) (*DB, error) {
	driver := DriverSQLite
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		driver = DriverPostgres
	}

	sqlDB, err := sql.Open(string(driver), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database (%s): %w", driver, err)
	}

	if driver == DriverSQLite {
		if _, err := sqlDB.Exec("PRAGMA foreign_keys = ON"); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
		}
	}

	db := &DB{SQL: sqlDB, Driver: driver}
	if err := db.initSchema(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return db, nil
}

// Close closes the underlying connection pool.
func (db *DB) Close() error { return db.SQL.Close() }

// WithTx runs fn inside a single read-write transaction, committing on
// success and rolling back on error or panic. The multi-statement task and
// agent mutations go through this; single-row writes run on db.SQL
// directly.
func (db *DB) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := db.SQL.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()
	if err = fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (db *DB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS organizations (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS members (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL,
		email TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'member',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_members_org_user ON members(organization_id, user_id);

	CREATE TABLE IF NOT EXISTS board_acls (
		id TEXT PRIMARY KEY,
		board_id TEXT NOT NULL,
		member_id TEXT NOT NULL REFERENCES members(id) ON DELETE CASCADE,
		can_write INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_board_acls_board_member ON board_acls(board_id, member_id);

	CREATE TABLE IF NOT EXISTS gateways (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		url TEXT NOT NULL DEFAULT '',
		bearer_token TEXT NOT NULL DEFAULT '',
		main_session_key TEXT NOT NULL DEFAULT '',
		workspace_root TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS boards (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
		gateway_id TEXT REFERENCES gateways(id) ON DELETE SET NULL,
		name TEXT NOT NULL,
		objective TEXT NOT NULL DEFAULT '',
		target_date TIMESTAMP,
		goal_confirmed INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_boards_gateway ON boards(gateway_id);

	CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		board_id TEXT REFERENCES boards(id) ON DELETE CASCADE,
		gateway_id TEXT NOT NULL REFERENCES gateways(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		is_board_lead INTEGER NOT NULL DEFAULT 0,
		openclaw_session_id TEXT NOT NULL DEFAULT '',
		heartbeat_every TEXT NOT NULL DEFAULT '10m',
		heartbeat_target TEXT NOT NULL DEFAULT 'none',
		identity_profile TEXT NOT NULL DEFAULT '{}',
		identity_template TEXT NOT NULL DEFAULT '',
		soul_template TEXT NOT NULL DEFAULT '',
		agent_token_hash TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'provisioning',
		last_seen_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_agents_board_name ON agents(board_id, lower(name));
	CREATE INDEX IF NOT EXISTS idx_agents_gateway ON agents(gateway_id);
	CREATE INDEX IF NOT EXISTS idx_agents_session ON agents(openclaw_session_id);

	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		board_id TEXT NOT NULL REFERENCES boards(id) ON DELETE CASCADE,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'inbox',
		priority TEXT NOT NULL DEFAULT 'medium',
		assigned_agent_id TEXT REFERENCES agents(id) ON DELETE SET NULL,
		in_progress_at TIMESTAMP,
		review_at TIMESTAMP,
		done_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_board ON tasks(board_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_assigned_agent ON tasks(assigned_agent_id);

	CREATE TABLE IF NOT EXISTS task_dependencies (
		task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
		depends_on_task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
		created_at TIMESTAMP NOT NULL,
		PRIMARY KEY (task_id, depends_on_task_id)
	);
	CREATE INDEX IF NOT EXISTS idx_task_deps_depends_on ON task_dependencies(depends_on_task_id);

	CREATE TABLE IF NOT EXISTS activity_events (
		id TEXT PRIMARY KEY,
		board_id TEXT NOT NULL REFERENCES boards(id) ON DELETE CASCADE,
		event_type TEXT NOT NULL,
		task_id TEXT REFERENCES tasks(id) ON DELETE SET NULL,
		agent_id TEXT REFERENCES agents(id) ON DELETE SET NULL,
		message TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_activity_board_created ON activity_events(board_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_activity_task_comments ON activity_events(task_id, created_at) WHERE event_type = 'task.comment';

	CREATE TABLE IF NOT EXISTS board_memory (
		id TEXT PRIMARY KEY,
		board_id TEXT NOT NULL REFERENCES boards(id) ON DELETE CASCADE,
		author_id TEXT NOT NULL DEFAULT '',
		is_chat INTEGER NOT NULL DEFAULT 0,
		tags TEXT NOT NULL DEFAULT '[]',
		content TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_board_memory_board_chat_created ON board_memory(board_id, is_chat, created_at);

	CREATE TABLE IF NOT EXISTS approvals (
		id TEXT PRIMARY KEY,
		board_id TEXT NOT NULL REFERENCES boards(id) ON DELETE CASCADE,
		task_id TEXT REFERENCES tasks(id) ON DELETE SET NULL,
		title TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_approvals_board ON approvals(board_id);

	CREATE TABLE IF NOT EXISTS board_webhooks (
		id TEXT PRIMARY KEY,
		board_id TEXT NOT NULL REFERENCES boards(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		disabled INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS board_webhook_payloads (
		id TEXT PRIMARY KEY,
		webhook_id TEXT NOT NULL REFERENCES board_webhooks(id) ON DELETE CASCADE,
		board_id TEXT NOT NULL REFERENCES boards(id) ON DELETE CASCADE,
		body TEXT NOT NULL DEFAULT 'null',
		headers TEXT NOT NULL DEFAULT '{}',
		source_ip TEXT NOT NULL DEFAULT '',
		content_type TEXT NOT NULL DEFAULT '',
		received_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_webhook_payloads_webhook ON board_webhook_payloads(webhook_id, received_at);

	CREATE TABLE IF NOT EXISTS reconciliation_runs (
		kind TEXT NOT NULL,
		gateway_id TEXT NOT NULL DEFAULT '',
		ran_at TIMESTAMP NOT NULL,
		succeeded INTEGER NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (kind, gateway_id)
	);
	`

	if _, err := db.SQL.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}
