// Package store implements the repository contracts on database/sql.
// It supports both Postgres and SQLite via standard drivers; queries use
// $1-style placeholders, which both lib/pq and modernc.org/sqlite accept.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Open opens a database handle for the given driver ("postgres" or
// "sqlite") and verifies connectivity.
func Open(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	switch driver {
	case "postgres", "sqlite":
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return db, nil
}

const ddl = `
CREATE TABLE IF NOT EXISTS subjects (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_subjects_tenant ON subjects (tenant_id);

CREATE TABLE IF NOT EXISTS events (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	subject_id TEXT NOT NULL,
	event_type TEXT NOT NULL,
	schema_version INTEGER NOT NULL,
	event_time TIMESTAMP NOT NULL,
	payload TEXT NOT NULL,
	hash TEXT NOT NULL,
	previous_hash TEXT,
	workflow_instance_id TEXT,
	correlation_id TEXT,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_subject_time ON events (subject_id, event_time);
CREATE INDEX IF NOT EXISTS idx_events_tenant ON events (tenant_id);

CREATE TABLE IF NOT EXISTS event_schemas (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	event_type TEXT NOT NULL,
	schema_version INTEGER NOT NULL,
	definition TEXT NOT NULL,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	UNIQUE (tenant_id, event_type, schema_version)
);

CREATE TABLE IF NOT EXISTS event_transition_rules (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	event_type TEXT NOT NULL,
	required_prior_event_types TEXT,
	prior_event_payload_conditions TEXT,
	max_occurrences_per_stream INTEGER,
	fresh_prior_event_type TEXT,
	description TEXT,
	UNIQUE (tenant_id, event_type)
);

CREATE TABLE IF NOT EXISTS workflows (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	name TEXT NOT NULL,
	trigger_event_type TEXT NOT NULL,
	trigger_conditions TEXT,
	trigger_expression TEXT,
	actions TEXT NOT NULL,
	max_executions_per_day INTEGER,
	execution_order INTEGER NOT NULL DEFAULT 0,
	is_active BOOLEAN NOT NULL DEFAULT TRUE
);
CREATE INDEX IF NOT EXISTS idx_workflows_trigger ON workflows (tenant_id, trigger_event_type);

CREATE TABLE IF NOT EXISTS workflow_executions (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	workflow_id TEXT NOT NULL,
	triggered_by_event_id TEXT NOT NULL,
	triggered_by_subject_id TEXT NOT NULL,
	status TEXT NOT NULL,
	started_at TIMESTAMP NOT NULL,
	completed_at TIMESTAMP,
	actions_executed INTEGER NOT NULL DEFAULT 0,
	actions_failed INTEGER NOT NULL DEFAULT 0,
	execution_log TEXT,
	error_message TEXT
);
CREATE INDEX IF NOT EXISTS idx_executions_workflow_day ON workflow_executions (workflow_id, tenant_id, started_at);

CREATE TABLE IF NOT EXISTS subject_snapshots (
	id TEXT PRIMARY KEY,
	subject_id TEXT NOT NULL,
	tenant_id TEXT NOT NULL,
	snapshot_at_event_id TEXT NOT NULL,
	state_json TEXT NOT NULL,
	event_count_at_snapshot INTEGER NOT NULL,
	created_at TIMESTAMP NOT NULL,
	UNIQUE (subject_id, tenant_id)
);

CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	title TEXT NOT NULL,
	description TEXT,
	subject_id TEXT,
	assigned_role TEXT,
	assigned_user_id TEXT,
	due_at TIMESTAMP,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	email TEXT NOT NULL,
	is_active BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS roles (
	id TEXT PRIMARY KEY,
	code TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS user_roles (
	user_id TEXT NOT NULL,
	role_id TEXT NOT NULL,
	PRIMARY KEY (user_id, role_id)
);
`

// Init creates all tables if they do not exist. Statements are executed one
// at a time because the SQLite driver rejects multi-statement Exec.
func Init(ctx context.Context, db *sql.DB) error {
	for _, stmt := range splitStatements(ddl) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func splitStatements(script string) []string {
	var out []string
	for _, stmt := range strings.Split(script, ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

// nullString converts an optional string for binding.
func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func stringPtr(n sql.NullString) *string {
	if !n.Valid {
		return nil
	}
	s := n.String
	return &s
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}
