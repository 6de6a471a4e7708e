// Package store provides the sqlite-backed relational store for the
// caseworker engine: cases, messages, proposals, runs, locks, waitpoints,
// executions, and activity log entries. Grounded on the teacher pack's
// madhatter5501-Factory internal/db package: a versioned migration table
// applied with database/sql against modernc.org/sqlite, WAL mode, and
// hand-written CRUD with JSON-marshaled list/struct columns.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DB wraps the SQL connection and applies schema migrations on Open.
type DB struct {
	*sql.DB
}

// Open opens (creating if necessary) a sqlite database at path and brings
// its schema up to date. path may be ":memory:" for tests.
func Open(path string) (*DB, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create store directory: %w", err)
			}
		}
	}

	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA foreign_keys=ON"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA busy_timeout=5000"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	d := &DB{DB: sqlDB}
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return d, nil
}

func (d *DB) migrate() error {
	if _, err := d.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	var version int
	row := d.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&version); err != nil {
		return fmt.Errorf("read migration version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migration1Cases},
		{2, migration2Messages},
		{3, migration3Proposals},
		{4, migration4Runs},
		{5, migration5Locks},
		{6, migration6Waitpoints},
		{7, migration7Executions},
		{8, migration8ActivityLog},
	}

	for _, m := range migrations {
		if m.version <= version {
			continue
		}
		if _, err := d.Exec(m.sql); err != nil {
			return fmt.Errorf("migration %d: %w", m.version, err)
		}
		if _, err := d.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

const migration1Cases = `
CREATE TABLE IF NOT EXISTS cases (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	substatus TEXT,
	autopilot_mode TEXT NOT NULL DEFAULT 'SUPERVISED',
	requires_human INTEGER NOT NULL DEFAULT 0,
	pause_reason TEXT,
	agency_email TEXT,
	portal_url TEXT,
	deadline_date DATETIME,
	fee_quote TEXT,
	scope_items TEXT,
	constraints TEXT,
	outcome_type TEXT,
	outcome_summary TEXT,
	last_portal_status TEXT,
	closed_at DATETIME,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_cases_status ON cases(status);
`

const migration2Messages = `
CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	case_id TEXT NOT NULL REFERENCES cases(id),
	direction TEXT NOT NULL,
	channel TEXT NOT NULL,
	from_address TEXT,
	subject TEXT,
	body_text TEXT,
	body_html TEXT,
	attachments TEXT,
	received_at DATETIME,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	processed_at DATETIME,
	processed_run_id TEXT,
	analysis TEXT,
	dedupe_key TEXT
);

CREATE INDEX IF NOT EXISTS idx_messages_case_id ON messages(case_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_dedupe ON messages(case_id, dedupe_key) WHERE dedupe_key IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_messages_unprocessed ON messages(case_id, processed_at);
`

const migration3Proposals = `
CREATE TABLE IF NOT EXISTS proposals (
	id TEXT PRIMARY KEY,
	case_id TEXT NOT NULL REFERENCES cases(id),
	trigger_message_id TEXT,
	action_type TEXT NOT NULL,
	proposal_key TEXT NOT NULL,
	status TEXT NOT NULL,
	confidence REAL NOT NULL DEFAULT 0,
	risk_flags TEXT,
	warnings TEXT,
	gate_options TEXT,
	draft_subject TEXT,
	draft_body_text TEXT,
	draft_body_html TEXT,
	reasoning TEXT,
	waitpoint_token TEXT,
	execution_key TEXT,
	run_id TEXT,
	human_decision TEXT,
	executed_at DATETIME,
	email_job_id TEXT,
	adjustment_count INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_proposals_key ON proposals(case_id, proposal_key);
CREATE INDEX IF NOT EXISTS idx_proposals_case_id ON proposals(case_id);
CREATE INDEX IF NOT EXISTS idx_proposals_status ON proposals(status);
CREATE UNIQUE INDEX IF NOT EXISTS idx_proposals_execution_key ON proposals(execution_key) WHERE execution_key IS NOT NULL;
`

const migration4Runs = `
CREATE TABLE IF NOT EXISTS agent_runs (
	id TEXT PRIMARY KEY,
	case_id TEXT NOT NULL REFERENCES cases(id),
	trigger_type TEXT NOT NULL,
	status TEXT NOT NULL,
	started_at DATETIME,
	ended_at DATETIME,
	error TEXT,
	thread_id TEXT,
	message_id TEXT,
	proposal_id TEXT,
	metadata TEXT,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_agent_runs_case_id ON agent_runs(case_id);
CREATE INDEX IF NOT EXISTS idx_agent_runs_status ON agent_runs(status);
`

const migration5Locks = `
CREATE TABLE IF NOT EXISTS case_operation_locks (
	case_id TEXT NOT NULL,
	operation TEXT NOT NULL,
	token TEXT NOT NULL,
	holder_run_id TEXT,
	acquired_at DATETIME NOT NULL,
	expires_at DATETIME NOT NULL,
	PRIMARY KEY (case_id, operation)
);
`

const migration6Waitpoints = `
CREATE TABLE IF NOT EXISTS waitpoints (
	token TEXT PRIMARY KEY,
	proposal_id TEXT NOT NULL REFERENCES proposals(id),
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	expires_at DATETIME NOT NULL,
	completed_at DATETIME,
	completion_payload TEXT
);

CREATE INDEX IF NOT EXISTS idx_waitpoints_proposal ON waitpoints(proposal_id);
CREATE INDEX IF NOT EXISTS idx_waitpoints_expiry ON waitpoints(expires_at) WHERE completed_at IS NULL;
`

const migration7Executions = `
CREATE TABLE IF NOT EXISTS executions (
	id TEXT PRIMARY KEY,
	proposal_id TEXT NOT NULL REFERENCES proposals(id),
	case_id TEXT NOT NULL REFERENCES cases(id),
	kind TEXT NOT NULL,
	provider_message_id TEXT,
	status TEXT NOT NULL,
	started_at DATETIME NOT NULL,
	completed_at DATETIME,
	error TEXT
);

CREATE INDEX IF NOT EXISTS idx_executions_proposal ON executions(proposal_id);
CREATE INDEX IF NOT EXISTS idx_executions_case ON executions(case_id);
`

const migration8ActivityLog = `
CREATE TABLE IF NOT EXISTS activity_log (
	id TEXT PRIMARY KEY,
	case_id TEXT NOT NULL REFERENCES cases(id),
	event_type TEXT NOT NULL,
	description TEXT,
	metadata TEXT,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_activity_log_case ON activity_log(case_id);
`

// Close closes the underlying connection.
func (d *DB) Close() error { return d.DB.Close() }
