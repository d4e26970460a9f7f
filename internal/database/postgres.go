// Package database is the PostgreSQL persistence layer: executions, node
// history, the audit ledger, child documents, and the work-item queue.
// Plans are file-loaded and never stored here.
package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
)

// rebind converts ? placeholders to $1, $2, ... for PostgreSQL.
// This is used throughout the database package for parameterized queries.
func rebind(query string) string {
	n := 1
	out := strings.Builder{}
	for _, ch := range query {
		if ch == '?' {
			out.WriteString(fmt.Sprintf("$%d", n))
			n++
		} else {
			out.WriteRune(ch)
		}
	}
	return out.String()
}

// Database wraps the PostgreSQL connection.
type Database struct {
	db *sql.DB
}

// NewPostgres creates a PostgreSQL database connection and initializes the
// schema.
func NewPostgres(dsn string) (*Database, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	d := &Database{db: db}

	if err := d.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return d, nil
}

// Close closes the underlying connection pool.
func (d *Database) Close() error {
	return d.db.Close()
}

func (d *Database) initSchema() error {
	schema := `
	-- One row per in-flight or finished plan run
	CREATE TABLE IF NOT EXISTS executions (
		id TEXT PRIMARY KEY,
		plan_id TEXT NOT NULL,
		plan_version INTEGER NOT NULL,
		document_id TEXT NOT NULL,
		space_id TEXT,
		current_node_id TEXT NOT NULL,
		status TEXT NOT NULL,
		context_state JSONB NOT NULL DEFAULT '{}',
		retry_counts JSONB NOT NULL DEFAULT '{}',
		pending_prompt TEXT,
		pending_choices JSONB,
		pending_schema TEXT,
		thread_id TEXT,
		lock_scope TEXT,
		idempotency_key TEXT,
		started_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP,
		last_node_at TIMESTAMP NOT NULL,
		terminal_outcome TEXT,
		failure_reason TEXT,
		labels JSONB
	);
	CREATE INDEX IF NOT EXISTS idx_executions_document ON executions(document_id);
	CREATE INDEX IF NOT EXISTS idx_executions_status ON executions(status);
	CREATE INDEX IF NOT EXISTS idx_executions_idem ON executions(idempotency_key) WHERE idempotency_key IS NOT NULL;

	-- Append-only node execution audit trail
	CREATE TABLE IF NOT EXISTS execution_history (
		id TEXT PRIMARY KEY,
		execution_id TEXT NOT NULL REFERENCES executions(id),
		node_id TEXT NOT NULL,
		outcome TEXT NOT NULL,
		edge_id TEXT,
		attempt INTEGER NOT NULL DEFAULT 1,
		forced BOOLEAN NOT NULL DEFAULT false,
		result_data TEXT,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_history_execution ON execution_history(execution_id, created_at);

	-- Append-only ledger; governance verdict entries carry redacted payloads only
	CREATE TABLE IF NOT EXISTS execution_ledger (
		id TEXT PRIMARY KEY,
		execution_id TEXT NOT NULL REFERENCES executions(id),
		node_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_ledger_execution ON execution_ledger(execution_id, created_at);

	-- Derived child documents; superseded rows keep is_latest=false, never deleted
	CREATE TABLE IF NOT EXISTS child_documents (
		id TEXT PRIMARY KEY,
		parent_document_id TEXT NOT NULL,
		space_id TEXT,
		doc_type_id TEXT NOT NULL,
		identifier TEXT NOT NULL,
		content JSONB NOT NULL DEFAULT '{}',
		version INTEGER NOT NULL DEFAULT 1,
		is_latest BOOLEAN NOT NULL DEFAULT true,
		lifecycle TEXT NOT NULL DEFAULT 'active',
		lineage JSONB,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_children_parent ON child_documents(parent_document_id);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_children_latest ON child_documents(parent_document_id, identifier) WHERE is_latest = true;

	-- Work-item queue for externally-triggered starts and resumes
	CREATE TABLE IF NOT EXISTS work_items (
		id TEXT PRIMARY KEY,
		sequence BIGSERIAL,
		kind TEXT NOT NULL,
		payload JSONB NOT NULL DEFAULT '{}',
		status TEXT NOT NULL DEFAULT 'pending',
		lock_scope TEXT,
		idempotency_key TEXT,
		error_code TEXT,
		claimed_by TEXT,
		claimed_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_work_items_pending ON work_items(status, sequence);
	`

	if _, err := d.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// marshalJSON serializes a value for a JSONB column, mapping nil to an
// empty object so NOT NULL columns stay satisfied.
func marshalJSON(v any) (string, error) {
	if v == nil {
		return "{}", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal json column: %w", err)
	}
	return string(b), nil
}

func unmarshalJSON(raw []byte, out any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}

// nullable maps empty strings to NULL.
func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
