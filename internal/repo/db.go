package repo

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS alerts (
	id          TEXT PRIMARY KEY,
	report_id   TEXT NOT NULL,
	issue_type  TEXT NOT NULL,
	severity    TEXT NOT NULL,
	location    TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	rule_json   TEXT NOT NULL,
	level       INTEGER NOT NULL DEFAULT 0,
	status      TEXT NOT NULL CHECK (status IN ('active', 'resolved', 'exhausted')),
	assignee_id TEXT NOT NULL DEFAULT '',
	deadline    INTEGER,
	created_at  INTEGER NOT NULL,
	updated_at  INTEGER NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_alerts_active_report
	ON alerts(report_id) WHERE status = 'active';

CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(status);

CREATE TABLE IF NOT EXISTS notification_attempts (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	alert_id     TEXT NOT NULL REFERENCES alerts(id),
	authority_id TEXT NOT NULL,
	channel      TEXT NOT NULL,
	level        INTEGER NOT NULL,
	outcome      TEXT NOT NULL CHECK (outcome IN ('sent', 'delivered', 'failed')),
	detail       TEXT NOT NULL DEFAULT '',
	created_at   INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_attempts_alert
	ON notification_attempts(alert_id, authority_id, level);
`

// SchemaSQL returns the authoritative schema. Tests load it into in-memory
// databases so they never drift from production.
func SchemaSQL() string {
	return schemaSQL
}

// OpenDB opens (creating if needed) the SQLite database at path and applies
// the schema. ":memory:" is accepted for tests.
func OpenDB(path string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+dsnOptions(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite serializes writers anyway; a single connection also keeps
	// ":memory:" databases shared across the pool.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return db, nil
}

func dsnOptions(path string) string {
	if path == ":memory:" {
		return ""
	}
	return "?_busy_timeout=5000&_journal_mode=WAL"
}
