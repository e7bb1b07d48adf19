package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the sql.DB connection
type DB struct {
	*sql.DB
}

// NewDB creates a new SQLite database connection
func NewDB(dbPath string) (*DB, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{db}, nil
}

// Close closes the database connection
func (d *DB) Close() error {
	return d.DB.Close()
}

// InitSchema initializes the database schema
func (d *DB) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS projects (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		description TEXT,
		obsidian_folder TEXT,
		color TEXT,
		is_archived INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS tasks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		description TEXT,
		project_id INTEGER NOT NULL REFERENCES projects(id),
		parent_task_id INTEGER REFERENCES tasks(id),
		status TEXT NOT NULL DEFAULT 'todo',
		priority TEXT NOT NULL DEFAULT 'medium',
		due_date DATE,
		obsidian_path TEXT,
		completed_at DATETIME,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_project ON tasks(project_id);

	CREATE TABLE IF NOT EXISTS tags (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS task_tags (
		task_id INTEGER NOT NULL REFERENCES tasks(id),
		tag_id INTEGER NOT NULL REFERENCES tags(id),
		PRIMARY KEY (task_id, tag_id)
	);

	CREATE TABLE IF NOT EXISTS task_comments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id INTEGER NOT NULL REFERENCES tasks(id),
		content TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS sync_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		source_file TEXT,
		tasks_created INTEGER NOT NULL DEFAULT 0,
		tasks_updated INTEGER NOT NULL DEFAULT 0,
		tasks_skipped INTEGER NOT NULL DEFAULT 0,
		conflicts_count INTEGER NOT NULL DEFAULT 0,
		error_message TEXT,
		started_at DATETIME,
		completed_at DATETIME,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS sync_conflicts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL REFERENCES sync_runs(id),
		task_id INTEGER REFERENCES tasks(id),
		obsidian_path TEXT NOT NULL,
		obsidian_line INTEGER NOT NULL,
		obsidian_title TEXT NOT NULL,
		obsidian_status TEXT NOT NULL,
		obsidian_due_date DATE,
		obsidian_priority TEXT NOT NULL,
		obsidian_modified DATETIME NOT NULL,
		obsidian_raw_line TEXT,
		db_title TEXT,
		db_status TEXT,
		db_due_date DATE,
		db_priority TEXT,
		db_modified DATETIME,
		resolution TEXT,
		resolved_at DATETIME,
		resolved_by TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_sync_conflicts_run ON sync_conflicts(run_id);
	`

	if _, err := d.Exec(schema); err != nil {
		return fmt.Errorf("failed to init schema: %w", err)
	}

	// Single-flight guard: at most one run may hold in_progress at
	// any time, enforced atomically by the database instead of a
	// check-then-act read.
	guard := `
	CREATE UNIQUE INDEX IF NOT EXISTS idx_sync_runs_single_flight
		ON sync_runs(status) WHERE status = 'in_progress';
	`
	if _, err := d.Exec(guard); err != nil {
		return fmt.Errorf("failed to init single-flight guard: %w", err)
	}

	return nil
}
