package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
)

const runColumns = `id, kind, status, COALESCE(source_file, ''), tasks_created, tasks_updated,
	tasks_skipped, conflicts_count, COALESCE(error_message, ''), started_at, completed_at, created_at`

// StartRun creates a sync run already claimed as in_progress. The
// partial unique index on sync_runs(status) makes the claim atomic:
// if another run holds in_progress, the insert fails and
// ErrSyncInProgress is returned without any work performed.
func (r *Repository) StartRun(kind SyncKind, sourceFile string) (*SyncRun, error) {
	now := time.Now().UTC()
	res, err := r.db.Exec(`
		INSERT INTO sync_runs (kind, status, source_file, started_at)
		VALUES (?, ?, ?, ?)`,
		string(kind), string(RunInProgress), nullString(sourceFile), now)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return nil, ErrSyncInProgress
		}
		return nil, fmt.Errorf("failed to start sync run: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return r.GetRun(id)
}

// CompleteRun marks a run completed with its final counters.
func (r *Repository) CompleteRun(id int64, created, updated, skipped, conflicts int) error {
	_, err := r.db.Exec(`
		UPDATE sync_runs
		SET status = ?, tasks_created = ?, tasks_updated = ?, tasks_skipped = ?,
			conflicts_count = ?, completed_at = ?
		WHERE id = ?`,
		string(RunCompleted), created, updated, skipped, conflicts, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to complete sync run %d: %w", id, err)
	}
	return nil
}

// FailRun marks a run failed, capturing the error message and closing
// its timestamps so no run is left dangling in in_progress.
func (r *Repository) FailRun(id int64, errorMessage string) error {
	_, err := r.db.Exec(`
		UPDATE sync_runs SET status = ?, error_message = ?, completed_at = ? WHERE id = ?`,
		string(RunFailed), errorMessage, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to fail sync run %d: %w", id, err)
	}
	return nil
}

// CancelRun marks a run cancelled.
func (r *Repository) CancelRun(id int64) error {
	_, err := r.db.Exec(`
		UPDATE sync_runs SET status = ?, completed_at = ? WHERE id = ?`,
		string(RunCancelled), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to cancel sync run %d: %w", id, err)
	}
	return nil
}

// GetRun returns a run or nil if it does not exist.
func (r *Repository) GetRun(id int64) (*SyncRun, error) {
	return r.getRun(`SELECT `+runColumns+` FROM sync_runs WHERE id = ?`, id)
}

// GetInProgressRun returns the currently running sync, if any.
func (r *Repository) GetInProgressRun() (*SyncRun, error) {
	return r.getRun(`SELECT `+runColumns+` FROM sync_runs WHERE status = ?`, string(RunInProgress))
}

// GetLatestRun returns the most recent run, if any.
func (r *Repository) GetLatestRun() (*SyncRun, error) {
	return r.getRun(`SELECT ` + runColumns + ` FROM sync_runs ORDER BY id DESC LIMIT 1`)
}

// ListRecentRuns returns runs newest first.
func (r *Repository) ListRecentRuns(limit int) ([]SyncRun, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.db.Query(`SELECT `+runColumns+` FROM sync_runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync runs: %w", err)
	}
	defer rows.Close()

	var runs []SyncRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// CountRuns returns the total number of recorded runs.
func (r *Repository) CountRuns() (int, error) {
	var count int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM sync_runs`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count sync runs: %w", err)
	}
	return count, nil
}

func (r *Repository) getRun(query string, args ...interface{}) (*SyncRun, error) {
	run, err := scanRun(r.db.QueryRow(query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync run: %w", err)
	}
	return run, nil
}

func scanRun(s rowScanner) (*SyncRun, error) {
	var run SyncRun
	var kind, status string
	var started, completed sql.NullTime
	err := s.Scan(&run.ID, &kind, &status, &run.SourceFile,
		&run.TasksCreated, &run.TasksUpdated, &run.TasksSkipped, &run.ConflictsCount,
		&run.ErrorMessage, &started, &completed, &run.CreatedAt)
	if err != nil {
		return nil, err
	}
	run.Kind = SyncKind(kind)
	run.Status = RunStatus(status)
	if started.Valid {
		run.StartedAt = &started.Time
	}
	if completed.Valid {
		run.CompletedAt = &completed.Time
	}
	return &run, nil
}

// ---- conflicts ----

const conflictColumns = `id, run_id, task_id, obsidian_path, obsidian_line, obsidian_title,
	obsidian_status, obsidian_due_date, obsidian_priority, obsidian_modified,
	COALESCE(obsidian_raw_line, ''), COALESCE(db_title, ''), COALESCE(db_status, ''),
	db_due_date, COALESCE(db_priority, ''), db_modified,
	resolution, resolved_at, COALESCE(resolved_by, ''), created_at`

// CreateConflict inserts a conflict snapshot and returns its id.
func (r *Repository) CreateConflict(c *SyncConflict) (int64, error) {
	res, err := r.db.Exec(`
		INSERT INTO sync_conflicts (
			run_id, task_id, obsidian_path, obsidian_line, obsidian_title,
			obsidian_status, obsidian_due_date, obsidian_priority, obsidian_modified,
			obsidian_raw_line, db_title, db_status, db_due_date, db_priority, db_modified
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.RunID, c.TaskID, c.ObsidianPath, c.ObsidianLine, c.ObsidianTitle,
		c.ObsidianStatus, nullTime(c.ObsidianDueDate), c.ObsidianPriority, c.ObsidianModified,
		nullString(c.ObsidianRawLine), nullString(c.DBTitle), nullString(c.DBStatus),
		nullTime(c.DBDueDate), nullString(c.DBPriority), nullTime(c.DBModified))
	if err != nil {
		return 0, fmt.Errorf("failed to create conflict: %w", err)
	}
	return res.LastInsertId()
}

// GetConflict returns a conflict or nil if it does not exist.
func (r *Repository) GetConflict(id int64) (*SyncConflict, error) {
	c, err := scanConflict(r.db.QueryRow(
		`SELECT `+conflictColumns+` FROM sync_conflicts WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conflict: %w", err)
	}
	return c, nil
}

// ListConflictsByRun returns all conflicts recorded by a run.
func (r *Repository) ListConflictsByRun(runID int64) ([]SyncConflict, error) {
	return r.listConflicts(
		`SELECT `+conflictColumns+` FROM sync_conflicts WHERE run_id = ? ORDER BY id`, runID)
}

// ListUnresolvedConflicts returns every conflict still awaiting a
// resolution, newest first.
func (r *Repository) ListUnresolvedConflicts() ([]SyncConflict, error) {
	return r.listConflicts(
		`SELECT ` + conflictColumns + ` FROM sync_conflicts WHERE resolution IS NULL ORDER BY id DESC`)
}

// ListUnresolvedByRun returns a run's conflicts still awaiting a
// resolution.
func (r *Repository) ListUnresolvedByRun(runID int64) ([]SyncConflict, error) {
	return r.listConflicts(
		`SELECT `+conflictColumns+` FROM sync_conflicts WHERE run_id = ? AND resolution IS NULL ORDER BY id`, runID)
}

// CountUnresolvedConflicts counts conflicts without a resolution.
func (r *Repository) CountUnresolvedConflicts() (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM sync_conflicts WHERE resolution IS NULL`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count conflicts: %w", err)
	}
	return count, nil
}

// MarkConflictResolved records the terminal resolution. resolution,
// resolved_at and resolved_by are written together; a second attempt
// returns ErrConflictResolved and a missing conflict ErrNotFound.
func (r *Repository) MarkConflictResolved(id int64, resolution Resolution, resolvedBy string) error {
	res, err := r.db.Exec(`
		UPDATE sync_conflicts SET resolution = ?, resolved_at = ?, resolved_by = ?
		WHERE id = ? AND resolution IS NULL`,
		string(resolution), time.Now().UTC(), resolvedBy, id)
	if err != nil {
		return fmt.Errorf("failed to resolve conflict %d: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		existing, err := r.GetConflict(id)
		if err != nil {
			return err
		}
		if existing == nil {
			return ErrNotFound
		}
		return ErrConflictResolved
	}
	return nil
}

func (r *Repository) listConflicts(query string, args ...interface{}) ([]SyncConflict, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list conflicts: %w", err)
	}
	defer rows.Close()

	var conflicts []SyncConflict
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, err
		}
		conflicts = append(conflicts, *c)
	}
	return conflicts, rows.Err()
}

func scanConflict(s rowScanner) (*SyncConflict, error) {
	var c SyncConflict
	var taskID sql.NullInt64
	var obsDue, dbDue, dbModified, resolvedAt sql.NullTime
	var resolution sql.NullString
	err := s.Scan(&c.ID, &c.RunID, &taskID, &c.ObsidianPath, &c.ObsidianLine, &c.ObsidianTitle,
		&c.ObsidianStatus, &obsDue, &c.ObsidianPriority, &c.ObsidianModified,
		&c.ObsidianRawLine, &c.DBTitle, &c.DBStatus,
		&dbDue, &c.DBPriority, &dbModified,
		&resolution, &resolvedAt, &c.ResolvedBy, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	if taskID.Valid {
		c.TaskID = &taskID.Int64
	}
	if obsDue.Valid {
		c.ObsidianDueDate = &obsDue.Time
	}
	if dbDue.Valid {
		c.DBDueDate = &dbDue.Time
	}
	if dbModified.Valid {
		c.DBModified = &dbModified.Time
	}
	if resolution.Valid {
		c.Resolution = Resolution(resolution.String)
	}
	if resolvedAt.Valid {
		c.ResolvedAt = &resolvedAt.Time
	}
	return &c, nil
}
