package db

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Repository handles data access
type Repository struct {
	db *DB
}

// NewRepository creates a new Repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// ---- projects ----

// GetOrCreateProject returns the project with the exact name, creating
// it if missing. The UNIQUE constraint on name makes concurrent
// creations of the same project converge on a single row.
func (r *Repository) GetOrCreateProject(name string) (*Project, error) {
	_, err := r.db.Exec(
		`INSERT INTO projects (name) VALUES (?) ON CONFLICT(name) DO NOTHING`, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create project %q: %w", name, err)
	}
	return r.getProject(`SELECT `+projectColumns+` FROM projects WHERE name = ?`, name)
}

// GetProjectByID returns a project or nil if it does not exist.
func (r *Repository) GetProjectByID(id int64) (*Project, error) {
	return r.getProject(`SELECT `+projectColumns+` FROM projects WHERE id = ?`, id)
}

// ListProjects returns all projects ordered by name.
func (r *Repository) ListProjects() ([]Project, error) {
	rows, err := r.db.Query(`SELECT ` + projectColumns + ` FROM projects ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var projects []Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, *p)
	}
	return projects, rows.Err()
}

const projectColumns = `id, name, COALESCE(description, ''), COALESCE(obsidian_folder, ''), COALESCE(color, ''), is_archived, created_at, updated_at`

func (r *Repository) getProject(query string, args ...interface{}) (*Project, error) {
	p, err := scanProject(r.db.QueryRow(query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return p, nil
}

func scanProject(s rowScanner) (*Project, error) {
	var p Project
	err := s.Scan(&p.ID, &p.Name, &p.Description, &p.ObsidianFolder, &p.Color,
		&p.IsArchived, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ---- tasks ----

const taskColumns = `id, title, COALESCE(description, ''), project_id, parent_task_id,
	status, priority, due_date, COALESCE(obsidian_path, ''), completed_at, created_at, updated_at`

// CreateTask inserts a task and returns its id.
func (r *Repository) CreateTask(t *Task) (int64, error) {
	res, err := r.db.Exec(`
		INSERT INTO tasks (title, description, project_id, parent_task_id, status, priority, due_date, obsidian_path, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Title, nullString(t.Description), t.ProjectID, t.ParentTaskID,
		string(t.Status), string(t.Priority), nullTime(t.DueDate),
		nullString(t.ObsidianPath), nullTime(t.CompletedAt))
	if err != nil {
		return 0, fmt.Errorf("failed to create task: %w", err)
	}
	return res.LastInsertId()
}

// GetTaskByID returns a task or nil if it does not exist.
func (r *Repository) GetTaskByID(id int64) (*Task, error) {
	return r.getTask(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
}

// FindTaskByProjectAndTitle finds a task by case-insensitive exact
// title within a project.
func (r *Repository) FindTaskByProjectAndTitle(projectID int64, title string) (*Task, error) {
	return r.getTask(`
		SELECT `+taskColumns+` FROM tasks
		WHERE project_id = ? AND LOWER(title) = LOWER(?)
		ORDER BY id LIMIT 1`, projectID, title)
}

// FindTaskByPathAndTitle finds a task by its recorded vault file plus
// case-insensitive title, within a project.
func (r *Repository) FindTaskByPathAndTitle(projectID int64, obsidianPath, title string) (*Task, error) {
	return r.getTask(`
		SELECT `+taskColumns+` FROM tasks
		WHERE project_id = ? AND obsidian_path = ? AND LOWER(title) = LOWER(?)
		ORDER BY id LIMIT 1`, projectID, obsidianPath, title)
}

// UpdateTaskFromSync overwrites the fields a sync run is allowed to
// touch and bumps updated_at.
func (r *Repository) UpdateTaskFromSync(id int64, title string, status TaskStatus, priority TaskPriority, dueDate, completedAt *time.Time) error {
	query := `
		UPDATE tasks SET title = ?, status = ?, priority = ?, due_date = ?, updated_at = CURRENT_TIMESTAMP`
	args := []interface{}{title, string(status), string(priority), nullTime(dueDate)}
	if completedAt != nil {
		query += `, completed_at = ?`
		args = append(args, *completedAt)
	}
	query += ` WHERE id = ?`
	args = append(args, id)

	if _, err := r.db.Exec(query, args...); err != nil {
		return fmt.Errorf("failed to update task %d: %w", id, err)
	}
	return nil
}

// ListTasks returns tasks, optionally filtered to one project.
func (r *Repository) ListTasks(projectID *int64, limit int) ([]Task, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + taskColumns + ` FROM tasks`
	var args []interface{}
	if projectID != nil {
		query += ` WHERE project_id = ?`
		args = append(args, *projectID)
	}
	query += ` ORDER BY id LIMIT ?`
	args = append(args, limit)
	return r.listTasks(query, args...)
}

// ListTasksForExport returns tasks ordered by project then id. The
// exporter groups on project transitions, so the ordering here is
// part of the contract, not an optimization.
func (r *Repository) ListTasksForExport(projectID *int64) ([]Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	var args []interface{}
	if projectID != nil {
		query += ` WHERE project_id = ?`
		args = append(args, *projectID)
	}
	query += ` ORDER BY project_id, id`
	return r.listTasks(query, args...)
}

func (r *Repository) listTasks(query string, args ...interface{}) ([]Task, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

func (r *Repository) getTask(query string, args ...interface{}) (*Task, error) {
	t, err := scanTask(r.db.QueryRow(query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return t, nil
}

func scanTask(s rowScanner) (*Task, error) {
	var t Task
	var parent sql.NullInt64
	var due, completed sql.NullTime
	var status, priority string
	err := s.Scan(&t.ID, &t.Title, &t.Description, &t.ProjectID, &parent,
		&status, &priority, &due, &t.ObsidianPath, &completed, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.Status = TaskStatus(status)
	t.Priority = TaskPriority(priority)
	if parent.Valid {
		t.ParentTaskID = &parent.Int64
	}
	if due.Valid {
		t.DueDate = &due.Time
	}
	if completed.Valid {
		t.CompletedAt = &completed.Time
	}
	return &t, nil
}

// ---- tags ----

// GetOrCreateTags resolves tag names to rows, creating missing ones.
// Order follows the input; names are deduplicated case-insensitively.
func (r *Repository) GetOrCreateTags(names []string) ([]Tag, error) {
	var tags []Tag
	seen := make(map[string]bool)
	for _, name := range names {
		key := strings.ToLower(name)
		if name == "" || seen[key] {
			continue
		}
		seen[key] = true

		_, err := r.db.Exec(`INSERT INTO tags (name) VALUES (?) ON CONFLICT(name) DO NOTHING`, name)
		if err != nil {
			return nil, fmt.Errorf("failed to create tag %q: %w", name, err)
		}
		var tag Tag
		err = r.db.QueryRow(`SELECT id, name, created_at FROM tags WHERE name = ?`, name).
			Scan(&tag.ID, &tag.Name, &tag.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to get tag %q: %w", name, err)
		}
		tags = append(tags, tag)
	}
	return tags, nil
}

// AddTaskTag attaches a tag to a task; attaching twice is a no-op.
func (r *Repository) AddTaskTag(taskID, tagID int64) error {
	_, err := r.db.Exec(`INSERT OR IGNORE INTO task_tags (task_id, tag_id) VALUES (?, ?)`, taskID, tagID)
	if err != nil {
		return fmt.Errorf("failed to tag task %d: %w", taskID, err)
	}
	return nil
}

// ListTaskTagNames returns the tag names attached to a task, in
// attachment order.
func (r *Repository) ListTaskTagNames(taskID int64) ([]string, error) {
	rows, err := r.db.Query(`
		SELECT t.name FROM tags t
		JOIN task_tags tt ON tt.tag_id = t.id
		WHERE tt.task_id = ?
		ORDER BY t.id`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tags for task %d: %w", taskID, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// ---- comments ----

// CreateComment adds a comment to a task.
func (r *Repository) CreateComment(taskID int64, content string) (int64, error) {
	res, err := r.db.Exec(`INSERT INTO task_comments (task_id, content) VALUES (?, ?)`, taskID, content)
	if err != nil {
		return 0, fmt.Errorf("failed to create comment: %w", err)
	}
	return res.LastInsertId()
}

// ListComments returns a task's comments, oldest first.
func (r *Repository) ListComments(taskID int64) ([]TaskComment, error) {
	rows, err := r.db.Query(`
		SELECT id, task_id, content, created_at, updated_at
		FROM task_comments WHERE task_id = ? ORDER BY id`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to list comments: %w", err)
	}
	defer rows.Close()

	var comments []TaskComment
	for rows.Next() {
		var c TaskComment
		if err := rows.Scan(&c.ID, &c.TaskID, &c.Content, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

// ---- helpers ----

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}
