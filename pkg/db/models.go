package db

import "time"

// TaskStatus is the persisted lifecycle state of a task.
type TaskStatus string

const (
	TaskTodo       TaskStatus = "todo"
	TaskInProgress TaskStatus = "in_progress"
	TaskDone       TaskStatus = "done"
	TaskCancelled  TaskStatus = "cancelled"
)

// TaskPriority is the persisted priority of a task.
type TaskPriority string

const (
	PriorityLow    TaskPriority = "low"
	PriorityMedium TaskPriority = "medium"
	PriorityHigh   TaskPriority = "high"
)

// SyncKind is the direction of a sync run.
type SyncKind string

const (
	SyncImport SyncKind = "import"
	SyncExport SyncKind = "export"
	SyncFull   SyncKind = "full"
)

// RunStatus is the lifecycle state of a sync run.
type RunStatus string

const (
	RunPending    RunStatus = "pending"
	RunInProgress RunStatus = "in_progress"
	RunCompleted  RunStatus = "completed"
	RunFailed     RunStatus = "failed"
	RunCancelled  RunStatus = "cancelled"
)

// Resolution is the decision recorded for a sync conflict. The empty
// string means unresolved (stored as NULL).
type Resolution string

const (
	ResolveObsidian Resolution = "obsidian"
	ResolveDatabase Resolution = "database"
	ResolveSkip     Resolution = "skip"
	ResolveManual   Resolution = "manual"
)

// Valid reports whether r is one of the known resolutions.
func (r Resolution) Valid() bool {
	switch r {
	case ResolveObsidian, ResolveDatabase, ResolveSkip, ResolveManual:
		return true
	}
	return false
}

// Project groups tasks.
type Project struct {
	ID             int64      `json:"id"`
	Name           string     `json:"name"`
	Description    string     `json:"description,omitempty"`
	ObsidianFolder string     `json:"obsidian_folder,omitempty"`
	Color          string     `json:"color,omitempty"`
	IsArchived     bool       `json:"is_archived"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Task is a persisted task row.
type Task struct {
	ID           int64        `json:"id"`
	Title        string       `json:"title"`
	Description  string       `json:"description,omitempty"`
	ProjectID    int64        `json:"project_id"`
	ParentTaskID *int64       `json:"parent_task_id,omitempty"`
	Status       TaskStatus   `json:"status"`
	Priority     TaskPriority `json:"priority"`
	DueDate      *time.Time   `json:"due_date,omitempty"`
	ObsidianPath string       `json:"obsidian_path,omitempty"`
	CompletedAt  *time.Time   `json:"completed_at,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Tag is a persisted tag row.
type Tag struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// TaskComment is a comment attached to a task.
type TaskComment struct {
	ID        int64     `json:"id"`
	TaskID    int64     `json:"task_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SyncRun records one import/export operation. At most one run is
// in_progress across the whole system.
type SyncRun struct {
	ID             int64      `json:"id"`
	Kind           SyncKind   `json:"kind"`
	Status         RunStatus  `json:"status"`
	SourceFile     string     `json:"source_file,omitempty"`
	TasksCreated   int        `json:"tasks_created"`
	TasksUpdated   int        `json:"tasks_updated"`
	TasksSkipped   int        `json:"tasks_skipped"`
	ConflictsCount int        `json:"conflicts_count"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// SyncConflict snapshots both sides of a divergent task at detection
// time. Resolution, ResolvedAt and ResolvedBy are set together,
// exactly once; a resolved conflict is terminal.
type SyncConflict struct {
	ID     int64  `json:"id"`
	RunID  int64  `json:"run_id"`
	TaskID *int64 `json:"task_id,omitempty"`

	ObsidianPath     string     `json:"obsidian_path"`
	ObsidianLine     int        `json:"obsidian_line"`
	ObsidianTitle    string     `json:"obsidian_title"`
	ObsidianStatus   string     `json:"obsidian_status"`
	ObsidianDueDate  *time.Time `json:"obsidian_due_date,omitempty"`
	ObsidianPriority string     `json:"obsidian_priority"`
	ObsidianModified time.Time  `json:"obsidian_modified"`
	ObsidianRawLine  string     `json:"obsidian_raw_line,omitempty"`

	DBTitle    string     `json:"db_title,omitempty"`
	DBStatus   string     `json:"db_status,omitempty"`
	DBDueDate  *time.Time `json:"db_due_date,omitempty"`
	DBPriority string     `json:"db_priority,omitempty"`
	DBModified *time.Time `json:"db_modified,omitempty"`

	Resolution Resolution `json:"resolution,omitempty"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy string     `json:"resolved_by,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Resolved reports whether the conflict has a terminal resolution.
func (c *SyncConflict) Resolved() bool {
	return c.Resolution != ""
}
