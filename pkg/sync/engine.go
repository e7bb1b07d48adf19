// Package sync reconciles the task database with markdown task lines
// in an Obsidian vault.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mklimuk/tasksync/pkg/config"
	"github.com/mklimuk/tasksync/pkg/db"
	"github.com/mklimuk/tasksync/pkg/obsidian"
)

// Notifier receives a summary after an import run reaches a terminal
// state.
type Notifier interface {
	NotifyRun(run *db.SyncRun)
}

// Engine orchestrates import and export runs and owns the conflict
// resolution workflow. Processing within a run is sequential; the
// single-flight invariant is enforced by the run store's atomic claim.
type Engine struct {
	repo     *db.Repository
	cfg      *config.SyncConfig
	parser   *obsidian.Parser
	resolver *obsidian.Resolver
	git      *GitManager
	notifier Notifier
	timeout  time.Duration
}

// NewEngine creates a sync engine. git and notifier may be nil.
func NewEngine(repo *db.Repository, cfg *config.SyncConfig, git *GitManager, notifier Notifier) *Engine {
	return &Engine{
		repo:     repo,
		cfg:      cfg,
		parser:   obsidian.NewParser(),
		resolver: obsidian.NewResolver(cfg),
		git:      git,
		notifier: notifier,
		timeout:  cfg.Timeout(),
	}
}

// SetNotifier installs the run notifier. Call before any runs are
// triggered.
func (e *Engine) SetNotifier(n Notifier) {
	e.notifier = n
}

// StatusInfo describes the current sync state.
type StatusInfo struct {
	IsSyncing           bool        `json:"is_syncing"`
	LastRun             *db.SyncRun `json:"last_run,omitempty"`
	UnresolvedConflicts int         `json:"unresolved_conflicts"`
	TotalRuns           int         `json:"total_runs"`
}

// Status returns the current sync state.
func (e *Engine) Status() (*StatusInfo, error) {
	inProgress, err := e.repo.GetInProgressRun()
	if err != nil {
		return nil, err
	}
	last, err := e.repo.GetLatestRun()
	if err != nil {
		return nil, err
	}
	unresolved, err := e.repo.CountUnresolvedConflicts()
	if err != nil {
		return nil, err
	}
	total, err := e.repo.CountRuns()
	if err != nil {
		return nil, err
	}
	return &StatusInfo{
		IsSyncing:           inProgress != nil,
		LastRun:             last,
		UnresolvedConflicts: unresolved,
		TotalRuns:           total,
	}, nil
}

// History returns recent runs, newest first.
func (e *Engine) History(limit int) ([]db.SyncRun, error) {
	return e.repo.ListRecentRuns(limit)
}

// Conflicts returns a run's conflicts, or every unresolved conflict
// when runID is nil.
func (e *Engine) Conflicts(runID *int64) ([]db.SyncConflict, error) {
	if runID != nil {
		return e.repo.ListConflictsByRun(*runID)
	}
	return e.repo.ListUnresolvedConflicts()
}

type tally struct {
	created, updated, skipped, conflicts int
}

// Import scans vault files and reconciles each parsed task against the
// store. When sourceFiles is empty the configured glob patterns are
// scanned. Returns ErrSyncInProgress without doing any work if a run
// is already active. Any mid-run error transitions the run to failed
// (or cancelled) with its timestamps closed out before returning.
func (e *Engine) Import(ctx context.Context, sourceFiles []string) (*db.SyncRun, error) {
	run, err := e.repo.StartRun(db.SyncImport, strings.Join(sourceFiles, ","))
	if err != nil {
		return nil, err
	}
	final, runErr := e.finishRun(ctx, run.ID, func(ctx context.Context) (*tally, error) {
		return e.runImport(ctx, run.ID, sourceFiles)
	})

	// With a non-interactive default resolution configured, new
	// conflicts are settled immediately instead of waiting for a
	// manual decision.
	if runErr == nil && final != nil && final.ConflictsCount > 0 {
		if res := db.Resolution(e.cfg.DefaultConflictResolution); res.Valid() {
			n, err := e.ResolveAllConflicts(final.ID, res)
			if err != nil {
				log.Printf("sync: auto-resolve for run %d failed: %v", final.ID, err)
			} else {
				log.Printf("sync: auto-resolved %d conflicts of run %d as %s", n, final.ID, res)
			}
		}
	}
	return final, runErr
}

// Export writes tasks to a markdown file, one heading per project
// transition. Tasks are fetched explicitly ordered by project, so the
// grouping does not depend on incidental fetch order. Writes replace
// the whole file.
func (e *Engine) Export(ctx context.Context, projectID *int64, outputPath string) (*db.SyncRun, error) {
	if outputPath == "" {
		if e.cfg.VaultPath == "" {
			return nil, fmt.Errorf("no output path given and no vault path configured")
		}
		outputPath = filepath.Join(e.cfg.VaultPath, "00_Inbox", "Exported_Tasks.md")
	}

	run, err := e.repo.StartRun(db.SyncExport, outputPath)
	if err != nil {
		return nil, err
	}
	return e.finishRun(ctx, run.ID, func(ctx context.Context) (*tally, error) {
		return e.runExport(projectID, outputPath)
	})
}

// Retry re-runs a failed import with its recorded source descriptor.
// Re-importing unchanged files is idempotent: every task tallies as
// skipped.
func (e *Engine) Retry(ctx context.Context, runID int64) (*db.SyncRun, error) {
	run, err := e.repo.GetRun(runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, fmt.Errorf("run %d: %w", runID, db.ErrNotFound)
	}
	if run.Status != db.RunFailed {
		return nil, fmt.Errorf("run %d has status %s, only failed runs can be retried", runID, run.Status)
	}
	if run.Kind != db.SyncImport {
		return nil, fmt.Errorf("run %d is %s, only import runs can be retried", runID, run.Kind)
	}

	var sources []string
	if run.SourceFile != "" {
		sources = strings.Split(run.SourceFile, ",")
	}
	return e.Import(ctx, sources)
}

// finishRun executes body under the run timeout and drives the claimed
// run to a terminal state no matter how body ends. Unexpected errors
// are recorded on the run rather than leaving it dangling.
func (e *Engine) finishRun(ctx context.Context, runID int64, body func(context.Context) (*tally, error)) (*db.SyncRun, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	counts, runErr := body(ctx)
	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			if err := e.repo.CancelRun(runID); err != nil {
				log.Printf("sync: failed to cancel run %d: %v", runID, err)
			}
		} else {
			if err := e.repo.FailRun(runID, runErr.Error()); err != nil {
				log.Printf("sync: failed to mark run %d failed: %v", runID, err)
			}
		}
	} else {
		err := e.repo.CompleteRun(runID, counts.created, counts.updated, counts.skipped, counts.conflicts)
		if err != nil {
			log.Printf("sync: failed to complete run %d: %v", runID, err)
		}
	}

	run, err := e.repo.GetRun(runID)
	if err != nil {
		return nil, err
	}
	if e.notifier != nil && run != nil {
		final := *run
		go e.notifier.NotifyRun(&final)
	}
	return run, runErr
}

func (e *Engine) runImport(ctx context.Context, runID int64, sourceFiles []string) (*tally, error) {
	files := sourceFiles
	if len(files) == 0 {
		var err error
		files, err = e.sourceFilesFromConfig()
		if err != nil {
			return nil, err
		}
	}

	var t tally
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, err := os.Stat(path); err != nil {
			// File vanished between scan and parse.
			continue
		}

		parsed, err := e.parser.ParseFile(path)
		if err != nil {
			return nil, err
		}
		for i := range parsed {
			outcome, err := e.processParsed(&parsed[i], runID)
			if err != nil {
				return nil, err
			}
			switch outcome {
			case outcomeCreated:
				t.created++
			case outcomeUpdated:
				t.updated++
			case outcomeSkipped:
				t.skipped++
			case outcomeConflict:
				t.conflicts++
			}
		}
	}
	return &t, nil
}

func (e *Engine) runExport(projectID *int64, outputPath string) (*tally, error) {
	tasks, err := e.repo.ListTasksForExport(projectID)
	if err != nil {
		return nil, err
	}

	lines := []string{
		"# Exported Tasks",
		"",
		fmt.Sprintf("*Exported at: %s*", time.Now().Format(time.RFC3339)),
		"",
	}

	var currentProject int64 = -1
	for i := range tasks {
		task := &tasks[i]
		if task.ProjectID != currentProject {
			project, err := e.repo.GetProjectByID(task.ProjectID)
			if err != nil {
				return nil, err
			}
			if project != nil {
				lines = append(lines, "## "+project.Name, "")
			}
			currentProject = task.ProjectID
		}

		tags, err := e.repo.ListTaskTagNames(task.ID)
		if err != nil {
			return nil, err
		}
		lines = append(lines, e.parser.TaskToMarkdown(taskToParsed(task, tags)))
	}

	if err := obsidian.WriteFile(outputPath, strings.Join(lines, "\n")+"\n"); err != nil {
		return nil, err
	}
	e.gitSync("Export tasks to " + filepath.Base(outputPath))

	return &tally{updated: len(tasks)}, nil
}

func (e *Engine) sourceFilesFromConfig() ([]string, error) {
	if e.cfg.VaultPath == "" {
		return nil, nil
	}
	scanner, err := obsidian.NewScanner(e.cfg.VaultPath)
	if err != nil {
		return nil, err
	}
	scanned := scanner.Scan(e.cfg.SyncSources)
	paths := make([]string, 0, len(scanned))
	for _, f := range scanned {
		paths = append(paths, f.Path)
	}
	return paths, nil
}

const (
	outcomeCreated  = "created"
	outcomeUpdated  = "updated"
	outcomeSkipped  = "skipped"
	outcomeConflict = "conflict"
)

func (e *Engine) processParsed(parsed *obsidian.ParsedTask, runID int64) (string, error) {
	projectName := e.resolver.Resolve(parsed)
	project, err := e.repo.GetOrCreateProject(projectName)
	if err != nil {
		return "", err
	}

	existing, err := e.findExistingTask(parsed, project.ID)
	if err != nil {
		return "", err
	}

	if existing == nil {
		if err := e.createTaskFromParsed(parsed, project.ID); err != nil {
			return "", err
		}
		return outcomeCreated, nil
	}

	if hasConflict(parsed, existing) {
		if err := e.recordConflict(parsed, existing, runID); err != nil {
			return "", err
		}
		return outcomeConflict, nil
	}

	if parsed.FileModified != nil && parsed.FileModified.After(existing.UpdatedAt) {
		err := e.repo.UpdateTaskFromSync(existing.ID, parsed.Title,
			mapStatus(parsed.Status), mapPriority(parsed.Priority),
			parsed.DueDate, parsed.CompletedAt)
		if err != nil {
			return "", err
		}
		return outcomeUpdated, nil
	}

	return outcomeSkipped, nil
}

// findExistingTask matches by case-insensitive title within the
// project, falling back to the recorded vault path plus title.
func (e *Engine) findExistingTask(parsed *obsidian.ParsedTask, projectID int64) (*db.Task, error) {
	task, err := e.repo.FindTaskByProjectAndTitle(projectID, parsed.Title)
	if err != nil || task != nil {
		return task, err
	}
	if parsed.SourceFile != "" {
		return e.repo.FindTaskByPathAndTitle(projectID, parsed.SourceFile, parsed.Title)
	}
	return nil, nil
}

func (e *Engine) createTaskFromParsed(parsed *obsidian.ParsedTask, projectID int64) error {
	taskID, err := e.repo.CreateTask(&db.Task{
		Title:        parsed.Title,
		ProjectID:    projectID,
		Status:       mapStatus(parsed.Status),
		Priority:     mapPriority(parsed.Priority),
		DueDate:      parsed.DueDate,
		ObsidianPath: parsed.SourceFile,
		CompletedAt:  parsed.CompletedAt,
	})
	if err != nil {
		return err
	}

	if len(parsed.Tags) > 0 {
		tags, err := e.repo.GetOrCreateTags(parsed.Tags)
		if err != nil {
			return err
		}
		for _, tag := range tags {
			if err := e.repo.AddTaskTag(taskID, tag.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// hasConflict is true only when both sides carry a meaningful
// timestamp and at least one of status, due date or priority differs.
// Title differences alone never conflict and tags are never compared.
// Wall-clock timestamps are trusted as-is; there is no logical clock,
// so skewed clocks can mis-detect.
func hasConflict(parsed *obsidian.ParsedTask, existing *db.Task) bool {
	if parsed.FileModified == nil || existing.UpdatedAt.IsZero() {
		return false
	}
	statusDiffers := mapStatus(parsed.Status) != existing.Status
	dueDiffers := !datesEqual(parsed.DueDate, existing.DueDate)
	priorityDiffers := mapPriority(parsed.Priority) != existing.Priority
	return statusDiffers || dueDiffers || priorityDiffers
}

func (e *Engine) recordConflict(parsed *obsidian.ParsedTask, existing *db.Task, runID int64) error {
	modified := time.Now().UTC()
	if parsed.FileModified != nil {
		modified = *parsed.FileModified
	}
	dbModified := existing.UpdatedAt

	_, err := e.repo.CreateConflict(&db.SyncConflict{
		RunID:            runID,
		TaskID:           &existing.ID,
		ObsidianPath:     parsed.SourceFile,
		ObsidianLine:     parsed.SourceLine,
		ObsidianTitle:    parsed.Title,
		ObsidianStatus:   string(parsed.Status),
		ObsidianDueDate:  parsed.DueDate,
		ObsidianPriority: string(parsed.Priority),
		ObsidianModified: modified,
		ObsidianRawLine:  parsed.RawLine,
		DBTitle:          existing.Title,
		DBStatus:         string(existing.Status),
		DBDueDate:        existing.DueDate,
		DBPriority:       string(existing.Priority),
		DBModified:       &dbModified,
	})
	return err
}

// ResolveConflict applies a terminal resolution to a conflict.
// Returns db.ErrNotFound for unknown ids and db.ErrConflictResolved
// when a resolution is already set.
func (e *Engine) ResolveConflict(id int64, resolution db.Resolution, resolvedBy string) (*db.SyncConflict, error) {
	if !resolution.Valid() {
		return nil, fmt.Errorf("unknown resolution %q", resolution)
	}

	conflict, err := e.repo.GetConflict(id)
	if err != nil {
		return nil, err
	}
	if conflict == nil {
		return nil, fmt.Errorf("conflict %d: %w", id, db.ErrNotFound)
	}
	if conflict.Resolved() {
		return nil, fmt.Errorf("conflict %d: %w", id, db.ErrConflictResolved)
	}

	switch resolution {
	case db.ResolveObsidian:
		err = e.applyObsidianVersion(conflict)
	case db.ResolveDatabase:
		err = e.applyDatabaseVersion(conflict)
	case db.ResolveSkip, db.ResolveManual:
		// No mutation on either side.
	}
	if err != nil {
		return nil, err
	}

	if err := e.repo.MarkConflictResolved(id, resolution, resolvedBy); err != nil {
		return nil, err
	}
	return e.repo.GetConflict(id)
}

// ResolveAllConflicts applies one resolution to every unresolved
// conflict of a run, independently, continuing past per-item failures.
// Returns the number resolved.
func (e *Engine) ResolveAllConflicts(runID int64, resolution db.Resolution) (int, error) {
	conflicts, err := e.repo.ListUnresolvedByRun(runID)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, c := range conflicts {
		if _, err := e.ResolveConflict(c.ID, resolution, "auto"); err != nil {
			log.Printf("sync: failed to resolve conflict %d: %v", c.ID, err)
			continue
		}
		count++
	}
	return count, nil
}

// applyObsidianVersion overwrites the linked task with the vault-side
// snapshot. A conflict without a linked task is a no-op.
func (e *Engine) applyObsidianVersion(c *db.SyncConflict) error {
	if c.TaskID == nil {
		return nil
	}
	return e.repo.UpdateTaskFromSync(*c.TaskID, c.ObsidianTitle,
		rawStatusToTask(c.ObsidianStatus), rawPriorityToTask(c.ObsidianPriority),
		c.ObsidianDueDate, nil)
}

// applyDatabaseVersion re-serializes the linked task and rewrites the
// recorded line in the vault file, preserving its indentation. A
// missing vault file is an error, not a silent no-op.
func (e *Engine) applyDatabaseVersion(c *db.SyncConflict) error {
	if c.ObsidianPath == "" {
		return fmt.Errorf("conflict %d has no vault file recorded", c.ID)
	}
	data, err := os.ReadFile(c.ObsidianPath)
	if err != nil {
		return fmt.Errorf("failed to read vault file for conflict %d: %w", c.ID, err)
	}

	if c.TaskID == nil {
		return nil
	}
	task, err := e.repo.GetTaskByID(*c.TaskID)
	if err != nil {
		return err
	}
	if task == nil {
		return nil
	}

	tags, err := e.repo.ListTaskTagNames(task.ID)
	if err != nil {
		return err
	}

	content := e.parser.UpdateTaskInContent(string(data), c.ObsidianLine, taskToParsed(task, tags))
	if err := obsidian.WriteFile(c.ObsidianPath, content); err != nil {
		return err
	}
	e.gitSync("Apply database version of: " + task.Title)
	return nil
}

func (e *Engine) gitSync(message string) {
	if e.git == nil {
		return
	}
	go func() {
		if err := e.git.Sync(message); err != nil {
			log.Printf("sync: git sync failed: %v", err)
		}
	}()
}

// ---- mapping between the vault grammar and the store ----

func datesEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func mapStatus(s obsidian.Status) db.TaskStatus {
	switch s {
	case obsidian.StatusDone:
		return db.TaskDone
	case obsidian.StatusTodo:
		return db.TaskTodo
	default:
		return db.TaskTodo
	}
}

func mapPriority(p obsidian.Priority) db.TaskPriority {
	switch p {
	case obsidian.PriorityHigh:
		return db.PriorityHigh
	case obsidian.PriorityLow:
		return db.PriorityLow
	case obsidian.PriorityMedium:
		return db.PriorityMedium
	default:
		return db.PriorityMedium
	}
}

func rawStatusToTask(s string) db.TaskStatus {
	if strings.EqualFold(s, string(obsidian.StatusDone)) {
		return db.TaskDone
	}
	return db.TaskTodo
}

func rawPriorityToTask(p string) db.TaskPriority {
	switch strings.ToLower(p) {
	case string(db.PriorityHigh):
		return db.PriorityHigh
	case string(db.PriorityLow):
		return db.PriorityLow
	default:
		return db.PriorityMedium
	}
}

// taskToParsed converts a stored task to its markdown representation
// input. Statuses other than done render as open checkboxes.
func taskToParsed(t *db.Task, tags []string) *obsidian.ParsedTask {
	status := obsidian.StatusTodo
	if t.Status == db.TaskDone {
		status = obsidian.StatusDone
	}

	var priority obsidian.Priority
	switch t.Priority {
	case db.PriorityHigh:
		priority = obsidian.PriorityHigh
	case db.PriorityLow:
		priority = obsidian.PriorityLow
	case db.PriorityMedium:
		priority = obsidian.PriorityMedium
	default:
		priority = obsidian.PriorityMedium
	}

	return &obsidian.ParsedTask{
		Title:       t.Title,
		Status:      status,
		Priority:    priority,
		DueDate:     t.DueDate,
		CompletedAt: t.CompletedAt,
		Tags:        tags,
	}
}
