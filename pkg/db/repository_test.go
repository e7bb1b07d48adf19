package db

import (
	"errors"
	"testing"
	"time"
)

func setupTestDB(t *testing.T) *Repository {
	t.Helper()
	database, err := NewDB(":memory:")
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := database.InitSchema(); err != nil {
		t.Fatalf("failed to init schema: %v", err)
	}
	return NewRepository(database)
}

func TestGetOrCreateProject(t *testing.T) {
	repo := setupTestDB(t)

	p1, err := repo.GetOrCreateProject("Health")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if p1.Name != "Health" {
		t.Errorf("name = %q", p1.Name)
	}

	p2, err := repo.GetOrCreateProject("Health")
	if err != nil {
		t.Fatalf("get existing: %v", err)
	}
	if p2.ID != p1.ID {
		t.Errorf("expected same project row, got %d and %d", p1.ID, p2.ID)
	}

	// Names are case-sensitive distinct projects.
	p3, err := repo.GetOrCreateProject("health")
	if err != nil {
		t.Fatalf("create lowercase: %v", err)
	}
	if p3.ID == p1.ID {
		t.Error("expected distinct project for different case")
	}

	projects, err := repo.ListProjects()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(projects) != 2 {
		t.Errorf("expected 2 projects, got %d", len(projects))
	}
}

func TestTaskLifecycle(t *testing.T) {
	repo := setupTestDB(t)

	project, _ := repo.GetOrCreateProject("Work")
	due := time.Date(2026, 1, 25, 0, 0, 0, 0, time.UTC)

	id, err := repo.CreateTask(&Task{
		Title:        "Review PR",
		ProjectID:    project.ID,
		Status:       TaskTodo,
		Priority:     PriorityHigh,
		DueDate:      &due,
		ObsidianPath: "/vault/work.md",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	task, err := repo.GetTaskByID(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if task == nil {
		t.Fatal("expected task, got nil")
	}
	if task.Status != TaskTodo || task.Priority != PriorityHigh {
		t.Errorf("status/priority = %s/%s", task.Status, task.Priority)
	}
	if task.DueDate == nil || !task.DueDate.Equal(due) {
		t.Errorf("due date = %v", task.DueDate)
	}

	// Case-insensitive title lookup within the project.
	found, err := repo.FindTaskByProjectAndTitle(project.ID, "REVIEW pr")
	if err != nil {
		t.Fatalf("find by title: %v", err)
	}
	if found == nil || found.ID != id {
		t.Fatalf("expected task %d, got %+v", id, found)
	}

	found, err = repo.FindTaskByPathAndTitle(project.ID, "/vault/work.md", "review pr")
	if err != nil {
		t.Fatalf("find by path: %v", err)
	}
	if found == nil || found.ID != id {
		t.Fatalf("expected task %d by path, got %+v", id, found)
	}

	if found, _ := repo.FindTaskByProjectAndTitle(project.ID, "missing"); found != nil {
		t.Error("expected nil for unknown title")
	}
}

func TestUpdateTaskFromSync(t *testing.T) {
	repo := setupTestDB(t)

	project, _ := repo.GetOrCreateProject("Work")
	id, _ := repo.CreateTask(&Task{Title: "Old", ProjectID: project.ID, Status: TaskTodo, Priority: PriorityMedium})

	before, _ := repo.GetTaskByID(id)

	due := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	completed := time.Date(2026, 1, 30, 0, 0, 0, 0, time.UTC)
	if err := repo.UpdateTaskFromSync(id, "New", TaskDone, PriorityLow, &due, &completed); err != nil {
		t.Fatalf("update: %v", err)
	}

	task, _ := repo.GetTaskByID(id)
	if task.Title != "New" || task.Status != TaskDone || task.Priority != PriorityLow {
		t.Errorf("unexpected task after update: %+v", task)
	}
	if task.DueDate == nil || !task.DueDate.Equal(due) {
		t.Errorf("due date = %v", task.DueDate)
	}
	if task.CompletedAt == nil || !task.CompletedAt.Equal(completed) {
		t.Errorf("completed at = %v", task.CompletedAt)
	}
	if task.UpdatedAt.Before(before.UpdatedAt) {
		t.Error("expected updated_at to advance")
	}

	// Nil completedAt leaves the stored value alone.
	if err := repo.UpdateTaskFromSync(id, "New", TaskDone, PriorityLow, &due, nil); err != nil {
		t.Fatalf("second update: %v", err)
	}
	task, _ = repo.GetTaskByID(id)
	if task.CompletedAt == nil {
		t.Error("expected completed_at preserved on nil update")
	}
}

func TestListTasksForExportOrdering(t *testing.T) {
	repo := setupTestDB(t)

	p1, _ := repo.GetOrCreateProject("Alpha")
	p2, _ := repo.GetOrCreateProject("Beta")

	// Interleave creation order across projects.
	repo.CreateTask(&Task{Title: "b1", ProjectID: p2.ID, Status: TaskTodo, Priority: PriorityMedium})
	repo.CreateTask(&Task{Title: "a1", ProjectID: p1.ID, Status: TaskTodo, Priority: PriorityMedium})
	repo.CreateTask(&Task{Title: "b2", ProjectID: p2.ID, Status: TaskTodo, Priority: PriorityMedium})

	tasks, err := repo.ListTasksForExport(nil)
	if err != nil {
		t.Fatalf("list for export: %v", err)
	}
	if len(tasks) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(tasks))
	}
	for i := 1; i < len(tasks); i++ {
		if tasks[i].ProjectID < tasks[i-1].ProjectID {
			t.Error("expected tasks grouped by project id")
		}
	}

	filtered, err := repo.ListTasksForExport(&p2.ID)
	if err != nil {
		t.Fatalf("filtered export: %v", err)
	}
	if len(filtered) != 2 {
		t.Errorf("expected 2 tasks for Beta, got %d", len(filtered))
	}
}

func TestTags(t *testing.T) {
	repo := setupTestDB(t)

	tags, err := repo.GetOrCreateTags([]string{"health", "Health", "work", ""})
	if err != nil {
		t.Fatalf("get or create tags: %v", err)
	}
	if len(tags) != 2 {
		t.Fatalf("expected case-insensitive dedupe to 2 tags, got %d", len(tags))
	}

	project, _ := repo.GetOrCreateProject("P")
	taskID, _ := repo.CreateTask(&Task{Title: "T", ProjectID: project.ID, Status: TaskTodo, Priority: PriorityMedium})

	for _, tag := range tags {
		if err := repo.AddTaskTag(taskID, tag.ID); err != nil {
			t.Fatalf("add tag: %v", err)
		}
	}
	// Attaching twice is a no-op.
	if err := repo.AddTaskTag(taskID, tags[0].ID); err != nil {
		t.Fatalf("re-add tag: %v", err)
	}

	names, err := repo.ListTaskTagNames(taskID)
	if err != nil {
		t.Fatalf("list tag names: %v", err)
	}
	if len(names) != 2 || names[0] != "health" || names[1] != "work" {
		t.Errorf("expected [health work], got %v", names)
	}
}

func TestComments(t *testing.T) {
	repo := setupTestDB(t)

	project, _ := repo.GetOrCreateProject("P")
	taskID, _ := repo.CreateTask(&Task{Title: "T", ProjectID: project.ID, Status: TaskTodo, Priority: PriorityMedium})

	if _, err := repo.CreateComment(taskID, "first"); err != nil {
		t.Fatalf("create comment: %v", err)
	}
	if _, err := repo.CreateComment(taskID, "second"); err != nil {
		t.Fatalf("create comment: %v", err)
	}

	comments, err := repo.ListComments(taskID)
	if err != nil {
		t.Fatalf("list comments: %v", err)
	}
	if len(comments) != 2 || comments[0].Content != "first" {
		t.Errorf("expected oldest-first comments, got %+v", comments)
	}
}

func TestRunSingleFlight(t *testing.T) {
	repo := setupTestDB(t)

	run, err := repo.StartRun(SyncImport, "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if run.Status != RunInProgress {
		t.Errorf("expected in_progress, got %s", run.Status)
	}
	if run.StartedAt == nil {
		t.Error("expected started_at set")
	}

	if _, err := repo.StartRun(SyncExport, ""); !errors.Is(err, ErrSyncInProgress) {
		t.Fatalf("expected ErrSyncInProgress, got %v", err)
	}

	if err := repo.CompleteRun(run.ID, 1, 2, 3, 0); err != nil {
		t.Fatalf("complete: %v", err)
	}

	// Terminal run releases the claim.
	run2, err := repo.StartRun(SyncExport, "out.md")
	if err != nil {
		t.Fatalf("start after complete: %v", err)
	}
	if run2.SourceFile != "out.md" {
		t.Errorf("source file = %q", run2.SourceFile)
	}

	done, _ := repo.GetRun(run.ID)
	if done.Status != RunCompleted || done.TasksCreated != 1 || done.TasksUpdated != 2 || done.TasksSkipped != 3 {
		t.Errorf("unexpected completed run %+v", done)
	}
	if done.CompletedAt == nil {
		t.Error("expected completed_at set")
	}
}

func TestRunFailAndCancel(t *testing.T) {
	repo := setupTestDB(t)

	run, _ := repo.StartRun(SyncImport, "")
	if err := repo.FailRun(run.ID, "boom"); err != nil {
		t.Fatalf("fail: %v", err)
	}
	failed, _ := repo.GetRun(run.ID)
	if failed.Status != RunFailed || failed.ErrorMessage != "boom" {
		t.Errorf("unexpected failed run %+v", failed)
	}
	if failed.CompletedAt == nil {
		t.Error("expected failed run's completed_at set")
	}

	run2, _ := repo.StartRun(SyncImport, "")
	if err := repo.CancelRun(run2.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	cancelled, _ := repo.GetRun(run2.ID)
	if cancelled.Status != RunCancelled {
		t.Errorf("expected cancelled, got %s", cancelled.Status)
	}
}

func TestRunQueries(t *testing.T) {
	repo := setupTestDB(t)

	if run, _ := repo.GetLatestRun(); run != nil {
		t.Error("expected nil latest run on empty store")
	}
	if run, _ := repo.GetInProgressRun(); run != nil {
		t.Error("expected nil in-progress run on empty store")
	}

	r1, _ := repo.StartRun(SyncImport, "")
	repo.CompleteRun(r1.ID, 0, 0, 0, 0)
	r2, _ := repo.StartRun(SyncImport, "")

	inProgress, _ := repo.GetInProgressRun()
	if inProgress == nil || inProgress.ID != r2.ID {
		t.Errorf("expected run %d in progress, got %+v", r2.ID, inProgress)
	}

	latest, _ := repo.GetLatestRun()
	if latest == nil || latest.ID != r2.ID {
		t.Errorf("expected latest run %d, got %+v", r2.ID, latest)
	}

	runs, _ := repo.ListRecentRuns(10)
	if len(runs) != 2 || runs[0].ID != r2.ID {
		t.Errorf("expected newest-first history, got %+v", runs)
	}

	count, _ := repo.CountRuns()
	if count != 2 {
		t.Errorf("expected 2 runs, got %d", count)
	}
}

func TestConflictResolutionTerminal(t *testing.T) {
	repo := setupTestDB(t)

	run, _ := repo.StartRun(SyncImport, "")
	taskID := int64(7)
	id, err := repo.CreateConflict(&SyncConflict{
		RunID:            run.ID,
		TaskID:           &taskID,
		ObsidianPath:     "/vault/a.md",
		ObsidianLine:     3,
		ObsidianTitle:    "T",
		ObsidianStatus:   "todo",
		ObsidianPriority: "high",
		ObsidianModified: time.Now().UTC(),
		DBTitle:          "T",
		DBStatus:         "done",
		DBPriority:       "medium",
	})
	if err != nil {
		t.Fatalf("create conflict: %v", err)
	}

	unresolved, _ := repo.ListUnresolvedConflicts()
	if len(unresolved) != 1 {
		t.Fatalf("expected 1 unresolved conflict, got %d", len(unresolved))
	}
	count, _ := repo.CountUnresolvedConflicts()
	if count != 1 {
		t.Errorf("expected count 1, got %d", count)
	}

	if err := repo.MarkConflictResolved(id, ResolveSkip, "tester"); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	c, _ := repo.GetConflict(id)
	if !c.Resolved() || c.Resolution != ResolveSkip || c.ResolvedBy != "tester" {
		t.Errorf("unexpected resolved conflict %+v", c)
	}
	if c.ResolvedAt == nil {
		t.Error("expected resolved_at set")
	}

	// Resolution is terminal.
	if err := repo.MarkConflictResolved(id, ResolveObsidian, "tester"); !errors.Is(err, ErrConflictResolved) {
		t.Errorf("expected ErrConflictResolved, got %v", err)
	}
	if err := repo.MarkConflictResolved(9999, ResolveSkip, "tester"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if unresolved, _ := repo.ListUnresolvedConflicts(); len(unresolved) != 0 {
		t.Errorf("expected no unresolved conflicts, got %d", len(unresolved))
	}
	byRun, _ := repo.ListConflictsByRun(run.ID)
	if len(byRun) != 1 {
		t.Errorf("expected conflict still listed by run, got %d", len(byRun))
	}
}
