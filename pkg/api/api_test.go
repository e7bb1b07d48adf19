package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mklimuk/tasksync/pkg/config"
	"github.com/mklimuk/tasksync/pkg/db"
	"github.com/mklimuk/tasksync/pkg/sync"
)

func setupAPI(t *testing.T) (*http.ServeMux, *db.Repository, string) {
	t.Helper()
	database, err := db.NewDB(":memory:")
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := database.InitSchema(); err != nil {
		t.Fatalf("failed to init schema: %v", err)
	}
	repo := db.NewRepository(database)

	vault := t.TempDir()
	cfg := &config.SyncConfig{
		VaultPath:      vault,
		SyncSources:    []string{"**/*.md"},
		DefaultProject: "Inbox",
	}
	engine := sync.NewEngine(repo, cfg, nil, nil)
	return NewRouter(repo, engine), repo, vault
}

func doJSON(t *testing.T, router *http.ServeMux, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func writeVaultNote(t *testing.T, vault, rel, content string) string {
	t.Helper()
	path := filepath.Join(vault, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestSyncStatusEndpoint(t *testing.T) {
	router, _, _ := setupAPI(t)

	rec := doJSON(t, router, "GET", "/sync/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var status struct {
		IsSyncing           bool `json:"is_syncing"`
		TotalRuns           int  `json:"total_runs"`
		UnresolvedConflicts int  `json:"unresolved_conflicts"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("bad JSON: %v", err)
	}
	if status.IsSyncing || status.TotalRuns != 0 {
		t.Errorf("unexpected status %+v", status)
	}
}

func TestImportEndpoint(t *testing.T) {
	router, _, vault := setupAPI(t)
	writeVaultNote(t, vault, "notes.md", "- [ ] From API\n")

	rec := doJSON(t, router, "POST", "/sync/import", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var run db.SyncRun
	if err := json.Unmarshal(rec.Body.Bytes(), &run); err != nil {
		t.Fatalf("bad JSON: %v", err)
	}
	if run.Status != db.RunCompleted || run.TasksCreated != 1 {
		t.Errorf("unexpected run %+v", run)
	}
}

func TestImportEndpointConflictWhenBusy(t *testing.T) {
	router, repo, vault := setupAPI(t)
	writeVaultNote(t, vault, "notes.md", "- [ ] Task\n")

	if _, err := repo.StartRun(db.SyncImport, ""); err != nil {
		t.Fatal(err)
	}

	rec := doJSON(t, router, "POST", "/sync/import", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestExportEndpoint(t *testing.T) {
	router, repo, vault := setupAPI(t)

	project, _ := repo.GetOrCreateProject("Work")
	repo.CreateTask(&db.Task{Title: "Exported", ProjectID: project.ID, Status: db.TaskTodo, Priority: db.PriorityMedium})

	out := filepath.Join(vault, "export.md")
	rec := doJSON(t, router, "POST", "/sync/export", map[string]interface{}{"output_path": out})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if _, err := os.Stat(out); err != nil {
		t.Errorf("expected export file written: %v", err)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	router, repo, _ := setupAPI(t)

	r1, _ := repo.StartRun(db.SyncImport, "")
	repo.CompleteRun(r1.ID, 0, 0, 0, 0)

	rec := doJSON(t, router, "GET", "/sync/history?limit=5", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var payload struct {
		Runs []db.SyncRun `json:"runs"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("bad JSON: %v", err)
	}
	if len(payload.Runs) != 1 {
		t.Errorf("expected 1 run, got %d", len(payload.Runs))
	}
}

func seedConflict(t *testing.T, repo *db.Repository) *db.SyncConflict {
	t.Helper()
	run, err := repo.StartRun(db.SyncImport, "")
	if err != nil {
		t.Fatal(err)
	}
	repo.CompleteRun(run.ID, 0, 0, 0, 1)

	id, err := repo.CreateConflict(&db.SyncConflict{
		RunID:            run.ID,
		ObsidianPath:     "/vault/notes.md",
		ObsidianLine:     1,
		ObsidianTitle:    "Disputed",
		ObsidianStatus:   "done",
		ObsidianPriority: "medium",
		ObsidianModified: time.Now().UTC(),
		DBStatus:         "todo",
	})
	if err != nil {
		t.Fatal(err)
	}
	c, err := repo.GetConflict(id)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestConflictEndpoints(t *testing.T) {
	router, repo, _ := setupAPI(t)
	conflict := seedConflict(t, repo)

	rec := doJSON(t, router, "GET", "/sync/conflicts", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", rec.Code)
	}
	var list struct {
		Conflicts []db.SyncConflict `json:"conflicts"`
	}
	json.Unmarshal(rec.Body.Bytes(), &list)
	if len(list.Conflicts) != 1 {
		t.Fatalf("expected 1 conflict, got %d", len(list.Conflicts))
	}

	rec = doJSON(t, router, "GET", fmt.Sprintf("/sync/conflicts/%d", conflict.ID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", rec.Code)
	}

	rec = doJSON(t, router, "GET", "/sync/conflicts/9999", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown conflict, got %d", rec.Code)
	}
}

func TestResolveConflictEndpoint(t *testing.T) {
	router, repo, _ := setupAPI(t)
	conflict := seedConflict(t, repo)

	path := fmt.Sprintf("/sync/conflicts/%d/resolve", conflict.ID)

	rec := doJSON(t, router, "POST", path, map[string]string{"resolution": "coinflip"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad resolution, got %d", rec.Code)
	}

	rec = doJSON(t, router, "POST", path, map[string]string{"resolution": "skip", "resolved_by": "tester"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resolved db.SyncConflict
	json.Unmarshal(rec.Body.Bytes(), &resolved)
	if resolved.Resolution != db.ResolveSkip || resolved.ResolvedBy != "tester" {
		t.Errorf("unexpected resolved conflict %+v", resolved)
	}

	// Second attempt hits the terminal-resolution guard.
	rec = doJSON(t, router, "POST", path, map[string]string{"resolution": "obsidian"})
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 for re-resolve, got %d", rec.Code)
	}

	rec = doJSON(t, router, "POST", "/sync/conflicts/9999/resolve", map[string]string{"resolution": "skip"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown conflict, got %d", rec.Code)
	}
}

func TestResolveAllEndpoint(t *testing.T) {
	router, repo, _ := setupAPI(t)
	conflict := seedConflict(t, repo)

	rec := doJSON(t, router, "POST", "/sync/conflicts/resolve-all",
		map[string]interface{}{"run_id": conflict.RunID, "resolution": "skip"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var payload struct {
		Resolved int `json:"resolved"`
	}
	json.Unmarshal(rec.Body.Bytes(), &payload)
	if payload.Resolved != 1 {
		t.Errorf("expected 1 resolved, got %d", payload.Resolved)
	}

	rec = doJSON(t, router, "POST", "/sync/conflicts/resolve-all",
		map[string]interface{}{"resolution": "skip"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing run_id, got %d", rec.Code)
	}
}

func TestRetryEndpoint(t *testing.T) {
	router, repo, vault := setupAPI(t)
	writeVaultNote(t, vault, "notes.md", "- [ ] Task\n")

	rec := doJSON(t, router, "POST", "/sync/runs/9999/retry", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown run, got %d", rec.Code)
	}

	failed, _ := repo.StartRun(db.SyncImport, "")
	repo.FailRun(failed.ID, "boom")

	rec = doJSON(t, router, "POST", fmt.Sprintf("/sync/runs/%d/retry", failed.ID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var run db.SyncRun
	json.Unmarshal(rec.Body.Bytes(), &run)
	if run.Status != db.RunCompleted {
		t.Errorf("expected completed retry run, got %+v", run)
	}
}

func TestProjectAndTaskEndpoints(t *testing.T) {
	router, repo, _ := setupAPI(t)

	project, _ := repo.GetOrCreateProject("Work")
	repo.CreateTask(&db.Task{Title: "T1", ProjectID: project.ID, Status: db.TaskTodo, Priority: db.PriorityMedium})

	rec := doJSON(t, router, "GET", "/projects", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("projects: expected 200, got %d", rec.Code)
	}
	var projects struct {
		Projects []db.Project `json:"projects"`
	}
	json.Unmarshal(rec.Body.Bytes(), &projects)
	if len(projects.Projects) != 1 || projects.Projects[0].Name != "Work" {
		t.Errorf("unexpected projects %+v", projects.Projects)
	}

	rec = doJSON(t, router, "GET", fmt.Sprintf("/tasks?project_id=%d", project.ID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("tasks: expected 200, got %d", rec.Code)
	}
	var tasks struct {
		Tasks []db.Task `json:"tasks"`
	}
	json.Unmarshal(rec.Body.Bytes(), &tasks)
	if len(tasks.Tasks) != 1 || tasks.Tasks[0].Title != "T1" {
		t.Errorf("unexpected tasks %+v", tasks.Tasks)
	}

	rec = doJSON(t, router, "GET", "/tasks?project_id=bogus", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad project_id, got %d", rec.Code)
	}
}

func TestCommentEndpoints(t *testing.T) {
	router, repo, _ := setupAPI(t)

	project, _ := repo.GetOrCreateProject("Work")
	taskID, _ := repo.CreateTask(&db.Task{Title: "T", ProjectID: project.ID, Status: db.TaskTodo, Priority: db.PriorityMedium})

	rec := doJSON(t, router, "POST", fmt.Sprintf("/tasks/%d/comments", taskID),
		map[string]string{"content": "looks good"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, "POST", fmt.Sprintf("/tasks/%d/comments", taskID),
		map[string]string{"content": "  "})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for empty comment, got %d", rec.Code)
	}

	rec = doJSON(t, router, "POST", "/tasks/9999/comments", map[string]string{"content": "ghost"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown task, got %d", rec.Code)
	}

	rec = doJSON(t, router, "GET", fmt.Sprintf("/tasks/%d/comments", taskID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var comments struct {
		Comments []db.TaskComment `json:"comments"`
	}
	json.Unmarshal(rec.Body.Bytes(), &comments)
	if len(comments.Comments) != 1 || comments.Comments[0].Content != "looks good" {
		t.Errorf("unexpected comments %+v", comments.Comments)
	}
}
