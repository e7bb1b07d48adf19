package api

import (
	"net/http"

	"github.com/mklimuk/tasksync/pkg/db"
	"github.com/mklimuk/tasksync/pkg/sync"
)

// NewRouter creates a new HTTP router
func NewRouter(repo *db.Repository, engine *sync.Engine) *http.ServeMux {
	mux := http.NewServeMux()

	h := &Handler{
		Repo:   repo,
		Engine: engine,
	}

	mux.HandleFunc("GET /sync/status", h.HandleSyncStatus)
	mux.HandleFunc("POST /sync/import", h.HandleImport)
	mux.HandleFunc("POST /sync/export", h.HandleExport)
	mux.HandleFunc("GET /sync/history", h.HandleSyncHistory)
	mux.HandleFunc("GET /sync/conflicts", h.HandleListConflicts)
	mux.HandleFunc("GET /sync/conflicts/{id}", h.HandleGetConflict)
	mux.HandleFunc("POST /sync/conflicts/{id}/resolve", h.HandleResolveConflict)
	mux.HandleFunc("POST /sync/conflicts/resolve-all", h.HandleResolveAllConflicts)
	mux.HandleFunc("POST /sync/runs/{id}/retry", h.HandleRetryRun)

	mux.HandleFunc("GET /projects", h.HandleListProjects)
	mux.HandleFunc("GET /tasks", h.HandleListTasks)
	mux.HandleFunc("GET /tasks/{id}/comments", h.HandleListComments)
	mux.HandleFunc("POST /tasks/{id}/comments", h.HandleCreateComment)

	return mux
}
