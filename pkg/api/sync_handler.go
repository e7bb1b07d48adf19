package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/mklimuk/tasksync/pkg/db"
)

type importRequest struct {
	SourceFiles []string `json:"source_files"`
}

// HandleImport handles POST /sync/import. An empty body imports every
// file matched by the configured patterns.
func (h *Handler) HandleImport(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}

	run, err := h.Engine.Import(r.Context(), req.SourceFiles)
	if errors.Is(err, db.ErrSyncInProgress) {
		http.Error(w, "sync already in progress", http.StatusConflict)
		return
	}
	if run == nil {
		http.Error(w, "import failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	// A failed run is still a recorded outcome; the run carries its
	// status and error message.
	writeJSON(w, http.StatusOK, run)
}

type exportRequest struct {
	ProjectID  *int64 `json:"project_id"`
	OutputPath string `json:"output_path"`
}

// HandleExport handles POST /sync/export.
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}

	run, err := h.Engine.Export(r.Context(), req.ProjectID, req.OutputPath)
	if errors.Is(err, db.ErrSyncInProgress) {
		http.Error(w, "sync already in progress", http.StatusConflict)
		return
	}
	if run == nil {
		http.Error(w, "export failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// HandleSyncStatus handles GET /sync/status
func (h *Handler) HandleSyncStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.Engine.Status()
	if err != nil {
		http.Error(w, "failed to get sync status: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// HandleSyncHistory handles GET /sync/history
func (h *Handler) HandleSyncHistory(w http.ResponseWriter, r *http.Request) {
	runs, err := h.Engine.History(parseLimit(r, 10))
	if err != nil {
		http.Error(w, "failed to list sync history: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"runs": runs})
}

// HandleListConflicts handles GET /sync/conflicts. Without a run_id
// query parameter it returns every unresolved conflict.
func (h *Handler) HandleListConflicts(w http.ResponseWriter, r *http.Request) {
	var runID *int64
	if v := r.URL.Query().Get("run_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			http.Error(w, "invalid run_id", http.StatusBadRequest)
			return
		}
		runID = &id
	}

	conflicts, err := h.Engine.Conflicts(runID)
	if err != nil {
		http.Error(w, "failed to list conflicts: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"conflicts": conflicts})
}

// HandleGetConflict handles GET /sync/conflicts/{id}
func (h *Handler) HandleGetConflict(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDPath(w, r)
	if !ok {
		return
	}
	conflict, err := h.Repo.GetConflict(id)
	if err != nil {
		http.Error(w, "failed to load conflict: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if conflict == nil {
		http.Error(w, "conflict not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, conflict)
}

type resolveRequest struct {
	Resolution string `json:"resolution"`
	ResolvedBy string `json:"resolved_by"`
}

// HandleResolveConflict handles POST /sync/conflicts/{id}/resolve
func (h *Handler) HandleResolveConflict(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDPath(w, r)
	if !ok {
		return
	}

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	resolution := db.Resolution(req.Resolution)
	if !resolution.Valid() {
		http.Error(w, "resolution must be one of: obsidian, database, skip, manual", http.StatusBadRequest)
		return
	}
	resolvedBy := req.ResolvedBy
	if resolvedBy == "" {
		resolvedBy = "api"
	}

	conflict, err := h.Engine.ResolveConflict(id, resolution, resolvedBy)
	if err != nil {
		switch {
		case errors.Is(err, db.ErrNotFound):
			http.Error(w, "conflict not found", http.StatusNotFound)
		case errors.Is(err, db.ErrConflictResolved):
			http.Error(w, "conflict already resolved", http.StatusConflict)
		default:
			http.Error(w, "failed to resolve conflict: "+err.Error(), http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusOK, conflict)
}

type resolveAllRequest struct {
	RunID      int64  `json:"run_id"`
	Resolution string `json:"resolution"`
}

// HandleResolveAllConflicts handles POST /sync/conflicts/resolve-all
func (h *Handler) HandleResolveAllConflicts(w http.ResponseWriter, r *http.Request) {
	var req resolveAllRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.RunID <= 0 {
		http.Error(w, "run_id is required", http.StatusBadRequest)
		return
	}
	resolution := db.Resolution(req.Resolution)
	if !resolution.Valid() {
		http.Error(w, "resolution must be one of: obsidian, database, skip, manual", http.StatusBadRequest)
		return
	}

	count, err := h.Engine.ResolveAllConflicts(req.RunID, resolution)
	if err != nil {
		http.Error(w, "failed to resolve conflicts: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"resolved": count})
}

// HandleRetryRun handles POST /sync/runs/{id}/retry
func (h *Handler) HandleRetryRun(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDPath(w, r)
	if !ok {
		return
	}

	run, err := h.Engine.Retry(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, db.ErrNotFound):
			http.Error(w, "run not found", http.StatusNotFound)
		case errors.Is(err, db.ErrSyncInProgress):
			http.Error(w, "sync already in progress", http.StatusConflict)
		case run != nil:
			// The retried run itself failed; report its outcome.
			writeJSON(w, http.StatusOK, run)
		default:
			http.Error(w, "failed to retry run: "+err.Error(), http.StatusBadRequest)
		}
		return
	}
	writeJSON(w, http.StatusOK, run)
}
