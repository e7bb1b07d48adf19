// Package api exposes the sync engine and task store over HTTP.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/mklimuk/tasksync/pkg/db"
	"github.com/mklimuk/tasksync/pkg/sync"
)

// Handler holds dependencies for API handlers
type Handler struct {
	Repo   *db.Repository
	Engine *sync.Engine
}

// HandleListProjects handles GET /projects
func (h *Handler) HandleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.Repo.ListProjects()
	if err != nil {
		http.Error(w, "failed to list projects: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"projects": projects})
}

// HandleListTasks handles GET /tasks
func (h *Handler) HandleListTasks(w http.ResponseWriter, r *http.Request) {
	var projectID *int64
	if v := r.URL.Query().Get("project_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			http.Error(w, "invalid project_id", http.StatusBadRequest)
			return
		}
		projectID = &id
	}
	limit := parseLimit(r, 100)

	tasks, err := h.Repo.ListTasks(projectID, limit)
	if err != nil {
		http.Error(w, "failed to list tasks: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tasks": tasks})
}

type createCommentRequest struct {
	Content string `json:"content"`
}

// HandleCreateComment handles POST /tasks/{id}/comments
func (h *Handler) HandleCreateComment(w http.ResponseWriter, r *http.Request) {
	taskID, ok := parseIDPath(w, r)
	if !ok {
		return
	}
	task, err := h.Repo.GetTaskByID(taskID)
	if err != nil {
		http.Error(w, "failed to load task: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if task == nil {
		http.Error(w, "task not found", http.StatusNotFound)
		return
	}

	var req createCommentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	req.Content = strings.TrimSpace(req.Content)
	if req.Content == "" {
		http.Error(w, "content is required", http.StatusBadRequest)
		return
	}

	id, err := h.Repo.CreateComment(taskID, req.Content)
	if err != nil {
		http.Error(w, "failed to create comment: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"id": id, "task_id": taskID})
}

// HandleListComments handles GET /tasks/{id}/comments
func (h *Handler) HandleListComments(w http.ResponseWriter, r *http.Request) {
	taskID, ok := parseIDPath(w, r)
	if !ok {
		return
	}
	comments, err := h.Repo.ListComments(taskID)
	if err != nil {
		http.Error(w, "failed to list comments: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"comments": comments})
}

func parseIDPath(w http.ResponseWriter, r *http.Request) (int64, bool) {
	idStr := r.PathValue("id")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func parseLimit(r *http.Request, fallback int) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return fallback
	}
	limit, err := strconv.Atoi(v)
	if err != nil || limit <= 0 {
		return fallback
	}
	return limit
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
