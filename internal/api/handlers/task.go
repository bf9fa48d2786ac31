// Package handlers implements the HTTP surface in front of the scheduler
// facade: translating submission and task-snapshot JSON to and from
// scheduler.Scheduler calls, and mapping its sentinel errors to status
// codes.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	apimiddleware "github.com/clusterd/scheduler/internal/api/middleware"
	"github.com/clusterd/scheduler/internal/logger"
	"github.com/clusterd/scheduler/internal/scheduler"
	"github.com/clusterd/scheduler/internal/task"
)

// TaskHandler handles task submission, retrieval, waiting, and killing.
type TaskHandler struct {
	sched *scheduler.Scheduler
}

// NewTaskHandler creates a new task handler bound to sched.
func NewTaskHandler(sched *scheduler.Scheduler) *TaskHandler {
	return &TaskHandler{sched: sched}
}

// authUser derives the task.AuthUser snapshot captured at submission time
// from the request's JWT claims. Requests reaching here without JWT claims
// (auth disabled, or authenticated by API key) get an anonymous identity
// with no privileged group membership.
func authUser(r *http.Request) task.AuthUser {
	claims := apimiddleware.GetUser(r.Context())
	if claims == nil {
		return task.AuthUser{Username: "anonymous"}
	}
	groups := []string{}
	if claims.Role != "" {
		groups = append(groups, claims.Role)
	}
	return task.AuthUser{Username: claims.UserID, Groups: groups}
}

// Create handles POST /api/v1/tasks
func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	var cmd task.Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if cmd.Name == "" {
		h.respondError(w, http.StatusBadRequest, "command name is required")
		return
	}

	ident, err := h.sched.NewTask(cmd, authUser(r))
	if err != nil {
		if errors.Is(err, scheduler.ErrCommandNotRegistered) {
			h.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		logger.Error().Err(err).Str("command", cmd.Name).Msg("failed to create task")
		h.respondError(w, http.StatusInternalServerError, "failed to create task")
		return
	}

	logger.Info().Str("ident", ident).Str("command", cmd.Name).Msg("task created")
	h.respondJSON(w, http.StatusCreated, map[string]interface{}{"task_ident": ident})
}

// Get handles GET /api/v1/tasks/{ident}
func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	ident := chi.URLParam(r, "ident")
	snap, err := h.sched.GetTask(ident, authUser(r))
	if err != nil {
		h.respondSchedulerError(w, ident, err)
		return
	}
	h.respondJSON(w, http.StatusOK, snap)
}

// Wait handles GET /api/v1/tasks/{ident}/wait. It cooperatively blocks
// until the task reaches FINISHED or the request is cancelled, honoring an
// optional request_timeout_ms query parameter.
func (h *TaskHandler) Wait(w http.ResponseWriter, r *http.Request) {
	ident := chi.URLParam(r, "ident")

	ctx := r.Context()
	if raw := r.URL.Query().Get("request_timeout_ms"); raw != "" {
		if ms, err := time.ParseDuration(raw + "ms"); err == nil {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, ms)
			defer cancel()
		}
	}

	snap, err := h.sched.WaitForTask(ctx, ident, authUser(r))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			h.respondError(w, http.StatusRequestTimeout, "wait timed out before task finished")
			return
		}
		h.respondSchedulerError(w, ident, err)
		return
	}
	h.respondJSON(w, http.StatusOK, snap)
}

// Kill handles DELETE /api/v1/tasks/{ident}
func (h *TaskHandler) Kill(w http.ResponseWriter, r *http.Request) {
	ident := chi.URLParam(r, "ident")
	if err := h.sched.KillTask(ident, authUser(r)); err != nil {
		h.respondSchedulerError(w, ident, err)
		return
	}
	logger.Info().Str("ident", ident).Msg("task kill requested")
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"task_ident": ident, "message": "kill requested"})
}

func (h *TaskHandler) respondSchedulerError(w http.ResponseWriter, ident string, err error) {
	switch {
	case errors.Is(err, scheduler.ErrTaskNotFound):
		h.respondError(w, http.StatusNotFound, "task not found")
	case errors.Is(err, scheduler.ErrPermissionDenied):
		h.respondError(w, http.StatusForbidden, "permission denied")
	default:
		logger.Error().Err(err).Str("ident", ident).Msg("task operation failed")
		h.respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *TaskHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error().Err(err).Msg("failed to encode JSON response")
	}
}

func (h *TaskHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]interface{}{
		"error":   http.StatusText(status),
		"message": message,
	})
}
