package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/clusterd/scheduler/internal/logger"
	"github.com/clusterd/scheduler/internal/scheduler"
)

// AdminHandler handles operational endpoints: health, pool occupancy, and
// the command manifest.
type AdminHandler struct {
	sched *scheduler.Scheduler
}

// NewAdminHandler creates a new admin handler bound to sched.
func NewAdminHandler(sched *scheduler.Scheduler) *AdminHandler {
	return &AdminHandler{sched: sched}
}

// HealthCheck handles GET /admin/health. The daemon is healthy whenever its
// control loop is reachable; there is no external dependency (database,
// broker) the scheduler itself requires.
func (h *AdminHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"status": "healthy"})
}

// PoolStatus handles GET /admin/pool, reporting the worker pool occupancy
// the deadlock heuristic keys off of.
func (h *AdminHandler) PoolStatus(w http.ResponseWriter, r *http.Request) {
	occ := h.sched.Occupancy()
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"persistent_total": occ.PersistentTotal,
		"persistent_busy":  occ.PersistentBusy,
		"temp_active":      occ.TempActive,
		"temp_cap":         occ.TempCap,
	})
}

// Commands handles GET /admin/commands, the manifest a caller consults
// before submitting a task to learn which command names are valid. The
// default_timeout field is advisory metadata from an optional on-disk
// command manifest (internal/command.LoadManifest); it is empty unless
// the daemon was started with pool.commandmanifestpath set.
func (h *AdminHandler) Commands(w http.ResponseWriter, r *http.Request) {
	entries := h.sched.Commands()
	out := make([]map[string]interface{}, 0, len(entries))
	for _, e := range entries {
		entry := map[string]interface{}{"name": e.Name, "description": e.Description}
		if e.DefaultTimeout > 0 {
			entry["default_timeout"] = e.DefaultTimeout.String()
		}
		out = append(out, entry)
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"commands": out})
}

func (h *AdminHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error().Err(err).Msg("failed to encode JSON response")
	}
}
