package rest

import (
	"net/http"

	"github.com/gorilla/mux"
)

// SchedulerStatus handles GET /scheduler/status.
func (h *Handler) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"jobs": h.sched.Status(),
	})
}

// TriggerJob handles POST /scheduler/trigger/{job_id}. Runs synchronously
// under the job's normal deadline and mutual exclusion.
func (h *Handler) TriggerJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["job_id"]
	if err := h.sched.Trigger(r.Context(), jobID); err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"job_id":    jobID,
		"triggered": true,
	})
}

// ConnectionStats handles GET /stats/connections: throttle counters plus
// WebSocket registry sizes.
func (h *Handler) ConnectionStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"http":      h.throttle.Stats(),
		"websocket": h.hub.Stats(),
	})
}
