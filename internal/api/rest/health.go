package rest

import (
	"net/http"
	"time"
)

// HealthCheck handles GET /health. Degraded dependencies turn the overall
// status to "degraded" but still answer 200; orchestrators gate on the
// body, load balancers on liveness.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	deps := map[string]string{}

	status := "healthy"
	if err := h.store.Ping(ctx); err != nil {
		deps["store"] = "unavailable"
		status = "degraded"
	} else {
		deps["store"] = "ok"
	}
	if err := h.bus.Client().Ping(ctx).Err(); err != nil {
		deps["event_bus"] = "unavailable"
		status = "degraded"
	} else {
		deps["event_bus"] = "ok"
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":       status,
		"timestamp":    time.Now().UTC(),
		"dependencies": deps,
		"features":     h.flags,
		"scheduler":    h.sched.Status(),
	})
}

// Livez handles GET /livez for process liveness.
func (h *Handler) Livez(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// Readyz handles GET /readyz. Not ready until the store answers.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
