package rest

import (
	"net/http"

	"github.com/gorilla/mux"
)

// ListMachines handles GET /machines?active=true.
func (h *Handler) ListMachines(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	machines, err := h.store.ListMachines(r.Context(), activeOnly)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"machines": machines,
		"count":    len(machines),
	})
}

// GetMachine handles GET /machines/{id}.
func (h *Handler) GetMachine(w http.ResponseWriter, r *http.Request) {
	machine, err := h.store.GetMachine(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, machine)
}

// GetMachineStatus handles GET /machines/status/{name}: machine by name plus
// its latest reading.
func (h *Handler) GetMachineStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	machine, err := h.store.GetMachineByName(ctx, mux.Vars(r)["name"])
	if err != nil {
		h.respondError(w, err)
		return
	}

	resp := map[string]interface{}{"machine": machine}
	if latest, err := h.store.LatestReading(ctx, machine.ID); err == nil {
		resp["latest"] = latest
	}
	respondJSON(w, http.StatusOK, resp)
}

// ListSEUs handles GET /seus?energy_source=….
func (h *Handler) ListSEUs(w http.ResponseWriter, r *http.Request) {
	seus, err := h.store.ListSEUs(r.Context(), r.URL.Query().Get("energy_source"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"seus":  seus,
		"count": len(seus),
	})
}

// ListEnergySources handles GET /energy-sources.
func (h *Handler) ListEnergySources(w http.ResponseWriter, r *http.Request) {
	sources, err := h.store.ListEnergySources(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"energy_sources": sources,
		"count":          len(sources),
	})
}

// AvailableFeatures handles GET /ovos/available-features?energy_source=….
// The voice assistant reads this to offer feature choices before training.
func (h *Handler) AvailableFeatures(w http.ResponseWriter, r *http.Request) {
	source := r.URL.Query().Get("energy_source")
	if source == "" {
		source = "electricity"
	}
	feats, err := h.store.ListFeaturesForSource(r.Context(), source)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"energy_source": source,
		"features":      feats,
		"count":         len(feats),
	})
}
