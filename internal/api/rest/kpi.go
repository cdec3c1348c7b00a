package rest

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/enmstack/analytics-service/internal/enmserr"
	"github.com/enmstack/analytics-service/internal/kpi"
)

// kpiNames maps URL segments to KPI names.
var kpiNames = map[string]string{
	"sec":         kpi.NameSEC,
	"peak-demand": kpi.NamePeakDemand,
	"load-factor": kpi.NameLoadFactor,
	"energy-cost": kpi.NameEnergyCost,
	"carbon":      kpi.NameCarbon,
}

// AllKPIs handles GET /kpi/all: the batched report from a single pass over
// the aggregates.
func (h *Handler) AllKPIs(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeFromQuery(r)
	if err != nil {
		h.respondError(w, err)
		return
	}
	start, end, err := timeWindow(r, 24*time.Hour)
	if err != nil {
		h.respondError(w, err)
		return
	}

	report, err := h.kpis.Compute(r.Context(), scope, start, end)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

// SingleKPI handles GET /kpi/{name}. Reuses the batched computation.
func (h *Handler) SingleKPI(w http.ResponseWriter, r *http.Request) {
	name, ok := kpiNames[mux.Vars(r)["name"]]
	if !ok {
		h.respondError(w, enmserr.New(enmserr.KindBadRequest,
			"unknown KPI %q", mux.Vars(r)["name"]))
		return
	}

	scope, err := scopeFromQuery(r)
	if err != nil {
		h.respondError(w, err)
		return
	}
	start, end, err := timeWindow(r, 24*time.Hour)
	if err != nil {
		h.respondError(w, err)
		return
	}

	value, err := h.kpis.ComputeOne(r.Context(), scope, start, end, name)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"machine_id":   scope.MachineID,
		"seu_id":       scope.SEUID,
		"period_start": start,
		"period_end":   end,
		"kpi":          value,
	})
}
