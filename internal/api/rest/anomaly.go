package rest

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/enmstack/analytics-service/internal/enmserr"
	"github.com/enmstack/analytics-service/internal/models"
	"github.com/enmstack/analytics-service/internal/repository"
)

// RecentAnomalies handles GET /anomaly/recent?limit&severity&hours&machine_id.
func (h *Handler) RecentAnomalies(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := 50
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			h.respondError(w, enmserr.New(enmserr.KindBadRequest, "limit must be 1-1000"))
			return
		}
		limit = n
	}

	hours := 24
	if raw := q.Get("hours"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			h.respondError(w, enmserr.New(enmserr.KindBadRequest, "hours must be a positive integer"))
			return
		}
		hours = n
	}

	anomalies, err := h.store.ListAnomalies(r.Context(), repository.AnomalyFilter{
		MachineID: q.Get("machine_id"),
		Severity:  q.Get("severity"),
		Since:     time.Now().UTC().Add(-time.Duration(hours) * time.Hour),
		Limit:     limit,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"anomalies": anomalies,
		"count":     len(anomalies),
	})
}

// ActiveAnomalies handles GET /anomaly/active: open anomalies only.
func (h *Handler) ActiveAnomalies(w http.ResponseWriter, r *http.Request) {
	anomalies, err := h.store.ListAnomalies(r.Context(), repository.AnomalyFilter{
		MachineID: r.URL.Query().Get("machine_id"),
		Status:    models.AnomalyStatusOpen,
		Limit:     500,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"anomalies": anomalies,
		"count":     len(anomalies),
	})
}

// DetectAnomalies handles POST /anomaly/detect: an on-demand sweep over one
// machine's window.
func (h *Handler) DetectAnomalies(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MachineID    string `json:"machine_id"`
		EnergySource string `json:"energy_source"`
		StartTime    string `json:"start_time"`
		EndTime      string `json:"end_time"`
		UseBaseline  *bool  `json:"use_baseline"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, enmserr.New(enmserr.KindBadRequest, "invalid request body"))
		return
	}
	if req.MachineID == "" {
		h.respondError(w, enmserr.New(enmserr.KindBadRequest, "machine_id is required"))
		return
	}
	if req.EnergySource == "" {
		req.EnergySource = "electricity"
	}

	now := time.Now().UTC()
	start, end := now.Add(-time.Hour), now
	if req.StartTime != "" {
		t, err := time.Parse(time.RFC3339, req.StartTime)
		if err != nil {
			h.respondError(w, enmserr.New(enmserr.KindBadRequest, "start_time must be RFC 3339"))
			return
		}
		start = t.UTC()
	}
	if req.EndTime != "" {
		t, err := time.Parse(time.RFC3339, req.EndTime)
		if err != nil {
			h.respondError(w, enmserr.New(enmserr.KindBadRequest, "end_time must be RFC 3339"))
			return
		}
		end = t.UTC()
	}

	useBaseline := true
	if req.UseBaseline != nil {
		useBaseline = *req.UseBaseline
	}

	anomalies, err := h.anomalies.Detect(r.Context(), models.Scope{
		MachineID:    req.MachineID,
		EnergySource: req.EnergySource,
	}, start, end, useBaseline)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"anomalies": anomalies,
		"count":     len(anomalies),
	})
}

// CreateAnomaly handles POST /anomaly/create for operator-reported
// anomalies. Duplicate (machine, detected_at, type) submissions deduplicate.
func (h *Handler) CreateAnomaly(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MachineID  string    `json:"machine_id"`
		DetectedAt time.Time `json:"detected_at"`
		Type       string    `json:"type"`
		Severity   string    `json:"severity"`
		Metric     string    `json:"metric"`
		Actual     float64   `json:"actual"`
		Expected   float64   `json:"expected"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, enmserr.New(enmserr.KindBadRequest, "invalid request body"))
		return
	}
	if req.MachineID == "" {
		h.respondError(w, enmserr.New(enmserr.KindBadRequest, "machine_id is required"))
		return
	}
	if req.DetectedAt.IsZero() {
		req.DetectedAt = time.Now().UTC()
	}
	if req.Type == "" {
		req.Type = models.AnomalyTypeUnknown
	}
	switch req.Severity {
	case models.SeverityInfo, models.SeverityWarning, models.SeverityCritical:
	case "":
		req.Severity = models.SeverityWarning
	default:
		h.respondError(w, enmserr.New(enmserr.KindBadRequest,
			"severity must be info, warning, or critical"))
		return
	}

	a := &models.Anomaly{
		MachineID:  req.MachineID,
		DetectedAt: req.DetectedAt.UTC(),
		Type:       req.Type,
		Severity:   req.Severity,
		Metric:     req.Metric,
		Actual:     req.Actual,
		Expected:   req.Expected,
		Deviation:  req.Actual - req.Expected,
		Confidence: 1.0, // operator-reported
		Status:     models.AnomalyStatusOpen,
	}
	if req.Expected != 0 {
		a.DeviationPercent = (req.Actual - req.Expected) / req.Expected * 100
	}

	created, err := h.store.SaveAnomaly(r.Context(), a)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if created {
		h.bus.PublishAnomalyDetected(r.Context(), a)
		respondJSON(w, http.StatusCreated, a)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"anomaly": a,
		"message": "anomaly already recorded",
	})
}

// ResolveAnomaly handles PUT /anomaly/{id}/resolve. Resolving an already
// resolved anomaly keeps the original resolution timestamp.
func (h *Handler) ResolveAnomaly(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Note string `json:"note"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}

	resolved, err := h.store.ResolveAnomaly(r.Context(), mux.Vars(r)["id"], req.Note)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resolved)
}
