package rest

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/enmstack/analytics-service/internal/baseline"
	"github.com/enmstack/analytics-service/internal/enmserr"
	"github.com/enmstack/analytics-service/internal/models"
)

// trainRequest is the POST /baseline/train body.
type trainRequest struct {
	MachineID    string   `json:"machine_id"`
	SEUID        string   `json:"seu_id"`
	EnergySource string   `json:"energy_source"`
	StartTime    string   `json:"start_time"`
	EndTime      string   `json:"end_time"`
	Features     []string `json:"features"`
	Activate     *bool    `json:"activate"`
}

func (req *trainRequest) toEngineRequest() (baseline.TrainRequest, error) {
	if req.MachineID == "" && req.SEUID == "" {
		return baseline.TrainRequest{}, enmserr.New(enmserr.KindBadRequest,
			"machine_id or seu_id is required")
	}
	if req.EnergySource == "" {
		req.EnergySource = "electricity"
	}

	now := time.Now().UTC()
	start := now.Add(-30 * 24 * time.Hour)
	end := now
	if req.StartTime != "" {
		t, err := time.Parse(time.RFC3339, req.StartTime)
		if err != nil {
			return baseline.TrainRequest{}, enmserr.New(enmserr.KindBadRequest,
				"start_time must be RFC 3339, got %q", req.StartTime)
		}
		start = t.UTC()
	}
	if req.EndTime != "" {
		t, err := time.Parse(time.RFC3339, req.EndTime)
		if err != nil {
			return baseline.TrainRequest{}, enmserr.New(enmserr.KindBadRequest,
				"end_time must be RFC 3339, got %q", req.EndTime)
		}
		end = t.UTC()
	}
	if !end.After(start) {
		return baseline.TrainRequest{}, enmserr.New(enmserr.KindBadRequest,
			"end_time must be after start_time")
	}

	activate := true
	if req.Activate != nil {
		activate = *req.Activate
	}
	return baseline.TrainRequest{
		Scope: models.Scope{
			MachineID:    req.MachineID,
			SEUID:        req.SEUID,
			EnergySource: req.EnergySource,
		},
		Start:    start,
		End:      end,
		Features: req.Features,
		Activate: activate,
	}, nil
}

// TrainBaseline handles POST /baseline/train. The fit runs asynchronously;
// the response carries the job for progress polling (or the training
// WebSocket topic).
func (h *Handler) TrainBaseline(w http.ResponseWriter, r *http.Request) {
	var req trainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, enmserr.New(enmserr.KindBadRequest, "invalid request body"))
		return
	}
	engineReq, err := req.toEngineRequest()
	if err != nil {
		h.respondError(w, err)
		return
	}

	job, err := h.coordinator.Submit(r.Context(), engineReq)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"job":     job,
		"message": "training started",
	})
}

// PredictBaseline handles POST /baseline/predict with a feature vector.
func (h *Handler) PredictBaseline(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MachineID    string             `json:"machine_id"`
		SEUID        string             `json:"seu_id"`
		EnergySource string             `json:"energy_source"`
		Features     map[string]float64 `json:"features"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, enmserr.New(enmserr.KindBadRequest, "invalid request body"))
		return
	}
	if req.MachineID == "" && req.SEUID == "" {
		h.respondError(w, enmserr.New(enmserr.KindBadRequest, "machine_id or seu_id is required"))
		return
	}
	if req.EnergySource == "" {
		req.EnergySource = "electricity"
	}

	prediction, err := h.baselines.Predict(r.Context(), models.Scope{
		MachineID:    req.MachineID,
		SEUID:        req.SEUID,
		EnergySource: req.EnergySource,
	}, req.Features)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, prediction)
}

// BaselineDeviation handles GET /baseline/deviation.
func (h *Handler) BaselineDeviation(w http.ResponseWriter, r *http.Request) {
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

	report, err := h.baselines.Deviation(r.Context(), scope, start, end)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

// ListBaselineModels handles GET /baseline/models?machine_id.
func (h *Handler) ListBaselineModels(w http.ResponseWriter, r *http.Request) {
	machineID := r.URL.Query().Get("machine_id")
	if machineID == "" {
		h.respondError(w, enmserr.New(enmserr.KindBadRequest, "machine_id is required"))
		return
	}
	modelRows, err := h.store.ListBaselines(r.Context(), machineID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"models": modelRows,
		"count":  len(modelRows),
	})
}

// GetBaselineModel handles GET /baseline/model/{model_id}.
func (h *Handler) GetBaselineModel(w http.ResponseWriter, r *http.Request) {
	model, err := h.store.GetBaseline(r.Context(), mux.Vars(r)["model_id"])
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, model)
}
