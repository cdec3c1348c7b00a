package rest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/enmstack/analytics-service/internal/baseline"
	"github.com/enmstack/analytics-service/internal/enmserr"
	"github.com/enmstack/analytics-service/internal/models"
)

// OVOSTrainBaseline handles POST /ovos/train-baseline, the voice-assistant
// wrapper over baseline training. Responses always carry a speakable
// message; a training already in flight answers 200 with triggered=false
// rather than a raw conflict.
func (h *Handler) OVOSTrainBaseline(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MachineID    string   `json:"machine_id"`
		MachineName  string   `json:"machine_name"`
		EnergySource string   `json:"energy_source"`
		Features     []string `json:"features"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"triggered": false,
			"message":   "I could not understand that training request.",
		})
		return
	}

	ctx := r.Context()
	machineID := req.MachineID
	label := req.MachineName
	if machineID == "" && req.MachineName != "" {
		machine, err := h.store.GetMachineByName(ctx, req.MachineName)
		if err != nil {
			respondJSON(w, http.StatusOK, map[string]interface{}{
				"triggered": false,
				"message":   fmt.Sprintf("I could not find a machine called %s.", req.MachineName),
			})
			return
		}
		machineID = machine.ID
	}
	if machineID == "" {
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"triggered": false,
			"message":   "Please tell me which machine to train.",
		})
		return
	}
	if label == "" {
		label = machineID
	}
	if req.EnergySource == "" {
		req.EnergySource = "electricity"
	}

	now := time.Now().UTC()
	job, err := h.coordinator.Submit(ctx, baseline.TrainRequest{
		Scope:    models.Scope{MachineID: machineID, EnergySource: req.EnergySource},
		Start:    now.Add(-30 * 24 * time.Hour),
		End:      now,
		Features: req.Features, // empty means automatic selection
		Activate: true,
	})
	if err != nil {
		if enmserr.IsKind(err, enmserr.KindConflict) {
			respondJSON(w, http.StatusOK, map[string]interface{}{
				"triggered": false,
				"reason":    "Training already in progress",
				"message":   fmt.Sprintf("A baseline for %s is already being trained.", label),
			})
			return
		}
		h.respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"triggered": true,
		"job_id":    job.ID,
		"message":   fmt.Sprintf("Started training a new energy baseline for %s.", label),
	})
}
