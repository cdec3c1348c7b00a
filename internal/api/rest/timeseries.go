package rest

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/enmstack/analytics-service/internal/enmserr"
	"github.com/enmstack/analytics-service/internal/models"
)

// SeriesPoint is one bucket of a derived time series.
type SeriesPoint struct {
	Bucket time.Time `json:"bucket"`
	Value  *float64  `json:"value"`
}

// TimeSeries handles GET /timeseries/{metric}. Derived metrics (sec, cost,
// carbon, load-factor) are computed per bucket from the aggregates.
func (h *Handler) TimeSeries(w http.ResponseWriter, r *http.Request) {
	metric := mux.Vars(r)["metric"]
	machineID := r.URL.Query().Get("machine_id")
	if machineID == "" {
		h.respondError(w, enmserr.New(enmserr.KindBadRequest, "machine_id is required"))
		return
	}

	start, end, err := timeWindow(r, 24*time.Hour)
	if err != nil {
		h.respondError(w, err)
		return
	}
	g, err := interval(r)
	if err != nil {
		h.respondError(w, err)
		return
	}

	energySource := r.URL.Query().Get("energy_source")
	if energySource == "" {
		energySource = "electricity"
	}

	ctx := r.Context()
	energy, err := h.store.EnergySeries(ctx, []string{machineID}, energySource, start, end, g)
	if err != nil {
		h.respondError(w, err)
		return
	}

	var points []SeriesPoint
	switch metric {
	case "energy":
		points = mapBuckets(energy, func(b *models.EnergyBucket) *float64 { v := b.TotalEnergyKWh; return &v })
	case "power":
		points = mapBuckets(energy, func(b *models.EnergyBucket) *float64 { v := b.AvgPowerKW; return &v })
	case "cost":
		points = mapBuckets(energy, func(b *models.EnergyBucket) *float64 {
			v := b.TotalEnergyKWh * h.tariff.Rate(b.Bucket)
			return &v
		})
	case "carbon":
		points = mapBuckets(energy, func(b *models.EnergyBucket) *float64 {
			v := b.TotalEnergyKWh * h.carbonFactor
			return &v
		})
	case "load-factor":
		points = mapBuckets(energy, func(b *models.EnergyBucket) *float64 {
			if b.MaxPowerKW <= 0 {
				return nil
			}
			v := b.AvgPowerKW / b.MaxPowerKW
			return &v
		})
	case "sec":
		production, err := h.store.ProductionSeries(ctx, []string{machineID}, start, end, g)
		if err != nil {
			h.respondError(w, err)
			return
		}
		points = secSeries(energy, production)
	default:
		h.respondError(w, enmserr.New(enmserr.KindBadRequest,
			"unknown metric %q, expected energy, power, sec, cost, carbon, or load-factor", metric))
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"machine_id": machineID,
		"metric":     metric,
		"interval":   g,
		"start_time": start,
		"end_time":   end,
		"points":     points,
		"count":      len(points),
	})
}

func mapBuckets(energy []*models.EnergyBucket, f func(*models.EnergyBucket) *float64) []SeriesPoint {
	points := make([]SeriesPoint, 0, len(energy))
	for _, b := range energy {
		points = append(points, SeriesPoint{Bucket: b.Bucket, Value: f(b)})
	}
	return points
}

// secSeries divides per-bucket energy by production, null where production
// is zero or the bucket has no production row.
func secSeries(energy []*models.EnergyBucket, production []*models.ProductionBucket) []SeriesPoint {
	prodByBucket := make(map[time.Time]float64, len(production))
	for _, p := range production {
		prodByBucket[p.Bucket] += p.TotalCount
	}
	points := make([]SeriesPoint, 0, len(energy))
	for _, b := range energy {
		var value *float64
		if count := prodByBucket[b.Bucket]; count > 0 {
			v := b.TotalEnergyKWh / count
			value = &v
		}
		points = append(points, SeriesPoint{Bucket: b.Bucket, Value: value})
	}
	return points
}

// LatestReading handles GET /timeseries/latest/{machine_id}.
func (h *Handler) LatestReading(w http.ResponseWriter, r *http.Request) {
	latest, err := h.store.LatestReading(r.Context(), mux.Vars(r)["machine_id"])
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, latest)
}

// MultiMachineEnergy handles GET /timeseries/multi-machine/energy?machine_ids=a,b,c.
// Returns one series per machine over the same window.
func (h *Handler) MultiMachineEnergy(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("machine_ids")
	if raw == "" {
		h.respondError(w, enmserr.New(enmserr.KindBadRequest, "machine_ids is required"))
		return
	}
	machineIDs := strings.Split(raw, ",")

	start, end, err := timeWindow(r, 24*time.Hour)
	if err != nil {
		h.respondError(w, err)
		return
	}
	g, err := interval(r)
	if err != nil {
		h.respondError(w, err)
		return
	}

	ctx := r.Context()
	series := make(map[string][]SeriesPoint, len(machineIDs))
	for _, id := range machineIDs {
		energy, err := h.store.EnergySeries(ctx, []string{id}, "electricity", start, end, g)
		if err != nil {
			h.respondError(w, err)
			return
		}
		series[id] = mapBuckets(energy, func(b *models.EnergyBucket) *float64 {
			v := b.TotalEnergyKWh
			return &v
		})
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"interval":   g,
		"start_time": start,
		"end_time":   end,
		"series":     series,
	})
}
