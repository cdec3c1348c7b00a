// Package rest is the HTTP surface of the analytics service. Handlers
// validate, call the engines, and shape JSON; the error kind decides the
// status code.
package rest

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/enmstack/analytics-service/internal/anomaly"
	"github.com/enmstack/analytics-service/internal/api/middleware"
	"github.com/enmstack/analytics-service/internal/api/websocket"
	"github.com/enmstack/analytics-service/internal/baseline"
	"github.com/enmstack/analytics-service/internal/enmserr"
	"github.com/enmstack/analytics-service/internal/events"
	"github.com/enmstack/analytics-service/internal/kpi"
	"github.com/enmstack/analytics-service/internal/models"
	"github.com/enmstack/analytics-service/internal/repository"
	"github.com/enmstack/analytics-service/internal/scheduler"
	"github.com/enmstack/analytics-service/internal/service"
)

// Handler carries the engine dependencies for every endpoint.
type Handler struct {
	store       repository.Store
	baselines   *baseline.Engine
	anomalies   *anomaly.Engine
	kpis        *kpi.Engine
	coordinator *service.TrainingCoordinator
	sched       *scheduler.Scheduler
	hub         *websocket.Hub
	throttle    *middleware.ConnectionThrottle
	bus         *events.Bus

	tariff       kpi.TariffSchedule
	carbonFactor float64
	flags        FeatureFlags

	logger *zap.Logger
}

// FeatureFlags surfaces toggles on the health endpoint.
type FeatureFlags struct {
	WebSocket bool `json:"websocket"`
	Scheduler bool `json:"scheduler"`
	BusPubSub bool `json:"bus_pubsub"`
}

// NewHandler wires the REST handlers.
func NewHandler(store repository.Store, baselines *baseline.Engine, anomalies *anomaly.Engine,
	kpis *kpi.Engine, coordinator *service.TrainingCoordinator, sched *scheduler.Scheduler,
	hub *websocket.Hub, throttle *middleware.ConnectionThrottle, bus *events.Bus,
	tariff kpi.TariffSchedule, carbonFactor float64, flags FeatureFlags, logger *zap.Logger) *Handler {
	return &Handler{
		store:        store,
		baselines:    baselines,
		anomalies:    anomalies,
		kpis:         kpis,
		coordinator:  coordinator,
		sched:        sched,
		hub:          hub,
		throttle:     throttle,
		bus:          bus,
		tariff:       tariff,
		carbonFactor: carbonFactor,
		flags:        flags,
		logger:       logger,
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// timeWindow parses start_time/end_time query parameters (RFC 3339). A
// missing window defaults to the trailing defaultSpan ending now.
func timeWindow(r *http.Request, defaultSpan time.Duration) (time.Time, time.Time, error) {
	q := r.URL.Query()
	now := time.Now().UTC()
	start := now.Add(-defaultSpan)
	end := now

	if raw := q.Get("start_time"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, time.Time{}, enmserr.New(enmserr.KindBadRequest,
				"start_time must be RFC 3339, got %q", raw)
		}
		start = t.UTC()
	}
	if raw := q.Get("end_time"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, time.Time{}, enmserr.New(enmserr.KindBadRequest,
				"end_time must be RFC 3339, got %q", raw)
		}
		end = t.UTC()
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, enmserr.New(enmserr.KindBadRequest,
			"end_time must be after start_time")
	}
	return start, end, nil
}

// interval parses the interval query parameter into a granularity, defaulting
// to hourly.
func interval(r *http.Request) (models.Granularity, error) {
	raw := r.URL.Query().Get("interval")
	if raw == "" {
		return models.Granularity1Hour, nil
	}
	g := models.Granularity(raw)
	if !g.Valid() {
		return "", enmserr.New(enmserr.KindBadRequest,
			"interval must be one of 1min, 15min, 1hour, 1day")
	}
	return g, nil
}

// scopeFromQuery builds a machine or SEU scope from query parameters.
func scopeFromQuery(r *http.Request) (models.Scope, error) {
	q := r.URL.Query()
	scope := models.Scope{
		MachineID:    q.Get("machine_id"),
		SEUID:        q.Get("seu_id"),
		EnergySource: q.Get("energy_source"),
	}
	if scope.EnergySource == "" {
		scope.EnergySource = "electricity"
	}
	if scope.MachineID == "" && scope.SEUID == "" {
		return models.Scope{}, enmserr.New(enmserr.KindBadRequest,
			"machine_id or seu_id is required")
	}
	return scope, nil
}
