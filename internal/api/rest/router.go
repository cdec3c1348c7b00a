package rest

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/enmstack/analytics-service/internal/api/middleware"
	"github.com/enmstack/analytics-service/internal/api/websocket"
)

// SetupRoutes mounts the versioned API, assigning each endpoint its
// rate-limit category. Heavy covers training and detection, critical the
// endpoints dashboards poll continuously.
func SetupRoutes(router *mux.Router, h *Handler, rl *middleware.RateLimiter,
	ws *websocket.Handler, wsEnabled bool) {

	api := router.PathPrefix("/api/v1").Subrouter()

	critical := func(fn http.HandlerFunc) http.Handler {
		return rl.Limit(middleware.CategoryCritical, fn)
	}
	normal := func(fn http.HandlerFunc) http.Handler {
		return rl.Limit(middleware.CategoryNormal, fn)
	}
	heavy := func(fn http.HandlerFunc) http.Handler {
		return rl.Limit(middleware.CategoryHeavy, fn)
	}
	standard := func(fn http.HandlerFunc) http.Handler {
		return rl.Limit(middleware.CategoryDefault, fn)
	}

	// Health and introspection
	api.Handle("/health", critical(h.HealthCheck)).Methods("GET")
	api.Handle("/livez", critical(h.Livez)).Methods("GET")
	api.Handle("/readyz", critical(h.Readyz)).Methods("GET")
	api.Handle("/stats/connections", critical(h.ConnectionStats)).Methods("GET")

	// Reference data
	api.Handle("/machines", normal(h.ListMachines)).Methods("GET")
	api.Handle("/machines/status/{name}", normal(h.GetMachineStatus)).Methods("GET")
	api.Handle("/machines/{id}", normal(h.GetMachine)).Methods("GET")
	api.Handle("/seus", normal(h.ListSEUs)).Methods("GET")
	api.Handle("/energy-sources", normal(h.ListEnergySources)).Methods("GET")

	// Time series
	api.Handle("/timeseries/latest/{machine_id}", critical(h.LatestReading)).Methods("GET")
	api.Handle("/timeseries/multi-machine/energy", normal(h.MultiMachineEnergy)).Methods("GET")
	api.Handle("/timeseries/{metric}", normal(h.TimeSeries)).Methods("GET")

	// KPIs
	api.Handle("/kpi/all", normal(h.AllKPIs)).Methods("GET")
	api.Handle("/kpi/{name}", normal(h.SingleKPI)).Methods("GET")

	// Baselines
	api.Handle("/baseline/train", heavy(h.TrainBaseline)).Methods("POST")
	api.Handle("/baseline/predict", normal(h.PredictBaseline)).Methods("POST")
	api.Handle("/baseline/deviation", heavy(h.BaselineDeviation)).Methods("GET")
	api.Handle("/baseline/models", normal(h.ListBaselineModels)).Methods("GET")
	api.Handle("/baseline/model/{model_id}", normal(h.GetBaselineModel)).Methods("GET")

	// Anomalies
	api.Handle("/anomaly/recent", normal(h.RecentAnomalies)).Methods("GET")
	api.Handle("/anomaly/active", normal(h.ActiveAnomalies)).Methods("GET")
	api.Handle("/anomaly/detect", heavy(h.DetectAnomalies)).Methods("POST")
	api.Handle("/anomaly/create", standard(h.CreateAnomaly)).Methods("POST")
	api.Handle("/anomaly/{id}/resolve", standard(h.ResolveAnomaly)).Methods("PUT")

	// Voice assistant
	api.Handle("/ovos/available-features", normal(h.AvailableFeatures)).Methods("GET")
	api.Handle("/ovos/train-baseline", heavy(h.OVOSTrainBaseline)).Methods("POST")

	// Scheduler
	api.Handle("/scheduler/status", critical(h.SchedulerStatus)).Methods("GET")
	api.Handle("/scheduler/trigger/{job_id}", heavy(h.TriggerJob)).Methods("POST")

	// Documentation
	api.Handle("/openapi.json", standard(h.OpenAPISpec)).Methods("GET")
	api.Handle("/docs", standard(h.Docs)).Methods("GET")

	// WebSocket topics live outside the versioned prefix and the limiter;
	// the connection throttle still applies upstream.
	if wsEnabled {
		router.HandleFunc("/ws/{topic}", ws.ServeWS).Methods("GET")
	}
}
