package rest

import (
	"net/http"
)

// OpenAPISpec handles GET /openapi.json with a minimal machine-readable
// surface description. Shapes live in the handler types; this document is
// for discovery, not validation.
func (h *Handler) OpenAPISpec(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, openAPIDocument())
}

// Docs handles GET /docs: a Swagger UI shell over /openapi.json.
func (h *Handler) Docs(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(docsHTML))
}

const docsHTML = `<!DOCTYPE html>
<html>
<head>
  <title>EnMS Analytics API</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    SwaggerUIBundle({url: "/api/v1/openapi.json", dom_id: "#swagger-ui"});
  </script>
</body>
</html>`

func openAPIDocument() map[string]interface{} {
	op := func(summary string) map[string]interface{} {
		return map[string]interface{}{
			"summary":   summary,
			"responses": map[string]interface{}{"200": map[string]interface{}{"description": "OK"}},
		}
	}
	return map[string]interface{}{
		"openapi": "3.0.3",
		"info": map[string]interface{}{
			"title":   "EnMS Analytics Service",
			"version": "1.0.0",
		},
		"paths": map[string]interface{}{
			"/api/v1/health":                          map[string]interface{}{"get": op("Service and dependency health")},
			"/api/v1/machines":                        map[string]interface{}{"get": op("List machines")},
			"/api/v1/machines/{id}":                   map[string]interface{}{"get": op("Get machine")},
			"/api/v1/machines/status/{name}":          map[string]interface{}{"get": op("Machine status by name")},
			"/api/v1/seus":                            map[string]interface{}{"get": op("List significant energy uses")},
			"/api/v1/energy-sources":                  map[string]interface{}{"get": op("List energy sources")},
			"/api/v1/timeseries/{metric}":             map[string]interface{}{"get": op("Time series for a metric")},
			"/api/v1/timeseries/latest/{machine_id}":  map[string]interface{}{"get": op("Latest reading")},
			"/api/v1/timeseries/multi-machine/energy": map[string]interface{}{"get": op("Energy series for several machines")},
			"/api/v1/kpi/all":                         map[string]interface{}{"get": op("All KPIs over a window")},
			"/api/v1/kpi/{name}":                      map[string]interface{}{"get": op("One KPI over a window")},
			"/api/v1/baseline/train":                  map[string]interface{}{"post": op("Train a baseline model")},
			"/api/v1/baseline/predict":                map[string]interface{}{"post": op("Predict energy from a feature vector")},
			"/api/v1/baseline/deviation":              map[string]interface{}{"get": op("Actual vs predicted deviation")},
			"/api/v1/baseline/models":                 map[string]interface{}{"get": op("List baseline models")},
			"/api/v1/baseline/model/{model_id}":       map[string]interface{}{"get": op("Get baseline model")},
			"/api/v1/anomaly/recent":                  map[string]interface{}{"get": op("Recent anomalies")},
			"/api/v1/anomaly/active":                  map[string]interface{}{"get": op("Open anomalies")},
			"/api/v1/anomaly/detect":                  map[string]interface{}{"post": op("Run anomaly detection")},
			"/api/v1/anomaly/create":                  map[string]interface{}{"post": op("Report an anomaly manually")},
			"/api/v1/anomaly/{id}/resolve":            map[string]interface{}{"put": op("Resolve an anomaly")},
			"/api/v1/ovos/available-features":         map[string]interface{}{"get": op("Features available for training")},
			"/api/v1/ovos/train-baseline":             map[string]interface{}{"post": op("Voice-assistant training wrapper")},
			"/api/v1/scheduler/status":                map[string]interface{}{"get": op("Scheduler job status")},
			"/api/v1/scheduler/trigger/{job_id}":      map[string]interface{}{"post": op("Trigger a scheduled job")},
			"/api/v1/stats/connections":               map[string]interface{}{"get": op("Connection throttle stats")},
		},
	}
}
