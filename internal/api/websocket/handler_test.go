package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func wsRequest(topic string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/ws/"+topic, nil)
	return mux.SetURLVars(req, map[string]string{"topic": topic})
}

func TestServeWSUnknownTopic(t *testing.T) {
	hub := NewHub(context.Background(), zap.NewNop())
	h := NewHandler(context.Background(), hub, []string{"*"}, 0, 0, zap.NewNop())

	rec := httptest.NewRecorder()
	h.ServeWS(rec, wsRequest("metrics"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServeWSRejectsOverConnectionCap(t *testing.T) {
	hub := NewHub(context.Background(), zap.NewNop())
	hub.clients[TopicDashboard]["c-1"] = &Client{send: make(chan []byte, 1)}
	h := NewHandler(context.Background(), hub, []string{"*"}, 0, 1, zap.NewNop())

	rec := httptest.NewRecorder()
	h.ServeWS(rec, wsRequest(TopicAnomalies))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "5", rec.Header().Get("Retry-After"))
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "too_many_connections", body["error"])
	assert.Equal(t, float64(5), body["retry_after"])
}

func TestServeWSBelowCapAttemptsUpgrade(t *testing.T) {
	hub := NewHub(context.Background(), zap.NewNop())
	hub.clients[TopicDashboard]["c-1"] = &Client{send: make(chan []byte, 1)}
	h := NewHandler(context.Background(), hub, []string{"*"}, 0, 2, zap.NewNop())

	// A plain HTTP request fails the upgrade handshake, which proves the
	// cap check admitted it.
	rec := httptest.NewRecorder()
	h.ServeWS(rec, wsRequest(TopicDashboard))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClientHeartbeatConfigurable(t *testing.T) {
	hub := NewHub(context.Background(), zap.NewNop())

	c := NewClient(context.Background(), hub, nil, TopicEvents, "c-1", 0, zap.NewNop())
	assert.Equal(t, defaultHeartbeat, c.heartbeat)

	c = NewClient(context.Background(), hub, nil, TopicEvents, "c-2", 10*time.Second, zap.NewNop())
	assert.Equal(t, 10*time.Second, c.heartbeat)
	assert.Equal(t, 20*time.Second, c.readWait())
}
