package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Handler upgrades HTTP requests to topic WebSocket connections.
type Handler struct {
	hub       *Hub
	ctx       context.Context
	heartbeat time.Duration
	maxConns  int // total across topics; 0 disables the cap
	logger    *zap.Logger

	upgrader websocket.Upgrader
}

// NewHandler creates a WebSocket handler. allowedOrigins of ["*"] accepts
// any origin.
func NewHandler(ctx context.Context, hub *Hub, allowedOrigins []string,
	heartbeat time.Duration, maxConns int, logger *zap.Logger) *Handler {
	return &Handler{
		hub:       hub,
		ctx:       ctx,
		heartbeat: heartbeat,
		maxConns:  maxConns,
		logger:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

// ServeWS handles GET /ws/{topic}?client_id=<opaque>.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	topic := mux.Vars(r)["topic"]
	if !ValidTopic(topic) {
		http.Error(w, "unknown websocket topic", http.StatusNotFound)
		return
	}

	// Checked before the upgrade so the rejection is a plain HTTP 503 the
	// client can back off on.
	if h.maxConns > 0 && h.hub.TotalClients() >= h.maxConns {
		w.Header().Set("Retry-After", "5")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error":       "too_many_connections",
			"retry_after": 5,
		})
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		clientID = uuid.New().String()
	}

	client := NewClient(h.ctx, h.hub, conn, topic, clientID, h.heartbeat, h.logger)
	h.hub.Register(client)

	client.enqueue(map[string]interface{}{
		"type":            "connection",
		"status":          "connected",
		"client_id":       clientID,
		"connection_type": topic,
		"timestamp":       time.Now().UTC(),
	})

	go client.WritePump()
	go client.ReadPump()
}

func originChecker(allowed []string) func(*http.Request) bool {
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
