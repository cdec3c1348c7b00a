// Package websocket fans bus events out to browser clients over four pure
// broadcast topics. Delivery is eventual: the database remains the state of
// truth and a dropped client simply reconnects.
package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/enmstack/analytics-service/internal/pkg/metrics"
)

// Broadcast topics.
const (
	TopicDashboard = "dashboard"
	TopicAnomalies = "anomalies"
	TopicTraining  = "training"
	TopicEvents    = "events"
)

// Topics lists every valid topic.
var Topics = []string{TopicDashboard, TopicAnomalies, TopicTraining, TopicEvents}

// ValidTopic reports whether name is a known broadcast topic.
func ValidTopic(name string) bool {
	for _, t := range Topics {
		if t == name {
			return true
		}
	}
	return false
}

// Envelope is the frame sent to clients: the event type plus its payload.
type Envelope struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// Hub maintains the connection registry keyed by (topic, client id) and
// broadcasts messages to all clients of a topic.
type Hub struct {
	// topic -> client id -> client
	clients map[string]map[string]*Client

	register   chan *Client
	unregister chan *Client

	mu sync.RWMutex

	logger *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub creates a hub with empty registries for every topic.
func NewHub(ctx context.Context, logger *zap.Logger) *Hub {
	hubCtx, cancel := context.WithCancel(ctx)
	clients := make(map[string]map[string]*Client, len(Topics))
	for _, t := range Topics {
		clients[t] = make(map[string]*Client)
	}
	return &Hub{
		clients:    clients,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
		ctx:        hubCtx,
		cancel:     cancel,
	}
}

// Run processes register and unregister requests until the hub stops.
func (h *Hub) Run() {
	for {
		select {
		case <-h.ctx.Done():
			return

		case client := <-h.register:
			h.mu.Lock()
			// A reconnect with the same client id replaces the old connection.
			if old, ok := h.clients[client.topic][client.id]; ok {
				close(old.send)
				metrics.WebSocketConnectionsActive.WithLabelValues(client.topic).Dec()
			}
			h.clients[client.topic][client.id] = client
			h.mu.Unlock()
			metrics.WebSocketConnectionsActive.WithLabelValues(client.topic).Inc()
			h.logger.Info("websocket client connected",
				zap.String("topic", client.topic), zap.String("client_id", client.id))

		case client := <-h.unregister:
			h.mu.Lock()
			if cur, ok := h.clients[client.topic][client.id]; ok && cur == client {
				delete(h.clients[client.topic], client.id)
				close(client.send)
				metrics.WebSocketConnectionsActive.WithLabelValues(client.topic).Dec()
			}
			h.mu.Unlock()
		}
	}
}

// Register hands a client to the registry. Returns immediately when the hub
// has already stopped; Stop closes every registered client anyway.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.ctx.Done():
	}
}

// Unregister removes a client. Safe to call after Stop, when nothing drains
// the channel anymore.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

// Stop closes every client and halts the hub.
func (h *Hub) Stop() {
	h.cancel()
	h.mu.Lock()
	defer h.mu.Unlock()
	for topic, byID := range h.clients {
		for id, client := range byID {
			close(client.send)
			delete(byID, id)
			metrics.WebSocketConnectionsActive.WithLabelValues(topic).Dec()
		}
	}
}

// Broadcast sends an envelope to every client of the topic. A client whose
// sink is full is dropped rather than blocking the fan-out.
func (h *Hub) Broadcast(topic string, env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		h.logger.Error("envelope marshal failed", zap.String("type", env.Type), zap.Error(err))
		return
	}

	var dropped []*Client
	h.mu.RLock()
	for _, client := range h.clients[topic] {
		select {
		case client.send <- data:
		default:
			dropped = append(dropped, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range dropped {
		h.drop(client)
	}
}

// drop removes a client whose sink overflowed.
func (h *Hub) drop(client *Client) {
	h.mu.Lock()
	if cur, ok := h.clients[client.topic][client.id]; ok && cur == client {
		delete(h.clients[client.topic], client.id)
		close(client.send)
		metrics.WebSocketConnectionsActive.WithLabelValues(client.topic).Dec()
	}
	h.mu.Unlock()
	metrics.WebSocketDroppedClientsTotal.WithLabelValues(client.topic).Inc()
	h.logger.Warn("dropping slow websocket client",
		zap.String("topic", client.topic), zap.String("client_id", client.id))
}

// ClientCount returns the number of connected clients on one topic.
func (h *Hub) ClientCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}

// TotalClients returns the connection count across all topics.
func (h *Hub) TotalClients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	total := 0
	for _, byID := range h.clients {
		total += len(byID)
	}
	return total
}

// Stats returns per-topic connection counts plus client ids and ages.
func (h *Hub) Stats() map[string]TopicStats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]TopicStats, len(h.clients))
	for topic, byID := range h.clients {
		st := TopicStats{Count: len(byID)}
		for id, client := range byID {
			st.Clients = append(st.Clients, ClientStats{
				ClientID:  id,
				OpenedAt:  client.openedAt,
				UptimeSec: int(time.Since(client.openedAt).Seconds()),
			})
		}
		out[topic] = st
	}
	return out
}

// TopicStats summarizes one topic's connections.
type TopicStats struct {
	Count   int           `json:"count"`
	Clients []ClientStats `json:"clients,omitempty"`
}

// ClientStats summarizes one connection.
type ClientStats struct {
	ClientID  string    `json:"client_id"`
	OpenedAt  time.Time `json:"opened_at"`
	UptimeSec int       `json:"uptime_seconds"`
}
