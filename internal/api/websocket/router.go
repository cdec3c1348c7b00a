package websocket

import (
	"github.com/enmstack/analytics-service/internal/models"
)

// Router translates bus events into topic broadcasts. It implements the
// event subscriber's handler signature.
type Router struct {
	hub *Hub
}

// NewRouter binds the fan-out routing table to a hub.
func NewRouter(hub *Hub) *Router {
	return &Router{hub: hub}
}

// Handle fans one bus event out to its topics. Dashboard receives completed
// trainings re-typed as model_updated so live views refresh predictions.
func (r *Router) Handle(ev models.Event) {
	payload := ev.Payload()
	if payload == nil {
		return
	}

	switch ev.Channel {
	case models.ChannelAnomalyDetected:
		r.hub.Broadcast(TopicAnomalies, Envelope{Type: ev.Channel, Data: payload})
		r.hub.Broadcast(TopicDashboard, Envelope{Type: ev.Channel, Data: payload})

	case models.ChannelMetricUpdated:
		r.hub.Broadcast(TopicDashboard, Envelope{Type: ev.Channel, Data: payload})

	case models.ChannelTrainingStarted, models.ChannelTrainingProgress:
		r.hub.Broadcast(TopicTraining, Envelope{Type: ev.Channel, Data: payload})

	case models.ChannelTrainingCompleted:
		r.hub.Broadcast(TopicTraining, Envelope{Type: ev.Channel, Data: payload})
		r.hub.Broadcast(TopicDashboard, Envelope{Type: "model_updated", Data: payload})

	case models.ChannelSystemAlert:
		r.hub.Broadcast(TopicEvents, Envelope{Type: ev.Channel, Data: payload})
	}
}
