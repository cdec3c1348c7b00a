package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/enmstack/analytics-service/internal/models"
)

// Handler receives decoded events. Handlers must not block; slow consumers
// do their own buffering.
type Handler func(models.Event)

// Subscriber listens on all domain channels and dispatches decoded events to
// registered handlers.
type Subscriber struct {
	client *redis.Client
	logger *zap.Logger

	mu       sync.RWMutex
	handlers []Handler

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSubscriber creates a subscriber on the given Redis connection.
func NewSubscriber(client *redis.Client, logger *zap.Logger) *Subscriber {
	return &Subscriber{client: client, logger: logger}
}

// Register adds a handler for every subsequent event.
func (s *Subscriber) Register(h Handler) {
	s.mu.Lock()
	s.handlers = append(s.handlers, h)
	s.mu.Unlock()
}

// Start subscribes to all domain channels and runs the receive loop until
// Stop is called. Redis drops and re-establishes the subscription under the
// hood, so a broker restart self-heals.
func (s *Subscriber) Start(ctx context.Context) error {
	channels := []string{
		models.ChannelAnomalyDetected,
		models.ChannelMetricUpdated,
		models.ChannelTrainingStarted,
		models.ChannelTrainingProgress,
		models.ChannelTrainingCompleted,
		models.ChannelSystemAlert,
	}

	runCtx, cancel := context.WithCancel(ctx)
	pubsub := s.client.Subscribe(runCtx, channels...)
	if _, err := pubsub.Receive(runCtx); err != nil {
		cancel()
		pubsub.Close()
		return err
	}

	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(runCtx, pubsub)
	s.logger.Info("event subscriber started", zap.Strings("channels", channels))
	return nil
}

// Stop tears down the subscription and waits for the loop to exit.
func (s *Subscriber) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	select {
	case <-s.done:
	case <-time.After(5 * time.Second):
		s.logger.Warn("event subscriber did not stop in time")
	}
}

func (s *Subscriber) loop(ctx context.Context, pubsub *redis.PubSub) {
	defer close(s.done)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			ev, err := decode(msg.Channel, []byte(msg.Payload))
			if err != nil {
				s.logger.Warn("discarding undecodable event",
					zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			s.dispatch(ev)
		}
	}
}

func (s *Subscriber) dispatch(ev models.Event) {
	s.mu.RLock()
	handlers := s.handlers
	s.mu.RUnlock()
	for _, h := range handlers {
		h(ev)
	}
}

// decode unmarshals a raw bus message into the Event variant selected by its
// channel. Unknown channels are rejected.
func decode(channel string, payload []byte) (models.Event, error) {
	ev := models.Event{Channel: channel, PublishedAt: time.Now().UTC()}
	var err error
	switch channel {
	case models.ChannelAnomalyDetected:
		var p models.AnomalyDetectedEvent
		if err = json.Unmarshal(payload, &p); err == nil {
			ev.AnomalyDetected = &p
		}
	case models.ChannelMetricUpdated:
		var p models.MetricUpdatedEvent
		if err = json.Unmarshal(payload, &p); err == nil {
			ev.MetricUpdated = &p
		}
	case models.ChannelTrainingStarted:
		var p models.TrainingStartedEvent
		if err = json.Unmarshal(payload, &p); err == nil {
			ev.TrainingStarted = &p
		}
	case models.ChannelTrainingProgress:
		var p models.TrainingProgressEvent
		if err = json.Unmarshal(payload, &p); err == nil {
			ev.TrainingProgress = &p
		}
	case models.ChannelTrainingCompleted:
		var p models.TrainingCompletedEvent
		if err = json.Unmarshal(payload, &p); err == nil {
			ev.TrainingCompleted = &p
		}
	case models.ChannelSystemAlert:
		var p models.SystemAlertEvent
		if err = json.Unmarshal(payload, &p); err == nil {
			ev.SystemAlert = &p
		}
	default:
		return ev, errUnknownChannel(channel)
	}
	return ev, err
}

type errUnknownChannel string

func (e errUnknownChannel) Error() string { return "unknown event channel " + string(e) }
