// Package events carries domain events over Redis pub/sub. Publishing is
// fire-and-forget: a down broker degrades live updates but never fails the
// operation that raised the event.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/enmstack/analytics-service/internal/models"
	"github.com/enmstack/analytics-service/internal/pkg/metrics"
)

const publishTimeout = 2 * time.Second

// Bus publishes domain events to Redis channels.
type Bus struct {
	client *redis.Client
	logger *zap.Logger
}

// NewBus connects to Redis and verifies the connection.
func NewBus(ctx context.Context, addr, password string, db int, logger *zap.Logger) (*Bus, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return &Bus{client: client, logger: logger}, nil
}

// NewBusWithClient wraps an existing client. Tests inject miniredis here.
func NewBusWithClient(client *redis.Client, logger *zap.Logger) *Bus {
	return &Bus{client: client, logger: logger}
}

// Client exposes the underlying connection for sibling components that share
// the same Redis (rate limiter, subscriber).
func (b *Bus) Client() *redis.Client { return b.client }

// Close releases the connection.
func (b *Bus) Close() error { return b.client.Close() }

// publish serializes the payload and publishes it, swallowing failures.
func (b *Bus) publish(ctx context.Context, channel string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		metrics.EventPublishFailuresTotal.WithLabelValues(channel).Inc()
		b.logger.Error("event marshal failed", zap.String("channel", channel), zap.Error(err))
		return
	}
	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := b.client.Publish(pubCtx, channel, data).Err(); err != nil {
		metrics.EventPublishFailuresTotal.WithLabelValues(channel).Inc()
		b.logger.Warn("event publish failed", zap.String("channel", channel), zap.Error(err))
	}
}

// PublishAnomalyDetected emits anomaly.detected for a newly created anomaly.
func (b *Bus) PublishAnomalyDetected(ctx context.Context, a *models.Anomaly) {
	b.publish(ctx, models.ChannelAnomalyDetected, &models.AnomalyDetectedEvent{
		EventType:   models.ChannelAnomalyDetected,
		MachineID:   a.MachineID,
		Metric:      a.Metric,
		Value:       a.Actual,
		Expected:    a.Expected,
		Severity:    a.Severity,
		AnomalyType: a.Type,
		Confidence:  a.Confidence,
		Timestamp:   a.DetectedAt,
		PublishedAt: time.Now().UTC(),
	})
}

// PublishMetricUpdated emits metric.updated for live dashboards.
func (b *Bus) PublishMetricUpdated(ctx context.Context, machineID, metric string, value float64, at time.Time) {
	b.publish(ctx, models.ChannelMetricUpdated, &models.MetricUpdatedEvent{
		EventType:   models.ChannelMetricUpdated,
		MachineID:   machineID,
		Metric:      metric,
		Value:       value,
		Timestamp:   at,
		PublishedAt: time.Now().UTC(),
	})
}

// PublishTrainingStarted emits training.started for a job.
func (b *Bus) PublishTrainingStarted(ctx context.Context, job *models.TrainingJob) {
	b.publish(ctx, models.ChannelTrainingStarted, &models.TrainingStartedEvent{
		EventType:   models.ChannelTrainingStarted,
		JobID:       job.ID,
		MachineID:   job.MachineID,
		ModelType:   job.ModelType,
		PublishedAt: time.Now().UTC(),
	})
}

// PublishTrainingProgress emits training.progress for a running job.
func (b *Bus) PublishTrainingProgress(ctx context.Context, jobID string, pct float64, status, message string) {
	b.publish(ctx, models.ChannelTrainingProgress, &models.TrainingProgressEvent{
		EventType:   models.ChannelTrainingProgress,
		JobID:       jobID,
		ProgressPct: pct,
		Status:      status,
		Message:     message,
		PublishedAt: time.Now().UTC(),
	})
}

// PublishTrainingCompleted emits training.completed with either fit metrics
// or an error message.
func (b *Bus) PublishTrainingCompleted(ctx context.Context, jobID, status string, m *models.TrainingMetrics, errMsg string) {
	b.publish(ctx, models.ChannelTrainingCompleted, &models.TrainingCompletedEvent{
		EventType:    models.ChannelTrainingCompleted,
		JobID:        jobID,
		Status:       status,
		Metrics:      m,
		ErrorMessage: errMsg,
		PublishedAt:  time.Now().UTC(),
	})
}

// PublishSystemAlert emits system.alert.
func (b *Bus) PublishSystemAlert(ctx context.Context, alertType, severity, message string, details map[string]string) {
	b.publish(ctx, models.ChannelSystemAlert, &models.SystemAlertEvent{
		EventType:   models.ChannelSystemAlert,
		AlertType:   alertType,
		Severity:    severity,
		Message:     message,
		Details:     details,
		PublishedAt: time.Now().UTC(),
	})
}
