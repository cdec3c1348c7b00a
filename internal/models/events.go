package models

import "time"

// Channel names on the event bus.
const (
	ChannelAnomalyDetected   = "anomaly.detected"
	ChannelMetricUpdated     = "metric.updated"
	ChannelTrainingStarted   = "training.started"
	ChannelTrainingProgress  = "training.progress"
	ChannelTrainingCompleted = "training.completed"
	ChannelSystemAlert       = "system.alert"
)

// Event is the sum type of every bus payload. Exactly one embedded variant is
// non-nil; Channel selects it so the fan-out can match exhaustively.
type Event struct {
	Channel     string    `json:"-"`
	PublishedAt time.Time `json:"-"`

	AnomalyDetected   *AnomalyDetectedEvent   `json:"-"`
	MetricUpdated     *MetricUpdatedEvent     `json:"-"`
	TrainingStarted   *TrainingStartedEvent   `json:"-"`
	TrainingProgress  *TrainingProgressEvent  `json:"-"`
	TrainingCompleted *TrainingCompletedEvent `json:"-"`
	SystemAlert       *SystemAlertEvent       `json:"-"`
}

// AnomalyDetectedEvent announces a newly persisted anomaly.
type AnomalyDetectedEvent struct {
	EventType   string    `json:"event_type"`
	MachineID   string    `json:"machine_id"`
	Metric      string    `json:"metric"`
	Value       float64   `json:"value"`
	Expected    float64   `json:"expected"`
	Severity    string    `json:"severity"`
	AnomalyType string    `json:"anomaly_type"`
	Confidence  float64   `json:"confidence"`
	Timestamp   time.Time `json:"timestamp"`
	PublishedAt time.Time `json:"published_at"`
}

// MetricUpdatedEvent announces a fresh metric value for live dashboards.
type MetricUpdatedEvent struct {
	EventType   string    `json:"event_type"`
	MachineID   string    `json:"machine_id"`
	Metric      string    `json:"metric"`
	Value       float64   `json:"value"`
	Timestamp   time.Time `json:"timestamp"`
	PublishedAt time.Time `json:"published_at"`
}

// TrainingStartedEvent announces a training job starting.
type TrainingStartedEvent struct {
	EventType   string    `json:"event_type"`
	JobID       string    `json:"job_id"`
	MachineID   string    `json:"machine_id"`
	ModelType   string    `json:"model_type"`
	PublishedAt time.Time `json:"published_at"`
}

// TrainingProgressEvent reports training progress.
type TrainingProgressEvent struct {
	EventType   string    `json:"event_type"`
	JobID       string    `json:"job_id"`
	ProgressPct float64   `json:"progress_pct"`
	Status      string    `json:"status"`
	Message     string    `json:"message,omitempty"`
	PublishedAt time.Time `json:"published_at"`
}

// TrainingMetrics carries fit statistics on a completed training.
type TrainingMetrics struct {
	ModelVersion int     `json:"model_version"`
	RSquared     float64 `json:"r_squared"`
	RMSE         float64 `json:"rmse"`
	MAE          float64 `json:"mae"`
}

// TrainingCompletedEvent announces a training job ending, either way.
type TrainingCompletedEvent struct {
	EventType    string           `json:"event_type"`
	JobID        string           `json:"job_id"`
	Status       string           `json:"status"`
	Metrics      *TrainingMetrics `json:"metrics,omitempty"`
	ErrorMessage string           `json:"error_message,omitempty"`
	PublishedAt  time.Time        `json:"published_at"`
}

// SystemAlertEvent is an operator-facing service alert.
type SystemAlertEvent struct {
	EventType   string            `json:"event_type"`
	AlertType   string            `json:"alert_type"`
	Severity    string            `json:"severity"`
	Message     string            `json:"message"`
	Details     map[string]string `json:"details,omitempty"`
	PublishedAt time.Time         `json:"published_at"`
}

// Payload returns the variant matching Channel, or nil for a malformed event.
func (e Event) Payload() interface{} {
	switch e.Channel {
	case ChannelAnomalyDetected:
		if e.AnomalyDetected != nil {
			return e.AnomalyDetected
		}
	case ChannelMetricUpdated:
		if e.MetricUpdated != nil {
			return e.MetricUpdated
		}
	case ChannelTrainingStarted:
		if e.TrainingStarted != nil {
			return e.TrainingStarted
		}
	case ChannelTrainingProgress:
		if e.TrainingProgress != nil {
			return e.TrainingProgress
		}
	case ChannelTrainingCompleted:
		if e.TrainingCompleted != nil {
			return e.TrainingCompleted
		}
	case ChannelSystemAlert:
		if e.SystemAlert != nil {
			return e.SystemAlert
		}
	}
	return nil
}
