package models

import "time"

// BaselineModel is a persisted regression baseline. At most one model is
// active per (machine|SEU, energy source); activation flips atomically.
type BaselineModel struct {
	ID           string  `json:"id" db:"id"`
	MachineID    *string `json:"machine_id,omitempty" db:"machine_id"`
	SEUID        *string `json:"seu_id,omitempty" db:"seu_id"`
	EnergySource string  `json:"energy_source" db:"energy_source"`
	ModelVersion int     `json:"model_version" db:"model_version"`

	// Granularity is the bucket width the model was fitted on. Evaluation
	// reads the window at the same width: total_energy_kwh scales with the
	// bucket, so coefficients fitted hourly are meaningless against daily
	// rows.
	Granularity Granularity `json:"granularity" db:"granularity"`

	Features              []string  `json:"features" db:"-"`
	Intercept             float64   `json:"intercept" db:"intercept"`
	Coefficients          []float64 `json:"coefficients" db:"-"`
	RSquared              float64   `json:"r_squared" db:"r_squared"`
	RMSE                  float64   `json:"rmse" db:"rmse"`
	MAE                   float64   `json:"mae" db:"mae"`
	TrainingSamples       int       `json:"training_samples" db:"training_samples"`
	TrainingWindowStart   time.Time `json:"training_window_start" db:"training_window_start"`
	TrainingWindowEnd     time.Time `json:"training_window_end" db:"training_window_end"`
	ResidualStdDev        float64   `json:"residual_std_dev" db:"residual_std_dev"`
	MeetsQualityThreshold bool      `json:"meets_quality_threshold" db:"meets_quality_threshold"`
	IsActive              bool      `json:"is_active" db:"is_active"`
	BlobPath              string    `json:"-" db:"blob_path"`
	CreatedAt             time.Time `json:"created_at" db:"created_at"`
}

// TrainingJob tracks an asynchronous training run. At most one job per
// (machine, model_type) may be running.
type TrainingJob struct {
	ID            string     `json:"id" db:"id"`
	MachineID     string     `json:"machine_id" db:"machine_id"`
	ModelType     string     `json:"model_type" db:"model_type"` // baseline, anomaly, forecast_*
	Status        string     `json:"status" db:"status"`         // pending, running, succeeded, failed
	ProgressPct   float64    `json:"progress_pct" db:"progress_pct"`
	StartedAt     *time.Time `json:"started_at,omitempty" db:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty" db:"finished_at"`
	Error         *string    `json:"error,omitempty" db:"error"`
	ParentModelID *string    `json:"parent_model_id,omitempty" db:"parent_model_id"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
}

// Training job statuses.
const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusSucceeded = "succeeded"
	JobStatusFailed    = "failed"
)

// Model types.
const (
	ModelTypeBaseline = "baseline"
	ModelTypeAnomaly  = "anomaly"
)

// PredictionPoint is one bucket of a baseline prediction over a range.
type PredictionPoint struct {
	Bucket      time.Time `json:"bucket"`
	PredictedKW float64   `json:"predicted_energy_kwh"`
}

// DeviationPoint compares actual vs predicted energy for one bucket.
type DeviationPoint struct {
	Bucket       time.Time `json:"bucket"`
	ActualKWh    float64   `json:"actual_kwh"`
	PredictedKWh float64   `json:"predicted_kwh"`
	Delta        float64   `json:"delta"`
	DeltaPct     float64   `json:"delta_pct"`
	Severity     string    `json:"severity"` // info, warning, critical
}

// DeviationSummary aggregates a deviation series.
type DeviationSummary struct {
	TotalActualKWh    float64 `json:"total_actual_kwh"`
	TotalPredictedKWh float64 `json:"total_predicted_kwh"`
	AvgDelta          float64 `json:"avg_delta"`
	MaxDelta          float64 `json:"max_delta"`
	AnomalyCount      int     `json:"anomaly_count"` // buckets at warning or critical
}

// DeviationReport is the full deviation response.
type DeviationReport struct {
	ModelVersion int              `json:"model_version"`
	Points       []DeviationPoint `json:"points"`
	Summary      DeviationSummary `json:"summary"`
}
