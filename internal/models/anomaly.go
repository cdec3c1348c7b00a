package models

import "time"

// Anomaly severity levels. Warning at >= 2 sigma deviation, critical at >= 3.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Anomaly types.
const (
	AnomalyTypeSpike             = "spike"
	AnomalyTypeDrop              = "drop"
	AnomalyTypeDrift             = "drift"
	AnomalyTypeBaselineDeviation = "baseline_deviation"
	AnomalyTypePower             = "power"
	AnomalyTypeTemperature       = "temperature"
	AnomalyTypePressure          = "pressure"
	AnomalyTypeProduction        = "production"
	AnomalyTypeUnknown           = "unknown"
)

// Anomaly statuses. ResolvedAt is set iff status is resolved.
const (
	AnomalyStatusOpen     = "open"
	AnomalyStatusResolved = "resolved"
)

// Anomaly is a persisted detection result. Idempotent on
// (machine_id, detected_at, type).
type Anomaly struct {
	ID               string     `json:"id" db:"id"`
	MachineID        string     `json:"machine_id" db:"machine_id"`
	DetectedAt       time.Time  `json:"detected_at" db:"detected_at"`
	Type             string     `json:"type" db:"type"`
	Severity         string     `json:"severity" db:"severity"`
	Metric           string     `json:"metric" db:"metric"`
	Actual           float64    `json:"actual" db:"actual"`
	Expected         float64    `json:"expected" db:"expected"`
	Deviation        float64    `json:"deviation" db:"deviation"`
	DeviationPercent float64    `json:"deviation_percent" db:"deviation_percent"`
	Confidence       float64    `json:"confidence" db:"confidence"` // 0..1
	Status           string     `json:"status" db:"status"`
	ResolutionNote   *string    `json:"resolution_note,omitempty" db:"resolution_note"`
	ResolvedAt       *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
}

// KPICacheRow is an advisory pre-computed KPI value; misses recompute from
// the aggregates.
type KPICacheRow struct {
	MachineID   string    `json:"machine_id" db:"machine_id"`
	PeriodStart time.Time `json:"period_start" db:"period_start"`
	PeriodEnd   time.Time `json:"period_end" db:"period_end"`
	KPIName     string    `json:"kpi_name" db:"kpi_name"`
	Value       float64   `json:"value" db:"value"`
	Unit        string    `json:"unit" db:"unit"`
	ComputedAt  time.Time `json:"computed_at" db:"computed_at"`
}
