package repository

import (
	"context"
	"time"

	"github.com/enmstack/analytics-service/internal/models"
)

// Store is the only path to the persistent store. Machines, factories, energy
// sources, raw telemetry, and aggregates are read-only; baselines, anomalies,
// training jobs, and the KPI cache are owned by this service.
type Store interface {
	// Reference data (read-only)
	ListMachines(ctx context.Context, activeOnly bool) ([]*models.Machine, error)
	GetMachine(ctx context.Context, id string) (*models.Machine, error)
	GetMachineByName(ctx context.Context, name string) (*models.Machine, error)
	ListEnergySources(ctx context.Context) ([]*models.EnergySource, error)
	ListFeaturesForSource(ctx context.Context, sourceKey string) ([]*models.EnergySourceFeature, error)
	ListSEUs(ctx context.Context, energySource string) ([]*models.SEU, error)
	GetSEU(ctx context.Context, id string) (*models.SEU, error)

	// Time series (read-only)
	EnergySeries(ctx context.Context, machineIDs []string, energyType string, start, end time.Time, g models.Granularity) ([]*models.EnergyBucket, error)
	ProductionSeries(ctx context.Context, machineIDs []string, start, end time.Time, g models.Granularity) ([]*models.ProductionBucket, error)
	EnvironmentalSeries(ctx context.Context, machineIDs []string, start, end time.Time, g models.Granularity) ([]*models.EnvironmentalBucket, error)
	LatestReading(ctx context.Context, machineID string) (*models.LatestReading, error)

	// Baselines (owned)
	SaveBaseline(ctx context.Context, model *models.BaselineModel, activate bool) error
	ActiveBaseline(ctx context.Context, scope models.Scope) (*models.BaselineModel, error)
	GetBaseline(ctx context.Context, modelID string) (*models.BaselineModel, error)
	ListBaselines(ctx context.Context, machineID string) ([]*models.BaselineModel, error)

	// Anomalies (owned)
	SaveAnomaly(ctx context.Context, a *models.Anomaly) (created bool, err error)
	ListAnomalies(ctx context.Context, f AnomalyFilter) ([]*models.Anomaly, error)
	GetAnomaly(ctx context.Context, id string) (*models.Anomaly, error)
	ResolveAnomaly(ctx context.Context, id, note string) (*models.Anomaly, error)

	// Training jobs (owned)
	CreateTrainingJob(ctx context.Context, job *models.TrainingJob) error
	UpdateTrainingJob(ctx context.Context, job *models.TrainingJob) error
	GetTrainingJob(ctx context.Context, id string) (*models.TrainingJob, error)
	RunningTrainingJob(ctx context.Context, machineID, modelType string) (*models.TrainingJob, error)
	FailStuckTrainingJobs(ctx context.Context, olderThan time.Duration) (int64, error)

	// KPI cache (owned)
	UpsertKPICache(ctx context.Context, row *models.KPICacheRow) error
	GetKPICache(ctx context.Context, machineID, kpiName string, periodStart, periodEnd time.Time) (*models.KPICacheRow, error)

	Ping(ctx context.Context) error
	Close() error
}

// AnomalyFilter narrows anomaly listings.
type AnomalyFilter struct {
	MachineID  string
	Severity   string
	Status     string
	Since      time.Time
	Limit      int
}
