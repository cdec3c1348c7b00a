// Package features builds the dense, time-ordered feature tables the engines
// train and detect on. It joins the energy, production, and environmental
// aggregates by bucket, derives calendar and weather features, and drops
// features whose coverage over the window is too thin to be useful.
package features

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/enmstack/analytics-service/internal/enmserr"
	"github.com/enmstack/analytics-service/internal/models"
	"github.com/enmstack/analytics-service/internal/repository"
)

// Purpose sets the minimum sample floor for granularity selection.
type Purpose int

const (
	PurposeAdHoc    Purpose = iota // N_min = 1
	PurposeAnomaly                 // N_min = 20
	PurposeTraining                // N_min = 50
)

// MinSamples returns the sample floor for the purpose.
func (p Purpose) MinSamples() int {
	switch p {
	case PurposeTraining:
		return 50
	case PurposeAnomaly:
		return 20
	default:
		return 1
	}
}

// TargetFeature is the regression target joined into every table.
const TargetFeature = "total_energy_kwh"

// Derived feature keys computed in the post-pass rather than read from an
// aggregate column.
const (
	FeatureIsWeekend  = "is_weekend"
	FeatureDegreeDays = "degree_days"
)

// degreeDayBaseC is the balance temperature for degree-day computation.
const degreeDayBaseC = 18.0

// coverageFloor is the non-null fraction below which a feature is dropped.
// This is what lets sensorless machine types (an HVAC with no pressure
// sensor) train successfully: the dead column goes away instead of NaN-ing
// every row.
const coverageFloor = 0.10

// Aggregator produces feature tables from the store.
type Aggregator struct {
	store  repository.Store
	logger *zap.Logger
}

// NewAggregator creates a feature aggregator.
func NewAggregator(store repository.Store, logger *zap.Logger) *Aggregator {
	return &Aggregator{store: store, logger: logger}
}

// Request describes one feature-table build.
type Request struct {
	Scope    models.Scope
	Start    time.Time
	End      time.Time
	Features []string // requested keys; the target is always included
	Purpose  Purpose

	// Granularity, when set, pins the table to that resolution instead of
	// letting the walk choose. Evaluating a trained model requires the
	// exact bucket width it was fitted on.
	Granularity models.Granularity
}

// Build resolves the request to a dense table. Rows come back in ascending
// bucket order; all timestamps are UTC.
func (a *Aggregator) Build(ctx context.Context, req Request) (*models.FeatureTable, error) {
	if !req.End.After(req.Start) {
		return nil, enmserr.New(enmserr.KindBadRequest, "end_time must be after start_time")
	}

	machineIDs, err := a.resolveMachines(ctx, req.Scope)
	if err != nil {
		return nil, err
	}

	declared, err := a.declaredFeatures(ctx, req.Scope.EnergySource)
	if err != nil {
		return nil, err
	}
	for _, key := range req.Features {
		if _, ok := declared[key]; !ok {
			return nil, enmserr.New(enmserr.KindBadRequest,
				"feature %q is not declared for energy source %q", key, req.Scope.EnergySource)
		}
	}

	granularity, rows, err := a.rowsAtBestGranularity(ctx, machineIDs, req)
	if err != nil {
		return nil, err
	}

	kept, dropped := filterByCoverage(req.Features, rows)
	if len(dropped) > 0 {
		a.logger.Info("dropped low-coverage features",
			zap.String("scope", req.Scope.Key()),
			zap.Strings("dropped", dropped))
	}

	return &models.FeatureTable{
		Granularity:     granularity,
		Features:        kept,
		DroppedFeatures: dropped,
		Rows:            rows,
	}, nil
}

// resolveMachines expands an SEU scope into its member machines.
func (a *Aggregator) resolveMachines(ctx context.Context, scope models.Scope) ([]string, error) {
	if scope.IsSEU() {
		seu, err := a.store.GetSEU(ctx, scope.SEUID)
		if err != nil {
			return nil, err
		}
		if len(seu.MachineIDs) == 0 {
			return nil, enmserr.New(enmserr.KindBadRequest, "SEU %s has no member machines", scope.SEUID)
		}
		return seu.MachineIDs, nil
	}
	if scope.MachineID == "" {
		return nil, enmserr.New(enmserr.KindBadRequest, "scope requires machine_id or seu_id")
	}
	return []string{scope.MachineID}, nil
}

// declaredFeatures returns the admissible keys for a source, always including
// the target and the derived keys.
func (a *Aggregator) declaredFeatures(ctx context.Context, sourceKey string) (map[string]bool, error) {
	declarations, err := a.store.ListFeaturesForSource(ctx, sourceKey)
	if err != nil {
		return nil, err
	}
	declared := map[string]bool{
		TargetFeature:     true,
		FeatureIsWeekend:  true,
		FeatureDegreeDays: true,
	}
	for _, d := range declarations {
		declared[d.FeatureKey] = true
	}
	return declared, nil
}

// rowsAtBestGranularity walks candidate resolutions and keeps the first one
// whose joined row count satisfies the sample floor. A pinned granularity
// skips the walk.
func (a *Aggregator) rowsAtBestGranularity(ctx context.Context, machineIDs []string, req Request) (models.Granularity, []models.FeatureRow, error) {
	nMin := req.Purpose.MinSamples()

	if req.Granularity != "" {
		rows, err := a.joinedRows(ctx, machineIDs, req, req.Granularity)
		if err != nil {
			return req.Granularity, nil, err
		}
		if len(rows) < nMin {
			return req.Granularity, nil, enmserr.New(enmserr.KindInsufficientData,
				"fewer than %d samples at %s in window for %s", nMin, req.Granularity, req.Scope.Key())
		}
		return req.Granularity, rows, nil
	}

	for _, g := range granularityOrder(req.Purpose) {
		rows, err := a.joinedRows(ctx, machineIDs, req, g)
		if err != nil {
			return g, nil, err
		}
		if len(rows) >= nMin {
			return g, rows, nil
		}
	}
	return models.Granularity1Min, nil, enmserr.New(enmserr.KindInsufficientData,
		"fewer than %d samples in window for %s", nMin, req.Scope.Key())
}

// granularityOrder lists candidate resolutions, preferred first. The general
// walk is coarsest first. Training starts at hourly: daily buckets clear the
// floor only on long windows and fit poorly, so coarser is a fallback there,
// not the default.
func granularityOrder(p Purpose) []models.Granularity {
	if p == PurposeTraining {
		return []models.Granularity{
			models.Granularity1Hour, models.Granularity1Day,
			models.Granularity15Min, models.Granularity1Min,
		}
	}
	return []models.Granularity{
		models.Granularity1Day, models.Granularity1Hour,
		models.Granularity15Min, models.Granularity1Min,
	}
}

// joinedRows reads the three aggregates and joins them in-process keyed by
// bucket. SEU scopes sum energy and production across members and average
// environmental signals.
func (a *Aggregator) joinedRows(ctx context.Context, machineIDs []string, req Request, g models.Granularity) ([]models.FeatureRow, error) {
	energy, err := a.store.EnergySeries(ctx, machineIDs, req.Scope.EnergySource, req.Start, req.End, g)
	if err != nil {
		return nil, err
	}
	if len(energy) == 0 {
		return nil, nil
	}
	production, err := a.store.ProductionSeries(ctx, machineIDs, req.Start, req.End, g)
	if err != nil {
		return nil, err
	}
	environmental, err := a.store.EnvironmentalSeries(ctx, machineIDs, req.Start, req.End, g)
	if err != nil {
		return nil, err
	}

	byBucket := map[time.Time]*bucketAccumulator{}
	order := []time.Time{}

	for _, e := range energy {
		acc, ok := byBucket[e.Bucket]
		if !ok {
			acc = newBucketAccumulator()
			byBucket[e.Bucket] = acc
			order = append(order, e.Bucket)
		}
		acc.addEnergy(e)
	}
	for _, p := range production {
		if acc, ok := byBucket[p.Bucket]; ok {
			acc.addProduction(p)
		}
	}
	for _, env := range environmental {
		if acc, ok := byBucket[env.Bucket]; ok {
			acc.addEnvironmental(env)
		}
	}

	// Energy series is ordered ascending, so order already is too.
	rows := make([]models.FeatureRow, 0, len(order))
	for _, bucket := range order {
		rows = append(rows, models.FeatureRow{
			Bucket: bucket,
			Values: byBucket[bucket].finalize(bucket, g),
		})
	}
	return rows, nil
}

// filterByCoverage drops requested features whose non-null coverage is at or
// below the floor. The target is never dropped.
func filterByCoverage(requested []string, rows []models.FeatureRow) (kept, dropped []string) {
	if len(rows) == 0 {
		return requested, nil
	}
	for _, key := range requested {
		if key == TargetFeature {
			kept = append(kept, key)
			continue
		}
		nonNull := 0
		for _, row := range rows {
			if v, ok := row.Values[key]; ok && !math.IsNaN(v) {
				nonNull++
			}
		}
		if float64(nonNull)/float64(len(rows)) > coverageFloor {
			kept = append(kept, key)
		} else {
			dropped = append(dropped, key)
		}
	}
	return kept, dropped
}
