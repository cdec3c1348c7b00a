// Package anomaly detects abnormal energy behavior with an isolation forest
// over per-bucket feature vectors, augmented by baseline deviation when an
// active model exists, and classifies each hit by type and severity.
package anomaly

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/enmstack/analytics-service/internal/baseline"
	"github.com/enmstack/analytics-service/internal/enmserr"
	"github.com/enmstack/analytics-service/internal/features"
	"github.com/enmstack/analytics-service/internal/models"
	"github.com/enmstack/analytics-service/internal/pkg/metrics"
	"github.com/enmstack/analytics-service/internal/repository"
)

const (
	numTrees      = 100
	subSampleSize = 256

	// driftRunLength is how many consecutive same-sign anomalous buckets
	// constitute drift rather than isolated spikes.
	driftRunLength = 3
)

// detectionFeatures are the signals scored per bucket, in contributor order.
var detectionFeatures = []string{
	"avg_power_kw", "total_energy_kwh", "total_production_count",
	"avg_machine_temp_c", "avg_pressure_bar",
}

// deviationFeature is appended when a baseline is available.
const deviationFeature = "baseline_deviation"

// Publisher is the slice of the event bus the detector needs.
type Publisher interface {
	PublishAnomalyDetected(ctx context.Context, a *models.Anomaly)
}

// StatusProvider reports machine operating status for a bucket. Absent
// status means running; maintenance and fault buckets are skipped.
type StatusProvider interface {
	Status(ctx context.Context, machineID string, at time.Time) string
}

// Engine runs detection sweeps.
type Engine struct {
	store         repository.Store
	aggregator    *features.Aggregator
	baselines     *baseline.Engine
	publisher     Publisher
	status        StatusProvider
	contamination float64
	logger        *zap.Logger
}

// NewEngine creates an anomaly engine. status may be nil (all machines
// assumed running); publisher may be nil in tests.
func NewEngine(store repository.Store, aggregator *features.Aggregator, baselines *baseline.Engine,
	publisher Publisher, status StatusProvider, contamination float64, logger *zap.Logger) *Engine {
	if contamination <= 0 || contamination >= 1 {
		contamination = 0.1
	}
	return &Engine{
		store:         store,
		aggregator:    aggregator,
		baselines:     baselines,
		publisher:     publisher,
		status:        status,
		contamination: contamination,
		logger:        logger,
	}
}

// Detect sweeps the window for a scope, persists anomalies not already
// present for (machine, bucket, type), and publishes one event per new row.
func (e *Engine) Detect(ctx context.Context, scope models.Scope, start, end time.Time, useBaseline bool) ([]*models.Anomaly, error) {
	table, err := e.aggregator.Build(ctx, features.Request{
		Scope:    scope,
		Start:    start,
		End:      end,
		Features: detectionFeatures,
		Purpose:  features.PurposeAnomaly,
	})
	if err != nil {
		return nil, err
	}

	machineID := scope.MachineID
	rows := e.filterByStatus(ctx, machineID, table.Rows)
	if len(rows) < features.PurposeAnomaly.MinSamples() {
		return nil, enmserr.New(enmserr.KindInsufficientData,
			"%d usable buckets after status filtering", len(rows))
	}

	keys := append([]string(nil), table.Features...)
	deviations := e.baselineDeviations(ctx, scope, useBaseline, rows, table.Granularity)
	if deviations != nil {
		keys = append(keys, deviationFeature)
	}

	matrix, kept := buildMatrix(rows, keys, deviations)
	if len(matrix) == 0 {
		return nil, enmserr.New(enmserr.KindInsufficientData, "no dense feature rows in window")
	}

	forest := newIsolationForest(numTrees, subSampleSize, time.Now().UnixNano())
	forest.fit(matrix)
	scores := forest.scoreAll(matrix)
	threshold := thresholdFor(scores, e.contamination)

	stats := columnStats(matrix)
	var anomalies []*models.Anomaly
	runLength, runSign := 0, 0

	for i, score := range scores {
		row := matrix[i]
		bucket := kept[i]

		powerIdx := indexOf(keys, "avg_power_kw")
		z := 0.0
		if powerIdx >= 0 && stats[powerIdx].std > 0 {
			z = (row[powerIdx] - stats[powerIdx].mean) / stats[powerIdx].std
		}

		anomalous := score > threshold
		if anomalous && sign(z) == runSign && runSign != 0 {
			runLength++
		} else if anomalous {
			runSign = sign(z)
			runLength = 1
		} else {
			runSign, runLength = 0, 0
		}

		if !anomalous {
			continue
		}

		a := e.classify(machineID, bucket, keys, row, stats, score, z, runLength)
		anomalies = append(anomalies, a)
	}

	persisted := make([]*models.Anomaly, 0, len(anomalies))
	for _, a := range anomalies {
		created, err := e.store.SaveAnomaly(ctx, a)
		if err != nil {
			e.logger.Warn("anomaly persist failed", zap.String("machine_id", a.MachineID), zap.Error(err))
			continue
		}
		if !created {
			continue
		}
		metrics.AnomaliesDetectedTotal.WithLabelValues(a.Severity).Inc()
		if e.publisher != nil {
			e.publisher.PublishAnomalyDetected(ctx, a)
		}
		persisted = append(persisted, a)
	}

	e.logger.Info("anomaly sweep finished",
		zap.String("scope", scope.Key()),
		zap.Int("buckets", len(matrix)),
		zap.Int("anomalies", len(persisted)))
	return persisted, nil
}

// classify maps an anomalous row to a typed, severity-graded anomaly.
func (e *Engine) classify(machineID string, bucket time.Time, keys []string, row []float64,
	stats []colStats, score, powerZ float64, runLength int) *models.Anomaly {

	// Top contributor by absolute z-score.
	topKey, topZ, topIdx := "", 0.0, -1
	for i, key := range keys {
		if stats[i].std == 0 {
			continue
		}
		z := (row[i] - stats[i].mean) / stats[i].std
		if math.Abs(z) > math.Abs(topZ) {
			topKey, topZ, topIdx = key, z, i
		}
	}

	aType := models.AnomalyTypeUnknown
	switch {
	case runLength >= driftRunLength:
		aType = models.AnomalyTypeDrift
	case topKey == deviationFeature:
		aType = models.AnomalyTypeBaselineDeviation
	case topKey == "avg_machine_temp_c":
		aType = models.AnomalyTypeTemperature
	case topKey == "avg_pressure_bar":
		aType = models.AnomalyTypePressure
	case topKey == "total_production_count":
		aType = models.AnomalyTypeProduction
	case powerZ > 0 && (topKey == "avg_power_kw" || topKey == "total_energy_kwh"):
		aType = models.AnomalyTypeSpike
	case powerZ < 0 && (topKey == "avg_power_kw" || topKey == "total_energy_kwh"):
		aType = models.AnomalyTypeDrop
	}

	actual, expected, deviation := 0.0, 0.0, 0.0
	if topIdx >= 0 {
		actual = row[topIdx]
		expected = stats[topIdx].mean
		deviation = actual - expected
	}

	severity := models.SeverityInfo
	if topIdx >= 0 && stats[topIdx].std > 0 {
		switch {
		case math.Abs(deviation) >= 3*stats[topIdx].std:
			severity = models.SeverityCritical
		case math.Abs(deviation) >= 2*stats[topIdx].std:
			severity = models.SeverityWarning
		}
	}

	a := &models.Anomaly{
		MachineID:  machineID,
		DetectedAt: bucket,
		Type:       aType,
		Severity:   severity,
		Metric:     topKey,
		Actual:     actual,
		Expected:   expected,
		Deviation:  deviation,
		Confidence: score,
		Status:     models.AnomalyStatusOpen,
	}
	if expected != 0 {
		a.DeviationPercent = deviation / expected * 100
	}
	return a
}

// filterByStatus drops buckets where the machine is in maintenance or fault.
func (e *Engine) filterByStatus(ctx context.Context, machineID string, rows []models.FeatureRow) []models.FeatureRow {
	if e.status == nil || machineID == "" {
		return rows
	}
	kept := make([]models.FeatureRow, 0, len(rows))
	for _, row := range rows {
		switch e.status.Status(ctx, machineID, row.Bucket) {
		case "maintenance", "fault":
			continue
		default:
			kept = append(kept, row)
		}
	}
	return kept
}

// baselineDeviations returns |actual - predicted| per row, or nil when no
// active baseline exists or its buckets do not line up with the detection
// table (detection degrades instead of failing).
func (e *Engine) baselineDeviations(ctx context.Context, scope models.Scope, useBaseline bool, rows []models.FeatureRow, g models.Granularity) map[time.Time]float64 {
	if !useBaseline || e.baselines == nil || len(rows) == 0 {
		return nil
	}
	start := rows[0].Bucket
	end := rows[len(rows)-1].Bucket.Add(g.Duration())
	points, _, err := e.baselines.PredictRange(ctx, scope, start, end)
	if err != nil {
		if !enmserr.IsKind(err, enmserr.KindNotTrained) {
			e.logger.Warn("baseline unavailable for detection", zap.Error(err))
		}
		return nil
	}

	predicted := make(map[time.Time]float64, len(points))
	for _, p := range points {
		predicted[p.Bucket] = p.PredictedKW
	}
	deviations := make(map[time.Time]float64, len(rows))
	for _, row := range rows {
		pred, ok := predicted[row.Bucket]
		if !ok {
			continue
		}
		actual, ok := row.Values[features.TargetFeature]
		if !ok || math.IsNaN(actual) {
			continue
		}
		deviations[row.Bucket] = math.Abs(actual - pred)
	}
	// A model trained at a different granularity predicts on buckets the
	// detection table never produces.
	if len(deviations) == 0 {
		return nil
	}
	return deviations
}

type colStats struct{ mean, std float64 }

func columnStats(matrix [][]float64) []colStats {
	if len(matrix) == 0 {
		return nil
	}
	cols := len(matrix[0])
	stats := make([]colStats, cols)
	for c := 0; c < cols; c++ {
		var sum float64
		for _, row := range matrix {
			sum += row[c]
		}
		mean := sum / float64(len(matrix))
		var sq float64
		for _, row := range matrix {
			d := row[c] - mean
			sq += d * d
		}
		stats[c] = colStats{mean: mean, std: math.Sqrt(sq / float64(len(matrix)))}
	}
	return stats
}

// buildMatrix converts feature rows to dense vectors, skipping rows with NaN
// in any scored column. Deviation values default to 0 when missing so a
// partial baseline does not discard buckets.
func buildMatrix(rows []models.FeatureRow, keys []string, deviations map[time.Time]float64) ([][]float64, []time.Time) {
	matrix := make([][]float64, 0, len(rows))
	kept := make([]time.Time, 0, len(rows))

rowLoop:
	for _, row := range rows {
		vec := make([]float64, 0, len(keys))
		for _, key := range keys {
			if key == deviationFeature {
				vec = append(vec, deviations[row.Bucket])
				continue
			}
			v, ok := row.Values[key]
			if !ok || math.IsNaN(v) {
				continue rowLoop
			}
			vec = append(vec, v)
		}
		matrix = append(matrix, vec)
		kept = append(kept, row.Bucket)
	}
	return matrix, kept
}

func indexOf(keys []string, key string) int {
	for i, k := range keys {
		if k == key {
			return i
		}
	}
	return -1
}

func sign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}
