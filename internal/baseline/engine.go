// Package baseline trains and serves per-SEU (or per-machine) regression
// baselines: multiple linear regression with correlation-based feature
// selection, a quality gate, versioned persistence, and deviation scoring
// against the active model.
package baseline

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/enmstack/analytics-service/internal/enmserr"
	"github.com/enmstack/analytics-service/internal/features"
	"github.com/enmstack/analytics-service/internal/models"
	"github.com/enmstack/analytics-service/internal/repository"
)

const (
	// QualityThreshold is the R-squared gate. Models below it are still
	// persisted and returned, flagged, and left inactive unless the caller
	// forces activation.
	QualityThreshold = 0.80

	// minTrainingSamples is the post-clean sample floor.
	minTrainingSamples = 50

	// correlationFloor drops auto-selected features whose absolute Pearson
	// correlation with the target is negligible.
	correlationFloor = 0.05

	// collinearityCeiling prunes one of each near-duplicate feature pair.
	collinearityCeiling = 0.95
)

// candidateFeatures is the canonical auto-selection set per energy source.
var candidateFeatures = map[string][]string{
	"electricity": {
		"total_production_count", "avg_outdoor_temp_c", "avg_pressure_bar",
		"avg_throughput", "avg_machine_temp_c", "avg_load_factor",
	},
	"natural_gas": {
		"total_production_count", "avg_outdoor_temp_c", "degree_days",
		"avg_machine_temp_c", "is_weekend",
	},
	"steam": {
		"total_production_count", "avg_outdoor_temp_c", "degree_days",
		"avg_pressure_bar", "is_weekend",
	},
	"compressed_air": {
		"total_production_count", "avg_pressure_bar", "avg_throughput",
		"avg_machine_temp_c",
	},
}

// defaultCandidates applies to energy sources without a canonical set.
var defaultCandidates = []string{
	"total_production_count", "avg_outdoor_temp_c", "avg_throughput", "is_weekend",
}

// Engine trains and evaluates baselines.
type Engine struct {
	store      repository.Store
	aggregator *features.Aggregator
	blobs      *BlobStore
	logger     *zap.Logger
}

// NewEngine creates a baseline engine.
func NewEngine(store repository.Store, aggregator *features.Aggregator, blobs *BlobStore, logger *zap.Logger) *Engine {
	return &Engine{store: store, aggregator: aggregator, blobs: blobs, logger: logger}
}

// TrainRequest describes one training run. Empty Features means automatic
// selection from the canonical candidate set for the energy source.
type TrainRequest struct {
	Scope    models.Scope
	Start    time.Time
	End      time.Time
	Features []string
	// Activate controls whether a model passing the quality gate replaces
	// the active one. Defaults to true at the API layer.
	Activate bool
}

// Train fits, gates, and persists a new model version. The quality gate never
// blocks persistence; it blocks activation.
func (e *Engine) Train(ctx context.Context, req TrainRequest) (*models.BaselineModel, error) {
	auto := len(req.Features) == 0
	requested := req.Features
	if auto {
		requested = candidatesFor(req.Scope.EnergySource)
	}

	table, err := e.aggregator.Build(ctx, features.Request{
		Scope:    req.Scope,
		Start:    req.Start,
		End:      req.End,
		Features: append([]string{features.TargetFeature}, requested...),
		Purpose:  features.PurposeTraining,
	})
	if err != nil {
		return nil, err
	}

	selected := withoutTarget(table.Features)
	if auto {
		selected = e.autoSelect(selected, table)
	}
	if len(selected) == 0 {
		return nil, enmserr.New(enmserr.KindInsufficientData,
			"no usable features after coverage and correlation filtering")
	}

	rows, target := denseMatrix(table, selected)
	if len(rows) < minTrainingSamples {
		return nil, enmserr.New(enmserr.KindInsufficientData,
			"%d clean samples after NaN filtering, need %d", len(rows), minTrainingSamples)
	}

	fit, err := fitOLS(rows, target)
	if err != nil {
		return nil, err
	}

	model := &models.BaselineModel{
		EnergySource:          req.Scope.EnergySource,
		Granularity:           table.Granularity,
		Features:              selected,
		Intercept:             fit.Intercept,
		Coefficients:          fit.Coefficients,
		RSquared:              fit.RSquared,
		RMSE:                  fit.RMSE,
		MAE:                   fit.MAE,
		TrainingSamples:       fit.Samples,
		TrainingWindowStart:   req.Start.UTC(),
		TrainingWindowEnd:     req.End.UTC(),
		ResidualStdDev:        fit.ResidualStdDev,
		MeetsQualityThreshold: fit.RSquared >= QualityThreshold,
	}
	if req.Scope.IsSEU() {
		model.SEUID = &req.Scope.SEUID
	} else {
		model.MachineID = &req.Scope.MachineID
	}

	activate := req.Activate && model.MeetsQualityThreshold
	if err := e.store.SaveBaseline(ctx, model, activate); err != nil {
		return nil, err
	}

	// Blob after row insert: the row carries everything needed to rebuild
	// the blob, the reverse is not true.
	blobPath, err := e.blobs.Save(model)
	if err != nil {
		e.logger.Warn("model blob write failed, DB row remains canonical",
			zap.String("model_id", model.ID), zap.Error(err))
	} else {
		model.BlobPath = blobPath
	}

	e.logger.Info("baseline trained",
		zap.String("scope", req.Scope.Key()),
		zap.Int("model_version", model.ModelVersion),
		zap.Float64("r_squared", model.RSquared),
		zap.Int("samples", model.TrainingSamples),
		zap.Bool("activated", activate))

	return model, nil
}

// autoSelect applies the correlation floor and the collinearity prune to the
// coverage-filtered candidates.
func (e *Engine) autoSelect(candidates []string, table *models.FeatureTable) []string {
	target := columnOf(table, features.TargetFeature)

	correlations := map[string]float64{}
	kept := make([]string, 0, len(candidates))
	for _, key := range candidates {
		col := columnOf(table, key)
		xs, ys := pairwiseClean(col, target)
		r := pearson(xs, ys)
		if math.Abs(r) < correlationFloor {
			continue
		}
		correlations[key] = r
		kept = append(kept, key)
	}

	// Near-duplicate pairs keep the feature better correlated to the target.
	pruned := make([]string, 0, len(kept))
	removed := map[string]bool{}
	for i, a := range kept {
		if removed[a] {
			continue
		}
		for _, b := range kept[i+1:] {
			if removed[b] {
				continue
			}
			xa, xb := pairwiseClean(columnOf(table, a), columnOf(table, b))
			if math.Abs(pearson(xa, xb)) > collinearityCeiling {
				if math.Abs(correlations[a]) >= math.Abs(correlations[b]) {
					removed[b] = true
				} else {
					removed[a] = true
				}
			}
		}
		if !removed[a] {
			pruned = append(pruned, a)
		}
	}
	return pruned
}

// Prediction is the vector-prediction result.
type Prediction struct {
	PredictedEnergyKWh float64 `json:"predicted_energy_kwh"`
	ModelVersion       int     `json:"model_version"`
	Message            string  `json:"message"`
}

// Predict evaluates the active model against a feature vector. All model
// features must be present.
func (e *Engine) Predict(ctx context.Context, scope models.Scope, vector map[string]float64) (*Prediction, error) {
	model, err := e.store.ActiveBaseline(ctx, scope)
	if err != nil {
		return nil, err
	}

	var missing []string
	value := model.Intercept
	for i, key := range model.Features {
		v, ok := vector[key]
		if !ok || math.IsNaN(v) {
			missing = append(missing, key)
			continue
		}
		value += model.Coefficients[i] * v
	}
	if len(missing) > 0 {
		return nil, enmserr.New(enmserr.KindBadRequest,
			"missing required features: %v", missing)
	}

	return &Prediction{
		PredictedEnergyKWh: value,
		ModelVersion:       model.ModelVersion,
		Message:            "prediction from active baseline",
	}, nil
}

// PredictRange evaluates the active model across a window, one point per
// bucket at the model's training granularity.
func (e *Engine) PredictRange(ctx context.Context, scope models.Scope, start, end time.Time) ([]models.PredictionPoint, int, error) {
	model, err := e.store.ActiveBaseline(ctx, scope)
	if err != nil {
		return nil, 0, err
	}

	table, err := e.aggregator.Build(ctx, features.Request{
		Scope:       scope,
		Start:       start,
		End:         end,
		Features:    model.Features,
		Purpose:     features.PurposeAdHoc,
		Granularity: model.Granularity,
	})
	if err != nil {
		return nil, 0, err
	}

	points := make([]models.PredictionPoint, 0, len(table.Rows))
	for _, row := range table.Rows {
		value, ok := evaluate(model, row.Values)
		if !ok {
			continue
		}
		points = append(points, models.PredictionPoint{Bucket: row.Bucket, PredictedKW: value})
	}
	return points, model.ModelVersion, nil
}

// Deviation compares actual vs predicted energy for every bucket in the
// window. Severity thresholds come from the active model's residual spread.
func (e *Engine) Deviation(ctx context.Context, scope models.Scope, start, end time.Time) (*models.DeviationReport, error) {
	model, err := e.store.ActiveBaseline(ctx, scope)
	if err != nil {
		return nil, err
	}

	table, err := e.aggregator.Build(ctx, features.Request{
		Scope:       scope,
		Start:       start,
		End:         end,
		Features:    append([]string{features.TargetFeature}, model.Features...),
		Purpose:     features.PurposeAdHoc,
		Granularity: model.Granularity,
	})
	if err != nil {
		return nil, err
	}

	report := &models.DeviationReport{ModelVersion: model.ModelVersion}
	sigma := model.ResidualStdDev

	var deltaSum float64
	for _, row := range table.Rows {
		actual, ok := row.Values[features.TargetFeature]
		if !ok || math.IsNaN(actual) {
			continue
		}
		predicted, ok := evaluate(model, row.Values)
		if !ok {
			continue
		}

		delta := actual - predicted
		point := models.DeviationPoint{
			Bucket:       row.Bucket,
			ActualKWh:    actual,
			PredictedKWh: predicted,
			Delta:        delta,
			Severity:     DeviationSeverity(delta, sigma),
		}
		if predicted != 0 {
			point.DeltaPct = delta / predicted * 100
		}
		report.Points = append(report.Points, point)

		report.Summary.TotalActualKWh += actual
		report.Summary.TotalPredictedKWh += predicted
		deltaSum += delta
		if math.Abs(delta) > math.Abs(report.Summary.MaxDelta) {
			report.Summary.MaxDelta = delta
		}
		if point.Severity != models.SeverityInfo {
			report.Summary.AnomalyCount++
		}
	}
	if n := len(report.Points); n > 0 {
		report.Summary.AvgDelta = deltaSum / float64(n)
	}
	return report, nil
}

// DeviationSeverity classifies a residual against the model's historical
// residual spread: warning at 2 sigma, critical at 3.
func DeviationSeverity(delta, sigma float64) string {
	if sigma <= 0 {
		return models.SeverityInfo
	}
	switch {
	case math.Abs(delta) >= 3*sigma:
		return models.SeverityCritical
	case math.Abs(delta) >= 2*sigma:
		return models.SeverityWarning
	default:
		return models.SeverityInfo
	}
}

// evaluate applies the model to one row; false when any feature is missing.
func evaluate(model *models.BaselineModel, values map[string]float64) (float64, bool) {
	result := model.Intercept
	for i, key := range model.Features {
		v, ok := values[key]
		if !ok || math.IsNaN(v) {
			return 0, false
		}
		result += model.Coefficients[i] * v
	}
	return result, true
}

func candidatesFor(energySource string) []string {
	if set, ok := candidateFeatures[energySource]; ok {
		return set
	}
	return defaultCandidates
}

func withoutTarget(keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k != features.TargetFeature {
			out = append(out, k)
		}
	}
	return out
}

// columnOf extracts one feature column aligned to table rows.
func columnOf(table *models.FeatureTable, key string) []float64 {
	col := make([]float64, len(table.Rows))
	for i, row := range table.Rows {
		if v, ok := row.Values[key]; ok {
			col[i] = v
		} else {
			col[i] = math.NaN()
		}
	}
	return col
}

// pairwiseClean keeps the index positions where both columns are finite.
func pairwiseClean(a, b []float64) ([]float64, []float64) {
	xs := make([]float64, 0, len(a))
	ys := make([]float64, 0, len(b))
	for i := range a {
		if !math.IsNaN(a[i]) && !math.IsNaN(b[i]) {
			xs = append(xs, a[i])
			ys = append(ys, b[i])
		}
	}
	return xs, ys
}

// denseMatrix drops rows containing NaN in any retained column and returns
// the design matrix plus target vector.
func denseMatrix(table *models.FeatureTable, selected []string) ([][]float64, []float64) {
	rows := make([][]float64, 0, len(table.Rows))
	target := make([]float64, 0, len(table.Rows))

rowLoop:
	for _, row := range table.Rows {
		y, ok := row.Values[features.TargetFeature]
		if !ok || math.IsNaN(y) {
			continue
		}
		vec := make([]float64, len(selected))
		for i, key := range selected {
			v, ok := row.Values[key]
			if !ok || math.IsNaN(v) {
				continue rowLoop
			}
			vec[i] = v
		}
		rows = append(rows, vec)
		target = append(target, y)
	}
	return rows, target
}
