package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/enmstack/analytics-service/internal/enmserr"
	"github.com/enmstack/analytics-service/internal/models"
)

// baselineRow maps the energy_baselines table. Features and coefficients live
// both in the row (for queries) and in the disk blob (the canonical record).
type baselineRow struct {
	ID                    string             `db:"id"`
	MachineID             *string            `db:"machine_id"`
	SEUID                 *string            `db:"seu_id"`
	EnergySource          string             `db:"energy_source"`
	ModelVersion          int                `db:"model_version"`
	Granularity           models.Granularity `db:"granularity"`
	Features              pq.StringArray     `db:"features"`
	Intercept             float64            `db:"intercept"`
	Coefficients          pq.Float64Array    `db:"coefficients"`
	RSquared              float64            `db:"r_squared"`
	RMSE                  float64            `db:"rmse"`
	MAE                   float64            `db:"mae"`
	TrainingSamples       int                `db:"training_samples"`
	TrainingWindowStart   time.Time          `db:"training_window_start"`
	TrainingWindowEnd     time.Time          `db:"training_window_end"`
	ResidualStdDev        float64            `db:"residual_std_dev"`
	MeetsQualityThreshold bool               `db:"meets_quality_threshold"`
	IsActive              bool               `db:"is_active"`
	BlobPath              string             `db:"blob_path"`
	CreatedAt             time.Time          `db:"created_at"`
}

func (r baselineRow) toModel() *models.BaselineModel {
	return &models.BaselineModel{
		ID:                    r.ID,
		MachineID:             r.MachineID,
		SEUID:                 r.SEUID,
		EnergySource:          r.EnergySource,
		ModelVersion:          r.ModelVersion,
		Granularity:           r.Granularity,
		Features:              []string(r.Features),
		Intercept:             r.Intercept,
		Coefficients:          []float64(r.Coefficients),
		RSquared:              r.RSquared,
		RMSE:                  r.RMSE,
		MAE:                   r.MAE,
		TrainingSamples:       r.TrainingSamples,
		TrainingWindowStart:   r.TrainingWindowStart,
		TrainingWindowEnd:     r.TrainingWindowEnd,
		ResidualStdDev:        r.ResidualStdDev,
		MeetsQualityThreshold: r.MeetsQualityThreshold,
		IsActive:              r.IsActive,
		BlobPath:              r.BlobPath,
		CreatedAt:             r.CreatedAt,
	}
}

const baselineColumns = `id, machine_id, seu_id, energy_source, model_version, granularity, features,
	intercept, coefficients, r_squared, rmse, mae, training_samples, training_window_start,
	training_window_end, residual_std_dev, meets_quality_threshold, is_active, blob_path, created_at`

// scopeWhere builds the scope predicate; exactly one of machine_id/seu_id is set.
func scopeWhere(scope models.Scope) (string, []interface{}) {
	if scope.IsSEU() {
		return `seu_id = $1 AND energy_source = $2`, []interface{}{scope.SEUID, scope.EnergySource}
	}
	return `machine_id = $1 AND energy_source = $2`, []interface{}{scope.MachineID, scope.EnergySource}
}

// SaveBaseline inserts a new model with version max(existing)+1 and, when
// activate is set, flips is_active from the previous model to the new one in
// the same transaction. Readers never observe two active models for a scope.
func (s *TimescaleStore) SaveBaseline(ctx context.Context, model *models.BaselineModel, activate bool) error {
	if model.ID == "" {
		model.ID = uuid.New().String()
	}
	model.CreatedAt = time.Now().UTC()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return storeErr(err, "begin baseline transaction")
	}
	defer tx.Rollback()

	where, args := scopeWhere(models.Scope{
		MachineID:    deref(model.MachineID),
		SEUID:        deref(model.SEUID),
		EnergySource: model.EnergySource,
	})

	// Next version under the transaction; the unique index on
	// (machine_id, seu_id, energy_source, model_version) turns a racing
	// writer into a Conflict instead of a duplicate version.
	var version int
	if err := tx.GetContext(ctx, &version,
		`SELECT COALESCE(MAX(model_version), 0) + 1 FROM energy_baselines WHERE `+where, args...); err != nil {
		return storeErr(err, "next model version")
	}
	model.ModelVersion = version

	if activate {
		if _, err := tx.ExecContext(ctx,
			`UPDATE energy_baselines SET is_active = false WHERE `+where+` AND is_active = true`, args...); err != nil {
			return storeErr(err, "deactivate prior baseline")
		}
	}
	model.IsActive = activate

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO energy_baselines (`+baselineColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		model.ID, model.MachineID, model.SEUID, model.EnergySource, model.ModelVersion,
		string(model.Granularity), pq.StringArray(model.Features), model.Intercept,
		pq.Float64Array(model.Coefficients), model.RSquared, model.RMSE, model.MAE,
		model.TrainingSamples, model.TrainingWindowStart, model.TrainingWindowEnd,
		model.ResidualStdDev, model.MeetsQualityThreshold, model.IsActive, model.BlobPath, model.CreatedAt,
	); err != nil {
		return storeErr(err, "insert baseline")
	}

	if err := tx.Commit(); err != nil {
		return storeErr(err, "commit baseline")
	}
	return nil
}

// ActiveBaseline loads the single active model for a scope, or NotTrained.
func (s *TimescaleStore) ActiveBaseline(ctx context.Context, scope models.Scope) (*models.BaselineModel, error) {
	where, args := scopeWhere(scope)
	var row baselineRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+baselineColumns+` FROM energy_baselines WHERE `+where+` AND is_active = true`, args...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, enmserr.New(enmserr.KindNotTrained,
				"no active baseline for %s (%s)", scopeName(scope), scope.EnergySource)
		}
		return nil, storeErr(err, "active baseline for %s", scope.Key())
	}
	return row.toModel(), nil
}

func (s *TimescaleStore) GetBaseline(ctx context.Context, modelID string) (*models.BaselineModel, error) {
	var row baselineRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+baselineColumns+` FROM energy_baselines WHERE id = $1`, modelID)
	if err != nil {
		return nil, storeErr(err, "baseline model %s not found", modelID)
	}
	return row.toModel(), nil
}

func (s *TimescaleStore) ListBaselines(ctx context.Context, machineID string) ([]*models.BaselineModel, error) {
	query := `SELECT ` + baselineColumns + ` FROM energy_baselines`
	args := []interface{}{}
	if machineID != "" {
		query += ` WHERE machine_id = $1`
		args = append(args, machineID)
	}
	query += ` ORDER BY created_at DESC`

	var rows []baselineRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, storeErr(err, "baselines")
	}
	baselines := make([]*models.BaselineModel, len(rows))
	for i, r := range rows {
		baselines[i] = r.toModel()
	}
	return baselines, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func scopeName(scope models.Scope) string {
	if scope.IsSEU() {
		return "SEU " + scope.SEUID
	}
	return "machine " + scope.MachineID
}
