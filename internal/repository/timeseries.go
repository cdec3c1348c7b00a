package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/enmstack/analytics-service/internal/enmserr"
	"github.com/enmstack/analytics-service/internal/models"
)

// EnergySeries reads per-bucket energy statistics from the energy continuous
// aggregate at the given granularity. energyType filters the multi-energy
// stream; "electricity" is the dominant stream and the aggregate default.
func (s *TimescaleStore) EnergySeries(ctx context.Context, machineIDs []string, energyType string, start, end time.Time, g models.Granularity) ([]*models.EnergyBucket, error) {
	if !g.Valid() {
		return nil, enmserr.New(enmserr.KindBadRequest, "unsupported granularity %q", g)
	}
	if energyType == "" {
		energyType = "electricity"
	}

	query := `SELECT bucket, machine_id, avg_power_kw, min_power_kw, max_power_kw,
	                 total_energy_kwh, load_factor, sample_count
	          FROM ` + aggTable("energy_readings", g) + `
	          WHERE machine_id = ANY($1)
	            AND energy_type = $2
	            AND bucket >= $3 AND bucket < $4
	          ORDER BY bucket ASC`

	var buckets []*models.EnergyBucket
	if err := s.db.SelectContext(ctx, &buckets, query, pq.Array(machineIDs), energyType, start.UTC(), end.UTC()); err != nil {
		return nil, storeErr(err, "energy series")
	}
	return buckets, nil
}

// ProductionSeries reads per-bucket production counts.
func (s *TimescaleStore) ProductionSeries(ctx context.Context, machineIDs []string, start, end time.Time, g models.Granularity) ([]*models.ProductionBucket, error) {
	if !g.Valid() {
		return nil, enmserr.New(enmserr.KindBadRequest, "unsupported granularity %q", g)
	}

	query := `SELECT bucket, machine_id, total_count, good_count, defective_count, avg_throughput, sample_count
	          FROM ` + aggTable("production_data", g) + `
	          WHERE machine_id = ANY($1) AND bucket >= $2 AND bucket < $3
	          ORDER BY bucket ASC`

	var buckets []*models.ProductionBucket
	if err := s.db.SelectContext(ctx, &buckets, query, pq.Array(machineIDs), start.UTC(), end.UTC()); err != nil {
		return nil, storeErr(err, "production series")
	}
	return buckets, nil
}

// EnvironmentalSeries reads per-bucket environmental averages.
func (s *TimescaleStore) EnvironmentalSeries(ctx context.Context, machineIDs []string, start, end time.Time, g models.Granularity) ([]*models.EnvironmentalBucket, error) {
	if !g.Valid() {
		return nil, enmserr.New(enmserr.KindBadRequest, "unsupported granularity %q", g)
	}

	query := `SELECT bucket, machine_id, avg_outdoor_temp_c, avg_indoor_temp_c, avg_machine_temp_c,
	                 avg_humidity_percent, avg_pressure_bar, sample_count
	          FROM ` + aggTable("environmental_data", g) + `
	          WHERE machine_id = ANY($1) AND bucket >= $2 AND bucket < $3
	          ORDER BY bucket ASC`

	var buckets []*models.EnvironmentalBucket
	if err := s.db.SelectContext(ctx, &buckets, query, pq.Array(machineIDs), start.UTC(), end.UTC()); err != nil {
		return nil, storeErr(err, "environmental series")
	}
	return buckets, nil
}

// LatestReading returns the newest raw energy reading for a machine. Gas and
// steam streams carry a computed universal power_kw (calorific value and
// enthalpy conversion happen at ingestion), so one row answers all carriers.
func (s *TimescaleStore) LatestReading(ctx context.Context, machineID string) (*models.LatestReading, error) {
	var reading models.LatestReading
	query := `SELECT time, machine_id, power_kw, energy_kwh, voltage, current, power_factor,
	                 COALESCE(metadata->>'energy_type', 'electricity') AS energy_type
	          FROM energy_readings
	          WHERE machine_id = $1
	          ORDER BY time DESC
	          LIMIT 1`
	if err := s.db.GetContext(ctx, &reading, query, machineID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, enmserr.New(enmserr.KindNotFound, "no readings for machine %s", machineID)
		}
		return nil, storeErr(err, "latest reading for machine %s", machineID)
	}
	return &reading, nil
}
