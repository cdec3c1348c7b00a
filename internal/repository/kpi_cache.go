package repository

import (
	"context"
	"time"

	"github.com/enmstack/analytics-service/internal/models"
)

// UpsertKPICache writes one pre-computed KPI value. Single-row upsert keyed on
// (machine_id, period_start, period_end, kpi_name).
func (s *TimescaleStore) UpsertKPICache(ctx context.Context, row *models.KPICacheRow) error {
	row.ComputedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kpi_cache (machine_id, period_start, period_end, kpi_name, value, unit, computed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (machine_id, period_start, period_end, kpi_name)
		DO UPDATE SET value = EXCLUDED.value, unit = EXCLUDED.unit, computed_at = EXCLUDED.computed_at`,
		row.MachineID, row.PeriodStart.UTC(), row.PeriodEnd.UTC(), row.KPIName, row.Value, row.Unit, row.ComputedAt,
	)
	if err != nil {
		return storeErr(err, "upsert kpi cache")
	}
	return nil
}

// GetKPICache returns the cached value for an exact period, or NotFound on a
// miss; callers recompute from the aggregates on a miss.
func (s *TimescaleStore) GetKPICache(ctx context.Context, machineID, kpiName string, periodStart, periodEnd time.Time) (*models.KPICacheRow, error) {
	var row models.KPICacheRow
	err := s.db.GetContext(ctx, &row, `
		SELECT machine_id, period_start, period_end, kpi_name, value, unit, computed_at
		FROM kpi_cache
		WHERE machine_id = $1 AND kpi_name = $2 AND period_start = $3 AND period_end = $4`,
		machineID, kpiName, periodStart.UTC(), periodEnd.UTC(),
	)
	if err != nil {
		return nil, storeErr(err, "kpi cache miss for %s/%s", machineID, kpiName)
	}
	return &row, nil
}
