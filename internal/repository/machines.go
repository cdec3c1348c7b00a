package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"github.com/enmstack/analytics-service/internal/models"
)

func (s *TimescaleStore) ListMachines(ctx context.Context, activeOnly bool) ([]*models.Machine, error) {
	query := `SELECT id, factory_id, name, type, rated_power_kw, data_interval_seconds, mqtt_topic, active, created_at
	          FROM machines`
	if activeOnly {
		query += ` WHERE active = true`
	}
	query += ` ORDER BY name`

	var machines []*models.Machine
	if err := s.db.SelectContext(ctx, &machines, query); err != nil {
		return nil, storeErr(err, "machines")
	}
	return machines, nil
}

func (s *TimescaleStore) GetMachine(ctx context.Context, id string) (*models.Machine, error) {
	var m models.Machine
	query := `SELECT id, factory_id, name, type, rated_power_kw, data_interval_seconds, mqtt_topic, active, created_at
	          FROM machines WHERE id = $1`
	if err := s.db.GetContext(ctx, &m, query, id); err != nil {
		return nil, storeErr(err, "machine %s not found", id)
	}
	return &m, nil
}

func (s *TimescaleStore) GetMachineByName(ctx context.Context, name string) (*models.Machine, error) {
	var m models.Machine
	query := `SELECT id, factory_id, name, type, rated_power_kw, data_interval_seconds, mqtt_topic, active, created_at
	          FROM machines WHERE name = $1`
	if err := s.db.GetContext(ctx, &m, query, name); err != nil {
		return nil, storeErr(err, "machine %q not found", name)
	}
	return &m, nil
}

func (s *TimescaleStore) ListEnergySources(ctx context.Context) ([]*models.EnergySource, error) {
	var sources []*models.EnergySource
	query := `SELECT id, key, unit, cost_per_unit, carbon_factor_per_unit, active
	          FROM energy_sources WHERE active = true ORDER BY key`
	if err := s.db.SelectContext(ctx, &sources, query); err != nil {
		return nil, storeErr(err, "energy sources")
	}
	return sources, nil
}

func (s *TimescaleStore) ListFeaturesForSource(ctx context.Context, sourceKey string) ([]*models.EnergySourceFeature, error) {
	var features []*models.EnergySourceFeature
	query := `SELECT f.id, f.source_id, f.feature_key, f.source_table, f.source_column, f.aggregation, f.data_type, f.description
	          FROM energy_source_features f
	          JOIN energy_sources s ON s.id = f.source_id
	          WHERE s.key = $1
	          ORDER BY f.feature_key`
	if err := s.db.SelectContext(ctx, &features, query, sourceKey); err != nil {
		return nil, storeErr(err, "features for energy source %q", sourceKey)
	}
	return features, nil
}

// seuRow carries the array-aggregated machine ids alongside the SEU columns.
type seuRow struct {
	ID             string         `db:"id"`
	Name           string         `db:"name"`
	EnergySourceID string         `db:"energy_source_id"`
	MachineIDs     pq.StringArray `db:"machine_ids"`
}

func (r seuRow) toModel() *models.SEU {
	return &models.SEU{
		ID:             r.ID,
		Name:           r.Name,
		EnergySourceID: r.EnergySourceID,
		MachineIDs:     []string(r.MachineIDs),
	}
}

func (s *TimescaleStore) ListSEUs(ctx context.Context, energySource string) ([]*models.SEU, error) {
	query := `SELECT u.id, u.name, u.energy_source_id,
	                 COALESCE(array_agg(m.machine_id) FILTER (WHERE m.machine_id IS NOT NULL), '{}') AS machine_ids
	          FROM seus u
	          LEFT JOIN seu_machines m ON m.seu_id = u.id`
	args := []interface{}{}
	if energySource != "" {
		query += ` JOIN energy_sources es ON es.id = u.energy_source_id WHERE es.key = $1`
		args = append(args, energySource)
	}
	query += ` GROUP BY u.id, u.name, u.energy_source_id ORDER BY u.name`

	var rows []seuRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, storeErr(err, "seus")
	}
	seus := make([]*models.SEU, len(rows))
	for i, r := range rows {
		seus[i] = r.toModel()
	}
	return seus, nil
}

func (s *TimescaleStore) GetSEU(ctx context.Context, id string) (*models.SEU, error) {
	query := `SELECT u.id, u.name, u.energy_source_id,
	                 COALESCE(array_agg(m.machine_id) FILTER (WHERE m.machine_id IS NOT NULL), '{}') AS machine_ids
	          FROM seus u
	          LEFT JOIN seu_machines m ON m.seu_id = u.id
	          WHERE u.id = $1
	          GROUP BY u.id, u.name, u.energy_source_id`

	var r seuRow
	if err := s.db.GetContext(ctx, &r, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storeErr(sql.ErrNoRows, "seu %s not found", id)
		}
		return nil, storeErr(err, "seu %s", id)
	}
	return r.toModel(), nil
}
