package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/enmstack/analytics-service/internal/models"
)

// SaveAnomaly inserts an anomaly, deduplicating on
// (machine_id, detected_at, type). Returns created=false when the row already
// existed; callers only publish events for created rows.
func (s *TimescaleStore) SaveAnomaly(ctx context.Context, a *models.Anomaly) (bool, error) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.Status == "" {
		a.Status = models.AnomalyStatusOpen
	}
	a.CreatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO anomalies (id, machine_id, detected_at, type, severity, metric, actual, expected,
		                       deviation, deviation_percent, confidence, status, resolution_note, resolved_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (machine_id, detected_at, type) DO NOTHING`,
		a.ID, a.MachineID, a.DetectedAt.UTC(), a.Type, a.Severity, a.Metric, a.Actual, a.Expected,
		a.Deviation, a.DeviationPercent, a.Confidence, a.Status, a.ResolutionNote, a.ResolvedAt, a.CreatedAt,
	)
	if err != nil {
		return false, storeErr(err, "insert anomaly")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storeErr(err, "insert anomaly result")
	}
	return n > 0, nil
}

const anomalyColumns = `id, machine_id, detected_at, type, severity, metric, actual, expected,
	deviation, deviation_percent, confidence, status, resolution_note, resolved_at, created_at`

func (s *TimescaleStore) ListAnomalies(ctx context.Context, f AnomalyFilter) ([]*models.Anomaly, error) {
	query := `SELECT ` + anomalyColumns + ` FROM anomalies WHERE 1=1`
	args := []interface{}{}
	param := 1

	if f.MachineID != "" {
		query += fmt.Sprintf(" AND machine_id = $%d", param)
		args = append(args, f.MachineID)
		param++
	}
	if f.Severity != "" {
		query += fmt.Sprintf(" AND severity = $%d", param)
		args = append(args, f.Severity)
		param++
	}
	if f.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", param)
		args = append(args, f.Status)
		param++
	}
	if !f.Since.IsZero() {
		query += fmt.Sprintf(" AND detected_at >= $%d", param)
		args = append(args, f.Since.UTC())
		param++
	}

	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query += fmt.Sprintf(" ORDER BY detected_at DESC LIMIT $%d", param)
	args = append(args, limit)

	var anomalies []*models.Anomaly
	if err := s.db.SelectContext(ctx, &anomalies, query, args...); err != nil {
		return nil, storeErr(err, "anomalies")
	}
	return anomalies, nil
}

func (s *TimescaleStore) GetAnomaly(ctx context.Context, id string) (*models.Anomaly, error) {
	var a models.Anomaly
	err := s.db.GetContext(ctx, &a, `SELECT `+anomalyColumns+` FROM anomalies WHERE id = $1`, id)
	if err != nil {
		return nil, storeErr(err, "anomaly %s not found", id)
	}
	return &a, nil
}

// ResolveAnomaly marks an anomaly resolved. Resolving an already-resolved
// anomaly is a no-op that keeps the original resolved_at.
func (s *TimescaleStore) ResolveAnomaly(ctx context.Context, id, note string) (*models.Anomaly, error) {
	_, err := s.db.ExecContext(ctx, `
		UPDATE anomalies
		SET status = $2, resolution_note = $3, resolved_at = NOW()
		WHERE id = $1 AND status != $2`,
		id, models.AnomalyStatusResolved, note,
	)
	if err != nil {
		return nil, storeErr(err, "resolve anomaly %s", id)
	}
	return s.GetAnomaly(ctx, id)
}
