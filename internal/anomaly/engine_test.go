package anomaly

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/enmstack/analytics-service/internal/baseline"
	"github.com/enmstack/analytics-service/internal/enmserr"
	"github.com/enmstack/analytics-service/internal/features"
	"github.com/enmstack/analytics-service/internal/models"
	"github.com/enmstack/analytics-service/internal/repository"
)

type anomalyKey struct {
	machineID string
	at        time.Time
	typ       string
}

// stubStore serves canned hourly aggregates and dedupes anomaly writes the
// way the real store's unique index does.
type stubStore struct {
	repository.Store

	energy     []*models.EnergyBucket
	production []*models.ProductionBucket

	anomalies map[anomalyKey]*models.Anomaly
}

func (s *stubStore) ListFeaturesForSource(ctx context.Context, sourceKey string) ([]*models.EnergySourceFeature, error) {
	declared := make([]*models.EnergySourceFeature, len(detectionFeatures))
	for i, k := range detectionFeatures {
		declared[i] = &models.EnergySourceFeature{FeatureKey: k}
	}
	return declared, nil
}

func (s *stubStore) EnergySeries(ctx context.Context, machineIDs []string, energyType string, start, end time.Time, g models.Granularity) ([]*models.EnergyBucket, error) {
	if g != models.Granularity1Hour {
		return nil, nil
	}
	return s.energy, nil
}

func (s *stubStore) ProductionSeries(ctx context.Context, machineIDs []string, start, end time.Time, g models.Granularity) ([]*models.ProductionBucket, error) {
	if g != models.Granularity1Hour {
		return nil, nil
	}
	return s.production, nil
}

func (s *stubStore) EnvironmentalSeries(ctx context.Context, machineIDs []string, start, end time.Time, g models.Granularity) ([]*models.EnvironmentalBucket, error) {
	return nil, nil
}

func (s *stubStore) SaveAnomaly(ctx context.Context, a *models.Anomaly) (bool, error) {
	key := anomalyKey{machineID: a.MachineID, at: a.DetectedAt, typ: a.Type}
	if _, dup := s.anomalies[key]; dup {
		return false, nil
	}
	a.ID = fmt.Sprintf("a-%d", len(s.anomalies)+1)
	s.anomalies[key] = a
	return true, nil
}

func (s *stubStore) ActiveBaseline(ctx context.Context, scope models.Scope) (*models.BaselineModel, error) {
	return nil, enmserr.New(enmserr.KindNotTrained, "no active baseline")
}

type stubPublisher struct {
	published []*models.Anomaly
}

func (p *stubPublisher) PublishAnomalyDetected(ctx context.Context, a *models.Anomaly) {
	p.published = append(p.published, a)
}

type stubStatus struct {
	down map[time.Time]bool
}

func (s stubStatus) Status(ctx context.Context, machineID string, at time.Time) string {
	if s.down[at] {
		return "maintenance"
	}
	return "running"
}

var sweepStart = time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC)

func spikeBucket() time.Time { return sweepStart.Add(20 * time.Hour) }

// sweepStore builds 40 hourly buckets of steady ~5 kW load with one 50 kW
// spike at hour 20.
func sweepStore() *stubStore {
	store := &stubStore{anomalies: map[anomalyKey]*models.Anomaly{}}
	for i := 0; i < 40; i++ {
		bucket := sweepStart.Add(time.Duration(i) * time.Hour)
		power := 5 + 0.01*float64(i%7)
		if bucket.Equal(spikeBucket()) {
			power = 50
		}
		store.energy = append(store.energy, &models.EnergyBucket{
			Bucket:         bucket,
			MachineID:      "m-1",
			AvgPowerKW:     power,
			TotalEnergyKWh: power,
		})
		store.production = append(store.production, &models.ProductionBucket{
			Bucket:     bucket,
			MachineID:  "m-1",
			TotalCount: 10,
		})
	}
	return store
}

func sweepEngine(store *stubStore, publisher Publisher, status StatusProvider) *Engine {
	agg := features.NewAggregator(store, zap.NewNop())
	return NewEngine(store, agg, nil, publisher, status, 0.1, zap.NewNop())
}

func sweepScope() models.Scope {
	return models.Scope{MachineID: "m-1", EnergySource: "electricity"}
}

func TestDetectFlagsSpikeAndPublishes(t *testing.T) {
	store := sweepStore()
	publisher := &stubPublisher{}
	engine := sweepEngine(store, publisher, nil)

	persisted, err := engine.Detect(context.Background(), sweepScope(),
		sweepStart, sweepStart.Add(40*time.Hour), false)
	require.NoError(t, err)
	require.NotEmpty(t, persisted)

	var spike *models.Anomaly
	for _, a := range persisted {
		if a.DetectedAt.Equal(spikeBucket()) {
			spike = a
		}
	}
	require.NotNil(t, spike, "spike bucket was not flagged")
	assert.Equal(t, models.AnomalyTypeSpike, spike.Type)
	assert.Equal(t, models.SeverityCritical, spike.Severity)
	assert.Equal(t, "avg_power_kw", spike.Metric)
	assert.Equal(t, models.AnomalyStatusOpen, spike.Status)
	assert.Greater(t, spike.Actual, spike.Expected)

	// One event per persisted row.
	assert.Len(t, publisher.published, len(persisted))
}

func TestDetectDedupeGatesPublishing(t *testing.T) {
	store := sweepStore()
	publisher := &stubPublisher{}
	engine := sweepEngine(store, publisher, nil)

	first, err := engine.Detect(context.Background(), sweepScope(),
		sweepStart, sweepStart.Add(40*time.Hour), false)
	require.NoError(t, err)
	require.NotEmpty(t, first)
	publishedOnce := len(publisher.published)

	// The same window again hits the (machine, bucket, type) uniqueness and
	// publishes nothing new.
	second, err := engine.Detect(context.Background(), sweepScope(),
		sweepStart, sweepStart.Add(40*time.Hour), false)
	require.NoError(t, err)
	assert.Empty(t, second)
	assert.Len(t, publisher.published, publishedOnce)
}

func TestDetectSkipsMaintenanceBuckets(t *testing.T) {
	store := sweepStore()
	status := stubStatus{down: map[time.Time]bool{spikeBucket(): true}}
	engine := sweepEngine(store, &stubPublisher{}, status)

	persisted, err := engine.Detect(context.Background(), sweepScope(),
		sweepStart, sweepStart.Add(40*time.Hour), false)
	require.NoError(t, err)
	for _, a := range persisted {
		assert.False(t, a.DetectedAt.Equal(spikeBucket()),
			"maintenance bucket must not be scored")
	}
}

func TestDetectDegradesWithoutBaseline(t *testing.T) {
	store := sweepStore()
	publisher := &stubPublisher{}
	agg := features.NewAggregator(store, zap.NewNop())
	blobs, err := baseline.NewBlobStore(t.TempDir())
	require.NoError(t, err)
	baselines := baseline.NewEngine(store, agg, blobs, zap.NewNop())
	engine := NewEngine(store, agg, baselines, publisher, nil, 0.1, zap.NewNop())

	// useBaseline with no trained model falls back to pure isolation
	// scoring instead of failing the sweep.
	persisted, err := engine.Detect(context.Background(), sweepScope(),
		sweepStart, sweepStart.Add(40*time.Hour), true)
	require.NoError(t, err)
	assert.NotEmpty(t, persisted)
}

func TestDetectInsufficientData(t *testing.T) {
	store := &stubStore{anomalies: map[anomalyKey]*models.Anomaly{}}
	for i := 0; i < 10; i++ {
		store.energy = append(store.energy, &models.EnergyBucket{
			Bucket:         sweepStart.Add(time.Duration(i) * time.Hour),
			MachineID:      "m-1",
			AvgPowerKW:     5,
			TotalEnergyKWh: 5,
		})
	}
	engine := sweepEngine(store, &stubPublisher{}, nil)

	_, err := engine.Detect(context.Background(), sweepScope(),
		sweepStart, sweepStart.Add(10*time.Hour), false)
	require.Error(t, err)
	assert.True(t, enmserr.IsKind(err, enmserr.KindInsufficientData))
}
