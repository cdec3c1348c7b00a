package features

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/enmstack/analytics-service/internal/enmserr"
	"github.com/enmstack/analytics-service/internal/models"
	"github.com/enmstack/analytics-service/internal/repository"
)

// stubStore implements only what the aggregator touches; anything else
// panics through the embedded nil interface.
type stubStore struct {
	repository.Store

	seus     map[string]*models.SEU
	declared []*models.EnergySourceFeature
	// energy rows per granularity
	energy map[models.Granularity][]*models.EnergyBucket
}

func (s *stubStore) GetSEU(ctx context.Context, id string) (*models.SEU, error) {
	seu, ok := s.seus[id]
	if !ok {
		return nil, enmserr.New(enmserr.KindNotFound, "seu %s", id)
	}
	return seu, nil
}

func (s *stubStore) ListFeaturesForSource(ctx context.Context, sourceKey string) ([]*models.EnergySourceFeature, error) {
	return s.declared, nil
}

func (s *stubStore) EnergySeries(ctx context.Context, machineIDs []string, energyType string, start, end time.Time, g models.Granularity) ([]*models.EnergyBucket, error) {
	return s.energy[g], nil
}

func (s *stubStore) ProductionSeries(ctx context.Context, machineIDs []string, start, end time.Time, g models.Granularity) ([]*models.ProductionBucket, error) {
	return nil, nil
}

func (s *stubStore) EnvironmentalSeries(ctx context.Context, machineIDs []string, start, end time.Time, g models.Granularity) ([]*models.EnvironmentalBucket, error) {
	return nil, nil
}

func energyRows(g models.Granularity, n int) []*models.EnergyBucket {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	rows := make([]*models.EnergyBucket, n)
	for i := range rows {
		rows[i] = &models.EnergyBucket{
			Bucket:         base.Add(time.Duration(i) * g.Duration()),
			MachineID:      "m-1",
			TotalEnergyKWh: float64(10 + i),
			AvgPowerKW:     5,
		}
	}
	return rows
}

func declared(keys ...string) []*models.EnergySourceFeature {
	out := make([]*models.EnergySourceFeature, len(keys))
	for i, k := range keys {
		out[i] = &models.EnergySourceFeature{FeatureKey: k}
	}
	return out
}

func testRequest(purpose Purpose) Request {
	return Request{
		Scope:   models.Scope{MachineID: "m-1", EnergySource: "electricity"},
		Start:   time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		End:     time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC),
		Purpose: purpose,
	}
}

func TestBuildPicksGranularitySatisfyingFloor(t *testing.T) {
	store := &stubStore{
		declared: declared("avg_power_kw"),
		energy: map[models.Granularity][]*models.EnergyBucket{
			models.Granularity1Day:  energyRows(models.Granularity1Day, 20),  // below 50
			models.Granularity1Hour: energyRows(models.Granularity1Hour, 80), // enough
		},
	}
	agg := NewAggregator(store, zap.NewNop())

	req := testRequest(PurposeTraining)
	req.Features = []string{TargetFeature, "avg_power_kw"}
	table, err := agg.Build(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, models.Granularity1Hour, table.Granularity)
	assert.Len(t, table.Rows, 80)
}

func TestBuildTrainingPrefersHourlyOverDaily(t *testing.T) {
	store := &stubStore{
		declared: declared("avg_power_kw"),
		energy: map[models.Granularity][]*models.EnergyBucket{
			models.Granularity1Day:  energyRows(models.Granularity1Day, 60),  // clears the floor
			models.Granularity1Hour: energyRows(models.Granularity1Hour, 80), // preferred anyway
		},
	}
	agg := NewAggregator(store, zap.NewNop())

	req := testRequest(PurposeTraining)
	req.Features = []string{TargetFeature}
	table, err := agg.Build(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, models.Granularity1Hour, table.Granularity)
	assert.Len(t, table.Rows, 80)

	// Non-training purposes keep the coarsest-first walk.
	req = testRequest(PurposeAdHoc)
	req.Features = []string{TargetFeature}
	table, err = agg.Build(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, models.Granularity1Day, table.Granularity)
}

func TestBuildPinnedGranularity(t *testing.T) {
	store := &stubStore{
		declared: declared("avg_power_kw"),
		energy: map[models.Granularity][]*models.EnergyBucket{
			models.Granularity1Day:  energyRows(models.Granularity1Day, 60),
			models.Granularity1Hour: energyRows(models.Granularity1Hour, 80),
		},
	}
	agg := NewAggregator(store, zap.NewNop())

	req := testRequest(PurposeAdHoc)
	req.Features = []string{TargetFeature}
	req.Granularity = models.Granularity1Hour
	table, err := agg.Build(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, models.Granularity1Hour, table.Granularity)
	assert.Len(t, table.Rows, 80)

	// A pinned resolution never degrades to another one.
	req.Granularity = models.Granularity15Min
	_, err = agg.Build(context.Background(), req)
	require.Error(t, err)
	assert.True(t, enmserr.IsKind(err, enmserr.KindInsufficientData))
}

func TestBuildDailyWhenEnough(t *testing.T) {
	store := &stubStore{
		declared: declared("avg_power_kw"),
		energy: map[models.Granularity][]*models.EnergyBucket{
			models.Granularity1Day: energyRows(models.Granularity1Day, 25),
		},
	}
	agg := NewAggregator(store, zap.NewNop())

	req := testRequest(PurposeAnomaly) // floor 20
	req.Features = []string{TargetFeature}
	table, err := agg.Build(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, models.Granularity1Day, table.Granularity)
}

func TestBuildInsufficientData(t *testing.T) {
	store := &stubStore{
		declared: declared(),
		energy:   map[models.Granularity][]*models.EnergyBucket{},
	}
	agg := NewAggregator(store, zap.NewNop())

	req := testRequest(PurposeTraining)
	req.Features = []string{TargetFeature}
	_, err := agg.Build(context.Background(), req)
	require.Error(t, err)
	assert.True(t, enmserr.IsKind(err, enmserr.KindInsufficientData))
}

func TestBuildRejectsUndeclaredFeature(t *testing.T) {
	store := &stubStore{declared: declared("avg_power_kw")}
	agg := NewAggregator(store, zap.NewNop())

	req := testRequest(PurposeAdHoc)
	req.Features = []string{"no_such_feature"}
	_, err := agg.Build(context.Background(), req)
	require.Error(t, err)
	assert.True(t, enmserr.IsKind(err, enmserr.KindBadRequest))
}

func TestBuildRejectsInvertedWindow(t *testing.T) {
	agg := NewAggregator(&stubStore{}, zap.NewNop())

	req := testRequest(PurposeAdHoc)
	req.Start, req.End = req.End, req.Start
	_, err := agg.Build(context.Background(), req)
	require.Error(t, err)
	assert.True(t, enmserr.IsKind(err, enmserr.KindBadRequest))
}

func TestBuildExpandsSEUMembers(t *testing.T) {
	store := &stubStore{
		seus: map[string]*models.SEU{
			"seu-1": {ID: "seu-1", MachineIDs: []string{"m-1", "m-2"}},
		},
		declared: declared(),
		energy: map[models.Granularity][]*models.EnergyBucket{
			models.Granularity1Day: energyRows(models.Granularity1Day, 5),
		},
	}
	agg := NewAggregator(store, zap.NewNop())

	req := testRequest(PurposeAdHoc)
	req.Scope = models.Scope{SEUID: "seu-1", EnergySource: "electricity"}
	req.Features = []string{TargetFeature}
	table, err := agg.Build(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, table.Rows, 5)

	// Empty SEU is rejected.
	store.seus["seu-2"] = &models.SEU{ID: "seu-2"}
	req.Scope.SEUID = "seu-2"
	_, err = agg.Build(context.Background(), req)
	assert.True(t, enmserr.IsKind(err, enmserr.KindBadRequest))
}
