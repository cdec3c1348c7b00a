package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/enmstack/analytics-service/internal/baseline"
	"github.com/enmstack/analytics-service/internal/enmserr"
	"github.com/enmstack/analytics-service/internal/events"
	"github.com/enmstack/analytics-service/internal/features"
	"github.com/enmstack/analytics-service/internal/models"
	"github.com/enmstack/analytics-service/internal/repository"
)

// stubStore records training-job writes and lets tests pin the training
// goroutine inside the feature build via listStarted/listRelease.
type stubStore struct {
	repository.Store

	mu      sync.Mutex
	jobs    map[string]*models.TrainingJob
	running *models.TrainingJob

	listStarted chan struct{}
	listRelease chan struct{}
}

func newStubStore() *stubStore {
	return &stubStore{
		jobs:        map[string]*models.TrainingJob{},
		listStarted: make(chan struct{}, 16),
		listRelease: make(chan struct{}),
	}
}

func (s *stubStore) ListFeaturesForSource(ctx context.Context, sourceKey string) ([]*models.EnergySourceFeature, error) {
	s.listStarted <- struct{}{}
	<-s.listRelease
	return []*models.EnergySourceFeature{{FeatureKey: "total_production_count"}}, nil
}

func (s *stubStore) EnergySeries(ctx context.Context, machineIDs []string, energyType string, start, end time.Time, g models.Granularity) ([]*models.EnergyBucket, error) {
	return nil, nil
}

func (s *stubStore) ProductionSeries(ctx context.Context, machineIDs []string, start, end time.Time, g models.Granularity) ([]*models.ProductionBucket, error) {
	return nil, nil
}

func (s *stubStore) EnvironmentalSeries(ctx context.Context, machineIDs []string, start, end time.Time, g models.Granularity) ([]*models.EnvironmentalBucket, error) {
	return nil, nil
}

func (s *stubStore) CreateTrainingJob(ctx context.Context, job *models.TrainingJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job.ID = fmt.Sprintf("job-%d", len(s.jobs)+1)
	job.CreatedAt = time.Now().UTC()
	snapshot := *job
	s.jobs[job.ID] = &snapshot
	return nil
}

func (s *stubStore) UpdateTrainingJob(ctx context.Context, job *models.TrainingJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := *job
	s.jobs[job.ID] = &snapshot
	return nil
}

func (s *stubStore) RunningTrainingJob(ctx context.Context, machineID, modelType string) (*models.TrainingJob, error) {
	return s.running, nil
}

func (s *stubStore) job(id string) *models.TrainingJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}

func testCoordinator(t *testing.T, store *stubStore) *TrainingCoordinator {
	t.Helper()
	mr := miniredis.RunT(t)
	bus := events.NewBusWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), zap.NewNop())
	t.Cleanup(func() { bus.Close() })

	blobs, err := baseline.NewBlobStore(t.TempDir())
	require.NoError(t, err)
	baselines := baseline.NewEngine(store, features.NewAggregator(store, zap.NewNop()), blobs, zap.NewNop())
	return NewTrainingCoordinator(store, baselines, bus, time.Minute, zap.NewNop())
}

func submitReq() baseline.TrainRequest {
	now := time.Now().UTC()
	return baseline.TrainRequest{
		Scope:    models.Scope{MachineID: "m-1", EnergySource: "electricity"},
		Start:    now.Add(-30 * 24 * time.Hour),
		End:      now,
		Features: []string{"total_production_count"},
		Activate: true,
	}
}

func TestSubmitConflictWhileRunning(t *testing.T) {
	store := newStubStore()
	coord := testCoordinator(t, store)

	job, err := coord.Submit(context.Background(), submitReq())
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, "m-1", job.MachineID)
	assert.Equal(t, models.ModelTypeBaseline, job.ModelType)

	// The worker is pinned inside the feature build; a second submission
	// for the same scope must conflict.
	<-store.listStarted
	_, err = coord.Submit(context.Background(), submitReq())
	require.Error(t, err)
	assert.True(t, enmserr.IsKind(err, enmserr.KindConflict))

	close(store.listRelease)
}

func TestSubmitRecordsFailureAndReleasesScope(t *testing.T) {
	store := newStubStore()
	close(store.listRelease) // no pinning; the empty store fails the fit
	coord := testCoordinator(t, store)

	job, err := coord.Submit(context.Background(), submitReq())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		cur := store.job(job.ID)
		return cur != nil && cur.Status == models.JobStatusFailed
	}, 2*time.Second, 10*time.Millisecond)

	cur := store.job(job.ID)
	require.NotNil(t, cur.Error)
	assert.NotEmpty(t, *cur.Error)
	assert.NotNil(t, cur.FinishedAt)
	assert.Equal(t, float64(100), cur.ProgressPct)

	// The scope frees up once the job reaches a terminal state.
	require.Eventually(t, func() bool {
		_, err := coord.Submit(context.Background(), submitReq())
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSubmitHonorsReplicaRunningJob(t *testing.T) {
	store := newStubStore()
	close(store.listRelease)
	store.running = &models.TrainingJob{ID: "job-elsewhere", Status: models.JobStatusRunning}
	coord := testCoordinator(t, store)

	_, err := coord.Submit(context.Background(), submitReq())
	require.Error(t, err)
	assert.True(t, enmserr.IsKind(err, enmserr.KindConflict))
}

func TestSubmitSeparateScopesRunIndependently(t *testing.T) {
	store := newStubStore()
	coord := testCoordinator(t, store)

	_, err := coord.Submit(context.Background(), submitReq())
	require.NoError(t, err)
	<-store.listStarted

	other := submitReq()
	other.Scope.MachineID = "m-2"
	_, err = coord.Submit(context.Background(), other)
	require.NoError(t, err)

	close(store.listRelease)
}
