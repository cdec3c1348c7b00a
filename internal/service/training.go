// Package service coordinates long-running analytics work. Training is
// CPU-bound, so it runs on a bounded worker pool sized to leave a core free
// for request handling.
package service

import (
	"context"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/enmstack/analytics-service/internal/baseline"
	"github.com/enmstack/analytics-service/internal/enmserr"
	"github.com/enmstack/analytics-service/internal/events"
	"github.com/enmstack/analytics-service/internal/models"
	"github.com/enmstack/analytics-service/internal/pkg/metrics"
	"github.com/enmstack/analytics-service/internal/repository"
)

// TrainingCoordinator serializes training per (machine, model_type), records
// job rows, and publishes the training event stream.
type TrainingCoordinator struct {
	store     repository.Store
	baselines *baseline.Engine
	bus       *events.Bus
	logger    *zap.Logger

	timeout time.Duration
	slots   chan struct{}

	mu       sync.Mutex
	inflight map[string]struct{} // "machineOrSEU/modelType"
}

// NewTrainingCoordinator creates a coordinator with a pool of
// max(1, NumCPU-1) workers.
func NewTrainingCoordinator(store repository.Store, baselines *baseline.Engine, bus *events.Bus,
	timeout time.Duration, logger *zap.Logger) *TrainingCoordinator {
	workers := runtime.NumCPU() - 1
	if workers < 1 {
		workers = 1
	}
	return &TrainingCoordinator{
		store:     store,
		baselines: baselines,
		bus:       bus,
		logger:    logger,
		timeout:   timeout,
		slots:     make(chan struct{}, workers),
		inflight:  make(map[string]struct{}),
	}
}

// Submit starts an asynchronous baseline training and returns its job row.
// A second submission for the same (machine, model_type) while one runs
// returns Conflict.
func (c *TrainingCoordinator) Submit(ctx context.Context, req baseline.TrainRequest) (*models.TrainingJob, error) {
	owner := req.Scope.MachineID
	if req.Scope.IsSEU() {
		owner = req.Scope.SEUID
	}
	key := owner + "/" + models.ModelTypeBaseline

	c.mu.Lock()
	if _, busy := c.inflight[key]; busy {
		c.mu.Unlock()
		return nil, enmserr.New(enmserr.KindConflict, "training already in progress for %s", owner)
	}
	c.inflight[key] = struct{}{}
	c.mu.Unlock()

	release := func() {
		c.mu.Lock()
		delete(c.inflight, key)
		c.mu.Unlock()
	}

	// Replica-level guard: another process may hold the running job.
	if running, err := c.store.RunningTrainingJob(ctx, owner, models.ModelTypeBaseline); err != nil {
		release()
		return nil, err
	} else if running != nil {
		release()
		return nil, enmserr.New(enmserr.KindConflict, "training already in progress for %s", owner)
	}

	job := &models.TrainingJob{
		MachineID: owner,
		ModelType: models.ModelTypeBaseline,
		Status:    models.JobStatusPending,
	}
	if err := c.store.CreateTrainingJob(ctx, job); err != nil {
		release()
		return nil, err
	}

	go func() {
		defer release()
		c.slots <- struct{}{}
		defer func() { <-c.slots }()
		c.run(job, req)
	}()

	return job, nil
}

// run executes one training job. Detached from the submitting request's
// context so a client disconnect does not abort a half-done fit.
func (c *TrainingCoordinator) run(job *models.TrainingJob, req baseline.TrainRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	start := time.Now()
	now := start.UTC()
	job.Status = models.JobStatusRunning
	job.StartedAt = &now
	if err := c.store.UpdateTrainingJob(ctx, job); err != nil {
		c.logger.Error("training job transition to running failed",
			zap.String("job_id", job.ID), zap.Error(err))
		c.finish(ctx, job, nil, err, start)
		return
	}

	c.bus.PublishTrainingStarted(ctx, job)
	c.progress(ctx, job, 10, "building feature table")

	model, err := c.baselines.Train(ctx, req)
	if err == nil {
		c.progress(ctx, job, 90, "persisting model")
	}
	c.finish(ctx, job, model, err, start)
}

func (c *TrainingCoordinator) progress(ctx context.Context, job *models.TrainingJob, pct float64, msg string) {
	job.ProgressPct = pct
	if err := c.store.UpdateTrainingJob(ctx, job); err != nil {
		c.logger.Warn("training progress update failed",
			zap.String("job_id", job.ID), zap.Error(err))
	}
	c.bus.PublishTrainingProgress(ctx, job.ID, pct, job.Status, msg)
}

func (c *TrainingCoordinator) finish(ctx context.Context, job *models.TrainingJob,
	model *models.BaselineModel, trainErr error, start time.Time) {

	now := time.Now().UTC()
	job.FinishedAt = &now

	if trainErr != nil {
		msg := enmserr.MessageOf(trainErr)
		job.Status = models.JobStatusFailed
		job.Error = &msg
		job.ProgressPct = 100
		if err := c.store.UpdateTrainingJob(ctx, job); err != nil {
			c.logger.Error("training job finalize failed",
				zap.String("job_id", job.ID), zap.Error(err))
		}
		metrics.BaselineTrainingsTotal.WithLabelValues("failed").Inc()
		c.bus.PublishTrainingCompleted(ctx, job.ID, models.JobStatusFailed, nil, msg)
		c.logger.Warn("baseline training failed",
			zap.String("job_id", job.ID),
			zap.String("machine_id", job.MachineID),
			zap.Error(trainErr))
		return
	}

	job.Status = models.JobStatusSucceeded
	job.ProgressPct = 100
	job.ParentModelID = &model.ID
	if err := c.store.UpdateTrainingJob(ctx, job); err != nil {
		c.logger.Error("training job finalize failed",
			zap.String("job_id", job.ID), zap.Error(err))
	}

	outcome := "succeeded"
	if !model.MeetsQualityThreshold {
		outcome = "gated"
	}
	metrics.BaselineTrainingsTotal.WithLabelValues(outcome).Inc()
	metrics.BaselineTrainingDurationSeconds.Observe(time.Since(start).Seconds())

	c.bus.PublishTrainingCompleted(ctx, job.ID, models.JobStatusSucceeded, &models.TrainingMetrics{
		ModelVersion: model.ModelVersion,
		RSquared:     model.RSquared,
		RMSE:         model.RMSE,
		MAE:          model.MAE,
	}, "")
}
