package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/enmstack/analytics-service/internal/models"
)

const trainingColumns = `id, machine_id, model_type, status, progress_pct, started_at, finished_at, error, parent_model_id, created_at`

// CreateTrainingJob inserts a job. The partial unique index on
// (machine_id, model_type) WHERE status = 'running' makes a second concurrent
// run a Conflict at the store level.
func (s *TimescaleStore) CreateTrainingJob(ctx context.Context, job *models.TrainingJob) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = models.JobStatusPending
	}
	job.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO model_training_history (`+trainingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		job.ID, job.MachineID, job.ModelType, job.Status, job.ProgressPct,
		job.StartedAt, job.FinishedAt, job.Error, job.ParentModelID, job.CreatedAt,
	)
	if err != nil {
		return storeErr(err, "insert training job")
	}
	return nil
}

func (s *TimescaleStore) UpdateTrainingJob(ctx context.Context, job *models.TrainingJob) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE model_training_history
		SET status = $2, progress_pct = $3, started_at = $4, finished_at = $5, error = $6, parent_model_id = $7
		WHERE id = $1`,
		job.ID, job.Status, job.ProgressPct, job.StartedAt, job.FinishedAt, job.Error, job.ParentModelID,
	)
	if err != nil {
		return storeErr(err, "update training job %s", job.ID)
	}
	return nil
}

func (s *TimescaleStore) GetTrainingJob(ctx context.Context, id string) (*models.TrainingJob, error) {
	var job models.TrainingJob
	err := s.db.GetContext(ctx, &job,
		`SELECT `+trainingColumns+` FROM model_training_history WHERE id = $1`, id)
	if err != nil {
		return nil, storeErr(err, "training job %s not found", id)
	}
	return &job, nil
}

// RunningTrainingJob returns the running job for (machine, model_type), or
// nil when none is running.
func (s *TimescaleStore) RunningTrainingJob(ctx context.Context, machineID, modelType string) (*models.TrainingJob, error) {
	var job models.TrainingJob
	err := s.db.GetContext(ctx, &job, `
		SELECT `+trainingColumns+` FROM model_training_history
		WHERE machine_id = $1 AND model_type = $2 AND status = $3
		LIMIT 1`,
		machineID, modelType, models.JobStatusRunning,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, storeErr(err, "running training job for machine %s", machineID)
	}
	return &job, nil
}

// FailStuckTrainingJobs marks running jobs older than the cutoff as failed
// with error "stuck". Ran at startup and every 15 minutes by the scheduler.
func (s *TimescaleStore) FailStuckTrainingJobs(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res, err := s.db.ExecContext(ctx, `
		UPDATE model_training_history
		SET status = $1, error = 'stuck', finished_at = NOW()
		WHERE status = $2 AND started_at < $3`,
		models.JobStatusFailed, models.JobStatusRunning, cutoff,
	)
	if err != nil {
		return 0, storeErr(err, "fail stuck training jobs")
	}
	return res.RowsAffected()
}
