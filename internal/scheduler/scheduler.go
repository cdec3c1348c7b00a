// Package scheduler runs the recurring analytics jobs on fixed UTC
// schedules. Jobs are single-fire: a tick is skipped, not queued, while a
// previous run is still going. The manual trigger endpoint runs a job under
// the same mutual exclusion.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/enmstack/analytics-service/internal/enmserr"
	"github.com/enmstack/analytics-service/internal/pkg/metrics"
)

// Job ids.
const (
	JobBaselineRetrain = "baseline_retrain"
	JobAnomalyDetect   = "anomaly_detect"
	JobKPICalculate    = "kpi_calculate"
	JobTrainingCleanup = "training_cleanup"
)

// Action is the work one job performs.
type Action func(ctx context.Context) error

type job struct {
	id       string
	schedule string
	next     func(time.Time) time.Time
	deadline time.Duration
	action   Action

	mu          sync.Mutex
	running     bool
	lastRunAt   time.Time
	lastOutcome string
	lastError   string
}

// JobStatus is the introspection view of one job.
type JobStatus struct {
	ID          string    `json:"id"`
	Schedule    string    `json:"schedule"`
	Running     bool      `json:"running"`
	LastRunAt   time.Time `json:"last_run_at,omitempty"`
	LastOutcome string    `json:"last_outcome,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
	NextRunAt   time.Time `json:"next_run_at"`
}

// Scheduler owns the job table and the timer loops.
type Scheduler struct {
	jobs   map[string]*job
	order  []string
	logger *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a scheduler wired with the four standard jobs.
func New(retrain, detect, kpis, cleanup Action, logger *zap.Logger) *Scheduler {
	s := &Scheduler{jobs: make(map[string]*job), logger: logger}
	s.add(&job{
		id:       JobBaselineRetrain,
		schedule: "weekly Sunday 02:00 UTC",
		next:     nextWeekly(time.Sunday, 2, 0),
		deadline: time.Hour,
		action:   retrain,
	})
	s.add(&job{
		id:       JobAnomalyDetect,
		schedule: "hourly at :05 UTC",
		next:     nextHourly(5),
		deadline: 10 * time.Minute,
		action:   detect,
	})
	s.add(&job{
		id:       JobKPICalculate,
		schedule: "daily 00:30 UTC",
		next:     nextDaily(0, 30),
		deadline: 15 * time.Minute,
		action:   kpis,
	})
	s.add(&job{
		id:       JobTrainingCleanup,
		schedule: "every 15 minutes",
		next:     nextInterval(15 * time.Minute),
		deadline: time.Minute,
		action:   cleanup,
	})
	return s
}

func (s *Scheduler) add(j *job) {
	s.jobs[j.id] = j
	s.order = append(s.order, j.id)
}

// Start launches one timer loop per job.
func (s *Scheduler) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	for _, id := range s.order {
		j := s.jobs[id]
		s.wg.Add(1)
		go s.loop(runCtx, j)
	}
	s.logger.Info("scheduler started", zap.Int("jobs", len(s.jobs)))
}

// Stop halts the timer loops and waits for any in-flight runs.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, j *job) {
	defer s.wg.Done()
	for {
		wait := time.Until(j.next(time.Now().UTC()))
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.run(ctx, j)
		}
	}
}

// Trigger runs a job immediately. Returns Conflict if the job is already
// running, NotFound for an unknown id.
func (s *Scheduler) Trigger(ctx context.Context, id string) error {
	j, ok := s.jobs[id]
	if !ok {
		return enmserr.New(enmserr.KindNotFound, "unknown job %q", id)
	}
	if !s.run(ctx, j) {
		return enmserr.New(enmserr.KindConflict, "job %q is already running", id)
	}
	return nil
}

// run executes the job unless it is already running. Reports whether the
// run happened.
func (s *Scheduler) run(ctx context.Context, j *job) bool {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		metrics.SchedulerJobRunsTotal.WithLabelValues(j.id, "skipped").Inc()
		s.logger.Info("skipping job, previous run still going", zap.String("job_id", j.id))
		return false
	}
	j.running = true
	j.lastRunAt = time.Now().UTC()
	j.mu.Unlock()

	jobCtx, cancel := context.WithTimeout(ctx, j.deadline)
	start := time.Now()
	err := j.action(jobCtx)
	cancel()

	outcome := "succeeded"
	if err != nil {
		outcome = "failed"
	}
	metrics.SchedulerJobRunsTotal.WithLabelValues(j.id, outcome).Inc()

	j.mu.Lock()
	j.running = false
	j.lastOutcome = outcome
	if err != nil {
		j.lastError = err.Error()
		s.logger.Error("scheduled job failed",
			zap.String("job_id", j.id),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
	} else {
		j.lastError = ""
		s.logger.Info("scheduled job finished",
			zap.String("job_id", j.id),
			zap.Duration("duration", time.Since(start)))
	}
	j.mu.Unlock()
	return true
}

// Status reports all jobs in registration order.
func (s *Scheduler) Status() []JobStatus {
	now := time.Now().UTC()
	out := make([]JobStatus, 0, len(s.order))
	for _, id := range s.order {
		j := s.jobs[id]
		j.mu.Lock()
		out = append(out, JobStatus{
			ID:          j.id,
			Schedule:    j.schedule,
			Running:     j.running,
			LastRunAt:   j.lastRunAt,
			LastOutcome: j.lastOutcome,
			LastError:   j.lastError,
			NextRunAt:   j.next(now),
		})
		j.mu.Unlock()
	}
	return out
}

// nextWeekly fires on the given weekday at hh:mm UTC.
func nextWeekly(day time.Weekday, hh, mm int) func(time.Time) time.Time {
	return func(now time.Time) time.Time {
		t := time.Date(now.Year(), now.Month(), now.Day(), hh, mm, 0, 0, time.UTC)
		days := (int(day) - int(now.Weekday()) + 7) % 7
		t = t.AddDate(0, 0, days)
		if !t.After(now) {
			t = t.AddDate(0, 0, 7)
		}
		return t
	}
}

// nextDaily fires every day at hh:mm UTC.
func nextDaily(hh, mm int) func(time.Time) time.Time {
	return func(now time.Time) time.Time {
		t := time.Date(now.Year(), now.Month(), now.Day(), hh, mm, 0, 0, time.UTC)
		if !t.After(now) {
			t = t.AddDate(0, 0, 1)
		}
		return t
	}
}

// nextHourly fires at the given minute past every hour.
func nextHourly(mm int) func(time.Time) time.Time {
	return func(now time.Time) time.Time {
		t := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), mm, 0, 0, time.UTC)
		if !t.After(now) {
			t = t.Add(time.Hour)
		}
		return t
	}
}

// nextInterval fires on interval boundaries aligned to the hour.
func nextInterval(d time.Duration) func(time.Time) time.Time {
	return func(now time.Time) time.Time {
		return now.Truncate(d).Add(d)
	}
}
