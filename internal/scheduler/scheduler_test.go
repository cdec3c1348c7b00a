package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/enmstack/analytics-service/internal/enmserr"
)

func noop(ctx context.Context) error { return nil }

func newTestScheduler(retrain Action) *Scheduler {
	return New(retrain, noop, noop, noop, zap.NewNop())
}

func TestNextWeekly(t *testing.T) {
	next := nextWeekly(time.Sunday, 2, 0)

	// Wednesday noon fires the coming Sunday.
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 8, 30, 2, 0, 0, 0, time.UTC), next(now))

	// Sunday 01:59 fires the same day.
	now = time.Date(2026, 8, 30, 1, 59, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 8, 30, 2, 0, 0, 0, time.UTC), next(now))

	// Exactly at fire time rolls a full week.
	now = time.Date(2026, 8, 30, 2, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 9, 6, 2, 0, 0, 0, time.UTC), next(now))
}

func TestNextDaily(t *testing.T) {
	next := nextDaily(0, 30)

	now := time.Date(2026, 8, 26, 0, 10, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 8, 26, 0, 30, 0, 0, time.UTC), next(now))

	now = time.Date(2026, 8, 26, 0, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 8, 27, 0, 30, 0, 0, time.UTC), next(now))
}

func TestNextHourly(t *testing.T) {
	next := nextHourly(5)

	now := time.Date(2026, 8, 26, 14, 4, 59, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 8, 26, 14, 5, 0, 0, time.UTC), next(now))

	now = time.Date(2026, 8, 26, 14, 5, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 8, 26, 15, 5, 0, 0, time.UTC), next(now))

	// Rolls over midnight.
	now = time.Date(2026, 8, 26, 23, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 8, 27, 0, 5, 0, 0, time.UTC), next(now))
}

func TestNextInterval(t *testing.T) {
	next := nextInterval(15 * time.Minute)

	now := time.Date(2026, 8, 26, 14, 7, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 8, 26, 14, 15, 0, 0, time.UTC), next(now))

	// On a boundary the next tick is the following slot.
	now = time.Date(2026, 8, 26, 14, 15, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 8, 26, 14, 30, 0, 0, time.UTC), next(now))
}

func TestTriggerUnknownJob(t *testing.T) {
	s := newTestScheduler(noop)
	err := s.Trigger(context.Background(), "bogus")
	require.Error(t, err)
	assert.Equal(t, enmserr.KindNotFound, enmserr.KindOf(err))
}

func TestTriggerRunsJobAndRecordsStatus(t *testing.T) {
	var ran bool
	s := newTestScheduler(func(ctx context.Context) error {
		ran = true
		return nil
	})

	require.NoError(t, s.Trigger(context.Background(), JobBaselineRetrain))
	assert.True(t, ran)

	for _, st := range s.Status() {
		if st.ID == JobBaselineRetrain {
			assert.Equal(t, "succeeded", st.LastOutcome)
			assert.False(t, st.LastRunAt.IsZero())
			return
		}
	}
	t.Fatal("job status not found")
}

func TestTriggerRecordsFailure(t *testing.T) {
	s := newTestScheduler(func(ctx context.Context) error {
		return errors.New("boom")
	})

	require.NoError(t, s.Trigger(context.Background(), JobBaselineRetrain))

	st := s.Status()[0]
	require.Equal(t, JobBaselineRetrain, st.ID)
	assert.Equal(t, "failed", st.LastOutcome)
	assert.Equal(t, "boom", st.LastError)
}

func TestTriggerWhileRunningConflicts(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	s := newTestScheduler(func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = s.Trigger(context.Background(), JobBaselineRetrain)
	}()

	<-started
	err := s.Trigger(context.Background(), JobBaselineRetrain)
	require.Error(t, err)
	assert.Equal(t, enmserr.KindConflict, enmserr.KindOf(err))

	close(release)
	wg.Wait()
}

func TestStatusOrderAndSchedules(t *testing.T) {
	s := newTestScheduler(noop)
	statuses := s.Status()
	require.Len(t, statuses, 4)
	assert.Equal(t, JobBaselineRetrain, statuses[0].ID)
	assert.Equal(t, JobAnomalyDetect, statuses[1].ID)
	assert.Equal(t, JobKPICalculate, statuses[2].ID)
	assert.Equal(t, JobTrainingCleanup, statuses[3].ID)
	for _, st := range statuses {
		assert.False(t, st.NextRunAt.IsZero(), st.ID)
		assert.NotEmpty(t, st.Schedule, st.ID)
	}
}
