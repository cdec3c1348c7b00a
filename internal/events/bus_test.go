package events

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/enmstack/analytics-service/internal/models"
)

func testBus(t *testing.T) (*Bus, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewBusWithClient(client, zap.NewNop()), client
}

func waitEvent(t *testing.T, ch <-chan models.Event) models.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return models.Event{}
	}
}

func TestPublishSubscribeRoundtrip(t *testing.T) {
	bus, client := testBus(t)

	received := make(chan models.Event, 16)
	sub := NewSubscriber(client, zap.NewNop())
	sub.Register(func(ev models.Event) { received <- ev })
	require.NoError(t, sub.Start(context.Background()))
	defer sub.Stop()

	detectedAt := time.Date(2026, 8, 26, 9, 0, 0, 0, time.UTC)
	bus.PublishAnomalyDetected(context.Background(), &models.Anomaly{
		ID:         "a-1",
		MachineID:  "m-1",
		Metric:     "power_kw",
		Actual:     42.5,
		Expected:   30.0,
		Severity:   models.SeverityWarning,
		Type:       models.AnomalyTypeSpike,
		Confidence: 0.9,
		DetectedAt: detectedAt,
	})

	ev := waitEvent(t, received)
	assert.Equal(t, models.ChannelAnomalyDetected, ev.Channel)
	require.NotNil(t, ev.AnomalyDetected)
	assert.Equal(t, "m-1", ev.AnomalyDetected.MachineID)
	assert.Equal(t, 42.5, ev.AnomalyDetected.Value)
	assert.Equal(t, models.SeverityWarning, ev.AnomalyDetected.Severity)
	assert.True(t, ev.AnomalyDetected.Timestamp.Equal(detectedAt))
}

func TestPublishTrainingLifecycle(t *testing.T) {
	bus, client := testBus(t)

	received := make(chan models.Event, 16)
	sub := NewSubscriber(client, zap.NewNop())
	sub.Register(func(ev models.Event) { received <- ev })
	require.NoError(t, sub.Start(context.Background()))
	defer sub.Stop()

	bus.PublishTrainingStarted(context.Background(), &models.TrainingJob{
		ID:        "job-1",
		MachineID: "m-1",
		ModelType: models.ModelTypeBaseline,
	})
	ev := waitEvent(t, received)
	require.NotNil(t, ev.TrainingStarted)
	assert.Equal(t, "job-1", ev.TrainingStarted.JobID)

	bus.PublishTrainingProgress(context.Background(), "job-1", 50, "running", "fitting model")
	ev = waitEvent(t, received)
	require.NotNil(t, ev.TrainingProgress)
	assert.Equal(t, 50.0, ev.TrainingProgress.ProgressPct)

	bus.PublishTrainingCompleted(context.Background(), "job-1", "succeeded",
		&models.TrainingMetrics{ModelVersion: 3, RSquared: 0.92}, "")
	ev = waitEvent(t, received)
	require.NotNil(t, ev.TrainingCompleted)
	assert.Equal(t, "succeeded", ev.TrainingCompleted.Status)
	require.NotNil(t, ev.TrainingCompleted.Metrics)
	assert.Equal(t, 0.92, ev.TrainingCompleted.Metrics.RSquared)
}

func TestPublishSurvivesBrokerDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	bus := NewBusWithClient(client, zap.NewNop())

	mr.Close()

	// Must not panic or block past the publish timeout.
	done := make(chan struct{})
	go func() {
		bus.PublishSystemAlert(context.Background(), "test", models.SeverityInfo, "broker down", nil)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("publish blocked with broker down")
	}
}

func TestDecodeKnownChannels(t *testing.T) {
	ev, err := decode(models.ChannelMetricUpdated, []byte(`{"machine_id":"m-2","metric":"power_kw","value":12.5}`))
	require.NoError(t, err)
	require.NotNil(t, ev.MetricUpdated)
	assert.Equal(t, "m-2", ev.MetricUpdated.MachineID)
	assert.Equal(t, 12.5, ev.MetricUpdated.Value)

	ev, err = decode(models.ChannelSystemAlert, []byte(`{"alert_type":"stuck_jobs","severity":"warning","message":"2 jobs failed"}`))
	require.NoError(t, err)
	require.NotNil(t, ev.SystemAlert)
	assert.Equal(t, "stuck_jobs", ev.SystemAlert.AlertType)
}

func TestDecodeUnknownChannel(t *testing.T) {
	_, err := decode("nope", []byte(`{}`))
	assert.Error(t, err)
}

func TestDecodeMalformedPayload(t *testing.T) {
	_, err := decode(models.ChannelAnomalyDetected, []byte(`not json`))
	assert.Error(t, err)
}
