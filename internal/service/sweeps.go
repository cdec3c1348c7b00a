package service

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/enmstack/analytics-service/internal/anomaly"
	"github.com/enmstack/analytics-service/internal/baseline"
	"github.com/enmstack/analytics-service/internal/enmserr"
	"github.com/enmstack/analytics-service/internal/events"
	"github.com/enmstack/analytics-service/internal/kpi"
	"github.com/enmstack/analytics-service/internal/models"
	"github.com/enmstack/analytics-service/internal/repository"
)

const (
	retrainWindow  = 30 * 24 * time.Hour
	retrainMinDays = 14
	detectWindow   = time.Hour
	stuckJobMaxAge = time.Hour
)

// Sweeps are the fleet-wide actions behind the scheduled jobs. Each sweep
// catches and logs per-machine failures so one bad machine cannot poison
// the rest of the pass.
type Sweeps struct {
	store       repository.Store
	coordinator *TrainingCoordinator
	anomalies   *anomaly.Engine
	kpis        *kpi.Engine
	bus         *events.Bus
	logger      *zap.Logger
}

// NewSweeps wires the sweep actions.
func NewSweeps(store repository.Store, coordinator *TrainingCoordinator, anomalies *anomaly.Engine,
	kpis *kpi.Engine, bus *events.Bus, logger *zap.Logger) *Sweeps {
	return &Sweeps{
		store:       store,
		coordinator: coordinator,
		anomalies:   anomalies,
		kpis:        kpis,
		bus:         bus,
		logger:      logger,
	}
}

// RetrainAll trains a fresh baseline for every active machine and energy
// source with at least two weeks of data. Models passing the quality gate
// replace the active one.
func (s *Sweeps) RetrainAll(ctx context.Context) error {
	machines, err := s.store.ListMachines(ctx, true)
	if err != nil {
		return err
	}
	sources, err := s.store.ListEnergySources(ctx)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	submitted := 0
	for _, m := range machines {
		for _, src := range sources {
			if !src.Active {
				continue
			}
			if !s.hasTrainingHistory(ctx, m.ID, src.Key, now) {
				continue
			}
			_, err := s.coordinator.Submit(ctx, baseline.TrainRequest{
				Scope:    models.Scope{MachineID: m.ID, EnergySource: src.Key},
				Start:    now.Add(-retrainWindow),
				End:      now,
				Activate: true,
			})
			switch {
			case err == nil:
				submitted++
			case enmserr.IsKind(err, enmserr.KindConflict):
				// A manual training beat the sweep to this machine.
			default:
				s.logger.Warn("retrain submit failed",
					zap.String("machine_id", m.ID),
					zap.String("energy_source", src.Key),
					zap.Error(err))
			}
		}
	}
	s.logger.Info("baseline retrain sweep submitted", zap.Int("trainings", submitted))
	return nil
}

// hasTrainingHistory checks for at least retrainMinDays daily buckets.
func (s *Sweeps) hasTrainingHistory(ctx context.Context, machineID, energySource string, now time.Time) bool {
	daily, err := s.store.EnergySeries(ctx, []string{machineID}, energySource,
		now.Add(-retrainWindow), now, models.Granularity1Day)
	if err != nil {
		s.logger.Warn("history check failed",
			zap.String("machine_id", machineID), zap.Error(err))
		return false
	}
	return len(daily) >= retrainMinDays
}

// DetectAll runs anomaly detection over the last hour for every active
// machine.
func (s *Sweeps) DetectAll(ctx context.Context) error {
	machines, err := s.store.ListMachines(ctx, true)
	if err != nil {
		return err
	}

	end := time.Now().UTC()
	start := end.Add(-detectWindow)
	found := 0
	for _, m := range machines {
		anomalies, err := s.anomalies.Detect(ctx,
			models.Scope{MachineID: m.ID, EnergySource: "electricity"}, start, end, true)
		if err != nil {
			if enmserr.IsKind(err, enmserr.KindInsufficientData) {
				continue
			}
			s.logger.Warn("anomaly sweep failed for machine",
				zap.String("machine_id", m.ID), zap.Error(err))
			continue
		}
		found += len(anomalies)
	}
	s.logger.Info("anomaly sweep finished",
		zap.Int("machines", len(machines)), zap.Int("anomalies", found))
	return nil
}

// CalculateKPIs pre-computes the previous UTC day's KPIs for every active
// machine into the cache.
func (s *Sweeps) CalculateKPIs(ctx context.Context) error {
	machines, err := s.store.ListMachines(ctx, true)
	if err != nil {
		return err
	}

	end := time.Now().UTC().Truncate(24 * time.Hour)
	start := end.Add(-24 * time.Hour)
	for _, m := range machines {
		report, err := s.kpis.Compute(ctx,
			models.Scope{MachineID: m.ID, EnergySource: "electricity"}, start, end)
		if err != nil {
			s.logger.Warn("kpi sweep failed for machine",
				zap.String("machine_id", m.ID), zap.Error(err))
			continue
		}
		if err := s.kpis.CacheReport(ctx, m.ID, report); err != nil {
			s.logger.Warn("kpi cache write failed",
				zap.String("machine_id", m.ID), zap.Error(err))
		}
	}
	return nil
}

// CleanupStuck fails running training jobs older than an hour and alerts
// when any were found.
func (s *Sweeps) CleanupStuck(ctx context.Context) error {
	n, err := s.store.FailStuckTrainingJobs(ctx, stuckJobMaxAge)
	if err != nil {
		return err
	}
	if n > 0 {
		s.logger.Warn("failed stuck training jobs", zap.Int64("count", n))
		s.bus.PublishSystemAlert(ctx, "training_stuck", models.SeverityWarning,
			"stuck training jobs marked failed",
			map[string]string{"count": strconv.FormatInt(n, 10)})
	}
	return nil
}
