// Package kpi computes the fixed KPI suite (SEC, peak demand, load factor,
// energy cost, carbon) over the continuous aggregates. One aggregate read
// feeds all five; individual endpoints reuse the batched computation.
package kpi

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/enmstack/analytics-service/internal/enmserr"
	"github.com/enmstack/analytics-service/internal/models"
	"github.com/enmstack/analytics-service/internal/repository"
)

// KPI names as cached and exposed.
const (
	NameSEC        = "sec"
	NamePeakDemand = "peak_demand"
	NameLoadFactor = "load_factor"
	NameEnergyCost = "energy_cost"
	NameCarbon     = "carbon"
)

// Value is one KPI result. A nil Value with a Reason means the KPI is
// undefined over the window (typically division by zero).
type Value struct {
	Name   string   `json:"name"`
	Value  *float64 `json:"value"`
	Unit   string   `json:"unit"`
	Reason string   `json:"reason,omitempty"`
}

// Report is the batched response.
type Report struct {
	MachineID   string    `json:"machine_id,omitempty"`
	SEUID       string    `json:"seu_id,omitempty"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
	SEC         Value     `json:"sec"`
	PeakDemand  Value     `json:"peak_demand"`
	LoadFactor  Value     `json:"load_factor"`
	EnergyCost  Value     `json:"energy_cost"`
	Carbon      Value     `json:"carbon"`
}

// All returns the report values in a fixed order.
func (r *Report) All() []Value {
	return []Value{r.SEC, r.PeakDemand, r.LoadFactor, r.EnergyCost, r.Carbon}
}

// TariffSchedule prices one bucket of energy. Pluggable so a TOU calendar
// can replace the two-band default without touching the engine.
type TariffSchedule interface {
	Rate(bucket time.Time) float64
}

// TwoBandTariff is the default peak/off-peak schedule: peak on weekdays
// 08:00-20:00 UTC, off-peak otherwise.
type TwoBandTariff struct {
	Peak    float64
	OffPeak float64
}

// Rate implements TariffSchedule.
func (t TwoBandTariff) Rate(bucket time.Time) float64 {
	utc := bucket.UTC()
	if wd := utc.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return t.OffPeak
	}
	if h := utc.Hour(); h >= 8 && h < 20 {
		return t.Peak
	}
	return t.OffPeak
}

// Engine computes KPIs.
type Engine struct {
	store        repository.Store
	tariff       TariffSchedule
	carbonFactor float64 // kg CO2 per kWh
	logger       *zap.Logger
}

// NewEngine creates a KPI engine.
func NewEngine(store repository.Store, tariff TariffSchedule, carbonFactor float64, logger *zap.Logger) *Engine {
	return &Engine{store: store, tariff: tariff, carbonFactor: carbonFactor, logger: logger}
}

// Compute evaluates all five KPIs over the window at hourly resolution
// (daily for windows beyond 60 days, keeping bucket counts bounded).
func (e *Engine) Compute(ctx context.Context, scope models.Scope, start, end time.Time) (*Report, error) {
	if !end.After(start) {
		return nil, enmserr.New(enmserr.KindBadRequest, "end_time must be after start_time")
	}

	machineIDs, err := e.scopeMachines(ctx, scope)
	if err != nil {
		return nil, err
	}

	g := models.Granularity1Hour
	if end.Sub(start) > 60*24*time.Hour {
		g = models.Granularity1Day
	}

	energy, err := e.store.EnergySeries(ctx, machineIDs, scope.EnergySource, start, end, g)
	if err != nil {
		return nil, err
	}
	production, err := e.store.ProductionSeries(ctx, machineIDs, start, end, g)
	if err != nil {
		return nil, err
	}

	report := &Report{
		MachineID:   scope.MachineID,
		SEUID:       scope.SEUID,
		PeriodStart: start.UTC(),
		PeriodEnd:   end.UTC(),
	}

	var totalEnergy, peakAvgPower, maxMaxPower, sumAvgPower, cost float64
	for _, b := range energy {
		totalEnergy += b.TotalEnergyKWh
		sumAvgPower += b.AvgPowerKW
		if b.AvgPowerKW > peakAvgPower {
			peakAvgPower = b.AvgPowerKW
		}
		if b.MaxPowerKW > maxMaxPower {
			maxMaxPower = b.MaxPowerKW
		}
		cost += b.TotalEnergyKWh * e.tariff.Rate(b.Bucket)
	}
	var totalProduction float64
	for _, p := range production {
		totalProduction += p.TotalCount
	}

	if len(energy) == 0 {
		report.SEC = undefined(NameSEC, "kWh/unit", "no energy data in window")
		report.PeakDemand = undefined(NamePeakDemand, "kW", "no energy data in window")
		report.LoadFactor = undefined(NameLoadFactor, "ratio", "no energy data in window")
		report.EnergyCost = undefined(NameEnergyCost, "currency", "no energy data in window")
		report.Carbon = undefined(NameCarbon, "kg_co2", "no energy data in window")
		return report, nil
	}

	if totalProduction > 0 {
		report.SEC = defined(NameSEC, "kWh/unit", totalEnergy/totalProduction)
	} else {
		report.SEC = undefined(NameSEC, "kWh/unit", "no production in window")
	}

	report.PeakDemand = defined(NamePeakDemand, "kW", peakAvgPower)

	if maxMaxPower > 0 {
		avgPower := sumAvgPower / float64(len(energy))
		report.LoadFactor = defined(NameLoadFactor, "ratio", avgPower/maxMaxPower)
	} else {
		report.LoadFactor = undefined(NameLoadFactor, "ratio", "zero peak power in window")
	}

	report.EnergyCost = defined(NameEnergyCost, "currency", cost)
	report.Carbon = defined(NameCarbon, "kg_co2", totalEnergy*e.carbonFactor)

	return report, nil
}

// ComputeOne evaluates a single KPI by name, reusing the batched path.
func (e *Engine) ComputeOne(ctx context.Context, scope models.Scope, start, end time.Time, name string) (*Value, error) {
	report, err := e.Compute(ctx, scope, start, end)
	if err != nil {
		return nil, err
	}
	for _, v := range report.All() {
		if v.Name == name {
			return &v, nil
		}
	}
	return nil, enmserr.New(enmserr.KindBadRequest, "unknown KPI %q", name)
}

// CacheReport writes every defined value of the report to the KPI cache.
func (e *Engine) CacheReport(ctx context.Context, machineID string, report *Report) error {
	for _, v := range report.All() {
		if v.Value == nil {
			continue
		}
		row := &models.KPICacheRow{
			MachineID:   machineID,
			PeriodStart: report.PeriodStart,
			PeriodEnd:   report.PeriodEnd,
			KPIName:     v.Name,
			Value:       *v.Value,
			Unit:        v.Unit,
		}
		if err := e.store.UpsertKPICache(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) scopeMachines(ctx context.Context, scope models.Scope) ([]string, error) {
	if scope.IsSEU() {
		seu, err := e.store.GetSEU(ctx, scope.SEUID)
		if err != nil {
			return nil, err
		}
		return seu.MachineIDs, nil
	}
	if scope.MachineID == "" {
		return nil, enmserr.New(enmserr.KindBadRequest, "scope requires machine_id or seu_id")
	}
	return []string{scope.MachineID}, nil
}

func defined(name, unit string, v float64) Value {
	return Value{Name: name, Value: &v, Unit: unit}
}

func undefined(name, unit, reason string) Value {
	return Value{Name: name, Unit: unit, Reason: reason}
}
