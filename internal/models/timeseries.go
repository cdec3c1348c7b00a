package models

import "time"

// Granularity is a continuous-aggregate resolution. Aggregates are built
// directly from the raw hypertable, never stacked on another aggregate.
type Granularity string

const (
	Granularity1Min  Granularity = "1min"
	Granularity15Min Granularity = "15min"
	Granularity1Hour Granularity = "1hour"
	Granularity1Day  Granularity = "1day"
)

// Granularities lists supported resolutions from finest to coarsest.
var Granularities = []Granularity{Granularity1Min, Granularity15Min, Granularity1Hour, Granularity1Day}

// Duration returns the bucket width.
func (g Granularity) Duration() time.Duration {
	switch g {
	case Granularity1Min:
		return time.Minute
	case Granularity15Min:
		return 15 * time.Minute
	case Granularity1Day:
		return 24 * time.Hour
	default:
		return time.Hour
	}
}

// Valid reports whether g is a supported resolution.
func (g Granularity) Valid() bool {
	for _, known := range Granularities {
		if g == known {
			return true
		}
	}
	return false
}

// EnergyBucket is one row of an energy continuous aggregate.
type EnergyBucket struct {
	Bucket         time.Time `json:"bucket" db:"bucket"`
	MachineID      string    `json:"machine_id" db:"machine_id"`
	AvgPowerKW     float64   `json:"avg_power_kw" db:"avg_power_kw"`
	MinPowerKW     float64   `json:"min_power_kw" db:"min_power_kw"`
	MaxPowerKW     float64   `json:"max_power_kw" db:"max_power_kw"`
	TotalEnergyKWh float64   `json:"total_energy_kwh" db:"total_energy_kwh"`
	LoadFactor     *float64  `json:"load_factor,omitempty" db:"load_factor"`
	SampleCount    int       `json:"sample_count" db:"sample_count"`
}

// ProductionBucket is one row of a production continuous aggregate.
type ProductionBucket struct {
	Bucket         time.Time `json:"bucket" db:"bucket"`
	MachineID      string    `json:"machine_id" db:"machine_id"`
	TotalCount     float64   `json:"total_count" db:"total_count"`
	GoodCount      float64   `json:"good_count" db:"good_count"`
	DefectiveCount float64   `json:"defective_count" db:"defective_count"`
	AvgThroughput  *float64  `json:"avg_throughput,omitempty" db:"avg_throughput"`
	SampleCount    int       `json:"sample_count" db:"sample_count"`
}

// EnvironmentalBucket is one row of an environmental continuous aggregate.
type EnvironmentalBucket struct {
	Bucket             time.Time `json:"bucket" db:"bucket"`
	MachineID          string    `json:"machine_id" db:"machine_id"`
	AvgOutdoorTempC    *float64  `json:"avg_outdoor_temp_c,omitempty" db:"avg_outdoor_temp_c"`
	AvgIndoorTempC     *float64  `json:"avg_indoor_temp_c,omitempty" db:"avg_indoor_temp_c"`
	AvgMachineTempC    *float64  `json:"avg_machine_temp_c,omitempty" db:"avg_machine_temp_c"`
	AvgHumidityPercent *float64  `json:"avg_humidity_percent,omitempty" db:"avg_humidity_percent"`
	AvgPressureBar     *float64  `json:"avg_pressure_bar,omitempty" db:"avg_pressure_bar"`
	SampleCount        int       `json:"sample_count" db:"sample_count"`
}

// LatestReading is the newest raw energy reading for a machine.
type LatestReading struct {
	Time        time.Time `json:"time" db:"time"`
	MachineID   string    `json:"machine_id" db:"machine_id"`
	PowerKW     float64   `json:"power_kw" db:"power_kw"`
	EnergyKWh   float64   `json:"energy_kwh" db:"energy_kwh"`
	Voltage     *float64  `json:"voltage,omitempty" db:"voltage"`
	Current     *float64  `json:"current,omitempty" db:"current"`
	PowerFactor *float64  `json:"power_factor,omitempty" db:"power_factor"`
	EnergyType  string    `json:"energy_type" db:"energy_type"`
}

// FeatureRow is one bucket of the dense feature table produced by the
// aggregator: feature key to value, NaN where the source was null.
type FeatureRow struct {
	Bucket time.Time          `json:"bucket"`
	Values map[string]float64 `json:"values"`
}

// FeatureTable is the aggregator output: rows in ascending bucket order plus
// the feature keys that survived coverage filtering.
type FeatureTable struct {
	Granularity     Granularity  `json:"granularity"`
	Features        []string     `json:"features"`
	DroppedFeatures []string     `json:"dropped_features,omitempty"` // coverage <= 10%
	Rows            []FeatureRow `json:"rows"`
}
