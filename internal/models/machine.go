package models

import "time"

// Factory is a plant site. Created externally; read-only to this service.
type Factory struct {
	ID       string `json:"id" db:"id"`
	Name     string `json:"name" db:"name"`
	Location string `json:"location" db:"location"`
}

// Machine is a metered asset. Name is unique within a factory. Read-only to
// this service; mutation happens in the asset-management front-end.
type Machine struct {
	ID                  string    `json:"id" db:"id"`
	FactoryID           string    `json:"factory_id" db:"factory_id"`
	Name                string    `json:"name" db:"name"`
	Type                string    `json:"type" db:"type"` // compressor, hvac, motor, pump, injection_molding, boiler, ...
	RatedPowerKW        float64   `json:"rated_power_kw" db:"rated_power_kw"`
	DataIntervalSeconds int       `json:"data_interval_seconds" db:"data_interval_seconds"`
	MQTTTopic           string    `json:"mqtt_topic" db:"mqtt_topic"`
	Active              bool      `json:"active" db:"active"`
	CreatedAt           time.Time `json:"created_at" db:"created_at"`
}

// EnergySource declares a metered energy carrier and its cost/carbon factors.
type EnergySource struct {
	ID                  string   `json:"id" db:"id"`
	Key                 string   `json:"key" db:"key"` // electricity, natural_gas, steam, compressed_air, ...
	Unit                string   `json:"unit" db:"unit"`
	CostPerUnit         *float64 `json:"cost_per_unit,omitempty" db:"cost_per_unit"`
	CarbonFactorPerUnit *float64 `json:"carbon_factor_per_unit,omitempty" db:"carbon_factor_per_unit"`
	Active              bool     `json:"active" db:"active"`
}

// EnergySourceFeature declares a feature admissible for an energy source and
// how to compute it from the base tables.
type EnergySourceFeature struct {
	ID           string `json:"id" db:"id"`
	SourceID     string `json:"source_id" db:"source_id"`
	FeatureKey   string `json:"feature_key" db:"feature_key"`
	SourceTable  string `json:"source_table" db:"source_table"`
	SourceColumn string `json:"source_column" db:"source_column"`
	Aggregation  string `json:"aggregation" db:"aggregation"` // SUM, AVG, MIN, MAX, count, derived
	DataType     string `json:"data_type" db:"data_type"`
	Description  string `json:"description" db:"description"`
}

// SEU (Significant Energy Use) groups machines under one energy source for
// baselining and KPIs, per ISO 50001.
type SEU struct {
	ID             string   `json:"id" db:"id"`
	Name           string   `json:"name" db:"name"`
	EnergySourceID string   `json:"energy_source_id" db:"energy_source_id"`
	MachineIDs     []string `json:"machine_ids" db:"-"`
}

// Scope identifies the subject of a training, prediction, or KPI request:
// either a single machine or an SEU, always together with an energy source.
type Scope struct {
	MachineID    string `json:"machine_id,omitempty"`
	SEUID        string `json:"seu_id,omitempty"`
	EnergySource string `json:"energy_source"`
}

// IsSEU reports whether the scope targets an SEU rather than a machine.
func (s Scope) IsSEU() bool { return s.SEUID != "" }

// Key returns a stable identifier usable for mutual exclusion and blob names.
func (s Scope) Key() string {
	if s.IsSEU() {
		return "seu:" + s.SEUID + ":" + s.EnergySource
	}
	return "machine:" + s.MachineID + ":" + s.EnergySource
}
