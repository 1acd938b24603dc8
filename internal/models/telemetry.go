package models

import "time"

// Status is the operating state reported with a reading
type Status string

const (
	StatusNormal Status = "normal"
	StatusIdle   Status = "idle"
)

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	return s == StatusNormal || s == StatusIdle
}

// Reading represents a single telemetry sample from a vehicle
type Reading struct {
	Timestamp   time.Time `json:"timestamp"`
	VehicleID   string    `json:"vehicle_id"`
	SpeedMPH    float64   `json:"speed_mph"`
	FuelMPG     float64   `json:"fuel_consumption_mpg"`
	EngineTempF float64   `json:"engine_temp_f"`
	RPM         int       `json:"rpm"`
	DistanceMi  float64   `json:"distance_miles"`
	Location    string    `json:"location"`
	Status      Status    `json:"status"`
}

// Columns is the canonical CSV column order
var Columns = []string{
	"timestamp",
	"vehicle_id",
	"speed_mph",
	"fuel_consumption_mpg",
	"engine_temp_f",
	"rpm",
	"distance_miles",
	"location",
	"status",
}

// Dataset is an ordered sequence of readings in source order
type Dataset []Reading

// VehicleIDs returns the distinct vehicle ids in first-seen order
func (d Dataset) VehicleIDs() []string {
	return d.distinct(func(r Reading) string { return r.VehicleID })
}

// Locations returns the distinct locations in first-seen order
func (d Dataset) Locations() []string {
	return d.distinct(func(r Reading) string { return r.Location })
}

func (d Dataset) distinct(key func(Reading) string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range d {
		k := key(r)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}

// TimeSpan returns the earliest and latest timestamps in the dataset
func (d Dataset) TimeSpan() (time.Time, time.Time, bool) {
	if len(d) == 0 {
		return time.Time{}, time.Time{}, false
	}
	first, last := d[0].Timestamp, d[0].Timestamp
	for _, r := range d[1:] {
		if r.Timestamp.Before(first) {
			first = r.Timestamp
		}
		if r.Timestamp.After(last) {
			last = r.Timestamp
		}
	}
	return first, last, true
}

// FilterCriteria selects readings by vehicle, location and time.
// Empty VehicleIDs or Locations select everything; a zero Start or End
// leaves that side of the range open.
type FilterCriteria struct {
	VehicleIDs []string  `json:"vehicle_ids,omitempty"`
	Locations  []string  `json:"locations,omitempty"`
	Start      time.Time `json:"start,omitempty"`
	End        time.Time `json:"end,omitempty"`
}

// Granularity is the width of an aggregation bucket
type Granularity string

const (
	Hourly Granularity = "hourly"
	Daily  Granularity = "daily"
)

// FieldStats holds summary statistics for one numeric field
type FieldStats struct {
	Mean float64 `json:"mean"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
}

// AggregateBucket summarises the readings that fall in one time bucket
type AggregateBucket struct {
	Start       time.Time   `json:"start"`
	Granularity Granularity `json:"granularity"`
	VehicleID   string      `json:"vehicle_id,omitempty"`
	Count       int         `json:"count"`
	SpeedMPH    FieldStats  `json:"speed_mph"`
	FuelMPG     FieldStats  `json:"fuel_consumption_mpg"`
	EngineTempF FieldStats  `json:"engine_temp_f"`
	RPM         FieldStats  `json:"rpm"`
	DistanceMi  FieldStats  `json:"distance_miles"`
}

// VehicleAggregate provides per-vehicle statistics
type VehicleAggregate struct {
	VehicleID      string  `json:"vehicle_id"`
	Count          int     `json:"count"`
	SpeedMean      float64 `json:"speed_mph_mean"`
	SpeedMax       float64 `json:"speed_mph_max"`
	SpeedMin       float64 `json:"speed_mph_min"`
	FuelMean       float64 `json:"fuel_consumption_mpg_mean"`
	EngineTempMean float64 `json:"engine_temp_f_mean"`
	RPMMean        float64 `json:"rpm_mean"`
	DistanceMax    float64 `json:"distance_miles_max"`
	FirstLocation  string  `json:"location_first"`
}

// SummaryStats provides dataset-wide headline numbers
type SummaryStats struct {
	TotalRecords       int     `json:"total_records"`
	UniqueVehicles     int     `json:"unique_vehicles"`
	AvgSpeed           float64 `json:"avg_speed"`
	AvgFuelConsumption float64 `json:"avg_fuel_consumption"`
	AvgEngineTemp      float64 `json:"avg_engine_temp"`
	TotalDistance      float64 `json:"total_distance"`
}

// EfficiencyScore rates fuel economy relative to speed for one reading
type EfficiencyScore struct {
	VehicleID string    `json:"vehicle_id"`
	Timestamp time.Time `json:"timestamp"`
	Score     float64   `json:"efficiency_score"`
}

// AnomalyReason identifies the rule a reading violated
type AnomalyReason string

const (
	ReasonEngineTempHigh    AnomalyReason = "engine_temp_high"
	ReasonEngineTempOutlier AnomalyReason = "engine_temp_outlier"
	ReasonRPMOutOfRange     AnomalyReason = "rpm_out_of_range"
	ReasonSpeedHigh         AnomalyReason = "speed_high"
	ReasonFuelEfficiencyLow AnomalyReason = "fuel_efficiency_low"
)

// AnomalyFlag marks a reading that broke an operating threshold
type AnomalyFlag struct {
	Index     int           `json:"index"`
	Reading   Reading       `json:"reading"`
	Reason    AnomalyReason `json:"reason"`
	Value     float64       `json:"value"`
	Threshold float64       `json:"threshold"`
}

// Thresholds configures anomaly detection. A zero value disables its rule.
type Thresholds struct {
	EngineTempMax    float64 `json:"engine_temp_max" yaml:"engine_temp_max"`
	EngineTempZScore float64 `json:"engine_temp_zscore" yaml:"engine_temp_zscore"`
	RPMMax           float64 `json:"rpm_max" yaml:"rpm_max"`
	SpeedMax         float64 `json:"speed_max" yaml:"speed_max"`
	FuelMPGMin       float64 `json:"fuel_mpg_min" yaml:"fuel_mpg_min"`
}

// RowError describes a source row dropped during load
type RowError struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

// LoadReport summarises a dataset load
type LoadReport struct {
	Source  string     `json:"source"`
	Rows    int        `json:"rows"`
	Loaded  int        `json:"loaded"`
	Dropped []RowError `json:"dropped,omitempty"`
}
