package telemetry

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"telemetry-dashboard/internal/models"

	"github.com/montanaflynn/stats"
)

// ErrUnknownGranularity is returned for bucket widths other than hourly or daily
var ErrUnknownGranularity = errors.New("unknown granularity")

// ParseGranularity maps user input such as "hourly", "H" or "daily" to a granularity
func ParseGranularity(s string) (models.Granularity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "hourly", "hour", "h":
		return models.Hourly, nil
	case "daily", "day", "d":
		return models.Daily, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownGranularity, s)
	}
}

// BucketStart truncates ts to the start of its UTC hour or day
func BucketStart(ts time.Time, g models.Granularity) (time.Time, error) {
	ts = ts.UTC()
	switch g {
	case models.Hourly:
		return time.Date(ts.Year(), ts.Month(), ts.Day(), ts.Hour(), 0, 0, 0, time.UTC), nil
	case models.Daily:
		return time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC), nil
	default:
		return time.Time{}, fmt.Errorf("%w: %q", ErrUnknownGranularity, g)
	}
}

type bucketKey struct {
	vehicle string
	start   int64
}

// Aggregate groups readings into UTC time buckets and summarises each one.
// Buckets come back in ascending time order; empty buckets are omitted.
func Aggregate(data models.Dataset, g models.Granularity) ([]models.AggregateBucket, error) {
	return aggregate(data, g, false)
}

// AggregatePerVehicle is Aggregate keyed by vehicle as well as time,
// ordered by vehicle id and then bucket start.
func AggregatePerVehicle(data models.Dataset, g models.Granularity) ([]models.AggregateBucket, error) {
	return aggregate(data, g, true)
}

func aggregate(data models.Dataset, g models.Granularity, perVehicle bool) ([]models.AggregateBucket, error) {
	if _, err := BucketStart(time.Time{}, g); err != nil {
		return nil, err
	}

	groups := make(map[bucketKey]models.Dataset)
	var keys []bucketKey
	for _, r := range data {
		start, _ := BucketStart(r.Timestamp, g)
		key := bucketKey{start: start.UnixNano()}
		if perVehicle {
			key.vehicle = r.VehicleID
		}
		if _, ok := groups[key]; !ok {
			keys = append(keys, key)
		}
		groups[key] = append(groups[key], r)
	}

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].vehicle != keys[j].vehicle {
			return keys[i].vehicle < keys[j].vehicle
		}
		return keys[i].start < keys[j].start
	})

	buckets := make([]models.AggregateBucket, 0, len(keys))
	for _, key := range keys {
		rs := groups[key]
		buckets = append(buckets, models.AggregateBucket{
			Start:       time.Unix(0, key.start).UTC(),
			Granularity: g,
			VehicleID:   key.vehicle,
			Count:       len(rs),
			SpeedMPH:    fieldStats(column(rs, speed)),
			FuelMPG:     fieldStats(column(rs, fuel)),
			EngineTempF: fieldStats(column(rs, engineTemp)),
			RPM:         fieldStats(column(rs, rpm)),
			DistanceMi:  fieldStats(column(rs, distance)),
		})
	}
	return buckets, nil
}

// AggregateByVehicle returns one row of statistics per vehicle, ordered by vehicle id
func AggregateByVehicle(data models.Dataset) []models.VehicleAggregate {
	groups := make(map[string]models.Dataset)
	for _, r := range data {
		groups[r.VehicleID] = append(groups[r.VehicleID], r)
	}

	ids := make([]string, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]models.VehicleAggregate, 0, len(ids))
	for _, id := range ids {
		rs := groups[id]
		sp := fieldStats(column(rs, speed))
		dist := fieldStats(column(rs, distance))
		out = append(out, models.VehicleAggregate{
			VehicleID:      id,
			Count:          len(rs),
			SpeedMean:      sp.Mean,
			SpeedMax:       sp.Max,
			SpeedMin:       sp.Min,
			FuelMean:       mean(column(rs, fuel)),
			EngineTempMean: mean(column(rs, engineTemp)),
			RPMMean:        mean(column(rs, rpm)),
			DistanceMax:    dist.Max,
			FirstLocation:  rs[0].Location,
		})
	}
	return out
}

// Summarize computes headline statistics. Speed and fuel averages only
// count moving readings so idle time does not drag them down.
func Summarize(data models.Dataset) models.SummaryStats {
	s := models.SummaryStats{
		TotalRecords:   len(data),
		UniqueVehicles: len(data.VehicleIDs()),
		AvgEngineTemp:  mean(column(data, engineTemp)),
	}

	var active models.Dataset
	maxDistance := make(map[string]float64)
	for _, r := range data {
		if r.SpeedMPH > 0 {
			active = append(active, r)
		}
		if d, ok := maxDistance[r.VehicleID]; !ok || r.DistanceMi > d {
			maxDistance[r.VehicleID] = r.DistanceMi
		}
	}
	s.AvgSpeed = mean(column(active, speed))
	s.AvgFuelConsumption = mean(column(active, fuel))

	ids := make([]string, 0, len(maxDistance))
	for id := range maxDistance {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	distances := make(stats.Float64Data, 0, len(ids))
	for _, id := range ids {
		distances = append(distances, maxDistance[id])
	}
	if total, err := stats.Sum(distances); err == nil {
		s.TotalDistance = total
	}

	return s
}

// EfficiencyScores rates each reading as mpg per mph, scaled by 100.
// Stationary readings score zero.
func EfficiencyScores(data models.Dataset) []models.EfficiencyScore {
	out := make([]models.EfficiencyScore, 0, len(data))
	for _, r := range data {
		score := 0.0
		if r.SpeedMPH > 0 {
			score = r.FuelMPG / r.SpeedMPH * 100
		}
		out = append(out, models.EfficiencyScore{
			VehicleID: r.VehicleID,
			Timestamp: r.Timestamp,
			Score:     score,
		})
	}
	return out
}

func speed(r models.Reading) float64      { return r.SpeedMPH }
func fuel(r models.Reading) float64       { return r.FuelMPG }
func engineTemp(r models.Reading) float64 { return r.EngineTempF }
func rpm(r models.Reading) float64        { return float64(r.RPM) }
func distance(r models.Reading) float64   { return r.DistanceMi }

func column(data models.Dataset, field func(models.Reading) float64) stats.Float64Data {
	col := make(stats.Float64Data, len(data))
	for i, r := range data {
		col[i] = field(r)
	}
	return col
}

// mean returns 0 for empty input
func mean(values stats.Float64Data) float64 {
	m, err := stats.Mean(values)
	if err != nil {
		return 0
	}
	return m
}

func fieldStats(values stats.Float64Data) models.FieldStats {
	var fs models.FieldStats
	if len(values) == 0 {
		return fs
	}
	fs.Mean, _ = stats.Mean(values)
	fs.Min, _ = stats.Min(values)
	fs.Max, _ = stats.Max(values)
	return fs
}
