// Package telemetry implements the dashboard's processing core: filtering,
// time-bucketed aggregation, summary statistics and anomaly detection over
// an in-memory dataset. Every function is pure; inputs are never mutated.
package telemetry

import (
	"errors"
	"fmt"

	"telemetry-dashboard/internal/models"
)

// ErrInvalidRange is returned when a filter's start is after its end
var ErrInvalidRange = errors.New("invalid range")

// Validate checks that the criteria describe a usable time range
func Validate(c models.FilterCriteria) error {
	if !c.Start.IsZero() && !c.End.IsZero() && c.Start.After(c.End) {
		return fmt.Errorf("%w: start %s is after end %s", ErrInvalidRange,
			c.Start.Format("2006-01-02T15:04:05Z07:00"), c.End.Format("2006-01-02T15:04:05Z07:00"))
	}
	return nil
}

// Filter returns the readings matching the criteria in dataset order
func Filter(data models.Dataset, c models.FilterCriteria) (models.Dataset, error) {
	if err := Validate(c); err != nil {
		return nil, err
	}

	vehicles := toSet(c.VehicleIDs)
	locations := toSet(c.Locations)

	out := make(models.Dataset, 0, len(data))
	for _, r := range data {
		if vehicles != nil && !vehicles[r.VehicleID] {
			continue
		}
		if locations != nil && !locations[r.Location] {
			continue
		}
		if !c.Start.IsZero() && r.Timestamp.Before(c.Start) {
			continue
		}
		if !c.End.IsZero() && r.Timestamp.After(c.End) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// toSet returns nil for an empty selection, meaning "all"
func toSet(values []string) map[string]bool {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}
