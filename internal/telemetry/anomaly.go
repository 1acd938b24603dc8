package telemetry

import (
	"math"

	"telemetry-dashboard/internal/models"

	"github.com/montanaflynn/stats"
)

// DefaultThresholds returns the operating limits the dashboard ships with
func DefaultThresholds() models.Thresholds {
	return models.Thresholds{
		EngineTempMax: 205,
		RPMMax:        3200,
		FuelMPGMin:    24,
	}
}

// rule checks one reading; it reports the observed value and whether the limit was crossed
type rule struct {
	reason models.AnomalyReason
	limit  float64
	check  func(r models.Reading, limit float64) (float64, bool)
}

// DetectAnomalies scans every reading against the enabled thresholds.
// Flags follow dataset order; flags for one reading follow rule order.
func DetectAnomalies(data models.Dataset, th models.Thresholds) []models.AnomalyFlag {
	rules := buildRules(data, th)

	flags := make([]models.AnomalyFlag, 0)
	if len(rules) == 0 {
		return flags
	}

	for i, r := range data {
		for _, ru := range rules {
			value, hit := ru.check(r, ru.limit)
			if !hit {
				continue
			}
			flags = append(flags, models.AnomalyFlag{
				Index:     i,
				Reading:   r,
				Reason:    ru.reason,
				Value:     value,
				Threshold: ru.limit,
			})
		}
	}
	return flags
}

// CountByReason tallies flags per reason
func CountByReason(flags []models.AnomalyFlag) map[models.AnomalyReason]int {
	counts := make(map[models.AnomalyReason]int)
	for _, f := range flags {
		counts[f.Reason]++
	}
	return counts
}

func buildRules(data models.Dataset, th models.Thresholds) []rule {
	var rules []rule

	if th.EngineTempMax > 0 {
		rules = append(rules, rule{
			reason: models.ReasonEngineTempHigh,
			limit:  th.EngineTempMax,
			check: func(r models.Reading, limit float64) (float64, bool) {
				return r.EngineTempF, r.EngineTempF > limit
			},
		})
	}

	if th.EngineTempZScore > 0 {
		temps := column(data, engineTemp)
		mu, errMean := stats.Mean(temps)
		sigma, errStd := stats.StandardDeviationPopulation(temps)
		// A flat or empty series has no outliers.
		if errMean == nil && errStd == nil && sigma > 0 {
			rules = append(rules, rule{
				reason: models.ReasonEngineTempOutlier,
				limit:  th.EngineTempZScore,
				check: func(r models.Reading, limit float64) (float64, bool) {
					z := math.Abs(r.EngineTempF-mu) / sigma
					return z, z > limit
				},
			})
		}
	}

	if th.RPMMax > 0 {
		rules = append(rules, rule{
			reason: models.ReasonRPMOutOfRange,
			limit:  th.RPMMax,
			check: func(r models.Reading, limit float64) (float64, bool) {
				return float64(r.RPM), float64(r.RPM) > limit
			},
		})
	}

	if th.SpeedMax > 0 {
		rules = append(rules, rule{
			reason: models.ReasonSpeedHigh,
			limit:  th.SpeedMax,
			check: func(r models.Reading, limit float64) (float64, bool) {
				return r.SpeedMPH, r.SpeedMPH > limit
			},
		})
	}

	if th.FuelMPGMin > 0 {
		rules = append(rules, rule{
			reason: models.ReasonFuelEfficiencyLow,
			limit:  th.FuelMPGMin,
			check: func(r models.Reading, limit float64) (float64, bool) {
				return r.FuelMPG, r.FuelMPG < limit
			},
		})
	}

	return rules
}
