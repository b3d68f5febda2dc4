package guard

import (
	"math"
	"time"

	"admission-guard/internal/config"
	"admission-guard/internal/geo"
)

// WindowLimits parameterizes the two sliding-window checks.
type WindowLimits struct {
	BurstLimit      int
	BurstWindow     time.Duration
	SustainedLimit  int
	SustainedWindow time.Duration
}

// PriorityMultiplier maps a geo priority to the limit multiplier from the
// configured table. Unknown or absent priorities get 1.0.
func PriorityMultiplier(priority geo.Priority, table config.PriorityMultipliers) float64 {
	switch priority {
	case geo.PriorityHigh:
		return table.High
	case geo.PriorityMedium:
		return table.Medium
	case geo.PriorityLow:
		return table.Low
	default:
		return 1.0
	}
}

// EffectiveLimit scales a configured limit by the geo multiplier, truncating
// to an integer. The ceiling is the limit scaled by the largest configured
// multiplier; a runaway multiplier can never exceed it.
func EffectiveLimit(limit int, multiplier float64, table config.PriorityMultipliers) int {
	if multiplier < 1.0 {
		multiplier = 1.0
	}
	ceiling := math.Max(table.High, math.Max(table.Medium, table.Low))
	if ceiling < 1.0 {
		ceiling = 1.0
	}
	if multiplier > ceiling {
		multiplier = ceiling
	}
	return int(math.Floor(float64(limit) * multiplier))
}

// CountInWindow counts timestamps within [now-window, now]. Pure function,
// no hidden state.
func CountInWindow(requests []time.Time, now time.Time, window time.Duration) int {
	cutoff := now.Add(-window)
	count := 0
	for i := len(requests) - 1; i >= 0; i-- {
		if requests[i].Before(cutoff) {
			// Timestamps are appended in order; everything earlier is older.
			break
		}
		if !requests[i].After(now) {
			count++
		}
	}
	return count
}

// CheckBurst reports a violation when the burst window already holds the
// effective limit, meaning the current request would exceed it.
func CheckBurst(requests []time.Time, now time.Time, limits WindowLimits, multiplier float64, table config.PriorityMultipliers) bool {
	effective := EffectiveLimit(limits.BurstLimit, multiplier, table)
	return CountInWindow(requests, now, limits.BurstWindow) >= effective
}

// CheckSustained is the long-horizon counterpart of CheckBurst.
func CheckSustained(requests []time.Time, now time.Time, limits WindowLimits, multiplier float64, table config.PriorityMultipliers) bool {
	effective := EffectiveLimit(limits.SustainedLimit, multiplier, table)
	return CountInWindow(requests, now, limits.SustainedWindow) >= effective
}
