package guard

import (
	"admission-guard/internal/state"
)

// GeoConsistency is the dominance ratio of the most frequent country,
// scaled to [0,10]. It depends only on accumulated counts, never on
// observation order.
func GeoConsistency(countries map[string]int, totalRequests int64) float64 {
	if totalRequests == 0 || len(countries) == 0 {
		return 0
	}

	max := 0
	for _, count := range countries {
		if count > max {
			max = count
		}
	}

	score := float64(max) / float64(totalRequests) * 10
	return clamp(score, 0, 10)
}

// HumanScore estimates behavioral humanness from the accumulated record.
// It is a monotone function of the counters, so a fixed history always
// replays to the same score.
func HumanScore(rec *state.ClientRecord) float64 {
	score := 5.0

	// Diversity of user agents, capped at +2.0.
	if n := len(rec.UserAgents); n > 1 {
		score += clamp(float64(n-1)*0.5, 0, 2.0)
	}

	// Diversity of visited pages, capped at +2.0.
	if n := len(rec.Pages); n > 1 {
		score += clamp(float64(n-1)*0.25, 0, 2.0)
	}

	// Sustained activity span, full bonus at 24 hours.
	span := rec.LastSeen.Sub(rec.FirstSeen)
	if span > 0 {
		score += clamp(span.Hours()/24*2.0, 0, 2.0)
	}

	geoConsistency := GeoConsistency(rec.Countries, rec.TotalRequests)
	if geoConsistency > 7.0 {
		score += 1.0
	}

	// Humans revisit pages, but not obsessively.
	if len(rec.Pages) > 0 {
		revisit := float64(rec.TotalRequests) / float64(len(rec.Pages))
		if revisit <= 3.0 {
			score += 1.0
		}
	}

	// A single user-agent carrying nearly every request reads as tooling.
	if rec.TotalRequests > 0 {
		maxUA := 0
		for _, count := range rec.UserAgents {
			if count > maxUA {
				maxUA = count
			}
		}
		if float64(maxUA) > float64(rec.TotalRequests)*0.95 {
			score -= 2.0
		}
	}

	// Scattered geography with no dominant country.
	if geoConsistency < 3.0 && len(rec.Countries) > 3 {
		score -= 2.0
	}

	return clamp(score, 0, 10)
}

// Rescore recomputes both derived scores in place. Called only after an
// accepted request, never on a denial path.
func Rescore(rec *state.ClientRecord) {
	rec.GeoConsistency = GeoConsistency(rec.Countries, rec.TotalRequests)
	rec.HumanScore = HumanScore(rec)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
