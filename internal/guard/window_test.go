package guard

import (
	"testing"
	"time"

	"admission-guard/internal/config"
	"admission-guard/internal/geo"
)

var testMultipliers = config.PriorityMultipliers{High: 2.0, Medium: 1.5, Low: 1.0}

func testLimits() WindowLimits {
	return WindowLimits{
		BurstLimit:      20,
		BurstWindow:     10 * time.Second,
		SustainedLimit:  300,
		SustainedWindow: 5 * time.Minute,
	}
}

func TestPriorityMultiplier(t *testing.T) {
	tests := []struct {
		name     string
		priority geo.Priority
		want     float64
	}{
		{"high priority", geo.PriorityHigh, 2.0},
		{"medium priority", geo.PriorityMedium, 1.5},
		{"low priority", geo.PriorityLow, 1.0},
		{"no priority", geo.PriorityNone, 1.0},
		{"unknown priority", geo.Priority("weird"), 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PriorityMultiplier(tt.priority, testMultipliers); got != tt.want {
				t.Errorf("PriorityMultiplier() = %g, want %g", got, tt.want)
			}
		})
	}
}

func TestEffectiveLimit(t *testing.T) {
	tests := []struct {
		name       string
		limit      int
		multiplier float64
		want       int
	}{
		{"unity multiplier", 20, 1.0, 20},
		{"high multiplier", 20, 2.0, 40},
		{"fractional multiplier truncates", 20, 1.5, 30},
		{"fractional truncation", 25, 1.5, 37},
		{"sub-unity clamps to configured limit", 20, 0.5, 20},
		{"runaway multiplier clamps to table ceiling", 20, 100.0, 40},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EffectiveLimit(tt.limit, tt.multiplier, testMultipliers); got != tt.want {
				t.Errorf("EffectiveLimit(%d, %g) = %d, want %d", tt.limit, tt.multiplier, got, tt.want)
			}
		})
	}
}

func TestCountInWindow(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	requests := []time.Time{
		now.Add(-20 * time.Second),
		now.Add(-9 * time.Second),
		now.Add(-5 * time.Second),
		now.Add(-1 * time.Second),
	}

	if got := CountInWindow(requests, now, 10*time.Second); got != 3 {
		t.Errorf("CountInWindow(10s) = %d, want 3", got)
	}
	if got := CountInWindow(requests, now, time.Minute); got != 4 {
		t.Errorf("CountInWindow(1m) = %d, want 4", got)
	}
	if got := CountInWindow(nil, now, time.Minute); got != 0 {
		t.Errorf("CountInWindow(empty) = %d, want 0", got)
	}
}

func TestCountInWindow_BoundaryInclusive(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// A timestamp exactly at the window edge still counts.
	requests := []time.Time{now.Add(-10 * time.Second)}
	if got := CountInWindow(requests, now, 10*time.Second); got != 1 {
		t.Errorf("edge timestamp not counted, got %d", got)
	}
}

func TestCheckBurst(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	limits := testLimits()

	under := make([]time.Time, 19)
	for i := range under {
		under[i] = now.Add(-time.Duration(i) * 100 * time.Millisecond)
	}
	if CheckBurst(under, now, limits, 1.0, testMultipliers) {
		t.Error("19 requests in window must not trip a burst limit of 20")
	}

	at := append(under, now.Add(-5*time.Second))
	if !CheckBurst(at, now, limits, 1.0, testMultipliers) {
		t.Error("20 requests in window must trip a burst limit of 20: the 21st is denied")
	}

	// A high-priority client gets double the budget.
	if CheckBurst(at, now, limits, 2.0, testMultipliers) {
		t.Error("20 requests must pass with a 2.0 multiplier (effective limit 40)")
	}
}

func TestCheckSustained(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	limits := testLimits()

	// Spread 300 requests over 5 minutes, slowly enough to stay under the
	// burst limit; the sustained window still fills up.
	requests := make([]time.Time, 300)
	for i := range requests {
		requests[i] = now.Add(-time.Duration(299-i) * time.Second)
	}

	if !CheckSustained(requests, now, limits, 1.0, testMultipliers) {
		t.Error("300 requests in the sustained window must trip a limit of 300")
	}
	if CheckSustained(requests[:299], now, limits, 1.0, testMultipliers) {
		t.Error("299 requests must not trip a limit of 300")
	}
}
