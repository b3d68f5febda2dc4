package guard

import (
	"math"
	"testing"
	"time"

	"admission-guard/internal/state"
)

func TestGeoConsistency(t *testing.T) {
	tests := []struct {
		name      string
		countries map[string]int
		total     int64
		want      float64
	}{
		{"no history", nil, 0, 0},
		{"single country", map[string]int{"US": 50}, 50, 10},
		{"dominant country", map[string]int{"US": 8, "CA": 2}, 10, 8},
		{"even split", map[string]int{"US": 5, "DE": 5}, 10, 5},
		{"scattered", map[string]int{"US": 1, "DE": 1, "SG": 1, "BR": 1}, 4, 2.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GeoConsistency(tt.countries, tt.total)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("GeoConsistency() = %g, want %g", got, tt.want)
			}
		})
	}
}

func TestHumanScore_NewClientBaseline(t *testing.T) {
	now := time.Now()
	rec := state.NewClientRecord("198.51.100.10", now)
	rec.Observe("Mozilla/5.0", "/", "US", now)

	score := HumanScore(rec)

	// One request, one UA, one page: base 5, +1 geo consistency bonus,
	// +1 revisit ratio bonus, -2 single-UA dominance.
	if score < 0 || score > 10 {
		t.Fatalf("score %g outside [0,10]", score)
	}
	if math.Abs(score-5.0) > 1e-9 {
		t.Errorf("baseline score = %g, want 5.0", score)
	}
}

func TestHumanScore_DiverseBehavior(t *testing.T) {
	start := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	rec := state.NewClientRecord("198.51.100.10", start)

	uas := []string{
		"Mozilla/5.0 Chrome", "Mozilla/5.0 Chrome", "Mozilla/5.0 Safari Mobile",
	}
	pages := []string{
		"/", "/products", "/products/1", "/products/2", "/about",
		"/cart", "/checkout", "/account", "/orders", "/help",
	}

	now := start
	for i := 0; i < 30; i++ {
		now = start.Add(time.Duration(i) * time.Hour)
		rec.Observe(uas[i%len(uas)], pages[i%len(pages)], "US", now)
	}
	Rescore(rec)

	if rec.GeoConsistency != 10 {
		t.Errorf("single-country geo consistency = %g, want 10", rec.GeoConsistency)
	}
	if rec.HumanScore < 8.0 {
		t.Errorf("diverse multi-day behavior scored %g, want >= 8.0", rec.HumanScore)
	}
}

func TestHumanScore_ScriptedBehavior(t *testing.T) {
	start := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	rec := state.NewClientRecord("198.51.100.10", start)

	// One UA, one page, four countries, all within a minute.
	countries := []string{"US", "DE", "SG", "BR"}
	for i := 0; i < 40; i++ {
		rec.Observe("client/1.0", "/api/data", countries[i%4], start.Add(time.Duration(i)*time.Second))
	}
	Rescore(rec)

	if rec.GeoConsistency >= 3.0 {
		t.Errorf("scattered geography consistency = %g, want < 3", rec.GeoConsistency)
	}
	// Base 5, -2 UA dominance, -2 scattered geography.
	if rec.HumanScore > 2.0 {
		t.Errorf("scripted behavior scored %g, want <= 2.0", rec.HumanScore)
	}
}

func TestHumanScore_Deterministic(t *testing.T) {
	start := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

	build := func() *state.ClientRecord {
		rec := state.NewClientRecord("198.51.100.10", start)
		for i := 0; i < 20; i++ {
			rec.Observe("Mozilla/5.0", "/page", "US", start.Add(time.Duration(i)*time.Minute))
		}
		return rec
	}

	a, b := build(), build()
	Rescore(a)
	Rescore(b)
	if a.HumanScore != b.HumanScore || a.GeoConsistency != b.GeoConsistency {
		t.Errorf("identical histories scored differently: (%g,%g) vs (%g,%g)",
			a.HumanScore, a.GeoConsistency, b.HumanScore, b.GeoConsistency)
	}
}

