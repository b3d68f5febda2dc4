package state

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"
)

func TestClientRecord_Observe(t *testing.T) {
	start := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	rec := NewClientRecord("198.51.100.10", start)

	rec.Observe("Mozilla/5.0", "/", "US", start)
	rec.Observe("Mozilla/5.0", "/products", "US", start.Add(time.Minute))
	rec.Observe("curl/8.0", "/products", "CA", start.Add(2*time.Minute))

	if rec.TotalRequests != 3 {
		t.Errorf("TotalRequests = %d, want 3", rec.TotalRequests)
	}
	if rec.UserAgents["Mozilla/5.0"] != 2 || rec.UserAgents["curl/8.0"] != 1 {
		t.Errorf("user-agent histogram = %v", rec.UserAgents)
	}
	if rec.Pages["/products"] != 2 {
		t.Errorf("page histogram = %v", rec.Pages)
	}
	if rec.Countries["US"] != 2 || rec.Countries["CA"] != 1 {
		t.Errorf("country histogram = %v", rec.Countries)
	}
	if !reflect.DeepEqual(rec.RecentCountries, []string{"US", "US", "CA"}) {
		t.Errorf("recent countries = %v", rec.RecentCountries)
	}
	if !rec.LastSeen.Equal(start.Add(2 * time.Minute)) {
		t.Errorf("LastSeen = %v", rec.LastSeen)
	}
}

func TestClientRecord_RecentCountriesBounded(t *testing.T) {
	start := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	rec := NewClientRecord("198.51.100.10", start)

	countries := []string{"US", "CA", "DE", "FR"}
	for i := 0; i < 25; i++ {
		rec.Observe("ua", "/", countries[i%len(countries)], start.Add(time.Duration(i)*time.Second))
	}

	if len(rec.RecentCountries) != RecentCountryDepth {
		t.Errorf("recent countries length = %d, want %d", len(rec.RecentCountries), RecentCountryDepth)
	}
	// The ring holds the most recent observations.
	last := rec.RecentCountries[len(rec.RecentCountries)-1]
	if last != countries[24%len(countries)] {
		t.Errorf("last recent country = %s", last)
	}
}

func TestClientRecord_EmptyCountryNotRecorded(t *testing.T) {
	start := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	rec := NewClientRecord("198.51.100.10", start)

	rec.Observe("ua", "/", "", start)

	if len(rec.Countries) != 0 || len(rec.RecentCountries) != 0 {
		t.Errorf("empty country recorded: %v %v", rec.Countries, rec.RecentCountries)
	}
	if rec.TotalRequests != 1 {
		t.Errorf("request not counted without a country")
	}
}

func TestClientRecord_SessionCounting(t *testing.T) {
	start := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	rec := NewClientRecord("198.51.100.10", start)

	rec.Observe("ua", "/", "US", start)
	if rec.SessionCount != 1 {
		t.Fatalf("first request SessionCount = %d, want 1", rec.SessionCount)
	}

	// Activity within the gap stays in the session.
	rec.Observe("ua", "/a", "US", start.Add(10*time.Minute))
	rec.Observe("ua", "/b", "US", start.Add(40*time.Minute))
	if rec.SessionCount != 1 {
		t.Errorf("continuous activity SessionCount = %d, want 1", rec.SessionCount)
	}

	// A gap beyond 30 minutes opens a new session.
	rec.Observe("ua", "/c", "US", start.Add(40*time.Minute).Add(SessionGap).Add(time.Second))
	if rec.SessionCount != 2 {
		t.Errorf("post-gap SessionCount = %d, want 2", rec.SessionCount)
	}

	// Exactly at the gap boundary does not.
	rec2 := NewClientRecord("198.51.100.11", start)
	rec2.Observe("ua", "/", "US", start)
	rec2.Observe("ua", "/", "US", start.Add(SessionGap))
	if rec2.SessionCount != 1 {
		t.Errorf("boundary gap SessionCount = %d, want 1", rec2.SessionCount)
	}
}

func TestClientRecord_Prune(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rec := NewClientRecord("198.51.100.10", now.Add(-2*time.Hour))

	for i := 0; i < 10; i++ {
		rec.Observe("ua", "/", "US", now.Add(-time.Duration(10-i)*10*time.Minute))
	}

	rec.Prune(now, 30*time.Minute)

	// Timestamps at -30m, -20m and -10m survive; the cutoff itself is kept.
	if len(rec.Requests) != 3 {
		t.Errorf("retained %d timestamps, want 3", len(rec.Requests))
	}
	// Counters and scores survive pruning untouched.
	if rec.TotalRequests != 10 {
		t.Errorf("TotalRequests changed to %d", rec.TotalRequests)
	}
	if rec.Countries["US"] != 10 {
		t.Errorf("country histogram changed: %v", rec.Countries)
	}
}

func TestClientRecord_CountSince(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rec := NewClientRecord("198.51.100.10", now.Add(-time.Hour))

	for _, back := range []time.Duration{50 * time.Minute, 9 * time.Minute, 5 * time.Minute, 0} {
		rec.Observe("ua", "/", "US", now.Add(-back))
	}

	if got := rec.CountSince(now, 10*time.Minute); got != 3 {
		t.Errorf("CountSince(10m) = %d, want 3", got)
	}
	if got := rec.CountSince(now, time.Hour); got != 4 {
		t.Errorf("CountSince(1h) = %d, want 4", got)
	}
	if got := rec.CountSince(now, time.Second); got != 1 {
		t.Errorf("CountSince(1s) = %d, want 1", got)
	}
}

func TestBlockEntry_Expired(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	entry := &BlockEntry{BlockedUntil: now}

	if entry.Expired(now.Add(-time.Second)) {
		t.Error("block expired before BlockedUntil")
	}
	if !entry.Expired(now) {
		t.Error("block not expired exactly at BlockedUntil")
	}
	if !entry.Expired(now.Add(time.Second)) {
		t.Error("block not expired after BlockedUntil")
	}
}

func TestClientRecord_JSONRoundTrip(t *testing.T) {
	start := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	rec := NewClientRecord("198.51.100.10", start)
	for i := 0; i < 12; i++ {
		rec.Observe("Mozilla/5.0", "/p", "US", start.Add(time.Duration(i)*time.Hour))
	}
	rec.HumanScore = 8.5
	rec.GeoConsistency = 10

	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var got ClientRecord
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	if got.TotalRequests != rec.TotalRequests ||
		got.SessionCount != rec.SessionCount ||
		got.HumanScore != rec.HumanScore ||
		got.GeoConsistency != rec.GeoConsistency {
		t.Errorf("scalar fields lost in round trip: %+v", got)
	}
	if !reflect.DeepEqual(got.Countries, rec.Countries) {
		t.Errorf("country histogram lost: %v", got.Countries)
	}
	if len(got.Requests) != len(rec.Requests) {
		t.Errorf("timestamps lost: %d vs %d", len(got.Requests), len(rec.Requests))
	}
}
