package state

import (
	"errors"
	"time"
)

// ErrNotFound is returned when no entry exists for a client identifier.
var ErrNotFound = errors.New("state: not found")

// ViolationType classifies why a client was denied admission.
type ViolationType string

const (
	ViolationBurstLimit  ViolationType = "burst_limit"
	ViolationWindowLimit ViolationType = "window_limit"
	ViolationBotDetected ViolationType = "bot_detected"
	ViolationGeo         ViolationType = "geo_violation"
)

// RecentCountryDepth bounds the recent-country ring buffer. The last ten
// observations are enough to catch VPN hopping without growing the record.
const RecentCountryDepth = 10

// SessionGap is the inactivity interval that closes a session. The counter
// is maintained on the record itself so it survives timestamp pruning.
const SessionGap = 30 * time.Minute

// ClientRecord is the accumulated behavioral history for one client
// identifier (normalized IP). The whole record is serialized and written
// atomically, so a crash cannot split the history from the scores.
type ClientRecord struct {
	ClientID        string         `json:"client_id"`
	Requests        []time.Time    `json:"requests"`
	UserAgents      map[string]int `json:"user_agents"`
	Pages           map[string]int `json:"pages"`
	Countries       map[string]int `json:"countries"`
	RecentCountries []string       `json:"recent_countries"`
	FirstSeen       time.Time      `json:"first_seen"`
	LastSeen        time.Time      `json:"last_seen"`
	TotalRequests   int64          `json:"total_requests"`
	SessionCount    int            `json:"session_count"`
	HumanScore      float64        `json:"human_score"`
	GeoConsistency  float64        `json:"geo_consistency"`
}

// NewClientRecord creates an empty record for a first-seen client.
func NewClientRecord(clientID string, now time.Time) *ClientRecord {
	return &ClientRecord{
		ClientID:   clientID,
		Requests:   []time.Time{},
		UserAgents: make(map[string]int),
		Pages:      make(map[string]int),
		Countries:  make(map[string]int),
		FirstSeen:  now,
		LastSeen:   now,
	}
}

// Observe appends one accepted request to the history.
func (r *ClientRecord) Observe(userAgent, path, country string, now time.Time) {
	r.Requests = append(r.Requests, now)
	if r.UserAgents == nil {
		r.UserAgents = make(map[string]int)
	}
	if r.Pages == nil {
		r.Pages = make(map[string]int)
	}
	if r.Countries == nil {
		r.Countries = make(map[string]int)
	}
	r.UserAgents[userAgent]++
	r.Pages[path]++
	if country != "" {
		r.Countries[country]++
		r.RecentCountries = append(r.RecentCountries, country)
		if len(r.RecentCountries) > RecentCountryDepth {
			r.RecentCountries = r.RecentCountries[len(r.RecentCountries)-RecentCountryDepth:]
		}
	}
	if r.FirstSeen.IsZero() {
		r.FirstSeen = now
	}
	if r.TotalRequests == 0 {
		r.SessionCount = 1
	} else if now.Sub(r.LastSeen) > SessionGap {
		r.SessionCount++
	}
	r.LastSeen = now
	r.TotalRequests++
}

// Prune drops request timestamps older than maxAge relative to now.
func (r *ClientRecord) Prune(now time.Time, maxAge time.Duration) {
	cutoff := now.Add(-maxAge)
	i := 0
	for i < len(r.Requests) && r.Requests[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		r.Requests = append([]time.Time{}, r.Requests[i:]...)
	}
}

// CountSince counts requests within [now-window, now].
func (r *ClientRecord) CountSince(now time.Time, window time.Duration) int {
	cutoff := now.Add(-window)
	count := 0
	for i := len(r.Requests) - 1; i >= 0; i-- {
		if r.Requests[i].Before(cutoff) {
			break
		}
		count++
	}
	return count
}

// BlockEntry is an active penalty against a client. Expired entries are
// removed lazily, on the first read past BlockedUntil.
type BlockEntry struct {
	ClientID     string        `json:"client_id"`
	Reason       string        `json:"reason"`
	Type         ViolationType `json:"type"`
	BlockedAt    time.Time     `json:"blocked_at"`
	BlockedUntil time.Time     `json:"blocked_until"`
	Multiplier   float64       `json:"multiplier"`
}

// Expired reports whether the block has lapsed at the given instant.
func (b *BlockEntry) Expired(now time.Time) bool {
	return !now.Before(b.BlockedUntil)
}

// WhitelistEntry records a promoted client together with a snapshot of the
// metrics that qualified it. Immutable once created; presence alone grants
// bypass.
type WhitelistEntry struct {
	ClientID       string    `json:"client_id"`
	AddedAt        time.Time `json:"added_at"`
	Reason         string    `json:"reason"`
	Sessions       int       `json:"sessions"`
	DistinctPages  int       `json:"distinct_pages"`
	HumanScore     float64   `json:"human_score"`
	GeoConsistency float64   `json:"geo_consistency"`
	Country        string    `json:"country"`
}
