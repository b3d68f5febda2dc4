package guard

import (
	"net"
	"time"

	"admission-guard/internal/config"
	"admission-guard/internal/state"
)

// geoConsistencyFloor is the minimum geo consistency a client needs when
// geo verification is part of the promotion criteria.
const geoConsistencyFloor = 7.0

// Promoter grants the permanent whitelist bypass once a client's
// accumulated reputation clears every configured threshold. Promotion is
// one-way; only an operator can remove an entry.
type Promoter struct {
	criteria config.WhitelistCriteria
}

func NewPromoter(criteria config.WhitelistCriteria) *Promoter {
	return &Promoter{criteria: criteria}
}

// Evaluate inspects an accepted client's record and returns a whitelist
// entry when all criteria hold. Loopback and private addresses are never
// promoted: local traffic must not earn implicit trust.
func (p *Promoter) Evaluate(rec *state.ClientRecord, now time.Time) (*state.WhitelistEntry, bool) {
	if isPrivateClient(rec.ClientID) {
		return nil, false
	}

	sessions := rec.SessionCount
	if sessions < p.criteria.MinSessions {
		return nil, false
	}
	if len(rec.Pages) < p.criteria.MinDistinctPages {
		return nil, false
	}
	if rec.HumanScore < p.criteria.MinHumanScore {
		return nil, false
	}
	if rec.LastSeen.Sub(rec.FirstSeen) < p.criteria.MinTimeSpan {
		return nil, false
	}
	if p.criteria.GeoVerification && rec.GeoConsistency < geoConsistencyFloor {
		return nil, false
	}

	return &state.WhitelistEntry{
		ClientID:       rec.ClientID,
		AddedAt:        now,
		Reason:         "behavioral promotion",
		Sessions:       sessions,
		DistinctPages:  len(rec.Pages),
		HumanScore:     rec.HumanScore,
		GeoConsistency: rec.GeoConsistency,
		Country:        dominantCountry(rec.Countries),
	}, true
}

func isPrivateClient(clientID string) bool {
	ip := net.ParseIP(clientID)
	if ip == nil {
		// Not an IP-shaped identifier; refuse implicit trust.
		return true
	}
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified()
}

func dominantCountry(countries map[string]int) string {
	best := ""
	max := 0
	for country, count := range countries {
		if count > max {
			best = country
			max = count
		}
	}
	return best
}
