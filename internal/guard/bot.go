package guard

import (
	"strings"
	"time"

	"admission-guard/internal/config"
	"admission-guard/internal/state"
)

// Severity grades a violation; the penalty ledger derives block durations
// from it.
type Severity string

const (
	SeverityWarning      Severity = "warning"
	SeveritySuspicious   Severity = "suspicious"
	SeverityConfirmedBot Severity = "confirmed_bot"
	SeverityAttack       Severity = "attack"
	SeverityGeoViolation Severity = "geo_violation"
)

// rapidWindow is the fixed horizon for the rapid-fire rule.
const rapidWindow = 10 * time.Second

// maxRecentCountries is how many distinct countries may appear among the
// last recorded requests before the client looks like it is hopping exits.
const maxRecentCountries = 2

// BotVerdict is the outcome of the heuristic inspection.
type BotVerdict struct {
	IsBot    bool
	Reason   string
	Severity Severity
}

// BotDetector is an ordered decision list: the first matching rule decides
// both the denial reason and the severity. No weighted scoring, so every
// verdict is auditable and reproducible.
type BotDetector struct {
	tokens               []string
	extensions           []string
	rapidThreshold       int
	identicalUAThreshold int
}

func NewBotDetector(cfg *config.GuardConfig) *BotDetector {
	tokens := make([]string, 0, len(cfg.AutomatedToolTokens))
	for _, t := range cfg.AutomatedToolTokens {
		tokens = append(tokens, strings.ToLower(t))
	}

	return &BotDetector{
		tokens:               tokens,
		extensions:           append([]string{}, cfg.SuspiciousExtensions...),
		rapidThreshold:       cfg.RapidRequestThreshold,
		identicalUAThreshold: cfg.IdenticalUAThreshold,
	}
}

// Inspect evaluates the ordered rules against the incoming request and the
// client's recorded history. The record is a snapshot; Inspect never
// mutates it.
func (d *BotDetector) Inspect(rec *state.ClientRecord, userAgent, path string, now time.Time) BotVerdict {
	// Rule 1: no user-agent at all.
	if strings.TrimSpace(userAgent) == "" {
		return BotVerdict{IsBot: true, Reason: "empty user-agent", Severity: SeveritySuspicious}
	}

	// Rule 2: known automation tool token.
	lowered := strings.ToLower(userAgent)
	for _, token := range d.tokens {
		if strings.Contains(lowered, token) {
			return BotVerdict{
				IsBot:    true,
				Reason:   "automated tool user-agent: " + token,
				Severity: SeverityConfirmedBot,
			}
		}
	}

	// Rule 3: geographic volatility across the recent request window.
	if distinctCountries(rec.RecentCountries) > maxRecentCountries {
		return BotVerdict{
			IsBot:    true,
			Reason:   "geographic anomaly across recent requests",
			Severity: SeveritySuspicious,
		}
	}

	// Rule 4: one user-agent dominating the lifetime history.
	for _, count := range rec.UserAgents {
		if count > d.identicalUAThreshold {
			return BotVerdict{
				IsBot:    true,
				Reason:   "identical user-agent repeated beyond threshold",
				Severity: SeverityConfirmedBot,
			}
		}
	}

	// Rule 5: probing for files that browsers do not ask for.
	for _, ext := range d.extensions {
		if strings.HasSuffix(path, ext) {
			return BotVerdict{
				IsBot:    true,
				Reason:   "suspicious path extension: " + ext,
				Severity: SeveritySuspicious,
			}
		}
	}

	// Rule 6: rapid-fire cadence.
	if CountInWindow(rec.Requests, now, rapidWindow) > d.rapidThreshold {
		return BotVerdict{
			IsBot:    true,
			Reason:   "rapid request cadence",
			Severity: SeverityAttack,
		}
	}

	return BotVerdict{}
}

func distinctCountries(recent []string) int {
	seen := make(map[string]bool, len(recent))
	for _, c := range recent {
		seen[c] = true
	}
	return len(seen)
}
