// Package geo defines the external geo-authorization collaborator. The
// guard engine consumes its decision per request and never caches it: a
// shifting country for the same identifier is itself a bot signal.
package geo

import (
	"context"
	"strings"
	"time"

	"admission-guard/internal/config"
	"admission-guard/internal/logging"
)

// Priority ranks how generously a client's geography should be treated by
// the window limiter.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
	PriorityNone   Priority = ""
)

// Decision is the transient per-request geo verdict. It must never be
// persisted or reused across requests.
type Decision struct {
	Allowed  bool     `json:"allowed"`
	Reason   string   `json:"reason,omitempty"`
	Country  string   `json:"country,omitempty"`
	Priority Priority `json:"priority,omitempty"`
}

// Adapter is the geo collaborator contract. Authorize must not mutate any
// client state.
type Adapter interface {
	Authorize(ctx context.Context, clientID string) (Decision, error)
}

// CountryResolver maps a client identifier to an ISO country code. Real
// deployments back this with a geo-IP database or service; tests use a
// fixed table.
type CountryResolver interface {
	LookupCountry(ctx context.Context, clientID string) (string, error)
}

// Disabled always authorizes and carries no country information.
type Disabled struct{}

func (Disabled) Authorize(ctx context.Context, clientID string) (Decision, error) {
	return Decision{Allowed: true}, nil
}

// PolicyAdapter applies configured country rules (blocked list, priority
// table) on top of a CountryResolver.
type PolicyAdapter struct {
	resolver   CountryResolver
	blocked    map[string]bool
	priorities map[string]Priority
	fallback   string
}

var _ Adapter = (*PolicyAdapter)(nil)

func NewPolicyAdapter(resolver CountryResolver, cfg *config.GeoConfig) *PolicyAdapter {
	blocked := make(map[string]bool, len(cfg.BlockedCountries))
	for _, c := range cfg.BlockedCountries {
		blocked[strings.ToUpper(c)] = true
	}

	priorities := make(map[string]Priority, len(cfg.CountryPriorities))
	for country, priority := range cfg.CountryPriorities {
		priorities[strings.ToUpper(country)] = Priority(priority)
	}

	return &PolicyAdapter{
		resolver:   resolver,
		blocked:    blocked,
		priorities: priorities,
		fallback:   strings.ToUpper(cfg.DefaultCountry),
	}
}

func (a *PolicyAdapter) Authorize(ctx context.Context, clientID string) (Decision, error) {
	country, err := a.resolver.LookupCountry(ctx, clientID)
	if err != nil {
		return Decision{}, err
	}

	country = strings.ToUpper(country)
	if country == "" {
		country = a.fallback
	}

	if a.blocked[country] {
		return Decision{
			Allowed: false,
			Reason:  "country " + country + " is not permitted",
			Country: country,
		}, nil
	}

	return Decision{
		Allowed:  true,
		Country:  country,
		Priority: a.priorities[country],
	}, nil
}

// StaticResolver returns the same country for every identifier. Useful for
// tests and single-region deployments.
type StaticResolver struct {
	Country string
}

func (r StaticResolver) LookupCountry(ctx context.Context, clientID string) (string, error) {
	return r.Country, nil
}

// FailOpenAdapter bounds the collaborator call with a timeout and converts
// any failure into an allow. Availability wins over geo enforcement.
type FailOpenAdapter struct {
	inner   Adapter
	timeout time.Duration
	logger  *logging.Logger
}

var _ Adapter = (*FailOpenAdapter)(nil)

func FailOpen(inner Adapter, timeout time.Duration, logger *logging.Logger) *FailOpenAdapter {
	return &FailOpenAdapter{
		inner:   inner,
		timeout: timeout,
		logger:  logger,
	}
}

func (a *FailOpenAdapter) Authorize(ctx context.Context, clientID string) (Decision, error) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	type result struct {
		decision Decision
		err      error
	}

	ch := make(chan result, 1)
	go func() {
		decision, err := a.inner.Authorize(ctx, clientID)
		ch <- result{decision, err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			a.logger.WarnContext(ctx, "Geo adapter failed, admitting without geo enforcement",
				"client_id", clientID,
				"error", res.err.Error(),
			)
			return Decision{Allowed: true, Reason: "geo adapter unavailable"}, nil
		}
		return res.decision, nil
	case <-ctx.Done():
		a.logger.WarnContext(ctx, "Geo adapter timed out, admitting without geo enforcement",
			"client_id", clientID,
		)
		return Decision{Allowed: true, Reason: "geo adapter timeout"}, nil
	}
}
