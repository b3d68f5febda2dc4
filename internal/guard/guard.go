// Package guard implements the adaptive admission engine: sliding-window
// rate limits, bot heuristics, penalty escalation and behavioral whitelist
// promotion, all keyed by client identifier.
package guard

import (
	"context"
	"hash/fnv"
	"net"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"admission-guard/internal/config"
	"admission-guard/internal/geo"
	"admission-guard/internal/logging"
	"admission-guard/internal/state"
)

// lockStripes is the size of the per-client mutex table. Striping keeps a
// burst against one identifier serialized without a global lock.
const lockStripes = 256

// Request is one inbound admission query. A zero Now means "evaluate at
// wall-clock time"; tests pin it.
type Request struct {
	ClientID  string
	UserAgent string
	Path      string
	Now       time.Time
}

// Decision is the structured outcome of Admit. Policy denials are values,
// never errors; no error escapes the engine.
type Decision struct {
	Allowed    bool       `json:"allowed"`
	Reason     string     `json:"reason,omitempty"`
	Type       string     `json:"type,omitempty"`
	RetryAfter *time.Time `json:"retry_after,omitempty"`
}

// Decision types for allowed requests; denials carry their violation type.
const (
	TypeStaticWhitelist = "static_whitelist"
	TypeWhitelisted     = "whitelisted"
)

// Metrics is the observability hook the engine reports into.
type Metrics interface {
	RecordDecision(allowed bool, decisionType string)
	RecordBlock(violationType string)
	RecordPromotion()
}

// Engine evaluates every inbound request against the fixed check order:
// geo authorization, static whitelist, dynamic whitelist, block status,
// burst limit, sustained limit, bot heuristics. The first failing stage
// short-circuits with a structured denial.
type Engine struct {
	cfg      config.GuardConfig
	limits   WindowLimits
	store    state.Store
	geo      geo.Adapter
	logger   *logging.Logger
	metrics  Metrics
	detector *BotDetector
	promoter *Promoter
	tracer   trace.Tracer

	staticNets []*net.IPNet
	staticUAs  map[string]bool

	locks [lockStripes]sync.Mutex
}

func NewEngine(cfg config.GuardConfig, store state.Store, geoAdapter geo.Adapter, logger *logging.Logger, metrics Metrics) *Engine {
	var nets []*net.IPNet
	for _, cidr := range cfg.StaticWhitelist.IPRanges {
		if _, network, err := net.ParseCIDR(cidr); err == nil {
			nets = append(nets, network)
		}
	}

	uas := make(map[string]bool, len(cfg.StaticWhitelist.UserAgents))
	for _, ua := range cfg.StaticWhitelist.UserAgents {
		uas[ua] = true
	}

	if geoAdapter == nil {
		geoAdapter = geo.Disabled{}
	}

	return &Engine{
		cfg: cfg,
		limits: WindowLimits{
			BurstLimit:      cfg.BurstLimit,
			BurstWindow:     cfg.BurstWindow,
			SustainedLimit:  cfg.SustainedLimit,
			SustainedWindow: cfg.SustainedWindow,
		},
		store:      store,
		geo:        geoAdapter,
		logger:     logger,
		metrics:    metrics,
		detector:   NewBotDetector(&cfg),
		promoter:   NewPromoter(cfg.Whitelist),
		tracer:     otel.Tracer("admission-guard/guard"),
		staticNets: nets,
		staticUAs:  uas,
	}
}

// Admit runs the full admission pipeline for one request. It is safe for
// concurrent use; requests sharing a client identifier are serialized.
func (e *Engine) Admit(ctx context.Context, req Request) Decision {
	ctx, span := e.tracer.Start(ctx, "guard.Admit",
		trace.WithAttributes(
			attribute.String("client.id", req.ClientID),
			attribute.String("http.path", req.Path),
		),
	)
	defer span.End()

	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}

	lock := e.lockFor(req.ClientID)
	lock.Lock()
	defer lock.Unlock()

	decision := e.admitLocked(ctx, req, now)

	span.SetAttributes(
		attribute.Bool("guard.allowed", decision.Allowed),
		attribute.String("guard.type", decision.Type),
	)
	if e.metrics != nil {
		e.metrics.RecordDecision(decision.Allowed, decision.Type)
	}
	e.logger.AdmissionDecision(ctx, req.ClientID, decision.Allowed, decision.Type, decision.Reason)

	return decision
}

func (e *Engine) admitLocked(ctx context.Context, req Request, now time.Time) Decision {
	// Geo authorization comes first; the decision is produced fresh every
	// request and also feeds the window multiplier.
	geoDecision, err := e.geo.Authorize(ctx, req.ClientID)
	if err != nil {
		// Adapters are expected to fail open themselves; recover here in
		// case a bare adapter is wired in.
		e.logger.WarnContext(ctx, "Geo adapter returned error, failing open",
			"client_id", req.ClientID, "error", err.Error())
		geoDecision = geo.Decision{Allowed: true}
	}

	// A geo denial is terminal; no later stage, operator trust included,
	// re-admits the request.
	if !geoDecision.Allowed {
		return e.penalize(ctx, req.ClientID, now, state.ViolationGeo, SeverityGeoViolation, geoDecision.Reason, 1.0)
	}

	// Operator-configured trust bypasses every remaining check.
	if e.staticWhitelisted(req.ClientID, req.UserAgent) {
		return Decision{Allowed: true, Type: TypeStaticWhitelist}
	}

	// Earned trust: a promoted client bypasses every remaining check.
	if _, err := e.store.GetWhitelist(req.ClientID); err == nil {
		return Decision{Allowed: true, Type: TypeWhitelisted}
	} else if err != state.ErrNotFound {
		e.logger.ErrorContext(ctx, "Whitelist lookup failed", "client_id", req.ClientID, "error", err.Error())
	}

	// An active block is terminal until expiry; no other rule re-runs.
	if block, err := e.store.GetBlock(req.ClientID); err == nil {
		if !block.Expired(now) {
			until := block.BlockedUntil
			return Decision{
				Allowed:    false,
				Reason:     block.Reason,
				Type:       string(block.Type),
				RetryAfter: &until,
			}
		}
		// Lazy expiry: drop the stale entry and evaluate normally.
		if err := e.store.DeleteBlock(req.ClientID); err != nil {
			e.logger.ErrorContext(ctx, "Failed to delete expired block", "client_id", req.ClientID, "error", err.Error())
		}
	} else if err != state.ErrNotFound {
		e.logger.ErrorContext(ctx, "Block lookup failed", "client_id", req.ClientID, "error", err.Error())
	}

	rec, err := e.store.GetRecord(req.ClientID)
	if err == state.ErrNotFound {
		rec = state.NewClientRecord(req.ClientID, now)
	} else if err != nil {
		// Storage trouble must not turn into a denial; decide from a
		// fresh in-memory record and let the operator see the error.
		e.logger.ErrorContext(ctx, "Record lookup failed", "client_id", req.ClientID, "error", err.Error())
		rec = state.NewClientRecord(req.ClientID, now)
	}
	rec.Prune(now, 2*e.limits.SustainedWindow)

	multiplier := PriorityMultiplier(geoDecision.Priority, e.cfg.PriorityMultipliers)

	if CheckBurst(rec.Requests, now, e.limits, multiplier, e.cfg.PriorityMultipliers) {
		return e.penalize(ctx, req.ClientID, now, state.ViolationBurstLimit, SeverityWarning,
			"burst request limit exceeded", multiplier)
	}

	if CheckSustained(rec.Requests, now, e.limits, multiplier, e.cfg.PriorityMultipliers) {
		return e.penalize(ctx, req.ClientID, now, state.ViolationWindowLimit, SeveritySuspicious,
			"sustained request limit exceeded", multiplier)
	}

	if verdict := e.detector.Inspect(rec, req.UserAgent, req.Path, now); verdict.IsBot {
		return e.penalize(ctx, req.ClientID, now, state.ViolationBotDetected, verdict.Severity,
			verdict.Reason, multiplier)
	}

	e.accept(ctx, req, geoDecision.Country, now)

	return Decision{Allowed: true}
}

// accept commits the request to the client's history, refreshes both
// scores and evaluates whitelist promotion.
func (e *Engine) accept(ctx context.Context, req Request, country string, now time.Time) {
	updated, err := e.store.UpdateRecord(req.ClientID, func(rec *state.ClientRecord) error {
		rec.Prune(now, 2*e.limits.SustainedWindow)
		rec.Observe(req.UserAgent, req.Path, country, now)
		Rescore(rec)
		return nil
	})
	if err != nil {
		// The admission already passed; surface the persistence failure
		// without changing the outcome.
		e.logger.ErrorContext(ctx, "Failed to persist client record",
			"client_id", req.ClientID, "error", err.Error())
		return
	}

	entry, ok := e.promoter.Evaluate(updated, now)
	if !ok {
		return
	}

	if _, err := e.store.GetWhitelist(req.ClientID); err == nil {
		return // already promoted
	}

	if err := e.store.PutWhitelist(entry); err != nil {
		e.logger.ErrorContext(ctx, "Failed to persist whitelist entry",
			"client_id", req.ClientID, "error", err.Error())
		return
	}

	if e.metrics != nil {
		e.metrics.RecordPromotion()
	}
	e.logger.InfoContext(ctx, "Client promoted to whitelist",
		"client_id", req.ClientID,
		"sessions", entry.Sessions,
		"distinct_pages", entry.DistinctPages,
		"human_score", entry.HumanScore,
		"geo_consistency", entry.GeoConsistency,
	)
}

// penalize records a block for the violation and returns the denial. A new
// violation overwrites any existing block; durations never stack.
func (e *Engine) penalize(ctx context.Context, clientID string, now time.Time, violation state.ViolationType, severity Severity, reason string, multiplier float64) Decision {
	duration := time.Duration(float64(e.cfg.BaseBlockDuration) * e.severityMultiplier(severity))
	until := now.Add(duration)

	entry := &state.BlockEntry{
		ClientID:     clientID,
		Reason:       reason,
		Type:         violation,
		BlockedAt:    now,
		BlockedUntil: until,
		Multiplier:   multiplier,
	}

	if err := e.store.PutBlock(entry); err != nil {
		e.logger.ErrorContext(ctx, "Failed to persist block entry",
			"client_id", clientID, "error", err.Error())
	}

	if e.metrics != nil {
		e.metrics.RecordBlock(string(violation))
	}
	e.logger.SecurityEvent(ctx, "client_blocked", clientID, string(severity), map[string]interface{}{
		"violation":     string(violation),
		"reason":        reason,
		"blocked_until": until,
	})

	return Decision{
		Allowed:    false,
		Reason:     reason,
		Type:       string(violation),
		RetryAfter: &until,
	}
}

func (e *Engine) severityMultiplier(severity Severity) float64 {
	switch severity {
	case SeverityWarning:
		return e.cfg.SeverityMultipliers.Warning
	case SeveritySuspicious:
		return e.cfg.SeverityMultipliers.Suspicious
	case SeverityConfirmedBot:
		return e.cfg.SeverityMultipliers.ConfirmedBot
	case SeverityAttack:
		return e.cfg.SeverityMultipliers.Attack
	case SeverityGeoViolation:
		return e.cfg.SeverityMultipliers.GeoViolation
	default:
		return 1.0
	}
}

func (e *Engine) staticWhitelisted(clientID, userAgent string) bool {
	if e.staticUAs[userAgent] {
		return true
	}

	ip := net.ParseIP(clientID)
	if ip == nil {
		return false
	}
	for _, network := range e.staticNets {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

func (e *Engine) lockFor(clientID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(clientID))
	return &e.locks[h.Sum32()%lockStripes]
}
