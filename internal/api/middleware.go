package api

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"admission-guard/internal/guard"
	"admission-guard/internal/logging"
	"admission-guard/internal/monitoring"
)

// DenialResponse is the JSON body returned with every 429. The shape is
// part of the public contract; clients key on "type" and "retry_after".
type DenialResponse struct {
	Error      bool   `json:"error"`
	Code       int    `json:"code"`
	Message    string `json:"message"`
	Type       string `json:"type"`
	RetryAfter int64  `json:"retry_after"`
	Timestamp  int64  `json:"timestamp"`
}

// AdmissionMiddleware evaluates every request through the guard engine
// before it reaches the protected handler. Denials terminate the request
// with 429 and a Retry-After header.
func AdmissionMiddleware(engine *guard.Engine, logger *logging.Logger, metrics *monitoring.GuardMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			decision := engine.Admit(r.Context(), guard.Request{
				ClientID:  ClientIP(r),
				UserAgent: r.UserAgent(),
				Path:      r.URL.Path,
			})

			if metrics != nil {
				metrics.AdmitDuration.Observe(time.Since(start).Seconds())
			}

			if decision.Allowed {
				next.ServeHTTP(w, r)
				return
			}

			writeDenial(w, decision)
		})
	}
}

func writeDenial(w http.ResponseWriter, decision guard.Decision) {
	now := time.Now()

	var retryAfter int64
	if decision.RetryAfter != nil {
		retryAfter = int64(decision.RetryAfter.Sub(now).Seconds())
		if retryAfter < 0 {
			retryAfter = 0
		}
		w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	json.NewEncoder(w).Encode(DenialResponse{
		Error:      true,
		Code:       http.StatusTooManyRequests,
		Message:    decision.Reason,
		Type:       decision.Type,
		RetryAfter: retryAfter,
		Timestamp:  now.Unix(),
	})
}

// ClientIP extracts the normalized client address. Proxy headers win over
// the socket address so the guard sees the real origin behind a load
// balancer.
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		// First hop is the originating client.
		first := strings.TrimSpace(strings.Split(forwarded, ",")[0])
		if ip := net.ParseIP(first); ip != nil {
			return ip.String()
		}
	}

	if real := strings.TrimSpace(r.Header.Get("X-Real-IP")); real != "" {
		if ip := net.ParseIP(real); ip != nil {
			return ip.String()
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.String()
	}
	return host
}
