// Package metrics provides Prometheus instrumentation for the learnhub
// server: session lifecycle counters, middleware resolution outcomes, and
// progress tracking throughput.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SessionsCreated counts records written under a freshly allocated token,
	// labeled by kind: "anonymous" or "user".
	SessionsCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "learnhub_sessions_created_total",
		Help: "Sessions created under a new token",
	}, []string{"kind"})

	// SessionsExpired counts records deleted lazily on read because they
	// outlived the max session duration.
	SessionsExpired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "learnhub_sessions_expired_total",
		Help: "Session records deleted on access after expiry",
	})

	// SessionsRevoked counts explicit revocations (logout, token rotation).
	SessionsRevoked = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "learnhub_sessions_revoked_total",
		Help: "Session records revoked explicitly",
	})

	// SessionResolutions counts middleware outcomes, labeled by result:
	// "loaded", "created", "failed".
	SessionResolutions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "learnhub_session_resolutions_total",
		Help: "Per-request session resolution outcomes",
	}, []string{"result"})

	// UserLookups counts user resolution outcomes, labeled by result:
	// "found", "missing", "timeout", "error".
	UserLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "learnhub_user_lookups_total",
		Help: "User lookups performed by the session middleware",
	}, []string{"result"})

	// ResolveLatency records how long the middleware spent resolving
	// session and user for a request.
	ResolveLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "learnhub_session_resolve_seconds",
		Help:    "Time spent resolving session and user per request",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	})

	// ProgressEvents counts progress tracking calls, labeled by type
	// ("lesson", "video_start", "video_complete") and by store
	// ("session", "database").
	ProgressEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "learnhub_progress_events_total",
		Help: "Progress tracking events recorded",
	}, []string{"type", "store"})

	// LoginAttempts counts login attempts, labeled by result:
	// "success", "invalid", "rate_limited".
	LoginAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "learnhub_login_attempts_total",
		Help: "Login attempts by outcome",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(
		SessionsCreated,
		SessionsExpired,
		SessionsRevoked,
		SessionResolutions,
		UserLookups,
		ResolveLatency,
		ProgressEvents,
		LoginAttempts,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
