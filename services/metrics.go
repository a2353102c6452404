package services

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Cache lookup results
const (
	cacheHit   = "hit"
	cacheMiss  = "miss"
	cacheStale = "stale"
	cacheError = "error"
)

var (
	sessionCacheRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cubis_session_cache_requests_total",
		Help: "Session cache lookups by result.",
	}, []string{"result"})

	sessionsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cubis_sessions_created_total",
		Help: "Sessions created or re-entered at sign-in.",
	})

	sessionsRevoked = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cubis_sessions_revoked_total",
		Help: "Sessions revoked explicitly or by validation.",
	})

	sessionsSwept = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cubis_sessions_swept_total",
		Help: "Expired sessions marked inactive by the sweep.",
	})

	sessionValidations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cubis_session_validations_total",
		Help: "Session validations by outcome.",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(
		sessionCacheRequests,
		sessionsCreated,
		sessionsRevoked,
		sessionsSwept,
		sessionValidations,
	)
}
