// Package metrics provides Prometheus metrics for the player.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Labels stay low-cardinality: no track ids or URLs.

var (
	// PlayFailuresTotal counts gated play requests that failed, by error kind.
	PlayFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tandem_play_failures_total",
		Help: "Total number of failed play requests, by error kind.",
	}, []string{"kind"})

	// PlayInterruptedTotal counts play requests pre-empted by a later request.
	PlayInterruptedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tandem_play_interrupted_total",
		Help: "Total number of play requests interrupted by a newer pause or play.",
	})

	// CandidateFailuresTotal counts media candidates that failed to load.
	CandidateFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tandem_candidate_failures_total",
		Help: "Total number of media candidates that failed to load, by error kind.",
	}, []string{"kind"})

	// TracksStartedTotal counts tracks that reached the playing phase.
	TracksStartedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tandem_tracks_started_total",
		Help: "Total number of tracks started, by source.",
	}, []string{"source"})

	// TracksEndedTotal counts end-of-track detections.
	TracksEndedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tandem_tracks_ended_total",
		Help: "Total number of tracks that played to the end, by source.",
	}, []string{"source"})

	// SessionPhase is 1 for the current session phase and 0 for the rest.
	SessionPhase = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tandem_session_phase",
		Help: "Current playback phase (1 = active).",
	}, []string{"phase"})

	// APIRequestsTotal counts remote API responses by status class.
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tandem_api_requests_total",
		Help: "Total number of remote API requests, by service and status class.",
	}, []string{"service", "status"})

	// APIRetriesTotal counts retried remote API requests by reason.
	APIRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tandem_api_retries_total",
		Help: "Total number of remote API retries, by service and reason.",
	}, []string{"service", "reason"})

	// TokenRefreshTotal counts access token refreshes by result.
	TokenRefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tandem_token_refresh_total",
		Help: "Total number of access token refreshes, by result.",
	}, []string{"result"})

	// CatalogCacheTotal counts catalog cache lookups by result.
	CatalogCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tandem_catalog_cache_total",
		Help: "Total number of catalog cache lookups, by result (hit/miss/error).",
	}, []string{"result"})
)

var phases = []string{"idle", "loading", "playing", "paused", "error"}

// IncPlayFailure records a failed play request.
func IncPlayFailure(kind string) {
	PlayFailuresTotal.WithLabelValues(kind).Inc()
}

// IncPlayInterrupted records an interrupted play request.
func IncPlayInterrupted() {
	PlayInterruptedTotal.Inc()
}

// IncCandidateFailure records a candidate that failed to load.
func IncCandidateFailure(kind string) {
	CandidateFailuresTotal.WithLabelValues(kind).Inc()
}

// IncTrackStarted records a track reaching the playing phase.
func IncTrackStarted(source string) {
	TracksStartedTotal.WithLabelValues(source).Inc()
}

// IncTrackEnded records a detected end of track.
func IncTrackEnded(source string) {
	TracksEndedTotal.WithLabelValues(source).Inc()
}

// SetPhase marks phase as the current session phase.
func SetPhase(phase string) {
	for _, p := range phases {
		v := 0.0
		if p == phase {
			v = 1
		}
		SessionPhase.WithLabelValues(p).Set(v)
	}
}

// RecordAPIRequest records a remote API response. status is a class such as
// "2xx" or "network".
func RecordAPIRequest(service, status string) {
	APIRequestsTotal.WithLabelValues(service, status).Inc()
}

// RecordAPIRetry records a retry.
func RecordAPIRetry(service, reason string) {
	APIRetriesTotal.WithLabelValues(service, reason).Inc()
}

// RecordTokenRefresh records a token refresh outcome ("ok" or "error").
func RecordTokenRefresh(result string) {
	TokenRefreshTotal.WithLabelValues(result).Inc()
}

// RecordCacheLookup records a catalog cache lookup.
func RecordCacheLookup(result string) {
	CatalogCacheTotal.WithLabelValues(result).Inc()
}
