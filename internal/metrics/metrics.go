// internal/metrics/metrics.go
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "codeduel"

var (
	// RoomsCreated counts rooms by how they were created ("explicit" or "quickmatch").
	RoomsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rooms_created_total",
		Help:      "Game rooms created.",
	}, []string{"source"})

	// GamesEnded counts terminal transitions by end reason.
	GamesEnded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "games_ended_total",
		Help:      "Games that reached completed or cancelled.",
	}, []string{"reason"})

	// MatchRequests counts matchmaking requests by result ("matched", "queued", "failed").
	MatchRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "match_requests_total",
		Help:      "Find-opponent requests.",
	}, []string{"result"})

	// LiveConnections is the number of real-time connections held by this instance.
	LiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "live_connections",
		Help:      "Open real-time connections on this instance.",
	})

	// InboundEvents counts client events by type.
	InboundEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "inbound_events_total",
		Help:      "Client events received.",
	}, []string{"type"})

	// RatingWriteFailures counts best-effort rating writes that failed.
	RatingWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rating_write_failures_total",
		Help:      "Per-player rating updates that could not be stored.",
	})
)

// Handler exposes Prometheus metrics at /metrics
func Handler() http.Handler {
	return promhttp.Handler()
}
