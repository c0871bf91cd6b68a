package obs

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Client-side counters for the auction core.
var (
	StreamConnects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stream_connects_total",
		Help: "Push-stream connection attempts.",
	})

	StreamReconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stream_reconnects_total",
		Help: "Push-stream reconnection attempts after a transport error.",
	})

	StreamEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stream_events_total",
			Help: "Push events received, by kind.",
		},
		[]string{"kind"},
	)

	StreamDecodeFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stream_decode_failures_total",
		Help: "Push events dropped because the payload shape was unknown.",
	})

	BidsSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bids_submitted_total",
			Help: "Bid submissions, by outcome.",
		},
		[]string{"outcome"}, // accepted | rejected | error
	)

	CredentialRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credential_refreshes_total",
			Help: "Credential refresh network attempts, by outcome.",
		},
		[]string{"outcome"}, // ok | failed
	)

	BookmarkRollbacks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bookmark_rollbacks_total",
		Help: "Optimistic bookmark toggles rolled back after a remote failure.",
	})
)

// Init registers the metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		StreamConnects,
		StreamReconnects,
		StreamEvents,
		StreamDecodeFailures,
		BidsSubmitted,
		CredentialRefreshes,
		BookmarkRollbacks,
	)
}

// Handler exposes the Prometheus scrape endpoint for the debug listener.
func Handler() http.Handler {
	return promhttp.Handler()
}
