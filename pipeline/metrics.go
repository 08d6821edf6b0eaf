package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics:
//   - sessionkeeper_refresh_total{outcome} - refresh flights by outcome
//   - sessionkeeper_refresh_joined_total - 401s that joined a running flight
//   - sessionkeeper_retries_total - requests replayed after a refresh
//   - sessionkeeper_forced_logouts_total - sessions dropped after a failed refresh
type metrics struct {
	refreshes     *prometheus.CounterVec
	joined        prometheus.Counter
	retries       prometheus.Counter
	forcedLogouts prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		refreshes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sessionkeeper_refresh_total",
			Help: "Token refresh flights by outcome",
		}, []string{"outcome"}),
		joined: f.NewCounter(prometheus.CounterOpts{
			Name: "sessionkeeper_refresh_joined_total",
			Help: "Unauthorized responses that waited on a refresh already in flight",
		}),
		retries: f.NewCounter(prometheus.CounterOpts{
			Name: "sessionkeeper_retries_total",
			Help: "Requests replayed after a successful refresh",
		}),
		forcedLogouts: f.NewCounter(prometheus.CounterOpts{
			Name: "sessionkeeper_forced_logouts_total",
			Help: "Sessions dropped because a refresh failed",
		}),
	}
}
