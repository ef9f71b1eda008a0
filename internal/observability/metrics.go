package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	transportRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "spellctl",
			Subsystem: "transport",
			Name:      "requests_total",
			Help:      "Requests sent to a SPELL peer by outcome.",
		},
		[]string{"peer", "message", "outcome"},
	)
	transportDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "spellctl",
			Subsystem: "transport",
			Name:      "request_duration_seconds",
			Help:      "Request/response round trip in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"peer", "message"},
	)
	transportOrphans = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "spellctl",
			Subsystem: "transport",
			Name:      "orphaned_responses_total",
			Help:      "Responses dropped because no request was waiting for them.",
		},
		[]string{"peer"},
	)
	simRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "spellctl",
			Subsystem: "sim",
			Name:      "requests_total",
			Help:      "Requests handled by the simulator.",
		},
		[]string{"server", "message", "success"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "spellctl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "spellctl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
)

// Request outcomes.
const (
	OutcomeOK        = "ok"
	OutcomeRemote    = "remote_error"
	OutcomeTimeout   = "timeout"
	OutcomeCancelled = "cancelled"
	OutcomeLost      = "connection_lost"
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			transportRequests,
			transportDuration,
			transportOrphans,
			simRequests,
			httpRequests,
			httpDuration,
		)
	})
}

func RecordRequest(peer, message, outcome string, duration time.Duration) {
	RegisterMetrics()
	transportRequests.WithLabelValues(peer, message, outcome).Inc()
	if outcome == OutcomeOK || outcome == OutcomeRemote {
		transportDuration.WithLabelValues(peer, message).Observe(duration.Seconds())
	}
}

func RecordOrphan(peer string) {
	RegisterMetrics()
	transportOrphans.WithLabelValues(peer).Inc()
}

func RecordSimRequest(server, message string, success bool) {
	RegisterMetrics()
	simRequests.WithLabelValues(server, message, strconv.FormatBool(success)).Inc()
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}
