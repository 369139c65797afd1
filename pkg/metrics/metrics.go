package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Pool metrics
	DevicesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vitrine_devices_total",
			Help: "Total number of devices by pool state",
		},
		[]string{"state"},
	)

	ActiveCasts = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vitrine_active_casts",
			Help: "Number of casts currently running",
		},
	)

	CastsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitrine_casts_total",
			Help: "Total number of finished casts by outcome",
		},
		[]string{"outcome"},
	)

	// Recovery metrics
	RecoveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitrine_recoveries_total",
			Help: "Total number of recovery runs by result",
		},
		[]string{"result"},
	)

	RecoveryAttemptsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vitrine_recovery_attempts_total",
			Help: "Total number of individual recovery attempts",
		},
	)

	RecoveryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vitrine_recovery_duration_seconds",
			Help:    "Time taken by recovery runs in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		},
	)

	// Monitor metrics
	ProbeFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitrine_probe_failures_total",
			Help: "Total number of failed device probes by failure class",
		},
		[]string{"class"},
	)

	ResponsivenessCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vitrine_responsiveness_cycle_seconds",
			Help:    "Time taken by a full responsiveness check cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Session metrics
	SessionLaunchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitrine_session_launches_total",
			Help: "Total number of renderer session launches by result",
		},
		[]string{"result"},
	)

	SessionLaunchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vitrine_session_launch_duration_seconds",
			Help:    "Renderer session launch duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitrine_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vitrine_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(DevicesTotal)
	prometheus.MustRegister(ActiveCasts)
	prometheus.MustRegister(CastsTotal)
	prometheus.MustRegister(RecoveriesTotal)
	prometheus.MustRegister(RecoveryAttemptsTotal)
	prometheus.MustRegister(RecoveryDuration)
	prometheus.MustRegister(ProbeFailuresTotal)
	prometheus.MustRegister(ResponsivenessCycleDuration)
	prometheus.MustRegister(SessionLaunchesTotal)
	prometheus.MustRegister(SessionLaunchDuration)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
