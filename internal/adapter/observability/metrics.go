package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	ChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vetter_checks_total",
			Help: "Total number of executed profile checks by check name and outcome",
		},
		[]string{"check", "outcome"},
	)
	CheckDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vetter_check_duration_seconds",
			Help:    "Profile check duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 25},
		},
		[]string{"check"},
	)

	PoolCooldownsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vetter_pool_cooldowns_total",
			Help: "Total number of connection cooldowns by error class",
		},
		[]string{"class"},
	)
	PoolAvailable = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vetter_pool_available_connections",
			Help: "Number of pool connections currently out of cooldown",
		},
	)

	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vetter_queue_depth",
			Help: "Number of items currently in the verification queue",
		},
	)
	ItemsEnqueuedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vetter_items_enqueued_total",
			Help: "Total number of accounts accepted into the queue",
		},
	)
	ItemsFinalizedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vetter_items_finalized_total",
			Help: "Total number of items leaving the queue by outcome",
		},
		[]string{"outcome"},
	)

	SubmitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vetter_collector_submits_total",
			Help: "Total number of downstream submit attempts by result",
		},
		[]string{"result"},
	)
)

func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(ChecksTotal)
	prometheus.MustRegister(CheckDuration)
	prometheus.MustRegister(PoolCooldownsTotal)
	prometheus.MustRegister(PoolAvailable)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(ItemsEnqueuedTotal)
	prometheus.MustRegister(ItemsFinalizedTotal)
	prometheus.MustRegister(SubmitsTotal)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}

// ObserveCheck records one executed check with its duration.
func ObserveCheck(check, outcome string, dur time.Duration) {
	ChecksTotal.WithLabelValues(check, outcome).Inc()
	CheckDuration.WithLabelValues(check).Observe(dur.Seconds())
}

// RecordCooldown counts a cooldown stamp by error class.
func RecordCooldown(class string) {
	PoolCooldownsTotal.WithLabelValues(class).Inc()
}

// RecordFinalized counts an item leaving the queue.
func RecordFinalized(outcome string) {
	ItemsFinalizedTotal.WithLabelValues(outcome).Inc()
}
