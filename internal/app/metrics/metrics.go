package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "subscription_layer",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "subscription_layer",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "subscription_layer",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	quotaCharges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "subscription_layer",
			Subsystem: "quota",
			Name:      "charges_total",
			Help:      "Quota charge decisions.",
		},
		[]string{"feature", "tier", "result"},
	)

	quotaRollbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "subscription_layer",
			Subsystem: "quota",
			Name:      "rollbacks_total",
			Help:      "Quota charges refunded after a failed downstream call.",
		},
		[]string{"feature"},
	)

	activations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "subscription_layer",
			Subsystem: "subscriptions",
			Name:      "activations_total",
			Help:      "Subscription activation attempts by outcome.",
		},
		[]string{"tier", "result"},
	)

	verificationFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "subscription_layer",
			Subsystem: "payments",
			Name:      "verification_failures_total",
			Help:      "Payment verifications rejected, by error code.",
		},
		[]string{"code"},
	)

	lazyExpirations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "subscription_layer",
			Subsystem: "entitlements",
			Name:      "lazy_expirations_total",
			Help:      "Lapsed subscriptions expired on read.",
		},
	)

	sweepRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "subscription_layer",
			Subsystem: "lifecycle",
			Name:      "sweep_runs_total",
			Help:      "Lifecycle sweeps by whether they reported errors.",
		},
		[]string{"clean"},
	)

	sweepActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "subscription_layer",
			Subsystem: "lifecycle",
			Name:      "actions_total",
			Help:      "Reminders sent and subscriptions expired by sweeps.",
		},
		[]string{"action"},
	)

	sweepErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "subscription_layer",
			Subsystem: "lifecycle",
			Name:      "errors_total",
			Help:      "Errors collected by lifecycle sweeps.",
		},
	)

	sweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "subscription_layer",
			Subsystem: "lifecycle",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of lifecycle sweeps.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		quotaCharges,
		quotaRollbacks,
		activations,
		verificationFailures,
		lazyExpirations,
		sweepRuns,
		sweepActions,
		sweepErrors,
		sweepDuration,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordQuotaCharge records a quota decision. result is allowed, denied or unlimited.
func RecordQuotaCharge(feature, tier, result string) {
	quotaCharges.WithLabelValues(feature, tier, result).Inc()
}

// RecordQuotaRollback records a refunded charge.
func RecordQuotaRollback(feature string) {
	quotaRollbacks.WithLabelValues(feature).Inc()
}

// RecordActivation records a subscription activation attempt.
func RecordActivation(tier, result string) {
	if tier == "" {
		tier = "unknown"
	}
	activations.WithLabelValues(tier, result).Inc()
}

// RecordVerificationFailure records a rejected payment verification.
func RecordVerificationFailure(code string) {
	verificationFailures.WithLabelValues(code).Inc()
}

// RecordLazyExpiration records an expiry performed by the entitlement resolver.
func RecordLazyExpiration() {
	lazyExpirations.Inc()
}

// RecordSweep records the outcome of one lifecycle sweep.
func RecordSweep(reminders3d, reminders1d, expired, errs int, duration time.Duration) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	sweepRuns.WithLabelValues(strconv.FormatBool(errs == 0)).Inc()
	sweepActions.WithLabelValues("reminder_3d").Add(float64(reminders3d))
	sweepActions.WithLabelValues("reminder_1d").Add(float64(reminders1d))
	sweepActions.WithLabelValues("expired").Add(float64(expired))
	sweepErrors.Add(float64(errs))
	sweepDuration.Observe(duration.Seconds())
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// canonicalPath collapses wallet and feature segments so label cardinality stays bounded.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if parts[0] != "v1" || len(parts) == 1 {
		return "/" + parts[0]
	}
	resource := parts[1]
	switch {
	case len(parts) == 2:
		return "/v1/" + resource
	case resource == "quota" && len(parts) == 5:
		return "/v1/quota/:wallet/:feature/" + parts[4]
	case resource == "users" && len(parts) == 4:
		return "/v1/users/:wallet/" + parts[3]
	case resource == "lifecycle" || resource == "notifications":
		return "/v1/" + strings.Join(parts[1:], "/")
	default:
		return "/v1/" + resource + "/:id"
	}
}
