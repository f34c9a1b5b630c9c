package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voxlate_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "voxlate_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	TranslationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voxlate_translations_total",
			Help: "Total number of translation requests by final status.",
		},
		[]string{"status"}, // completed, partial, failed
	)

	ProviderAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voxlate_provider_attempts_total",
			Help: "Provider attempts by operation and outcome.",
		},
		[]string{"provider", "operation", "outcome"}, // outcome: success, timeout, error
	)

	ProviderAttemptDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "voxlate_provider_attempt_duration_seconds",
			Help:    "Duration of individual provider attempts.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 3, 4, 5, 8},
		},
		[]string{"provider", "operation"},
	)

	CreditDebitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voxlate_credit_debits_total",
			Help: "Credit ledger debit attempts by result.",
		},
		[]string{"result"}, // ok, insufficient
	)

	RateLimitDeniedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voxlate_rate_limit_denied_total",
			Help: "Requests denied by the rate limiter, per limit bucket.",
		},
		[]string{"bucket"},
	)

	RelayMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voxlate_relay_messages_total",
			Help: "Relay request outcomes by terminal state.",
		},
		[]string{"state"}, // completed, timed_out, dropped, unreachable
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		TranslationsTotal,
		ProviderAttemptsTotal,
		ProviderAttemptDuration,
		CreditDebitsTotal,
		RateLimitDeniedTotal,
		RelayMessagesTotal,
	)
}
