package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outbound API Metrics
var (
	// APICalls tracks outbound API calls
	APICalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apiclient_api_calls_total",
			Help: "Total outbound API calls by method, route (normalized path), and status code",
		},
		[]string{"method", "route", "status_code"},
	)

	// APIDuration tracks outbound API latency
	APIDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:                            "apiclient_api_duration_ms",
			Help:                            "Outbound API call duration in milliseconds",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 1 * time.Hour,
		},
		[]string{"method", "route"},
	)

	// APIErrors tracks outbound API errors
	APIErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apiclient_api_errors_total",
			Help: "Total outbound API errors by route and error type",
		},
		[]string{"route", "error_type"},
	)
)

// Session Lifecycle Metrics
var (
	// TokenRefreshes tracks refresh flights by result
	TokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apiclient_token_refreshes_total",
			Help: "Total token refresh flights by result (success, failure, no_refresh_token, skipped, discarded)",
		},
		[]string{"result"},
	)

	// TokenRefreshDuration tracks refresh network call latency
	TokenRefreshDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:                            "apiclient_token_refresh_duration_ms",
			Help:                            "Token refresh call duration in milliseconds",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 1 * time.Hour,
		},
	)

	// RefreshWaiters tracks callers currently waiting on a refresh flight
	RefreshWaiters = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "apiclient_refresh_waiters",
			Help: "Number of requests currently waiting on the shared token refresh",
		},
	)

	// SilentRotations tracks access tokens replaced through the rotation header
	SilentRotations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "apiclient_silent_rotations_total",
			Help: "Total access tokens rotated by the server through a response header",
		},
	)

	// Logouts tracks session terminations by reason
	Logouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apiclient_logouts_total",
			Help: "Total logout notifications by reason",
		},
		[]string{"reason"},
	)
)

// Token Store Metrics
var (
	// StoreOperations tracks persistent token store operations
	StoreOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apiclient_store_operations_total",
			Help: "Total token store operations by backend, operation, and status",
		},
		[]string{"backend", "operation", "status"},
	)

	// StoreDuration tracks token store operation latency
	StoreDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:                            "apiclient_store_operation_duration_ms",
			Help:                            "Token store operation duration in milliseconds",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 1 * time.Hour,
		},
		[]string{"backend", "operation"},
	)

	// StoreErrors tracks token store errors by type
	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apiclient_store_errors_total",
			Help: "Total token store errors by backend, operation, and error type",
		},
		[]string{"backend", "operation", "error_type"},
	)
)
