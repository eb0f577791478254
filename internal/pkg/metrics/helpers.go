package metrics

import (
	"strings"
	"time"
)

// RecordStoreOperation records token store operation metrics consistently
// backend: store backend name (e.g., "sql", "redis", "file")
// operation: operation name (e.g., "get_token", "set_token", "clear")
// duration: time taken for the operation
// err: error from the operation (nil if successful)
func RecordStoreOperation(backend, operation string, duration time.Duration, err error) {
	StoreDuration.WithLabelValues(backend, operation).Observe(float64(duration.Milliseconds()))

	status := "success"
	if err != nil {
		status = "error"
		StoreErrors.WithLabelValues(backend, operation, classifyStoreError(err)).Inc()
	}
	StoreOperations.WithLabelValues(backend, operation, status).Inc()
}

// RecordTokenRefresh records the outcome of one refresh flight.
// A zero duration means no network call was made.
func RecordTokenRefresh(result string, duration time.Duration) {
	TokenRefreshes.WithLabelValues(result).Inc()
	if duration > 0 {
		TokenRefreshDuration.Observe(float64(duration.Milliseconds()))
	}
}

// classifyStoreError categorizes token store errors for metrics
func classifyStoreError(err error) string {
	if err == nil {
		return "none"
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline"):
		return "timeout"
	case strings.Contains(errStr, "connection") || strings.Contains(errStr, "connect"):
		return "connection"
	case strings.Contains(errStr, "locked") || strings.Contains(errStr, "busy"):
		return "locked"
	case strings.Contains(errStr, "permission"):
		return "permission"
	case strings.Contains(errStr, "no such table") || strings.Contains(errStr, "does not exist"):
		return "schema"
	default:
		return "other"
	}
}
