package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/angelmondragon/circulum-backend/pkg/metrics"
)

// Metrics records per-route duration and outcome counters. The route
// pattern, not the raw path, is the operation label so addresses do not
// explode cardinality.
func Metrics(ops *metrics.OperationMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if ops == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w}
			start := time.Now()

			next.ServeHTTP(rec, r)

			operation := r.Method + " " + routePattern(r)
			if rec.status == 0 {
				rec.status = http.StatusOK
			}
			ops.ObserveDuration(operation, time.Since(start))
			ops.IncOutcome(operation, outcomeLabel(rec.status))
		})
	}
}

func outcomeLabel(status int) string {
	if status < http.StatusBadRequest {
		return "ok"
	}
	return strconv.Itoa(status)
}
