// Invariants are conditions the code itself guarantees; a violated one is a bug, never bad input. RaiseInvariant
// logs the violation and counts it in invariants_total so it can be alerted on, but it doesn't stop the server:
// the caller still handles the broken case, usually by falling back to a safe default. Binaries built with
// -X ...utils.TestMode=true panic instead, so violations fail loudly in CI.
//
// A failing DynamoDB request or a malformed request body is not an invariant violation. A cache configured with a
// zero TTL after flag validation, or a layer name no constructor knows, is.

package utils

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	promclient "github.com/prometheus/client_model/go"
)

var invariantsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "invariants_total",
	Help: "The total number of invariant violations",
}, []string{
	"module", // The package raising the invariant, e.g. cache.
	"type",   // What was violated, e.g. non_positive_ttl.
})

// RaiseInvariant records a violation of `invariantType` in `module`. `args` are slog attributes describing it.
func RaiseInvariant(module, invariantType, msg string, args ...any) {
	invariantsMetric.WithLabelValues(module, invariantType).Inc()
	slog.With("invariant", invariantType, "module", module).Error(msg, args...)
	if IsTestMode {
		panic("invariant violated: " + module + "/" + invariantType)
	}
}

// InvariantCount returns how many times `invariantType` was raised in `module`.
func InvariantCount(module, invariantType string) int {
	metric := &promclient.Metric{}
	if err := invariantsMetric.WithLabelValues(module, invariantType).Write(metric); err != nil {
		slog.Error("Failed to read the invariants metric.", "error", err)
		return 0
	}
	return int(metric.Counter.GetValue())
}
