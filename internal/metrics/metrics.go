// Package metrics exposes solbundle's operational counters and
// histograms as real Prometheus collectors, replacing the lineage's
// hand-rolled Prometheus-text-format exporter (see DESIGN.md). Grounded
// on the package-level CounterVec/HistogramVec-plus-init()-registration
// shape used throughout the reference pack's own Solana RPC client
// instrumentation.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	rpcCallsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "solbundle",
		Subsystem: "rpc",
		Name:      "calls_total",
		Help:      "Number of cluster RPC calls made, by method and outcome.",
	}, []string{"method", "outcome"})

	rpcCallDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "solbundle",
		Subsystem: "rpc",
		Name:      "call_duration_seconds",
		Help:      "Latency of cluster RPC calls, by method.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method"})

	endpointHealthy = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "solbundle",
		Subsystem: "rpc",
		Name:      "endpoint_healthy",
		Help:      "1 if the endpoint is currently considered healthy, else 0.",
	}, []string{"endpoint"})

	bundlesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "solbundle",
		Subsystem: "orchestrator",
		Name:      "bundles_total",
		Help:      "Number of bundles processed, by aggregate status.",
	}, []string{"status"})

	bundleDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "solbundle",
		Subsystem: "orchestrator",
		Name:      "bundle_duration_seconds",
		Help:      "Wall-clock time to process a bundle end to end.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"status"})

	submitRetries = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "solbundle",
		Subsystem: "orchestrator",
		Name:      "submit_retry_count",
		Help:      "Number of submit retries consumed per bundle.",
		Buckets:   prometheus.LinearBuckets(0, 1, 4),
	})

	feePriceEmitted = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "solbundle",
		Subsystem: "fees",
		Name:      "price_lamports",
		Help:      "Compute-unit prices emitted by the fee controller.",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
	})

	simulationSuccessProbability = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "solbundle",
		Subsystem: "simulator",
		Name:      "predicted_success_probability",
		Help:      "predict_success scores assigned to simulated transactions.",
		Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
	})
)

func init() {
	prometheus.MustRegister(
		rpcCallsTotal,
		rpcCallDuration,
		endpointHealthy,
		bundlesTotal,
		bundleDuration,
		submitRetries,
		feePriceEmitted,
		simulationSuccessProbability,
	)
}

// RecordRPCCall records one cluster RPC call's method, outcome, and
// latency.
func RecordRPCCall(method string, err error, elapsed time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	rpcCallsTotal.WithLabelValues(method, outcome).Inc()
	rpcCallDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// SetEndpointHealthy records an endpoint's current health flag as a
// gauge sample.
func SetEndpointHealthy(endpoint string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	endpointHealthy.WithLabelValues(endpoint).Set(value)
}

// RecordBundleOutcome records one bundle's aggregate status, total
// latency, and submit-retry count.
func RecordBundleOutcome(status string, elapsed time.Duration, retries int) {
	bundlesTotal.WithLabelValues(status).Inc()
	bundleDuration.WithLabelValues(status).Observe(elapsed.Seconds())
	submitRetries.Observe(float64(retries))
}

// RecordFeePrice records one compute-unit price emitted by the fee
// controller.
func RecordFeePrice(lamports uint64) {
	feePriceEmitted.Observe(float64(lamports))
}

// RecordPredictedSuccess records one simulator success-probability
// score.
func RecordPredictedSuccess(score float64) {
	simulationSuccessProbability.Observe(score)
}
