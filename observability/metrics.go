package observability

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type rpcMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

type poolMetrics struct {
	operations          *prometheus.CounterVec
	contributionBalance *prometheus.GaugeVec
	heldBalance         *prometheus.GaugeVec
	contributors        *prometheus.GaugeVec
	status              *prometheus.GaugeVec
}

var (
	rpcMetricsOnce sync.Once
	rpcRegistry    *rpcMetrics

	poolMetricsOnce sync.Once
	poolRegistry    *poolMetrics
)

// RPCMetrics returns the lazily-initialised registry used to record
// JSON-RPC activity.
func RPCMetrics() *rpcMetrics {
	rpcMetricsOnce.Do(func() {
		rpcRegistry = &rpcMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "poolbase",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by method and outcome.",
			}, []string{"method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "poolbase",
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Total JSON-RPC errors segmented by method and status code.",
			}, []string{"method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "poolbase",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "poolbase",
				Subsystem: "rpc",
				Name:      "throttles_total",
				Help:      "Count of requests rejected by throttling policies.",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(
			rpcRegistry.requests,
			rpcRegistry.errors,
			rpcRegistry.latency,
			rpcRegistry.throttles,
		)
	})
	return rpcRegistry
}

// Observe records the outcome of one RPC request. The status code should
// be the HTTP status ultimately written to the response writer.
func (m *rpcMetrics) Observe(method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter. Reasons should be
// stable strings such as "rate_limit" so dashboards stay consistent.
func (m *rpcMetrics) RecordThrottle(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(reason).Inc()
}

// PoolMetrics returns the lazily-initialised registry tracking ledger
// activity per pool.
func PoolMetrics() *poolMetrics {
	poolMetricsOnce.Do(func() {
		poolRegistry = &poolMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "poolbase",
				Subsystem: "pool",
				Name:      "operations_total",
				Help:      "Total ledger operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			contributionBalance: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "poolbase",
				Subsystem: "pool",
				Name:      "contribution_balance_ether",
				Help:      "Current pool contribution balance in ether.",
			}, []string{"pool"}),
			heldBalance: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "poolbase",
				Subsystem: "pool",
				Name:      "held_balance_ether",
				Help:      "Ether currently held by the pool in ether.",
			}, []string{"pool"}),
			contributors: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "poolbase",
				Subsystem: "pool",
				Name:      "contributors",
				Help:      "Participants with a nonzero contribution.",
			}, []string{"pool"}),
			status: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "poolbase",
				Subsystem: "pool",
				Name:      "status",
				Help:      "Lifecycle state encoded as its wire value.",
			}, []string{"pool"}),
		}
		prometheus.MustRegister(
			poolRegistry.operations,
			poolRegistry.contributionBalance,
			poolRegistry.heldBalance,
			poolRegistry.contributors,
			poolRegistry.status,
		)
	})
	return poolRegistry
}

// RecordOperation counts one ledger operation and its outcome.
func (m *poolMetrics) RecordOperation(operation string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
}

// SetLedger refreshes the per-pool gauges after a successful mutation.
func (m *poolMetrics) SetLedger(pool string, status uint8, contributionBalance, heldBalance *big.Int, contributors int) {
	if m == nil {
		return
	}
	m.contributionBalance.WithLabelValues(pool).Set(weiToEther(contributionBalance))
	m.heldBalance.WithLabelValues(pool).Set(weiToEther(heldBalance))
	m.contributors.WithLabelValues(pool).Set(float64(contributors))
	m.status.WithLabelValues(pool).Set(float64(status))
}

func weiToEther(wei *big.Int) float64 {
	if wei == nil {
		return 0
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), big.NewFloat(1e18)).Float64()
	return f
}
