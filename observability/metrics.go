package observability

import (
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "stakechain"

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	payoutMetricsOnce sync.Once
	payoutRegistry    *PayoutMetrics

	dexMetricsOnce sync.Once
	dexRegistry    *DexMetrics

	runtimeMetricsOnce sync.Once
	runtimeRegistry    *RuntimeMetrics
)

// ModuleMetrics returns the lazily-initialised registry used to record
// gateway activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "requests_total",
				Help:      "Total gateway requests segmented by route and outcome.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "errors_total",
				Help:      "Total gateway errors segmented by route and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for gateway handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "throttles_total",
				Help:      "Count of requests rejected due to throttling policies.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of a request. The status code should be the HTTP
// status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(module, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied module and
// reason.
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// PayoutMetrics tracks the session payout engine.
type PayoutMetrics struct {
	sessions        prometheus.Counter
	validatorPayout prometheus.Counter
	paid            prometheus.Counter
	treasury        prometheus.Counter
	failures        *prometheus.CounterVec
	inflationRate   prometheus.Gauge
}

// Payout exposes the payout metrics registry.
func Payout() *PayoutMetrics {
	payoutMetricsOnce.Do(func() {
		payoutRegistry = &PayoutMetrics{
			sessions: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "payout",
				Name:      "sessions_total",
				Help:      "Sessions that reached the payout phase.",
			}),
			validatorPayout: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "payout",
				Name:      "validator_pool_total",
				Help:      "Cumulative validator pool computed at session end, in base units.",
			}),
			paid: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "payout",
				Name:      "paid_total",
				Help:      "Cumulative rewards actually deposited to validators and nominators.",
			}),
			treasury: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "payout",
				Name:      "treasury_total",
				Help:      "Cumulative inflation routed to the treasury, including unpaid rewards.",
			}),
			failures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "payout",
				Name:      "validator_failures_total",
				Help:      "Validator payouts skipped, segmented by reason.",
			}, []string{"reason"}),
			inflationRate: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "inflation",
				Name:      "rate",
				Help:      "Current yearly inflation rate (0-1).",
			}),
		}
		prometheus.MustRegister(
			payoutRegistry.sessions,
			payoutRegistry.validatorPayout,
			payoutRegistry.paid,
			payoutRegistry.treasury,
			payoutRegistry.failures,
			payoutRegistry.inflationRate,
		)
	})
	return payoutRegistry
}

// RecordSession adds the amounts of one session payout.
func (m *PayoutMetrics) RecordSession(validatorPayout, paid, treasury *uint256.Int) {
	if m == nil {
		return
	}
	m.sessions.Inc()
	m.validatorPayout.Add(balanceToFloat(validatorPayout))
	m.paid.Add(balanceToFloat(paid))
	m.treasury.Add(balanceToFloat(treasury))
}

// RecordFailure counts a skipped validator payout.
func (m *PayoutMetrics) RecordFailure(reason string) {
	if m == nil {
		return
	}
	if reason = strings.TrimSpace(reason); reason == "" {
		reason = "unspecified"
	}
	m.failures.WithLabelValues(reason).Inc()
}

// SetInflationRate publishes the current yearly rate given in parts per
// billion.
func (m *PayoutMetrics) SetInflationRate(parts uint32) {
	if m == nil {
		return
	}
	m.inflationRate.Set(float64(parts) / 1e9)
}

// DexMetrics counts order book activity.
type DexMetrics struct {
	orders *prometheus.CounterVec
	open   prometheus.Gauge
}

// Dex exposes the order book metrics registry.
func Dex() *DexMetrics {
	dexMetricsOnce.Do(func() {
		dexRegistry = &DexMetrics{
			orders: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dex",
				Name:      "orders_total",
				Help:      "Order lifecycle transitions segmented by outcome.",
			}, []string{"outcome"}),
			open: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "dex",
				Name:      "open_orders",
				Help:      "Orders currently resting on the book.",
			}),
		}
		prometheus.MustRegister(dexRegistry.orders, dexRegistry.open)
	})
	return dexRegistry
}

// RecordOrder counts a lifecycle transition such as "created", "taken",
// "canceled" or "expired" and adjusts the open order gauge.
func (m *DexMetrics) RecordOrder(outcome string) {
	if m == nil {
		return
	}
	m.orders.WithLabelValues(outcome).Inc()
	if outcome == "created" {
		m.open.Inc()
		return
	}
	m.open.Dec()
}

// RuntimeMetrics covers block execution.
type RuntimeMetrics struct {
	blockLatency prometheus.Histogram
	height       prometheus.Gauge
	calls        *prometheus.CounterVec
}

// Runtime exposes the runtime metrics registry.
func Runtime() *RuntimeMetrics {
	runtimeMetricsOnce.Do(func() {
		runtimeRegistry = &RuntimeMetrics{
			blockLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "runtime",
				Name:      "block_execution_seconds",
				Help:      "Time spent executing and committing a block.",
				Buckets:   prometheus.DefBuckets,
			}),
			height: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "runtime",
				Name:      "height",
				Help:      "Number of the last committed block.",
			}),
			calls: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "runtime",
				Name:      "calls_total",
				Help:      "Dispatched calls segmented by call name and outcome.",
			}, []string{"call", "outcome"}),
		}
		prometheus.MustRegister(runtimeRegistry.blockLatency, runtimeRegistry.height, runtimeRegistry.calls)
	})
	return runtimeRegistry
}

// ObserveBlock records the execution time and height of a committed block.
func (m *RuntimeMetrics) ObserveBlock(height uint64, d time.Duration) {
	if m == nil {
		return
	}
	m.blockLatency.Observe(d.Seconds())
	m.height.Set(float64(height))
}

// RecordCall counts a dispatched call.
func (m *RuntimeMetrics) RecordCall(call string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.calls.WithLabelValues(call, outcome).Inc()
}

func balanceToFloat(value *uint256.Int) float64 {
	if value == nil {
		return 0
	}
	return bigToFloat(value.ToBig())
}

func bigToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	floatVal, acc := new(big.Float).SetInt(value).Float64()
	if acc != big.Exact {
		// Guard against NaN/Inf when conversion fails.
		if math.IsNaN(floatVal) || math.IsInf(floatVal, 0) {
			return 0
		}
	}
	return floatVal
}
