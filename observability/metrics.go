package observability

import (
	"math"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	pipelineMetricsOnce sync.Once
	pipelineRegistry    *PipelineMetrics

	apiMetricsOnce sync.Once
	apiRegistry    *APIMetrics
)

// PipelineMetrics captures the execution health of QuotePipeline's staged
// calls (token info and spot price, routed quote, tribunal dispensation,
// dispensation USD lookup).
type PipelineMetrics struct {
	requests       *prometheus.CounterVec
	latency        *prometheus.HistogramVec
	errors         *prometheus.CounterVec
	dispensation   *prometheus.HistogramVec
	partialResults *prometheus.CounterVec
}

// Pipeline returns the singleton metrics registry for the quote pipeline.
func Pipeline() *PipelineMetrics {
	pipelineMetricsOnce.Do(func() {
		pipelineRegistry = &PipelineMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "quoted",
				Subsystem: "pipeline",
				Name:      "steps_total",
				Help:      "Count of quote pipeline steps segmented by step and outcome.",
			}, []string{"operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "quoted",
				Subsystem: "pipeline",
				Name:      "step_duration_seconds",
				Help:      "Latency distribution for quote pipeline steps.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "quoted",
				Subsystem: "pipeline",
				Name:      "errors_total",
				Help:      "Count of quote pipeline step failures segmented by step and reason.",
			}, []string{"operation", "reason"}),
			dispensation: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "quoted",
				Subsystem: "pipeline",
				Name:      "dispensation_wei",
				Help:      "Distribution of tribunal dispensation amounts in wei, segmented by chain pair.",
				Buckets:   prometheus.ExponentialBuckets(1e12, 10, 10),
			}, []string{"src_chain", "dst_chain"}),
			partialResults: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "quoted",
				Subsystem: "pipeline",
				Name:      "partial_results_total",
				Help:      "Count of responses missing a signal (spot or route) without failing the request.",
			}, []string{"missing"}),
		}
		prometheus.MustRegister(
			pipelineRegistry.requests,
			pipelineRegistry.latency,
			pipelineRegistry.errors,
			pipelineRegistry.dispensation,
			pipelineRegistry.partialResults,
		)
	})
	return pipelineRegistry
}

// Observe records the outcome and latency of a single pipeline step (e.g.
// "spot_input", "direct_quote", "dispensation_phase1", "net_quote").
func (m *PipelineMetrics) Observe(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
		reason := strings.TrimSpace(err.Error())
		if reason == "" {
			reason = "unknown"
		}
		m.errors.WithLabelValues(op, reason).Inc()
	}
	m.requests.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordDispensation observes a settled dispensation amount for a chain pair.
func (m *PipelineMetrics) RecordDispensation(srcChainID, dstChainID uint32, wei *big.Int) {
	if m == nil || wei == nil {
		return
	}
	m.dispensation.WithLabelValues(strconv.FormatUint(uint64(srcChainID), 10), strconv.FormatUint(uint64(dstChainID), 10)).Observe(bigToFloat(wei))
}

// RecordPartialResult increments the counter for a response that shipped
// without a spot price or without a routed quote.
func (m *PipelineMetrics) RecordPartialResult(missing string) {
	if m == nil {
		return
	}
	missing = strings.TrimSpace(missing)
	if missing == "" {
		return
	}
	m.partialResults.WithLabelValues(missing).Inc()
}

// APIMetrics captures HTTP-layer request counts, latency and error rates for
// the quote API surface (POST /quote, GET /health).
type APIMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	errors   *prometheus.CounterVec
}

// API returns the singleton metrics registry for the HTTP surface.
func API() *APIMetrics {
	apiMetricsOnce.Do(func() {
		apiRegistry = &APIMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "quoted",
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Count of HTTP requests segmented by route and status.",
			}, []string{"route", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "quoted",
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for HTTP handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "quoted",
				Subsystem: "api",
				Name:      "errors_total",
				Help:      "Count of HTTP error responses segmented by route and status.",
			}, []string{"route", "status"}),
		}
		prometheus.MustRegister(
			apiRegistry.requests,
			apiRegistry.latency,
			apiRegistry.errors,
		)
	})
	return apiRegistry
}

// Observe records the outcome of an HTTP request.
func (m *APIMetrics) Observe(route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route = strings.TrimSpace(route); route == "" {
		route = "unknown"
	}
	statusLabel := strconv.Itoa(status)
	m.requests.WithLabelValues(route, statusLabel).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(route, statusLabel).Inc()
	}
	m.latency.WithLabelValues(route).Observe(duration.Seconds())
}

func bigToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	floatVal, acc := new(big.Float).SetInt(value).Float64()
	if acc != big.Exact {
		if math.IsNaN(floatVal) || math.IsInf(floatVal, 0) {
			return 0
		}
	}
	return floatVal
}
