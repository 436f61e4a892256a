package llm

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	promRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "edgeai_llm_requests_total",
		Help: "LLM requests by provider and outcome.",
	}, []string{"provider", "outcome"})

	promTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "edgeai_llm_tokens_total",
		Help: "Total tokens consumed by provider.",
	}, []string{"provider"})

	promLatency = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "edgeai_llm_latency_ms_total",
		Help: "Cumulative request latency in milliseconds by provider.",
	}, []string{"provider"})
)

// MetricsSnapshot is a point-in-time view of one runtime's counters.
type MetricsSnapshot struct {
	Requests       uint64 `json:"requests"`
	Successes      uint64 `json:"successes"`
	Failures       uint64 `json:"failures"`
	TotalTokens    uint64 `json:"total_tokens"`
	TotalLatencyMs uint64 `json:"total_latency_ms"`
}

// runtimeMetrics tracks per-runtime counters and mirrors them to the
// process-wide prometheus registry.
type runtimeMetrics struct {
	provider string

	requests       atomic.Uint64
	successes      atomic.Uint64
	failures       atomic.Uint64
	totalTokens    atomic.Uint64
	totalLatencyMs atomic.Uint64
}

func newRuntimeMetrics(provider string) *runtimeMetrics {
	return &runtimeMetrics{provider: provider}
}

func (m *runtimeMetrics) recordStart() {
	m.requests.Add(1)
}

func (m *runtimeMetrics) recordSuccess(start time.Time, tokens int) {
	elapsed := uint64(time.Since(start).Milliseconds())
	m.successes.Add(1)
	m.totalLatencyMs.Add(elapsed)
	if tokens > 0 {
		m.totalTokens.Add(uint64(tokens))
		promTokens.WithLabelValues(m.provider).Add(float64(tokens))
	}
	promRequests.WithLabelValues(m.provider, "success").Inc()
	promLatency.WithLabelValues(m.provider).Add(float64(elapsed))
}

func (m *runtimeMetrics) recordFailure(start time.Time) {
	elapsed := uint64(time.Since(start).Milliseconds())
	m.failures.Add(1)
	m.totalLatencyMs.Add(elapsed)
	promRequests.WithLabelValues(m.provider, "failure").Inc()
	promLatency.WithLabelValues(m.provider).Add(float64(elapsed))
}

func (m *runtimeMetrics) snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Requests:       m.requests.Load(),
		Successes:      m.successes.Load(),
		Failures:       m.failures.Load(),
		TotalTokens:    m.totalTokens.Load(),
		TotalLatencyMs: m.totalLatencyMs.Load(),
	}
}
