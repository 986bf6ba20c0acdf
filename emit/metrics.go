package emit

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects Prometheus instrumentation for a Runtime deployment.
// All series are namespaced "daer_".
//
//   - steps_total (counter): steps driven through the engine loop, labeled by status.
//   - step_latency_ms (histogram): per-step duration, labeled by status.
//   - tool_calls_total (counter): tool invocations, labeled by tool and outcome.
//   - retries_total (counter): tool-call retries and scheduler requeues, labeled by reason.
//   - policy_violations_total (counter): hard-stops, labeled by kind.
//   - scheduler_queue_depth (gauge): jobs pending claim.
//   - scheduler_inflight (gauge): jobs currently claimed by a worker.
type Metrics struct {
	stepsTotal          *prometheus.CounterVec
	stepLatency         *prometheus.HistogramVec
	toolCalls           *prometheus.CounterVec
	retries             *prometheus.CounterVec
	policyViolations    *prometheus.CounterVec
	schedulerQueueDepth prometheus.Gauge
	schedulerInflight   prometheus.Gauge

	mu      sync.RWMutex
	enabled bool
}

// NewMetrics registers every series with registry (use
// prometheus.DefaultRegisterer for the global registry, or a fresh
// prometheus.NewRegistry() for test isolation).
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		enabled: true,
		stepsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "daer",
			Name:      "steps_total",
			Help:      "Steps driven through the engine loop.",
		}, []string{"status"}),
		stepLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "daer",
			Name:      "step_latency_ms",
			Help:      "Step execution duration in milliseconds.",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
		}, []string{"status"}),
		toolCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "daer",
			Name:      "tool_calls_total",
			Help:      "Tool invocations routed through the interceptor.",
		}, []string{"tool", "outcome"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "daer",
			Name:      "retries_total",
			Help:      "Retry attempts emitted by the tool interceptor or the distributed scheduler.",
		}, []string{"reason"}),
		policyViolations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "daer",
			Name:      "policy_violations_total",
			Help:      "Hard-stops raised by the policy engine.",
		}, []string{"kind"}),
		schedulerQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "daer",
			Name:      "scheduler_queue_depth",
			Help:      "Jobs waiting to be claimed by a worker.",
		}),
		schedulerInflight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "daer",
			Name:      "scheduler_inflight",
			Help:      "Jobs currently claimed by a worker and not yet acked.",
		}),
	}
}

// IncStep records one engine step outcome (e.g. "success", "error",
// "retry"), mirroring the status label ObserveStepLatencyMS uses for
// the same step.
func (m *Metrics) IncStep(status string) {
	if m == nil {
		return
	}
	m.stepsTotal.WithLabelValues(status).Inc()
}

// SetSchedulerInflight reports how many jobs are currently claimed by a
// worker and not yet acked.
func (m *Metrics) SetSchedulerInflight(n int) {
	if m == nil {
		return
	}
	m.schedulerInflight.Set(float64(n))
}

func (m *Metrics) ObserveStepLatencyMS(status string, ms float64) {
	if m == nil {
		return
	}
	m.stepLatency.WithLabelValues(status).Observe(ms)
}

func (m *Metrics) IncToolCall(tool, outcome string) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool, outcome).Inc()
}

func (m *Metrics) IncRetry(reason string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncPolicyViolation(kind string) {
	if m == nil {
		return
	}
	m.policyViolations.WithLabelValues(kind).Inc()
}

func (m *Metrics) SetSchedulerQueueDepth(n int) {
	if m == nil {
		return
	}
	m.schedulerQueueDepth.Set(float64(n))
}
