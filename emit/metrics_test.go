package emit_test

import (
	"testing"

	"github.com/dshills/daer/emit"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func gatherByName(t *testing.T, registry *prometheus.Registry) map[string]*dto.MetricFamily {
	t.Helper()
	families, err := registry.Gather()
	require.NoError(t, err)

	byName := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		byName[f.GetName()] = f
	}
	return byName
}

func TestMetrics_RegistersTheNamedSeries(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := emit.NewMetrics(registry)

	m.IncStep("success")
	m.ObserveStepLatencyMS("success", 12.5)
	m.IncToolCall("search", "success")
	m.IncRetry("timeout")
	m.IncPolicyViolation("max_steps_exceeded")
	m.SetSchedulerQueueDepth(3)
	m.SetSchedulerInflight(2)

	byName := gatherByName(t, registry)

	for _, name := range []string{
		"daer_steps_total",
		"daer_step_latency_ms",
		"daer_tool_calls_total",
		"daer_retries_total",
		"daer_policy_violations_total",
		"daer_scheduler_queue_depth",
		"daer_scheduler_inflight",
	} {
		_, ok := byName[name]
		require.Truef(t, ok, "expected metric %s to be registered", name)
	}
}

func TestMetrics_GaugesReflectLastSetValue(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := emit.NewMetrics(registry)

	m.SetSchedulerQueueDepth(5)
	m.SetSchedulerInflight(4)
	m.SetSchedulerQueueDepth(1)

	byName := gatherByName(t, registry)
	require.Equal(t, float64(1), byName["daer_scheduler_queue_depth"].GetMetric()[0].GetGauge().GetValue())
	require.Equal(t, float64(4), byName["daer_scheduler_inflight"].GetMetric()[0].GetGauge().GetValue())
}

func TestMetrics_RetriesLabeledByReason(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := emit.NewMetrics(registry)

	m.IncRetry("timeout")
	m.IncRetry("timeout")
	m.IncRetry("worker_timeout")

	byName := gatherByName(t, registry)
	family := byName["daer_retries_total"]
	require.NotNil(t, family)

	byReason := make(map[string]float64)
	for _, metric := range family.GetMetric() {
		for _, label := range metric.GetLabel() {
			if label.GetName() == "reason" {
				byReason[label.GetValue()] = metric.GetCounter().GetValue()
			}
		}
	}
	require.Equal(t, float64(2), byReason["timeout"])
	require.Equal(t, float64(1), byReason["worker_timeout"])
}

func TestMetrics_NilReceiverIsANoOp(t *testing.T) {
	var m *emit.Metrics
	require.NotPanics(t, func() {
		m.IncStep("success")
		m.ObserveStepLatencyMS("success", 1)
		m.IncToolCall("search", "success")
		m.IncRetry("timeout")
		m.IncPolicyViolation("max_steps_exceeded")
		m.SetSchedulerQueueDepth(1)
		m.SetSchedulerInflight(1)
	})
}
