package metric

import (
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/chronoflow/errors"
)

func gatherNames(t *testing.T, r *MetricsRegistry) map[string]bool {
	t.Helper()
	families, err := r.PrometheusRegistry().Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	return names
}

func TestNewMetricsRegistryHasCoreMetrics(t *testing.T) {
	registry := NewMetricsRegistry()
	require.NotNil(t, registry.PrometheusRegistry())
	require.NotNil(t, registry.CoreMetrics())

	registry.CoreMetrics().RecordPipelineStatus("demo", 1)
	registry.CoreMetrics().RecordError("sink", "transient")
	registry.CoreMetrics().RecordBridgeStatus(true)

	names := gatherNames(t, registry)
	assert.True(t, names["chronoflow_runtime_pipeline_status"])
	assert.True(t, names["chronoflow_runtime_errors_total"])
	assert.True(t, names["chronoflow_bridge_connected"])
}

func TestRegisterCounter(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_counter",
		Help: "A test counter",
	})
	require.NoError(t, registry.RegisterCounter("sink", "test_counter", counter))
	counter.Inc()

	assert.True(t, gatherNames(t, registry)["test_counter"])
}

func TestRegisterDuplicateKeyRejected(t *testing.T) {
	registry := NewMetricsRegistry()

	first := prometheus.NewGauge(prometheus.GaugeOpts{Name: "depth", Help: "d"})
	require.NoError(t, registry.RegisterGauge("queue", "depth", first))

	second := prometheus.NewGauge(prometheus.GaugeOpts{Name: "depth2", Help: "d"})
	err := registry.RegisterGauge("queue", "depth", second)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestRegisterPrometheusConflictRejected(t *testing.T) {
	registry := NewMetricsRegistry()

	first := prometheus.NewCounter(prometheus.CounterOpts{Name: "dup", Help: "d"})
	require.NoError(t, registry.RegisterCounter("a", "dup", first))

	// Same fully-qualified Prometheus name under a different registry key.
	second := prometheus.NewCounter(prometheus.CounterOpts{Name: "dup", Help: "d"})
	err := registry.RegisterCounter("b", "dup", second)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestRegisterVecVariants(t *testing.T) {
	registry := NewMetricsRegistry()

	cv := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "cv", Help: "c"}, []string{"l"})
	gv := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "gv", Help: "g"}, []string{"l"})
	hv := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "hv", Help: "h"}, []string{"l"})
	h := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "h", Help: "h"})

	require.NoError(t, registry.RegisterCounterVec("svc", "cv", cv))
	require.NoError(t, registry.RegisterGaugeVec("svc", "gv", gv))
	require.NoError(t, registry.RegisterHistogramVec("svc", "hv", hv))
	require.NoError(t, registry.RegisterHistogram("svc", "h", h))

	cv.WithLabelValues("x").Inc()
	gv.WithLabelValues("x").Set(3)
	hv.WithLabelValues("x").Observe(0.1)
	h.Observe(0.2)

	names := gatherNames(t, registry)
	for _, want := range []string{"cv", "gv", "hv", "h"} {
		assert.True(t, names[want], "metric %s should be gatherable", want)
	}
}

func TestUnregister(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "gone", Help: "g"})
	require.NoError(t, registry.RegisterCounter("svc", "gone", counter))

	assert.True(t, registry.Unregister("svc", "gone"))
	assert.False(t, registry.Unregister("svc", "gone"), "second unregister finds nothing")

	// The key is free again.
	again := prometheus.NewCounter(prometheus.CounterOpts{Name: "gone", Help: "g"})
	require.NoError(t, registry.RegisterCounter("svc", "gone", again))
}

func TestConcurrentRegistration(t *testing.T) {
	registry := NewMetricsRegistry()

	var wg sync.WaitGroup
	errs := make([]error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := prometheus.NewCounter(prometheus.CounterOpts{
				Name: fmt.Sprintf("concurrent_%d", i),
				Help: "c",
			})
			errs[i] = registry.RegisterCounter("svc", fmt.Sprintf("concurrent_%d", i), c)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "registration %d", i)
	}
}
