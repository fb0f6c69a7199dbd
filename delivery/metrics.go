package delivery

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/chronoflow/metric"
)

// queueMetrics holds Prometheus metrics for one delivery queue.
type queueMetrics struct {
	enqueued      prometheus.Counter
	delivered     prometheus.Counter
	dropped       prometheus.Counter
	throttleWaits prometheus.Counter
	depth         prometheus.Gauge
}

// newQueueMetrics creates and registers queue metrics with the registry.
// The label identifies the receiver the queue belongs to.
func newQueueMetrics(registry *metric.MetricsRegistry, label, policy string) (*queueMetrics, error) {
	constLabels := prometheus.Labels{"receiver": label, "policy": policy}

	m := &queueMetrics{
		enqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "chronoflow",
			Subsystem:   "delivery",
			Name:        "enqueued_total",
			ConstLabels: constLabels,
			Help:        "Total messages enqueued for delivery",
		}),
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "chronoflow",
			Subsystem:   "delivery",
			Name:        "delivered_total",
			ConstLabels: constLabels,
			Help:        "Total messages dequeued for callback execution",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "chronoflow",
			Subsystem:   "delivery",
			Name:        "dropped_total",
			ConstLabels: constLabels,
			Help:        "Total messages dropped by replacement, lag eviction, or discard",
		}),
		throttleWaits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "chronoflow",
			Subsystem:   "delivery",
			Name:        "throttle_waits_total",
			ConstLabels: constLabels,
			Help:        "Total producer blocks caused by a full throttled queue",
		}),
		depth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "chronoflow",
			Subsystem:   "delivery",
			Name:        "queue_depth",
			ConstLabels: constLabels,
			Help:        "Current number of queued messages",
		}),
	}

	if err := registry.RegisterCounter(label, "delivery_enqueued", m.enqueued); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(label, "delivery_delivered", m.delivered); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(label, "delivery_dropped", m.dropped); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(label, "delivery_throttle_waits", m.throttleWaits); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(label, "delivery_queue_depth", m.depth); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *queueMetrics) recordEnqueue(depth, dropped int) {
	m.enqueued.Inc()
	if dropped > 0 {
		m.dropped.Add(float64(dropped))
	}
	m.depth.Set(float64(depth))
}

func (m *queueMetrics) recordDequeue(depth int) {
	m.delivered.Inc()
	m.depth.Set(float64(depth))
}

func (m *queueMetrics) recordClear(removed int) {
	if removed > 0 {
		m.dropped.Add(float64(removed))
	}
	m.depth.Set(0)
}

func (m *queueMetrics) recordThrottleWait() {
	m.throttleWaits.Inc()
}
