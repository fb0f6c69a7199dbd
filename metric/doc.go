// Package metric provides Prometheus-based metrics collection for the
// chronoflow runtime.
//
// A MetricsRegistry carries a private prometheus.Registry pre-loaded with
// core runtime metrics (pipeline status, classified errors, bridge health)
// plus the Go runtime collectors. Runtime packages register their own
// metrics through the MetricsRegistrar interface under "component.metric"
// keys, which makes duplicate registration an explicit, classified error
// instead of a Prometheus panic.
//
// Server exposes the registry over HTTP:
//
//	registry := metric.NewMetricsRegistry()
//	server := metric.NewServer(9090, "/metrics", registry)
//	go server.Start()
//	defer server.Stop()
//
// Pass the registry to pipeline.WithMetrics to light up posted/delivered
// counters, queue depth gauges and callback duration histograms.
package metric
