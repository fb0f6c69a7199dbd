// Package chronoflow is a typed dataflow runtime: pipelines of components
// exchanging timestamped messages over strongly typed streams, with
// deterministic-when-synchronous delivery, temporal joins, and
// configurable backpressure.
//
// # Model
//
// A Pipeline owns a graph of Components. Components expose Emitters
// (typed outputs) and Receivers (typed inputs); Pipe connects one emitter
// to one receiver under a delivery Policy. Every posted value carries an
// Envelope with its originating (event) time and a per-emitter sequence,
// and each emitter enforces that originating times never regress.
//
//	┌────────┐  Post   ┌──────────┐  deliver  ┌──────────┐
//	│ driver │────────▶│ Emitter  │──────────▶│ Receiver │──▶ callback
//	└────────┘         └──────────┘  policy   └──────────┘
//	                        │                       │
//	                   envelope:              synchronization
//	                   event time,            domain: callbacks
//	                   sequence id            never overlap
//
// Delivery is either queued (the value is deep-cloned, the callback runs
// on the scheduler) or synchronous (the callback runs inline on the
// posting goroutine and shares the value by reference). Queued
// connections choose a backpressure policy: unlimited, latest-message,
// throttled, or lag-constrained variants.
//
// # Time
//
// Originating time is application-assigned event time, distinct from the
// wall-clock creation time stamped at post. Ordering, stream alignment,
// and the join operators all work in event time, so a graph replaying
// recorded data behaves like one running live.
//
// # Packages
//
// Runtime core:
//   - message: Envelope and typed Message[T]
//   - clone: deep-clone registry isolating queued deliveries
//   - delivery: per-connection queues and backpressure policies
//   - sched: worker pool with per-component synchronization domains
//   - pipeline: Pipeline, Component, Emitter[T], Receiver[T], lifecycle
//     and fault handling
//
// Stream algebra:
//   - join: temporal correlation (Nearest/LastBefore interpolators,
//     pairwise and n-way joins, keyed Parallel fan-out/gather)
//   - ops: sources, transforms, and sinks (Generate, Interval, FromSlice,
//     Map, Filter, Do, Collect)
//
// Infrastructure:
//   - errors: classified errors (transient, fatal, invalid) with
//     component/method context
//   - metric: Prometheus registry, core metrics, and the /metrics server
//   - config: YAML/JSON configuration with schema validation
//   - bridge: NATS export/import of streams between pipelines
//   - pkg/retry: backoff helper used by the bridge
//
// # Usage
//
// Assemble, run, and let the pipeline stop itself when sources complete:
//
//	p := pipeline.New("telemetry",
//	    pipeline.WithLogger(logger),
//	    pipeline.WithMetrics(registry))
//
//	ticks := ops.Interval(p, "ticks", 100*time.Millisecond, 50)
//	squares := ops.Map(p, "square", ticks,
//	    func(i int) int { return i * i }, delivery.Policy{})
//
//	j := join.Joined[int, int](p, "pair", join.NearestUnbounded[int]())
//	pipeline.MustPipe(ticks, j.Primary(), delivery.Policy{})
//	pipeline.MustPipe(squares, j.Secondary(), delivery.Policy{})
//
//	ops.Do(p, "sink", j.Out(), handlePair, delivery.Policy{})
//
//	if err := p.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Faults (callback errors, panics, ordering violations) stop the graph
// and surface from Run as an aggregate error naming the failing
// components.
package chronoflow
