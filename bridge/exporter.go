package bridge

import (
	"context"
	"log/slog"

	"github.com/c360/chronoflow/delivery"
	"github.com/c360/chronoflow/message"
	"github.com/c360/chronoflow/metric"
	"github.com/c360/chronoflow/pipeline"
)

// Exporter publishes a stream to a bus subject. Each delivered message is
// framed with its envelope and JSON payload; publish failures are logged
// and counted rather than faulting the pipeline, since the bus may be
// transiently unreachable while the graph is healthy.
type Exporter[T any] struct {
	name       string
	subject    string
	pipelineID string
	conn       *Conn
	comp       *pipeline.Component
	logger     *slog.Logger
	metrics    *metric.Metrics
}

// NewExporter attaches an export tap to src. The policy governs how export
// backpressure feeds back into the graph; a zero policy uses the pipeline
// default.
func NewExporter[T any](
	p *pipeline.Pipeline,
	name string,
	conn *Conn,
	subject string,
	src *pipeline.Emitter[T],
	policy delivery.Policy,
) (*Exporter[T], error) {
	x := &Exporter[T]{
		name:       name,
		subject:    subject,
		pipelineID: p.ID(),
		conn:       conn,
		comp:       p.AddComponent(name),
		logger:     conn.logger.With("bridge", name, "subject", subject),
		metrics:    conn.metrics,
	}
	in := pipeline.NewReceiver(x.comp, "in", x.receive)
	if err := pipeline.Pipe(src, in, policy); err != nil {
		return nil, err
	}
	return x, nil
}

// Subject returns the subject frames are published to.
func (x *Exporter[T]) Subject() string {
	return x.subject
}

func (x *Exporter[T]) receive(_ context.Context, m message.Message[T]) error {
	frame, err := encodeWire(x.pipelineID, m.Envelope, m.Data)
	if err != nil {
		// A payload that cannot be encoded will never encode; this is a
		// graph bug, not a bus condition.
		return err
	}
	if err := x.conn.Publish(x.subject, frame); err != nil {
		x.metrics.RecordError(x.name, "publish")
		x.logger.Warn("export publish failed", "envelope", m.Envelope.String(), "error", err)
		return nil
	}
	x.metrics.RecordExported(x.subject)
	return nil
}
