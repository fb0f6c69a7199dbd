package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	cerrors "github.com/c360/chronoflow/errors"
	"github.com/c360/chronoflow/metric"
	"github.com/c360/chronoflow/pipeline"
)

// importBuffer bounds frames waiting between the bus delivery goroutine and
// the importer driver. The subscription handler never blocks; overflow is
// dropped and counted.
const importBuffer = 256

// Importer is a source component fed from a bus subject. Frames become
// messages on its emitter with their original event times. Arrivals whose
// originating time regresses (bus redelivery, competing publishers) are
// dropped with a warning instead of faulting the pipeline, preserving the
// emitter's ordering guarantee.
type Importer[T any] struct {
	name    string
	subject string
	conn    *Conn
	comp    *pipeline.Component
	out     *pipeline.Emitter[T]
	logger  *slog.Logger
	metrics *metric.Metrics
}

// NewImporter creates an importing source on p. Its driver subscribes when
// the pipeline starts and posts until the pipeline stops.
func NewImporter[T any](p *pipeline.Pipeline, name string, conn *Conn, subject string) (*Importer[T], error) {
	im := &Importer[T]{
		name:    name,
		subject: subject,
		conn:    conn,
		comp:    p.AddComponent(name),
		logger:  conn.logger.With("bridge", name, "subject", subject),
		metrics: conn.metrics,
	}
	im.out = pipeline.NewEmitter[T](im.comp, "out")
	im.comp.OnStart(im.run)
	return im, nil
}

// Out returns the emitter carrying imported messages.
func (im *Importer[T]) Out() *pipeline.Emitter[T] {
	return im.out
}

func (im *Importer[T]) run(ctx context.Context) error {
	frames := make(chan []byte, importBuffer)
	sub, err := im.conn.Subscribe(im.subject, func(data []byte) {
		select {
		case frames <- data:
		default:
			im.metrics.RecordImportDropped(im.subject, "overflow")
			im.logger.Warn("import buffer full, frame dropped")
		}
	})
	if err != nil {
		return err
	}
	defer func() { _ = sub.Unsubscribe() }()

	var lastOT time.Time
	var seen bool
	for {
		select {
		case <-ctx.Done():
			return nil
		case data := <-frames:
			ot, err := im.post(ctx, data, lastOT, seen)
			if err != nil {
				if errors.Is(err, cerrors.ErrPipelineNotRunning) || errors.Is(err, cerrors.ErrStreamClosed) {
					return nil
				}
				return err
			}
			if !ot.IsZero() {
				lastOT, seen = ot, true
			}
		}
	}
}

// post decodes one frame and posts it. It returns the frame's originating
// time when the message was accepted, and the zero time when the frame was
// dropped.
func (im *Importer[T]) post(ctx context.Context, data []byte, lastOT time.Time, seen bool) (time.Time, error) {
	wm, err := decodeWire(data)
	if err != nil {
		im.metrics.RecordImportDropped(im.subject, "decode")
		im.logger.Warn("import frame rejected", "error", err)
		return time.Time{}, nil
	}
	var value T
	if err := json.Unmarshal(wm.Payload, &value); err != nil {
		im.metrics.RecordImportDropped(im.subject, "decode")
		im.logger.Warn("import payload rejected", "error", err)
		return time.Time{}, nil
	}
	if seen && wm.OriginatingTime.Before(lastOT) {
		im.metrics.RecordImportDropped(im.subject, "regression")
		im.logger.Warn("import frame out of order, dropped",
			"originating_time", wm.OriginatingTime, "watermark", lastOT)
		return time.Time{}, nil
	}
	if err := im.out.Post(ctx, value, wm.OriginatingTime); err != nil {
		return time.Time{}, err
	}
	im.metrics.RecordImported(im.subject)
	return wm.OriginatingTime, nil
}
