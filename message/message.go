// Package message defines the envelope and typed message unit exchanged
// between pipeline components.
package message

import (
	"fmt"
	"time"
)

// Envelope carries the delivery metadata attached to every posted value.
// Envelopes are immutable after post; the runtime never rewrites them.
type Envelope struct {
	// SourceID identifies the emitter that produced the message.
	// Assigned by the pipeline at emitter creation, unique within one pipeline.
	SourceID int

	// SequenceID is strictly increasing per emitter, starting at 1.
	// Comparing sequence ids across different sources is meaningless.
	SequenceID int64

	// OriginatingTime is the event time: it drives ordering, alignment and
	// temporal joins.
	OriginatingTime time.Time

	// CreationTime is the pipeline-clock wall time at post. Diagnostics
	// only; never used for ordering.
	CreationTime time.Time
}

// Equal reports whether two envelopes match on all four fields.
// Times are compared with time.Time.Equal so differing monotonic clock
// readings or locations do not break equality.
func (e Envelope) Equal(other Envelope) bool {
	return e.SourceID == other.SourceID &&
		e.SequenceID == other.SequenceID &&
		e.OriginatingTime.Equal(other.OriginatingTime) &&
		e.CreationTime.Equal(other.CreationTime)
}

// String returns a compact representation for logs and error messages.
func (e Envelope) String() string {
	return fmt.Sprintf("source=%d seq=%d ot=%s", e.SourceID, e.SequenceID,
		e.OriginatingTime.Format(time.RFC3339Nano))
}

// Message pairs a typed payload with its envelope.
type Message[T any] struct {
	Data     T
	Envelope Envelope
}

// New constructs a message from a payload and an envelope.
func New[T any](data T, envelope Envelope) Message[T] {
	return Message[T]{Data: data, Envelope: envelope}
}

// Equal reports structural equality for comparable payload types:
// data equality plus envelope equality.
func Equal[T comparable](a, b Message[T]) bool {
	return a.Data == b.Data && a.Envelope.Equal(b.Envelope)
}

// EqualFunc reports structural equality using a caller-supplied payload
// comparison, for payload types that are not comparable.
func EqualFunc[T any](a, b Message[T], eq func(T, T) bool) bool {
	return eq(a.Data, b.Data) && a.Envelope.Equal(b.Envelope)
}
