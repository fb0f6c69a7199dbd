// Package pipeline is the execution core of chronoflow: components connected
// by typed emitter/receiver ports, driven by a shared scheduler.
//
// A Pipeline is assembled in the Created state: AddComponent creates nodes,
// NewEmitter and NewReceiver create their ports, and Pipe connects them
// under a delivery policy. Start spawns source drivers and transitions to
// Running; the pipeline stops itself when every driver has returned, when a
// component faults, or when Stop is called.
//
// Messages posted on an emitter carry an Envelope stamping stream identity,
// per-emitter sequence, the caller-supplied originating time and the
// pipeline-clock creation time. Queued connections receive a deep clone of
// the posted value so producer and consumer never share mutable state;
// synchronous connections run the consumer inline and share the value by
// reference.
//
// Each component owns a synchronization domain: its callbacks are serialized
// against each other while distinct components run concurrently on the
// scheduler's worker pool. Posting requires the component's execution token,
// carried in the context of receiver callbacks and driver goroutines.
package pipeline
