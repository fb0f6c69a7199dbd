// Package bridge connects pipelines over NATS. An Exporter publishes a
// stream's messages to a subject as JSON frames carrying their envelopes;
// an Importer turns a subject back into a typed source stream in another
// pipeline, preserving event time. Conn wraps the shared client connection
// with retrying dial, reconnect logging, and traffic metrics.
//
// The bridge is best-effort: bus outages and malformed or redelivered
// frames degrade into counters and warnings, never into pipeline faults.
package bridge
