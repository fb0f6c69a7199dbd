// Package ops provides stream operators built from ordinary pipeline
// components: sources (Generate, FromSlice, Interval), transforms (Map,
// MapErr, Filter), and sinks (Do, Collect). Transforms preserve originating
// times so downstream temporal joins align with the untransformed streams.
package ops
