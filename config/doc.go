// Package config loads and validates pipeline configuration.
//
// Configuration files are YAML (JSON also parses, being a YAML subset).
// Load and Parse fill defaults and validate in two passes: a structural
// check against an embedded JSON Schema, then semantic checks such as
// policy coherence and bridge subject syntax. PolicySpec bridges the
// serialized form to delivery.Policy via ToPolicy.
package config
