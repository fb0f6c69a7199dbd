package config

import (
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	cerrors "github.com/c360/chronoflow/errors"
)

// configSchema is the JSON Schema every configuration document must satisfy
// before semantic validation runs. It is compiled once on first use.
const configSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "chronoflow pipeline configuration",
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "name": { "type": "string", "minLength": 1 },
    "workers": { "type": "integer", "minimum": 0 },
    "log_level": { "enum": ["debug", "info", "warn", "error"] },
    "log_format": { "enum": ["text", "json"] },
    "metrics_addr": { "type": "string" },
    "default_policy": { "$ref": "#/definitions/policy" },
    "bridges": {
      "type": "array",
      "items": { "$ref": "#/definitions/bridge" }
    }
  },
  "definitions": {
    "policy": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "kind": { "enum": ["", "unlimited", "latest", "throttled", "synchronous"] },
        "capacity": { "type": "integer", "minimum": 0 },
        "lag_ms": { "type": "integer", "minimum": 0 }
      }
    },
    "bridge": {
      "type": "object",
      "additionalProperties": false,
      "required": ["name", "direction", "subject"],
      "properties": {
        "name": { "type": "string", "minLength": 1 },
        "direction": { "enum": ["export", "import"] },
        "url": { "type": "string" },
        "subject": { "type": "string", "minLength": 1 },
        "policy": { "$ref": "#/definitions/policy" }
      }
    }
  }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *gojsonschema.Schema
	schemaErr      error
)

func loadSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiledSchema, schemaErr = gojsonschema.NewSchema(
			gojsonschema.NewStringLoader(configSchema))
	})
	return compiledSchema, schemaErr
}

// validateSchema runs the structural check on a JSON-encoded config document.
func validateSchema(doc []byte) error {
	schema, err := loadSchema()
	if err != nil {
		return cerrors.WrapFatal(err, "Config", "Validate", "compile embedded schema")
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return cerrors.WrapInvalid(err, "Config", "Validate", "schema check")
	}
	if result.Valid() {
		return nil
	}
	var sb strings.Builder
	for i, desc := range result.Errors() {
		if i > 0 {
			sb.WriteString("; ")
		}
		fmt.Fprintf(&sb, "%s: %s", desc.Field(), desc.Description())
	}
	return cerrors.WrapInvalid(cerrors.ErrInvalidConfig, "Config", "Validate", sb.String())
}
