package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/c360/chronoflow/delivery"
	cerrors "github.com/c360/chronoflow/errors"
)

// Policy kinds accepted by PolicySpec.Kind.
const (
	PolicyUnlimited   = "unlimited"
	PolicyLatest      = "latest"
	PolicyThrottled   = "throttled"
	PolicySynchronous = "synchronous"
)

// Bridge directions accepted by BridgeSpec.Direction.
const (
	DirectionExport = "export"
	DirectionImport = "import"
)

// Config describes one pipeline process: identity, scheduler sizing,
// logging, the metrics endpoint, the default delivery policy applied to
// connections that don't specify their own, and any NATS bridges.
type Config struct {
	Name          string       `yaml:"name" json:"name"`
	Workers       int          `yaml:"workers,omitempty" json:"workers,omitempty"`
	LogLevel      string       `yaml:"log_level,omitempty" json:"log_level,omitempty"`
	LogFormat     string       `yaml:"log_format,omitempty" json:"log_format,omitempty"`
	MetricsAddr   string       `yaml:"metrics_addr,omitempty" json:"metrics_addr,omitempty"`
	DefaultPolicy PolicySpec   `yaml:"default_policy,omitempty" json:"default_policy,omitempty"`
	Bridges       []BridgeSpec `yaml:"bridges,omitempty" json:"bridges,omitempty"`
}

// PolicySpec is the serializable form of a delivery policy.
type PolicySpec struct {
	Kind     string `yaml:"kind" json:"kind"`
	Capacity int    `yaml:"capacity,omitempty" json:"capacity,omitempty"`
	LagMs    int    `yaml:"lag_ms,omitempty" json:"lag_ms,omitempty"`
}

// BridgeSpec configures one NATS bridge endpoint. Export bridges publish a
// stream to a subject; import bridges subscribe and feed a source emitter.
type BridgeSpec struct {
	Name      string      `yaml:"name" json:"name"`
	Direction string      `yaml:"direction" json:"direction"`
	URL       string      `yaml:"url" json:"url"`
	Subject   string      `yaml:"subject" json:"subject"`
	Policy    *PolicySpec `yaml:"policy,omitempty" json:"policy,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Name:          "chronoflow",
		LogLevel:      "info",
		LogFormat:     "text",
		DefaultPolicy: PolicySpec{Kind: PolicyUnlimited},
	}
}

// Load reads a configuration file and parses it. YAML and JSON are both
// accepted; JSON is a subset of YAML so a single decoder covers both.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, cerrors.Wrap(err, "Config", "Load", "read "+path)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes configuration bytes, fills defaults, and validates. Unknown
// fields are rejected so typos surface instead of silently vanishing.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, cerrors.WrapInvalid(err, "Config", "Parse", "decode")
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Name == "" {
		c.Name = "chronoflow"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
	if c.DefaultPolicy.Kind == "" {
		c.DefaultPolicy.Kind = PolicyUnlimited
	}
	for i := range c.Bridges {
		if c.Bridges[i].URL == "" {
			c.Bridges[i].URL = "nats://127.0.0.1:4222"
		}
	}
}

// Validate checks the configuration structurally against the embedded JSON
// schema, then applies the semantic checks the schema cannot express.
func (c *Config) Validate() error {
	doc, err := json.Marshal(c)
	if err != nil {
		return cerrors.WrapInvalid(err, "Config", "Validate", "encode for schema check")
	}
	if err := validateSchema(doc); err != nil {
		return err
	}
	return c.validateSemantics()
}

func (c *Config) validateSemantics() error {
	if c.Workers < 0 {
		return invalid("workers cannot be negative")
	}
	if _, err := c.DefaultPolicy.ToPolicy(); err != nil {
		return fmt.Errorf("default_policy: %w", err)
	}
	if c.DefaultPolicy.Kind == PolicySynchronous {
		return invalid("default_policy cannot be synchronous; synchronous delivery is opt-in per connection")
	}
	seen := make(map[string]struct{}, len(c.Bridges))
	for i, b := range c.Bridges {
		if err := b.validate(); err != nil {
			return fmt.Errorf("bridges[%d]: %w", i, err)
		}
		if _, dup := seen[b.Name]; dup {
			return invalid(fmt.Sprintf("bridges[%d]: duplicate bridge name %q", i, b.Name))
		}
		seen[b.Name] = struct{}{}
	}
	return nil
}

func (b BridgeSpec) validate() error {
	if b.Name == "" {
		return cerrors.WrapInvalid(cerrors.ErrMissingConfig, "Config", "Validate", "bridge name is required")
	}
	switch b.Direction {
	case DirectionExport, DirectionImport:
	default:
		return invalid(fmt.Sprintf("direction %q must be %q or %q", b.Direction, DirectionExport, DirectionImport))
	}
	if b.Subject == "" {
		return cerrors.WrapInvalid(cerrors.ErrMissingConfig, "Config", "Validate", "bridge subject is required")
	}
	if !isValidSubject(b.Subject) {
		return invalid(fmt.Sprintf("subject %q is not a valid NATS subject", b.Subject))
	}
	if b.Policy != nil {
		if _, err := b.Policy.ToPolicy(); err != nil {
			return fmt.Errorf("policy: %w", err)
		}
	}
	return nil
}

// ToPolicy converts the spec into a delivery policy.
func (s PolicySpec) ToPolicy() (delivery.Policy, error) {
	var p delivery.Policy
	switch s.Kind {
	case "", PolicyUnlimited:
		p = delivery.Unlimited()
	case PolicyLatest:
		p = delivery.LatestMessage()
	case PolicyThrottled:
		if s.Capacity <= 0 {
			return delivery.Policy{}, invalid("throttled policy requires a positive capacity")
		}
		p = delivery.Throttled(s.Capacity)
	case PolicySynchronous:
		p = delivery.Synchronous()
	default:
		return delivery.Policy{}, invalid(fmt.Sprintf("unknown policy kind %q", s.Kind))
	}
	if s.Capacity > 0 && s.Kind != PolicyThrottled {
		return delivery.Policy{}, invalid(fmt.Sprintf("capacity is only meaningful for %q policies", PolicyThrottled))
	}
	if s.LagMs < 0 {
		return delivery.Policy{}, invalid("lag_ms cannot be negative")
	}
	if s.LagMs > 0 {
		if s.Kind == PolicySynchronous {
			return delivery.Policy{}, invalid("synchronous delivery has no queue to age out")
		}
		p = p.WithLagConstraint(time.Duration(s.LagMs) * time.Millisecond)
	}
	return p, p.Validate()
}

func invalid(action string) error {
	return cerrors.WrapInvalid(cerrors.ErrInvalidConfig, "Config", "Validate", action)
}

// isValidSubject checks that a string is usable as a NATS subject: dot
// separated tokens of printable characters, no spaces, no empty tokens.
func isValidSubject(s string) bool {
	if s == "" {
		return false
	}
	for _, token := range strings.Split(s, ".") {
		if token == "" {
			return false
		}
		for _, r := range token {
			if unicode.IsSpace(r) || !unicode.IsPrint(r) {
				return false
			}
		}
	}
	return true
}
