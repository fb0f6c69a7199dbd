package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "github.com/c360/chronoflow/errors"
)

const fullYAML = `
name: telemetry
workers: 8
log_level: debug
log_format: json
metrics_addr: ":9102"
default_policy:
  kind: throttled
  capacity: 64
  lag_ms: 250
bridges:
  - name: radar-out
    direction: export
    url: nats://bus:4222
    subject: chronoflow.radar
  - name: gps-in
    direction: import
    subject: chronoflow.gps
    policy:
      kind: latest
`

func TestParseFullYAML(t *testing.T) {
	cfg, err := Parse([]byte(fullYAML))
	require.NoError(t, err)

	assert.Equal(t, "telemetry", cfg.Name)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, ":9102", cfg.MetricsAddr)

	require.Len(t, cfg.Bridges, 2)
	assert.Equal(t, DirectionExport, cfg.Bridges[0].Direction)
	assert.Equal(t, "nats://bus:4222", cfg.Bridges[0].URL)
	assert.Equal(t, "chronoflow.gps", cfg.Bridges[1].Subject)
	require.NotNil(t, cfg.Bridges[1].Policy)
	assert.Equal(t, PolicyLatest, cfg.Bridges[1].Policy.Kind)
	// Import bridge without an explicit URL gets the local default.
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.Bridges[1].URL)
}

func TestParseJSONPassthrough(t *testing.T) {
	cfg, err := Parse([]byte(`{"name": "demo", "workers": 2, "log_level": "warn"}`))
	require.NoError(t, err)
	assert.Equal(t, "demo", cfg.Name)
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`name: minimal`))
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, PolicyUnlimited, cfg.DefaultPolicy.Kind)
	assert.Zero(t, cfg.Workers)
}

func TestParseEmptyDocumentUsesDefaultName(t *testing.T) {
	cfg, err := Parse([]byte(""))
	require.NoError(t, err)
	assert.Equal(t, "chronoflow", cfg.Name)
}

func TestLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fullYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "telemetry", cfg.Name)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestParseRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"bad yaml":          "name: [unclosed",
		"unknown field":     "name: x\nsurprise: true",
		"bad log level":     "name: x\nlog_level: loud",
		"bad log format":    "name: x\nlog_format: xml",
		"negative workers":  "name: x\nworkers: -1",
		"bad policy kind":   "name: x\ndefault_policy:\n  kind: fastest",
		"sync default":      "name: x\ndefault_policy:\n  kind: synchronous",
		"bridge no subject": "name: x\nbridges:\n  - name: b\n    direction: export",
		"bad direction":     "name: x\nbridges:\n  - name: b\n    direction: sideways\n    subject: a.b",
		"bad subject":       "name: x\nbridges:\n  - name: b\n    direction: export\n    subject: 'a. .b'",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			require.Error(t, err)
			assert.True(t, cerrors.IsInvalid(err), "expected invalid classification, got %v", err)
		})
	}
}

func TestParseRejectsDuplicateBridgeNames(t *testing.T) {
	doc := `
name: x
bridges:
  - name: same
    direction: export
    subject: a.b
  - name: same
    direction: import
    subject: c.d
`
	_, err := Parse([]byte(doc))
	require.Error(t, err)
	assert.ErrorContains(t, err, "duplicate bridge name")
}

func TestPolicySpecToPolicy(t *testing.T) {
	t.Run("empty kind is unlimited", func(t *testing.T) {
		p, err := PolicySpec{}.ToPolicy()
		require.NoError(t, err)
		assert.Equal(t, "unlimited", p.Name)
		assert.Zero(t, p.MaximumQueueSize)
	})

	t.Run("latest", func(t *testing.T) {
		p, err := PolicySpec{Kind: PolicyLatest}.ToPolicy()
		require.NoError(t, err)
		assert.Equal(t, 1, p.MaximumQueueSize)
		assert.False(t, p.ThrottleWhenFull)
	})

	t.Run("throttled carries capacity", func(t *testing.T) {
		p, err := PolicySpec{Kind: PolicyThrottled, Capacity: 32}.ToPolicy()
		require.NoError(t, err)
		assert.Equal(t, 32, p.MaximumQueueSize)
		assert.True(t, p.ThrottleWhenFull)
	})

	t.Run("throttled requires capacity", func(t *testing.T) {
		_, err := PolicySpec{Kind: PolicyThrottled}.ToPolicy()
		require.Error(t, err)
		assert.True(t, cerrors.IsInvalid(err))
	})

	t.Run("capacity rejected elsewhere", func(t *testing.T) {
		_, err := PolicySpec{Kind: PolicyLatest, Capacity: 5}.ToPolicy()
		require.Error(t, err)
	})

	t.Run("lag constraint", func(t *testing.T) {
		p, err := PolicySpec{Kind: PolicyUnlimited, LagMs: 250}.ToPolicy()
		require.NoError(t, err)
		assert.Equal(t, 250*time.Millisecond, p.LagConstraint)
	})

	t.Run("synchronous rejects lag", func(t *testing.T) {
		_, err := PolicySpec{Kind: PolicySynchronous, LagMs: 10}.ToPolicy()
		require.Error(t, err)
	})

	t.Run("synchronous", func(t *testing.T) {
		p, err := PolicySpec{Kind: PolicySynchronous}.ToPolicy()
		require.NoError(t, err)
		assert.True(t, p.Synchronous)
	})
}
