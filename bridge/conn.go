package bridge

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	cerrors "github.com/c360/chronoflow/errors"
	"github.com/c360/chronoflow/metric"
	"github.com/c360/chronoflow/pkg/retry"
)

// Conn is a shared bus connection. One Conn typically backs every exporter
// and importer in a process; the underlying NATS client multiplexes
// subjects over a single socket.
type Conn struct {
	url      string
	name     string
	logger   *slog.Logger
	metrics  *metric.Metrics
	retryCfg retry.Config
	natsOpts []nats.Option

	mu sync.RWMutex
	nc *nats.Conn
}

// ConnOption configures a bus connection.
type ConnOption func(*Conn)

// WithLogger sets the connection logger.
func WithLogger(logger *slog.Logger) ConnOption {
	return func(c *Conn) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics wires connection and traffic counters into the registry's
// core metrics.
func WithMetrics(registry *metric.MetricsRegistry) ConnOption {
	return func(c *Conn) {
		if registry != nil {
			c.metrics = registry.CoreMetrics()
		}
	}
}

// WithRetry overrides the dial retry configuration.
func WithRetry(cfg retry.Config) ConnOption {
	return func(c *Conn) {
		c.retryCfg = cfg
	}
}

// WithClientName sets the client name reported to the server.
func WithClientName(name string) ConnOption {
	return func(c *Conn) {
		c.name = name
	}
}

// WithNATSOptions appends raw client options (credentials, TLS) to the dial.
func WithNATSOptions(opts ...nats.Option) ConnOption {
	return func(c *Conn) {
		c.natsOpts = append(c.natsOpts, opts...)
	}
}

// Connect dials the bus, retrying with backoff until ctx is cancelled or
// the retry budget is spent. Once established, the underlying client
// reconnects on its own indefinitely.
func Connect(ctx context.Context, url string, opts ...ConnOption) (*Conn, error) {
	c := &Conn{
		url:      url,
		name:     "chronoflow",
		logger:   slog.Default(),
		retryCfg: retry.Quick(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	err := retry.Do(ctx, c.retryCfg, func() error {
		nc, err := nats.Connect(c.url, c.connectionOptions()...)
		if err != nil {
			c.logger.Warn("bus dial failed", "url", c.url, "error", err)
			return cerrors.WrapTransient(err, "Conn", "Connect", "dial "+c.url)
		}
		c.mu.Lock()
		c.nc = nc
		c.mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.metrics.RecordBridgeStatus(true)
	if rtt, err := c.RTT(); err == nil {
		c.metrics.RecordBridgeRTT(rtt)
	}
	c.logger.Info("bus connected", "url", c.url)
	return c, nil
}

func (c *Conn) connectionOptions() []nats.Option {
	opts := []nats.Option{
		nats.Name(c.name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.metrics.RecordBridgeStatus(false)
			c.logger.Warn("bus disconnected", "url", c.url, "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.metrics.RecordBridgeStatus(true)
			c.metrics.RecordBridgeReconnect()
			c.logger.Info("bus reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			c.metrics.RecordBridgeStatus(false)
			c.logger.Info("bus connection closed", "url", c.url)
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			c.logger.Warn("bus async error", "subject", subject, "error", err)
		}),
	}
	return append(opts, c.natsOpts...)
}

// URL returns the configured server URL.
func (c *Conn) URL() string {
	return c.url
}

// IsConnected reports whether the client currently holds a live connection.
func (c *Conn) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.nc != nil && c.nc.IsConnected()
}

// RTT measures the round trip to the server.
func (c *Conn) RTT() (time.Duration, error) {
	c.mu.RLock()
	nc := c.nc
	c.mu.RUnlock()
	if nc == nil || !nc.IsConnected() {
		return 0, cerrors.WrapTransient(cerrors.ErrNoConnection, "Conn", "RTT", "ping")
	}
	return nc.RTT()
}

// Publish sends a raw frame to a subject.
func (c *Conn) Publish(subject string, data []byte) error {
	c.mu.RLock()
	nc := c.nc
	c.mu.RUnlock()
	if nc == nil {
		return cerrors.WrapTransient(cerrors.ErrNoConnection, "Conn", "Publish", "publish to "+subject)
	}
	if err := nc.Publish(subject, data); err != nil {
		return cerrors.WrapTransient(err, "Conn", "Publish", "publish to "+subject)
	}
	return nil
}

// Subscribe delivers every frame on subject to handler. The handler runs on
// the client's delivery goroutine and must not block.
func (c *Conn) Subscribe(subject string, handler func(data []byte)) (*nats.Subscription, error) {
	c.mu.RLock()
	nc := c.nc
	c.mu.RUnlock()
	if nc == nil {
		return nil, cerrors.WrapTransient(cerrors.ErrNoConnection, "Conn", "Subscribe", "subscribe "+subject)
	}
	sub, err := nc.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return nil, cerrors.Wrap(err, "Conn", "Subscribe", "subscribe "+subject)
	}
	return sub, nil
}

// Close drains in-flight messages and closes the connection.
func (c *Conn) Close() error {
	c.mu.Lock()
	nc := c.nc
	c.nc = nil
	c.mu.Unlock()
	if nc == nil {
		return nil
	}
	if err := nc.Drain(); err != nil {
		nc.Close()
		return cerrors.Wrap(err, "Conn", "Close", "drain")
	}
	return nil
}
