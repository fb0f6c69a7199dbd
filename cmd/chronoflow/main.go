// Command chronoflow runs a demonstration dataflow graph: an interval
// source feeding a map stage, temporally joined back against the source,
// with a logging sink and optional NATS bridges from configuration.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"

	"github.com/c360/chronoflow/bridge"
	"github.com/c360/chronoflow/config"
	"github.com/c360/chronoflow/delivery"
	"github.com/c360/chronoflow/join"
	"github.com/c360/chronoflow/message"
	"github.com/c360/chronoflow/metric"
	"github.com/c360/chronoflow/ops"
	"github.com/c360/chronoflow/pipeline"
)

const (
	Version = "0.1.0"
	appName = "chronoflow"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("application failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil
	}

	cfg, err := loadConfig(cliCfg.ConfigPath)
	if err != nil {
		return err
	}

	// CLI and environment override the configuration file.
	if cliCfg.LogLevel != "" {
		cfg.LogLevel = cliCfg.LogLevel
	}
	if cliCfg.LogFormat != "" {
		cfg.LogFormat = cliCfg.LogFormat
	}

	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	if cliCfg.Validate {
		logger.Info("configuration is valid", "path", cliCfg.ConfigPath)
		return nil
	}

	logger.Info("starting", "config_path", cliCfg.ConfigPath, "pipeline", cfg.Name)

	registry := metric.NewMetricsRegistry()
	if cfg.MetricsAddr != "" {
		srv, err := metricsServer(cfg.MetricsAddr, registry)
		if err != nil {
			return err
		}
		go func() {
			if err := srv.Start(); err != nil {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer func() { _ = srv.Stop() }()
		logger.Info("metrics server listening", "addr", cfg.MetricsAddr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p, conns, err := buildDemo(ctx, cfg, cliCfg, registry, logger)
	if err != nil {
		return err
	}
	defer func() {
		for _, c := range conns {
			_ = c.Close()
		}
	}()

	// Run blocks until the source completes, a fault stops the graph, or a
	// signal cancels ctx.
	if err := p.Run(ctx); err != nil {
		return fmt.Errorf("pipeline %s: %w", cfg.Name, err)
	}
	logger.Info("shutdown complete", "pipeline", cfg.Name)
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func metricsServer(addr string, registry *metric.MetricsRegistry) (*metric.Server, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid metrics_addr %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid metrics_addr %q: %w", addr, err)
	}
	return metric.NewServer(port, "/metrics", registry), nil
}

// buildDemo assembles the demonstration graph:
//
//	ticks ──────────────┬────────────▶ join ──▶ log sink
//	  └──▶ square ──────┘                └──▶ exporters
//
// plus an importing source per import bridge, logged alongside.
func buildDemo(
	ctx context.Context,
	cfg *config.Config,
	cliCfg *CLIConfig,
	registry *metric.MetricsRegistry,
	logger *slog.Logger,
) (*pipeline.Pipeline, []*bridge.Conn, error) {
	defaultPolicy, err := cfg.DefaultPolicy.ToPolicy()
	if err != nil {
		return nil, nil, err
	}

	opts := []pipeline.Option{
		pipeline.WithLogger(logger),
		pipeline.WithMetrics(registry),
		pipeline.WithDefaultPolicy(defaultPolicy),
	}
	if cfg.Workers > 0 {
		opts = append(opts, pipeline.WithWorkers(cfg.Workers))
	}
	p := pipeline.New(cfg.Name, opts...)

	ticks := ops.Interval(p, "ticks", cliCfg.DemoInterval, cliCfg.DemoCount)
	squares := ops.Map(p, "square", ticks, func(i int) int { return i * i }, delivery.Policy{})

	j := join.Joined[int, int](p, "pair", join.NearestUnbounded[int]())
	pipeline.MustPipe(ticks, j.Primary(), delivery.Policy{})
	pipeline.MustPipe(squares, j.Secondary(), delivery.Policy{})

	ops.Do(p, "log-sink", j.Out(),
		func(_ context.Context, m message.Message[join.Pair[int, int]]) error {
			logger.Info("pair",
				"tick", m.Envelope.OriginatingTime.Format("15:04:05.000"),
				"value", m.Data.First,
				"square", m.Data.Second)
			return nil
		}, delivery.Policy{})

	conns, err := wireBridges(ctx, cfg, p, j.Out(), registry, logger)
	if err != nil {
		return nil, nil, err
	}
	return p, conns, nil
}

// wireBridges attaches configured exporters and importers, sharing one bus
// connection per distinct URL.
func wireBridges(
	ctx context.Context,
	cfg *config.Config,
	p *pipeline.Pipeline,
	pairs *pipeline.Emitter[join.Pair[int, int]],
	registry *metric.MetricsRegistry,
	logger *slog.Logger,
) ([]*bridge.Conn, error) {
	var conns []*bridge.Conn
	byURL := map[string]*bridge.Conn{}
	connTo := func(url string) (*bridge.Conn, error) {
		if c, ok := byURL[url]; ok {
			return c, nil
		}
		c, err := bridge.Connect(ctx, url,
			bridge.WithLogger(logger),
			bridge.WithMetrics(registry),
			bridge.WithClientName(appName))
		if err != nil {
			return nil, fmt.Errorf("connect bus %s: %w", url, err)
		}
		byURL[url] = c
		conns = append(conns, c)
		return c, nil
	}

	for _, spec := range cfg.Bridges {
		conn, err := connTo(spec.URL)
		if err != nil {
			return conns, err
		}
		policy := delivery.Policy{}
		if spec.Policy != nil {
			if policy, err = spec.Policy.ToPolicy(); err != nil {
				return conns, fmt.Errorf("bridge %s: %w", spec.Name, err)
			}
		}
		switch spec.Direction {
		case config.DirectionExport:
			if _, err := bridge.NewExporter(p, spec.Name, conn, spec.Subject, pairs, policy); err != nil {
				return conns, fmt.Errorf("bridge %s: %w", spec.Name, err)
			}
			logger.Info("export bridge attached", "bridge", spec.Name, "subject", spec.Subject)
		case config.DirectionImport:
			im, err := bridge.NewImporter[float64](p, spec.Name, conn, spec.Subject)
			if err != nil {
				return conns, fmt.Errorf("bridge %s: %w", spec.Name, err)
			}
			name := spec.Name
			ops.Do(p, spec.Name+"-sink", im.Out(),
				func(_ context.Context, m message.Message[float64]) error {
					logger.Info("imported", "bridge", name, "value", m.Data,
						"tick", m.Envelope.OriginatingTime.Format("15:04:05.000"))
					return nil
				}, policy)
			logger.Info("import bridge attached", "bridge", spec.Name, "subject", spec.Subject)
		}
	}
	return conns, nil
}
