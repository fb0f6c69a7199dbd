package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"
)

// CLIConfig holds command-line configuration.
type CLIConfig struct {
	ConfigPath   string
	LogLevel     string
	LogFormat    string
	DemoCount    int
	DemoInterval time.Duration
	ShowVersion  bool
	ShowHelp     bool
	Validate     bool
}

func parseFlags() *CLIConfig {
	cfg := &CLIConfig{}

	flag.StringVar(&cfg.ConfigPath, "config",
		getEnv("CHRONOFLOW_CONFIG", ""),
		"Path to configuration file, empty for built-in defaults (env: CHRONOFLOW_CONFIG)")

	flag.StringVar(&cfg.LogLevel, "log-level",
		getEnv("CHRONOFLOW_LOG_LEVEL", ""),
		"Log level: debug, info, warn, error; overrides config (env: CHRONOFLOW_LOG_LEVEL)")

	flag.StringVar(&cfg.LogFormat, "log-format",
		getEnv("CHRONOFLOW_LOG_FORMAT", ""),
		"Log format: json, text; overrides config (env: CHRONOFLOW_LOG_FORMAT)")

	flag.IntVar(&cfg.DemoCount, "demo-count",
		getEnvInt("CHRONOFLOW_DEMO_COUNT", 50),
		"Number of demo messages to emit, 0 to run until interrupted (env: CHRONOFLOW_DEMO_COUNT)")

	flag.DurationVar(&cfg.DemoInterval, "demo-interval",
		getEnvDuration("CHRONOFLOW_DEMO_INTERVAL", 100*time.Millisecond),
		"Interval between demo messages (env: CHRONOFLOW_DEMO_INTERVAL)")

	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	flag.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	flag.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	flag.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	flag.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	flag.Usage = printDetailedHelp

	flag.Parse()
	return cfg
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}
	if cfg.ConfigPath != "" {
		if _, err := os.Stat(cfg.ConfigPath); err != nil {
			return fmt.Errorf("config file not found: %s", cfg.ConfigPath)
		}
	}
	if cfg.LogLevel != "" && !contains([]string{"debug", "info", "warn", "error"}, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	if cfg.LogFormat != "" && !contains([]string{"json", "text"}, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}
	if cfg.DemoCount < 0 {
		return fmt.Errorf("invalid demo count: %d", cfg.DemoCount)
	}
	if cfg.DemoInterval <= 0 {
		return fmt.Errorf("invalid demo interval: %s", cfg.DemoInterval)
	}
	return nil
}

func printDetailedHelp() {
	_, _ = fmt.Fprintf(os.Stderr, `%s - typed dataflow pipeline runtime

Usage: %s [options]

Options:
`, appName, os.Args[0])
	flag.PrintDefaults()
	_, _ = fmt.Fprintf(os.Stderr, `
Examples:
  # Run the demo graph with defaults
  %s

  # Run with a pipeline configuration
  %s --config=/etc/chronoflow/pipeline.yaml

  # Validate configuration only
  %s --config=pipeline.yaml --validate

Version: %s
`, os.Args[0], os.Args[0], os.Args[0], Version)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
