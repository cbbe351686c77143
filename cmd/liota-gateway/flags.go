package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPaths     []string
	LogLevel        string
	LogFormat       string
	MetricsAddr     string
	ShutdownTimeout time.Duration
	ShowVersion     bool
	Validate        bool
}

func parseFlags(args []string) (*CLIConfig, error) {
	cfg := &CLIConfig{}
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)

	var configPaths string
	fs.StringVar(&configPaths, "config",
		getEnv("LIOTA_CONFIG", "/etc/liota/gateway.json"),
		"Comma-separated configuration layers, later layers win (env: LIOTA_CONFIG)")
	fs.StringVar(&configPaths, "c",
		getEnv("LIOTA_CONFIG", "/etc/liota/gateway.json"),
		"Shorthand for -config")

	fs.StringVar(&cfg.LogLevel, "log-level", "",
		"Log level: debug, info, warn, error; overrides log.level (env: LIOTA_LOG_LEVEL)")
	fs.StringVar(&cfg.LogFormat, "log-format", "",
		"Log format: json, text; overrides log.format (env: LIOTA_LOG_FORMAT)")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", "",
		"Metrics and health listen address; overrides metrics.addr (env: LIOTA_METRICS_ADDR)")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("LIOTA_SHUTDOWN_TIMEOUT", 30*time.Second),
		"Graceful shutdown timeout (env: LIOTA_SHUTDOWN_TIMEOUT)")

	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	fs.BoolVar(&cfg.Validate, "validate", false, "Validate configuration, print it and exit")

	fs.Usage = func() { printDetailedHelp(fs) }

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	for _, p := range strings.Split(configPaths, ",") {
		if p = strings.TrimSpace(p); p != "" {
			cfg.ConfigPaths = append(cfg.ConfigPaths, p)
		}
	}
	return cfg, nil
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion {
		return nil
	}
	if len(cfg.ConfigPaths) == 0 {
		return fmt.Errorf("no configuration file given")
	}
	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid shutdown timeout: %v", cfg.ShutdownTimeout)
	}
	return nil
}

func printDetailedHelp(fs *flag.FlagSet) {
	_, _ = fmt.Fprintf(fs.Output(), `%s - edge gateway streaming device metrics to a data center component

Usage: %s [options]

Options:
`, appName, os.Args[0])
	fs.PrintDefaults()
	_, _ = fmt.Fprintf(fs.Output(), `
Examples:
  # Run with a base config and a site override
  %s -config=/etc/liota/gateway.json,/etc/liota/site.json

  # Run with debug logging
  %s -log-level=debug -log-format=text

  # Validate configuration only
  %s -validate

Version: %s
Build: %s
`, os.Args[0], os.Args[0], os.Args[0], Version, BuildTime)
}

// Environment variable helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
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
