// Package main implements the liota edge gateway. The gateway registers an
// edge system, its devices and their metrics with a data center component,
// then samples and publishes the metrics until it is signalled to stop.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sanket-mindstix/liota/config"
	"github.com/sanket-mindstix/liota/metric"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "liota-gateway"
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

	if err := run(os.Args[1:]); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string) error {
	cliCfg, err := parseFlags(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}
	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
		return nil
	}
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	cfg, err := loadConfig(cliCfg)
	if err != nil {
		return err
	}

	logger, closer := setupLogger(cfg.Log)
	defer closer.Close()
	slog.SetDefault(logger)

	if cliCfg.Validate {
		fmt.Println(cfg.String())
		logger.Info("Configuration is valid")
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, logger, cliCfg.ShutdownTimeout)
}

// loadConfig merges the configured layers and applies flag overrides.
func loadConfig(cli *CLIConfig) (*config.Config, error) {
	loader := config.NewLoader(nil)
	for _, path := range cli.ConfigPaths {
		loader.AddLayer(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	if cli.LogLevel != "" {
		cfg.Log.Level = cli.LogLevel
	}
	if cli.LogFormat != "" {
		cfg.Log.Format = cli.LogFormat
	}
	if cli.MetricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Addr = cli.MetricsAddr
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// serve runs the gateway and the metrics server until ctx ends, then stops
// both within shutdownTimeout.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger, shutdownTimeout time.Duration) error {
	gw := newGateway(cfg, logger, nil)
	g, gctx := errgroup.WithContext(ctx)

	if cfg.Metrics.Enabled {
		srv := metric.NewServer(cfg.Metrics.Addr, cfg.Metrics.Path, gw.registry, gw.monitor)
		g.Go(func() error {
			logger.Info("Metrics server starting", "addr", cfg.Metrics.Addr, "path", cfg.Metrics.Path)
			return srv.Run(gctx)
		})
	}

	g.Go(func() error {
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
			defer cancel()
			gw.close(closeCtx)
		}()

		if err := gw.start(gctx); err != nil {
			return fmt.Errorf("start gateway: %w", err)
		}
		return gw.agent.Run(gctx)
	})

	err := g.Wait()
	logger.Info("Gateway stopped", "error", err)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
