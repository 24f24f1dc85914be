package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/moefuse/internal/logger"
	"github.com/samcharles93/moefuse/internal/metrics"
)

var (
	workers    int64
	configFile string
	logLevel   string
	logFormat  string
	debug      bool
)

func commonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.Int64Flag{
			Name:        "workers",
			Aliases:     []string{"w"},
			Usage:       "max concurrent kernel blocks (0 = GOMAXPROCS)",
			Destination: &workers,
		},
		&cli.StringFlag{
			Name:        "config",
			Usage:       "path to config.yaml (default: user config dir)",
			Destination: &configFile,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

func metricsFlag(dest *string) cli.Flag {
	return &cli.StringFlag{
		Name:        "metrics",
		Usage:       "write Prometheus metrics to `FILE` after the run (- for stdout)",
		Destination: dest,
	}
}

// writeMetrics dumps the default registry to path. An empty path is a no-op
// and "-" writes to stdout.
func writeMetrics(path string, stdout io.Writer) error {
	switch path {
	case "":
		return nil
	case "-":
		return metrics.WriteText(stdout)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create metrics file: %w", err)
	}
	if err := metrics.WriteText(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// withCommon prepends the flags every kernel command accepts.
func withCommon(flags ...cli.Flag) []cli.Flag {
	out := append([]cli.Flag{}, commonFlags()...)
	out = append(out, loggingFlags()...)
	return append(out, flags...)
}

// prepare loads the config file, applies it under the explicit flags and
// installs the configured logger into ctx.
func prepare(ctx context.Context, c *cli.Command) (context.Context, Config, error) {
	path := configFile
	if path == "" {
		path = configPath()
	}
	cfg := LoadConfig(path)
	applyCommonConfig(c, cfg)

	level := logLevel
	if debug {
		level = "debug"
	}
	log, err := logger.Setup(logFormat, level, os.Stderr)
	if err != nil {
		return ctx, cfg, cli.Exit(fmt.Sprintf("error: %v", err), 1)
	}
	if workers < 0 {
		return ctx, cfg, cli.Exit(fmt.Sprintf("error: --workers must not be negative, got %d", workers), 1)
	}
	log.Debug("configuration", "path", path, "workers", workers, "log_format", logFormat)
	return logger.WithContext(ctx, log), cfg, nil
}
