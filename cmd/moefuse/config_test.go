package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/moefuse/internal/autotune"
	"github.com/samcharles93/moefuse/internal/moe"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
workers: 6
block_size: 64
tune_candidates: [256, 1024]
tune_runs: 7
log_level: debug
log_format: json
`)
	cfg := LoadConfig(path)
	if cfg.Workers == nil || *cfg.Workers != 6 {
		t.Fatalf("workers: %v", cfg.Workers)
	}
	if cfg.BlockSize == nil || *cfg.BlockSize != 64 {
		t.Fatalf("block_size: %v", cfg.BlockSize)
	}
	if len(cfg.TuneCandidates) != 2 || cfg.TuneCandidates[1] != 1024 {
		t.Fatalf("tune_candidates: %v", cfg.TuneCandidates)
	}
	if cfg.TuneRuns == nil || *cfg.TuneRuns != 7 {
		t.Fatalf("tune_runs: %v", cfg.TuneRuns)
	}
	if cfg.LogLevel != "debug" || cfg.LogFormat != "json" {
		t.Fatalf("logging: %q %q", cfg.LogLevel, cfg.LogFormat)
	}
}

func TestLoadConfigMissingOrMalformed(t *testing.T) {
	if cfg := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml")); cfg.Workers != nil || cfg.LogLevel != "" {
		t.Fatalf("missing file should give zero config, got %+v", cfg)
	}
	if cfg := LoadConfig(writeConfig(t, "workers: [not, an, int")); cfg.Workers != nil {
		t.Fatalf("malformed file should give zero config, got %+v", cfg)
	}
	if cfg := LoadConfig(""); cfg.Workers != nil {
		t.Fatalf("empty path should give zero config, got %+v", cfg)
	}
}

// runWith parses args against the shared flags and hands the parsed command
// to fn.
func runWith(t *testing.T, args []string, extra []cli.Flag, fn func(c *cli.Command)) {
	t.Helper()
	cmd := &cli.Command{
		Name:  "test",
		Flags: withCommon(extra...),
		Action: func(_ context.Context, c *cli.Command) error {
			fn(c)
			return nil
		},
	}
	if err := cmd.Run(context.Background(), append([]string{"test"}, args...)); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestApplyCommonConfigPrecedence(t *testing.T) {
	six := int64(6)
	cfg := Config{Workers: &six, LogLevel: "warn", LogFormat: "text"}

	t.Run("config fills unset flags", func(t *testing.T) {
		runWith(t, nil, nil, func(c *cli.Command) {
			applyCommonConfig(c, cfg)
		})
		if workers != 6 || logLevel != "warn" || logFormat != "text" {
			t.Fatalf("got workers=%d level=%q format=%q", workers, logLevel, logFormat)
		}
	})

	t.Run("explicit flags win", func(t *testing.T) {
		runWith(t, []string{"--workers", "2", "--log-format", "json"}, nil, func(c *cli.Command) {
			applyCommonConfig(c, cfg)
		})
		if workers != 2 || logFormat != "json" {
			t.Fatalf("got workers=%d format=%q", workers, logFormat)
		}
		if logLevel != "warn" {
			t.Fatalf("unset level should come from config, got %q", logLevel)
		}
	})

	t.Run("defaults without config", func(t *testing.T) {
		runWith(t, nil, nil, func(c *cli.Command) {
			applyCommonConfig(c, Config{})
		})
		if workers != 0 || logLevel != "info" || logFormat != "pretty" {
			t.Fatalf("got workers=%d level=%q format=%q", workers, logLevel, logFormat)
		}
	})
}

func TestApplyPermuteConfig(t *testing.T) {
	var blockSize int64
	flag := func() []cli.Flag {
		return []cli.Flag{&cli.Int64Flag{Name: "block-size", Value: moe.DefaultBlockSize, Destination: &blockSize}}
	}
	sixtyFour := int64(64)

	runWith(t, nil, flag(), func(c *cli.Command) {
		applyPermuteConfig(c, Config{BlockSize: &sixtyFour}, &blockSize)
	})
	if blockSize != 64 {
		t.Fatalf("config block size not applied: %d", blockSize)
	}

	runWith(t, []string{"--block-size", "16"}, flag(), func(c *cli.Command) {
		applyPermuteConfig(c, Config{BlockSize: &sixtyFour}, &blockSize)
	})
	if blockSize != 16 {
		t.Fatalf("flag should win over config: %d", blockSize)
	}
}

func TestApplyTuneConfig(t *testing.T) {
	var runs int64
	flag := func() []cli.Flag {
		return []cli.Flag{&cli.Int64Flag{Name: "tune-runs", Value: 3, Destination: &runs}}
	}
	seven := int64(7)

	var candidates []int
	runWith(t, nil, flag(), func(c *cli.Command) {
		candidates = applyTuneConfig(c, Config{TuneRuns: &seven, TuneCandidates: []int{64}}, &runs)
	})
	if runs != 7 || len(candidates) != 1 || candidates[0] != 64 {
		t.Fatalf("runs=%d candidates=%v", runs, candidates)
	}

	runWith(t, []string{"--tune-runs", "2"}, flag(), func(c *cli.Command) {
		candidates = applyTuneConfig(c, Config{TuneRuns: &seven}, &runs)
	})
	if runs != 2 || len(candidates) != len(autotune.DefaultBlockSizes) {
		t.Fatalf("runs=%d candidates=%v", runs, candidates)
	}
}
