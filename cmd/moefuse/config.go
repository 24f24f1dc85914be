package main

import (
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/samcharles93/moefuse/internal/autotune"
	"github.com/samcharles93/moefuse/internal/moe"
)

// Config represents the moefuse configuration file (~/.config/moefuse/config.yaml).
// Pointer fields distinguish "not set" from zero values.
type Config struct {
	Workers *int64 `yaml:"workers"`

	// Padding block of the permute kernel.
	BlockSize *int64 `yaml:"block_size"`

	// Activation autotuning
	TuneCandidates []int  `yaml:"tune_candidates"`
	TuneRuns       *int64 `yaml:"tune_runs"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "moefuse", "config.yaml")
}

// LoadConfig reads the config file at path. A missing or malformed file
// yields a zero Config.
func LoadConfig(path string) Config {
	if path == "" {
		return Config{}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}
	}
	return cfg
}

// applyCommonConfig applies config file defaults to the shared flag
// variables when the corresponding flag was not explicitly set.
func applyCommonConfig(c *cli.Command, cfg Config) {
	if cfg.Workers != nil && !c.IsSet("workers") {
		workers = *cfg.Workers
	}
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// applyTuneConfig resolves the autotune candidates and the timed runs per
// candidate.
func applyTuneConfig(c *cli.Command, cfg Config, tuneRuns *int64) []int {
	if cfg.TuneRuns != nil && !c.IsSet("tune-runs") {
		*tuneRuns = *cfg.TuneRuns
	}
	if len(cfg.TuneCandidates) > 0 {
		return cfg.TuneCandidates
	}
	return autotune.DefaultBlockSizes
}

// applyPermuteConfig resolves the padding block size.
func applyPermuteConfig(c *cli.Command, cfg Config, blockSize *int64) {
	if c.IsSet("block-size") {
		return
	}
	if cfg.BlockSize != nil {
		*blockSize = *cfg.BlockSize
		return
	}
	*blockSize = moe.DefaultBlockSize
}
