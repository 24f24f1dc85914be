package main

import (
	"context"
	"fmt"
	"os"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/moefuse/internal/logger"
)

type tuneEntry struct {
	Elements   int     `json:"elements"`
	BlockSize  int     `json:"block_size"`
	Throughput float64 `json:"elements_per_sec"`
}

type tuneReport struct {
	RunID      string      `json:"run_id"`
	DType      string      `json:"dtype"`
	Candidates []int       `json:"candidates"`
	Results    []tuneEntry `json:"results"`
}

func tuneCmd() *cli.Command {
	var (
		dtypeName  string
		tuneRuns   int64
		seed       int64
		asJSON     bool
		metricsOut string
	)

	return &cli.Command{
		Name:  "tune",
		Usage: "Autotune the activation block size for the given element counts",
		Flags: withCommon(
			&cli.Int64SliceFlag{
				Name:    "elements",
				Aliases: []string{"n"},
				Usage:   "element counts to tune (repeat or comma-separate)",
				Value:   []int64{1 << 12, 1 << 16, 1 << 20},
			},
			&cli.StringFlag{
				Name:        "dtype",
				Usage:       "element type (f32, f64, f16, bf16)",
				Value:       "f32",
				Destination: &dtypeName,
			},
			&cli.Int64Flag{
				Name:        "tune-runs",
				Usage:       "timed runs per candidate",
				Value:       3,
				Destination: &tuneRuns,
			},
			&cli.Int64Flag{
				Name:        "seed",
				Value:       42,
				Destination: &seed,
			},
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "write the results as JSON",
				Destination: &asJSON,
			},
			metricsFlag(&metricsOut),
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			ctx, cfg, err := prepare(ctx, cmd)
			if err != nil {
				return err
			}
			log := logger.FromContext(ctx)

			dt, err := floatDType(dtypeName)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			candidates := applyTuneConfig(cmd, cfg, &tuneRuns)
			kernel, tuner := newKernel(log, 0, candidates, int(tuneRuns))

			rep := tuneReport{RunID: uuid.NewString(), DType: dt.String()}
			for _, c := range tuner.Candidates() {
				rep.Candidates = append(rep.Candidates, c.BlockSize)
			}
			for _, n64 := range cmd.Int64Slice("elements") {
				if n64 < 1 {
					return cli.Exit(fmt.Sprintf("error: element count must be positive, got %d", n64), 1)
				}
				n := int(n64)
				a, b, err := randomPair(dt, n, seed)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: build inputs: %v", err), 1)
				}
				if _, err := kernel.Forward(a, b); err != nil {
					return cli.Exit(fmt.Sprintf("error: tune %d: %v", n, err), 1)
				}
				tuned, _ := tuner.Lookup(n)
				log.Info("tuned", "elements", n, "block_size", tuned.Cfg.BlockSize)
				rep.Results = append(rep.Results, tuneEntry{
					Elements:   n,
					BlockSize:  tuned.Cfg.BlockSize,
					Throughput: tuned.Score,
				})
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(rep); err != nil {
					return err
				}
			} else {
				fmt.Printf("%-12s %10s %16s\n", "Elements", "Block", "elems/s")
				for _, r := range rep.Results {
					fmt.Printf("%-12d %10d %16.4g\n", r.Elements, r.BlockSize, r.Throughput)
				}
			}
			if err := writeMetrics(metricsOut, os.Stdout); err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			return nil
		},
	}
}
