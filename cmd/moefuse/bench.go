package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/moefuse/internal/autotune"
	"github.com/samcharles93/moefuse/internal/grid"
	"github.com/samcharles93/moefuse/internal/logger"
	"github.com/samcharles93/moefuse/internal/moe"
	"github.com/samcharles93/moefuse/internal/swiglu"
	"github.com/samcharles93/moefuse/internal/tensor"
)

func benchCmd() *cli.Command {
	return &cli.Command{
		Name:  "bench",
		Usage: "Benchmark the kernels on synthetic inputs",
		Commands: []*cli.Command{
			benchSwigluCmd(),
			benchPermuteCmd(),
		},
	}
}

func benchSwigluCmd() *cli.Command {
	var (
		elements   int64
		dtypeName  string
		warmupRuns int64
		benchRuns  int64
		blockSize  int64
		tuneRuns   int64
		seed       int64
		asJSON     bool
		metricsOut string
	)

	return &cli.Command{
		Name:  "swiglu",
		Usage: "Benchmark the fused silu(a)*b activation",
		Flags: withCommon(
			&cli.Int64Flag{
				Name:        "elements",
				Aliases:     []string{"n"},
				Usage:       "number of elements per input",
				Value:       1 << 20,
				Destination: &elements,
			},
			&cli.StringFlag{
				Name:        "dtype",
				Usage:       "element type (f32, f64, f16, bf16)",
				Value:       "f32",
				Destination: &dtypeName,
			},
			&cli.Int64Flag{
				Name:        "warmup",
				Usage:       "number of warmup runs",
				Value:       1,
				Destination: &warmupRuns,
			},
			&cli.Int64Flag{
				Name:        "runs",
				Usage:       "number of benchmark runs",
				Value:       5,
				Destination: &benchRuns,
			},
			&cli.Int64Flag{
				Name:        "block-size",
				Usage:       "fixed block size (0 = autotune)",
				Destination: &blockSize,
			},
			&cli.Int64Flag{
				Name:        "tune-runs",
				Usage:       "timed runs per autotune candidate",
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
				Usage:       "write the report as JSON",
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
			if elements < 1 || benchRuns < 1 {
				return cli.Exit("error: --elements and --runs must be positive", 1)
			}
			n := int(elements)

			a, b, err := randomPair(dt, n, seed)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: build inputs: %v", err), 1)
			}
			candidates := applyTuneConfig(cmd, cfg, &tuneRuns)
			kernel, tuner := newKernel(log, int(blockSize), candidates, int(tuneRuns))

			for i := range int(warmupRuns) {
				log.Debug("warmup run", "run", i+1)
				if _, err := kernel.Forward(a, b); err != nil {
					return cli.Exit(fmt.Sprintf("error: warmup run %d: %v", i+1, err), 1)
				}
			}

			rep := newReport("swiglu", "elems")
			rep.DType = dt.String()
			rep.Workers = grid.Workers(int(workers))
			rep.Params["elements"] = n
			for i := range int(benchRuns) {
				start := time.Now()
				if _, err := kernel.Forward(a, b); err != nil {
					return cli.Exit(fmt.Sprintf("error: benchmark run %d: %v", i+1, err), 1)
				}
				rep.add(time.Since(start), n)
			}
			rep.BlockSize = int(blockSize)
			if tuner != nil {
				if tuned, ok := tuner.Lookup(n); ok {
					rep.BlockSize = tuned.Cfg.BlockSize
				}
			}
			log.Info("swiglu benchmark done", "run_id", rep.RunID, "best", rep.Best, "block_size", rep.BlockSize)

			if asJSON {
				if err := rep.writeJSON(os.Stdout); err != nil {
					return err
				}
			} else {
				rep.writeTable(os.Stdout)
			}
			if err := writeMetrics(metricsOut, os.Stdout); err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			return nil
		},
	}
}

func benchPermuteCmd() *cli.Command {
	var (
		tokens     int64
		dim        int64
		topk       int64
		experts    int64
		blockSize  int64
		dtypeName  string
		warmupRuns int64
		benchRuns  int64
		seed       int64
		asJSON     bool
		metricsOut string
	)

	return &cli.Command{
		Name:  "permute",
		Usage: "Benchmark the MoE permute-and-pad kernel",
		Flags: withCommon(
			&cli.Int64Flag{
				Name:        "tokens",
				Aliases:     []string{"n"},
				Usage:       "number of tokens",
				Value:       4096,
				Destination: &tokens,
			},
			&cli.Int64Flag{
				Name:        "dim",
				Aliases:     []string{"d"},
				Usage:       "hidden dimension",
				Value:       1024,
				Destination: &dim,
			},
			&cli.Int64Flag{
				Name:        "topk",
				Aliases:     []string{"k"},
				Usage:       "experts per token",
				Value:       2,
				Destination: &topk,
			},
			&cli.Int64Flag{
				Name:        "experts",
				Aliases:     []string{"e"},
				Usage:       "number of experts",
				Value:       8,
				Destination: &experts,
			},
			&cli.Int64Flag{
				Name:        "block-size",
				Usage:       "expert segment alignment",
				Value:       moe.DefaultBlockSize,
				Destination: &blockSize,
			},
			&cli.StringFlag{
				Name:        "dtype",
				Usage:       "token element type (f32, f64, f16, bf16)",
				Value:       "bf16",
				Destination: &dtypeName,
			},
			&cli.Int64Flag{
				Name:        "warmup",
				Usage:       "number of warmup runs",
				Value:       1,
				Destination: &warmupRuns,
			},
			&cli.Int64Flag{
				Name:        "runs",
				Usage:       "number of benchmark runs",
				Value:       5,
				Destination: &benchRuns,
			},
			&cli.Int64Flag{
				Name:        "seed",
				Value:       42,
				Destination: &seed,
			},
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "write the report as JSON",
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
			applyPermuteConfig(cmd, cfg, &blockSize)

			dt, err := floatDType(dtypeName)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			switch {
			case tokens < 0 || dim < 1 || benchRuns < 1:
				return cli.Exit("error: --tokens must not be negative, --dim and --runs must be positive", 1)
			case topk < 1 || experts < 1 || topk > experts:
				return cli.Exit(fmt.Sprintf("error: need 1 <= topk <= experts, got topk %d experts %d", topk, experts), 1)
			}

			rng := rand.New(rand.NewSource(seed))
			n, d, k, e := int(tokens), int(dim), int(topk), int(experts)
			x, err := tensor.FromFloat32(dt, randomValues(rng, n*d), n, d)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: build tokens: %v", err), 1)
			}
			top, err := tensor.FromInts(tensor.I32, randomRouting(rng, n, k, e), n, k)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: build routing: %v", err), 1)
			}
			counts, err := moe.CountExperts(top, e)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: count experts: %v", err), 1)
			}

			p := &moe.Permuter{BlockSize: int(blockSize), Workers: int(workers), Log: log}
			for i := range int(warmupRuns) {
				log.Debug("warmup run", "run", i+1)
				if _, err := p.PermuteAndPad(x, top, counts, k, e); err != nil {
					return cli.Exit(fmt.Sprintf("error: warmup run %d: %v", i+1, err), 1)
				}
			}

			rep := newReport("permute_and_pad", "rows")
			rep.DType = dt.String()
			rep.Workers = grid.Workers(int(workers))
			rep.BlockSize = int(blockSize)
			rep.Params["tokens"] = n
			rep.Params["dim"] = d
			rep.Params["topk"] = k
			rep.Params["experts"] = e
			for i := range int(benchRuns) {
				start := time.Now()
				res, err := p.PermuteAndPad(x, top, counts, k, e)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: benchmark run %d: %v", i+1, err), 1)
				}
				rep.add(time.Since(start), n*k)
				rep.Params["rows"] = res.Layout.Rows()
				rep.Params["padding_rows"] = res.Layout.Rows() - res.Layout.Assignments()
			}
			log.Info("permute benchmark done", "run_id", rep.RunID, "best", rep.Best, "rows", rep.Params["rows"])

			if asJSON {
				if err := rep.writeJSON(os.Stdout); err != nil {
					return err
				}
			} else {
				rep.writeTable(os.Stdout)
			}
			if err := writeMetrics(metricsOut, os.Stdout); err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			return nil
		},
	}
}

func floatDType(name string) (tensor.DType, error) {
	dt, err := tensor.ParseDType(name)
	if err != nil {
		return 0, err
	}
	if !dt.IsFloat() {
		return 0, fmt.Errorf("dtype %s is not a floating-point type", dt)
	}
	return dt, nil
}

// newKernel builds the activation kernel. A positive blockSize pins the
// launch configuration; otherwise the returned Tuner sweeps candidates.
func newKernel(log logger.Logger, blockSize int, candidates []int, tuneRuns int) (*swiglu.Kernel, *autotune.Tuner) {
	k := &swiglu.Kernel{Workers: int(workers), TuneRuns: tuneRuns, Log: log}
	if blockSize > 0 {
		k.Selector = autotune.Fixed{BlockSize: blockSize}
		return k, nil
	}
	tuner := autotune.New(candidates, log)
	k.Selector = tuner
	return k, tuner
}

func randomValues(rng *rand.Rand, n int) []float32 {
	vals := make([]float32, n)
	for i := range vals {
		vals[i] = rng.Float32()*8 - 4
	}
	return vals
}

func randomPair(dt tensor.DType, n int, seed int64) (*tensor.Tensor, *tensor.Tensor, error) {
	rng := rand.New(rand.NewSource(seed))
	a, err := tensor.FromFloat32(dt, randomValues(rng, n), n)
	if err != nil {
		return nil, nil, err
	}
	b, err := tensor.FromFloat32(dt, randomValues(rng, n), n)
	if err != nil {
		return nil, nil, err
	}
	return a, b, nil
}

// randomRouting draws topk distinct experts for each of n tokens, slot
// varying fastest.
func randomRouting(rng *rand.Rand, n, topk, experts int) []int {
	ids := make([]int, 0, n*topk)
	for range n {
		ids = append(ids, rng.Perm(experts)[:topk]...)
	}
	return ids
}
