package main

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/moefuse/internal/api"
	"github.com/samcharles93/moefuse/internal/logger"
	"github.com/samcharles93/moefuse/internal/moe"
)

func serveCmd() *cli.Command {
	var (
		addr        string
		readTimeout time.Duration
		blockSize   int64
		tuneRuns    int64
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the kernels and /metrics over HTTP",
		Flags: withCommon(
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8080",
				Destination: &addr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
			&cli.Int64Flag{
				Name:        "block-size",
				Usage:       "default permute segment alignment",
				Value:       moe.DefaultBlockSize,
				Destination: &blockSize,
			},
			&cli.Int64Flag{
				Name:        "tune-runs",
				Usage:       "timed runs per autotune candidate",
				Value:       3,
				Destination: &tuneRuns,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			ctx, cfg, err := prepare(ctx, cmd)
			if err != nil {
				return err
			}
			log := logger.FromContext(ctx)
			applyPermuteConfig(cmd, cfg, &blockSize)
			candidates := applyTuneConfig(cmd, cfg, &tuneRuns)

			kernel, _ := newKernel(log, 0, candidates, int(tuneRuns))
			server := api.NewServer(kernel, moe.Permuter{
				BlockSize: int(blockSize),
				Workers:   int(workers),
				Log:       log,
			}, log)

			e := api.NewEcho()
			e.Logger = logger.Slog(log)
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)
			log.Info("starting server", "address", addr, "block_size", blockSize)
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}
