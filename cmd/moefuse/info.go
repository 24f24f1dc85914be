package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/samber/lo"
	"github.com/urfave/cli/v3"
	"golang.org/x/sys/cpu"

	"github.com/samcharles93/moefuse/internal/grid"
	"github.com/samcharles93/moefuse/internal/version"
)

type cpuFeature struct {
	name string
	has  bool
}

// cpuFeatures lists the SIMD features relevant to the kernels on the host
// architecture.
func cpuFeatures(arch string) []cpuFeature {
	switch arch {
	case "amd64", "386":
		return []cpuFeature{
			{"sse4.1", cpu.X86.HasSSE41},
			{"avx", cpu.X86.HasAVX},
			{"avx2", cpu.X86.HasAVX2},
			{"fma", cpu.X86.HasFMA},
			{"avx512f", cpu.X86.HasAVX512F},
			{"avx512bf16", cpu.X86.HasAVX512BF16},
		}
	case "arm64":
		return []cpuFeature{
			{"asimd", cpu.ARM64.HasASIMD},
			{"asimdhp", cpu.ARM64.HasASIMDHP},
			{"fphp", cpu.ARM64.HasFPHP},
			{"sve", cpu.ARM64.HasSVE},
		}
	default:
		return nil
	}
}

func infoCmd() *cli.Command {
	return &cli.Command{
		Name:  "info",
		Usage: "Print host and build information",
		Flags: withCommon(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if _, _, err := prepare(ctx, cmd); err != nil {
				return err
			}
			path := configFile
			if path == "" {
				path = configPath()
			}
			cfgState := "not found"
			if _, err := os.Stat(path); err == nil {
				cfgState = "loaded"
			}

			present := lo.FilterMap(cpuFeatures(runtime.GOARCH), func(f cpuFeature, _ int) (string, bool) {
				return f.name, f.has
			})
			if len(present) == 0 {
				present = []string{"none detected"}
			}

			fmt.Printf("Version:    %s\n", version.String())
			fmt.Printf("Go:         %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
			fmt.Printf("CPUs:       %d\n", runtime.NumCPU())
			fmt.Printf("GOMAXPROCS: %d\n", runtime.GOMAXPROCS(0))
			fmt.Printf("Workers:    %d\n", grid.Workers(int(workers)))
			fmt.Printf("CPU flags:  %s\n", strings.Join(present, " "))
			fmt.Printf("Config:     %s (%s)\n", path, cfgState)
			return nil
		},
	}
}
