package main

import (
	"fmt"
	"io"
	"slices"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/samcharles93/moefuse/internal/version"
)

type runStat struct {
	Run        int     `json:"run"`
	DurationNS int64   `json:"duration_ns"`
	Throughput float64 `json:"throughput"`
}

// report is the result of one bench invocation.
type report struct {
	RunID     string         `json:"run_id"`
	Kernel    string         `json:"kernel"`
	Version   string         `json:"version"`
	DType     string         `json:"dtype"`
	Workers   int            `json:"workers"`
	BlockSize int            `json:"block_size"`
	Unit      string         `json:"unit"`
	Params    map[string]int `json:"params"`
	Runs      []runStat      `json:"runs"`
	Best      float64        `json:"best_throughput"`
	Mean      float64        `json:"mean_throughput"`
}

func newReport(kernel, unit string) *report {
	return &report{
		RunID:   uuid.NewString(),
		Kernel:  kernel,
		Version: version.String(),
		Unit:    unit,
		Params:  map[string]int{},
	}
}

// add records one timed run that processed units items.
func (r *report) add(d time.Duration, units int) {
	if d <= 0 {
		d = time.Nanosecond
	}
	r.Runs = append(r.Runs, runStat{
		Run:        len(r.Runs) + 1,
		DurationNS: d.Nanoseconds(),
		Throughput: float64(units) / d.Seconds(),
	})
	tps := lo.Map(r.Runs, func(s runStat, _ int) float64 { return s.Throughput })
	r.Best = lo.Max(tps)
	r.Mean = lo.Sum(tps) / float64(len(tps))
}

func (r *report) writeJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

func (r *report) writeTable(w io.Writer) {
	_, _ = fmt.Fprintf(w, "=== %s ===\n", r.Kernel)
	_, _ = fmt.Fprintf(w, "Run ID:     %s\n", r.RunID)
	_, _ = fmt.Fprintf(w, "DType:      %s\n", r.DType)
	_, _ = fmt.Fprintf(w, "Workers:    %d\n", r.Workers)
	_, _ = fmt.Fprintf(w, "Block size: %d\n", r.BlockSize)
	keys := lo.Keys(r.Params)
	slices.Sort(keys)
	for _, k := range keys {
		_, _ = fmt.Fprintf(w, "%-11s %d\n", k+":", r.Params[k])
	}
	_, _ = fmt.Fprintln(w)

	_, _ = fmt.Fprintf(w, "%-6s %12s %16s\n", "Run", "Duration", r.Unit+"/s")
	for _, s := range r.Runs {
		_, _ = fmt.Fprintf(w, "%-6d %12s %16.4g\n", s.Run, time.Duration(s.DurationNS).Round(time.Microsecond), s.Throughput)
	}
	_, _ = fmt.Fprintf(w, "\n%-6s %12s %16.4g\n", "Best", "", r.Best)
	_, _ = fmt.Fprintf(w, "%-6s %12s %16.4g\n", "Avg", "", r.Mean)
}
