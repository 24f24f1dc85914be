// Package metrics exposes Prometheus instrumentation for the kernels.
package metrics

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"
)

var (
	kernelLaunches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "moefuse_kernel_launches_total",
		Help: "Total number of kernel launches",
	}, []string{"kernel"})

	kernelBlocks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "moefuse_kernel_blocks_total",
		Help: "Total number of grid blocks executed",
	}, []string{"kernel"})

	kernelDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "moefuse_kernel_duration_seconds",
		Help:    "Wall time of kernel launches",
		Buckets: []float64{0.00001, 0.0001, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
	}, []string{"kernel"})

	autotuneCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "moefuse_autotune_cache_total",
		Help: "Autotune cache lookups by result",
	}, []string{"result"})

	permuteRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "moefuse_permute_rows_total",
		Help: "Rows written to padded buffers, split into real and padding rows",
	}, []string{"kind"})
)

// RecordLaunch counts one launch of kernel with the given grid size.
func RecordLaunch(kernel string, blocks int, d time.Duration) {
	kernelLaunches.WithLabelValues(kernel).Inc()
	kernelBlocks.WithLabelValues(kernel).Add(float64(blocks))
	kernelDuration.WithLabelValues(kernel).Observe(d.Seconds())
}

// RecordAutotune counts a tuner lookup.
func RecordAutotune(hit bool) {
	if hit {
		autotuneCache.WithLabelValues("hit").Inc()
		return
	}
	autotuneCache.WithLabelValues("miss").Inc()
}

// RecordPermute counts real and padding rows of one padded buffer.
func RecordPermute(realRows, totalRows int) {
	permuteRows.WithLabelValues("real").Add(float64(realRows))
	permuteRows.WithLabelValues("padding").Add(float64(totalRows - realRows))
}

// Handler serves the default registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// WriteText writes every metric in the default registry to w in the text
// exposition format.
func WriteText(w io.Writer) error {
	return writeText(w, prometheus.DefaultGatherer)
}

func writeText(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("encode %s: %w", mf.GetName(), err)
		}
	}
	return nil
}
