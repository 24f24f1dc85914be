package metrics

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordPermuteSplitsRows(t *testing.T) {
	real0 := testutil.ToFloat64(permuteRows.WithLabelValues("real"))
	pad0 := testutil.ToFloat64(permuteRows.WithLabelValues("padding"))

	RecordPermute(4, 6)

	if got := testutil.ToFloat64(permuteRows.WithLabelValues("real")) - real0; got != 4 {
		t.Fatalf("real rows delta = %v", got)
	}
	if got := testutil.ToFloat64(permuteRows.WithLabelValues("padding")) - pad0; got != 2 {
		t.Fatalf("padding rows delta = %v", got)
	}
}

func TestRecordLaunchAndAutotune(t *testing.T) {
	before := testutil.ToFloat64(kernelBlocks.WithLabelValues("test"))
	RecordLaunch("test", 8, time.Millisecond)
	if got := testutil.ToFloat64(kernelBlocks.WithLabelValues("test")) - before; got != 8 {
		t.Fatalf("blocks delta = %v", got)
	}

	hits := testutil.ToFloat64(autotuneCache.WithLabelValues("hit"))
	RecordAutotune(true)
	if got := testutil.ToFloat64(autotuneCache.WithLabelValues("hit")) - hits; got != 1 {
		t.Fatalf("hit delta = %v", got)
	}
}

func TestWriteTextIncludesLaunchCounters(t *testing.T) {
	RecordLaunch("text", 3, time.Microsecond)

	var buf bytes.Buffer
	if err := WriteText(&buf); err != nil {
		t.Fatalf("WriteText: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		`moefuse_kernel_launches_total{kernel="text"}`,
		`moefuse_kernel_blocks_total{kernel="text"}`,
		"# TYPE moefuse_kernel_duration_seconds histogram",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}

func TestHandlerServesRegistry(t *testing.T) {
	RecordLaunch("http", 1, time.Microsecond)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body := rec.Body.String(); !strings.Contains(body, `moefuse_kernel_launches_total{kernel="http"} `) {
		t.Fatalf("body missing launch counter:\n%s", body)
	}
}
