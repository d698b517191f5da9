package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveFiring(t *testing.T) {
	t.Parallel()
	m := New()
	m.ObserveFiring(ResultSent, "clockwise", 100, 1)
	m.ObserveFiring(ResultSent, "clockwise", 50, 2)
	m.ObserveFiring(ResultFailed, "counterclockwise", 10, 3)

	if got := testutil.ToFloat64(m.firings.WithLabelValues(ResultSent)); got != 2 {
		t.Fatalf("sent firings = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.stepsSent.WithLabelValues("clockwise")); got != 150 {
		t.Fatalf("clockwise steps = %v, want 150", got)
	}
	if got := testutil.ToFloat64(m.stepsSent.WithLabelValues("counterclockwise")); got != 0 {
		t.Fatalf("failed firing counted steps: %v", got)
	}
	if got := testutil.ToFloat64(m.lastFireEpoch); got != 3 {
		t.Fatalf("last firing = %v, want 3", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	t.Parallel()
	var m *Metrics
	m.ObserveFiring(ResultSent, "clockwise", 1, 1)
	m.SetRunning(true)
	m.SetTriggers(3)
	m.SetScheduleSize(3)
	m.SetConnected(true)
	if m.Registry() != nil {
		t.Fatal("nil metrics returned a registry")
	}
}
