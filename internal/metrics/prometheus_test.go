package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusCounters(t *testing.T) {
	prom := NewPrometheus()
	prom.Metrics.CyclesOpened.Inc()
	prom.Metrics.CyclesCompleted.Inc()
	prom.Metrics.CyclesFailed.Inc()
	prom.Metrics.LegsOpened.Inc()
	prom.Metrics.LegsRejected.Inc()
	prom.Metrics.CancelAttempts.Inc()
	prom.Metrics.CloseFailures.Inc()
	prom.Metrics.MonitorExits.Inc()
	prom.Metrics.ZeroSizeFallbacks.Inc()
	prom.Metrics.RetryAdjustments.Inc()

	assertCounter(t, prom.cyclesOpened, 1)
	assertCounter(t, prom.cyclesCompleted, 1)
	assertCounter(t, prom.cyclesFailed, 1)
	assertCounter(t, prom.legsOpened, 1)
	assertCounter(t, prom.legsRejected, 1)
	assertCounter(t, prom.cancelAttempts, 1)
	assertCounter(t, prom.closeFailures, 1)
	assertCounter(t, prom.monitorExits, 1)
	assertCounter(t, prom.zeroSizeFallbacks, 1)
	assertCounter(t, prom.retryAdjustments, 1)
}

func assertCounter(t *testing.T, counter prometheus.Counter, expected float64) {
	t.Helper()
	if got := testutil.ToFloat64(counter); got != expected {
		t.Fatalf("expected %v, got %v", expected, got)
	}
}
