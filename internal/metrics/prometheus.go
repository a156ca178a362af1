package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "mv_hedge_bot"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type Prometheus struct {
	Metrics *Metrics

	registry          *prometheus.Registry
	cyclesOpened      prometheus.Counter
	cyclesCompleted   prometheus.Counter
	cyclesFailed      prometheus.Counter
	legsOpened        prometheus.Counter
	legsRejected      prometheus.Counter
	cancelAttempts    prometheus.Counter
	closeFailures     prometheus.Counter
	monitorExits      prometheus.Counter
	zeroSizeFallbacks prometheus.Counter
	retryAdjustments  prometheus.Counter
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	cyclesOpened := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "cycles_opened_total",
		Help:      "Total number of hedge cycles that reached HOLDING.",
	})
	cyclesCompleted := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "cycles_completed_total",
		Help:      "Total number of hedge cycles closed and reconciled.",
	})
	cyclesFailed := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "cycles_failed_total",
		Help:      "Total number of hedge cycles that ended in FAILED.",
	})
	legsOpened := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "legs_opened_total",
		Help:      "Total number of legs filled on a venue.",
	})
	legsRejected := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "legs_rejected_total",
		Help:      "Total number of leg opens rejected or failed.",
	})
	cancelAttempts := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "cancel_attempts_total",
		Help:      "Total number of compensating cancellation attempts.",
	})
	closeFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "close_failures_total",
		Help:      "Total number of leg closes that failed and escalated.",
	})
	monitorExits := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "monitor_exits_total",
		Help:      "Total number of monitor-triggered early exits.",
	})
	zeroSizeFallbacks := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "zero_size_fallbacks_total",
		Help:      "Total number of closes that fell back to tracked leg size.",
	})
	retryAdjustments := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "retry_adjustments_total",
		Help:      "Total number of leg opens retried with an adjusted stop.",
	})

	registry.MustRegister(
		cyclesOpened, cyclesCompleted, cyclesFailed,
		legsOpened, legsRejected, cancelAttempts,
		closeFailures, monitorExits, zeroSizeFallbacks, retryAdjustments,
	)

	m := &Metrics{
		CyclesOpened:      promCounter{cyclesOpened},
		CyclesCompleted:   promCounter{cyclesCompleted},
		CyclesFailed:      promCounter{cyclesFailed},
		LegsOpened:        promCounter{legsOpened},
		LegsRejected:      promCounter{legsRejected},
		CancelAttempts:    promCounter{cancelAttempts},
		CloseFailures:     promCounter{closeFailures},
		MonitorExits:      promCounter{monitorExits},
		ZeroSizeFallbacks: promCounter{zeroSizeFallbacks},
		RetryAdjustments:  promCounter{retryAdjustments},
	}

	return &Prometheus{
		Metrics:           m,
		registry:          registry,
		cyclesOpened:      cyclesOpened,
		cyclesCompleted:   cyclesCompleted,
		cyclesFailed:      cyclesFailed,
		legsOpened:        legsOpened,
		legsRejected:      legsRejected,
		cancelAttempts:    cancelAttempts,
		closeFailures:     closeFailures,
		monitorExits:      monitorExits,
		zeroSizeFallbacks: zeroSizeFallbacks,
		retryAdjustments:  retryAdjustments,
	}
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
