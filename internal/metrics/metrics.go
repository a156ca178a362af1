package metrics

type Counter interface {
	Inc()
}

type Metrics struct {
	CyclesOpened      Counter
	CyclesCompleted   Counter
	CyclesFailed      Counter
	LegsOpened        Counter
	LegsRejected      Counter
	CancelAttempts    Counter
	CloseFailures     Counter
	MonitorExits      Counter
	ZeroSizeFallbacks Counter
	RetryAdjustments  Counter
}

type noopCounter struct{}

func (noopCounter) Inc() {}

func NewNoop() *Metrics {
	n := noopCounter{}
	return &Metrics{
		CyclesOpened:      n,
		CyclesCompleted:   n,
		CyclesFailed:      n,
		LegsOpened:        n,
		LegsRejected:      n,
		CancelAttempts:    n,
		CloseFailures:     n,
		MonitorExits:      n,
		ZeroSizeFallbacks: n,
		RetryAdjustments:  n,
	}
}
