package distexec

import "time"

// RoundReport summarizes one completed LBTS round, for anything watching
// the executor's progress from outside the hot path: a monitor.Hub pushing
// it to a browser, or a monitor.Metrics exporting it to Prometheus. Per
// spec.md section 9's note to treat timing capture as optional telemetry
// rather than a core concern, nothing in this package depends on either.
type RoundReport struct {
	RunID          string
	Rank           uint32
	TotRx, TotTx   uint32
	SmallestTime   int64
	GlobalFinished bool
	Duration       time.Duration
}

// RoundObserver receives a RoundReport after every completed round. Set one
// with Executor.SetObserver; the zero Executor has none and pays nothing
// for the feature.
type RoundObserver interface {
	ObserveRound(RoundReport)
}

// SetObserver attaches o to receive a RoundReport after every round this
// executor completes. Passing nil detaches the current observer.
func (e *Executor) SetObserver(o RoundObserver) {
	e.observer = o
}

// Observers fans a single RoundReport out to every observer in os, in
// order, so a caller can attach both a monitor.Hub and a monitor.Metrics to
// the same executor.
type Observers []RoundObserver

// ObserveRound implements RoundObserver.
func (os Observers) ObserveRound(r RoundReport) {
	for _, o := range os {
		o.ObserveRound(r)
	}
}
