// Package monitor is the optional observability surface spec.md section 9
// treats as telemetry rather than core: a Prometheus exporter and a
// websocket push server, both driven purely off the distexec.RoundReport
// values an Executor already computes for its own LBTS bookkeeping. Neither
// half is reachable from the simulation's causality or scheduling paths —
// a distexec.Executor with no observer attached never touches this
// package.
package monitor

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sarchlab/parallax/distexec"
)

// Metrics exports a running host's round cadence to Prometheus: how long
// each LBTS round took, the global smallest time that bounded its granted
// window (the window's upper edge, not its width), and how
// many transient messages were still in flight when it closed. Construct
// with NewMetrics, attach to an executor with SimulatorFacade.SetObserver
// or Executor.SetObserver, and scrape via promhttp.Handler().
type Metrics struct {
	roundDuration   prometheus.Gauge
	windowSize      prometheus.Gauge
	transientCount  prometheus.Gauge
	roundsObserved  prometheus.Counter
	globallyStopped prometheus.Gauge
}

// NewMetrics builds and registers a Metrics set against reg. Pass
// prometheus.DefaultRegisterer to expose it on the default /metrics
// handler, or a fresh prometheus.NewRegistry() in tests that construct more
// than one Metrics in the same process.
func NewMetrics(reg prometheus.Registerer, rank uint32) *Metrics {
	labels := prometheus.Labels{"rank": strconv.FormatUint(uint64(rank), 10)}

	m := &Metrics{
		roundDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "parallax_lbts_round_duration_seconds",
			Help:        "Wall-clock duration of the most recently completed LBTS round",
			ConstLabels: labels,
		}),
		windowSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "parallax_lbts_window_picoseconds",
			Help:        "Global smallest time (upper edge) of the most recently granted LBTS window",
			ConstLabels: labels,
		}),
		transientCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "parallax_lbts_transient_messages",
			Help:        "Cross-host messages sent but not yet received as of the last round",
			ConstLabels: labels,
		}),
		roundsObserved: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "parallax_lbts_rounds_total",
			Help:        "Total LBTS rounds this host has completed",
			ConstLabels: labels,
		}),
		globallyStopped: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "parallax_lbts_globally_finished",
			Help:        "1 once this host last observed the whole distributed run as finished",
			ConstLabels: labels,
		}),
	}

	reg.MustRegister(
		m.roundDuration, m.windowSize, m.transientCount,
		m.roundsObserved, m.globallyStopped,
	)
	return m
}

// ObserveRound implements distexec.RoundObserver.
func (m *Metrics) ObserveRound(r distexec.RoundReport) {
	m.roundDuration.Set(r.Duration.Seconds())
	if r.SmallestTime > 0 {
		m.windowSize.Set(float64(r.SmallestTime))
	}
	m.transientCount.Set(float64(diffUint32(r.TotTx, r.TotRx)))
	m.roundsObserved.Inc()
	if r.GlobalFinished {
		m.globallyStopped.Set(1)
	} else {
		m.globallyStopped.Set(0)
	}
}

func diffUint32(a, b uint32) uint32 {
	if a < b {
		return 0
	}
	return a - b
}
