package kernel

import (
	"context"
	"log"

	"github.com/sarchlab/parallax/distexec"
	"github.com/sarchlab/parallax/event"
	"github.com/sarchlab/parallax/hybrid"
	"github.com/sarchlab/parallax/klog"
	"github.com/sarchlab/parallax/lp"
	"github.com/sarchlab/parallax/mtexec"
	"github.com/sarchlab/parallax/topo"
	"github.com/sarchlab/parallax/workerctx"
)

// SimulatorFacade is the single public entry point spec.md section 4.7
// describes: every schedule/now/stop call resolves against whichever LP
// the calling worker is currently bound to via workerctx, and Run
// dispatches to whichever concrete executor Config.SimulatorImpl
// selected.
type SimulatorFacade struct {
	cfg  Config
	kind ExecutorKind

	mt *mtexec.Executor // set only in Multithreaded mode; Hybrid/Distributed reach their local executor through hy.Local()
	hy *hybrid.Executor // used by Hybrid and Distributed (Distributed is Hybrid pinned to one local worker)

	runID string

	enabled bool
}

// New validates cfg and builds the executor it selects. If cfg.Graph is
// set, nodes are auto-partitioned per spec.md section 4.3; otherwise the
// caller is expected to have assigned system ids manually and registers
// its own logical processes with AddSystem before calling Run.
func New(cfg Config) (*SimulatorFacade, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	f := &SimulatorFacade{cfg: cfg, kind: cfg.SimulatorImpl, enabled: true, runID: RunID().Generate()}
	klog.SetRunID(f.runID)

	switch cfg.SimulatorImpl {
	case Multithreaded:
		f.mt = mtexec.New(mtexec.Config{
			MaxThreads:       cfg.maxThreadsOrDefault(),
			SchedulingMethod: cfg.PartitionSchedulingMethod,
			SchedulingPeriod: cfg.PartitionSchedulingPeriod,
		})
		if cfg.Graph != nil {
			f.partitionSingleHost()
		}

	case Distributed:
		f.hy = hybrid.New(hybrid.Config{
			Graph: cfg.Graph, Rank: cfg.Rank, MinLookahead: cfg.MinLookahead,
			MaxThreads: 1, Bus: cfg.Bus, Codec: cfg.Codec,
		})
		f.hy.SetRunID(f.runID)

	case Hybrid:
		f.hy = hybrid.New(hybrid.Config{
			Graph: cfg.Graph, Rank: cfg.Rank, MinLookahead: cfg.MinLookahead,
			MaxThreads: cfg.maxThreadsOrDefault(),
			SchedulingMethod: cfg.PartitionSchedulingMethod, SchedulingPeriod: cfg.PartitionSchedulingPeriod,
			Bus: cfg.Bus, Codec: cfg.Codec,
		})
		f.hy.SetRunID(f.runID)
	}

	return f, nil
}

// partitionSingleHost runs the auto-partitioner over the whole graph
// (Multithreaded mode has no host boundary to restrict to) and seeds one
// LogicalProcess per resulting system id, per spec.md section 4.3.
func (f *SimulatorFacade) partitionSingleHost() {
	result := topo.Partition(f.cfg.Graph, f.cfg.MinLookahead)
	klog.Partition(klog.Fields{
		"system_count": result.SystemCount, "threshold": result.Threshold,
	}, "auto-partition complete")
	built := make(map[uint32]*lp.LogicalProcess, result.SystemCount)

	for _, n := range f.cfg.Graph.Nodes {
		if n.SystemID == 0 {
			continue
		}
		if _, ok := built[n.SystemID]; ok {
			continue
		}
		l := lp.New(n.SystemID)
		for peer, delay := range result.Lookahead[n.SystemID] {
			l.SetLookahead(peer, delay)
		}
		built[n.SystemID] = l
		f.mt.AddSystem(l)
	}
}

// AddSystem registers a manually constructed logical process, for
// callers running Multithreaded mode without an auto-partitioned Graph.
func (f *SimulatorFacade) AddSystem(l *lp.LogicalProcess) {
	if f.mt == nil {
		log.Panic("kernel: AddSystem is only valid in Multithreaded mode")
	}
	f.mt.AddSystem(l)
}

// current resolves the calling worker's bound logical process. Every
// scheduling call in this file is only valid from inside an event
// handler running under a worker pool round.
func (f *SimulatorFacade) current() *lp.LogicalProcess {
	if !f.enabled {
		log.Panic("kernel: facade used after Destroy")
	}
	l := workerctx.Current()
	if l == nil {
		log.Panic("kernel: no logical process bound to the calling goroutine")
	}
	return l
}

// Schedule enqueues evt at Now()+delay on the calling LP's own timeline.
func (f *SimulatorFacade) Schedule(delay uint64, evt event.Event) event.ID {
	return f.current().Schedule(delay, evt)
}

// ScheduleWithContext delivers evt to the LP owning contextNodeID, delay
// time units from the calling LP's current time. contextNodeID is a raw
// graph node id, not a system id: topo.Partition can collapse several
// node ids into one shared system, so the lookup goes through the node's
// assigned SystemID rather than treating contextNodeID as a system id
// directly.
func (f *SimulatorFacade) ScheduleWithContext(contextNodeID uint32, delay uint64, evt event.Event) {
	cur := f.current()
	remote := f.nodeSystem(contextNodeID)
	if remote == nil {
		log.Panicf("kernel: no local logical process owns context %d", contextNodeID)
	}
	cur.ScheduleWithContext(remote, contextNodeID, delay, evt)
}

// SystemForNode returns the local logical process that owns nodeID, for
// seeding initial events directly on an auto-partitioned Graph before Run
// starts (AddSystem only covers the manual, ungraphed case). Panics if
// nodeID is unknown or not owned by this host.
func (f *SimulatorFacade) SystemForNode(nodeID uint32) *lp.LogicalProcess {
	l := f.nodeSystem(nodeID)
	if l == nil {
		log.Panicf("kernel: no local logical process owns node %d", nodeID)
	}
	return l
}

// nodeSystem resolves a raw graph node id to the local logical process
// assigned to own it. Callers without an auto-partitioned Graph (manual
// AddSystem) have no node table to resolve through, so nodeID is taken to
// be the system id itself in that case.
func (f *SimulatorFacade) nodeSystem(nodeID uint32) *lp.LogicalProcess {
	systemID := nodeID
	if f.cfg.Graph != nil {
		n, ok := f.cfg.Graph.Node(nodeID)
		if !ok {
			log.Panicf("kernel: no graph node %d", nodeID)
		}
		systemID = n.SystemID
	}
	return f.localSystem(systemID)
}

// ScheduleNow enqueues evt at the calling LP's current time.
func (f *SimulatorFacade) ScheduleNow(evt event.Event) event.ID {
	return f.current().Schedule(0, evt)
}

// ScheduleDestroy appends evt to the executor-wide destroy list. In
// Multithreaded mode the list runs in insertion order after Run's rounds
// finish; a Distributed or Hybrid Run does not invoke it.
func (f *SimulatorFacade) ScheduleDestroy(evt event.Event) event.ID {
	return f.localExecutor().ScheduleDestroy(evt)
}

// ScheduleGlobal inserts evt into the public LP at
// min(smallestTime, nextPublicTime) under the critical section. Called from
// a stage-1 handler, it runs in the public-LP pass (stage 3) of the same
// round, never interleaved with any LP's stage-1 processing.
func (f *SimulatorFacade) ScheduleGlobal(evt event.Event) event.ID {
	return f.localExecutor().ScheduleGlobal(evt)
}

// Remove cancels id and drops it from its owning LP's FEL.
func (f *SimulatorFacade) Remove(id event.ID) bool {
	return f.current().Remove(id)
}

// Cancel marks id's event cancelled without removing it from the FEL.
func (f *SimulatorFacade) Cancel(id event.ID) {
	f.current().Cancel(id)
}

// IsExpired reports whether id has already run, been cancelled, or is
// otherwise stale.
func (f *SimulatorFacade) IsExpired(id event.ID) bool {
	return f.current().IsExpired(id)
}

// GetDelayLeft returns how much simulated time remains before id runs.
func (f *SimulatorFacade) GetDelayLeft(id event.ID) uint64 {
	return f.current().GetDelayLeft(id)
}

// Now returns the calling LP's current simulated time.
func (f *SimulatorFacade) Now() uint64 { return f.current().Now() }

// GetSystemID returns the calling LP's system id.
func (f *SimulatorFacade) GetSystemID() uint32 { return f.current().SystemID() }

// GetContext returns the node context of the event currently executing
// on the calling LP.
func (f *SimulatorFacade) GetContext() uint32 { return f.current().Context() }

// GetEventCount returns the number of events the calling LP has invoked.
func (f *SimulatorFacade) GetEventCount() uint64 { return f.current().EventCount() }

// GetMaximumSimulationTime returns the sentinel upper bound on simulated
// time; the kernel itself does not impose a maximum below lp.TimeMax.
func (f *SimulatorFacade) GetMaximumSimulationTime() uint64 { return lp.TimeMax }

// Stop sets the cooperative stop flag on every LP this host drives.
// Idempotent, per spec.md invariant 7.
func (f *SimulatorFacade) Stop() {
	f.localExecutor().Stop()
}

// StopDelay schedules a Stop() call to run on the public LP delay time
// units from now, so every LP observes it at the same granted time.
func (f *SimulatorFacade) StopDelay(delay uint64) event.ID {
	ts := f.current().Now() + delay
	pub := f.localExecutor().Public()
	return pub.ScheduleAt(event.NoContext, ts, event.NewFunc(f.Stop))
}

// Run drives the configured executor until the whole simulation is
// globally finished. In Multithreaded mode the executor then invokes the
// destroy list in insertion order; a Distributed or Hybrid run returns
// without invoking it.
func (f *SimulatorFacade) Run(ctx context.Context) error {
	switch f.kind {
	case Multithreaded:
		return f.mt.Run()
	default:
		return f.hy.Run(ctx)
	}
}

// SendRemote is exposed for Distributed/Hybrid callers that need to
// address a node owned by another host explicitly; Multithreaded mode
// has no remote hosts and panics if called.
func (f *SimulatorFacade) SendRemote(ctx context.Context, destRank int, systemID uint32, absoluteTS uint64, evt event.Event) error {
	if f.hy == nil {
		log.Panic("kernel: SendRemote is only valid in Distributed or Hybrid mode")
	}
	return f.hy.SendRemote(ctx, destRank, systemID, absoluteTS, evt)
}

// RunID returns this facade's correlation id. In Distributed/Hybrid mode
// the same id is stamped into every distexec.RoundReport, so telemetry
// frames can be matched to this run's log lines.
func (f *SimulatorFacade) RunID() string { return f.runID }

// SetObserver attaches o to receive a distexec.RoundReport after every LBTS
// round, for the monitor package's websocket/Prometheus telemetry feed.
// A no-op in Multithreaded mode, which has no rounds to observe.
func (f *SimulatorFacade) SetObserver(o distexec.RoundObserver) {
	if f.hy != nil {
		f.hy.SetObserver(o)
	}
}

// Destroy marks the facade unusable after Run returns. Idempotent.
func (f *SimulatorFacade) Destroy() {
	f.enabled = false
}

func (f *SimulatorFacade) localExecutor() *mtexec.Executor {
	if f.mt != nil {
		return f.mt
	}
	return f.hy.Local()
}

func (f *SimulatorFacade) localSystem(systemID uint32) *lp.LogicalProcess {
	if f.mt != nil {
		return f.mt.System(systemID)
	}
	return f.hy.System(systemID)
}
