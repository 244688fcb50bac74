// Package hybrid implements the hybrid executor: each host in a
// distributed run partitions its own slice of the topology into however
// many logical processes its threads can usefully drive, then advances
// that partitioned set as the Local domain of a distexec.Executor under
// the same LBTS protocol a purely distributed run uses. It is the
// composition spec.md section 4.6 describes rather than a third
// synchronization algorithm.
package hybrid

import (
	"context"

	"github.com/sarchlab/parallax/distexec"
	"github.com/sarchlab/parallax/event"
	"github.com/sarchlab/parallax/klog"
	"github.com/sarchlab/parallax/lp"
	"github.com/sarchlab/parallax/mtexec"
	"github.com/sarchlab/parallax/topo"
)

// Config configures one host's share of a hybrid run.
type Config struct {
	// Graph is the full cluster topology; every host partitions it down
	// to just the nodes carrying its own HostRank.
	Graph *topo.Graph

	// Rank is this host's position in the graph and on Bus.
	Rank uint32

	// MinLookahead is the minimum-lookahead cut threshold PartitionHost
	// uses; 0 derives the median of this host's point-to-point links.
	MinLookahead uint64

	MaxThreads       int
	SchedulingMethod mtexec.SchedulingMethod
	SchedulingPeriod int

	Bus   distexec.Bus
	Codec distexec.EventCodec
}

// Executor is one host's hybrid round driver: a partitioned, threaded
// mtexec.Executor wrapped as the local domain of a distexec.Executor.
type Executor struct {
	local   *mtexec.Executor
	dist    *distexec.Executor
	systems []*lp.LogicalProcess
	result  topo.Result
}

// New partitions cfg.Graph down to cfg.Rank's nodes, builds one
// LogicalProcess per local partition labeled with the hybrid
// ((localLPID+1)<<16|rank) encoding, sets each one's lookahead to its
// surviving intra-host peers, and wraps the resulting multithreaded
// executor in a distexec.Executor riding cfg.Bus.
func New(cfg Config) *Executor {
	result := topo.PartitionHost(cfg.Graph, cfg.Rank, cfg.MinLookahead)
	klog.Partition(klog.Fields{
		"rank": cfg.Rank, "local_system_count": result.SystemCount, "threshold": result.Threshold,
	}, "per-host auto-partition complete")

	local := mtexec.New(mtexec.Config{
		MaxThreads:       cfg.MaxThreads,
		SchedulingMethod: cfg.SchedulingMethod,
		SchedulingPeriod: cfg.SchedulingPeriod,
	})

	systems := make([]*lp.LogicalProcess, 0, result.SystemCount)
	for localID := uint32(0); localID < result.SystemCount; localID++ {
		systemID := ((localID + 1) << 16) | cfg.Rank
		l := lp.New(systemID)
		for peer, delay := range result.Lookahead[systemID] {
			l.SetLookahead(peer, delay)
		}
		local.AddSystem(l)
		systems = append(systems, l)
	}

	return &Executor{
		local:   local,
		dist:    distexec.New(cfg.Bus, cfg.Codec, local),
		systems: systems,
		result:  result,
	}
}

// Local returns the host's partitioned multithreaded executor, for
// callers that need to schedule directly onto one of its LPs before Run.
func (e *Executor) Local() *mtexec.Executor {
	return e.local
}

// System returns the local LP encoded with the given hybrid system id,
// or nil if it does not belong to this host's partition.
func (e *Executor) System(systemID uint32) *lp.LogicalProcess {
	return e.local.System(systemID)
}

// PartitionResult returns the topo.Result this host's partition pass
// produced, for diagnostics and the monitor package's telemetry feed.
func (e *Executor) PartitionResult() topo.Result {
	return e.result
}

// SetObserver attaches o to the underlying distexec.Executor so it
// receives a RoundReport after every LBTS round this host completes.
func (e *Executor) SetObserver(o distexec.RoundObserver) {
	e.dist.SetObserver(o)
}

// SetRunID attaches the correlation id stamped into every RoundReport this
// host's distexec.Executor emits.
func (e *Executor) SetRunID(id string) {
	e.dist.SetRunID(id)
}

// SendRemote serializes evt for delivery at absoluteTS to the logical
// process labeled systemID on host destRank. The receiving host looks
// systemID up as a system id label, not as a graph node id.
func (e *Executor) SendRemote(
	ctx context.Context,
	destRank int,
	systemID uint32,
	absoluteTS uint64,
	evt event.Event,
) error {
	return e.dist.SendRemote(ctx, destRank, systemID, absoluteTS, evt)
}

// Run drives this host's LBTS rounds until the whole distributed system
// is globally finished with no transients outstanding.
func (e *Executor) Run(ctx context.Context) error {
	return e.dist.Run(ctx)
}
