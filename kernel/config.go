package kernel

import (
	"errors"
	"runtime"

	"github.com/sarchlab/parallax/distexec"
	"github.com/sarchlab/parallax/mtexec"
	"github.com/sarchlab/parallax/topo"
)

// ExecutorKind selects which concrete executor a SimulatorFacade drives.
// The source dispatches through runtime polymorphism over a SimulatorImpl
// base class with three subclasses; here that becomes a closed tagged
// variant over ExecutorKind, matched in New.
type ExecutorKind int

const (
	// Multithreaded drives every LP on this single host's worker pool,
	// with no distributed layer at all.
	Multithreaded ExecutorKind = iota
	// Distributed partitions the graph across hosts with exactly one
	// local worker per host and synchronizes rounds under LBTS.
	Distributed
	// Hybrid partitions each host's own slice of the graph across its
	// worker pool, and synchronizes across hosts under the same LBTS
	// protocol Distributed uses.
	Hybrid
	// NullMessage is the fourth simulator_impl value spec.md section 6
	// recognises. It names Chandy-Misra-Bryant null-message conservative
	// synchronization, a different algorithm from the LBTS protocol this
	// kernel implements; New rejects it with ErrUnsupportedImpl rather
	// than silently mapping it onto Distributed.
	NullMessage
)

var (
	// ErrZeroThreads is returned when Config.MaxThreads is negative.
	ErrZeroThreads = errors.New("kernel: max_threads must not be negative")

	// ErrUnsupportedImpl is returned for a simulator_impl this kernel
	// does not implement (NullMessage). The design notes scope the
	// tagged variant to Multithreaded/Distributed/Hybrid only.
	ErrUnsupportedImpl = errors.New("kernel: unsupported simulator_impl")

	// ErrNoGraph is returned when Distributed or Hybrid mode is
	// requested without a topology to partition.
	ErrNoGraph = errors.New("kernel: distributed and hybrid modes require a Graph")

	// ErrNoBus is returned when Distributed or Hybrid mode is requested
	// without a message bus to synchronize LBTS rounds over.
	ErrNoBus = errors.New("kernel: distributed and hybrid modes require a Bus")
)

// Config controls how a SimulatorFacade builds and runs its executor.
type Config struct {
	// MaxThreads bounds worker threads per host; 0 defaults to hardware
	// concurrency, matching mtexec.Config.
	MaxThreads int

	// MinLookahead is the partition cut threshold; 0 derives the median
	// point-to-point link delay.
	MinLookahead uint64

	PartitionSchedulingMethod mtexec.SchedulingMethod
	PartitionSchedulingPeriod int

	SimulatorImpl ExecutorKind

	// Graph is required for Distributed and Hybrid. It is optional for
	// Multithreaded: when set, New auto-partitions the whole graph (no host
	// boundary) and ScheduleWithContext resolves node ids through it.
	Graph *topo.Graph

	// Rank is this host's position in Graph and on Bus; required for
	// Distributed and Hybrid.
	Rank uint32

	Bus   distexec.Bus
	Codec distexec.EventCodec

	// TimeResolutionPS is the wall-clock meaning of one simulated time
	// unit; the kernel itself is resolution-agnostic, so this is kept
	// only for callers and diagnostics to report against.
	TimeResolutionPS uint64

	RNGSeed uint32
}

func (c Config) validate() error {
	if c.MaxThreads < 0 {
		return ErrZeroThreads
	}
	if c.SimulatorImpl != Multithreaded && c.SimulatorImpl != Distributed && c.SimulatorImpl != Hybrid {
		return ErrUnsupportedImpl
	}
	if c.SimulatorImpl != Multithreaded {
		if c.Graph == nil {
			return ErrNoGraph
		}
		if c.Bus == nil {
			return ErrNoBus
		}
	}
	return nil
}

func (c Config) maxThreadsOrDefault() int {
	if c.MaxThreads > 0 {
		return c.MaxThreads
	}
	return runtime.GOMAXPROCS(0)
}
