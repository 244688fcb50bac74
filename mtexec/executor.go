// Package mtexec implements the shared-memory multithreaded executor: a
// worker pool that drives every logical process through repeated rounds —
// priority sort, stage 1 (per-LP event processing), the public LP, stage 2
// (mailbox drain), and a global-clock recompute — guarded by a coarse
// critical section for state that must stay consistent across workers.
package mtexec

import (
	"errors"
	"log"
	"math"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sarchlab/parallax/event"
	"github.com/sarchlab/parallax/lp"
	"github.com/sarchlab/parallax/workerctx"
)

// SchedulingMethod selects the comparator the executor uses to reorder LPs
// between rounds, so that LPs likely to take longer are started earlier in
// a round.
type SchedulingMethod int

const (
	// ByExecutionTime sorts LPs by descending recent average round time.
	ByExecutionTime SchedulingMethod = iota
	// ByPendingEventCount sorts LPs by descending events inserted at the
	// last mailbox drain.
	ByPendingEventCount
	// ByEventCount sorts LPs by descending total events processed so far.
	ByEventCount
	// BySimulationTime sorts LPs by descending current simulated time.
	BySimulationTime
)

// ErrNoSystems is returned by Run if the executor has no logical
// processes besides the public LP.
var ErrNoSystems = errors.New("mtexec: executor has no logical processes")

// Config controls the shared-memory executor's behavior.
type Config struct {
	MaxThreads       int
	SchedulingMethod SchedulingMethod
	SchedulingPeriod int // 0 => derive ceil(log2(S)/4 + 1)
	NowNanos         func() int64
}

// Executor is the shared-memory multithreaded round driver (the source's
// MtpInterface). systems[0] is always the public LP.
type Executor struct {
	cfg Config

	systems       []*lp.LogicalProcess
	sortedIndices []int // indices into systems[1:], offset by -1

	// byLabel maps each logical process's own SystemID label to its slot
	// in systems. For the threaded single-host case the label equals the
	// slot, but HybridExecutor labels its LPs with the global
	// ((localLPID+1)<<16|rank) encoding from topo.PartitionHost, which does
	// not — so
	// System and Deliver always resolve through this map rather than
	// indexing systems directly by the caller-supplied id.
	byLabel map[uint32]int

	roundCounter   uint64
	smallestTime   uint64
	nextPublicTime uint64
	globalFinished bool

	// windowCeiling additionally bounds grantedTimeFor, on top of
	// smallestTime+lookahead and nextPublicTime. It defaults to the
	// largest representable timestamp (no extra bound) and is only set
	// by DistributedExecutor, which drives a host's local round one
	// window at a time under the LBTS protocol.
	windowCeiling uint64

	spin atomic.Bool

	destroyList []event.ID

	nowNanos func() int64
}

// New creates an Executor. The public LP (system id 0) is created and
// registered automatically.
func New(cfg Config) *Executor {
	if cfg.MaxThreads <= 0 {
		cfg.MaxThreads = runtime.GOMAXPROCS(0)
	}
	if cfg.NowNanos == nil {
		cfg.NowNanos = func() int64 { return time.Now().UnixNano() }
	}

	e := &Executor{
		cfg:           cfg,
		nowNanos:      cfg.NowNanos,
		windowCeiling: lp.TimeMax,
		byLabel:       make(map[uint32]int),
	}
	e.systems = append(e.systems, lp.New(0))
	e.byLabel[0] = 0
	return e
}

// AddSystem registers a non-public logical process with the executor,
// keyed for later lookup by its own SystemID label.
func (e *Executor) AddSystem(l *lp.LogicalProcess) {
	idx := len(e.systems)
	e.systems = append(e.systems, l)
	e.sortedIndices = append(e.sortedIndices, idx-1)
	e.byLabel[l.SystemID()] = idx
}

// Public returns the public LP (system id 0).
func (e *Executor) Public() *lp.LogicalProcess {
	return e.systems[0]
}

// System returns the logical process registered under the given system
// id label, or nil if no such label was registered.
func (e *Executor) System(systemID uint32) *lp.LogicalProcess {
	idx, ok := e.byLabel[systemID]
	if !ok {
		return nil
	}
	return e.systems[idx]
}

// SystemCount returns the total number of logical processes, including
// the public LP.
func (e *Executor) SystemCount() int {
	return len(e.systems)
}

// schedulingPeriod returns the configured period, or the derived default
// ceil(log2(S)/4 + 1) when unset.
func (e *Executor) schedulingPeriod() int {
	if e.cfg.SchedulingPeriod > 0 {
		return e.cfg.SchedulingPeriod
	}
	s := float64(len(e.systems))
	if s <= 1 {
		return 1
	}
	period := math.Ceil(math.Log2(s)/4 + 1)
	if period < 1 {
		period = 1
	}
	return int(period)
}

// withCriticalSection runs fn while holding the executor-wide spinlock,
// guarding the destroy list and global-event scheduling, matching the
// source's CriticalSection RAII guard.
func (e *Executor) withCriticalSection(fn func()) {
	for !e.spin.CompareAndSwap(false, true) {
		runtime.Gosched()
	}
	defer e.spin.Store(false)
	fn()
}

// ScheduleGlobal inserts evt into the public LP at
// min(smallestTime, nextPublicTime) under the critical section, so it is
// processed in a public-LP stage-3 pass rather than interleaved with any
// LP's stage-1 processing.
func (e *Executor) ScheduleGlobal(evt event.Event) event.ID {
	var id event.ID
	e.withCriticalSection(func() {
		ts := e.smallestTime
		if e.nextPublicTime < ts {
			ts = e.nextPublicTime
		}
		id = e.systems[0].ScheduleAt(event.NoContext, ts, evt)
	})
	return id
}

// ScheduleDestroy appends evt to the executor-wide destroy list under the
// critical section.
func (e *Executor) ScheduleDestroy(evt event.Event) event.ID {
	id := event.ID{Event: evt, UID: event.DestroyUID}
	e.withCriticalSection(func() {
		e.destroyList = append(e.destroyList, id)
	})
	return id
}

// Stop sets the cooperative stop flag on every logical process.
func (e *Executor) Stop() {
	for _, s := range e.systems {
		s.Stop()
	}
}

// GlobalFinished reports whether the most recent recompute found every LP
// locally finished.
func (e *Executor) GlobalFinished() bool {
	return e.globalFinished
}

// Prime computes the initial smallestTime/nextPublicTime/globalFinished
// snapshot without running a round, so a caller driving rounds one at a
// time (DistributedExecutor) has a valid SmallestTime before its first
// LBTS post.
func (e *Executor) Prime() {
	e.recomputeGlobals()
}

// Run drives rounds until every LP reports locally finished, then invokes
// the destroy list in insertion order (skipping cancelled entries).
func (e *Executor) Run() error {
	if len(e.systems) < 2 {
		return ErrNoSystems
	}

	e.recomputeGlobals()
	for !e.globalFinished {
		e.runRound()
		e.recomputeGlobals()
	}

	e.runDestroyList()
	return nil
}

func (e *Executor) runDestroyList() {
	for _, id := range e.destroyList {
		if id.Event != nil && !id.Event.IsCancelled() {
			id.Event.Invoke()
		}
	}
	e.destroyList = nil
}

// runRound executes a single stage-1/public/stage-2 cycle.
func (e *Executor) runRound() {
	if e.roundCounter%uint64(e.schedulingPeriod()) == 0 {
		e.sortIndices()
	}

	e.runStage(len(e.sortedIndices), func(i int) int {
		return e.sortedIndices[i] + 1
	}, func(sysIdx int) {
		e.runOne(e.systems[sysIdx])
	})

	workerctx.Bind(e.systems[0])
	e.runOne(e.systems[0])
	workerctx.Unbind()

	e.runStage(len(e.systems), func(i int) int {
		return i
	}, func(sysIdx int) {
		e.systems[sysIdx].ReceiveMessages()
	})

	e.roundCounter++
}

func (e *Executor) runOne(l *lp.LogicalProcess) {
	granted := e.grantedTimeFor(l)
	l.ProcessOneRound(granted, e.nowNanos)
}

// grantedTimeFor computes min(globalSmallestTime + l's lookahead,
// nextPublicTime); the public LP always has lookahead 0.
func (e *Executor) grantedTimeFor(l *lp.LogicalProcess) uint64 {
	lookahead := l.MinLookahead()
	if lookahead == lp.TimeMax {
		lookahead = 0
	}
	if l == e.systems[0] {
		lookahead = 0
	}

	granted := addSaturating(e.smallestTime, lookahead)
	if e.nextPublicTime < granted {
		granted = e.nextPublicTime
	}
	if e.windowCeiling < granted {
		granted = e.windowCeiling
	}
	return granted
}

// SmallestTime returns the smallest Next() across every non-public LP, as
// of the last recompute; DistributedExecutor reads this to compute its
// local contribution to the LBTS all-gather.
func (e *Executor) SmallestTime() uint64 {
	return e.smallestTime
}

// SetWindowCeiling additionally bounds every grantedTimeFor computation
// until changed again. DistributedExecutor calls this before RunOneRound
// to confine a host's local round to the globally granted LBTS window.
func (e *Executor) SetWindowCeiling(ts uint64) {
	e.windowCeiling = ts
}

// RunOneRound runs exactly one stage-1/public/stage-2/recompute cycle and
// returns, instead of looping until GlobalFinished as Run does. Used by
// DistributedExecutor, which only advances a round when the LBTS protocol
// has cleared it to.
func (e *Executor) RunOneRound() {
	e.runRound()
	e.recomputeGlobals()
}

// Deliver inserts evt directly into the logical process labeled
// systemID, at the given absolute timestamp, without going through a
// sender LP's mailbox push. DistributedExecutor uses this to reinject an
// event that arrived over the message bus from a remote host, which has
// no local LP object to push a mailbox entry on behalf of.
func (e *Executor) Deliver(systemID uint32, context uint32, absoluteTS uint64, evt event.Event) {
	idx, ok := e.byLabel[systemID]
	if !ok {
		log.Panicf("mtexec: Deliver to unknown system id %d", systemID)
	}
	e.systems[idx].ScheduleAt(context, absoluteTS, evt)
}

func addSaturating(a, b uint64) uint64 {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}

// runStage claims indices 0..n-1 from a shared atomic counter across a
// pool of min(MaxThreads, n) worker goroutines; the caller does not claim
// work itself and only waits for them.
// resolve maps a claimed slot to the absolute system index, which fn then
// operates on; each worker binds that system as its current LP for the
// duration of fn so a handler running inside fn can use workerctx.Current
// to find it. The call barriers until every worker has returned.
func (e *Executor) runStage(n int, resolve func(slot int) int, fn func(sysIdx int)) {
	if n == 0 {
		return
	}

	var counter atomic.Int64
	workers := e.cfg.MaxThreads
	if workers > n {
		workers = n
	}
	if workers < 1 {
		workers = 1
	}

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			e.drainWork(&counter, n, resolve, fn)
		}()
	}
	wg.Wait()
}

func (e *Executor) drainWork(
	counter *atomic.Int64,
	n int,
	resolve func(int) int,
	fn func(sysIdx int),
) {
	for {
		i := int(counter.Add(1)) - 1
		if i >= n {
			return
		}
		sysIdx := resolve(i)
		workerctx.Bind(e.systems[sysIdx])
		fn(sysIdx)
		workerctx.Unbind()
	}
}

func (e *Executor) recomputeGlobals() {
	smallest := lp.TimeMax
	for i := 1; i < len(e.systems); i++ {
		if n := e.systems[i].Next(); n < smallest {
			smallest = n
		}
	}
	e.smallestTime = smallest
	e.nextPublicTime = e.systems[0].Next()

	finished := true
	for _, s := range e.systems {
		if !s.IsLocalFinished() {
			finished = false
			break
		}
	}
	e.globalFinished = finished
}

func (e *Executor) sortIndices() {
	less := e.comparator()
	// Insertion sort: S is typically small enough (one LP per partition
	// cut) that this is both simple and fast, and it keeps the sort
	// stable across re-sorts so ties don't thrash.
	idx := e.sortedIndices
	for i := 1; i < len(idx); i++ {
		j := i
		for j > 0 && less(idx[j], idx[j-1]) {
			idx[j], idx[j-1] = idx[j-1], idx[j]
			j--
		}
	}
}

func (e *Executor) comparator() func(a, b int) bool {
	switch e.cfg.SchedulingMethod {
	case ByPendingEventCount:
		return func(a, b int) bool {
			return e.systems[a+1].PendingEventCount() > e.systems[b+1].PendingEventCount()
		}
	case ByEventCount:
		return func(a, b int) bool {
			return e.systems[a+1].EventCount() > e.systems[b+1].EventCount()
		}
	case BySimulationTime:
		return func(a, b int) bool {
			return e.systems[a+1].Now() > e.systems[b+1].Now()
		}
	default: // ByExecutionTime
		return func(a, b int) bool {
			return e.systems[a+1].AverageRoundExecNanos() > e.systems[b+1].AverageRoundExecNanos()
		}
	}
}
