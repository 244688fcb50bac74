// Package lp implements the LogicalProcess: one sequential event timeline,
// its future event list, its lookahead to every other LP it can reach, and
// the inbound mailbox used for cross-LP event delivery. Every exported
// method here is expected to be called only by the worker currently
// driving the LP's round, except PushMailbox, which a sender calls on a
// remote LP during stage 1 — see the package doc on concurrency below.
//
// Concurrency discipline: a sender writes into a receiver's mailbox slot
// during stage 1 of a round; the receiver only reads its mailbox during
// stage 2, after the stage-1 barrier. No lock is required on this path
// because the barrier between stage 1 and stage 2 serializes writers from
// readers — see mtexec for the barrier that makes this safe.
package lp

import (
	"math"
	"sort"
	"sync/atomic"

	"github.com/sarchlab/parallax/event"
)

// TimeMax is the sentinel "no more events" timestamp, returned by Next
// when an LP has stopped or is empty.
const TimeMax uint64 = math.MaxUint64

// current captures the (ts, context, uid) of the event an LP is presently
// processing, or most recently processed.
type current struct {
	ts      uint64
	context uint32
	uid     uint32
}

// mailboxEntry is one cross-LP message awaiting delivery. senderTS is the
// absolute timestamp the event is to run at on the receiver (the sender's
// clock plus the requested delay); together with senderID and senderUID it
// lets ReceiveMessages restore send order.
type mailboxEntry struct {
	senderTS  uint64
	senderID  uint32
	senderUID uint32
	evt       event.Event
}

// roundHistoryDepth bounds the per-round execution time history used by
// the by_execution_time priority-sort comparator, mirroring the original
// source's round-time vector without growing unboundedly over a long run.
const roundHistoryDepth = 8

// LogicalProcess is one event timeline: local future event list, current
// time, inbound mailbox, lookahead to every reachable peer, and per-round
// execution metrics.
type LogicalProcess struct {
	systemID uint32
	stopFlag atomic.Bool

	uidCounter uint32

	cur               current
	eventCount        uint64
	pendingEventCount uint64

	fel *event.Queue

	// lookahead maps a remote LP's system id to the minimum delay any
	// event this LP schedules into it is guaranteed to carry.
	lookahead map[uint32]uint64

	mailbox map[uint32][]mailboxEntry

	lastExecNanos   int64
	roundExecNanos  []int64
	roundHistoryPos int

	hooks []Hook
}

// New creates an empty LogicalProcess for the given system id.
func New(systemID uint32) *LogicalProcess {
	return &LogicalProcess{
		systemID:       systemID,
		fel:            event.NewQueue(),
		lookahead:      make(map[uint32]uint64),
		mailbox:        make(map[uint32][]mailboxEntry),
		roundExecNanos: make([]int64, 0, roundHistoryDepth),
	}
}

// SystemID returns the id this LP was assigned by the partitioner.
func (lp *LogicalProcess) SystemID() uint32 {
	return lp.systemID
}

// Now returns the LP's current simulated time, in picoseconds.
func (lp *LogicalProcess) Now() uint64 {
	return lp.cur.ts
}

// Context returns the node context of the event currently executing.
func (lp *LogicalProcess) Context() uint32 {
	return lp.cur.context
}

// EventCount returns the number of events this LP has invoked.
func (lp *LogicalProcess) EventCount() uint64 {
	return lp.eventCount
}

// PendingEventCount returns the number of events inserted into the FEL at
// the most recent mailbox drain.
func (lp *LogicalProcess) PendingEventCount() uint64 {
	return lp.pendingEventCount
}

// LastExecNanos returns the wall-clock duration of the LP's most recently
// completed round. The by_execution_time comparator uses
// AverageRoundExecNanos instead.
func (lp *LogicalProcess) LastExecNanos() int64 {
	return lp.lastExecNanos
}

// Stop sets the cooperative stop flag; the LP finishes its current event
// (if any) and then reports local-finished on every subsequent check.
// Idempotent.
func (lp *LogicalProcess) Stop() {
	lp.stopFlag.Store(true)
}

// Stopped reports whether Stop has been called.
func (lp *LogicalProcess) Stopped() bool {
	return lp.stopFlag.Load()
}

// IsLocalFinished reports whether this LP has nothing left to do: either it
// was stopped, or its future event list is empty.
func (lp *LogicalProcess) IsLocalFinished() bool {
	return lp.stopFlag.Load() || lp.fel.IsEmpty()
}

// Next returns the timestamp of the earliest pending event, or TimeMax if
// the LP is stopped or has no pending events.
func (lp *LogicalProcess) Next() uint64 {
	if lp.stopFlag.Load() {
		return TimeMax
	}
	key, _, ok := lp.fel.Peek()
	if !ok {
		return TimeMax
	}
	return key.TS
}

// nextUID returns a fresh, monotonically increasing uid for this LP.
func (lp *LogicalProcess) nextUID() uint32 {
	uid := lp.uidCounter
	lp.uidCounter++
	return uid
}

// Schedule enqueues evt at Now()+delay on this LP's own timeline.
func (lp *LogicalProcess) Schedule(delay uint64, evt event.Event) event.ID {
	ts := lp.cur.ts + delay
	return lp.ScheduleAt(lp.cur.context, ts, evt)
}

// ScheduleAt enqueues evt at an absolute timestamp under the given
// context, used directly by the partitioner to reseed events transferred
// across LPs.
func (lp *LogicalProcess) ScheduleAt(
	context uint32,
	absoluteTS uint64,
	evt event.Event,
) event.ID {
	uid := lp.nextUID()
	key := event.Key{TS: absoluteTS, Context: context, UID: uid}
	lp.fel.Insert(key, evt)

	return event.ID{Event: evt, TS: key.TS, Context: key.Context, UID: key.UID}
}

// ScheduleWithContext delivers evt to the LP that owns context, with
// delay measured from this LP's current time. If remote is this LP, the
// event is inserted directly; otherwise it is pushed into remote's
// mailbox, unassigned a uid, to be adopted at the receiver's next
// ReceiveMessages call.
func (lp *LogicalProcess) ScheduleWithContext(
	remote *LogicalProcess,
	context uint32,
	delay uint64,
	evt event.Event,
) {
	ts := lp.cur.ts + delay

	if remote == lp {
		lp.ScheduleAt(context, ts, evt)
		return
	}

	remote.PushMailbox(mailboxEntry{
		senderTS:  ts,
		senderID:  lp.systemID,
		senderUID: lp.nextUID(),
		evt:       evt,
	})
}

// PushMailbox appends a cross-LP message into this LP's inbound mailbox,
// grouped by sender. Called by the sending LP during stage 1 of a round;
// see the package doc for why no lock is required.
func (lp *LogicalProcess) PushMailbox(e mailboxEntry) {
	lp.mailbox[e.senderID] = append(lp.mailbox[e.senderID], e)
}

// ReceiveMessages drains the mailbox into the future event list. Senders
// are visited in ascending sender id order — Go randomizes map iteration
// order, but the source's own mailbox is an ordered std::map keyed by
// sender, and draining senders in an arbitrary order would make the
// relative uid assignment (and so the FEL tie-break order) for same-
// timestamp events from different senders vary nondeterministically across
// runs of identical input. Each per-sender queue is sorted into descending
// (senderTS, senderID, senderUID) order and drained in reverse, so events
// are inserted in ascending sender order and each receives a freshly
// assigned uid from this LP's own counter — preserving the sender's
// relative order without trusting the sender's uid space.
func (lp *LogicalProcess) ReceiveMessages() {
	var inserted uint64

	senderIDs := make([]uint32, 0, len(lp.mailbox))
	for senderID := range lp.mailbox {
		senderIDs = append(senderIDs, senderID)
	}
	sort.Slice(senderIDs, func(i, j int) bool { return senderIDs[i] < senderIDs[j] })

	for _, senderID := range senderIDs {
		entries := lp.mailbox[senderID]
		sortDescending(entries)
		for i := len(entries) - 1; i >= 0; i-- {
			e := entries[i]
			lp.ScheduleAt(e.senderID, e.senderTS, e.evt)
			inserted++
		}
		delete(lp.mailbox, senderID)
	}

	lp.pendingEventCount = inserted
}

func sortDescending(entries []mailboxEntry) {
	// Insertion sort: mailbox batches per round are small, and this keeps
	// the comparator explicit about the (ts, id, uid) tuple order the
	// source requires.
	for i := 1; i < len(entries); i++ {
		j := i
		for j > 0 && less(entries[j], entries[j-1]) {
			entries[j], entries[j-1] = entries[j-1], entries[j]
			j--
		}
	}
}

// less reports whether a sorts before b in descending order.
func less(a, b mailboxEntry) bool {
	if a.senderTS != b.senderTS {
		return a.senderTS > b.senderTS
	}
	if a.senderID != b.senderID {
		return a.senderID > b.senderID
	}
	return a.senderUID > b.senderUID
}

// ProcessOneRound runs every pending event whose timestamp is at most
// grantedTime, in (ts, uid) order, stopping early if Stop is observed
// mid-round. It records the wall-clock cost of the round for the
// priority-sort comparator.
func (lp *LogicalProcess) ProcessOneRound(grantedTime uint64, nowNanos func() int64) {
	start := nowNanos()

	for {
		if lp.stopFlag.Load() {
			break
		}
		key, evt, ok := lp.fel.Peek()
		if !ok || key.TS > grantedTime {
			break
		}

		lp.fel.Pop()
		lp.cur = current{ts: key.TS, context: key.Context, uid: key.UID}
		id := event.ID{Event: evt, TS: key.TS, Context: key.Context, UID: key.UID}

		if !evt.IsCancelled() {
			lp.invokeHook(HookPosBeforeEvent, id)
			evt.Invoke()
			lp.invokeHook(HookPosAfterEvent, id)
			lp.eventCount++
		}
	}

	lp.recordRoundExec(nowNanos() - start)
}

func (lp *LogicalProcess) recordRoundExec(elapsed int64) {
	lp.lastExecNanos = elapsed

	if len(lp.roundExecNanos) < roundHistoryDepth {
		lp.roundExecNanos = append(lp.roundExecNanos, elapsed)
		return
	}
	lp.roundExecNanos[lp.roundHistoryPos] = elapsed
	lp.roundHistoryPos = (lp.roundHistoryPos + 1) % roundHistoryDepth
}

// AverageRoundExecNanos returns the mean of the retained round-time
// history, used to smooth the by_execution_time comparator against a
// single noisy round.
func (lp *LogicalProcess) AverageRoundExecNanos() int64 {
	if len(lp.roundExecNanos) == 0 {
		return 0
	}
	var sum int64
	for _, v := range lp.roundExecNanos {
		sum += v
	}
	return sum / int64(len(lp.roundExecNanos))
}

// Remove deletes the FEL entry for id, if still present, and cancels it.
// It reports whether an entry was found.
func (lp *LogicalProcess) Remove(id event.ID) bool {
	found := lp.fel.Remove(id)
	if found {
		id.Event.Cancel()
	}
	return found
}

// Cancel marks id's event cancelled without removing it from the FEL; a
// cancelled event is skipped when ProcessOneRound reaches it.
func (lp *LogicalProcess) Cancel(id event.ID) {
	id.Event.Cancel()
}

// IsExpired reports whether id refers to an event that has already run,
// been cancelled, or carries a nil event reference.
func (lp *LogicalProcess) IsExpired(id event.ID) bool {
	if id.Event == nil || id.Event.IsCancelled() {
		return true
	}
	if id.TS < lp.cur.ts {
		return true
	}
	if id.TS == lp.cur.ts && id.UID <= lp.cur.uid {
		return true
	}
	return false
}

// GetDelayLeft returns how much simulated time remains before id would
// run, measured from this LP's current time.
func (lp *LogicalProcess) GetDelayLeft(id event.ID) uint64 {
	if id.TS <= lp.cur.ts {
		return 0
	}
	return id.TS - lp.cur.ts
}

// InvokeNow runs evt immediately under the given context and timestamp,
// bypassing the FEL entirely. Used only by the partitioner to run time-0
// seed events in their original insertion order regardless of which LP
// ultimately owns them.
func (lp *LogicalProcess) InvokeNow(context uint32, ts uint64, evt event.Event) {
	saved := lp.cur
	lp.cur = current{ts: ts, context: context, uid: lp.nextUID()}

	if !evt.IsCancelled() {
		evt.Invoke()
		lp.eventCount++
	}

	lp.cur = saved
}

// SetLookahead records the minimum delay guaranteed for any event this LP
// schedules into the LP identified by remoteSystemID.
func (lp *LogicalProcess) SetLookahead(remoteSystemID uint32, delay uint64) {
	if cur, ok := lp.lookahead[remoteSystemID]; !ok || delay < cur {
		lp.lookahead[remoteSystemID] = delay
	}
}

// LookaheadTo returns the lookahead this LP has computed toward
// remoteSystemID, and false if no link to that LP was registered.
func (lp *LogicalProcess) LookaheadTo(remoteSystemID uint32) (uint64, bool) {
	d, ok := lp.lookahead[remoteSystemID]
	return d, ok
}

// MinLookahead returns the smallest lookahead this LP has to any peer, or
// TimeMax if it has no cross-LP peers at all (a fully isolated LP).
func (lp *LogicalProcess) MinLookahead() uint64 {
	min := TimeMax
	for _, d := range lp.lookahead {
		if d < min {
			min = d
		}
	}
	return min
}

// Peers returns the system ids of every LP this LP has a registered
// lookahead toward, i.e. every mailbox peer.
func (lp *LogicalProcess) Peers() []uint32 {
	peers := make([]uint32, 0, len(lp.lookahead))
	for id := range lp.lookahead {
		peers = append(peers, id)
	}
	return peers
}
