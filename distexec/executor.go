package distexec

import (
	"context"
	"errors"
	"time"

	"github.com/sarchlab/parallax/event"
	"github.com/sarchlab/parallax/klog"
	"github.com/sarchlab/parallax/mtexec"
)

// ErrBusFailure wraps any error returned by the Bus during a round; per
// spec.md section 7, a failed all_gather aborts the round and reports
// global-finished with an error status rather than leaving the executor
// in a half-advanced state.
var ErrBusFailure = errors.New("distexec: message bus failure")

// Local is the per-host round driver a DistributedExecutor advances under
// the LBTS protocol. *mtexec.Executor satisfies this directly, whether it
// holds a single LP (plain distributed mode) or a partitioned, threaded
// set of LPs (the local half of HybridExecutor).
//
// Prime recomputes the smallest-pending-time/finished snapshot without
// running a round; DistributedExecutor calls it once up front and again
// after every drain of inbound messages, since a message delivered
// directly onto a LP's future event list does not itself update that
// snapshot.
type Local interface {
	Prime()
	RunOneRound()
	SetWindowCeiling(ts uint64)
	SmallestTime() uint64
	GlobalFinished() bool
	Deliver(systemID, context uint32, absoluteTS uint64, evt event.Event)
}

var _ Local = (*mtexec.Executor)(nil)

// Executor is the per-host distributed round driver: it drains inbound
// cross-host messages, posts its rx/tx counts and local smallest time
// through the bus's all_gather, and advances its Local domain by one
// window only when no transient messages remain in flight anywhere in
// the system.
type Executor struct {
	bus   Bus
	codec EventCodec
	local Local

	rxCount uint32
	txCount uint32

	runID    string
	observer RoundObserver
}

// SetRunID attaches the correlation id reported alongside every RoundReport
// this executor emits, so a monitor.Hub/monitor.Metrics fed by multiple
// hosts can tell which run a frame belongs to.
func (e *Executor) SetRunID(id string) {
	e.runID = id
}

// New creates a DistributedExecutor riding bus, serializing cross-host
// events with codec, and driving local as its per-host domain.
func New(bus Bus, codec EventCodec, local Local) *Executor {
	return &Executor{bus: bus, codec: codec, local: local}
}

// Run drives LBTS rounds until every host reports globally finished with
// no transient messages outstanding.
func (e *Executor) Run(ctx context.Context) error {
	e.local.Prime()

	for {
		finished, err := e.runRound(ctx)
		if err != nil {
			return err
		}
		if finished {
			return nil
		}
	}
}

// runRound executes one LBTS round: drain inbound, post counts, and
// conditionally advance the local window. It returns (true, nil) once the
// whole distributed system has finished with no transients outstanding.
func (e *Executor) runRound(ctx context.Context) (bool, error) {
	start := time.Now()

	if err := e.drainInbound(ctx); err != nil {
		klog.TransportError(err, klog.Fields{"rank": e.bus.Rank(), "stage": "drain"})
		return true, errors.Join(ErrBusFailure, err)
	}
	e.local.Prime()

	local := LBTSMessage{
		RxCount:      e.rxCount,
		TxCount:      e.txCount,
		Rank:         uint32(e.bus.Rank()),
		Finished:     e.local.GlobalFinished(),
		SmallestTime: clampToInt64(e.local.SmallestTime()),
	}

	replies, err := e.bus.AllGather(ctx, local.Marshal())
	if err != nil {
		klog.TransportError(err, klog.Fields{"rank": e.bus.Rank(), "stage": "all_gather"})
		return true, errors.Join(ErrBusFailure, err)
	}

	var (
		smallestGlobal = local.SmallestTime
		totRx, totTx   uint32
		allFinished    = true
	)
	for _, raw := range replies {
		msg := UnmarshalLBTSMessage(raw)
		if msg.SmallestTime < smallestGlobal {
			smallestGlobal = msg.SmallestTime
		}
		totRx += msg.RxCount
		totTx += msg.TxCount
		allFinished = allFinished && msg.Finished
	}

	noTransients := totRx == totTx
	globalFinished := allFinished && noTransients

	klog.LBTSRound(klog.Fields{
		"rank": e.bus.Rank(), "tot_rx": totRx, "tot_tx": totTx,
		"smallest_time_global": smallestGlobal, "global_finished": globalFinished,
	}, "lbts round")

	if noTransients && !e.local.GlobalFinished() {
		e.local.SetWindowCeiling(clampToUint64(smallestGlobal))
		e.local.RunOneRound()
	}

	if e.observer != nil {
		e.observer.ObserveRound(RoundReport{
			RunID: e.runID,
			Rank:  uint32(e.bus.Rank()), TotRx: totRx, TotTx: totTx,
			SmallestTime: smallestGlobal, GlobalFinished: globalFinished,
			Duration: time.Since(start),
		})
	}

	return globalFinished, nil
}

// drainInbound pulls every pending payload off the bus, decodes its
// envelope, and reinjects the event directly into the target LP at its
// original absolute timestamp, incrementing rxCount for each message
// accepted.
func (e *Executor) drainInbound(ctx context.Context) error {
	for {
		raw, ok, err := e.bus.Receive(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		env, err := unmarshalEnvelope(raw)
		if err != nil {
			return err
		}

		if e.codec == nil {
			return ErrNoCodec
		}
		evt, err := e.codec.Decode(env.Body)
		if err != nil {
			return err
		}

		e.local.Deliver(env.Context, env.Context, env.AbsoluteTS, evt)
		e.rxCount++
	}
}

// SendRemote serializes evt and sends it to destRank for delivery at
// absoluteTS. The receiving host's drainInbound passes nodeContext to
// Local.Deliver as both the target system id label and the event's
// context, so it must name a system registered there. It increments
// txCount so the
// next LBTS post reflects the transient message until the destination's
// rxCount catches up.
func (e *Executor) SendRemote(
	ctx context.Context,
	destRank int,
	nodeContext uint32,
	absoluteTS uint64,
	evt event.Event,
) error {
	if e.codec == nil {
		return ErrNoCodec
	}
	body, err := e.codec.Encode(evt)
	if err != nil {
		return err
	}

	payload := marshalEnvelope(envelope{
		Context:    nodeContext,
		AbsoluteTS: absoluteTS,
		Body:       body,
	})

	if err := e.bus.Send(ctx, destRank, payload); err != nil {
		return err
	}
	e.txCount++
	return nil
}

func clampToInt64(ts uint64) int64 {
	const maxInt64 = uint64(1<<63 - 1)
	if ts > maxInt64 {
		return 1<<63 - 1
	}
	return int64(ts)
}

func clampToUint64(ts int64) uint64 {
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}
