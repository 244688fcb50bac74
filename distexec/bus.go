// Package distexec implements the distributed executor: the per-host LBTS
// (Lower Bound on Time Stamp) protocol that bounds how far a host's local
// round may advance until every in-flight cross-host message has been
// accounted for, and the transient-message bookkeeping that protocol
// relies on. The message bus itself — MPI or any equivalent transport —
// is treated as an opaque collaborator exposing all_gather/send/receive/
// size/rank, per spec.md section 1.
package distexec

import (
	"context"
	"encoding/binary"
)

// Bus is the message-passing transport a DistributedExecutor rides on top
// of. A real implementation wraps MPI (or any all-to-all capable
// transport); tests use an in-memory fake.
type Bus interface {
	// Rank returns this host's position among its peers.
	Rank() int

	// Size returns the total number of hosts participating.
	Size() int

	// AllGather exchanges payload with every peer and returns each peer's
	// payload indexed by rank, including this host's own at index Rank().
	AllGather(ctx context.Context, payload []byte) ([][]byte, error)

	// Send delivers payload to destRank. Sends are fire-and-forget from
	// the caller's perspective; the bus guarantees in-order delivery
	// per spec.md's Non-goals (no out-of-order delivery to model around).
	Send(ctx context.Context, destRank int, payload []byte) error

	// Receive returns the next payload addressed to this host, if any is
	// available without blocking. ok is false when nothing is pending.
	Receive(ctx context.Context) (payload []byte, ok bool, err error)
}

// LBTSMessage is the fixed wire record exchanged through Bus.AllGather,
// matching spec.md section 6 and ns-3's LbtsMessage: received/sent
// message counts, the sender's rank, whether it has locally finished, and
// its locally computed smallest pending timestamp.
type LBTSMessage struct {
	RxCount      uint32
	TxCount      uint32
	Rank         uint32
	Finished     bool
	SmallestTime int64 // picoseconds; TimeMax sentinel clamped to max int64
}

const lbtsWireSize = 4 + 4 + 4 + 1 + 8

// Marshal encodes the message into its fixed-size wire form.
func (m LBTSMessage) Marshal() []byte {
	buf := make([]byte, lbtsWireSize)
	binary.BigEndian.PutUint32(buf[0:4], m.RxCount)
	binary.BigEndian.PutUint32(buf[4:8], m.TxCount)
	binary.BigEndian.PutUint32(buf[8:12], m.Rank)
	if m.Finished {
		buf[12] = 1
	}
	binary.BigEndian.PutUint64(buf[13:21], uint64(m.SmallestTime))
	return buf
}

// UnmarshalLBTSMessage decodes a message produced by Marshal.
func UnmarshalLBTSMessage(buf []byte) LBTSMessage {
	var m LBTSMessage
	if len(buf) < lbtsWireSize {
		return m
	}
	m.RxCount = binary.BigEndian.Uint32(buf[0:4])
	m.TxCount = binary.BigEndian.Uint32(buf[4:8])
	m.Rank = binary.BigEndian.Uint32(buf[8:12])
	m.Finished = buf[12] != 0
	m.SmallestTime = int64(binary.BigEndian.Uint64(buf[13:21]))
	return m
}
