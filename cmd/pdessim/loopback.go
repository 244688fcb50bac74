package main

import (
	"context"
	"sync"

	"github.com/sarchlab/parallax/event"
)

// loopbackFabric is an in-process, barrier-synchronized distexec.Bus for
// every host rank in a single pdessim process — a development substitute
// for a real MPI-backed bus, so `pdessim run` can demonstrate a Distributed
// or Hybrid topology without any actual network transport. Grounded on the
// same barrier-and-inbox design distexec's own tests use to stand in for
// MPI, adapted here to run for real rather than under ginkgo.
type loopbackFabric struct {
	mu        sync.Mutex
	cond      *sync.Cond
	size      int
	round     int
	gather    [][]byte
	submitted []bool
	lastOut   [][]byte
	inbox     [][][]byte
}

func newLoopbackFabric(size int) *loopbackFabric {
	f := &loopbackFabric{
		size:      size,
		gather:    make([][]byte, size),
		submitted: make([]bool, size),
		inbox:     make([][][]byte, size),
	}
	f.cond = sync.NewCond(&f.mu)
	return f
}

func (f *loopbackFabric) forRank(rank int) *loopbackBus {
	return &loopbackBus{rank: rank, fabric: f}
}

type loopbackBus struct {
	rank   int
	fabric *loopbackFabric
}

func (b *loopbackBus) Rank() int { return b.rank }
func (b *loopbackBus) Size() int { return b.fabric.size }

func (b *loopbackBus) AllGather(_ context.Context, payload []byte) ([][]byte, error) {
	f := b.fabric
	f.mu.Lock()
	defer f.mu.Unlock()

	myRound := f.round
	f.gather[b.rank] = payload
	f.submitted[b.rank] = true

	full := true
	for _, s := range f.submitted {
		if !s {
			full = false
			break
		}
	}

	if full {
		f.lastOut = append([][]byte(nil), f.gather...)
		f.gather = make([][]byte, f.size)
		f.submitted = make([]bool, f.size)
		f.round++
		f.cond.Broadcast()
		return f.lastOut, nil
	}

	for f.round == myRound {
		f.cond.Wait()
	}
	return f.lastOut, nil
}

func (b *loopbackBus) Send(_ context.Context, destRank int, payload []byte) error {
	f := b.fabric
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inbox[destRank] = append(f.inbox[destRank], payload)
	return nil
}

func (b *loopbackBus) Receive(_ context.Context) ([]byte, bool, error) {
	f := b.fabric
	f.mu.Lock()
	defer f.mu.Unlock()
	q := f.inbox[b.rank]
	if len(q) == 0 {
		return nil, false, nil
	}
	f.inbox[b.rank] = q[1:]
	return q[0], true, nil
}

// noopCodec serializes nothing: pdessim's demo topologies schedule no
// cross-host events of their own, so SendRemote is never actually called
// against a loopbackBus in the run command, but distexec.Executor still
// requires a non-nil EventCodec to construct.
type noopCodec struct{}

func (noopCodec) Encode(event.Event) ([]byte, error) { return nil, nil }
func (noopCodec) Decode([]byte) (event.Event, error) { return nil, nil }
