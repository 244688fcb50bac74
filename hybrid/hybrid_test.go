package hybrid_test

import (
	"context"
	"errors"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/parallax/distexec"
	"github.com/sarchlab/parallax/event"
	"github.com/sarchlab/parallax/hybrid"
	"github.com/sarchlab/parallax/topo"
)

// fakeFabric is a barrier-synchronized in-memory Bus, duplicated here
// rather than shared with the distexec package's test fake since each
// package's test suite is expected to stand on its own.
type fakeFabric struct {
	mu        sync.Mutex
	cond      *sync.Cond
	size      int
	round     int
	gather    [][]byte
	submitted []bool
	lastOut   [][]byte
	inbox     [][][]byte
}

func newFakeFabric(size int) *fakeFabric {
	f := &fakeFabric{
		size:      size,
		gather:    make([][]byte, size),
		submitted: make([]bool, size),
		inbox:     make([][][]byte, size),
	}
	f.cond = sync.NewCond(&f.mu)
	return f
}

func (f *fakeFabric) forRank(rank int) *fakeBus { return &fakeBus{rank: rank, fabric: f} }

type fakeBus struct {
	rank   int
	fabric *fakeFabric
}

func (b *fakeBus) Rank() int { return b.rank }
func (b *fakeBus) Size() int { return b.fabric.size }

func (b *fakeBus) AllGather(_ context.Context, payload []byte) ([][]byte, error) {
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

func (b *fakeBus) Send(_ context.Context, destRank int, payload []byte) error {
	f := b.fabric
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inbox[destRank] = append(f.inbox[destRank], payload)
	return nil
}

func (b *fakeBus) Receive(_ context.Context) ([]byte, bool, error) {
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

type registryCodec struct {
	mu     sync.Mutex
	nextID uint32
	events map[uint32]event.Event
}

func newRegistryCodec() *registryCodec {
	return &registryCodec{events: make(map[uint32]event.Event)}
}

func (c *registryCodec) Encode(evt event.Event) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.events[id] = evt
	return []byte{byte(id >> 24), byte(id >> 16), byte(id >> 8), byte(id)}, nil
}

func (c *registryCodec) Decode(data []byte) (event.Event, error) {
	if len(data) != 4 {
		return nil, errors.New("registryCodec: bad handle length")
	}
	id := uint32(data[0])<<24 | uint32(data[1])<<16 | uint32(data[2])<<8 | uint32(data[3])
	c.mu.Lock()
	defer c.mu.Unlock()
	evt, ok := c.events[id]
	if !ok {
		return nil, errors.New("registryCodec: unknown handle")
	}
	return evt, nil
}

var _ = Describe("Executor", func() {
	It("partitions each host's own nodes and exchanges a cross-host event under LBTS", func() {
		g := topo.NewGraph()
		g.AddNode(topo.Node{ID: 1, HostRank: 0})
		g.AddNode(topo.Node{ID: 2, HostRank: 1})
		g.AddLink(topo.Link{A: 1, B: 2, DelayPS: 1000, PointToPoint: true})

		fabric := newFakeFabric(2)
		codec := newRegistryCodec()

		hostA := hybrid.New(hybrid.Config{
			Graph: g, Rank: 0, MinLookahead: 1, MaxThreads: 1,
			Bus: fabric.forRank(0), Codec: codec,
		})
		hostB := hybrid.New(hybrid.Config{
			Graph: g, Rank: 1, MinLookahead: 1, MaxThreads: 1,
			Bus: fabric.forRank(1), Codec: codec,
		})

		Expect(hostA.PartitionResult().SystemCount).To(BeEquivalentTo(1))
		Expect(hostB.PartitionResult().SystemCount).To(BeEquivalentTo(1))

		remoteTargetID := uint32(1)<<16 | 1 // host B's first local LP, 1-based

		var mu sync.Mutex
		var fired bool

		lA := hostA.System(uint32(1)<<16 | 0)
		Expect(lA).NotTo(BeNil())
		lA.ScheduleAt(event.NoContext, 100, event.NewFunc(func() {
			remote := event.NewFunc(func() {
				mu.Lock()
				fired = true
				mu.Unlock()
			})
			Expect(hostA.SendRemote(context.Background(), 1, remoteTargetID, 500, remote)).To(Succeed())
		}))

		var wg sync.WaitGroup
		wg.Add(2)
		var errA, errB error
		go func() { defer wg.Done(); errA = hostA.Run(context.Background()) }()
		go func() { defer wg.Done(); errB = hostB.Run(context.Background()) }()
		wg.Wait()

		Expect(errA).NotTo(HaveOccurred())
		Expect(errB).NotTo(HaveOccurred())

		mu.Lock()
		defer mu.Unlock()
		Expect(fired).To(BeTrue())
	})

	It("floors inter-host lookahead at 1 so a zero-delay cross-host link still advances", func() {
		g := topo.NewGraph()
		g.AddNode(topo.Node{ID: 1, HostRank: 0})
		g.AddNode(topo.Node{ID: 2, HostRank: 1})
		g.AddLink(topo.Link{A: 1, B: 2, DelayPS: 0, PointToPoint: true})

		result := topo.PartitionHost(g, 0, 0)
		Expect(result.Threshold).To(BeNumerically(">=", 1))
	})
})

var _ distexec.Bus = (*fakeBus)(nil)
