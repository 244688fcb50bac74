package kernel_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/parallax/event"
	"github.com/sarchlab/parallax/kernel"
	"github.com/sarchlab/parallax/lp"
	"github.com/sarchlab/parallax/topo"
)

var _ = Describe("SimulatorFacade", func() {
	It("rejects a negative thread count", func() {
		_, err := kernel.New(kernel.Config{MaxThreads: -1, SimulatorImpl: kernel.Multithreaded})
		Expect(err).To(MatchError(kernel.ErrZeroThreads))
	})

	It("rejects the unimplemented null-message simulator impl", func() {
		_, err := kernel.New(kernel.Config{SimulatorImpl: kernel.NullMessage})
		Expect(err).To(MatchError(kernel.ErrUnsupportedImpl))
	})

	It("requires a graph and bus for distributed mode", func() {
		_, err := kernel.New(kernel.Config{SimulatorImpl: kernel.Distributed})
		Expect(err).To(MatchError(kernel.ErrNoGraph))
	})

	// Scenario S1 from spec.md section 8.
	It("executes single-LP events in timestamp order", func() {
		f, err := kernel.New(kernel.Config{MaxThreads: 1, SimulatorImpl: kernel.Multithreaded})
		Expect(err).NotTo(HaveOccurred())

		l := lp.New(1)
		f.AddSystem(l)

		var order []string
		l.ScheduleAt(event.NoContext, 3, event.NewFunc(func() { order = append(order, "A") }))
		l.ScheduleAt(event.NoContext, 1, event.NewFunc(func() { order = append(order, "B") }))

		Expect(f.Run(context.Background())).To(Succeed())
		Expect(order).To(Equal([]string{"B", "A"}))
	})

	// Scenario S2 from spec.md section 8: cross-LP schedule_with_context
	// never delivers earlier than sender_ts + link delay.
	It("delivers a cross-LP event no earlier than the configured lookahead", func() {
		f, err := kernel.New(kernel.Config{MaxThreads: 1, SimulatorImpl: kernel.Multithreaded})
		Expect(err).NotTo(HaveOccurred())

		l1 := lp.New(1)
		l2 := lp.New(2)
		l1.SetLookahead(2, 100)
		l2.SetLookahead(1, 100)
		f.AddSystem(l1)
		f.AddSystem(l2)

		var deliveredAt uint64
		l1.ScheduleAt(event.NoContext, 0, event.NewFunc(func() {
			f.ScheduleWithContext(2, 100, event.NewFunc(func() {
				deliveredAt = f.Now()
			}))
		}))

		Expect(f.Run(context.Background())).To(Succeed())
		Expect(deliveredAt).To(BeEquivalentTo(100))
	})

	// Regression test: an auto-partitioned graph can collapse several node
	// ids into one system id, so a raw contextNodeID must never be used as
	// a system id directly. Nodes 1-2 share a bus link (never cut) and so
	// share system 1; nodes 3-4 share a different bus and form system 2;
	// the point-to-point link 2-3 is cut, so node 2's raw id (2) collides
	// with the *other* system's id even though node 2 itself belongs to
	// system 1.
	It("resolves a context node through its assigned system, not its raw node id", func() {
		g := topo.NewGraph()
		g.AddNode(topo.Node{ID: 1})
		g.AddNode(topo.Node{ID: 2})
		g.AddNode(topo.Node{ID: 3})
		g.AddNode(topo.Node{ID: 4})
		g.AddLink(topo.Link{A: 1, B: 2, DelayPS: 1, PointToPoint: false})
		g.AddLink(topo.Link{A: 2, B: 3, DelayPS: 100, PointToPoint: true})
		g.AddLink(topo.Link{A: 3, B: 4, DelayPS: 1, PointToPoint: false})

		f, err := kernel.New(kernel.Config{
			MaxThreads: 1, SimulatorImpl: kernel.Multithreaded,
			Graph: g, MinLookahead: 50,
		})
		Expect(err).NotTo(HaveOccurred())

		owner := f.SystemForNode(1)
		Expect(owner.SystemID()).To(BeEquivalentTo(1))
		Expect(f.SystemForNode(2).SystemID()).To(Equal(owner.SystemID()))

		var deliveredAt uint64
		var deliveredOn uint32
		owner.ScheduleAt(event.NoContext, 0, event.NewFunc(func() {
			f.ScheduleWithContext(2, 10, event.NewFunc(func() {
				deliveredAt = f.Now()
				deliveredOn = f.GetSystemID()
			}))
		}))

		Expect(f.Run(context.Background())).To(Succeed())
		Expect(deliveredAt).To(BeEquivalentTo(10))
		Expect(deliveredOn).To(Equal(owner.SystemID()))
	})

	// Scenario S5 from spec.md section 8.
	It("does not count a cancelled event toward event_count", func() {
		f, err := kernel.New(kernel.Config{MaxThreads: 1, SimulatorImpl: kernel.Multithreaded})
		Expect(err).NotTo(HaveOccurred())

		l := lp.New(1)
		f.AddSystem(l)

		id := l.ScheduleAt(event.NoContext, 10, event.NewFunc(func() {}))
		l.Cancel(id)
		Expect(l.IsExpired(id)).To(BeTrue())

		Expect(f.Run(context.Background())).To(Succeed())
		Expect(l.EventCount()).To(BeZero())
	})

	// Scenario S6 from spec.md section 8.
	It("runs a schedule_global call in a later stage-3 pass", func() {
		f, err := kernel.New(kernel.Config{MaxThreads: 1, SimulatorImpl: kernel.Multithreaded})
		Expect(err).NotTo(HaveOccurred())

		l := lp.New(1)
		f.AddSystem(l)

		var ran bool
		l.ScheduleAt(event.NoContext, 5, event.NewFunc(func() {
			f.ScheduleGlobal(event.NewFunc(func() { ran = true }))
		}))

		Expect(f.Run(context.Background())).To(Succeed())
		Expect(ran).To(BeTrue())
	})

	// Invariant 7 from spec.md section 8.
	It("treats a second Stop call as a no-op", func() {
		f, err := kernel.New(kernel.Config{MaxThreads: 1, SimulatorImpl: kernel.Multithreaded})
		Expect(err).NotTo(HaveOccurred())

		l := lp.New(1)
		f.AddSystem(l)
		l.ScheduleAt(event.NoContext, 1, event.NewFunc(func() {
			f.Stop()
			f.Stop()
		}))

		Expect(f.Run(context.Background())).To(Succeed())
		Expect(l.Stopped()).To(BeTrue())
	})

})
