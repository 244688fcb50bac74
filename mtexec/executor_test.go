package mtexec_test

import (
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/parallax/event"
	"github.com/sarchlab/parallax/lp"
	"github.com/sarchlab/parallax/mtexec"
)

// recorder collects invocation order under a mutex, since stage-1 events
// run inside worker goroutines even for a single logical process.
type recorder struct {
	mu    sync.Mutex
	order []string
}

func (r *recorder) record(name string) {
	r.mu.Lock()
	r.order = append(r.order, name)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

var _ = Describe("Executor", func() {
	var (
		exec *mtexec.Executor
		l    *lp.LogicalProcess
		rec  *recorder
	)

	BeforeEach(func() {
		exec = mtexec.New(mtexec.Config{MaxThreads: 1})
		l = lp.New(1)
		exec.AddSystem(l)
		rec = &recorder{}
	})

	// Scenario S1 from spec.md section 8.
	It("executes single-LP events in timestamp order regardless of schedule order", func() {
		l.ScheduleAt(event.NoContext, 3, event.NewFunc(func() { rec.record("A") }))
		l.ScheduleAt(event.NoContext, 1, event.NewFunc(func() { rec.record("B") }))

		Expect(exec.Run()).To(Succeed())
		Expect(rec.snapshot()).To(Equal([]string{"B", "A"}))
	})

	// Scenario S5 from spec.md section 8.
	It("skips a cancelled event and does not count it as executed", func() {
		evt := event.NewFunc(func() { rec.record("E") })
		id := l.ScheduleAt(event.NoContext, 10, evt)

		l.Cancel(id)
		Expect(l.IsExpired(id)).To(BeTrue())

		Expect(exec.Run()).To(Succeed())
		Expect(rec.snapshot()).To(BeEmpty())
		Expect(l.EventCount()).To(BeZero())
	})

	// Scenario S6 from spec.md section 8.
	It("runs a globally scheduled event in a public-LP stage-3 pass", func() {
		l.ScheduleAt(event.NoContext, 5, event.NewFunc(func() {
			exec.ScheduleGlobal(event.NewFunc(func() { rec.record("global") }))
		}))

		Expect(exec.Run()).To(Succeed())
		Expect(rec.snapshot()).To(ContainElement("global"))
	})

	It("refuses to run with no logical processes besides the public LP", func() {
		empty := mtexec.New(mtexec.Config{MaxThreads: 1})
		Expect(empty.Run()).To(MatchError(mtexec.ErrNoSystems))
	})

	It("invokes the destroy list in insertion order after the simulation ends", func() {
		l.ScheduleAt(event.NoContext, 1, event.NewFunc(func() {}))
		exec.ScheduleDestroy(event.NewFunc(func() { rec.record("d1") }))
		exec.ScheduleDestroy(event.NewFunc(func() { rec.record("d2") }))

		Expect(exec.Run()).To(Succeed())
		Expect(rec.snapshot()).To(Equal([]string{"d1", "d2"}))
	})

	It("skips a cancelled destroy event", func() {
		l.ScheduleAt(event.NoContext, 1, event.NewFunc(func() {}))
		destroyed := event.NewFunc(func() { rec.record("d1") })
		exec.ScheduleDestroy(destroyed)
		destroyed.Cancel()

		Expect(exec.Run()).To(Succeed())
		Expect(rec.snapshot()).To(BeEmpty())
	})
})
