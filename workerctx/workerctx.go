// Package workerctx tracks which LogicalProcess the calling goroutine is
// currently driving. The source kernel keeps this as a pthread
// thread-local; Go has no native per-goroutine storage, so this package
// keys a small map by the calling goroutine's numeric id, parsed out of
// its own minimal stack trace. Every worker goroutine binds itself before
// running a round and unbinds when it is done; SimulatorFacade.Schedule
// and SimulatorFacade.Now read the binding to find the LP an externally
// authored event handler is currently executing under, without requiring
// that handler to carry an explicit LP reference.
package workerctx

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"

	"github.com/sarchlab/parallax/lp"
)

var registry = struct {
	mu sync.RWMutex
	m  map[int64]*lp.LogicalProcess
}{m: make(map[int64]*lp.LogicalProcess)}

// Bind records that the calling goroutine is now driving l.
func Bind(l *lp.LogicalProcess) {
	id := goid()
	registry.mu.Lock()
	registry.m[id] = l
	registry.mu.Unlock()
}

// Unbind clears the calling goroutine's current LP.
func Unbind() {
	id := goid()
	registry.mu.Lock()
	delete(registry.m, id)
	registry.mu.Unlock()
}

// Current returns the LP the calling goroutine is presently driving, or
// nil if none is bound (e.g. a call from outside any worker's round).
func Current() *lp.LogicalProcess {
	id := goid()
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	return registry.m[id]
}

// goid parses the numeric goroutine id out of the calling goroutine's own
// stack trace header ("goroutine 123 [running]: ..."). This is the
// narrowest possible use of runtime internals needed to emulate
// pthread_getspecific/pthread_setspecific; every other part of the kernel
// avoids it.
func goid() int64 {
	buf := make([]byte, 64)
	n := runtime.Stack(buf, false)
	buf = buf[:n]
	buf = bytes.TrimPrefix(buf, []byte("goroutine "))
	if i := bytes.IndexByte(buf, ' '); i >= 0 {
		buf = buf[:i]
	}
	id, _ := strconv.ParseInt(string(buf), 10, 64)
	return id
}
