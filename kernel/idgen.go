package kernel

import (
	"log"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/rs/xid"
)

var idGeneratorMutex sync.Mutex
var idGeneratorInstantiated bool
var idGenerator RunIDGenerator

// RunIDGenerator produces the run correlation id kernel.New stamps into
// klog's field set and, in Distributed/Hybrid mode, into every
// distexec.RoundReport the monitor package receives, so every log line and
// telemetry frame from a single run can be correlated across hosts.
type RunIDGenerator interface {
	Generate() string
}

// UseSequentialRunIDs configures the generator to hand out small
// incrementing ids, useful for deterministic single-host test runs where
// a stable id makes golden-log comparison possible.
func UseSequentialRunIDs() {
	idGeneratorMutex.Lock()
	defer idGeneratorMutex.Unlock()
	if idGeneratorInstantiated {
		log.Panic("kernel: cannot change run id generator after it has been used")
	}
	idGenerator = &sequentialRunIDGenerator{}
	idGeneratorInstantiated = true
}

// UseGloballyUniqueRunIDs configures the generator to hand out xid-based
// globally unique ids, needed once a run spans multiple hosts and their
// log streams must be correlated without a shared counter.
func UseGloballyUniqueRunIDs() {
	idGeneratorMutex.Lock()
	defer idGeneratorMutex.Unlock()
	if idGeneratorInstantiated {
		log.Panic("kernel: cannot change run id generator after it has been used")
	}
	idGenerator = xidRunIDGenerator{}
	idGeneratorInstantiated = true
}

// RunID returns the process-wide run id generator, defaulting to
// globally unique ids if no mode was selected explicitly.
func RunID() RunIDGenerator {
	idGeneratorMutex.Lock()
	defer idGeneratorMutex.Unlock()
	if !idGeneratorInstantiated {
		idGenerator = xidRunIDGenerator{}
		idGeneratorInstantiated = true
	}
	return idGenerator
}

type sequentialRunIDGenerator struct {
	next uint64
}

func (g *sequentialRunIDGenerator) Generate() string {
	return strconv.FormatUint(atomic.AddUint64(&g.next, 1), 10)
}

type xidRunIDGenerator struct{}

func (xidRunIDGenerator) Generate() string {
	return xid.New().String()
}
