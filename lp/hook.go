package lp

import "github.com/sarchlab/parallax/event"

// HookPos names a point in a LogicalProcess's round where a Hook may be
// invoked.
type HookPos struct {
	Name string
}

// HookCtx carries the information available at the site a hook fires.
type HookCtx struct {
	LP   *LogicalProcess
	Pos  *HookPos
	Item event.ID
}

// HookPosBeforeEvent fires immediately before an event is invoked.
var HookPosBeforeEvent = &HookPos{Name: "BeforeEvent"}

// HookPosAfterEvent fires immediately after an event returns.
var HookPosAfterEvent = &HookPos{Name: "AfterEvent"}

// Hook is a short piece of program a LogicalProcess invokes at a HookPos.
type Hook interface {
	Func(ctx HookCtx)
}

// AcceptHook registers hook to run at every event this LP processes,
// bracketing each invocation with HookPosBeforeEvent/HookPosAfterEvent.
// Used for tracing and the monitor package's live telemetry feed; a LP
// with no hooks registered pays nothing beyond a nil slice check.
func (lp *LogicalProcess) AcceptHook(hook Hook) {
	lp.hooks = append(lp.hooks, hook)
}

func (lp *LogicalProcess) invokeHook(pos *HookPos, id event.ID) {
	for _, h := range lp.hooks {
		h.Func(HookCtx{LP: lp, Pos: pos, Item: id})
	}
}
