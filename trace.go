package luasampler

import (
	"fmt"

	"golang.org/x/exp/slices"
)

// maxCallDepth bounds a single coroutine's frame stack, mirroring the
// original's fixed MAX_CALL_SIZE array (profile.c). Exceeding it is a fatal
// misuse of the hook (a runaway recursive script, or a host bug double
// firing CALL events) and panics rather than silently truncating, matching
// the original's assert(call_state->top < MAX_CALL_SIZE).
const maxCallDepth = 1024

// frame is one entry of a coroutine's call stack: the tree node its cost is
// currently being attributed to, plus the bookkeeping the original keeps in
// struct call_frame.
type frame struct {
	node      *Node
	fn        Function
	callTime  int64
	tail      bool
	// coCost accumulates time this frame's coroutine spent suspended while
	// this frame was on the stack, charged to every live frame on a
	// coroutine switch (profile.c's "for i in 0..top: call_list[i].co_cost
	// += co_cost") and subtracted from this frame's own elapsed time when
	// it finally returns.
	coCost int64
	// childCost is the real cost of the callees that have returned while
	// this frame was on the stack; it is taken off this frame's elapsed
	// time so the node keeps a self cost.
	childCost int64
}

// callState is the per-coroutine tracing state: its own frame stack plus
// the coroutine-switch accounting the original keeps in struct call_state
// (leave_time).
type callState struct {
	co        Coroutine
	stack     []frame
	leaveTime int64
}

func newCallState(co Coroutine) *callState {
	return &callState{co: co, stack: make([]frame, 0, 64)}
}

// tracer is the frame-stack tracing engine described in spec.md §4.2. It
// owns the call-path tree and one callState per live coroutine, and is
// driven entirely by CALL/TAIL_CALL/RET hook events delivered through
// OnCall.
type tracer struct {
	tree    *Tree
	symbols *symbolCache
	now     func() int64

	states  map[uintptr]*callState
	current *callState

	// profileCostNanos accumulates the tracer's own self-instrumentation
	// overhead (time spent inside OnCall itself), reported on the root
	// node at dump time, matching the original's context->profile_cost_ns.
	profileCostNanos int64
}

func newTracer(tree *Tree, symbols *symbolCache, now func() int64) *tracer {
	return &tracer{
		tree:    tree,
		symbols: symbols,
		now:     now,
		states:  make(map[uintptr]*callState),
	}
}

func (t *tracer) stateFor(co Coroutine) *callState {
	id := co.CoroutineID()
	s, ok := t.states[id]
	if !ok {
		s = newCallState(co)
		t.states[id] = s
	}
	return s
}

// switchTo is the Go analogue of _hook_call's coroutine-switch branch: when
// the event arrives for a coroutine other than the one currently running,
// mark the outgoing coroutine's leave time and, if the incoming coroutine
// had itself been left earlier, charge the elapsed suspension interval to
// every frame still on its stack.
func (t *tracer) switchTo(s *callState, now int64) {
	if t.current == s {
		return
	}
	if t.current != nil {
		t.current.leaveTime = now
	}
	if s.leaveTime > 0 {
		coCost := now - s.leaveTime
		for i := range s.stack {
			s.stack[i].coCost += coCost
		}
		s.leaveTime = 0
	}
	t.current = s
}

// OnCall is the single entry point the host's hook installed via Hooks
// drives every CALL, TAIL_CALL, and RET event through. Self-instrumentation
// time (the cost of running this function itself) is measured and added to
// profileCostNanos, mirroring the original's own profile_cost_ns accounting
// around _hook_call.
func (t *tracer) OnCall(info CallInfo) {
	hookStart := t.now()
	defer func() {
		t.profileCostNanos += t.now() - hookStart
	}()

	s := t.stateFor(info.Coroutine())
	t.switchTo(s, hookStart)

	switch info.Kind() {
	case Call, TailCall:
		t.onEnter(s, info, hookStart)
	case Return:
		t.onReturn(s, hookStart)
	}
}

func (t *tracer) onEnter(s *callState, info CallInfo, now int64) {
	if len(s.stack) >= maxCallDepth {
		panic(fmt.Sprintf("luasampler: call stack depth exceeded %d", maxCallDepth))
	}

	var parent *Node
	if len(s.stack) == 0 {
		parent = t.tree.Root
	} else {
		parent = s.stack[len(s.stack)-1].node
	}

	fn := info.Function()
	node := t.tree.GetOrCreateChild(parent, fn.Identity())
	if node.Name == "" {
		sym := t.symbols.lookupOrFill(fn, info)
		node.Name = sym.Name
		node.Source = sym.Source
		node.Line = sym.Line
	}
	node.CallCount++

	s.stack = append(s.stack, frame{
		node:     node,
		fn:       fn,
		callTime: now,
		tail:     info.Kind() == TailCall,
	})
}

func (t *tracer) onReturn(s *callState, now int64) {
	if len(s.stack) == 0 {
		// RET with no matching CALL: the hook was installed mid-call, or
		// the runtime delivered a spurious event. The original silently
		// ignores this (cs->top <= 0 returns early in _hook_call's RET
		// arm without asserting).
		return
	}

	// A tail call never gets its own RET: when the function it replaced
	// finally returns, its single RET event must pop the entire chain of
	// tail-called frames above the real caller. Loop until we pop a frame
	// that was not itself entered via a tail call.
	for {
		top := s.stack[len(s.stack)-1]
		s.stack = s.stack[:len(s.stack)-1]

		elapsed := now - top.callTime - top.coCost
		if elapsed < 0 {
			panic(fmt.Sprintf("luasampler: negative call cost %d for %q (begin=%d co_cost=%d now=%d)",
				elapsed, top.node.Name, top.callTime, top.coCost, now))
		}
		top.node.RealCostNanos += elapsed - top.childCost
		top.node.LastReturn = now
		if len(s.stack) > 0 {
			s.stack[len(s.stack)-1].childCost += elapsed
		}

		if !top.tail || len(s.stack) == 0 {
			break
		}
	}
}

// snapshot returns a point-in-time copy of the coroutine's live call
// stack, for diagnostics (e.g. Mark/dump-time introspection) without
// exposing the tracer's internal slice to mutation by the caller.
func (s *callState) snapshot() []frame {
	return slices.Clone(s.stack)
}

// coroutineDied removes bookkeeping for a coroutine the host reports as
// collected, so the tracer does not accumulate state for dead coroutines
// across a long-running profile. Safe to call on an unknown id.
func (t *tracer) coroutineDied(co Coroutine) {
	id := co.CoroutineID()
	if t.states[id] == t.current {
		t.current = nil
	}
	delete(t.states, id)
}
