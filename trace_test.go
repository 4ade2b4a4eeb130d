package luasampler

import "testing"

func newTestTracer() (*tracer, *int64) {
	clock := new(int64)
	now := func() int64 { return *clock }
	tree := NewTree()
	tr := newTracer(tree, newSymbolCache(), now)
	return tr, clock
}

func TestTraceSimpleCallReturn(t *testing.T) {
	tr, clock := newTestTracer()
	co := fakeCoroutine{id: 1}
	fn := fakeFunction{id: 0x10, name: "foo", source: "test.lua", line: 5}

	*clock = 100
	tr.OnCall(newCall(co, Call, fn, nil))
	*clock = 150
	tr.OnCall(newCall(co, Return, fn, nil))

	node := tr.tree.Root.children[fn.id]
	if node == nil {
		t.Fatalf("expected a child node for the called function")
	}
	if node.CallCount != 1 {
		t.Fatalf("expected call count 1, got %d", node.CallCount)
	}
	if node.RealCostNanos != 50 {
		t.Fatalf("expected real cost 50, got %d", node.RealCostNanos)
	}
	if node.Name != "foo" {
		t.Fatalf("expected symbol name to be filled in, got %q", node.Name)
	}
}

func TestTraceTailCallCollapsesOnSingleReturn(t *testing.T) {
	tr, clock := newTestTracer()
	co := fakeCoroutine{id: 1}
	outer := fakeFunction{id: 0x1, name: "outer"}
	inner := fakeFunction{id: 0x2, name: "inner"}

	*clock = 0
	tr.OnCall(newCall(co, Call, outer, nil))
	*clock = 10
	tr.OnCall(newCall(co, TailCall, inner, nil))
	*clock = 30

	s := tr.states[co.id]
	if len(s.stack) != 2 {
		t.Fatalf("expected two frames on the stack before return, got %d", len(s.stack))
	}

	// A single RET must pop both the tail-called frame and the frame it
	// replaced, since the runtime never issues a second RET for outer.
	tr.OnCall(newCall(co, Return, inner, nil))

	if len(s.stack) != 0 {
		t.Fatalf("expected tail call chain fully collapsed, got %d frames remaining", len(s.stack))
	}

	outerNode := tr.tree.Root.children[outer.id]
	innerNode := outerNode.children[inner.id]
	if innerNode.RealCostNanos != 20 {
		t.Fatalf("expected inner frame cost 20, got %d", innerNode.RealCostNanos)
	}
}

func TestTraceReturnOnEmptyStackIsIgnored(t *testing.T) {
	tr, _ := newTestTracer()
	co := fakeCoroutine{id: 1}
	fn := fakeFunction{id: 0x1}

	// Must not panic.
	tr.OnCall(newCall(co, Return, fn, nil))
}

func TestTraceCoroutineSwitchCompensatesSuspendedTime(t *testing.T) {
	tr, clock := newTestTracer()
	coA := fakeCoroutine{id: 1}
	coB := fakeCoroutine{id: 2}
	fnA := fakeFunction{id: 0x1, name: "fnA"}
	fnB := fakeFunction{id: 0x2, name: "fnB"}

	*clock = 0
	tr.OnCall(newCall(coA, Call, fnA, nil))

	// Switch to coroutine B for 1000ns while A is suspended.
	*clock = 10
	tr.OnCall(newCall(coB, Call, fnB, nil))
	*clock = 1010
	tr.OnCall(newCall(coB, Return, fnB, nil))

	// Switch back to A and return; A's elapsed wall time is 1020ns, but
	// A was suspended from the switch to B at 10 until the switch back at
	// 1020, so 1010ns are excluded and A's charged cost is 10ns, not 1020ns.
	*clock = 1020
	tr.OnCall(newCall(coA, Return, fnA, nil))

	nodeA := tr.tree.Root.children[fnA.id]
	if nodeA.RealCostNanos > 100 {
		t.Fatalf("expected coroutine-switch compensation to exclude suspended time, got real cost %d", nodeA.RealCostNanos)
	}
}

func TestCallStackOverflowPanics(t *testing.T) {
	tr, _ := newTestTracer()
	co := fakeCoroutine{id: 1}
	fn := fakeFunction{id: 0x1}

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on call stack overflow")
		}
	}()
	for i := 0; i < maxCallDepth+1; i++ {
		tr.OnCall(newCall(co, Call, fn, nil))
	}
}
