package luasampler

import "testing"

type fakeHooks struct {
	cos     []Coroutine
	armed   map[uintptr]func(CallInfo)
	setCall int
}

func newFakeHooks(cos ...Coroutine) *fakeHooks {
	return &fakeHooks{cos: cos, armed: make(map[uintptr]func(CallInfo))}
}

func (h *fakeHooks) Coroutines() []Coroutine { return h.cos }
func (h *fakeHooks) SetHook(co Coroutine, fn func(CallInfo)) {
	h.setCall++
	if fn == nil {
		delete(h.armed, co.CoroutineID())
		return
	}
	h.armed[co.CoroutineID()] = fn
}

type fakeAllocator struct {
	fn func(AllocEvent) uintptr
}

func (a *fakeAllocator) GetAlloc() func(AllocEvent) uintptr { return a.fn }
func (a *fakeAllocator) SetAlloc(fn func(AllocEvent) uintptr) {
	a.fn = fn
}

func TestProfilerStartStopLifecycle(t *testing.T) {
	co := fakeCoroutine{id: 1}
	hooks := newFakeHooks(co)
	alloc := &fakeAllocator{}
	p := NewProfiler(hooks, alloc)

	if err := p.Start(Options{CPUMode: ModeProfile, MemMode: ModeProfile}); err != nil {
		t.Fatalf("unexpected error starting: %v", err)
	}
	if _, armed := hooks.armed[co.id]; !armed {
		t.Fatalf("expected coroutine hook to be armed after Start")
	}
	if alloc.fn == nil {
		t.Fatalf("expected allocator to be wired after Start")
	}

	if err := p.Start(Options{CPUMode: ModeProfile}); err == nil {
		t.Fatalf("expected starting an already-started profiler to error")
	}

	p.Stop()
	if _, armed := hooks.armed[co.id]; armed {
		t.Fatalf("expected coroutine hook removed after Stop")
	}
	if alloc.fn != nil {
		t.Fatalf("expected allocator detached after Stop")
	}
}

func TestProfilerMarkUnmarkRequireRunning(t *testing.T) {
	hooks := newFakeHooks()
	p := NewProfiler(hooks, &fakeAllocator{})

	co := fakeCoroutine{id: 9}
	if ok := p.Mark(co); ok {
		t.Fatalf("expected Mark to fail before Start")
	}

	if err := p.Start(Options{CPUMode: ModeProfile}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok := p.Mark(co); !ok {
		t.Fatalf("expected Mark to succeed once started")
	}
	if _, armed := hooks.armed[co.id]; !armed {
		t.Fatalf("expected coroutine armed by Mark")
	}
	p.Unmark(co)
	if _, armed := hooks.armed[co.id]; armed {
		t.Fatalf("expected coroutine disarmed by Unmark")
	}
}

func TestProfilerDumpBeforeStartReturnsNil(t *testing.T) {
	p := NewProfiler(newFakeHooks(), &fakeAllocator{})
	if d := p.Dump(); d != nil {
		t.Fatalf("expected nil dump before Start")
	}
}

func TestProfilerTracesThroughHook(t *testing.T) {
	co := fakeCoroutine{id: 1}
	hooks := newFakeHooks(co)
	p := NewProfiler(hooks, &fakeAllocator{})

	if err := p.Start(Options{CPUMode: ModeProfile}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	fn := fakeFunction{id: 0x42, name: "traced"}
	hook := hooks.armed[co.id]
	hook(newCall(co, Call, fn, nil))
	hook(newCall(co, Return, fn, nil))

	d := p.Dump()
	if len(d.Children) != 1 || d.Children[0].Name != "traced" {
		t.Fatalf("expected a traced child node, got %+v", d.Children)
	}
}
