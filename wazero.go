package luasampler

import (
	"context"
	"sync"

	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"
)

// wazeroFunction adapts a wazero api.FunctionDefinition to Function. Its
// Identity is one plus the function's position in the module's combined
// import+define index space, which is stable for the lifetime of the
// compiled module — the wasm analogue of a Lua prototype pointer.
type wazeroFunction struct {
	def api.FunctionDefinition
}

func (f wazeroFunction) Identity() uintptr { return uintptr(f.def.Index()) + 1 }
func (f wazeroFunction) Name() string      { return f.def.DebugName() }
func (f wazeroFunction) Source() string    { return f.def.ModuleName() }
func (f wazeroFunction) DefinedLine() int  { return 0 }

// wazeroCoroutine stands in for a Lua coroutine. wasm has no user-level
// coroutine primitive of its own, so SPEC_FULL.md models each wazero guest
// module instance as a single coroutine — every call into it shares one
// frame stack, exactly as the original treats a non-yielding Lua state.
type wazeroCoroutine struct {
	id uintptr
}

func (c wazeroCoroutine) CoroutineID() uintptr { return c.id }

// wazeroCallInfo implements CallInfo over a linked chain of entries built
// up in context.Context by wazeroListener.Before/After, since wazero's
// listener API (unlike a Lua debug hook) does not expose a ready-made
// call-info chain — this adapter builds one explicitly.
type wazeroCallInfo struct {
	co     wazeroCoroutine
	kind   CallKind
	fn     Function
	caller CallInfo
}

func (c *wazeroCallInfo) Coroutine() Coroutine { return c.co }
func (c *wazeroCallInfo) Kind() CallKind       { return c.kind }
func (c *wazeroCallInfo) Function() Function   { return c.fn }
func (c *wazeroCallInfo) Caller() CallInfo      { return c.caller }

type wazeroStackKey struct{}

// WazeroAdapter binds a Profiler to a wazero module instance by
// implementing experimental.FunctionListenerFactory, the same mechanism
// the teacher's own sampler.go uses to observe every call. Register it by
// storing it under experimental.FunctionListenerFactoryKey in the context
// passed to CompileModule, as cmd/luasampler-run does.
type WazeroAdapter struct {
	profiler *Profiler
	instance wazeroCoroutine

	mu     sync.Mutex
	nextID uintptr
}

// NewWazeroAdapter creates an adapter that reports every call in the given
// module instance as happening on a single coroutine identified by
// instanceID (callers typically derive this from the module's name or
// instantiation order).
func NewWazeroAdapter(profiler *Profiler, instanceID uintptr) *WazeroAdapter {
	return &WazeroAdapter{profiler: profiler, instance: wazeroCoroutine{id: instanceID}}
}

// NewListener implements experimental.FunctionListenerFactory.
func (a *WazeroAdapter) NewListener(def api.FunctionDefinition) experimental.FunctionListener {
	return &wazeroListener{adapter: a, fn: wazeroFunction{def: def}}
}

type wazeroListener struct {
	adapter *WazeroAdapter
	fn      Function
}

// Before implements experimental.FunctionListener. It synthesizes a CALL
// event and threads the growing call-info chain through the context so
// After can synthesize the matching RET.
func (l *wazeroListener) Before(ctx context.Context, def api.FunctionDefinition, paramValues []uint64) context.Context {
	var parent CallInfo
	if v, ok := ctx.Value(wazeroStackKey{}).(CallInfo); ok {
		parent = v
	}
	info := &wazeroCallInfo{co: l.adapter.instance, kind: Call, fn: l.fn, caller: parent}
	l.adapter.deliver(info)
	return context.WithValue(ctx, wazeroStackKey{}, CallInfo(info))
}

// After implements experimental.FunctionListener, synthesizing the
// matching RET event.
func (l *wazeroListener) After(ctx context.Context, def api.FunctionDefinition, err error, resultValues []uint64) {
	info := &wazeroCallInfo{co: l.adapter.instance, kind: Return, fn: l.fn}
	l.adapter.deliver(info)
}

func (a *WazeroAdapter) deliver(info CallInfo) {
	a.profiler.mu.Lock()
	hook := a.profiler.hookFn
	a.profiler.mu.Unlock()
	if hook != nil {
		hook(info)
	}
}
