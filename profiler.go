package luasampler

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// Mode selects what, if anything, a Profiler measures, matching the
// original's MODE_OFF/MODE_PROFILE/MODE_SAMPLE. ModeProfile is the zero
// value: like the original's read_arg, an Options{} left unset profiles
// rather than measuring nothing.
type Mode int

const (
	ModeProfile Mode = iota
	ModeSample
	ModeOff
)

// Options configures a Profiler, the Go equivalent of the table argument
// read_arg parses out of start(opts).
type Options struct {
	CPUMode Mode
	MemMode Mode
	// CPUSampleHz is only meaningful when CPUMode is ModeSample.
	CPUSampleHz int
}

// Validate reports whether o is a usable configuration, the equivalent of
// read_arg's validation branch.
func (o Options) Validate() error {
	if o.CPUMode != ModeOff && o.CPUMode != ModeProfile && o.CPUMode != ModeSample {
		return fmt.Errorf("luasampler: invalid cpu mode %d", o.CPUMode)
	}
	if o.MemMode != ModeOff && o.MemMode != ModeProfile && o.MemMode != ModeSample {
		return fmt.Errorf("luasampler: invalid mem mode %d", o.MemMode)
	}
	if o.CPUSampleHz < 0 {
		return errors.New("luasampler: cpu_sample_hz must be non-negative")
	}
	return nil
}

func (o Options) withDefaults() Options {
	if o.CPUSampleHz == 0 {
		o.CPUSampleHz = defaultCPUSampleHz
	}
	return o
}

// Profiler is the external surface spec.md §6 describes: Start/Stop toggle
// instrumentation, Mark/Unmark attach or detach tracing on one coroutine at
// a time, Dump renders whatever was collected, and Now/Sleep are the
// ambient getnanosec/sleep helpers the original exposes alongside the
// profiling entry points proper.
type Profiler struct {
	hooks     Hooks
	allocator Allocator

	mu      sync.Mutex
	running bool
	opts    Options

	startTime int64

	tree    *Tree
	symbols *symbolCache
	tracer  *tracer
	alloc   *allocTracker
	sampler *sampler

	hookFn    func(CallInfo)
	prevAlloc func(AllocEvent) uintptr
}

// NewProfiler constructs a Profiler bound to a host runtime's hook and
// allocator surfaces.
func NewProfiler(hooks Hooks, allocator Allocator) *Profiler {
	return &Profiler{hooks: hooks, allocator: allocator}
}

// Start begins instrumentation, mirroring _lstart: a full reset of the
// call-path tree, installing the allocator interceptor if mem mode is not
// off, and either hooking every live coroutine (trace mode) or arming the
// per-thread timer (sample mode). Calling Start while already running is a
// no-op that logs and returns, matching the original's guard.
func (p *Profiler) Start(opts Options) error {
	opts = opts.withDefaults()
	if err := opts.Validate(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		log.Printf("luasampler: start failed, profiler already started")
		return errors.New("luasampler: already started")
	}

	p.opts = opts
	p.startTime = Now()
	p.tree = NewTree()
	p.symbols = newSymbolCache()
	p.tracer = newTracer(p.tree, p.symbols, Now)
	p.alloc = nil
	p.sampler = nil
	p.hookFn = nil

	if opts.MemMode != ModeOff {
		p.alloc = newAllocTracker(p.tree, func() *Node {
			if p.tracer.current == nil || len(p.tracer.current.stack) == 0 {
				return p.tree.Root
			}
			return p.tracer.current.stack[len(p.tracer.current.stack)-1].node
		})
		p.alloc.setReady(true)
		p.prevAlloc = p.allocator.GetAlloc()
		p.allocator.SetAlloc(func(ev AllocEvent) uintptr {
			p.alloc.OnAlloc(ev)
			return ev.Returned
		})
	}

	if opts.CPUMode == ModeSample {
		p.sampler = newSampler(p.tree, p.symbols, p.tracer, opts.CPUSampleHz)
		if err := p.sampler.Start(); err != nil {
			log.Printf("luasampler: start thread timer failed: %v", err)
		}
	}

	// Call/return hooks must flow whenever the call-path tree is used to
	// attribute anything, not only in CPU profile mode: memory-only
	// profiling still attributes every allocation to the currentLeaf node,
	// which is only ever non-root while the tracer is seeing CALL/RET
	// events (profile.c:1348, cpu_mode == MODE_PROFILE || mem_mode != MODE_OFF).
	if opts.CPUMode == ModeProfile || opts.MemMode != ModeOff {
		p.hookFn = p.tracer.OnCall
		for _, co := range p.hooks.Coroutines() {
			p.hooks.SetHook(co, p.hookFn)
		}
	}

	p.running = true
	log.Printf("luasampler: started, cpu_mode=%d mem_mode=%d cpu_sample_hz=%d",
		opts.CPUMode, opts.MemMode, opts.CPUSampleHz)
	return nil
}

// Stop ends instrumentation and tears down everything Start installed,
// mirroring _lstop. The tree and sampler data remain readable via Dump
// until the next Start resets them.
func (p *Profiler) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		log.Printf("luasampler: stop failed, profiler not started")
		return
	}

	if p.alloc != nil {
		p.alloc.setReady(false)
		p.allocator.SetAlloc(p.prevAlloc)
		p.prevAlloc = nil
	}
	if p.sampler != nil {
		p.sampler.Stop()
	}
	if p.hookFn != nil {
		for _, co := range p.hooks.Coroutines() {
			p.hooks.SetHook(co, nil)
		}
		p.hookFn = nil
	}

	p.running = false
	log.Printf("luasampler: stopped")
}

// Mark attaches the call/return hook to a single coroutine, the Go
// equivalent of mark(co): used when tracing was started before every
// coroutine existed, or to resume tracing on one coroutine that was
// individually Unmarked. Returns whether the profiler is ready to trace.
func (p *Profiler) Mark(co Coroutine) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		log.Printf("luasampler: mark failed, profiler not started")
		return false
	}
	p.hooks.SetHook(co, p.tracer.OnCall)
	return true
}

// Unmark detaches the call/return hook from a single coroutine, the Go
// equivalent of unmark(co).
func (p *Profiler) Unmark(co Coroutine) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		log.Printf("luasampler: unmark failed, profiler not started")
		return
	}
	p.hooks.SetHook(co, nil)
}

// Dump renders the current tracing tree, the Go equivalent of dump()'s
// trace-mode branch.
func (p *Profiler) Dump() *DumpNode {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.tree == nil {
		return nil
	}
	return DumpTree(p.tree, p.tracer.profileCostNanos)
}

// SampleDump is the sample-mode counterpart of Dump: the folded Lua-chain
// text, the resolved and raw native-chain texts, and the legacy binary
// pprof bytes, corresponding to dump()'s sample-mode branch which writes
// the four artifacts described in spec.md §6.
type SampleDump struct {
	LuaChains    string
	NativeChains string
	RawChains    string
	PProfBinary  []byte
}

// DumpSample renders everything the statistical sampler has accumulated.
// Returns nil if the profiler was not started in sample mode.
func (p *Profiler) DumpSample() (*SampleDump, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.sampler == nil {
		return nil, nil
	}

	weights := p.sampler.Weights()
	samples := p.sampler.nativeSamples()

	var buf writeBuffer
	if err := WriteLegacyPProf(&buf, p.opts.CPUSampleHz, samples); err != nil {
		return nil, err
	}

	return &SampleDump{
		LuaChains:    FoldedLuaChains(weights),
		NativeChains: FoldedNativeChains(samples),
		RawChains:    RawNativeChains(samples),
		PProfBinary:  buf.Bytes(),
	}, nil
}

// writeBuffer is a minimal io.Writer sink; defined locally to avoid an
// import of bytes.Buffer purely for its Bytes() accessor elsewhere in this
// file's small surface.
type writeBuffer struct {
	data []byte
}

func (b *writeBuffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}

func (b *writeBuffer) Bytes() []byte { return b.data }

// monotonicEpoch anchors Now()'s return values to a monotonic clock
// reading taken at process start, so that, like the original's
// get_mono_ns, results are meaningful only as differences and are never
// subject to wall-clock/NTP adjustment the way time.Now().UnixNano() is.
var monotonicEpoch = time.Now()

// Now returns a monotonic timestamp in nanoseconds, the Go equivalent of
// getnanosec().
func Now() int64 {
	return int64(time.Since(monotonicEpoch))
}

// Sleep pauses the calling goroutine for the given number of seconds,
// the equivalent of sleep(seconds).
func Sleep(seconds float64) {
	if seconds <= 0 {
		return
	}
	time.Sleep(time.Duration(seconds * float64(time.Second)))
}
