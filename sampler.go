package luasampler

import (
	"os"
	"os/signal"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// defaultCPUSampleHz matches the original's DEFAULT_CPU_SAMPLE_HZ.
const defaultCPUSampleHz = 250

// profSignal is the real-time signal the sampler's perf_event counter
// delivers on overflow, the Go analogue of the original's SIGRTMIN+1. Using
// a high real-time signal number avoids colliding with signals the Go
// runtime itself reserves.
var profSignal = syscall.Signal(unix.SIGRTMIN() + 1)

// sampler drives the statistical-sampling mode described in spec.md §4.4:
// a per-thread software perf_event counter (PERF_COUNT_SW_TASK_CLOCK, in
// frequency mode) delivers profSignal on every overflow via fcntl's
// F_SETSIG/F_SETOWN async-I/O mechanism, which increments a counter and
// snapshots a native stack into a ring buffer. Honest caveat (see
// DESIGN.md): Go's signal.Notify delivers on an ordinary goroutine rather
// than inside the interrupted thread's signal handler, so unlike the
// original's prof_sig_handler this is not truly async-signal-safe — it is
// a best-effort translation of the same design onto Go's signal model,
// good enough to attribute samples to ticks but not to guarantee the tick
// fires exactly at the interrupted PC.
type sampler struct {
	hz int

	tree    *Tree
	symbols *symbolCache
	tracer  *tracer

	ring *nativeRing

	ticks   uint64
	running int32

	sigCh  chan os.Signal
	stopCh chan struct{}
	wg     sync.WaitGroup

	// perfFD is the perf_event file descriptor backing the per-thread
	// sampling counter, or 0 if sampling isn't running.
	perfFD int

	mu      sync.Mutex
	weights map[string]uint64 // folded Lua-chain key -> sample count
}

func newSampler(tree *Tree, symbols *symbolCache, tr *tracer, hz int) *sampler {
	if hz <= 0 {
		hz = defaultCPUSampleHz
	}
	return &sampler{
		hz:      hz,
		tree:    tree,
		symbols: symbols,
		tracer:  tr,
		ring:    newNativeRing(),
		weights: make(map[string]uint64),
	}
}

// Start installs the signal handler and per-thread sampling counter,
// mirroring install_prof_signal_once + start_thread_timer_hz. The calling
// goroutine is pinned to its OS thread for the lifetime of sampling, since
// perf_event_open(2) opened against a single tid is meaningless once Go's
// scheduler moves the goroutine to a different thread.
func (s *sampler) Start() error {
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		return nil
	}
	runtime.LockOSThread()

	s.sigCh = make(chan os.Signal, 64)
	s.stopCh = make(chan struct{})
	signal.Notify(s.sigCh, profSignal)

	fail := func(err error) error {
		atomic.StoreInt32(&s.running, 0)
		signal.Stop(s.sigCh)
		runtime.UnlockOSThread()
		return err
	}

	attr := &unix.PerfEventAttr{
		Type:   unix.PERF_TYPE_SOFTWARE,
		Config: unix.PERF_COUNT_SW_TASK_CLOCK,
		Size:   uint32(unsafe.Sizeof(unix.PerfEventAttr{})),
		Sample: uint64(s.hz),
		Bits:   unix.PerfBitFreq,
	}

	tid := unix.Gettid()
	fd, err := unix.PerfEventOpen(attr, tid, -1, -1, unix.PERF_FLAG_FD_CLOEXEC)
	if err != nil {
		return fail(err)
	}

	// Route the counter's overflow notification to profSignal on this
	// thread via fcntl's async-I/O mechanism (the same F_SETOWN/F_SETSIG
	// technique async-profiler-style CPU samplers use), rather than
	// reading the fd from a polling loop.
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETOWN, tid); err != nil {
		unix.Close(fd)
		return fail(err)
	}
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETSIG, int(profSignal)); err != nil {
		unix.Close(fd)
		return fail(err)
	}
	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
	if err != nil {
		unix.Close(fd)
		return fail(err)
	}
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETFL, flags|unix.O_ASYNC); err != nil {
		unix.Close(fd)
		return fail(err)
	}

	if err := unix.IoctlSetInt(fd, unix.PERF_EVENT_IOC_ENABLE, 0); err != nil {
		unix.Close(fd)
		return fail(err)
	}
	s.perfFD = fd

	s.wg.Add(1)
	go s.loop()
	return nil
}

// Stop disarms and closes the counter, stops signal delivery to the
// channel and waits for the tick loop to exit, mirroring stop_thread_timer.
func (s *sampler) Stop() {
	if !atomic.CompareAndSwapInt32(&s.running, 1, 0) {
		return
	}
	unix.IoctlSetInt(s.perfFD, unix.PERF_EVENT_IOC_DISABLE, 0)
	unix.Close(s.perfFD)
	s.perfFD = 0
	signal.Stop(s.sigCh)
	close(s.stopCh)
	s.wg.Wait()
	runtime.UnlockOSThread()
}

func (s *sampler) loop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopCh:
			return
		case <-s.sigCh:
			s.onTick()
		}
	}
}

// onTick is the Go analogue of prof_sig_handler: increment the tick count
// and capture the current native call stack via runtime.Callers, the
// portable equivalent of the original's frame-pointer walk (runtime.Callers
// does not require the unsafe fixed-offset bp/ret-address assumptions the
// C version makes, and works across architectures).
func (s *sampler) onTick() {
	atomic.AddUint64(&s.ticks, 1)

	var pcs [nativeMaxFrames]uintptr
	n := runtime.Callers(3, pcs[:])
	s.ring.push(pcs[:n])

	s.trapCallback()
}

// trapCallback is invoked at a safe point following each tick (in the
// original, _on_prof_trap_n runs on the VM thread itself once it notices
// prof_ticks advanced; here it runs inline since there is no separate VM
// thread to defer to). It folds the tracer's current frame stack into a
// folded-stack key, adds 1 to that key's count and to the leaf node's
// CPUSamples. Every call counts as one sample; no tick weight is applied,
// and placeholder names in the symbol cache are not upgraded here.
func (s *sampler) trapCallback() {
	if s.tracer.current == nil {
		return
	}
	snap := s.tracer.current.snapshot()
	if len(snap) == 0 {
		return
	}

	key := foldLuaChain(snap)
	s.mu.Lock()
	s.weights[key]++
	s.mu.Unlock()

	snap[len(snap)-1].node.CPUSamples++
}

// foldLuaChain renders a call stack as a semicolon-joined root-to-leaf
// folded-stack key, the format collapsed-stack tools (and spec.md's
// folded-text dump) expect.
func foldLuaChain(frames []frame) string {
	var b []byte
	for i, f := range frames {
		if i > 0 {
			b = append(b, ';')
		}
		b = append(b, f.node.Name...)
	}
	return string(b)
}

// Ticks returns the total number of timer ticks observed.
func (s *sampler) Ticks() uint64 {
	return atomic.LoadUint64(&s.ticks)
}

// Weights returns a snapshot of the accumulated folded-stack sample counts.
func (s *sampler) Weights() map[string]uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]uint64, len(s.weights))
	for k, v := range s.weights {
		out[k] = v
	}
	return out
}

// nativeSamples returns every native stack captured since the last reset.
func (s *sampler) nativeSamples() []nativeSample {
	return s.ring.snapshot()
}
