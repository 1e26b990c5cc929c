// Package thread implements thread lifecycle management: creation, the
// Init/Ready/Running/Suspended/Closed state machine, and the blocking
// primitives (Yield, Sleep) every higher-level IPC primitive builds on.
// Grounded on original_source/.../thread/thread.rs and
// original_source/.../thread/thread_control_block.rs.
package thread

import (
	"sync"

	"github.com/OSH-2025/rtkernel/pkg/rtos/cpuport"
	"github.com/OSH-2025/rtkernel/pkg/rtos/heap"
	"github.com/OSH-2025/rtkernel/pkg/rtos/kcell"
	"github.com/OSH-2025/rtkernel/pkg/rtos/kerr"
	"github.com/OSH-2025/rtkernel/pkg/rtos/sched"
	"github.com/OSH-2025/rtkernel/pkg/rtos/tick"
	"github.com/OSH-2025/rtkernel/pkg/rtos/timer"
	"github.com/pkg/errors"
)


// Re-exported so callers outside this package can spell states as
// thread.Ready etc. without importing sched directly.
const (
	Init      = sched.StateInit
	Ready     = sched.StateReady
	Running   = sched.StateRunning
	Suspended = sched.StateSuspended
	Closed    = sched.StateClosed
)

// Entry is a thread's entry function.
type Entry func(arg any)

// Thread is the unit of scheduling (spec §3). It implements both
// sched.Thread and cpuport.ThreadHandle so the scheduler can manage it
// without this package creating an import cycle back into sched.
type Thread struct {
	mu sync.Mutex

	name string

	state        sched.State
	initPriority uint16
	priority     uint16
	yielded      bool

	initTick      uint32
	remainingTick uint32

	stack []byte
	sp    uintptr

	// sleepTimer is the owned handle to the timer currently timing a
	// blocking operation on this thread (spec §3 "Sleep timer slot").
	// At most one is in flight per thread.
	sleepTimer *timer.Timer

	errCode kerr.Code

	maxPriority uint16

	port    cpuport.Port
	sched   *Scheduler
	heap    *heap.Heap
	timers  *timer.Service
	sec     *kcell.Section

	// exitNotify is closed exactly once, by Delete, the moment this thread
	// transitions to Closed, however that transition was triggered.
	exitNotify chan struct{}
}

// Scheduler is the subset of *sched.Scheduler this package drives; kept as
// a type alias purely for readability at call sites.
type Scheduler = sched.Scheduler

// Manager owns thread creation and the process-wide list of all threads
// (spec §4.7 "Register in a process-wide list of all threads"). It bundles
// exactly the collaborators Create needs: the CPU port, the heap stack
// allocator, the scheduler, the timer service, and the shared critical
// section.
type Manager struct {
	sec         *kcell.Section
	port        cpuport.Port
	heap        *heap.Heap
	sched       *Scheduler
	timers      *timer.Service
	ticks       *tick.Counter
	maxPriority uint16

	mu  sync.Mutex
	all []*Thread
}

// NewManager constructs a thread Manager over the given collaborators.
// maxPriority bounds SetPriority's saturation (spec §4.7 "Set-priority"); it
// must match the board's config.Config.MaxPriority.
func NewManager(sec *kcell.Section, port cpuport.Port, h *heap.Heap, sc *Scheduler, timers *timer.Service, ticks *tick.Counter, maxPriority uint16) *Manager {
	return &Manager{sec: sec, port: port, heap: h, sched: sc, timers: timers, ticks: ticks, maxPriority: maxPriority}
}

// Create allocates a stack, synthesizes the initial frame, and registers a
// new thread in state Init (spec §4.7 "Create"). The thread does not run
// until Startup.
func (m *Manager) Create(name string, entry Entry, arg any, stackSize int, priority uint16, sliceTicks uint32) (*Thread, error) {
	stack, err := m.heap.Alloc(stackSize, 8, name)
	if err != nil {
		return nil, errors.Wrapf(err, "thread: Create(%q): stack allocation failed", name)
	}

	if m.maxPriority > 0 && priority >= m.maxPriority {
		priority = m.maxPriority - 1
	}

	t := &Thread{
		name:          name,
		state:         sched.StateInit,
		initPriority:  priority,
		priority:      priority,
		initTick:      sliceTicks,
		remainingTick: sliceTicks,
		stack:         stack,
		maxPriority:   m.maxPriority,
		port:          m.port,
		sched:         m.sched,
		heap:          m.heap,
		timers:        m.timers,
		sec:           m.sec,
		exitNotify:    make(chan struct{}),
	}

	exit := func() { m.deleteSelf(t) }
	t.sp = m.port.BuildInitialStack(entry, arg, stack, exit)

	if hp, ok := m.port.(interface {
		Run(cpuport.ThreadHandle, uintptr)
	}); ok {
		go hp.Run(t, t.sp)
	}

	m.mu.Lock()
	m.all = append(m.all, t)
	m.mu.Unlock()

	return t, nil
}

// deleteSelf is the delete-self exit-handler path (spec §4.7): a thread
// returning from its entry function lands here via the frame's exit token,
// which deletes it and reschedules away permanently.
func (m *Manager) deleteSelf(t *Thread) {
	t.Delete()
}

// All returns a snapshot of every thread ever created through this Manager.
func (m *Manager) All() []*Thread {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Thread, len(m.all))
	copy(out, m.all)
	return out
}

// --- sched.Thread / cpuport.ThreadHandle surface ---

// Name returns the thread's identity as given to Create; its length is not
// checked against config.Config.NameMax.
func (t *Thread) Name() string { return t.name }

// Priority returns the current (possibly aged) priority used for ready-
// table bucketing.
func (t *Thread) Priority() uint16 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.priority
}

// InitPriority returns the priority fixed at creation time, never
// auto-mutated.
func (t *Thread) InitPriority() uint16 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.initPriority
}

// State returns the thread's lifecycle state.
func (t *Thread) State() sched.State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// SetState sets the thread's lifecycle state directly; used by the
// scheduler during a switch decision.
func (t *Thread) SetState(s sched.State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

// Yielded reports the Yield flag (spec §3: "voluntarily gave up remaining
// slice").
func (t *Thread) Yielded() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.yielded
}

// SetYielded sets the Yield flag.
func (t *Thread) SetYielded(y bool) {
	t.mu.Lock()
	t.yielded = y
	t.mu.Unlock()
}

// StackSlot returns this thread's saved-stack-pointer slot.
func (t *Thread) StackSlot() *uintptr { return &t.sp }

// Done returns a channel closed the moment this thread transitions to
// Closed, whether via self-exit or an explicit Delete call.
func (t *Thread) Done() <-chan struct{} { return t.exitNotify }

// Resume is called by the CPU port as this thread becomes the running
// thread; in the hosted model the goroutine spawned by Create does the
// actual work once woken, so Resume itself is a no-op hook kept for
// interface conformance and future instrumentation.
func (t *Thread) Resume() {}

// Park is called by the CPU port as this thread stops being the running
// thread; likewise a no-op hook in the hosted model.
func (t *Thread) Park() {}

// ErrCode returns the error code kernel primitives use to communicate
// wake reasons (spec §3 "Error code slot").
func (t *Thread) ErrCode() kerr.Code {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.errCode
}

// SetErrCode sets the error code slot.
func (t *Thread) SetErrCode(c kerr.Code) {
	t.mu.Lock()
	t.errCode = c
	t.mu.Unlock()
}

// RemainingTick returns the current slice countdown.
func (t *Thread) RemainingTick() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remainingTick
}

// TickSlice decrements remaining_tick by one; if it reaches zero, reloads
// it to init_tick and marks Yield (spec §4.3 step 2). Returns true if a
// reschedule should be requested.
func (t *Thread) TickSlice() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.remainingTick == 0 {
		t.remainingTick = t.initTick
		return false
	}
	t.remainingTick--
	if t.remainingTick == 0 {
		t.remainingTick = t.initTick
		t.yielded = true
		return true
	}
	return false
}
