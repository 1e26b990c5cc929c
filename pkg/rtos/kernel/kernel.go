// Package kernel is the facade DESIGN NOTES "Global mutable kernel state"
// calls for: a single owned value holding every subsystem (critical
// section, CPU port, heap, tick counter, timer service, ready table,
// scheduler, thread manager), wiring tick -> timer -> scheduler -> thread
// wakeups the way a real RTOS's board support package wires its interrupt
// vector table to the kernel's internals. Grounded on DESIGN NOTES plus the
// teacher's subprocessPool idiom (gVisor's systrap subprocess.go):
// one process-wide value with guarded fields, exposing a narrow method
// surface instead of letting callers reach into its collaborators
// directly.
package kernel

import (
	"github.com/OSH-2025/rtkernel/pkg/rtos/config"
	"github.com/OSH-2025/rtkernel/pkg/rtos/cpuport"
	"github.com/OSH-2025/rtkernel/pkg/rtos/cpuport/hostport"
	"github.com/OSH-2025/rtkernel/pkg/rtos/heap"
	"github.com/OSH-2025/rtkernel/pkg/rtos/kcell"
	"github.com/OSH-2025/rtkernel/pkg/rtos/ready"
	"github.com/OSH-2025/rtkernel/pkg/rtos/sched"
	"github.com/OSH-2025/rtkernel/pkg/rtos/sem"
	"github.com/OSH-2025/rtkernel/pkg/rtos/thread"
	"github.com/OSH-2025/rtkernel/pkg/rtos/tick"
	"github.com/OSH-2025/rtkernel/pkg/rtos/timer"
	"github.com/sirupsen/logrus"
)

// Kernel owns every kernel subsystem as a single value. Nothing outside
// this package holds a pointer to Sched/Threads/Timers directly except
// through the accessor methods below, so the synchronization every subsystem
// already enforces internally (the shared critical section, plus the private
// field mutex that heap, timer, sem and thread each keep) stays the only
// synchronization in play.
type Kernel struct {
	cfg config.Config
	log *logrus.Logger

	sec     *kcell.Section
	port    cpuport.Port
	heap    *heap.Heap
	ticks   *tick.Counter
	timers  *timer.Service
	sched   *sched.Scheduler
	threads *thread.Manager
	driver  *tick.Driver

	halted bool
}

// Option configures a Kernel at construction time.
type Option func(*Kernel)

// WithLogger overrides the default logrus logger (one created via
// logrus.New() at Info level) with a caller-supplied instance, letting
// board wire in its own formatter/output.
func WithLogger(log *logrus.Logger) Option {
	return func(k *Kernel) { k.log = log }
}

// WithPort overrides the default hostport.New() cpuport.Port, mainly for
// tests that want a synchronous stand-in port.
func WithPort(p cpuport.Port) Option {
	return func(k *Kernel) { k.port = p }
}

// New builds a Kernel from a frozen config.Config: a heap arena, a tick
// counter, a timer service, a priority table sized per cfg.MaxPriority, a
// scheduler, and a thread manager, and wires the tick driver's SliceTick
// hook to the scheduler's current thread (spec §4.3 "on each tick").
func New(cfg config.Config, opts ...Option) (*Kernel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	k := &Kernel{
		cfg: cfg,
		log: defaultLogger(),
		sec: &kcell.Section{},
	}
	for _, opt := range opts {
		opt(k)
	}
	if k.port == nil {
		k.port = hostport.New()
	}

	k.heap = heap.New(cfg)
	k.timers = timer.NewService(k.sec)
	k.driver = &tick.Driver{
		SliceTick:   k.sliceTick,
		CheckTimers: k.timers.Check,
	}
	// Now reads the same counter OnTick advances.
	k.ticks = &k.driver.Counter

	var table ready.Table[sched.Thread]
	if cfg.TieredBitmap() {
		table = ready.NewTiered[sched.Thread]()
	} else {
		table = ready.NewFlat[sched.Thread]()
	}
	k.sched = sched.New(k.sec, k.port, table)
	k.threads = thread.NewManager(k.sec, k.port, k.heap, k.sched, k.timers, k.ticks, cfg.MaxPriority)

	return k, nil
}

func defaultLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.InfoLevel)
	return log
}

// sliceTick implements spec §4.3 step 2: decrement the running thread's
// remaining_tick; if it reaches zero, reload and request a reschedule. This
// is the hook tick.Driver calls so the tick package itself never needs to
// import sched or thread (keeping the §2 dependency order a DAG).
func (k *Kernel) sliceTick() {
	cur := k.sched.Current()
	if cur == nil {
		return
	}
	t, ok := cur.(*thread.Thread)
	if !ok {
		return
	}
	if t.TickSlice() {
		k.sched.Reschedule()
	}
}

// OnTick drives one system tick (spec §4.3, §6 "on_tick()"): advances the
// counter, slices the running thread, and checks the timer wheel. Driven by
// board's SIGALRM pump in the hosted harness, or directly by tests.
func (k *Kernel) OnTick() uint32 {
	return k.driver.OnTick()
}

// Now returns the current tick value.
func (k *Kernel) Now() uint32 { return k.ticks.Now() }

// Config returns the frozen configuration this Kernel was built from.
func (k *Kernel) Config() config.Config { return k.cfg }

// Logger returns the kernel's structured logger, for board/cmd code that
// wants to log at the same sink.
func (k *Kernel) Logger() *logrus.Logger { return k.log }

// Scheduler exposes the scheduler for callers (board, cmd, tests) that need
// Start/Reschedule/Current/SetPolicy directly.
func (k *Kernel) Scheduler() *sched.Scheduler { return k.sched }

// Threads exposes the thread manager for Create.
func (k *Kernel) Threads() *thread.Manager { return k.threads }

// Timers exposes the timer service for standalone timer.Control use outside
// a thread's own Sleep/ArmTimeout path.
func (k *Kernel) Timers() *timer.Service { return k.timers }

// Heap exposes the heap for diagnostics (Stats, Owner).
func (k *Kernel) Heap() *heap.Heap { return k.heap }

// NewSemaphore constructs a counting semaphore bound to this Kernel's
// critical section and configured SemMax (spec §4.8 "Construction").
func (k *Kernel) NewSemaphore(name string, initialCount uint32) (*sem.Semaphore, error) {
	return sem.New(k.sec, name, initialCount, k.cfg.SemMax)
}

// CreateThread creates a new thread via the kernel's Manager (spec §4.7
// "Create").
func (k *Kernel) CreateThread(name string, entry thread.Entry, arg any, stackSize int, priority uint16, sliceTicks uint32) (*thread.Thread, error) {
	return k.threads.Create(name, entry, arg, stackSize, priority, sliceTicks)
}

// Start boots the scheduler: picks the highest-priority ready thread and
// switches to it, never returning in the real hardware model. In the hosted
// model it returns once the chosen thread's goroutine has been resumed;
// board.Board.Run is what actually blocks the calling goroutine afterward,
// driving the tick pump until Halt or context cancellation.
func (k *Kernel) Start() {
	k.sched.Start()
}

// Halted reports whether Halt has been called.
func (k *Kernel) Halted() bool {
	tok := k.sec.Enter()
	defer k.sec.Leave(tok)
	return k.halted
}

// Halt marks the kernel halted (spec §4.1 "print diagnostics and halt").
// The hosted model cannot truly stop every thread goroutine — Go gives no
// equivalent of disabling the CPU permanently — so Halt is advisory state
// board.Board.Run polls to decide when to stop its tick pump and return.
func (k *Kernel) Halt() {
	tok := k.sec.Enter()
	k.halted = true
	k.sec.Leave(tok)
}
