// Package sched implements the scheduler: ready-set management via a
// pluggable selection policy and CPU-port-driven context switching.
// Grounded on original_source/.../thread/scheduler.rs.
package sched

import (
	"github.com/OSH-2025/rtkernel/pkg/rtos/cpuport"
	"github.com/OSH-2025/rtkernel/pkg/rtos/kcell"
	"github.com/OSH-2025/rtkernel/pkg/rtos/ready"
)

// State is a thread's lifecycle state (spec §3).
type State int

const (
	StateInit State = iota
	StateReady
	StateRunning
	StateSuspended
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateReady:
		return "Ready"
	case StateRunning:
		return "Running"
	case StateSuspended:
		return "Suspended"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Thread is the surface the scheduler needs from a schedulable unit.
// thread.Thread implements it; sched never imports thread, keeping the
// dependency order in SPEC_FULL.md §2 a DAG.
type Thread interface {
	cpuport.ThreadHandle
	ready.Item

	Name() string
	State() State
	SetState(State)
	Yielded() bool
	SetYielded(bool)
	// SetPriority and InitPriority support the MFQ aging policy, which
	// needs to reset an outgoing thread's priority and re-bucket others.
	SetPriority(uint16)
	InitPriority() uint16
	// StackSlot is this thread's saved-stack-pointer slot, passed through
	// to the CPU port on every switch.
	StackSlot() *uintptr
}

// sameThread compares two Thread values by identity. Thread is always
// backed by a pointer type (*thread.Thread), so == compares pointer
// identity correctly despite Thread being an interface.
func sameThread(a, b Thread) bool { return a == b }

// Policy is the pluggable selection capability from spec §4.6 "Alternative
// policy (multi-level feedback)".
type Policy interface {
	// PreStep runs once per Reschedule, before the priority-based
	// selection proper, and may mutate current_priority fields for aging.
	PreStep(sc *Scheduler, outgoing Thread)
}

// PriorityPolicy is the default selection policy: no aging pre-step.
type PriorityPolicy struct{}

// PreStep is a no-op for the plain priority-based variant.
func (PriorityPolicy) PreStep(*Scheduler, Thread) {}

// MFQPolicy implements multi-level-feedback aging: the outgoing thread's
// current_priority is reset to its init_priority, and every other ready
// thread's current_priority decays by one step toward a higher numeric
// value (lower effective priority), bounded at MaxPriority-1.
type MFQPolicy struct {
	MaxPriority uint16
}

// PreStep implements Policy.
func (m MFQPolicy) PreStep(sc *Scheduler, outgoing Thread) {
	if outgoing != nil {
		outgoing.SetPriority(outgoing.InitPriority())
	}
	for _, t := range sc.table.Items() {
		old := t.Priority()
		next := old + 1
		if next >= m.MaxPriority {
			next = m.MaxPriority - 1
		}
		if next == old {
			continue
		}
		sc.table.Remove(t, sameThread)
		t.SetPriority(next)
		sc.table.Push(t)
	}
}

// Scheduler holds the current-running-thread reference and the recursion
// lock depth counter, per spec §4.6. All of its fields are kernel-internal
// shared state, protected exclusively by sec — no additional mutex is
// introduced, matching spec §5's "no locking granularity beyond global
// interrupts".
type Scheduler struct {
	sec    *kcell.Section
	port   cpuport.Port
	table  ready.Table[Thread]
	policy Policy

	current   Thread
	lockDepth int
	started   bool
}

// New constructs a Scheduler backed by the given critical section, CPU
// port, and ready table, defaulting to PriorityPolicy.
func New(sec *kcell.Section, port cpuport.Port, table ready.Table[Thread]) *Scheduler {
	return &Scheduler{sec: sec, port: port, table: table, policy: PriorityPolicy{}}
}

// SetPolicy swaps the selection policy at runtime.
func (sc *Scheduler) SetPolicy(p Policy) {
	tok := sc.sec.Enter()
	defer sc.sec.Leave(tok)
	sc.policy = p
}

// Current returns the currently running thread, or nil before Start.
func (sc *Scheduler) Current() Thread {
	tok := sc.sec.Enter()
	defer sc.sec.Leave(tok)
	return sc.current
}

// Lock increments the recursion depth counter; while positive, Reschedule
// is a no-op. Protects multi-step kernel operations that must not be
// preempted mid-way.
func (sc *Scheduler) Lock() {
	tok := sc.sec.Enter()
	sc.lockDepth++
	sc.sec.Leave(tok)
}

// Unlock decrements the recursion depth counter.
func (sc *Scheduler) Unlock() {
	tok := sc.sec.Enter()
	sc.lockDepth--
	sc.sec.Leave(tok)
}

// Enqueue pushes t onto the ready table; callers set its state to Ready
// first (used by thread.Wake, and through it thread.Startup).
func (sc *Scheduler) Enqueue(t Thread) {
	tok := sc.sec.Enter()
	defer sc.sec.Leave(tok)
	sc.table.Push(t)
}

// Dequeue removes t from the ready table if present (used by
// thread.Suspend, thread.Delete).
func (sc *Scheduler) Dequeue(t Thread) {
	tok := sc.sec.Enter()
	defer sc.sec.Leave(tok)
	sc.table.Remove(t, sameThread)
}

// Requeue moves t to the back of the bucket for its current priority.
func (sc *Scheduler) Requeue(t Thread) {
	tok := sc.sec.Enter()
	defer sc.sec.Leave(tok)
	sc.table.Remove(t, sameThread)
	sc.table.Push(t)
}

// InTable reports whether t is currently present in the ready table, by
// scanning every priority bucket.
func (sc *Scheduler) InTable(t Thread) bool {
	tok := sc.sec.Enter()
	defer sc.sec.Leave(tok)
	for _, item := range sc.table.Items() {
		if sameThread(item, t) {
			return true
		}
	}
	return false
}

// prepareSwitch is the decision half of the main selection operation (spec
// §4.6 steps 1-4): determine whether a switch is needed and, if so, which
// thread to switch to and whether the outgoing thread should be
// reinserted. Split from executeSwitch because the decision must be fully
// committed before any CPU-port call, since the CPU port may not return to
// this stack frame until the switched-out thread is resumed again.
func (sc *Scheduler) prepareSwitch() (chosen Thread, reinsertCurrent bool, outgoing Thread) {
	if sc.table.Empty() {
		return nil, false, nil
	}
	for {
		p, ok := sc.table.PeekHighestPriority()
		if !ok {
			return nil, false, nil
		}
		t, ok := sc.table.Peek(p)
		if !ok {
			return nil, false, nil
		}
		if t.State() != StateReady {
			// Defensive safety net (spec §4.6 step 3): not the common path.
			sc.table.Remove(t, sameThread)
			continue
		}
		chosen = t
		break
	}

	current := sc.current
	switch {
	case current == nil:
		return chosen, false, nil
	case current.State() == StateRunning:
		p := chosen.Priority()
		if current.Priority() < p || (current.Priority() == p && !current.Yielded()) {
			return nil, false, nil
		}
		return chosen, true, current
	default:
		return chosen, false, current
	}
}

// executeSwitch is the commit half: pop the chosen thread, reinsert the
// outgoing thread if flagged, and invoke the CPU port. It releases tok
// (the critical section) before calling the CPU port, never after: Switch
// does not return until the outgoing thread is itself resumed again, on
// real hardware because the CPU simply isn't executing this stack frame
// meanwhile, and in the hosted model because the calling goroutine blocks
// until woken. Holding the section across that span would deadlock every
// other thread and the tick pump for the sleeping thread's entire
// lifetime.
func (sc *Scheduler) executeSwitch(tok kcell.Token, chosen Thread, reinsertCurrent bool, outgoing Thread) {
	if chosen == sc.current {
		chosen.SetState(StateRunning)
		sc.sec.Leave(tok)
		return
	}

	sc.table.Remove(chosen, sameThread)
	chosen.SetState(StateRunning)

	if outgoing != nil && reinsertCurrent {
		outgoing.SetYielded(false)
		outgoing.SetState(StateReady)
		sc.table.RotateBack(outgoing.Priority(), outgoing)
	}

	prev := sc.current
	sc.current = chosen
	toSlot := chosen.StackSlot()

	sc.sec.Leave(tok)

	if prev == nil {
		sc.port.SwitchToFirst(toSlot, chosen)
		return
	}
	sc.port.Switch(prev.StackSlot(), toSlot, prev, chosen)
}

// Reschedule runs the main selection operation under the critical section
// (spec §4.6). A no-op while the recursion lock is held, or before Start
// has run: thread creation and Startup populate the ready table and may
// call Reschedule transitively, but no switch may happen until the
// scheduler has actually been started, matching every real RTOS's
// "scheduler not yet running" boot guard.
func (sc *Scheduler) Reschedule() {
	tok := sc.sec.Enter()

	if sc.lockDepth > 0 || !sc.started {
		sc.sec.Leave(tok)
		return
	}
	if sc.policy != nil {
		sc.policy.PreStep(sc, sc.current)
	}

	chosen, reinsertCurrent, outgoing := sc.prepareSwitch()
	if chosen == nil {
		sc.sec.Leave(tok)
		return
	}
	sc.executeSwitch(tok, chosen, reinsertCurrent, outgoing)
}

// Start is the one-shot kernel-boot operation (spec §4.6 "Start"): pick the
// highest-priority ready thread, mark it Running, and switch to it from
// scratch. In the hosted model this returns once the dispatcher has
// resumed the chosen thread's goroutine, rather than never returning, since
// there is no real CPU to discard the calling context of — the one
// deliberate adaptation this hosted Port requires (see DESIGN.md).
func (sc *Scheduler) Start() {
	tok := sc.sec.Enter()
	t, ok := sc.table.PopHighest()
	if !ok {
		sc.sec.Leave(tok)
		panic("sched: Start called with no ready thread")
	}
	t.SetState(StateRunning)
	sc.current = t
	sc.started = true
	sc.sec.Leave(tok)

	sc.port.SwitchToFirst(t.StackSlot(), t)
}
