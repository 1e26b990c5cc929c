package thread

import (
	"github.com/OSH-2025/rtkernel/pkg/rtos/kerr"
	"github.com/OSH-2025/rtkernel/pkg/rtos/sched"
	"github.com/OSH-2025/rtkernel/pkg/rtos/timer"
	"github.com/pkg/errors"
)

// Startup transitions a thread Init -> Suspended -> Wake (spec §4.7
// "Startup"), valid only from state Init. It reuses Wake's code path for
// consistency with an externally triggered resume.
func (t *Thread) Startup() error {
	t.mu.Lock()
	if t.state != sched.StateInit {
		t.mu.Unlock()
		return errors.Wrap(kerr.INVAL, "thread: Startup valid only from state Init")
	}
	t.state = sched.StateSuspended
	t.mu.Unlock()

	return t.Wake()
}

// Suspend transitions a Ready or Running thread to Suspended, removing it
// from the ready table if present, and requests a reschedule (spec §4.7
// "Suspend").
func (t *Thread) Suspend() error {
	t.mu.Lock()
	s := t.state
	t.mu.Unlock()
	if s != sched.StateReady && s != sched.StateRunning {
		return errors.Wrap(kerr.INVAL, "thread: Suspend valid only from Ready or Running")
	}

	t.sched.Dequeue(t)
	t.SetState(sched.StateSuspended)
	t.sched.Reschedule()
	return nil
}

// Wake is the lifecycle "resume" operation of spec §4.7 (named Wake here
// because Thread already implements cpuport.ThreadHandle's zero-argument
// Resume() hook for the CPU-port switch contract). Valid only from
// Suspended: resets current_priority to init_priority (undoing any aging),
// sets state Ready, and pushes onto the ready table at init_priority.
func (t *Thread) Wake() error {
	t.mu.Lock()
	if t.state != sched.StateSuspended {
		t.mu.Unlock()
		return errors.Wrap(kerr.INVAL, "thread: Wake valid only from Suspended")
	}
	t.priority = t.initPriority
	t.state = sched.StateReady
	t.mu.Unlock()

	t.sched.Enqueue(t)
	t.sched.Reschedule()
	return nil
}

// Delete removes the thread from the ready table if present, sets state
// Closed, and requests a reschedule (spec §4.7 "Delete"). The stack and
// thread record survive until the last Go reference drops.
//
// exitNotify is closed here, immediately after the state transition and
// before the final Reschedule, not after it returns: when Delete is called
// from the thread's own exit path (the entry function having returned),
// that Reschedule switches away from this now-Closed thread and never
// comes back, so nothing after it would ever run.
func (t *Thread) Delete() error {
	t.mu.Lock()
	if t.state == sched.StateClosed {
		t.mu.Unlock()
		return nil
	}
	t.state = sched.StateClosed
	t.mu.Unlock()
	close(t.exitNotify)

	t.CancelSleepTimer()
	t.sched.Dequeue(t)
	t.sched.Reschedule()
	return nil
}

// Yield gives up the remaining slice voluntarily (spec §4.7 "Yield"):
// reload remaining_tick, set the Yield flag, request a reschedule. After
// reinsertion the caller is at the back of its priority queue.
func (t *Thread) Yield() {
	t.mu.Lock()
	t.remainingTick = t.initTick
	t.yielded = true
	t.mu.Unlock()

	t.sched.Reschedule()
}

// SetPriority atomically updates current_priority, re-bucketing the thread
// in the ready table if it is currently present (spec §4.7 "Set-priority").
// Saturates at MaxPriority-1 if the requested priority exceeds the maximum.
// Does not itself trigger a reschedule; the next scheduling event observes
// the new value. This method also satisfies the sched.Thread interface the
// aging policy (MFQPolicy) depends on.
func (t *Thread) SetPriority(p uint16) {
	if t.maxPriority > 0 && p >= t.maxPriority {
		p = t.maxPriority - 1
	}

	tok := t.sec.Enter()
	defer t.sec.Leave(tok)

	// Remove from the old bucket before the priority changes, so the
	// removal looks in the bucket the thread actually sits in.
	queued := t.sched.InTable(t)
	if queued {
		t.sched.Dequeue(t)
	}
	t.mu.Lock()
	t.priority = p
	t.mu.Unlock()
	if queued {
		t.sched.Enqueue(t)
	}
}

// Sleep puts the calling thread to sleep for the given number of ticks
// (spec §4.7 "Sleep"). The precondition is tightened per the distilled
// spec's Open Questions: only the caller's own thread may be slept; t must
// be the scheduler's current thread, checked via the scheduler's Current
// accessor, otherwise kerr.INVAL is returned rather than silently operating
// on foreign state.
func (t *Thread) Sleep(ticks uint32, now uint32) error {
	if cur := t.sched.Current(); cur != t {
		return errors.Wrap(kerr.INVAL, "thread: Sleep only valid on the caller's own thread")
	}

	t.mu.Lock()
	if t.sleepTimer != nil {
		t.mu.Unlock()
		return errors.Wrap(kerr.BUSY, "thread: a sleep/timeout is already in flight for this thread")
	}
	t.errCode = kerr.TIMEOUT // "pending" sentinel per spec §4.7
	t.mu.Unlock()

	tm := timer.New(t.name+":sleep", ticks, false, func() {
		t.mu.Lock()
		t.errCode = kerr.OK
		t.sleepTimer = nil
		t.mu.Unlock()
		t.Wake()
	})

	t.mu.Lock()
	t.sleepTimer = tm
	t.mu.Unlock()

	// Mark the thread Suspended and dequeue it *before* starting the
	// timer, not after: a zero-tick timer can expire on the very next
	// Check(), racing a tick-handler goroutine against this one. Wake
	// requires state Suspended, so reaching that state first makes the
	// race benign (worst case the callback's own Reschedule resolves
	// instantly, since this thread is still cpuport-wise "current").
	// Starting the switch itself is deferred to the final Reschedule
	// below: Switch does not return until this thread is resumed again,
	// so it must run after the timer exists, never while still holding
	// any bookkeeping lock.
	t.sched.Dequeue(t)
	t.SetState(sched.StateSuspended)

	if err := t.timers.Start(tm, now); err != nil {
		t.mu.Lock()
		t.sleepTimer = nil
		t.mu.Unlock()
		t.Wake() // roll back: thread was marked Suspended above
		return err
	}

	t.sched.Reschedule()
	return t.ErrCode()
}

// IsCurrent reports whether t is the scheduler's currently running thread,
// the same precondition Sleep enforces, exported for other blocking
// primitives (spec §4.8 Take) that may only operate on the caller's own
// thread.
func (t *Thread) IsCurrent() bool {
	return t.sched.Current() == t
}

// SuspendForWait removes t from the ready table and marks it Suspended
// without requesting a reschedule, for blocking IPC primitives (spec §4.8
// Take) that still have their own bookkeeping to finish — inserting into a
// waiter queue, arming a timeout — before it is safe to yield the CPU.
// Callers must call RequestReschedule once that bookkeeping is done.
func (t *Thread) SuspendForWait() {
	t.sched.Dequeue(t)
	t.SetState(sched.StateSuspended)
}

// RequestReschedule runs the scheduler's selection algorithm. Exported for
// blocking IPC primitives that suspend a thread via SuspendForWait and must
// trigger the reschedule themselves once their own critical section is
// clear.
func (t *Thread) RequestReschedule() {
	t.sched.Reschedule()
}

// ArmTimeout installs a one-shot timer in this thread's sleep-timer slot
// and starts it, running onExpire when it fires. It is the same "at most
// one sleep/timeout in flight per thread" slot Sleep uses (spec §3), but
// with a caller-supplied expiry action instead of Sleep's plain wake —
// blocking IPC primitives (spec §4.8 Take) need the timeout callback to
// also remove the caller from a waiter queue before resuming it.
func (t *Thread) ArmTimeout(ticks uint32, now uint32, onExpire func()) error {
	t.mu.Lock()
	if t.sleepTimer != nil {
		t.mu.Unlock()
		return errors.Wrap(kerr.BUSY, "thread: a sleep/timeout is already in flight for this thread")
	}
	t.mu.Unlock()

	tm := timer.New(t.name+":timeout", ticks, false, func() {
		t.mu.Lock()
		t.sleepTimer = nil
		t.mu.Unlock()
		onExpire()
	})

	t.mu.Lock()
	t.sleepTimer = tm
	t.mu.Unlock()

	if err := t.timers.Start(tm, now); err != nil {
		t.mu.Lock()
		t.sleepTimer = nil
		t.mu.Unlock()
		return err
	}
	return nil
}

// CancelSleepTimer is the single atomic "stop-and-drop timer" helper every
// non-timeout wake path must use (spec §9 Open Questions): it stops the
// thread's sleep/timeout timer, if any, before the caller proceeds to
// resume the thread, avoiding a race where the callback fires after the
// waiter has already been woken by another path.
func (t *Thread) CancelSleepTimer() {
	t.mu.Lock()
	tm := t.sleepTimer
	t.sleepTimer = nil
	t.mu.Unlock()
	if tm != nil {
		t.timers.Stop(tm)
	}
}
