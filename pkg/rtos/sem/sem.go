// Package sem implements the counting semaphore IPC primitive: a
// non-negative count with a fixed maximum and a priority-ordered waiter
// queue, the canonical example of waiting and wakeup integrating with the
// scheduler (spec §4.8). Grounded on original_source/.../ipc.rs, generalized
// from that file's FIFO-only suspend list to genuine priority ordering, per
// the distilled spec's explicit "priority-ordered waiter queue" requirement.
package sem

import (
	"sync"

	"github.com/OSH-2025/rtkernel/pkg/rtos/kcell"
	"github.com/OSH-2025/rtkernel/pkg/rtos/kerr"
	"github.com/OSH-2025/rtkernel/pkg/rtos/thread"
	"github.com/OSH-2025/rtkernel/pkg/rtos/tick"
	"github.com/pkg/errors"
)

// Semaphore is a counting semaphore: count is a non-negative integer bounded
// by max, and waiters is a list of blocked threads ordered by current
// priority, highest first, FIFO among equal priorities (spec §3). The
// invariant count > 0 ⇒ waiters empty holds by construction: Take only
// queues a waiter when count is already zero, and Release only increments
// count when no waiter is present to hand the ticket to directly instead.
type Semaphore struct {
	sec  *kcell.Section
	mu   sync.Mutex
	name string
	max  uint32

	count   uint32
	waiters []*thread.Thread
}

// New constructs a semaphore with the given name and initial count, which
// must lie within [0, max] (spec §4.8 "Construction"). max is typically
// config.Config.SemMax.
func New(sec *kcell.Section, name string, initialCount, max uint32) (*Semaphore, error) {
	if initialCount > max {
		return nil, errors.Wrapf(kerr.INVAL, "sem: New(%q): initial_count %d exceeds max %d", name, initialCount, max)
	}
	return &Semaphore{sec: sec, name: name, max: max, count: initialCount}, nil
}

// Name returns the semaphore's identity.
func (s *Semaphore) Name() string { return s.name }

// Count returns the current count.
func (s *Semaphore) Count() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// WaiterCount returns the number of threads currently blocked on this
// semaphore.
func (s *Semaphore) WaiterCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.waiters)
}

// insertWaiterLocked inserts t into the waiter queue in priority order:
// highest priority (numerically smallest) first, and after every existing
// waiter of equal or higher priority, preserving FIFO order among ties.
// Callers must hold s.mu.
func (s *Semaphore) insertWaiterLocked(t *thread.Thread) {
	p := t.Priority()
	idx := len(s.waiters)
	for i, w := range s.waiters {
		if w.Priority() > p {
			idx = i
			break
		}
	}
	s.waiters = append(s.waiters, nil)
	copy(s.waiters[idx+1:], s.waiters[idx:])
	s.waiters[idx] = t
}

// removeWaiter removes t from the waiter queue if present. It is a no-op if
// t is not queued, matching the timeout callback's "remove it from the
// waiter queue defensively" requirement (spec §4.8 Take step 3): by the
// time a timeout fires, a race with a concurrent Release may have already
// removed t.
func (s *Semaphore) removeWaiter(t *thread.Thread) {
	tok := s.sec.Enter()
	defer s.sec.Leave(tok)
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, w := range s.waiters {
		if w == t {
			s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
			return
		}
	}
}

// Take acquires the semaphore, blocking the caller for up to timeoutTicks
// ticks if the count is currently zero (spec §4.8 "Take"). caller must be
// the scheduler's currently running thread; timeoutTicks == 0 is a
// non-blocking probe, timeoutTicks == tick.WaitForever blocks without a
// timeout. Returns OK if the semaphore was acquired (directly or via a
// later release), TIMEOUT if the timeout elapsed first, INVAL if caller is
// not the running thread, or BUSY if the timeout timer could not be armed
// because caller already has a sleep/timeout timer in flight.
func (s *Semaphore) Take(caller *thread.Thread, timeoutTicks uint32, now uint32) kerr.Code {
	if !caller.IsCurrent() {
		return kerr.INVAL
	}

	tok := s.sec.Enter()
	s.mu.Lock()
	if s.count > 0 {
		s.count--
		s.mu.Unlock()
		s.sec.Leave(tok)
		return kerr.OK
	}
	if timeoutTicks == 0 {
		s.mu.Unlock()
		s.sec.Leave(tok)
		return kerr.TIMEOUT
	}

	// "Pending" sentinel (spec §4.7 "error code slot"): cleared to OK or
	// TIMEOUT by whichever path actually wakes the caller.
	caller.SetErrCode(kerr.TIMEOUT)
	s.insertWaiterLocked(caller)
	s.mu.Unlock()
	s.sec.Leave(tok)

	caller.SuspendForWait()

	if timeoutTicks != tick.WaitForever {
		if err := caller.ArmTimeout(timeoutTicks, now, func() {
			s.removeWaiter(caller)
			caller.SetErrCode(kerr.TIMEOUT)
			caller.Wake()
		}); err != nil {
			// Rolls back the suspend above; this only happens if caller
			// already has an unrelated timer in flight, which Take's own
			// precondition (caller is the running, non-blocked thread)
			// rules out in practice.
			s.removeWaiter(caller)
			caller.Wake()
			return kerr.BUSY
		}
	}

	caller.RequestReschedule()
	return caller.ErrCode()
}

// Release releases the semaphore (spec §4.8 "Release"). If a waiter is
// queued, the highest-priority one receives the ticket directly — count is
// never transiently incremented, preserving FIFO-within-priority fairness —
// and is resumed, which itself triggers a reschedule. Otherwise count is
// incremented unless already at max, in which case Release returns FULL.
func (s *Semaphore) Release() kerr.Code {
	tok := s.sec.Enter()
	s.mu.Lock()
	if len(s.waiters) > 0 {
		w := s.waiters[0]
		s.waiters = s.waiters[1:]
		s.mu.Unlock()
		s.sec.Leave(tok)

		w.CancelSleepTimer()
		w.SetErrCode(kerr.OK)
		w.Wake()
		return kerr.OK
	}

	if s.count >= s.max {
		s.mu.Unlock()
		s.sec.Leave(tok)
		return kerr.FULL
	}
	s.count++
	s.mu.Unlock()
	s.sec.Leave(tok)
	return kerr.OK
}

// Delete resumes every waiter with an error code indicating the semaphore
// is gone, then reclaims the semaphore (spec §4.8 "Delete"). The Semaphore
// value itself is left to the last Go reference, matching thread.Delete's
// "record survives until the last Go reference drops" convention.
func (s *Semaphore) Delete() {
	tok := s.sec.Enter()
	s.mu.Lock()
	waiters := s.waiters
	s.waiters = nil
	s.mu.Unlock()
	s.sec.Leave(tok)

	for _, w := range waiters {
		w.CancelSleepTimer()
		w.SetErrCode(kerr.ERROR)
		w.Wake()
	}
}
