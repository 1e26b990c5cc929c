// Package hostport provides the default, hosted cpuport.Port: threads run
// as goroutines parked on per-thread resume channels, and a single
// dispatcher goroutine (trap) models the spec's switch-trap contract —
// switchFlag/fromSlot/toSlot globals serviced by one low-priority trap
// handler — without inline assembly. Grounded on the teacher's channel-
// backed thread request/response pattern
// (gVisor's systrap subprocess.go) and on
// other_examples/.../toysched7.go's blockChan design.
package hostport

import (
	"sync"

	"github.com/OSH-2025/rtkernel/pkg/rtos/cpuport"
)

// slot holds one pending switch request: the thread to resume and the
// channel to signal once the switch has been serviced.
type slot struct {
	thread cpuport.ThreadHandle
	done   chan struct{}
}

// HostPort is the hosted cpuport.Port. Exactly one dispatcher goroutine
// (trap) services toSlot; trapCh, a one-slot channel, plays the switch
// flag, and no from-slot is kept because the outgoing goroutine parks
// itself. Switch and SwitchToFirst only ever write toSlot and raise the
// flag, matching the spec's guarantee that a second request arriving
// before the first is serviced overwrites only the "to" side.
type HostPort struct {
	mu       sync.Mutex
	toSlot   *slot
	trapOnce sync.Once
	trapCh   chan struct{}

	// resumeChans holds the per-thread "you are now running" channel,
	// created lazily the first time a thread is switched into.
	resumeChans map[cpuport.ThreadHandle]chan struct{}
}

// New constructs a HostPort and starts its dispatcher goroutine.
func New() *HostPort {
	hp := &HostPort{
		trapCh:      make(chan struct{}, 1),
		resumeChans: make(map[cpuport.ThreadHandle]chan struct{}),
	}
	go hp.trap()
	return hp
}

// resumeChanFor returns (creating if necessary) the channel a thread
// blocks on while parked, and the channel the dispatcher signals to wake
// it.
func (hp *HostPort) resumeChanFor(t cpuport.ThreadHandle) chan struct{} {
	hp.mu.Lock()
	defer hp.mu.Unlock()
	ch, ok := hp.resumeChans[t]
	if !ok {
		ch = make(chan struct{})
		hp.resumeChans[t] = ch
	}
	return ch
}

// trap is the single low-priority switch handler: it waits for a raised
// flag, takes whatever is currently in toSlot (last write wins, exactly as
// the spec's atomicity note describes), performs the resume, and signals
// completion.
func (hp *HostPort) trap() {
	for range hp.trapCh {
		hp.mu.Lock()
		s := hp.toSlot
		hp.toSlot = nil
		hp.mu.Unlock()
		if s == nil {
			continue
		}
		ch := hp.resumeChanFor(s.thread)
		s.thread.Resume()
		close(ch)
		if s.done != nil {
			close(s.done)
		}
	}
}

// requestSwitch raises switchFlag with the given target in toSlot and waits
// for the dispatcher to service it.
func (hp *HostPort) requestSwitch(to cpuport.ThreadHandle) {
	done := make(chan struct{})
	hp.mu.Lock()
	hp.toSlot = &slot{thread: to, done: done}
	hp.mu.Unlock()
	select {
	case hp.trapCh <- struct{}{}:
	default:
		// A switch is already pending service; toSlot was just
		// overwritten above, which is the specified behavior.
	}
	<-done
}

// Switch saves the outgoing thread's park state and requests a switch into
// the incoming thread. *from/*to are updated to opaque non-zero markers;
// the hosted model has no real stack pointer to thread through since Go
// goroutines own their own stacks.
func (hp *HostPort) Switch(from, to *uintptr, fromThread, toThread cpuport.ThreadHandle) {
	fromThread.Park()
	*from = 1
	hp.requestSwitch(toThread)
	*to = 1
	// Block the calling (outgoing) goroutine until it is resumed again.
	ch := hp.resumeChanFor(fromThread)
	<-ch
	hp.mu.Lock()
	hp.resumeChans[fromThread] = make(chan struct{})
	hp.mu.Unlock()
}

// SwitchToFirst switches into toThread with no outgoing thread to park,
// used once at scheduler startup.
func (hp *HostPort) SwitchToFirst(to *uintptr, toThread cpuport.ThreadHandle) {
	hp.requestSwitch(toThread)
	*to = 1
}

// BuildInitialStack delegates to the shared, CPU-independent frame layout.
// It does not start a goroutine; the thread's goroutine is Run, which the
// caller (thread.Manager.Create) spawns separately.
func (hp *HostPort) BuildInitialStack(entry func(arg any), arg any, stack []byte, exit func()) uintptr {
	return cpuport.BuildInitialStack(entry, arg, stack, exit)
}

// Run launches the goroutine body for a thread created with sp (the value
// returned by BuildInitialStack), blocking until the dispatcher first
// resumes this thread before invoking entry. Callers (thread.Create) spawn
// this in its own goroutine immediately after building the stack.
func (hp *HostPort) Run(t cpuport.ThreadHandle, sp uintptr) {
	ch := hp.resumeChanFor(t)
	<-ch
	hp.mu.Lock()
	hp.resumeChans[t] = make(chan struct{})
	hp.mu.Unlock()

	f, ok := cpuport.LookupFrame(sp)
	if !ok {
		return
	}
	f.Entry(f.Arg)
	if f.Exit != nil {
		f.Exit()
	}
}
