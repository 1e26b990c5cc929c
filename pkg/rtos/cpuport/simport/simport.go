// Package simport provides a deterministic, single-goroutine cpuport.Port:
// switching a thread "in" is a direct call to its Resume hook rather than a
// real OS-level context switch, so a whole scenario can be driven start to
// finish from one calling goroutine with fully reproducible output. This is
// the same trick thread/sem/sched's own test suites use locally (a
// synchronous stand-in port with no Run method, so thread.Manager never
// spawns a goroutine per thread); simport exports it once for
// cmd/rtoskernel's scenario runner, where reproducible printed output
// matters more than modeling real concurrency.
package simport

import "github.com/OSH-2025/rtkernel/pkg/rtos/cpuport"

// Port is the synchronous cpuport.Port. It deliberately has no Run method,
// so thread.Manager.Create never spawns a goroutine for threads built
// against it (see thread.Manager.Create's type-assertion gate) — every
// "thread" is just a Go closure invoked directly from whatever goroutine
// drives the scenario.
type Port struct{}

// BuildInitialStack delegates to the shared frame layout; the returned
// "stack pointer" is only ever used to look the frame back up, never
// dereferenced as a real address.
func (Port) BuildInitialStack(entry func(arg any), arg any, stack []byte, exit func()) uintptr {
	return cpuport.BuildInitialStack(entry, arg, stack, exit)
}

// Switch parks the outgoing thread and resumes the incoming one in place,
// synchronously, on the calling goroutine.
func (Port) Switch(from, to *uintptr, fromThread, toThread cpuport.ThreadHandle) {
	fromThread.Park()
	*from = 1
	toThread.Resume()
	*to = 1
}

// SwitchToFirst resumes toThread with no outgoing thread to park.
func (Port) SwitchToFirst(to *uintptr, toThread cpuport.ThreadHandle) {
	toThread.Resume()
	*to = 1
}
