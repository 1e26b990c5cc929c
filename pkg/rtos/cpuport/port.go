// Package cpuport abstracts the CPU-specific half of a context switch: stack
// construction and the switch-trap contract. Grounded on
// original_source/.../cpuport/cpuport.rs. A real build targets a register
// file directly; this one hosts threads as goroutines (see hostport), which
// is the one deliberate adaptation a Go CPU port requires (spec §1, §4.1).
package cpuport

import "encoding/binary"

// PoisonWord fills every callee-saved register slot of a freshly built
// stack frame, matching the distilled spec's poison-fill convention so an
// uninitialized-register bug is visible in a memory dump.
const PoisonWord uint32 = 0xDEADBEEF

// InitialPSR is the minimum-correct Cortex-M program status register value
// for a newly created thread: Thumb bit set, no other flags.
const InitialPSR uint32 = 0x01000000

// ThreadHandle is the small surface cpuport needs from a schedulable
// thread. thread.Thread satisfies it; cpuport never imports thread so the
// package dependency order stays a DAG.
type ThreadHandle interface {
	// Resume is called on the incoming thread as it becomes the running
	// thread.
	Resume()
	// Park is called on the outgoing thread as it stops running.
	Park()
}

// Port is the CPU-specific collaborator the scheduler switches through.
type Port interface {
	// BuildInitialStack writes a synthetic initial frame at the top of
	// stack and returns the stack pointer a first Switch should resume
	// from. entry is invoked with arg when the thread first runs; exit is
	// invoked if entry returns.
	BuildInitialStack(entry func(arg any), arg any, stack []byte, exit func()) uintptr

	// Switch performs a context switch away from fromThread and into
	// toThread, updating *from and *to with the saved/restored stack
	// pointers.
	Switch(from, to *uintptr, fromThread, toThread ThreadHandle)

	// SwitchToFirst switches into toThread with no outgoing thread to
	// save, used once at scheduler startup.
	SwitchToFirst(to *uintptr, toThread ThreadHandle)
}

// frameLayout is the synthetic stack frame BuildInitialStack writes:
// eight poisoned callee-saved slots for R4-R11 (no FPU bank), followed by the exception frame R0, R1, R2, R3, R12, LR, PC, PSR.
const (
	calleeSavedSlots = 8
	exceptionSlots   = 8
)

// frameSize is the total byte size of a synthetic initial frame.
const frameSize = (calleeSavedSlots + exceptionSlots) * 4

// FrameTokens carries what BuildInitialStack cannot place at a raw PC: the
// entry/exit closures, keyed by the stack pointer they were synthesized at.
// A hosted Port implementation consults this the first time a thread is
// switched into. Grounded on §4.1's "frameRegistry" note.
type FrameTokens struct {
	Entry func(arg any)
	Arg   any
	Exit  func()
}

var frameRegistry = map[uintptr]*FrameTokens{}

// BuildInitialStack implements the shared, CPU-independent half of frame
// construction: poison-fill the callee-saved region, write the exception
// frame fields, and register the entry/exit closures under the resulting
// stack pointer. Concrete Port implementations (hostport) call this and
// then adapt the returned sp to their own resume mechanism.
func BuildInitialStack(entry func(arg any), arg any, stack []byte, exit func()) uintptr {
	if len(stack) < frameSize {
		panic("cpuport: stack too small for initial frame")
	}
	top := len(stack)
	base := top - frameSize

	for i := 0; i < calleeSavedSlots; i++ {
		binary.LittleEndian.PutUint32(stack[base+i*4:], PoisonWord)
	}

	exc := base + calleeSavedSlots*4
	binary.LittleEndian.PutUint32(stack[exc+0:], 0)         // R0: argument token (resolved via registry)
	binary.LittleEndian.PutUint32(stack[exc+4:], 0)         // R1
	binary.LittleEndian.PutUint32(stack[exc+8:], 0)         // R2
	binary.LittleEndian.PutUint32(stack[exc+12:], 0)        // R3
	binary.LittleEndian.PutUint32(stack[exc+16:], PoisonWord) // R12
	binary.LittleEndian.PutUint32(stack[exc+20:], 0)        // LR: exit token
	binary.LittleEndian.PutUint32(stack[exc+24:], 0)        // PC: entry token
	binary.LittleEndian.PutUint32(stack[exc+28:], InitialPSR) // PSR

	sp := uintptr(base)
	frameRegistry[sp] = &FrameTokens{Entry: entry, Arg: arg, Exit: exit}
	return sp
}

// LookupFrame retrieves and removes the entry/exit pair registered for sp.
// It is consumed exactly once, the first time a thread is switched into.
func LookupFrame(sp uintptr) (*FrameTokens, bool) {
	f, ok := frameRegistry[sp]
	if ok {
		delete(frameRegistry, sp)
	}
	return f, ok
}
