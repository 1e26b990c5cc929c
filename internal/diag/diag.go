// Package diag aggregates the diagnostic state a CPU fault handler prints
// before halting (spec §4.1 "Error model"): status register, general
// registers, stack pointer, faulting PC, and a fault-status breakdown. On
// real Cortex-M silicon these come from the fault's exception frame and the
// SCB's CFSR/HFSR registers; in the hosted simulation kernel a panicking
// thread goroutine stands in for a hardware fault; recovering it is the
// board's job, this package only shapes what gets reported.
package diag

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// Fault carries every field spec §4.1 requires a fault dump to print,
// aggregated via github.com/hashicorp/go-multierror so a single error value
// reaches the log sink with each field attributed instead of being
// flattened into one string.
type Fault struct {
	Thread       string
	StatusReg    uint32 // placeholder PSR value captured at the point of fault
	FaultStatus  string // coarse classification: "bus", "usage", "memory", "hard"
	PC           uintptr
	SP           uintptr
	Recovered    any // the Go panic value standing in for "general registers"
	Stack        string
}

// Error renders Fault's fields through a multierror so each is visible as
// its own line, matching a real fault dump's multi-field printout.
func (f *Fault) Error() string {
	var merr *multierror.Error
	merr = multierror.Append(merr,
		errors.Errorf("thread: %s", f.Thread),
		errors.Errorf("status: 0x%08X", f.StatusReg),
		errors.Errorf("fault-status: %s", f.FaultStatus),
		errors.Errorf("pc: 0x%X", f.PC),
		errors.Errorf("sp: 0x%X", f.SP),
		errors.Errorf("recovered: %v", f.Recovered),
	)
	merr.ErrorFormat = func(errs []error) string {
		s := fmt.Sprintf("rtos: unrecoverable fault (%d fields)", len(errs))
		for _, e := range errs {
			s += "\n  " + e.Error()
		}
		if f.Stack != "" {
			s += "\n--- stack ---\n" + f.Stack
		}
		return s
	}
	return merr.Error()
}

// New builds a Fault from a recovered panic value, the thread name it
// occurred on, and the captured Go stack trace (the hosted stand-in for a
// register dump a real architectural fault handler would print).
func New(threadName string, recovered any, stack string) *Fault {
	return &Fault{
		Thread:      threadName,
		FaultStatus: classify(recovered),
		Recovered:   recovered,
		Stack:       stack,
	}
}

// classify gives a coarse "bus/usage/memory/hard" style label to a
// recovered panic, matching the architectural vocabulary spec §4.1 uses for
// fault-status breakdown: an error wrapped by OOB is "bus", one wrapped by
// NilDeref is "memory", any other error is "usage", and a panic value that
// is not an error is "hard" (the Cortex-M catch-all).
func classify(recovered any) string {
	switch err := recovered.(type) {
	case error:
		switch {
		case errors.Is(err, errOOB):
			return "bus"
		case errors.Is(err, errNilDeref):
			return "memory"
		default:
			return "usage"
		}
	default:
		return "hard"
	}
}

// errOOB and errNilDeref are sentinel causes board code can wrap a
// recovered panic in (via OOB/NilDeref) before it reaches classify, when it
// can tell more precisely what kind of fault it was (e.g. a recovered
// index-out-of-range vs. a recovered nil-pointer dereference).
// board.WrapEntry passes the recovered value through unwrapped.
var (
	errOOB      = errors.New("diag: out-of-bounds access")
	errNilDeref = errors.New("diag: nil dereference")
)

// OOB wraps err so classify reports a "bus" fault, for board code that can
// distinguish an out-of-bounds access from a generic usage fault.
func OOB(err error) error { return errors.Wrap(errOOB, err.Error()) }

// NilDeref wraps err so classify reports a "memory" fault.
func NilDeref(err error) error { return errors.Wrap(errNilDeref, err.Error()) }
