package board

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"sync"
	"syscall"
	"time"

	"github.com/OSH-2025/rtkernel/internal/diag"
	"github.com/OSH-2025/rtkernel/pkg/rtos/kernel"
	"github.com/OSH-2025/rtkernel/pkg/rtos/thread"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"
)

// Board wraps a kernel.Kernel with the host-level concerns a real board's
// startup code handles before jumping to main(): installing the periodic
// tick interrupt and catching faults that would otherwise crash silicon.
type Board struct {
	k   *kernel.Kernel
	log *logrus.Logger

	faultMu sync.Mutex
	faults  []*diag.Fault
}

// New wraps an already-constructed kernel.Kernel.
func New(k *kernel.Kernel) *Board {
	return &Board{k: k, log: k.Logger()}
}

// Kernel returns the wrapped kernel instance.
func (b *Board) Kernel() *kernel.Kernel { return b.k }

// WrapEntry adapts a thread.Entry so a panic occurring inside it (the hosted
// stand-in for a CPU fault) is recovered, classified into a diag.Fault, and
// logged, instead of crashing the whole host process the way an unhandled
// hardware fault would otherwise halt only the faulting core. The kernel
// itself is marked Halt()ed, matching spec §4.1's "print diagnostics and
// halt" — this module's irreducibly host-level adaptation of that, since Go
// has no equivalent of parking a core forever.
func (b *Board) WrapEntry(name string, entry thread.Entry) thread.Entry {
	return func(arg any) {
		defer func() {
			if r := recover(); r != nil {
				f := diag.New(name, r, string(debug.Stack()))
				b.recordFault(f)
				b.log.WithFields(logrus.Fields{
					"thread":       name,
					"fault_status": f.FaultStatus,
				}).Error(f.Error())
				b.k.Halt()
			}
		}()
		entry(arg)
	}
}

func (b *Board) recordFault(f *diag.Fault) {
	b.faultMu.Lock()
	defer b.faultMu.Unlock()
	b.faults = append(b.faults, f)
}

// Faults returns every fault recorded by WrapEntry-wrapped thread entries so
// far, oldest first.
func (b *Board) Faults() []*diag.Fault {
	b.faultMu.Lock()
	defer b.faultMu.Unlock()
	return append([]*diag.Fault(nil), b.faults...)
}

// Run drives the kernel's system tick from a SIGALRM-backed interval timer,
// the hosted stand-in for a board's periodic hardware timer interrupt, until
// ctx is cancelled or the kernel halts (via WrapEntry recovering a fault).
// The tick pump runs as the single goroutine of a golang.org/x/sync/errgroup
// group derived from ctx; it checks Halted after every tick and returns
// once the kernel halts or ctx is cancelled.
func (b *Board) Run(ctx context.Context) error {
	cfg := b.k.Config()
	if cfg.TicksPerSecond == 0 {
		return fmt.Errorf("board: Run: TicksPerSecond must be non-zero")
	}

	period := time.Second / time.Duration(cfg.TicksPerSecond)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGALRM)
	defer signal.Stop(sigCh)

	interval := unix.Itimerval{
		Interval: unix.NsecToTimeval(period.Nanoseconds()),
		Value:    unix.NsecToTimeval(period.Nanoseconds()),
	}
	if err := unix.Setitimer(unix.ITIMER_REAL, &interval, nil); err != nil {
		return fmt.Errorf("board: Run: Setitimer: %w", err)
	}
	defer unix.Setitimer(unix.ITIMER_REAL, &unix.Itimerval{}, nil)

	// limiter is a software backstop: SIGALRM delivery can coalesce under
	// host scheduling pressure, so the pump also throttles itself to the
	// configured tick rate rather than bursting every queued signal at
	// once the moment the host catches up.
	limiter := rate.NewLimiter(rate.Limit(cfg.TicksPerSecond), 1)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-sigCh:
				if err := limiter.Wait(gctx); err != nil {
					return nil
				}
				b.k.OnTick()
				if b.k.Halted() {
					return nil
				}
			}
		}
	})

	err := g.Wait()
	if err == context.Canceled {
		return nil
	}
	return err
}
