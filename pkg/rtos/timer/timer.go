// Package timer implements the ordered timeout queue: a set of pending
// timers keyed by ascending absolute expiry tick, with one-shot and
// periodic re-arm semantics. Grounded on original_source/.../timer/timer.rs.
package timer

import (
	"sync"

	"github.com/OSH-2025/rtkernel/pkg/rtos/kcell"
	"github.com/OSH-2025/rtkernel/pkg/rtos/kerr"
	"github.com/OSH-2025/rtkernel/pkg/rtos/tick"
	"github.com/google/btree"
	"github.com/pkg/errors"
)

// Callback runs when a timer expires. It executes in tick-handler context
// (spec §7: "must not block"); work that could block belongs in a thread
// this callback resumes instead.
type Callback func()

// Timer is a handle holding name, flags, period, and callback, matching
// spec §4.4's {name, flags, init_ticks, expiry_tick, callback} tuple.
type Timer struct {
	Name       string
	InitTicks  uint32
	ExpiryTick uint32
	Callback   Callback
	activated  bool
	periodic   bool
	seq        uint64 // tie-breaker for btree ordering of equal expiries
}

// Activated reports whether the timer is currently queued.
func (t *Timer) Activated() bool { return t.activated }

// Periodic reports whether the timer re-arms itself on expiry.
func (t *Timer) Periodic() bool { return t.periodic }

// less orders timers by ascending expiry tick, breaking ties by insertion
// sequence so btree.Less forms a strict weak ordering.
func (t *Timer) less(other *Timer) bool {
	if t.ExpiryTick != other.ExpiryTick {
		return tick.After(other.ExpiryTick, t.ExpiryTick)
	}
	return t.seq < other.seq
}

// Service is the ordered sequence of active timers, sorted by ascending
// absolute expiry tick (spec §4.4's "Timer service state" invariant),
// backed by a google/btree.BTreeG instead of a hand-rolled sorted slice
// with manual binary search.
type Service struct {
	sec     *kcell.Section
	mu      sync.Mutex
	tree    *btree.BTreeG[*Timer]
	nextSeq uint64
}

// NewService constructs an empty timer service guarded by sec, the shared
// interrupt-free critical section every kernel collection uses.
func NewService(sec *kcell.Section) *Service {
	return &Service{
		sec:  sec,
		tree: btree.NewG(32, func(a, b *Timer) bool { return a.less(b) }),
	}
}

// New constructs a timer with the given name, period (ticks), periodic
// flag, and callback. It is not queued until Start is called.
func New(name string, initTicks uint32, periodic bool, cb Callback) *Timer {
	return &Timer{Name: name, InitTicks: initTicks, periodic: periodic, Callback: cb}
}

// Start computes expiry_tick := now + init_ticks, marks the timer
// activated, and inserts it into the ordered sequence (spec §4.4 `start`).
// Starting an already-activated timer is a no-op error: callers should
// Stop first.
func (s *Service) Start(timer *Timer, now uint32) error {
	tok := s.sec.Enter()
	defer s.sec.Leave(tok)

	s.mu.Lock()
	defer s.mu.Unlock()

	if timer.activated {
		return errors.Wrap(kerr.BUSY, "timer: Start called on an already-activated timer")
	}
	timer.ExpiryTick = now + timer.InitTicks
	timer.activated = true
	timer.seq = s.nextSeq
	s.nextSeq++
	s.tree.ReplaceOrInsert(timer)
	return nil
}

// Stop removes timer by identity from the ordered sequence and clears
// Activated (spec §4.4 `stop`). Stopping an inactive timer is a no-op.
func (s *Service) Stop(timer *Timer) {
	tok := s.sec.Enter()
	defer s.sec.Leave(tok)

	s.mu.Lock()
	defer s.mu.Unlock()

	if !timer.activated {
		return
	}
	s.tree.Delete(timer)
	timer.activated = false
}

// Check walks the sequence from the front, collecting every timer whose
// expiry_tick has passed under the wrap-safe rule, removing each from the
// sequence, then — after the sequence mutation is complete — invokes each
// collected timer's callback and re-arms periodic ones using now as the new
// base (spec §4.4 `check`, deliberately non-jitter-free).
func (s *Service) Check(now uint32) {
	var expired []*Timer

	func() {
		tok := s.sec.Enter()
		defer s.sec.Leave(tok)

		s.mu.Lock()
		defer s.mu.Unlock()

		for {
			min, ok := s.tree.Min()
			if !ok || !tick.After(now, min.ExpiryTick) {
				break
			}
			s.tree.Delete(min)
			min.activated = false
			expired = append(expired, min)
		}
	}()

	for _, t := range expired {
		if t.Callback != nil {
			t.Callback()
		}
		if t.periodic && !t.activated {
			_ = s.Start(t, now)
		}
	}
}

// RemainingTicks returns how many ticks remain until timer's expiry,
// relative to now, or 0 if it has already passed or is not activated.
func (s *Service) RemainingTicks(timer *Timer, now uint32) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !timer.activated || tick.After(now, timer.ExpiryTick) {
		return 0
	}
	return timer.ExpiryTick - now
}

// Cmd is the timer control tagged-command interface (spec §4.4 "Timer
// control"), matching the Rust teacher's TimerControlCmd enum adapted to
// Go's lack of sum types via a small Apply method per command.
type Cmd interface {
	Apply(svc *Service, t *Timer, now uint32)
}

// GetInitTicks reads t.InitTicks into Out.
type GetInitTicks struct{ Out *uint32 }

func (c GetInitTicks) Apply(svc *Service, t *Timer, now uint32) { *c.Out = t.InitTicks }

// SetInitTicks changes t.InitTicks; takes effect on the next Start.
type SetInitTicks struct{ Ticks uint32 }

func (c SetInitTicks) Apply(svc *Service, t *Timer, now uint32) { t.InitTicks = c.Ticks }

// SetOneshot clears the periodic flag.
type SetOneshot struct{}

func (c SetOneshot) Apply(svc *Service, t *Timer, now uint32) { t.periodic = false }

// SetPeriodic sets the periodic flag.
type SetPeriodic struct{}

func (c SetPeriodic) Apply(svc *Service, t *Timer, now uint32) { t.periodic = true }

// GetState reads t.Activated() into Out.
type GetState struct{ Out *bool }

func (c GetState) Apply(svc *Service, t *Timer, now uint32) { *c.Out = t.activated }

// GetRemainTicks reads the remaining ticks until expiry into Out.
type GetRemainTicks struct{ Out *uint32 }

func (c GetRemainTicks) Apply(svc *Service, t *Timer, now uint32) {
	*c.Out = svc.RemainingTicks(t, now)
}

// Control dispatches cmd against timer under svc's critical section.
func Control(svc *Service, timer *Timer, now uint32, cmd Cmd) {
	tok := svc.sec.Enter()
	defer svc.sec.Leave(tok)
	cmd.Apply(svc, timer, now)
}
