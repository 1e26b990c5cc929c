package sched

import (
	"testing"

	"github.com/OSH-2025/rtkernel/pkg/rtos/cpuport"
	"github.com/OSH-2025/rtkernel/pkg/rtos/kcell"
	"github.com/OSH-2025/rtkernel/pkg/rtos/ready"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePort is a synchronous stand-in for cpuport.Port: it calls Resume/Park
// directly rather than parking the calling goroutine on a channel, which is
// what the real hostport.HostPort does. These scheduler tests drive
// Reschedule from a single goroutine against synthetic fakeThreads that have
// no goroutine of their own to resume them later, so the real hosted port
// would block forever the first time an actual switch-away occurs; the
// concurrent hosted-dispatch semantics are covered by hostport's own tests
// and by the thread package's integration tests instead.
type fakePort struct{}

func (fakePort) BuildInitialStack(entry func(arg any), arg any, stack []byte, exit func()) uintptr {
	return 0
}

func (fakePort) Switch(from, to *uintptr, fromThread, toThread cpuport.ThreadHandle) {
	fromThread.Park()
	*from = 1
	toThread.Resume()
	*to = 1
}

func (fakePort) SwitchToFirst(to *uintptr, toThread cpuport.ThreadHandle) {
	toThread.Resume()
	*to = 1
}

type fakeThread struct {
	name         string
	state        State
	priority     uint16
	initPriority uint16
	yielded      bool
	sp           uintptr
	resumed      int
	parked       int
}

func newFakeThread(name string, priority uint16) *fakeThread {
	return &fakeThread{name: name, state: StateReady, priority: priority, initPriority: priority}
}

func (f *fakeThread) Name() string            { return f.name }
func (f *fakeThread) Priority() uint16        { return f.priority }
func (f *fakeThread) State() State            { return f.state }
func (f *fakeThread) SetState(s State)        { f.state = s }
func (f *fakeThread) Yielded() bool           { return f.yielded }
func (f *fakeThread) SetYielded(y bool)       { f.yielded = y }
func (f *fakeThread) SetPriority(p uint16)    { f.priority = p }
func (f *fakeThread) InitPriority() uint16    { return f.initPriority }
func (f *fakeThread) StackSlot() *uintptr     { return &f.sp }
func (f *fakeThread) Resume()                 { f.resumed++ }
func (f *fakeThread) Park()                   { f.parked++ }

func newTestScheduler() *Scheduler {
	sec := &kcell.Section{}
	table := ready.NewFlat[Thread]()
	return New(sec, fakePort{}, table)
}

func TestStartPicksHighestPriority(t *testing.T) {
	sc := newTestScheduler()
	low := newFakeThread("low", 20)
	high := newFakeThread("high", 3)
	sc.Enqueue(low)
	sc.Enqueue(high)

	sc.Start()

	assert.Same(t, high, sc.Current())
	assert.Equal(t, StateRunning, high.state)
	assert.Equal(t, 1, high.resumed)
}

func TestRescheduleKeepsRunningHigherPriorityCurrent(t *testing.T) {
	sc := newTestScheduler()
	current := newFakeThread("current", 5)
	current.state = StateRunning
	sc.current = current
	sc.started = true

	lower := newFakeThread("lower", 20)
	sc.Enqueue(lower)

	sc.Reschedule()
	assert.Same(t, current, sc.Current())
	assert.Equal(t, StateRunning, current.state)
}

func TestRescheduleSwitchesToHigherPriorityAndReinsertsCurrent(t *testing.T) {
	sc := newTestScheduler()
	current := newFakeThread("current", 20)
	current.state = StateRunning
	sc.current = current
	sc.started = true

	higher := newFakeThread("higher", 3)
	sc.Enqueue(higher)

	sc.Reschedule()

	assert.Same(t, higher, sc.Current())
	assert.Equal(t, StateRunning, higher.state)
	assert.True(t, sc.InTable(current))
	assert.Equal(t, StateReady, current.state)
}

func TestRescheduleNoOpWhenLocked(t *testing.T) {
	sc := newTestScheduler()
	current := newFakeThread("current", 20)
	current.state = StateRunning
	sc.current = current
	sc.started = true

	higher := newFakeThread("higher", 3)
	sc.Enqueue(higher)

	sc.Lock()
	sc.Reschedule()
	assert.Same(t, current, sc.Current())
	sc.Unlock()

	sc.Reschedule()
	assert.Same(t, higher, sc.Current())
}

func TestEqualPriorityFIFOPreservedAcrossYield(t *testing.T) {
	sc := newTestScheduler()
	current := newFakeThread("a", 10)
	current.state = StateRunning
	current.yielded = true
	sc.current = current
	sc.started = true

	b := newFakeThread("b", 10)
	sc.Enqueue(b)

	sc.Reschedule()
	assert.Same(t, b, sc.Current())
	assert.True(t, sc.InTable(current))
	assert.False(t, current.yielded)
	assert.Equal(t, StateReady, current.state)
}

func TestMFQPolicyResetsOutgoingAndDecaysOthers(t *testing.T) {
	sc := newTestScheduler()
	sc.SetPolicy(MFQPolicy{MaxPriority: 32})

	outgoing := newFakeThread("out", 5)
	outgoing.initPriority = 5
	outgoing.priority = 2 // aged upward previously
	outgoing.state = StateRunning
	sc.current = outgoing
	sc.started = true

	other := newFakeThread("other", 10)
	sc.Enqueue(other)

	higher := newFakeThread("higher", 1)
	sc.Enqueue(higher)

	sc.Reschedule()

	assert.Equal(t, uint16(5), outgoing.priority)
	assert.Equal(t, uint16(11), other.priority)
}

func TestReinsertedOutgoingSurvivesNextReschedule(t *testing.T) {
	sc := newTestScheduler()
	current := newFakeThread("current", 20)
	current.state = StateRunning
	sc.current = current
	sc.started = true

	higher := newFakeThread("higher", 3)
	sc.Enqueue(higher)

	sc.Reschedule()
	require.Same(t, higher, sc.Current())
	require.Equal(t, StateReady, current.state)

	// higher finishes and is removed; the next Reschedule must still find
	// the reinserted "current" thread rather than discarding it as stale.
	sc.Dequeue(higher)
	higher.state = StateClosed
	sc.current = higher
	sc.started = true

	sc.Reschedule()
	assert.Same(t, current, sc.Current())
	assert.Equal(t, StateRunning, current.state)
}

func TestDequeueRemovesFromTable(t *testing.T) {
	sc := newTestScheduler()
	th := newFakeThread("t", 5)
	sc.Enqueue(th)
	require.True(t, sc.InTable(th))
	sc.Dequeue(th)
	assert.False(t, sc.InTable(th))
}
