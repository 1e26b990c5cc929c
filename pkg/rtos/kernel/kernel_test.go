package kernel

import (
	"sync"
	"testing"
	"time"

	"github.com/OSH-2025/rtkernel/pkg/rtos/config"
	"github.com/OSH-2025/rtkernel/pkg/rtos/cpuport"
	"github.com/OSH-2025/rtkernel/pkg/rtos/kerr"
	"github.com/OSH-2025/rtkernel/pkg/rtos/sched"
	"github.com/OSH-2025/rtkernel/pkg/rtos/thread"
	"github.com/OSH-2025/rtkernel/pkg/rtos/timer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTimeout = 2 * time.Second

func testConfig() config.Config {
	cfg := config.Default()
	cfg.HeapSize = 1 << 16
	return cfg
}

// syncPort is a synchronous cpuport.Port stand-in (no goroutine dispatch,
// no Run method) for scenarios driven step by step from a single test
// goroutine, the same pattern thread/sem/sched's own tests use.
type syncPort struct{}

func (syncPort) BuildInitialStack(entry func(arg any), arg any, stack []byte, exit func()) uintptr {
	return 0
}
func (syncPort) Switch(from, to *uintptr, fromThread, toThread cpuport.ThreadHandle) {
	fromThread.Park()
	*from = 1
	toThread.Resume()
	*to = 1
}
func (syncPort) SwitchToFirst(to *uintptr, toThread cpuport.ThreadHandle) {
	toThread.Resume()
	*to = 1
}

func TestNewValidatesConfig(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPriority = 7
	_, err := New(cfg)
	require.Error(t, err)
}

// TestSleepWakesAtExactTick is end-to-end scenario 3 from spec §8: a thread
// sleeping for 1000 ticks resumes exactly at tick N+1000 with error code OK.
func TestSleepWakesAtExactTick(t *testing.T) {
	k, err := New(testConfig(), WithPort(syncPort{}))
	require.NoError(t, err)

	th, err := k.CreateThread("sleeper", func(any) {}, nil, 4096, 10, 5)
	require.NoError(t, err)
	require.NoError(t, th.Startup())
	k.Start()
	require.Same(t, sched.Thread(th), k.Scheduler().Current())

	require.Equal(t, kerr.TIMEOUT, th.Sleep(1000, k.Now()))
	require.Equal(t, sched.StateSuspended, th.State())

	for i := 0; i < 999; i++ {
		k.OnTick()
		assert.Equal(t, sched.StateSuspended, th.State(), "must not wake before N+1000")
	}
	k.OnTick()

	assert.Equal(t, sched.StateRunning, th.State())
	assert.Equal(t, kerr.OK, th.ErrCode())
	assert.Equal(t, uint32(1000), k.Now())
}

// TestPeriodicTimerFiresTenTimesOverFiveHundredTicks is end-to-end scenario
// 6 from spec §8: a periodic timer with period 50 fires exactly 10 times
// over 500 ticks.
func TestPeriodicTimerFiresTenTimesOverFiveHundredTicks(t *testing.T) {
	k, err := New(testConfig(), WithPort(syncPort{}))
	require.NoError(t, err)

	var mu sync.Mutex
	count := 0
	tm := timer.New("periodic", 50, true, func() {
		mu.Lock()
		count++
		mu.Unlock()
	})
	require.NoError(t, k.Timers().Start(tm, k.Now()))

	for i := 0; i < 500; i++ {
		k.OnTick()
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 10, count)
}

// TestSemaphoreHandoffPreemptsReleaser is end-to-end scenario 4 from spec
// §8: a higher-priority waiter blocked on a semaphore preempts the lower-
// priority releaser immediately, and its Take returns OK with sem.Count
// remaining 0. Both threads are started (Init -> Ready) before Start, so
// the only context switch the real hostport dispatcher ever performs is
// always initiated by the currently-running thread's own goroutine — the
// one cooperative-switch discipline the hosted Port requires (see
// DESIGN.md, hostport/thread package notes).
func TestSemaphoreHandoffPreemptsReleaser(t *testing.T) {
	k, err := New(testConfig())
	require.NoError(t, err)

	s, err := k.NewSemaphore("handoff", 0)
	require.NoError(t, err)

	waiterDone := make(chan struct{})
	var waiterThread *thread.Thread
	waiterThread, err = k.CreateThread("waiter", func(any) {
		code := s.Take(waiterThread, 0xFFFFFFFF, k.Now())
		assert.Equal(t, kerr.OK, code)
		close(waiterDone)
	}, nil, 4096, 5, 50)
	require.NoError(t, err)

	releaser, err := k.CreateThread("releaser", func(any) {
		s.Release()
	}, nil, 4096, 10, 50)
	require.NoError(t, err)

	require.NoError(t, waiterThread.Startup())
	require.NoError(t, releaser.Startup())
	k.Start()

	select {
	case <-waiterDone:
	case <-time.After(testTimeout):
		t.Fatal("waiter did not wake within timeout")
	}

	assert.Equal(t, uint32(0), s.Count())
}
