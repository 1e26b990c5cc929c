package timer

import (
	"testing"

	"github.com/OSH-2025/rtkernel/pkg/rtos/kcell"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService() *Service {
	return NewService(&kcell.Section{})
}

func TestStartComputesExpiryFromNow(t *testing.T) {
	svc := newService()
	fired := false
	tm := New("t1", 10, false, func() { fired = true })

	require.NoError(t, svc.Start(tm, 100))
	assert.True(t, tm.Activated())
	assert.Equal(t, uint32(110), tm.ExpiryTick)
	assert.False(t, fired)
}

func TestCheckFiresExpiredAndStopsAtFirstUnexpired(t *testing.T) {
	svc := newService()
	var order []string
	mk := func(name string, ticks uint32) *Timer {
		return New(name, ticks, false, func() { order = append(order, name) })
	}
	a := mk("a", 5)
	b := mk("b", 10)
	c := mk("c", 100)
	require.NoError(t, svc.Start(a, 0))
	require.NoError(t, svc.Start(b, 0))
	require.NoError(t, svc.Start(c, 0))

	svc.Check(10)
	assert.Equal(t, []string{"a", "b"}, order)
	assert.True(t, c.Activated())
	assert.False(t, a.Activated())
	assert.False(t, b.Activated())
}

func TestStopRemovesBeforeExpiry(t *testing.T) {
	svc := newService()
	fired := false
	tm := New("t", 5, false, func() { fired = true })
	require.NoError(t, svc.Start(tm, 0))
	svc.Stop(tm)
	assert.False(t, tm.Activated())

	svc.Check(100)
	assert.False(t, fired)
}

func TestPeriodicTimerRearmsOnCurrentTick(t *testing.T) {
	svc := newService()
	count := 0
	tm := New("periodic", 50, true, func() { count++ })
	require.NoError(t, svc.Start(tm, 0))

	for now := uint32(1); now <= 500; now++ {
		svc.Check(now)
	}
	assert.Equal(t, 10, count)
}

func TestWrapSafeExpiry(t *testing.T) {
	svc := newService()
	fired := false
	tm := New("wrap", 10, false, func() { fired = true })
	// Near the wrap boundary: now + init_ticks overflows uint32.
	require.NoError(t, svc.Start(tm, 0xFFFFFFFE))
	assert.Equal(t, uint32(8), tm.ExpiryTick) // wraps past zero

	svc.Check(8)
	assert.True(t, fired)
}

func TestStartOnAlreadyActivatedTimerErrors(t *testing.T) {
	svc := newService()
	tm := New("t", 5, false, nil)
	require.NoError(t, svc.Start(tm, 0))
	err := svc.Start(tm, 0)
	assert.Error(t, err)
}

func TestControlCommands(t *testing.T) {
	svc := newService()
	tm := New("t", 5, false, nil)
	require.NoError(t, svc.Start(tm, 0))

	var initTicks uint32
	Control(svc, tm, 0, GetInitTicks{Out: &initTicks})
	assert.Equal(t, uint32(5), initTicks)

	Control(svc, tm, 0, SetInitTicks{Ticks: 20})
	assert.Equal(t, uint32(20), tm.InitTicks)

	Control(svc, tm, 0, SetPeriodic{})
	assert.True(t, tm.Periodic())

	Control(svc, tm, 0, SetOneshot{})
	assert.False(t, tm.Periodic())

	var active bool
	Control(svc, tm, 0, GetState{Out: &active})
	assert.True(t, active)

	var remain uint32
	Control(svc, tm, 3, GetRemainTicks{Out: &remain})
	assert.Equal(t, uint32(2), remain)
}
