package tick

import (
	"math"
	"testing"
	"testing/quick"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAfterWrapSafe(t *testing.T) {
	assert.True(t, After(10, 5))
	assert.False(t, After(5, 10))
	// Just after a wrap: 1 has passed 0xFFFFFFFE.
	assert.True(t, After(1, math.MaxUint32-1))
	// Just before a wrap: 0xFFFFFFFE has not passed 1.
	assert.False(t, After(math.MaxUint32-1, 1))
}

func TestMsToTicksNegativeIsWaitForever(t *testing.T) {
	assert.Equal(t, WaitForever, MsToTicks(-1, 1000))
}

func TestMsToTicksCeiling(t *testing.T) {
	// 1 tick per ms exactly.
	assert.Equal(t, uint32(1), MsToTicks(1, 1000))
	// Sub-tick durations round up rather than truncate to zero.
	assert.Equal(t, uint32(1), MsToTicks(1, 500))
}

func TestCounterAdvanceWraps(t *testing.T) {
	c := Counter{value: math.MaxUint32}
	got := c.Advance()
	assert.Equal(t, uint32(0), got)
}

func TestTicksMsRoundTripProperty(t *testing.T) {
	ticksPerSecond := uint32(1000)
	f := func(t uint32) bool {
		ms := TicksToMs(t, ticksPerSecond)
		if ms < 0 {
			return true
		}
		back := MsToTicks(ms, ticksPerSecond)
		// ms derivation truncates, so back may be <= t; ceiling on the
		// way back must never overshoot by more than one tick's worth of
		// rounding error.
		diff := int64(t) - int64(back)
		return diff >= -1 && diff <= 1
	}
	require.NoError(t, quick.Check(f, nil))
}

func TestDriverOnTickInvokesHooks(t *testing.T) {
	var sliceCalls int
	var checkedAt uint32
	d := &Driver{
		SliceTick:   func() { sliceCalls++ },
		CheckTimers: func(now uint32) { checkedAt = now },
	}
	got := d.OnTick()
	assert.Equal(t, 1, sliceCalls)
	assert.Equal(t, got, checkedAt)
}
