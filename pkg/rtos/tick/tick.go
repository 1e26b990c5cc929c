// Package tick implements the system clock: a monotonic, wrapping 32-bit
// tick counter and the wrap-safe comparison arithmetic every expiry check in
// timer and sem relies on. Grounded on original_source/.../timer/clock.rs.
package tick

import "math"

// WaitForever is the sentinel duration meaning "wait without a timeout".
const WaitForever uint32 = 0xFFFFFFFF

// Counter is a monotonic 32-bit tick counter that wraps by design.
type Counter struct {
	value uint32
}

// Now returns the current tick value.
func (c *Counter) Now() uint32 {
	return c.value
}

// Advance increments the counter by one tick, wrapping at the uint32
// boundary, and returns the new value.
func (c *Counter) Advance() uint32 {
	c.value++
	return c.value
}

// After reports whether tick a has passed tick b, using the wrap-safe rule
// from spec §4.3: (a - b) interpreted as signed 32-bit is >= 0.
func After(a, b uint32) bool {
	return int32(a-b) >= 0
}

// MsToTicks converts a millisecond duration to a tick count with ceiling
// rounding. Negative ms returns WaitForever, per spec §4.3.
func MsToTicks(ms int64, ticksPerSecond uint32) uint32 {
	if ms < 0 {
		return WaitForever
	}
	if ms == 0 {
		return 0
	}
	ticks := (ms*int64(ticksPerSecond) + 999) / 1000
	if ticks > math.MaxUint32 {
		ticks = math.MaxUint32
	}
	return uint32(ticks)
}

// TicksToMs converts a tick count back to milliseconds.
func TicksToMs(ticks uint32, ticksPerSecond uint32) int64 {
	if ticks == WaitForever {
		return -1
	}
	return int64(ticks) * 1000 / int64(ticksPerSecond)
}

// Driver is the tick interrupt handler described in spec §4.3's "on each
// tick" sequence, expressed as two injected hooks so this package need not
// import thread or timer (keeping the §2 dependency order a DAG): the
// kernel facade wires SliceTick to "decrement the running thread's
// remaining_tick, reload and request reschedule at zero" and CheckTimers to
// timer.Service.Check.
type Driver struct {
	Counter     Counter
	SliceTick   func()
	CheckTimers func(now uint32)
}

// OnTick runs exactly once per system tick interrupt (spec §6 "on_tick()"):
// advance the counter, decrement the running thread's slice, then drive the
// timer wheel.
func (d *Driver) OnTick() uint32 {
	now := d.Counter.Advance()
	if d.SliceTick != nil {
		d.SliceTick()
	}
	if d.CheckTimers != nil {
		d.CheckTimers(now)
	}
	return now
}
