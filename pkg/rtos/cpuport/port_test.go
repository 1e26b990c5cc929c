package cpuport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildInitialStackPoisonsCalleeSaved(t *testing.T) {
	stack := make([]byte, 256)
	sp := BuildInitialStack(func(any) {}, nil, stack, func() {})
	require.Less(t, int(sp), len(stack))

	for i := 0; i < calleeSavedSlots; i++ {
		off := int(sp) + i*4
		word := uint32(stack[off]) | uint32(stack[off+1])<<8 | uint32(stack[off+2])<<16 | uint32(stack[off+3])<<24
		assert.Equal(t, PoisonWord, word)
	}
}

func TestBuildInitialStackRegistersFrame(t *testing.T) {
	stack := make([]byte, 256)
	called := false
	entry := func(arg any) { called = true }
	sp := BuildInitialStack(entry, 42, stack, nil)

	f, ok := LookupFrame(sp)
	require.True(t, ok)
	assert.Equal(t, 42, f.Arg)
	f.Entry(f.Arg)
	assert.True(t, called)

	// Consumed exactly once.
	_, ok = LookupFrame(sp)
	assert.False(t, ok)
}

func TestBuildInitialStackPanicsOnUndersizedStack(t *testing.T) {
	stack := make([]byte, 4)
	assert.Panics(t, func() {
		BuildInitialStack(func(any) {}, nil, stack, nil)
	})
}
