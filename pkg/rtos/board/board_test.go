package board

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/OSH-2025/rtkernel/pkg/rtos/config"
	"github.com/OSH-2025/rtkernel/pkg/rtos/kernel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesOverridesOnTopOfDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "board.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
ticks_per_second = 500
max_priority = 256
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(500), cfg.TicksPerSecond)
	assert.Equal(t, uint16(256), cfg.MaxPriority)
	assert.Equal(t, config.DefaultHeapSize, int(cfg.HeapSize))
}

func TestLoadRejectsInvalidProfile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "board.toml")
	require.NoError(t, os.WriteFile(path, []byte(`max_priority = 7`), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

// TestWrapEntryRecoversAndHaltsOnFault exercises the hosted fault path: a
// panicking thread entry is recovered, classified, recorded, and halts the
// kernel, rather than crashing the test process.
func TestWrapEntryRecoversAndHaltsOnFault(t *testing.T) {
	cfg := config.Default()
	cfg.HeapSize = 1 << 16
	k, err := kernel.New(cfg)
	require.NoError(t, err)
	b := New(k)

	entry := b.WrapEntry("faulty", func(any) {
		panic(os.ErrInvalid)
	})

	th, err := k.CreateThread("faulty", entry, nil, 4096, 5, 5)
	require.NoError(t, err)
	require.NoError(t, th.Startup())
	k.Start()

	require.Eventually(t, k.Halted, time.Second, time.Millisecond)
	require.Len(t, b.Faults(), 1)
	assert.Equal(t, "faulty", b.Faults()[0].Thread)
	assert.True(t, k.Halted())
}
