// Package board is the hosted platform glue a real board-support package
// would provide: loading a board profile, driving the system tick from a
// wall-clock source, and turning a panicking thread goroutine into a
// diagnostic fault dump. None of this is part of the kernel core itself —
// spec §2's dependency table calls it out as its own component precisely so
// the kernel package never has to know whether its ticks come from a
// SIGALRM-driven pump or a test loop.
package board

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/OSH-2025/rtkernel/pkg/rtos/config"
)

// Config is the TOML-sourced board profile: the knobs config.Config freezes
// at kernel construction, plus the host-only pacing knob (TicksPerSecond
// doubles as both the kernel's logical tick rate and the tick pump's
// wall-clock rate, matching a real board where the same hardware timer
// peripheral provides both).
type Config struct {
	TicksPerSecond uint32 `toml:"ticks_per_second"`
	MaxPriority    uint16 `toml:"max_priority"`
	NameMax        int    `toml:"name_max"`
	AlignSize      uintptr `toml:"align_size"`
	HeapSize       uintptr `toml:"heap_size"`
	SemMax         uint32 `toml:"sem_max"`
	HeapTracing    bool   `toml:"heap_tracing"`
}

// Load reads a board profile from a TOML file at path and freezes it into a
// config.Config, validating it before returning. Missing fields in the TOML
// file fall back to config.Default()'s values, the same way a board's
// linker script only ever overrides the constants it actually cares about.
func Load(path string) (config.Config, error) {
	cfg := config.Default()
	bc := Config{
		TicksPerSecond: cfg.TicksPerSecond,
		MaxPriority:    cfg.MaxPriority,
		NameMax:        cfg.NameMax,
		AlignSize:      cfg.AlignSize,
		HeapSize:       cfg.HeapSize,
		SemMax:         cfg.SemMax,
		HeapTracing:    cfg.HeapTracing,
	}
	if _, err := toml.DecodeFile(path, &bc); err != nil {
		return config.Config{}, fmt.Errorf("board: Load(%q): %w", path, err)
	}

	out := config.Config{
		TicksPerSecond: bc.TicksPerSecond,
		MaxPriority:    bc.MaxPriority,
		NameMax:        bc.NameMax,
		AlignSize:      bc.AlignSize,
		HeapSize:       bc.HeapSize,
		SemMax:         bc.SemMax,
		HeapTracing:    bc.HeapTracing,
	}
	if err := out.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("board: Load(%q): %w", path, err)
	}
	return out, nil
}
