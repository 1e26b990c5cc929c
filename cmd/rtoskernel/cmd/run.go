package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/OSH-2025/rtkernel/pkg/rtos/board"
	"github.com/OSH-2025/rtkernel/pkg/rtos/config"
	"github.com/OSH-2025/rtkernel/pkg/rtos/kernel"
	"github.com/spf13/cobra"
)

var boardPath string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Boot a kernel instance and run it under a live tick pump until interrupted",
	RunE:  runRun,
}

func init() {
	runCmd.Flags().StringVar(&boardPath, "board", "", "path to a board profile TOML file (defaults to config.Default())")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	if boardPath != "" {
		loaded, err := board.Load(boardPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	k, err := kernel.New(cfg, kernel.WithLogger(log))
	if err != nil {
		return err
	}
	b := board.New(k)

	idle, err := k.CreateThread("idle", b.WrapEntry("idle", idleEntry), nil, 4096, cfg.MaxPriority-1, cfg.TicksPerSecond)
	if err != nil {
		return err
	}
	if err := idle.Startup(); err != nil {
		return err
	}
	k.Start()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.WithFields(map[string]any{
		"ticks_per_second": cfg.TicksPerSecond,
		"max_priority":     cfg.MaxPriority,
	}).Info("rtoskernel: booted, running until interrupted")

	return b.Run(ctx)
}

// idleEntry is the demo idle thread's body: a real board's idle thread
// would drop into a low-power wait-for-interrupt instruction, the hosted
// stand-in just blocks forever. It is the only thread run creates, so the
// ready table never holds a second thread for the tick pump to switch
// away to — the one case where driving Reschedule from outside a thread's
// own goroutine is safe.
func idleEntry(any) {
	select {}
}
