package cmd

import (
	"fmt"

	"github.com/OSH-2025/rtkernel/pkg/rtos/config"
	"github.com/OSH-2025/rtkernel/pkg/rtos/cpuport/simport"
	"github.com/OSH-2025/rtkernel/pkg/rtos/kernel"
	"github.com/OSH-2025/rtkernel/pkg/rtos/tick"
	"github.com/OSH-2025/rtkernel/pkg/rtos/timer"
	"github.com/spf13/cobra"
)

var scenarioCmd = &cobra.Command{
	Use:       "scenario [name]",
	Short:     "Run one of the end-to-end scheduling scenarios and print the observed schedule",
	ValidArgs: scenarioNames(),
	Args:      cobra.ExactValidArgs(1),
	RunE:      runScenario,
}

var scenarios = map[string]func() error{
	"preemption":  scenarioPreemption,
	"round-robin": scenarioRoundRobin,
	"sleep":       scenarioSleep,
	"handoff":     scenarioHandoff,
	"timeout":     scenarioTimeout,
	"periodic":    scenarioPeriodic,
}

func scenarioNames() []string {
	names := make([]string, 0, len(scenarios))
	for name := range scenarios {
		names = append(names, name)
	}
	return names
}

func runScenario(cmd *cobra.Command, args []string) error {
	fn, ok := scenarios[args[0]]
	if !ok {
		return fmt.Errorf("rtoskernel: unknown scenario %q", args[0])
	}
	return fn()
}

// newScenarioKernel builds a kernel against simport.Port: every switch is a
// direct, synchronous call on the driving goroutine, so a scenario function
// can narrate a thread's actions (Sleep, Take, Yield) step by step without
// a real concurrent dispatcher obscuring the schedule it is demonstrating.
func newScenarioKernel() (*kernel.Kernel, error) {
	cfg := config.Default()
	cfg.HeapSize = 1 << 16
	return kernel.New(cfg, kernel.WithPort(simport.Port{}))
}

func scenarioPreemption() error {
	k, err := newScenarioKernel()
	if err != nil {
		return err
	}

	low, err := k.CreateThread("T_low", func(any) {}, nil, 4096, 20, 100)
	if err != nil {
		return err
	}
	high, err := k.CreateThread("T_high", func(any) {}, nil, 4096, 5, 100)
	if err != nil {
		return err
	}

	if err := low.Startup(); err != nil {
		return err
	}
	k.Start()
	fmt.Printf("current after start: %s\n", k.Scheduler().Current().Name())

	for i := 0; i < 50; i++ {
		k.OnTick()
	}
	fmt.Printf("current after 50 ticks: %s\n", k.Scheduler().Current().Name())

	if err := high.Startup(); err != nil {
		return err
	}
	fmt.Printf("current after T_high starts: %s\n", k.Scheduler().Current().Name())
	return nil
}

func scenarioRoundRobin() error {
	k, err := newScenarioKernel()
	if err != nil {
		return err
	}

	names := []string{"T_A", "T_B", "T_C"}
	var threads []*kernelThread
	for _, n := range names {
		th, err := k.CreateThread(n, func(any) {}, nil, 4096, 10, 5)
		if err != nil {
			return err
		}
		threads = append(threads, &kernelThread{name: n, startup: th.Startup})
	}
	for _, th := range threads {
		if err := th.startup(); err != nil {
			return err
		}
	}
	k.Start()

	schedule := []string{k.Scheduler().Current().Name()}
	for i := 0; i < 15; i++ {
		k.OnTick()
		schedule = append(schedule, k.Scheduler().Current().Name())
	}
	fmt.Printf("observed schedule over 15 ticks: %v\n", schedule)
	return nil
}

// kernelThread is a tiny adapter so scenarioRoundRobin doesn't need to
// import the thread package just to hold a *thread.Thread in a slice.
type kernelThread struct {
	name    string
	startup func() error
}

func scenarioSleep() error {
	k, err := newScenarioKernel()
	if err != nil {
		return err
	}

	th, err := k.CreateThread("T", func(any) {}, nil, 4096, 10, 5)
	if err != nil {
		return err
	}
	if err := th.Startup(); err != nil {
		return err
	}
	k.Start()

	start := k.Now()
	code := th.Sleep(1000, start)
	fmt.Printf("sleep issued at tick %d, immediate return code: %s\n", start, code)

	for k.Now() < start+1000 {
		k.OnTick()
	}
	fmt.Printf("resumed at tick %d (requested +1000), state=%s, err_code=%s\n", k.Now(), th.State(), th.ErrCode())
	return nil
}

func scenarioHandoff() error {
	k, err := newScenarioKernel()
	if err != nil {
		return err
	}

	s, err := k.NewSemaphore("handoff", 0)
	if err != nil {
		return err
	}

	waiter, err := k.CreateThread("T_waiter", func(any) {}, nil, 4096, 5, 50)
	if err != nil {
		return err
	}
	releaser, err := k.CreateThread("T_releaser", func(any) {}, nil, 4096, 10, 50)
	if err != nil {
		return err
	}

	if err := waiter.Startup(); err != nil {
		return err
	}
	if err := releaser.Startup(); err != nil {
		return err
	}
	k.Start()
	fmt.Printf("current after start: %s\n", k.Scheduler().Current().Name())

	// simport.Switch is a direct, non-blocking call, so Take's pending
	// TIMEOUT sentinel comes back immediately instead of only once the
	// waiter is later resumed — the same convention thread/sem's own
	// synchronous-port tests use: drive the call, then inspect state/err
	// code after the fact rather than the call's own return value.
	s.Take(waiter, tick.WaitForever, k.Now())
	fmt.Printf("current while waiter blocked: %s, waiter state=%s\n", k.Scheduler().Current().Name(), waiter.State())

	_ = s.Release()
	fmt.Printf("waiter resumed with err_code=%s, sem.count=%d, current: %s\n", waiter.ErrCode(), s.Count(), k.Scheduler().Current().Name())
	return nil
}

func scenarioTimeout() error {
	k, err := newScenarioKernel()
	if err != nil {
		return err
	}

	s, err := k.NewSemaphore("timeout-demo", 0)
	if err != nil {
		return err
	}

	th, err := k.CreateThread("T", func(any) {}, nil, 4096, 10, 5)
	if err != nil {
		return err
	}
	if err := th.Startup(); err != nil {
		return err
	}
	k.Start()

	start := k.Now()
	got := s.Take(th, 100, start)
	fmt.Printf("take issued at tick %d with timeout=100, immediate code: %s\n", start, got)

	for k.Now() < start+100 {
		k.OnTick()
	}
	fmt.Printf("resumed at tick %d, err_code=%s\n", k.Now(), th.ErrCode())
	return nil
}

func scenarioPeriodic() error {
	k, err := newScenarioKernel()
	if err != nil {
		return err
	}

	count := 0
	tm := timer.New("periodic-demo", 50, true, func() { count++ })
	if err := k.Timers().Start(tm, k.Now()); err != nil {
		return err
	}

	for i := 0; i < 500; i++ {
		k.OnTick()
	}
	fmt.Printf("periodic timer (period=50) fired %d times over 500 ticks\n", count)
	return nil
}
