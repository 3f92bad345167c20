package runner

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/crossrun/crossrun/internal/env"
	"github.com/crossrun/crossrun/pkg/harness"
)

const (
	hostTestTimeout = 10 * time.Minute

	// hostTestExample is the example binary each crate exposes as its
	// full on-target test suite.
	hostTestExample = "tests"
)

// HostTests runs each crate's full example test suite in the environment
// its check requires and relays the suite's event stream back into the
// local console. Suites run sequentially; a windowing or device target is
// exclusive, and the event listener address is handed to the child through
// the process environment.
func (r *Runner) HostTests(ctx context.Context) error {
	var firstErr error
	for _, cc := range r.checks() {
		started := time.Now()
		if err := r.runHostCheck(ctx, cc); err != nil {
			r.Logger.Error("suite failed", "check", cc.String(), "error", err)
			observeCheck(string(SuiteHost), outcomeFailed)
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", cc.String(), err)
			}
			continue
		}
		observeCheck(string(SuiteHost), outcomePassed)
		checkDuration.WithLabelValues(string(SuiteHost)).Observe(time.Since(started).Seconds())
	}
	return firstErr
}

func (r *Runner) runHostCheck(ctx context.Context, cc crateCheck) error {
	host, err := r.Envs.Choose(ctx, r.Root, cc.check)
	if err != nil {
		return fmt.Errorf("choose environment: %w", err)
	}

	reporter := harness.NewConsoleReporter(os.Stdout)
	ready := make(chan string, 1)
	listener := r.Pool.Spawn(func(ctx context.Context) error {
		return harness.RunTCPListener(ctx, "127.0.0.1:0", reporter, ready)
	})
	defer listener.CancelAndWait()

	var addr string
	select {
	case addr = <-ready:
	case <-ctx.Done():
		return ctx.Err()
	}

	// Children inherit the process environment; suites run one at a time
	// so the variable cannot bleed between concurrent checks.
	if err := os.Setenv(harness.EnvTCPAddress, addr); err != nil {
		return err
	}
	defer os.Unsetenv(harness.EnvTCPAddress)

	args := append([]string{"run", "--example", hostTestExample}, cargoArgsForCheck(cc.crate, cc.check)...)
	cmd, err := host.RunCommand(env.CargoBin(), args, "")
	if err != nil {
		return fmt.Errorf("spawn suite: %w", err)
	}
	if err := r.run(ctx, "cargo_host_tests", cmd, hostTestTimeout); err != nil {
		return err
	}

	// The relayed stream decides pass/fail for targets whose process exit
	// status does not travel back (emulated and containerized runs).
	listener.CancelAndWait()
	if code := reporter.Finish(); code != 0 {
		return fmt.Errorf("suite reported failure")
	}
	return nil
}
