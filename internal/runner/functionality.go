package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/crossrun/crossrun/internal/env"
	"github.com/crossrun/crossrun/internal/sched"
)

const functionalityTimeout = 5 * time.Minute

// Functionality runs unit and doc tests for every check, each in the
// environment its target requires. Checks run concurrently; one check
// failing never aborts the others. The first failure is returned after all
// checks have finished.
func (r *Runner) Functionality(ctx context.Context) error {
	type result struct {
		label string
		task  *sched.Task
	}

	var results []result
	for _, cc := range r.checks() {
		cc := cc
		results = append(results, result{
			label: cc.String(),
			task: r.Pool.Spawn(func(ctx context.Context) error {
				return r.runFunctionalityCheck(ctx, cc)
			}),
		})
	}
	r.Logger.Info("running functionality checks", "checks", len(results))

	var firstErr error
	for _, res := range results {
		if err := res.task.Await(ctx); err != nil {
			r.Logger.Error("check failed", "check", res.label, "error", err)
			observeCheck(string(SuiteFunctionality), outcomeFailed)
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", res.label, err)
			}
			continue
		}
		observeCheck(string(SuiteFunctionality), outcomePassed)
	}
	return firstErr
}

func (r *Runner) runFunctionalityCheck(ctx context.Context, cc crateCheck) error {
	started := time.Now()

	host, err := r.Envs.Choose(ctx, r.Root, cc.check)
	if err != nil {
		return fmt.Errorf("choose environment: %w", err)
	}

	for _, mode := range []string{"--tests", "--doc"} {
		args := append([]string{"test", mode}, cargoArgsForCheck(cc.crate, cc.check)...)
		cmd, err := host.RunCommand(env.CargoBin(), args, "")
		if err != nil {
			return fmt.Errorf("spawn cargo test %s: %w", mode, err)
		}
		if err := r.run(ctx, "cargo_functionality", cmd, functionalityTimeout); err != nil {
			return fmt.Errorf("cargo test %s: %w", mode, err)
		}
	}

	checkDuration.WithLabelValues(string(SuiteFunctionality)).Observe(time.Since(started).Seconds())
	return nil
}
