// Package runner contains the check drivers. Each driver iterates the
// declared crates and their checks, obtains the right environment for each
// check, and runs the commands that check requires. Drivers are recipes on
// top of the environment cache, the command runner, and the task pool.
package runner

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/crossrun/crossrun/internal/env"
	"github.com/crossrun/crossrun/internal/model"
	"github.com/crossrun/crossrun/internal/sched"
)

// Suite selects which driver to run.
type Suite string

const (
	// SuiteStyle checks source formatting across the workspace.
	SuiteStyle Suite = "style"
	// SuiteFunctionality runs unit and doc tests for every check.
	SuiteFunctionality Suite = "functionality"
	// SuiteHost runs the full example test suites, relaying events back
	// from wherever the check executes.
	SuiteHost Suite = "host"
)

// Runner holds everything a driver needs. Construct it once at startup and
// pass it down; there is no global state.
type Runner struct {
	Pool   *sched.Pool
	Envs   *env.Cache
	Logger *slog.Logger

	// Root is the workspace directory commands run under.
	Root string

	Crates []model.Crate

	// IncludeNiche also runs checks flagged as niche, which are skipped
	// in the general case.
	IncludeNiche bool
}

// Run executes one suite and then tears down every environment the suite
// started. Cleanup always runs; a cleanup failure surfaces only when the
// suite itself succeeded.
func (r *Runner) Run(ctx context.Context, suite Suite) error {
	var err error
	switch suite {
	case SuiteStyle:
		err = r.Style(ctx)
	case SuiteFunctionality:
		err = r.Functionality(ctx)
	case SuiteHost:
		err = r.HostTests(ctx)
	default:
		err = fmt.Errorf("unknown suite %q", suite)
	}

	if cleanupErr := r.Envs.CleanupAll(ctx); cleanupErr != nil {
		if err == nil {
			return fmt.Errorf("environment cleanup: %w", cleanupErr)
		}
		r.Logger.Error("environment cleanup failed", "error", cleanupErr)
	}
	return err
}

// checks yields every runnable (crate, check) pair, honoring the niche
// flag.
func (r *Runner) checks() []crateCheck {
	var out []crateCheck
	for _, crate := range r.Crates {
		for _, check := range crate.Checks {
			if check.Niche && !r.IncludeNiche {
				r.Logger.Debug("skipping niche check",
					"crate", crate.Name, "target", check.TargetTriple)
				continue
			}
			out = append(out, crateCheck{crate: crate, check: check})
		}
	}
	return out
}

type crateCheck struct {
	crate model.Crate
	check model.Check
}

func (cc crateCheck) String() string {
	s := cc.crate.Name + " for " + cc.check.TargetTriple
	if cc.check.HostEnv != "" {
		s += " (" + cc.check.HostEnv + ")"
	}
	return s
}
