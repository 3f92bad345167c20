// Package env abstracts where a check's commands execute. An Environment
// can spawn a command and tear itself down; implementations cover the
// local host, a Docker container, and an Android emulator reached through
// a container and ADB. Callers obtain environments through a Cache so that
// repeated checks against the same target share one live environment.
package env

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/crossrun/crossrun/internal/model"
	"github.com/crossrun/crossrun/internal/proc"
	"github.com/crossrun/crossrun/internal/sched"
)

// Environment is an execution context capable of running commands.
type Environment interface {
	// RunCommand spawns cmd with args under workdir. Spawning is
	// synchronous; completion is observed through the returned command's
	// Exit. RunCommand never blocks waiting for the process to finish and
	// may be called concurrently.
	RunCommand(cmd string, args []string, workdir string) (proc.Command, error)

	// Cleanup tears down whatever the environment started. Calling it on
	// an environment that never started anything is a no-op.
	Cleanup(ctx context.Context) error
}

// UnavailableError reports that no compatible execution environment could
// be matched or provisioned for a check.
type UnavailableError struct {
	Reason string
	Err    error
}

func (e *UnavailableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("no compatible environment: %s: %v", e.Reason, e.Err)
	}
	return "no compatible environment: " + e.Reason
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Key identifies one live environment in the cache.
type Key struct {
	TargetTriple string
	HostEnv      string
}

// Cache maps environment keys to live environments. For a given key at
// most one live environment exists at any time within a run; the cache is
// the sole owner, callers hold shared references. Construct it once at
// startup and tear it down with CleanupAll.
type Cache struct {
	pool   *sched.Pool
	logger *slog.Logger

	mu   sync.RWMutex
	envs map[Key]Environment

	tripleOnce sync.Once
	triple     string
	tripleErr  error
}

// NewCache creates an empty environment cache.
func NewCache(pool *sched.Pool, logger *slog.Logger) *Cache {
	return &Cache{
		pool:   pool,
		logger: logger,
		envs:   make(map[Key]Environment),
	}
}

// Choose returns the environment for the given check, starting one if no
// live environment exists for its key yet. Selection: a check targeting
// the host's own triple runs on the host; an Android target on a Linux
// host runs on the emulator; any other Linux target on a Linux host runs
// in a container; everything else is unavailable.
func (c *Cache) Choose(ctx context.Context, root string, check model.Check) (Environment, error) {
	key := Key{TargetTriple: check.TargetTriple, HostEnv: check.HostEnv}

	c.mu.RLock()
	e, ok := c.envs[key]
	c.mu.RUnlock()
	if ok {
		return e, nil
	}

	host, err := c.HostTriple(ctx, root)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.envs[key]; ok {
		return e, nil
	}

	e, err = c.construct(ctx, root, check, host)
	if err != nil {
		return nil, err
	}
	c.envs[key] = e
	activeEnvironments.Inc()
	return e, nil
}

func (c *Cache) construct(ctx context.Context, root string, check model.Check, hostTriple string) (Environment, error) {
	switch {
	case check.TargetTriple == hostTriple && check.HostEnv == "":
		environmentStartsTotal.WithLabelValues(variantHost).Inc()
		return NewHost(root), nil

	case strings.Contains(hostTriple, "linux") && strings.Contains(check.TargetTriple, "android"):
		environmentStartsTotal.WithLabelValues(variantAndroid).Inc()
		return NewAndroid(c.pool, c.logger, root), nil

	case strings.Contains(hostTriple, "linux") && strings.Contains(check.TargetTriple, "linux"):
		environmentStartsTotal.WithLabelValues(variantDocker).Inc()
		return StartDocker(ctx, c.pool, c.logger, root, check)

	default:
		return nil, &UnavailableError{
			Reason: fmt.Sprintf("cannot run %s checks on a %s host", check.TargetTriple, hostTriple),
		}
	}
}

// CleanupAll drains the cache and cleans up every live environment exactly
// once. Every entry is attempted; the first error encountered is returned.
func (c *Cache) CleanupAll(ctx context.Context) error {
	c.mu.Lock()
	envs := c.envs
	c.envs = make(map[Key]Environment)
	c.mu.Unlock()

	var firstErr error
	for key, e := range envs {
		if err := e.Cleanup(ctx); err != nil {
			c.logger.Error("environment cleanup failed",
				"target", key.TargetTriple, "host_env", key.HostEnv, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
		activeEnvironments.Dec()
	}
	return firstErr
}
