package env

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"al.essio.dev/pkg/shellescape"

	"github.com/crossrun/crossrun/internal/config"
	"github.com/crossrun/crossrun/internal/model"
	"github.com/crossrun/crossrun/internal/proc"
	"github.com/crossrun/crossrun/internal/sched"
	"github.com/crossrun/crossrun/pkg/harness"
)

const (
	checkImageRepo = "ghcr.io/crossrun/checkenv"

	// containerSettleDelay gives a freshly detached container a moment to
	// come up before the first exec.
	containerSettleDelay = 100 * time.Millisecond

	dockerCommandTimeout = 60 * time.Second

	// relayDrainTimeout bounds how long a finished suite's relay may keep
	// draining buffered events before it is torn down.
	relayDrainTimeout = 5 * time.Second
)

// DockerEnvironment runs commands inside a detached long-lived container
// with the project root bind-mounted at the same path. Suite invocations
// relay their test events out of the container over a Unix socket in a
// shared directory; one listener is armed per suite, so a cached
// environment can run any number of suites.
type DockerEnvironment struct {
	host   *Host
	pool   *sched.Pool
	logger *slog.Logger
	root   string

	containerID string
	sockDir     string
	sockPath    string
	events      io.Writer
	cleaned     atomic.Bool
}

// StartDocker starts the container for the check's target. The relay
// socket path is baked into the container's environment; listeners for it
// are armed lazily, one per suite run.
func StartDocker(ctx context.Context, pool *sched.Pool, logger *slog.Logger, root string, check model.Check) (*DockerEnvironment, error) {
	image, err := imageForTriple(check.TargetTriple, check.HostEnv)
	if err != nil {
		return nil, err
	}

	host := NewHost(root)
	sockDir := filepath.Join(os.TempDir(), "crossrun-"+model.NewRunID())
	if err := os.MkdirAll(sockDir, 0o755); err != nil {
		return nil, fmt.Errorf("create relay socket directory: %w", err)
	}
	sockPath := filepath.Join(sockDir, "events.sock")

	containerID, err := runDetached(ctx, pool, logger, host,
		"run", "--detach",
		"--volume", root+":"+root,
		"--volume", sockDir+":"+sockDir,
		"--env", harness.EnvUnixSocket+"="+sockPath,
		"--workdir", root,
		image,
		"sh", "-c", "tail -f /dev/null",
	)
	if err != nil {
		os.RemoveAll(sockDir)
		return nil, &UnavailableError{Reason: "start check container", Err: err}
	}

	logger.Info("running check container", "container", containerID, "image", image)
	time.Sleep(containerSettleDelay)

	return &DockerEnvironment{
		host:        host,
		pool:        pool,
		logger:      logger,
		root:        root,
		containerID: containerID,
		sockDir:     sockDir,
		sockPath:    sockPath,
		events:      os.Stdout,
	}, nil
}

// RunCommand executes cmd inside the container via exec, shell-joining the
// command and arguments. Arguments must be valid text; the container
// already runs with the project root as its working directory, so a
// per-command workdir is not supported. Suite invocations (`cargo run`)
// additionally get an event relay whose outcome is folded into the
// returned command's exit.
func (d *DockerEnvironment) RunCommand(cmd string, args []string, workdir string) (proc.Command, error) {
	if workdir != "" {
		return nil, fmt.Errorf("docker environment does not support per-command working directories")
	}

	if !utf8.ValidString(cmd) {
		return nil, &harness.ProtocolError{Reason: "command is not valid text"}
	}
	for _, arg := range args {
		if !utf8.ValidString(arg) {
			return nil, &harness.ProtocolError{Reason: fmt.Sprintf("argument %q is not valid text", arg)}
		}
	}

	shCommand := filepath.Base(cmd)
	if len(args) > 0 {
		shCommand += " " + shellescape.QuoteCommand(args)
	}
	d.logger.Log(context.Background(), config.LevelTrace, "docker exec", "container", d.containerID, "command", shCommand)
	commandsSpawnedTotal.WithLabelValues(variantDocker).Inc()

	spawn := func() (proc.Command, error) {
		return proc.Start(DockerBin(), []string{"exec", d.containerID, "sh", "-c", shCommand}, d.root)
	}
	if isSuiteInvocation(cmd, args) {
		return d.relaySuite(spawn)
	}
	return spawn()
}

// isSuiteInvocation reports whether the command runs an example suite,
// which emits events over the relay socket.
func isSuiteInvocation(cmd string, args []string) bool {
	return strings.HasSuffix(filepath.Base(cmd), "cargo") && len(args) > 0 && args[0] == "run"
}

// relaySuite arms a fresh listener on the relay socket, spawns the suite,
// and returns a command whose exit combines the process outcome with the
// relayed results. The container-side process cannot carry its exit status
// back through the container engine reliably, so the relayed stream is
// what decides pass or fail.
func (d *DockerEnvironment) relaySuite(spawn func() (proc.Command, error)) (proc.Command, error) {
	reporter := harness.NewConsoleReporter(d.events)
	ready := make(chan string, 1)
	listener := d.pool.Spawn(func(ctx context.Context) error {
		return harness.RunUnixListener(ctx, d.sockPath, reporter, ready)
	})

	select {
	case <-ready:
	case <-time.After(dockerCommandTimeout):
		listener.CancelAndWait()
		return nil, fmt.Errorf("event listener did not start on %s", d.sockPath)
	}

	child, err := spawn()
	if err != nil {
		listener.CancelAndWait()
		return nil, err
	}
	return &relayCommand{child: child, listener: listener, reporter: reporter}, nil
}

// relayCommand pairs a suite process with the listener relaying its
// events.
type relayCommand struct {
	child    proc.Command
	listener *sched.Task
	reporter *harness.ConsoleReporter
}

func (c *relayCommand) Stdin() io.WriteCloser { return c.child.Stdin() }
func (c *relayCommand) Stdout() io.Reader     { return c.child.Stdout() }
func (c *relayCommand) Stderr() io.Reader     { return c.child.Stderr() }

func (c *relayCommand) Exit(ctx context.Context) error {
	err := c.child.Exit(ctx)

	// The suite's socket closes when it exits; let the relay drain, then
	// tear down a listener no client ever reached.
	drainCtx, cancel := context.WithTimeout(ctx, relayDrainTimeout)
	defer cancel()
	if awaitErr := c.listener.Await(drainCtx); awaitErr != nil {
		c.listener.CancelAndWait()
	}

	if err != nil {
		return err
	}
	if code := c.reporter.Finish(); code != 0 {
		return fmt.Errorf("containerized suite reported failure")
	}
	return nil
}

// Cleanup stops and removes the container. It runs the teardown at most
// once.
func (d *DockerEnvironment) Cleanup(ctx context.Context) error {
	if d.cleaned.Swap(true) {
		return nil
	}
	defer os.RemoveAll(d.sockDir)

	var errs []error
	for _, action := range []string{"stop", "rm"} {
		cmd, err := d.host.RunCommand(DockerBin(), []string{action, d.containerID}, "")
		if err != nil {
			errs = append(errs, fmt.Errorf("spawn docker %s: %w", action, err))
			continue
		}
		if err := proc.Run(ctx, d.pool, d.logger, "docker "+action, cmd, dockerCommandTimeout); err != nil {
			errs = append(errs, fmt.Errorf("docker %s %s: %w", action, d.containerID, err))
		}
	}
	return errors.Join(errs...)
}

// imageForTriple maps a target triple to the container image tag to run
// its checks in. Unrecognized triples are a hard failure rather than a
// silent fallback.
func imageForTriple(triple, hostEnv string) (string, error) {
	if hostEnv != "" {
		return "", &UnavailableError{Reason: fmt.Sprintf("no image for host environment %q", hostEnv)}
	}
	if !strings.Contains(triple, "linux") {
		return "", &UnavailableError{Reason: fmt.Sprintf("no container image for target %q", triple)}
	}

	switch {
	case strings.HasSuffix(triple, "gnu"):
		return checkImageRepo + ":ubuntu", nil
	case strings.HasSuffix(triple, "musl"):
		return checkImageRepo + ":alpine", nil
	default:
		return "", &UnavailableError{Reason: fmt.Sprintf("unrecognized linux variant %q", triple)}
	}
}

// runDetached runs a `docker run --detach`-style command on the host and
// returns the container ID printed on stdout. Stderr is streamed into the
// log while stdout is collected.
func runDetached(ctx context.Context, pool *sched.Pool, logger *slog.Logger, host *Host, args ...string) (string, error) {
	cmd, err := host.RunCommand(DockerBin(), args, "")
	if err != nil {
		return "", err
	}

	stderrTask := pool.Spawn(func(ctx context.Context) error {
		r := cmd.Stderr()
		if r == nil {
			return nil
		}
		data, _ := io.ReadAll(r)
		for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
			if line != "" {
				logger.Log(ctx, config.LevelTrace, line, "command", "docker run", "stream", "stderr")
			}
		}
		return nil
	})
	defer stderrTask.CancelAndWait()

	out, readErr := io.ReadAll(cmd.Stdout())

	exitCtx, cancel := context.WithTimeout(ctx, dockerCommandTimeout)
	defer cancel()
	if err := cmd.Exit(exitCtx); err != nil {
		return "", err
	}
	if readErr != nil {
		return "", fmt.Errorf("read container id: %w", readErr)
	}

	id := strings.TrimSpace(string(out))
	if id == "" {
		return "", fmt.Errorf("container engine printed no container id")
	}
	return id, nil
}
