package env

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/crossrun/crossrun/internal/config"
	"github.com/crossrun/crossrun/internal/proc"
	"github.com/crossrun/crossrun/internal/sched"
	"github.com/crossrun/crossrun/pkg/harness"
)

const (
	androidEmulatorImage = "us-docker.pkg.dev/android-emulator-268719/images/30-google-x64:30.1.2"

	// The emulator container forwards its ADB port here.
	adbAddress = "localhost:15555"

	adbConnectAttempts = 5
	adbConnectBackoff  = 2 * time.Second

	bootPollAttempts = 240
	bootPollBackoff  = 2 * time.Second

	shortCommandTimeout = 10 * time.Second
	deviceWaitTimeout   = 5 * time.Minute

	envAndroidManifest     = "CROSSRUN_ANDROID_MANIFEST"
	defaultAndroidManifest = "Cargo.toml"
)

// AndroidEnvironment drives on-device test runs through a Docker-hosted
// emulator and ADB. The emulator boots lazily on the first command that
// needs it.
type AndroidEnvironment struct {
	host   *Host
	pool   *sched.Pool
	logger *slog.Logger
	root   string

	mu          sync.Mutex
	containerID string
	ready       bool
	cleaned     bool
}

// NewAndroid creates an Android environment. Nothing is started until a
// deployable command runs.
func NewAndroid(pool *sched.Pool, logger *slog.Logger, root string) *AndroidEnvironment {
	return &AndroidEnvironment{
		host:   NewHost(root),
		pool:   pool,
		logger: logger,
		root:   root,
	}
}

// RunCommand special-cases the two build-tool shapes that reach this
// environment. `cargo test` cannot run on-device and becomes a warning
// no-op; `cargo run --example` deploys through the device-deployment tool
// and scrapes the device output for embedded test events. Anything else is
// rejected.
func (a *AndroidEnvironment) RunCommand(cmd string, args []string, workdir string) (proc.Command, error) {
	if workdir != "" {
		return nil, fmt.Errorf("android environment does not support per-command working directories")
	}

	isCargo := strings.HasSuffix(filepath.Base(cmd), "cargo")
	if isCargo && len(args) > 0 && args[0] == "test" {
		a.logger.Warn("cannot run `cargo test` on Android, ignoring")
		return &noopCommand{}, nil
	}

	if isCargo && len(args) > 0 && args[0] == "run" {
		commandsSpawnedTotal.WithLabelValues(variantAndroid).Inc()
		task := a.pool.Spawn(a.deployAndScrape)
		return newTaskCommand(task), nil
	}

	return nil, fmt.Errorf("unable to run command on Android: %s %s", cmd, strings.Join(args, " "))
}

// deployAndScrape cross-compiles and deploys the example via the
// deployment tool, then scans its combined output for marker payloads and
// feeds them into a local reporter so on-device results surface identically
// to a local run.
func (a *AndroidEnvironment) deployAndScrape(ctx context.Context) error {
	if err := a.ensureEmulator(ctx); err != nil {
		return err
	}

	manifest := os.Getenv(envAndroidManifest)
	if manifest == "" {
		manifest = defaultAndroidManifest
	}

	xbuild, err := a.host.RunCommand(XbuildBin(), []string{
		"run",
		"--device", "adb:" + adbAddress,
		"--arch", "arm64",
		"--manifest-path", manifest,
	}, "")
	if err != nil {
		return err
	}

	lines := make(chan string)
	var feeders sync.WaitGroup
	feedLines := func(stream string, r io.Reader) *sched.Task {
		feeders.Add(1)
		return a.pool.Spawn(func(ctx context.Context) error {
			defer feeders.Done()
			if r == nil {
				return nil
			}
			scanner := bufio.NewScanner(r)
			for scanner.Scan() {
				line := scanner.Text()
				a.logger.Log(ctx, config.LevelTrace, line, "command", "xbuild", "stream", stream)
				select {
				case lines <- line:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			return scanner.Err()
		})
	}

	stdoutTask := feedLines("stdout", xbuild.Stdout())
	stderrTask := feedLines("stderr", xbuild.Stderr())
	go func() {
		feeders.Wait()
		close(lines)
	}()

	exitTask := a.pool.Spawn(xbuild.Exit)

	reporter := harness.NewConsoleReporter(os.Stdout)
	scrapeErr := scrapeEvents(ctx, lines, reporter)

	// The deployment process may outlive the End event; only a real
	// failure that has already surfaced matters.
	exitTask.Cancel()
	if err := exitTask.Await(ctx); err != nil && ctx.Err() == nil && !errors.Is(err, context.Canceled) {
		return err
	}
	// The feeders unblock once the deploy process closes its pipes; do not
	// wait on that here.
	stdoutTask.Cancel()
	stderrTask.Cancel()

	if scrapeErr != nil {
		return scrapeErr
	}
	if code := reporter.Finish(); code != 0 {
		return fmt.Errorf("on-device tests reported failure")
	}
	return nil
}

func scrapeEvents(ctx context.Context, lines <-chan string, reporter harness.Reporter) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			ev, found, err := harness.ParseDumpLine(line)
			if err != nil {
				return err
			}
			if !found {
				continue
			}
			reporter.Report(ev)
			if ev.Type == harness.EventEnd {
				return nil
			}
		}
	}
}

// ensureEmulator boots the emulator container once and waits for the
// device to come fully online.
func (a *AndroidEnvironment) ensureEmulator(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ready {
		return nil
	}

	// Record the container as soon as it exists so Cleanup can remove it
	// even when the ADB setup below fails partway. A retry resumes from
	// the surviving container instead of starting a second one.
	if a.containerID == "" {
		adbkey, err := readADBKey()
		if err != nil {
			return &UnavailableError{Reason: "read adb signing key", Err: err}
		}

		containerID, err := runDetached(ctx, a.pool, a.logger, a.host,
			"run", "--detach",
			"-e", "ADBKEY="+adbkey,
			"--device", "/dev/kvm",
			"--publish", "8554:8554/tcp",
			"--publish", "15555:5555/tcp",
			androidEmulatorImage,
		)
		if err != nil {
			return &UnavailableError{Reason: "start emulator container", Err: err}
		}
		a.containerID = containerID
		a.logger.Info("running emulator container", "container", containerID)
		time.Sleep(containerSettleDelay)
	}

	if err := a.connectADB(ctx); err != nil {
		return err
	}
	if err := a.runADB(ctx, deviceWaitTimeout, "wait-for-device"); err != nil {
		return &UnavailableError{Reason: "wait for device", Err: err}
	}
	if err := a.waitForBoot(ctx); err != nil {
		return err
	}

	a.ready = true
	return nil
}

// connectADB connects the bridge to the emulator's forwarded port with a
// fixed retry budget; exhausting it is terminal.
func (a *AndroidEnvironment) connectADB(ctx context.Context) error {
	var lastErr error
	for attempt := 0; attempt < adbConnectAttempts; attempt++ {
		lastErr = a.runADB(ctx, shortCommandTimeout, "connect", adbAddress)
		if lastErr == nil {
			return nil
		}
		if attempt < adbConnectAttempts-1 {
			a.logger.Error("adb connect failed, retrying", "error", lastErr)
			select {
			case <-time.After(adbConnectBackoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return &UnavailableError{
		Reason: fmt.Sprintf("adb connect failed after %d attempts", adbConnectAttempts),
		Err:    lastErr,
	}
}

// waitForBoot polls sys.boot_completed until the device reports 1, with a
// bounded attempt count.
func (a *AndroidEnvironment) waitForBoot(ctx context.Context) error {
	for attempt := 0; attempt < bootPollAttempts; attempt++ {
		out, err := a.adbOutput(ctx, "shell", "getprop", "sys.boot_completed")
		if err != nil {
			return &UnavailableError{Reason: "query boot status", Err: err}
		}
		if strings.HasPrefix(strings.TrimSpace(out), "1") {
			return nil
		}
		select {
		case <-time.After(bootPollBackoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return &UnavailableError{
		Reason: fmt.Sprintf("device did not finish booting after %d attempts", bootPollAttempts),
	}
}

func (a *AndroidEnvironment) runADB(ctx context.Context, timeout time.Duration, args ...string) error {
	cmd, err := a.host.RunCommand(AdbBin(), args, "")
	if err != nil {
		return err
	}
	return proc.Run(ctx, a.pool, a.logger, "adb "+args[0], cmd, timeout)
}

// adbOutput runs adb and returns its stdout.
func (a *AndroidEnvironment) adbOutput(ctx context.Context, args ...string) (string, error) {
	cmd, err := a.host.RunCommand(AdbBin(), args, "")
	if err != nil {
		return "", err
	}

	out, readErr := io.ReadAll(cmd.Stdout())

	exitCtx, cancel := context.WithTimeout(ctx, shortCommandTimeout)
	defer cancel()
	if err := cmd.Exit(exitCtx); err != nil {
		return "", err
	}
	if readErr != nil {
		return "", readErr
	}
	return string(out), nil
}

func readADBKey() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(filepath.Join(home, ".android", "adbkey"))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Cleanup stops and removes the emulator container if one was ever
// started.
func (a *AndroidEnvironment) Cleanup(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cleaned || a.containerID == "" {
		a.cleaned = true
		return nil
	}
	a.cleaned = true

	for _, action := range []string{"stop", "rm"} {
		cmd, err := a.host.RunCommand(DockerBin(), []string{action, a.containerID}, "")
		if err != nil {
			return fmt.Errorf("spawn docker %s: %w", action, err)
		}
		if err := proc.Run(ctx, a.pool, a.logger, "docker "+action, cmd, dockerCommandTimeout); err != nil {
			return fmt.Errorf("docker %s %s: %w", action, a.containerID, err)
		}
	}
	return nil
}
