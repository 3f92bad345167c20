package env

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/crossrun/crossrun/internal/model"
	"github.com/crossrun/crossrun/internal/proc"
	"github.com/crossrun/crossrun/internal/sched"
	"github.com/crossrun/crossrun/pkg/harness"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestPool(t *testing.T) *sched.Pool {
	t.Helper()
	pool := sched.NewPool(context.Background())
	t.Cleanup(pool.Shutdown)
	return pool
}

// fakeEnvironment records lifecycle calls for cache tests.
type fakeEnvironment struct {
	cleanups   int
	cleanupErr error
}

func (f *fakeEnvironment) RunCommand(cmd string, args []string, workdir string) (proc.Command, error) {
	return &noopCommand{}, nil
}

func (f *fakeEnvironment) Cleanup(ctx context.Context) error {
	f.cleanups++
	return f.cleanupErr
}

func TestImageForTriple(t *testing.T) {
	tests := []struct {
		name    string
		triple  string
		hostEnv string
		want    string
		wantErr bool
	}{
		{name: "gnu", triple: "x86_64-unknown-linux-gnu", want: checkImageRepo + ":ubuntu"},
		{name: "musl", triple: "x86_64-unknown-linux-musl", want: checkImageRepo + ":alpine"},
		{name: "arm gnu", triple: "aarch64-unknown-linux-gnu", want: checkImageRepo + ":ubuntu"},
		{name: "non-linux", triple: "x86_64-pc-windows-msvc", wantErr: true},
		{name: "unknown linux variant", triple: "x86_64-unknown-linux-uclibc", wantErr: true},
		{name: "host env set", triple: "x86_64-unknown-linux-gnu", hostEnv: "wayland", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := imageForTriple(tt.triple, tt.hostEnv)
			if tt.wantErr {
				var unavail *UnavailableError
				if !errors.As(err, &unavail) {
					t.Fatalf("imageForTriple(%q, %q) error = %v, want UnavailableError", tt.triple, tt.hostEnv, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("imageForTriple(%q, %q) error = %v", tt.triple, tt.hostEnv, err)
			}
			if got != tt.want {
				t.Errorf("imageForTriple(%q, %q) = %q, want %q", tt.triple, tt.hostEnv, got, tt.want)
			}
		})
	}
}

func TestDockerRunCommandRejectsInvalidArguments(t *testing.T) {
	d := &DockerEnvironment{
		host:        NewHost(t.TempDir()),
		logger:      discardLogger(),
		containerID: "deadbeef",
	}

	if _, err := d.RunCommand("cargo", []string{"test"}, "/elsewhere"); err == nil {
		t.Error("RunCommand with a working directory should fail")
	}

	var protoErr *harness.ProtocolError
	if _, err := d.RunCommand("cargo", []string{"test", "--features", string([]byte{0xff, 0xfe})}, ""); !errors.As(err, &protoErr) {
		t.Errorf("RunCommand with invalid text argument error = %v, want ProtocolError", err)
	}
	if _, err := d.RunCommand(string([]byte{0xff}), nil, ""); !errors.As(err, &protoErr) {
		t.Errorf("RunCommand with invalid text command error = %v, want ProtocolError", err)
	}
}

func TestDockerRelayDecidesSuiteOutcome(t *testing.T) {
	d := &DockerEnvironment{
		pool:     newTestPool(t),
		logger:   discardLogger(),
		sockPath: filepath.Join(t.TempDir(), "events.sock"),
		events:   io.Discard,
	}

	// The in-container process always exits cleanly; only the relayed
	// events carry the verdict.
	runSuite := func(status harness.TestStatus) error {
		t.Helper()
		cmd, err := d.relaySuite(func() (proc.Command, error) {
			return newTaskCommand(d.pool.Spawn(func(ctx context.Context) error {
				rep, err := harness.DialStream("unix", d.sockPath, time.Second)
				if err != nil {
					return err
				}
				rep.Report(harness.Result("swipe", status, "assertion failed"))
				rep.Report(harness.End(1))
				rep.Finish()
				return nil
			})), nil
		})
		if err != nil {
			t.Fatalf("relaySuite() error = %v", err)
		}
		return cmd.Exit(context.Background())
	}

	if err := runSuite(harness.StatusFailed); err == nil {
		t.Error("Exit() after a failed suite should report an error")
	}
	// The same environment must serve a second suite on a fresh listener.
	if err := runSuite(harness.StatusSuccess); err != nil {
		t.Errorf("Exit() after a passing second suite error = %v", err)
	}
}

func TestNoopCommandExitsOnce(t *testing.T) {
	cmd := &noopCommand{}
	if err := cmd.Exit(context.Background()); err != nil {
		t.Fatalf("first Exit error = %v", err)
	}
	if err := cmd.Exit(context.Background()); !errors.Is(err, proc.ErrDoubleWait) {
		t.Fatalf("second Exit error = %v, want ErrDoubleWait", err)
	}
}

func TestTaskCommandPropagatesTaskError(t *testing.T) {
	pool := newTestPool(t)
	wantErr := errors.New("deploy failed")
	cmd := newTaskCommand(pool.Spawn(func(ctx context.Context) error { return wantErr }))

	if err := cmd.Exit(context.Background()); !errors.Is(err, wantErr) {
		t.Fatalf("Exit error = %v, want %v", err, wantErr)
	}
	if err := cmd.Exit(context.Background()); !errors.Is(err, proc.ErrDoubleWait) {
		t.Fatalf("second Exit error = %v, want ErrDoubleWait", err)
	}
}

func TestCacheReturnsCachedEnvironment(t *testing.T) {
	c := NewCache(newTestPool(t), discardLogger())
	check := model.Check{TargetTriple: "x86_64-unknown-linux-gnu", HostEnv: "x11"}
	fake := &fakeEnvironment{}
	c.envs[Key{TargetTriple: check.TargetTriple, HostEnv: check.HostEnv}] = fake

	got, err := c.Choose(context.Background(), t.TempDir(), check)
	if err != nil {
		t.Fatalf("Choose() error = %v", err)
	}
	if got != Environment(fake) {
		t.Error("Choose() did not return the cached environment")
	}
}

func TestCacheChoosesHostForMatchingTriple(t *testing.T) {
	c := NewCache(newTestPool(t), discardLogger())
	c.tripleOnce.Do(func() { c.triple = "x86_64-unknown-linux-gnu" })

	got, err := c.Choose(context.Background(), t.TempDir(), model.Check{TargetTriple: "x86_64-unknown-linux-gnu"})
	if err != nil {
		t.Fatalf("Choose() error = %v", err)
	}
	if _, ok := got.(*Host); !ok {
		t.Errorf("Choose() = %T, want *Host", got)
	}

	// A second call for the same key must reuse the live environment.
	again, err := c.Choose(context.Background(), t.TempDir(), model.Check{TargetTriple: "x86_64-unknown-linux-gnu"})
	if err != nil {
		t.Fatalf("second Choose() error = %v", err)
	}
	if again != got {
		t.Error("second Choose() constructed a new environment")
	}
}

func TestCacheRejectsUnmatchableTargets(t *testing.T) {
	c := NewCache(newTestPool(t), discardLogger())
	c.tripleOnce.Do(func() { c.triple = "x86_64-pc-windows-msvc" })

	_, err := c.Choose(context.Background(), t.TempDir(), model.Check{TargetTriple: "aarch64-apple-darwin"})
	var unavail *UnavailableError
	if !errors.As(err, &unavail) {
		t.Fatalf("Choose() error = %v, want UnavailableError", err)
	}
}

func TestCleanupAllAttemptsEveryEnvironment(t *testing.T) {
	c := NewCache(newTestPool(t), discardLogger())
	failing := &fakeEnvironment{cleanupErr: errors.New("stop failed")}
	ok1 := &fakeEnvironment{}
	ok2 := &fakeEnvironment{}
	c.envs[Key{TargetTriple: "a"}] = failing
	c.envs[Key{TargetTriple: "b"}] = ok1
	c.envs[Key{TargetTriple: "c"}] = ok2

	if err := c.CleanupAll(context.Background()); !errors.Is(err, failing.cleanupErr) {
		t.Fatalf("CleanupAll() error = %v, want %v", err, failing.cleanupErr)
	}
	for i, f := range []*fakeEnvironment{failing, ok1, ok2} {
		if f.cleanups != 1 {
			t.Errorf("environment %d cleaned up %d times, want 1", i, f.cleanups)
		}
	}
	if len(c.envs) != 0 {
		t.Errorf("cache still holds %d environments after CleanupAll", len(c.envs))
	}

	if err := c.CleanupAll(context.Background()); err != nil {
		t.Fatalf("CleanupAll() on empty cache error = %v", err)
	}
}

func TestHostRunCommandDefaultsToRoot(t *testing.T) {
	root := t.TempDir()
	h := NewHost(root)

	cmd, err := h.RunCommand("sh", []string{"-c", "pwd"}, "")
	if err != nil {
		t.Fatalf("RunCommand() error = %v", err)
	}
	out, err := io.ReadAll(cmd.Stdout())
	if err != nil {
		t.Fatalf("read stdout: %v", err)
	}
	if err := cmd.Exit(context.Background()); err != nil {
		t.Fatalf("Exit() error = %v", err)
	}

	got, want := strings.TrimSpace(string(out)), root
	// TempDir may sit behind a symlink on some systems.
	if resolved, err := filepath.EvalSymlinks(want); err == nil {
		want = resolved
	}
	if got != want {
		t.Errorf("command ran in %q, want %q", got, want)
	}
}

func TestHostTripleProbesCompiler(t *testing.T) {
	script := filepath.Join(t.TempDir(), "fake-rustc")
	content := "#!/bin/sh\nprintf 'rustc 1.80.0 (abc 2024-07-21)\\nhost: riscv64gc-unknown-linux-gnu\\nrelease: 1.80.0\\n'\n"
	if err := os.WriteFile(script, []byte(content), fs.FileMode(0o755)); err != nil {
		t.Fatal(err)
	}
	t.Setenv("RUSTC", script)

	c := NewCache(newTestPool(t), discardLogger())
	got, err := c.HostTriple(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("HostTriple() error = %v", err)
	}
	if got != "riscv64gc-unknown-linux-gnu" {
		t.Errorf("HostTriple() = %q, want %q", got, "riscv64gc-unknown-linux-gnu")
	}
}

func TestHostTripleRequiresHostLine(t *testing.T) {
	script := filepath.Join(t.TempDir(), "fake-rustc")
	if err := os.WriteFile(script, []byte("#!/bin/sh\necho rustc 1.80.0\n"), fs.FileMode(0o755)); err != nil {
		t.Fatal(err)
	}
	t.Setenv("RUSTC", script)

	c := NewCache(newTestPool(t), discardLogger())
	if _, err := c.HostTriple(context.Background(), t.TempDir()); err == nil {
		t.Fatal("HostTriple() should fail when the compiler reports no host")
	}
}

func TestToolOverrides(t *testing.T) {
	t.Setenv("CARGO", "/opt/rust/bin/cargo")
	if got := CargoBin(); got != "/opt/rust/bin/cargo" {
		t.Errorf("CargoBin() = %q, want override", got)
	}
	t.Setenv("CARGO", "")
	if got := CargoBin(); got != "cargo" {
		t.Errorf("CargoBin() = %q, want default", got)
	}
}

func TestAndroidIgnoresUnitTests(t *testing.T) {
	a := NewAndroid(newTestPool(t), discardLogger(), t.TempDir())

	cmd, err := a.RunCommand("cargo", []string{"test", "--workspace"}, "")
	if err != nil {
		t.Fatalf("RunCommand() error = %v", err)
	}
	if _, ok := cmd.(*noopCommand); !ok {
		t.Errorf("RunCommand() = %T, want *noopCommand", cmd)
	}
	if err := cmd.Exit(context.Background()); err != nil {
		t.Errorf("Exit() error = %v", err)
	}
}

func TestAndroidRejectsArbitraryCommands(t *testing.T) {
	a := NewAndroid(newTestPool(t), discardLogger(), t.TempDir())

	if _, err := a.RunCommand("rustfmt", []string{"--check"}, ""); err == nil {
		t.Error("RunCommand with a non-deployable command should fail")
	}
	if _, err := a.RunCommand("cargo", []string{"build"}, "/elsewhere"); err == nil {
		t.Error("RunCommand with a working directory should fail")
	}
}

func TestAndroidCleanupStopsPartiallyStartedEmulator(t *testing.T) {
	home := t.TempDir()
	if err := os.MkdirAll(filepath.Join(home, ".android"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(home, ".android", "adbkey"), []byte("key"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("HOME", home)

	argLog := filepath.Join(t.TempDir(), "docker-args")
	docker := filepath.Join(t.TempDir(), "fake-docker")
	dockerBody := "#!/bin/sh\necho \"$@\" >> " + argLog + "\ncase \"$1\" in run) echo deadbeef;; esac\n"
	if err := os.WriteFile(docker, []byte(dockerBody), 0o755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DOCKER", docker)

	// The bridge connects, then provisioning dies waiting for the device.
	adb := filepath.Join(t.TempDir(), "fake-adb")
	if err := os.WriteFile(adb, []byte("#!/bin/sh\ncase \"$*\" in connect*) exit 0;; *) exit 1;; esac\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ADB", adb)

	a := NewAndroid(newTestPool(t), discardLogger(), t.TempDir())
	var unavail *UnavailableError
	if err := a.ensureEmulator(context.Background()); !errors.As(err, &unavail) {
		t.Fatalf("ensureEmulator() error = %v, want UnavailableError", err)
	}
	if err := a.Cleanup(context.Background()); err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}

	data, err := os.ReadFile(argLog)
	if err != nil {
		t.Fatalf("read docker invocations: %v", err)
	}
	invocations := strings.Split(strings.TrimSpace(string(data)), "\n")
	var sawStop, sawRm bool
	for _, line := range invocations {
		switch {
		case strings.HasPrefix(line, "stop deadbeef"):
			sawStop = true
		case strings.HasPrefix(line, "rm deadbeef"):
			sawRm = true
		}
	}
	if !sawStop || !sawRm {
		t.Errorf("container left behind after failed provisioning; docker calls:\n%s", strings.Join(invocations, "\n"))
	}
}

func TestScrapeEventsStopsAtEnd(t *testing.T) {
	lines := make(chan string, 4)
	lines <- "plain device log output"
	lines <- harness.FormatDumpLine(harness.Result("swipe", harness.StatusSuccess, ""))
	lines <- harness.FormatDumpLine(harness.End(1))
	lines <- "trailing output that must not be consumed"

	rep := harness.NewConsoleReporter(io.Discard)
	if err := scrapeEvents(context.Background(), lines, rep); err != nil {
		t.Fatalf("scrapeEvents() error = %v", err)
	}
	if code := rep.Finish(); code != 0 {
		t.Errorf("Finish() = %d, want 0", code)
	}
	if len(lines) != 1 {
		t.Errorf("%d lines left in channel, want 1", len(lines))
	}
}
