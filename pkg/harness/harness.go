// Package harness is the in-process test driver for suites that run on
// arbitrary execution targets. It executes test bodies with panic
// isolation, emits a well-nested stream of lifecycle events, and ships
// them to a reporter chosen for the target: an interactive console, a
// length-prefixed socket stream back to the orchestrator, or marker lines
// embedded in standard output where no socket is reachable.
package harness

import (
	"os"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Environment variables consulted by RunTests when picking a reporter.
const (
	// EnvTCPAddress directs events to a TCP listener.
	EnvTCPAddress = "CROSSRUN_TEST_TCP_ADDRESS"
	// EnvUnixSocket directs events to a Unix-domain listener.
	EnvUnixSocket = "CROSSRUN_TEST_UDS_SOCKET"
	// EnvConnectTimeout overrides the stream connect timeout, in seconds.
	EnvConnectTimeout = "CROSSRUN_TEST_CONNECT_TIMEOUT"
)

const defaultConnectTimeout = 15 * time.Second

// unintelligiblePanic replaces panic payloads that carry no usable text.
const unintelligiblePanic = "<unintelligible panic>"

// TestHarness executes test closures and reports their outcomes. Methods
// may be called from multiple goroutines.
type TestHarness struct {
	mu       sync.Mutex
	reporter Reporter
	count    atomic.Int64
}

// New creates a harness reporting to the given reporter.
func New(reporter Reporter) *TestHarness {
	return &TestHarness{reporter: reporter}
}

// Group emits a BeginGroup event, runs body, and closes the group. Tests
// invoked inside body nest within the group.
func (h *TestHarness) Group(name string, count int, body func()) {
	h.report(BeginGroup(name, count))
	body()
	h.report(EndGroup(name))
}

// Test runs one test body with panic isolation and emits exactly one
// Result event. A panicking body becomes a failed result carrying the
// panic's message.
func (h *TestHarness) Test(name string, body func()) {
	h.count.Add(1)

	failure, panicked := runIsolated(body)
	if panicked {
		h.report(Result(name, StatusFailed, failure))
		return
	}
	h.report(Result(name, StatusSuccess, ""))
}

func (h *TestHarness) report(ev TestEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reporter.Report(ev)
}

// runIsolated executes body, converting a panic into failure text.
func runIsolated(body func()) (failure string, panicked bool) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		panicked = true
		switch v := r.(type) {
		case string:
			failure = v
		case error:
			failure = v.Error()
		default:
			failure = unintelligiblePanic
		}
	}()

	body()
	return "", false
}

// RunTests selects a reporter for the current target, runs f with a fresh
// harness, emits the final End event, and terminates the process with the
// reporter's exit code.
//
// Reporter priority: a configured TCP address, else (off Windows) a
// configured Unix socket path, else a stdout dump reporter on mobile
// targets, else the interactive console.
func RunTests(f func(*TestHarness)) {
	h := New(selectReporter())

	f(h)

	h.report(End(int(h.count.Load())))
	os.Exit(h.reporter.Finish())
}

func selectReporter() Reporter {
	timeout := defaultConnectTimeout
	if v := os.Getenv(EnvConnectTimeout); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			timeout = time.Duration(secs) * time.Second
		}
	}

	if addr := os.Getenv(EnvTCPAddress); addr != "" {
		r, err := DialStream("tcp", addr, timeout)
		if err != nil {
			panic("harness: connect to TCP listener: " + err.Error())
		}
		return r
	}

	if runtime.GOOS != "windows" {
		if path := os.Getenv(EnvUnixSocket); path != "" {
			r, err := DialStream("unix", path, timeout)
			if err != nil {
				panic("harness: connect to Unix socket: " + err.Error())
			}
			return r
		}
	}

	if runtime.GOOS == "android" || runtime.GOOS == "ios" {
		return NewDumpReporter(os.Stdout)
	}

	return NewConsoleReporter(os.Stdout)
}
