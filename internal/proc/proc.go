// Package proc executes one external process at a time: it streams the
// child's output into the structured log, enforces an optional timeout by
// racing a timer against process exit, and translates the exit status into
// an error.
//
// A timed-out child is deliberately left running; only its monitoring tasks
// are torn down. Environments that manage their own processes (Docker, the
// emulator) stop them reliably during Cleanup instead.
package proc

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/crossrun/crossrun/internal/config"
	"github.com/crossrun/crossrun/internal/sched"
)

// Command is a spawned child process, or something that behaves like one.
// The stdio accessors may return nil when the underlying transport does not
// expose that stream.
type Command interface {
	Stdin() io.WriteCloser
	Stdout() io.Reader
	Stderr() io.Reader

	// Exit blocks until the process terminates, returning nil on exit
	// status zero. It must be awaited at most once; awaiting a resolved
	// exit returns ErrDoubleWait.
	Exit(ctx context.Context) error
}

// Run drives cmd to completion. Stdout lines are logged at trace level and
// stderr lines at info level, each tagged with name; partial trailing lines
// are flushed at stream end. When timeout is non-zero and fires before the
// process exits, Run fails with a TimeoutError. On any outcome the two
// log-draining tasks are canceled so no orphaned readers remain.
func Run(ctx context.Context, pool *sched.Pool, logger *slog.Logger, name string, cmd Command, timeout time.Duration) error {
	// No command in this system needs interactive stdin.
	if stdin := cmd.Stdin(); stdin != nil {
		stdin.Close()
	}

	stdoutTask := pool.Spawn(drainLines(logger, name, "stdout", config.LevelTrace, cmd.Stdout()))
	stderrTask := pool.Spawn(drainLines(logger, name, "stderr", slog.LevelInfo, cmd.Stderr()))

	waitCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	// The pipes reach EOF when the process exits. Both streams must be
	// drained fully before the exit status is observed: waiting on the
	// child closes its pipes, so reads have to finish first, and the
	// drains are what flush trailing output.
	for _, t := range []*sched.Task{stdoutTask, stderrTask} {
		err := t.Await(waitCtx)
		switch {
		case err == nil:
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			// The timer won the race. The child stays alive; reap its
			// status in the background whenever it eventually exits.
			stdoutTask.Cancel()
			stderrTask.Cancel()
			go cmd.Exit(context.Background())
			return &TimeoutError{Name: name, Timeout: timeout}
		case ctx.Err() != nil:
			stdoutTask.Cancel()
			stderrTask.Cancel()
			return ctx.Err()
		default:
			logger.Warn("output stream ended abnormally", "command", name, "error", err)
		}
	}

	exitTask := pool.Spawn(cmd.Exit)
	err := exitTask.Await(waitCtx)
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		exitTask.Cancel()
		return &TimeoutError{Name: name, Timeout: timeout}
	}
	return err
}

// drainLines returns a task body that copies r line-by-line into the log.
// The blocking reads happen on an inner goroutine so that cancellation can
// abandon the stream; the goroutine itself winds down when the pipe closes.
func drainLines(logger *slog.Logger, name, stream string, level slog.Level, r io.Reader) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if r == nil {
			return nil
		}

		type chunk struct {
			line string
			err  error
		}
		lines := make(chan chunk)

		go func() {
			defer close(lines)
			br := bufio.NewReader(r)
			for {
				line, err := br.ReadString('\n')
				line = strings.TrimRight(line, "\r\n")
				if line != "" {
					select {
					case lines <- chunk{line: line}:
					case <-ctx.Done():
						return
					}
				}
				if err != nil {
					if !errors.Is(err, io.EOF) {
						select {
						case lines <- chunk{err: err}:
						case <-ctx.Done():
						}
					}
					return
				}
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case c, ok := <-lines:
				if !ok {
					return nil
				}
				if c.err != nil {
					return c.err
				}
				logger.Log(ctx, level, c.line, "command", name, "stream", stream)
			}
		}
	}
}
