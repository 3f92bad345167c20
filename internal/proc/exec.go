package proc

import (
	"context"
	"io"
	"os/exec"
	"sync/atomic"
)

// execCommand is a Command backed by a real child process on this machine.
type execCommand struct {
	name    string
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  io.Reader
	stderr  io.Reader
	awaited atomic.Bool
}

// Start launches a child process with piped stdio. dir, when non-empty, is
// the child's working directory. Spawning is synchronous; completion is
// observed through Exit.
func Start(name string, args []string, dir string) (Command, error) {
	cmd := exec.Command(name, args...)
	cmd.Dir = dir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &SpawnError{Name: name, Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &SpawnError{Name: name, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &SpawnError{Name: name, Err: err}
	}

	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Name: name, Err: err}
	}

	return &execCommand{
		name:   name,
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
	}, nil
}

func (c *execCommand) Stdin() io.WriteCloser { return c.stdin }
func (c *execCommand) Stdout() io.Reader     { return c.stdout }
func (c *execCommand) Stderr() io.Reader     { return c.stderr }

// Exit waits for the child to terminate. Exit status zero maps to nil;
// anything else maps to an ExitStatusError carrying the raw status. Exit
// resolves at most once; a second call returns ErrDoubleWait.
func (c *execCommand) Exit(ctx context.Context) error {
	if !c.awaited.CompareAndSwap(false, true) {
		return ErrDoubleWait
	}

	done := make(chan error, 1)
	go func() { done <- c.cmd.Wait() }()

	select {
	case err := <-done:
		if err == nil {
			return nil
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			return &ExitStatusError{Name: c.name, Code: exitErr.ExitCode()}
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
