package env

import (
	"context"
	"io"
	"sync/atomic"

	"github.com/crossrun/crossrun/internal/proc"
	"github.com/crossrun/crossrun/internal/sched"
)

// noopCommand stands in for commands that are deliberately skipped. It has
// no stdio and exits successfully.
type noopCommand struct {
	awaited atomic.Bool
}

func (n *noopCommand) Stdin() io.WriteCloser { return nil }
func (n *noopCommand) Stdout() io.Reader     { return nil }
func (n *noopCommand) Stderr() io.Reader     { return nil }

func (n *noopCommand) Exit(ctx context.Context) error {
	if n.awaited.Swap(true) {
		return proc.ErrDoubleWait
	}
	return ctx.Err()
}

// taskCommand adapts an in-process task to the command interface so
// environments can hand back work that never forked a child.
type taskCommand struct {
	task    *sched.Task
	awaited atomic.Bool
}

func newTaskCommand(task *sched.Task) *taskCommand {
	return &taskCommand{task: task}
}

func (t *taskCommand) Stdin() io.WriteCloser { return nil }
func (t *taskCommand) Stdout() io.Reader     { return nil }
func (t *taskCommand) Stderr() io.Reader     { return nil }

func (t *taskCommand) Exit(ctx context.Context) error {
	if t.awaited.Swap(true) {
		return proc.ErrDoubleWait
	}
	return t.task.Await(ctx)
}
