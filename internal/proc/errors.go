package proc

import (
	"errors"
	"fmt"
	"time"
)

// ErrDoubleWait is returned when a command's exit is awaited after it has
// already resolved. This is a programming error in the caller, not a runtime
// condition.
var ErrDoubleWait = errors.New("command exit already awaited")

// SpawnError reports that an external tool could not be launched at all,
// for example because the binary is missing or the working directory is
// invalid.
type SpawnError struct {
	Name string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s: %v", e.Name, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// ExitStatusError reports that a process ran to completion but returned a
// failing status.
type ExitStatusError struct {
	Name string
	Code int
}

func (e *ExitStatusError) Error() string {
	return fmt.Sprintf("%s exited with status %d", e.Name, e.Code)
}

// TimeoutError reports that a process did not finish within its allotted
// duration. The child itself is not killed by the command runner; see the
// package comment.
type TimeoutError struct {
	Name    string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Name, e.Timeout)
}
