package asyncprof

import (
	"errors"
	"fmt"
	"strings"
)

// ErrAlreadyRunning reports that a profiler was already active in the process.
// Sessions recover from it once by stopping the foreign profiler.
var ErrAlreadyRunning = errors.New("async-profiler already running")

// AttachError is a failed agent command: the attach helper could not run, timed
// out, or the agent refused the command.
type AttachError struct {
	PID      int
	Action   Action
	ExitCode int
	Log      string
	Err      error
}

func (e *AttachError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "async-profiler %s failed on pid %d", e.Action, e.PID)
	if e.ExitCode != 0 {
		fmt.Fprintf(&b, " (exit code %d)", e.ExitCode)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if log := strings.TrimSpace(e.Log); log != "" {
		fmt.Fprintf(&b, ": %s", log)
	}
	return b.String()
}

func (e *AttachError) Unwrap() error { return e.Err }

// OutputMissingError reports that the agent never produced its output file.
type OutputMissingError struct {
	Path string
}

func (e *OutputMissingError) Error() string {
	return fmt.Sprintf("async-profiler output file %s was not created", e.Path)
}

// StateError is an operation attempted in a state that does not allow it.
type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s session in state %s", e.Op, e.State)
}
