package task

import (
	"fmt"
	"strings"
)

// PackagingError reports a local serialization failure while preparing an
// invocation. Non-retryable; the backend is never contacted.
type PackagingError struct {
	TaskName string
	Err      error
}

func (e *PackagingError) Error() string {
	return fmt.Sprintf("package task %q: %v", e.TaskName, e.Err)
}

func (e *PackagingError) Unwrap() error { return e.Err }

// ExecutionFailure reports a run that reached the FAILED terminal state. It
// carries the invocation id, the last observed state, the container exit code
// when the backend reported one, and whatever log excerpt could be fetched.
type ExecutionFailure struct {
	InvocationID string
	State        RunState
	ExitCode     *int
	LogExcerpt   []string
}

func (e *ExecutionFailure) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "invocation %s failed in state %s", e.InvocationID, e.State)
	if e.ExitCode != nil {
		fmt.Fprintf(&b, " (exit code %d)", *e.ExitCode)
	}
	if len(e.LogExcerpt) > 0 {
		fmt.Fprintf(&b, ": %s", e.LogExcerpt[len(e.LogExcerpt)-1])
	}
	return b.String()
}

// ResultCorruptionError reports a run that reached SUCCEEDED but whose result
// payload could not be decoded. Distinct from ExecutionFailure: the remote
// computation itself reported success.
type ResultCorruptionError struct {
	InvocationID string
	Err          error
}

func (e *ResultCorruptionError) Error() string {
	return fmt.Sprintf("invocation %s succeeded but result is undecodable: %v", e.InvocationID, e.Err)
}

func (e *ResultCorruptionError) Unwrap() error { return e.Err }
