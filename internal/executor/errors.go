package executor

import (
	"errors"
	"fmt"
)

var (
	ErrJobNotFound      = errors.New("executor: job not found")
	ErrAlreadyRunning   = errors.New("executor: job already running")
	ErrExecutionTimeout = errors.New("executor: execution timed out")
	ErrQueueFull        = errors.New("executor: dispatch queue full")
	ErrStopped          = errors.New("executor: pool stopped")
)

// ExecutionError describes a worker that ran to completion but failed, or a
// failure inside the supervisor itself (ExitCode is then 0 and Err is set).
type ExecutionError struct {
	ExitCode int
	Err      error
}

func (e *ExecutionError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("worker exited with code %d", e.ExitCode)
}

func (e *ExecutionError) Unwrap() error { return e.Err }
