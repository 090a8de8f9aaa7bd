package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"time"

	"github.com/kumar-ayush101/prompt-scheduler/internal/models"
)

// Invocation identifies the run a worker executes.
type Invocation struct {
	Job   *models.Job
	RunID int64
}

// Result is what the worker left behind. A non-zero ExitCode is a failed job,
// not an Invoke error.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Invoker runs one job body. Invoke returns an error only when the worker could
// not be started or ctx ended first; in the latter case the error wraps ctx.Err().
type Invoker interface {
	Invoke(ctx context.Context, inv Invocation) (Result, error)
}

// ProcessInvoker runs each job in a child process: the executable is started as
// `<executable> <args...> worker --job-id N --run-id M`.
type ProcessInvoker struct {
	executable string
	args       []string
	// Env is the child environment; nil inherits the parent's.
	Env []string
	// WaitDelay bounds how long a killed worker may hold its output pipes.
	WaitDelay time.Duration
}

func NewProcessInvoker(executable string, args ...string) *ProcessInvoker {
	return &ProcessInvoker{executable: executable, args: args, WaitDelay: 5 * time.Second}
}

func (p *ProcessInvoker) Invoke(ctx context.Context, inv Invocation) (Result, error) {
	args := append([]string{}, p.args...)
	args = append(args, "worker",
		"--job-id", strconv.FormatInt(inv.Job.ID, 10),
		"--run-id", strconv.FormatInt(inv.RunID, 10))

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, p.executable, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Env = p.Env
	cmd.WaitDelay = p.WaitDelay

	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if ctx.Err() != nil {
		return res, fmt.Errorf("executor: worker for run %d: %w", inv.RunID, ctx.Err())
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("executor: start worker: %w", err)
	}
	return res, nil
}

// JobRunner is the worker body run by InProcessInvoker.
type JobRunner interface {
	Run(ctx context.Context, jobID, runID int64, stdout, stderr io.Writer) error
}

// InProcessInvoker runs the worker body on a goroutine of this process. It
// gives up waiting when ctx ends even if the runner does not return.
type InProcessInvoker struct {
	runner JobRunner
}

func NewInProcessInvoker(r JobRunner) *InProcessInvoker {
	return &InProcessInvoker{runner: r}
}

func (p *InProcessInvoker) Invoke(ctx context.Context, inv Invocation) (Result, error) {
	done := make(chan Result, 1)
	go func() {
		var stdout, stderr bytes.Buffer
		res := Result{}
		func() {
			defer func() {
				if r := recover(); r != nil {
					fmt.Fprintf(&stderr, "panic: %v\n", r)
					res.ExitCode = 2
				}
			}()
			if err := p.runner.Run(ctx, inv.Job.ID, inv.RunID, &stdout, &stderr); err != nil {
				fmt.Fprintf(&stderr, "error: %v\n", err)
				res.ExitCode = 1
			}
		}()
		res.Stdout, res.Stderr = stdout.String(), stderr.String()
		done <- res
	}()

	select {
	case res := <-done:
		if ctx.Err() != nil {
			return res, fmt.Errorf("executor: worker for run %d: %w", inv.RunID, ctx.Err())
		}
		return res, nil
	case <-ctx.Done():
		return Result{}, fmt.Errorf("executor: worker for run %d: %w", inv.RunID, ctx.Err())
	}
}
