package render

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"
)

// CommandSpec describes one external process.
type CommandSpec struct {
	Name string
	Args []string
	Dir  string
	Env  []string // nil inherits the current environment
}

// CommandResult is the outcome of a process that was started.
type CommandResult struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	TimedOut bool
}

// Executor runs external processes.
//
// Run returns a nil error when the process ran to completion, whatever its
// exit code. It returns the context error when the context ended first, and
// the start error when the process could not be started.
type Executor interface {
	Run(ctx context.Context, spec CommandSpec) (CommandResult, error)
}

// DefaultWaitDelay bounds how long Run waits for output pipes after the
// process was killed.
const DefaultWaitDelay = 2 * time.Second

// ProcessExecutor runs commands as child processes in their own process
// group. When the context ends, the whole group is killed.
type ProcessExecutor struct {
	WaitDelay time.Duration
}

// Run implements Executor.
func (e ProcessExecutor) Run(ctx context.Context, spec CommandSpec) (CommandResult, error) {
	cmd := exec.CommandContext(ctx, spec.Name, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	setProcessGroup(cmd)
	cmd.WaitDelay = e.WaitDelay
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = DefaultWaitDelay
	}

	err := cmd.Run()
	res := CommandResult{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		ExitCode: -1,
	}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}
	if err == nil {
		return res, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		res.TimedOut = errors.Is(ctxErr, context.DeadlineExceeded)
		return res, ctxErr
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) || errors.Is(err, exec.ErrWaitDelay) {
		return res, nil
	}
	return res, err
}

// Ensure ProcessExecutor implements Executor.
var _ Executor = ProcessExecutor{}
