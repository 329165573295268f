package asm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// Command is one assembler invocation.
type Command struct {
	Path string
	Args []string
	Env  []string // appended to the current environment
}

// Result is the outcome of a finished invocation. Output holds standard
// output followed by standard error.
type Result struct {
	ExitCode int
	Output   []byte
}

// Runner executes a Command and waits for it to exit. A nonzero exit is
// reported in Result, not as an error.
type Runner interface {
	Run(ctx context.Context, c Command) (Result, error)
}

// ExecRunner runs commands as child processes. A positive Timeout bounds
// each run; on expiry the child (and on Unix its whole process group) is
// killed.
type ExecRunner struct {
	Timeout time.Duration
}

func (r ExecRunner) Run(ctx context.Context, c Command) (Result, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Env = append(os.Environ(), c.Env...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	configureProcess(cmd)

	err := cmd.Run()
	res := Result{Output: append(stdout.Bytes(), stderr.Bytes()...)}
	if ctx.Err() != nil {
		return res, fmt.Errorf("asm: %s: %w", c.Path, ctx.Err())
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("asm: run %s: %w", c.Path, err)
	}
	return res, nil
}
