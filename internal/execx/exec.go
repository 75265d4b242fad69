package execx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// ErrAborted marks an invocation that could not reach an exit status:
// timeout, cancellation, or the process being killed. Callers use this to
// tell "tests failed" apart from "infrastructure broke".
var ErrAborted = errors.New("invocation aborted")

// ExitAborted is the sentinel exit code recorded for aborted invocations.
const ExitAborted = -1

// Result holds the output of executing a command.
type Result struct {
	Stdout   string
	Stderr   string
	Duration time.Duration
	ExitCode int
}

// Opts configures command execution. Command is a shell command line; Env
// entries are layered on top of the inherited environment.
type Opts struct {
	Command string
	Dir     string
	Env     map[string]string
	Timeout time.Duration
}

// Run executes a shell command and captures its output.
// Non-zero exit codes are captured (not treated as errors).
// Timeouts, cancellation, and kills yield ErrAborted with ExitAborted set.
func Run(ctx context.Context, opts Opts) (*Result, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", opts.Command)
	cmd.Dir = opts.Dir
	cmd.Env = buildEnv(opts.Env)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()

	result := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		if ctx.Err() != nil {
			result.ExitCode = ExitAborted
			return result, fmt.Errorf("%w: %v", ErrAborted, ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code := exitErr.ExitCode()
			if code < 0 {
				// Killed by a signal before producing a status.
				result.ExitCode = ExitAborted
				return result, fmt.Errorf("%w: %v", ErrAborted, err)
			}
			result.ExitCode = code
			return result, nil
		}
		result.ExitCode = ExitAborted
		return result, fmt.Errorf("%w: starting command: %v", ErrAborted, err)
	}

	return result, nil
}

func buildEnv(extra map[string]string) []string {
	env := os.Environ()
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return env
}
