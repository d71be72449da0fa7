// Package scriptrunner executes the external pipeline scripts. It owns
// process spawning, incremental output capture, and timeout enforcement;
// it never touches the data stores. Callers decide what to persist from
// the returned Result.
package scriptrunner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// ErrStartFailed marks a spawn failure (missing executable, permission
// denied). Unlike a nonzero exit there is no Result: the process never ran.
var ErrStartFailed = errors.New("failed to start script")

// Spec describes one script invocation.
type Spec struct {
	// Command is the executable to run.
	Command string

	// Args are the positional arguments.
	Args []string

	// Dir is the working directory. Pipeline scripts use relative paths
	// internally, so this must be set to the script's own directory.
	Dir string

	// Env entries are added on top of the inherited environment.
	Env map[string]string

	// Timeout bounds the script's runtime; zero means no limit.
	Timeout time.Duration
}

// Result captures everything observed from a finished (or killed) process.
// Output is captured incrementally, so a timed-out script still yields
// whatever it wrote before termination.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Signal   string
	TimedOut bool
	Duration time.Duration
}

// Success reports a clean exit.
func (r *Result) Success() bool {
	return !r.TimedOut && r.Signal == "" && r.ExitCode == 0
}

// FailureKind classifies a script failure.
type FailureKind int

const (
	// FailureExit: the script exited normally with a nonzero code.
	FailureExit FailureKind = iota
	// FailureSignal: the script was terminated by a signal it did not
	// expect (killed externally).
	FailureSignal
	// FailureTimeout: the runner killed the script after Timeout elapsed.
	FailureTimeout
)

// ExecError is returned when a started script fails. It carries the full
// Result so callers can persist stdout/stderr for diagnosis.
type ExecError struct {
	Kind   FailureKind
	Result *Result
}

func (e *ExecError) Error() string {
	var msg string
	switch e.Kind {
	case FailureTimeout:
		msg = fmt.Sprintf("script timed out after %s", e.Result.Duration.Round(time.Millisecond))
	case FailureSignal:
		msg = fmt.Sprintf("script terminated by signal: %s", e.Result.Signal)
	default:
		msg = fmt.Sprintf("script exited with code %d", e.Result.ExitCode)
	}
	if tail := lastLine(e.Result.Stderr); tail != "" {
		msg = fmt.Sprintf("%s: %s", msg, tail)
	}
	return msg
}

// Runner executes scripts. It is stateless and safe for concurrent use.
type Runner struct{}

// New creates a Runner.
func New() *Runner {
	return &Runner{}
}

// Run executes the script described by spec and blocks until it finishes,
// times out, or ctx is cancelled. The returned error is nil for a clean
// exit, wraps ErrStartFailed when the process could not be spawned, and is
// an *ExecError for every other failure.
func (r *Runner) Run(ctx context.Context, spec Spec) (*Result, error) {
	runCtx := ctx
	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = mergedEnv(spec.Env)

	// Capture output as it is produced, not at exit; some of these scripts
	// run for hours and the partial output is needed when they are killed.
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// Ensure Wait returns promptly after a kill even if the script leaked
	// its output pipes to a grandchild.
	cmd.WaitDelay = 5 * time.Second

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrStartFailed, spec.Command, err)
	}

	waitErr := cmd.Wait()

	result := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if waitErr == nil {
		return result, nil
	}

	timedOut := errors.Is(runCtx.Err(), context.DeadlineExceeded)
	result.TimedOut = timedOut

	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			result.Signal = ws.Signal().String()
			result.ExitCode = -1
		} else {
			result.ExitCode = exitErr.ExitCode()
		}
	} else {
		result.ExitCode = -1
	}

	kind := FailureExit
	switch {
	case timedOut:
		kind = FailureTimeout
	case result.Signal != "":
		kind = FailureSignal
	}

	return result, &ExecError{Kind: kind, Result: result}
}

// mergedEnv layers overrides on top of the inherited environment.
func mergedEnv(overrides map[string]string) []string {
	env := os.Environ()
	for key, value := range overrides {
		env = append(env, key+"="+value)
	}
	return env
}

// lastLine returns the final non-empty line of s, trimmed.
func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}
