package scriptrunner

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestRun_CleanExit(t *testing.T) {
	result, err := New().Run(context.Background(), Spec{
		Command: "/bin/sh",
		Args:    []string{"-c", "echo hello; echo oops >&2"},
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if !result.Success() {
		t.Errorf("Success(): got false, want true: %+v", result)
	}
	if got := strings.TrimSpace(result.Stdout); got != "hello" {
		t.Errorf("Stdout: got %q, want hello", got)
	}
	if got := strings.TrimSpace(result.Stderr); got != "oops" {
		t.Errorf("Stderr: got %q, want oops", got)
	}
	if result.ExitCode != 0 {
		t.Errorf("ExitCode: got %d, want 0", result.ExitCode)
	}
}

func TestRun_NonzeroExit(t *testing.T) {
	result, err := New().Run(context.Background(), Spec{
		Command: "/bin/sh",
		Args:    []string{"-c", "echo partial; echo broken >&2; exit 3"},
	})
	if err == nil {
		t.Fatal("Run() should fail for a nonzero exit")
	}

	var execErr *ExecError
	if !errors.As(err, &execErr) {
		t.Fatalf("error should be *ExecError, got %T: %v", err, err)
	}
	if execErr.Kind != FailureExit {
		t.Errorf("Kind: got %v, want FailureExit", execErr.Kind)
	}
	if result.ExitCode != 3 {
		t.Errorf("ExitCode: got %d, want 3", result.ExitCode)
	}
	// Output written before the failure is preserved for diagnosis.
	if got := strings.TrimSpace(result.Stdout); got != "partial" {
		t.Errorf("Stdout: got %q, want partial", got)
	}
	if !strings.Contains(err.Error(), "broken") {
		t.Errorf("error should carry the last stderr line: %v", err)
	}
}

func TestRun_Timeout(t *testing.T) {
	start := time.Now()
	result, err := New().Run(context.Background(), Spec{
		Command: "/bin/sh",
		Args:    []string{"-c", "echo started; sleep 10"},
		Timeout: 100 * time.Millisecond,
	})
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("Run() should fail on timeout")
	}
	if elapsed > 5*time.Second {
		t.Fatalf("timeout not enforced: took %s", elapsed)
	}

	var execErr *ExecError
	if !errors.As(err, &execErr) {
		t.Fatalf("error should be *ExecError, got %T: %v", err, err)
	}
	if execErr.Kind != FailureTimeout {
		t.Errorf("Kind: got %v, want FailureTimeout", execErr.Kind)
	}
	if !result.TimedOut {
		t.Error("TimedOut should be true")
	}
	// Output produced before the kill survives.
	if got := strings.TrimSpace(result.Stdout); got != "started" {
		t.Errorf("Stdout: got %q, want started", got)
	}
}

func TestRun_StartFailure(t *testing.T) {
	result, err := New().Run(context.Background(), Spec{
		Command: "/no/such/executable",
	})
	if err == nil {
		t.Fatal("Run() should fail for a missing executable")
	}
	if !errors.Is(err, ErrStartFailed) {
		t.Errorf("error should wrap ErrStartFailed: %v", err)
	}
	if result != nil {
		t.Errorf("no Result expected when the process never started, got %+v", result)
	}
}

func TestRun_EnvOverrides(t *testing.T) {
	result, err := New().Run(context.Background(), Spec{
		Command: "/bin/sh",
		Args:    []string{"-c", "printf '%s' \"$PIPELINE_MARKER\""},
		Env:     map[string]string{"PIPELINE_MARKER": "present"},
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if result.Stdout != "present" {
		t.Errorf("Stdout: got %q, want present", result.Stdout)
	}
}

func TestRun_WorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	result, err := New().Run(context.Background(), Spec{
		Command: "/bin/sh",
		Args:    []string{"-c", "pwd"},
		Dir:     dir,
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if got := strings.TrimSpace(result.Stdout); !strings.HasSuffix(got, dir) && got != dir {
		t.Errorf("pwd: got %q, want %q", got, dir)
	}
}

func TestResult_Success(t *testing.T) {
	cases := []struct {
		name   string
		result Result
		want   bool
	}{
		{"clean", Result{}, true},
		{"nonzero exit", Result{ExitCode: 1}, false},
		{"signalled", Result{Signal: "terminated"}, false},
		{"timed out", Result{TimedOut: true}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.result.Success(); got != tc.want {
				t.Errorf("Success(): got %t, want %t", got, tc.want)
			}
		})
	}
}

func TestLastLine(t *testing.T) {
	if got := lastLine("a\nb\n\n"); got != "b" {
		t.Errorf("lastLine: got %q, want b", got)
	}
	if got := lastLine(""); got != "" {
		t.Errorf("lastLine of empty: got %q, want empty", got)
	}
}
