// Package executor implements the in-cluster executor agent (C9): a
// subprocess runner that invokes a kubectl-compatible inspection binary and
// the SSE client loop that pulls Commands from C4 and posts Results to C5.
package executor

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/kubently/kubently/pkg/kubently"
	"github.com/kubently/kubently/pkg/resilience"
)

// maxOutputBytes truncates captured stdout/stderr, mirroring the teacher's
// relay.ShellExecutor output cap.
const maxOutputBytes = 10000

// DefaultCommandTimeout is the wall-clock timeout applied to every
// subprocess invocation (spec.md §4.9 step 2).
const DefaultCommandTimeout = 30 * time.Second

// maxConcurrentExecs bounds how many kubectl subprocesses one executor
// process runs at once, so a burst of dispatched commands can't fork-bomb
// the node the agent pod lives on.
const maxConcurrentExecs = 4

// KubectlExecutor runs a fixed, read-only kubectl-compatible binary against
// a Command's verb and args. Unlike the teacher's ShellExecutor, it never
// invokes a shell and carries no deny-pattern guard: the verb allow-list is
// already enforced upstream at C6/C7, so exec.CommandContext(ctx, bin,
// args...) is the only attack surface, and it accepts no shell metacharacters.
type KubectlExecutor struct {
	Bin     string // path to the kubectl-compatible binary, e.g. "kubectl"
	Timeout time.Duration

	bulkhead *resilience.Bulkhead
}

// NewKubectlExecutor builds an executor invoking bin (defaulting to
// "kubectl" on empty) with DefaultCommandTimeout.
func NewKubectlExecutor(bin string) *KubectlExecutor {
	if bin == "" {
		bin = "kubectl"
	}
	return &KubectlExecutor{
		Bin:      bin,
		Timeout:  DefaultCommandTimeout,
		bulkhead: resilience.NewBulkhead("kubectl-exec", maxConcurrentExecs),
	}
}

// Execute runs cmd.CommandType plus cmd.Args as a single kubectl invocation
// and returns the populated Result (never an error for a well-formed
// Command: failures are reported via Result.Status/ReturnCode, matching
// the teacher's ShellExecutor convention of surfacing subprocess failure
// through the result rather than the Go error return). Concurrent
// invocations beyond maxConcurrentExecs block in the bulkhead queue rather
// than piling onto the node unbounded.
func (e *KubectlExecutor) Execute(ctx context.Context, cmd *kubently.Command) *kubently.Result {
	var result *kubently.Result
	bh := e.bulkhead
	if bh == nil {
		bh = resilience.NewBulkhead("kubectl-exec", maxConcurrentExecs)
	}
	if err := bh.Execute(ctx, func() error {
		result = e.execute(ctx, cmd)
		return nil
	}); err != nil {
		return &kubently.Result{
			CommandID:  cmd.CommandID,
			Success:    false,
			Status:     kubently.StatusError,
			ReturnCode: -1,
			Stderr:     truncate(err.Error()),
			ExecutedAt: time.Now(),
		}
	}
	return result
}

// execute is the uncapped worker body invoked inside the bulkhead.
func (e *KubectlExecutor) execute(ctx context.Context, cmd *kubently.Command) *kubently.Result {
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append([]string{cmd.CommandType}, cmd.Args...)
	proc := exec.CommandContext(cmdCtx, e.Bin, args...)

	var stdout, stderr bytes.Buffer
	proc.Stdout = &stdout
	proc.Stderr = &stderr

	start := time.Now()
	err := proc.Run()
	elapsed := time.Since(start)

	result := &kubently.Result{
		CommandID:     cmd.CommandID,
		Stdout:        truncate(stdout.String()),
		Stderr:        truncate(stderr.String()),
		ExecutedAt:    start,
		ExecutionTime: elapsed.Milliseconds(),
	}

	if err == nil {
		result.Success = true
		result.Status = kubently.StatusSuccess
		result.ReturnCode = 0
		return result
	}

	result.Success = false
	if exitErr, ok := err.(*exec.ExitError); ok {
		result.ReturnCode = exitErr.ExitCode()
	} else {
		result.ReturnCode = -1
	}

	if cmdCtx.Err() == context.DeadlineExceeded {
		result.Status = kubently.StatusTimeout
		result.Stderr = truncate(result.Stderr + "\n" + fmt.Sprintf("command timed out after %s", timeout))
	} else {
		result.Status = kubently.StatusError
	}
	return result
}

func truncate(s string) string {
	if len(s) <= maxOutputBytes {
		return s
	}
	return s[:maxOutputBytes] + fmt.Sprintf("\n... (truncated, %d more chars)", len(s)-maxOutputBytes)
}
