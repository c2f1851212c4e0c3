// Package oneshot runs a runtime's print command to completion and captures
// its output. The merge resolver and health triage use it for single-prompt
// invocations that never get a pane. The CLI runs under a pty because
// several assistant CLIs buffer or refuse to run without a terminal.
package oneshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/creack/pty"
	"go.uber.org/zap"

	"github.com/overstory/overstory/internal/common/logger"
	"github.com/overstory/overstory/internal/runtime"
)

// DefaultTimeout bounds a print invocation when the caller does not.
const DefaultTimeout = 5 * time.Minute

// Result is the outcome of one invocation.
type Result struct {
	Output   string
	ExitCode int
	Duration time.Duration
}

// Runner executes print commands for a runtime adapter.
type Runner struct {
	adapter runtime.Adapter
	timeout time.Duration
	logger  *logger.Logger
}

// NewRunner creates a runner for the adapter. timeout <= 0 uses
// DefaultTimeout.
func NewRunner(adapter runtime.Adapter, timeout time.Duration, log *logger.Logger) *Runner {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Runner{
		adapter: adapter,
		timeout: timeout,
		logger:  log.WithFields(zap.String("component", "oneshot"), zap.String("runtime", adapter.ID())),
	}
}

// Run invokes the adapter's print command with the prompt in dir and returns
// the captured output. The process is killed when the timeout or ctx
// expires; that is reported as an error, not a partial result.
func (r *Runner) Run(ctx context.Context, dir, prompt, model string) (*Result, error) {
	argv := r.adapter.BuildPrintCommand(prompt, model)
	if len(argv) == 0 {
		return nil, fmt.Errorf("runtime %s has no print command", r.adapter.ID())
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	// Adapter vars extend the parent environment; setting cmd.Env from
	// scratch would strip PATH, HOME, and the provider API keys.
	cmd.Env = os.Environ()
	for k, v := range r.adapter.BuildEnv(model) {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	start := time.Now()
	f, err := pty.Start(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", argv[0], err)
	}
	defer f.Close()

	var buf bytes.Buffer
	// The pty read returns EIO when the child exits; that is the normal
	// end-of-output signal, not a failure.
	if _, err := io.Copy(&buf, f); err != nil && buf.Len() == 0 {
		r.logger.Debug("pty read ended", zap.Error(err))
	}

	waitErr := cmd.Wait()
	elapsed := time.Since(start)

	if ctx.Err() != nil {
		return nil, fmt.Errorf("print command timed out after %s", r.timeout)
	}

	res := &Result{
		Output:   buf.String(),
		ExitCode: cmd.ProcessState.ExitCode(),
		Duration: elapsed,
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return nil, fmt.Errorf("print command failed: %w", waitErr)
		}
	}
	r.logger.Debug("print command finished",
		zap.Int("exit_code", res.ExitCode),
		zap.Duration("duration", elapsed))
	return res, nil
}
