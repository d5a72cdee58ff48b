package cmdrunner

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

// ErrToolFailure is wrapped by every error returned from a subprocess that
// started but exited non-zero.
var ErrToolFailure = errors.New("external tool failed")

// Runner abstracts subprocess execution so orchestration code can be tested
// without spawning real engine tools.
type Runner interface {
	Run(ctx context.Context, dir string, name string, args ...string) error
	Output(ctx context.Context, dir string, name string, args ...string) (string, error)
}

type ExecRunnerOptions struct {
	Logger *zap.Logger
}

// ExecRunner runs commands via os/exec, logging the invocation and capturing
// combined output for the failure path.
type ExecRunner struct {
	logger *zap.Logger
}

var _ Runner = (*ExecRunner)(nil)

func NewExecRunner(opts *ExecRunnerOptions) *ExecRunner {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ExecRunner{
		logger: logger,
	}
}

func (r *ExecRunner) Run(ctx context.Context, dir string, name string, args ...string) error {
	_, err := r.Output(ctx, dir, name, args...)
	return err
}

func (r *ExecRunner) Output(ctx context.Context, dir string, name string, args ...string) (string, error) {
	r.logger.Debug("running external tool",
		zap.String("tool", name),
		zap.Strings("args", args),
		zap.String("dir", dir))

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir

	out, err := cmd.CombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			r.logger.Debug("external tool output", zap.ByteString("output", out))
			return string(out), fmt.Errorf("%w: %s exited with code %d: %s",
				ErrToolFailure, name, exitErr.ExitCode(), strings.TrimSpace(string(out)))
		}
		return string(out), fmt.Errorf("%w: failed to start %s: %s", ErrToolFailure, name, err)
	}

	return string(out), nil
}
