package workspace

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// RunResult is the outcome of an external build command.
type RunResult struct {
	Command  []string
	ExitCode int
	Output   string
	Duration time.Duration
}

// Runner executes build commands inside a project directory. A non-zero exit is
// reported in RunResult, not as an error.
type Runner interface {
	Run(ctx context.Context, dir string, name string, args ...string) (RunResult, error)
}

// ExecRunner runs commands with os/exec. Output beyond MaxOutput bytes keeps the tail.
type ExecRunner struct {
	MaxOutput int
}

const defaultMaxOutput = 256 << 10

func (r ExecRunner) Run(ctx context.Context, dir string, name string, args ...string) (RunResult, error) {
	res := RunResult{Command: append([]string{name}, args...)}
	if _, err := exec.LookPath(name); err != nil {
		return res, fmt.Errorf("%s is not installed: %w", name, err)
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	start := time.Now()
	err := cmd.Run()
	res.Duration = time.Since(start)
	res.Output = Tail(out.Bytes(), r.limit())

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr) && ctx.Err() == nil:
		res.ExitCode = exitErr.ExitCode()
	case ctx.Err() != nil:
		return res, ctx.Err()
	default:
		return res, err
	}
	return res, nil
}

func (r ExecRunner) limit() int {
	if r.MaxOutput > 0 {
		return r.MaxOutput
	}
	return defaultMaxOutput
}

// Tail keeps at most the last n bytes of b, starting at a line boundary when it cuts.
func Tail(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	b = b[len(b)-n:]
	if i := bytes.IndexByte(b, '\n'); i >= 0 {
		b = b[i+1:]
	}
	return string(b)
}
