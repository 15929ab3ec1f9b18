// Package execx runs external commands behind a narrow interface so the
// zfs, borg, and hook wrappers can be tested without the real binaries.
package execx

import (
	"context"
	"os"
	"os/exec"
	"strings"

	"github.com/thoreinstein/borgsnap/internal/errors"
)

// Cmd describes one external command invocation.
type Cmd struct {
	// Name is the executable to run.
	Name string

	// Args are the command arguments, excluding the executable name.
	Args []string

	// Dir is the working directory. Empty means inherit.
	Dir string

	// Env holds extra KEY=value pairs appended to the parent environment.
	// Credentials are passed here per call, never via process-global state.
	Env []string
}

// Runner executes commands and returns their combined output.
type Runner interface {
	Run(ctx context.Context, c Cmd) ([]byte, error)
}

// New returns a Runner backed by os/exec.
func New() Runner {
	return execRunner{}
}

type execRunner struct{}

// Run executes the command, honoring context cancellation. A cancelled or
// timed-out invocation is marked with errors.ErrInterrupted so callers can
// tell it apart from a failing command.
func (execRunner) Run(ctx context.Context, c Cmd) ([]byte, error) {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}

	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return out, errors.Mark(
				errors.Wrapf(ctxErr, "%s interrupted", c.Name),
				errors.ErrInterrupted,
			)
		}
		return out, errors.Wrapf(err, "%s %s: %s",
			c.Name, strings.Join(c.Args, " "), strings.TrimSpace(string(out)))
	}
	return out, nil
}
