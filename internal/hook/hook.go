// Package hook runs operator-supplied pre and post scripts.
package hook

import (
	"context"
	"log/slog"
	"strings"

	"github.com/thoreinstein/borgsnap/internal/execx"
)

// Executor runs hook scripts around a dataset's backup.
type Executor struct {
	runner execx.Runner
	log    *slog.Logger
}

// NewExecutor builds an Executor.
func NewExecutor(runner execx.Runner, log *slog.Logger) *Executor {
	return &Executor{runner: runner, log: log}
}

// Run executes the hook at path with the dataset as its only argument.
// A missing path is a no-op. Hook failures are logged and swallowed so a
// broken operator script cannot abort the backup itself.
func (e *Executor) Run(ctx context.Context, name, path, dataset string) {
	if path == "" {
		return
	}

	e.log.Debug("running hook", "hook", name, "path", path, "dataset", dataset)
	out, err := e.runner.Run(ctx, execx.Cmd{Name: path, Args: []string{dataset}})
	if err != nil {
		e.log.Warn("hook failed",
			"hook", name,
			"path", path,
			"dataset", dataset,
			"error", err,
			"output", strings.TrimSpace(string(out)),
		)
		return
	}
	if trimmed := strings.TrimSpace(string(out)); trimmed != "" {
		e.log.Debug("hook output", "hook", name, "output", trimmed)
	}
}
