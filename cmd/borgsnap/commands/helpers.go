package commands

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/thoreinstein/borgsnap/internal/borg"
	"github.com/thoreinstein/borgsnap/internal/config"
	"github.com/thoreinstein/borgsnap/internal/errors"
	"github.com/thoreinstein/borgsnap/internal/execx"
	"github.com/thoreinstein/borgsnap/internal/hook"
	"github.com/thoreinstein/borgsnap/internal/logging"
	"github.com/thoreinstein/borgsnap/internal/mount"
	"github.com/thoreinstein/borgsnap/internal/paths"
	"github.com/thoreinstein/borgsnap/internal/pipeline"
	"github.com/thoreinstein/borgsnap/internal/repo"
	"github.com/thoreinstein/borgsnap/internal/retention"
	"github.com/thoreinstein/borgsnap/internal/snapshot"
	"github.com/thoreinstein/borgsnap/internal/tidy"
	"github.com/thoreinstein/borgsnap/internal/zfs"
)

// engine bundles the wired-up components every command drives.
type engine struct {
	cfg      *config.Config
	targets  []repo.Target
	captures *snapshot.Manager
	borg     *borg.Client
	pipeline *pipeline.Pipeline
	tidy     *tidy.Controller
}

// newEngine loads the configuration and wires the full component graph.
func newEngine(cmd *cobra.Command, cfgPath string) (*engine, error) {
	log := logging.FromContext(cmd.Context())

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, errors.NewConfigError(err)
	}

	targets, err := repo.TargetsFrom(cfg)
	if err != nil {
		return nil, errors.NewConfigError(err)
	}

	if _, err := paths.EnsureStateDir(); err != nil {
		return nil, errors.NewSystemError(err, "check permissions on the state directory")
	}

	runner := execx.New()
	zfsClient := zfs.NewClient(runner)
	captures := snapshot.NewManager(zfsClient)
	ledger := mount.NewLedger(paths.LedgerPath())
	mounts := mount.NewOrchestrator(zfsClient, ledger, cfg.MountRoot, log)
	borgClient := borg.NewClient(runner)
	boot := repo.NewBootstrapper(borgClient, nil, log)
	retain := retention.NewEnforcer(captures, borgClient, log)
	hooks := hook.NewExecutor(runner, log)

	e := &engine{
		cfg:      cfg,
		targets:  targets,
		captures: captures,
		borg:     borgClient,
	}
	e.pipeline = pipeline.New(cfg, pipeline.Deps{
		Captures: captures,
		Mounts:   mounts,
		Boot:     boot,
		Archiver: borgClient,
		Retain:   retain,
		Hooks:    hooks,
		Targets:  targets,
		Log:      log,
	})
	e.tidy = tidy.NewController(cfg, mounts, captures, borgClient, targets, log, nil)
	return e, nil
}

// reportResult prints the per-dataset outcome and turns failures into an
// ExitError so cron jobs see a non-zero status.
func reportResult(out io.Writer, res pipeline.Result) error {
	ok := color.New(color.FgGreen).SprintFunc()
	bad := color.New(color.FgRed).SprintFunc()

	failures := 0
	for _, d := range res.Datasets {
		if !d.Failed() {
			fmt.Fprintf(out, "%s %s (%s)\n", ok("✓"), d.Dataset, d.Label)
			continue
		}
		failures++
		if d.Err != nil {
			fmt.Fprintf(out, "%s %s: %s failed: %v\n", bad("✗"), d.Dataset, d.Step, d.Err)
		}
		for _, t := range d.Targets {
			if t.Err != nil {
				fmt.Fprintf(out, "%s %s [%s]: %s failed: %v\n", bad("✗"), d.Dataset, t.Target, t.Step, t.Err)
			}
		}
	}

	if failures > 0 {
		return errors.NewSystemError(
			errors.Newf("%d of %d datasets failed", failures, len(res.Datasets)),
			"Run 'borgsnap tidy' before the next scheduled backup")
	}
	return nil
}
