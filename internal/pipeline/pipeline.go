// Package pipeline drives one backup run end to end.
//
// Each dataset is processed independently: decide the rotation label,
// run the pre hook, capture, mount, archive to every enabled target,
// unmount, run the post hook, then enforce retention. A failure in one
// dataset never stops the others, and a failure on one target never
// stops the other target. Failed datasets leave their capture and mount
// state in place for the tidy controller to reconcile.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/thoreinstein/borgsnap/internal/borg"
	"github.com/thoreinstein/borgsnap/internal/config"
	"github.com/thoreinstein/borgsnap/internal/mount"
	"github.com/thoreinstein/borgsnap/internal/repo"
	"github.com/thoreinstein/borgsnap/internal/retention"
	"github.com/thoreinstein/borgsnap/internal/rotation"
	"github.com/thoreinstein/borgsnap/internal/snapshot"
)

// Step names the pipeline stage a result refers to.
type Step string

const (
	StepDecide    Step = "decide"
	StepPreHook   Step = "pre-hook"
	StepSnapshot  Step = "snapshot"
	StepMount     Step = "mount"
	StepBootstrap Step = "bootstrap"
	StepArchive   Step = "archive"
	StepUnmount   Step = "unmount"
	StepPostHook  Step = "post-hook"
	StepPrune     Step = "prune"
)

// TargetResult is the outcome of archiving one dataset to one target.
type TargetResult struct {
	Target string
	Step   Step
	Err    error
}

// DatasetResult is the outcome of one dataset's run.
type DatasetResult struct {
	Dataset string
	Label   rotation.Label

	// Step is the stage a dataset-level failure happened at; empty on
	// success or when only individual targets failed.
	Step Step
	Err  error

	Targets []TargetResult
}

// Failed reports whether anything went wrong for this dataset.
func (r DatasetResult) Failed() bool {
	if r.Err != nil {
		return true
	}
	for _, t := range r.Targets {
		if t.Err != nil {
			return true
		}
	}
	return false
}

// Result is the outcome of a whole run.
type Result struct {
	Datasets []DatasetResult
}

// Failed reports whether any dataset failed.
func (r Result) Failed() bool {
	for _, d := range r.Datasets {
		if d.Failed() {
			return true
		}
	}
	return false
}

// Capturer creates captures and answers rotation history queries.
type Capturer interface {
	Create(ctx context.Context, dataset string, label rotation.Label, recursive bool) (snapshot.Capture, error)
	History(ctx context.Context, dataset string) (rotation.History, error)
}

// Binder exposes captures as working trees and tears them down.
type Binder interface {
	Bind(ctx context.Context, dataset string, label rotation.Label, recursive bool) (*mount.Binding, error)
	Unbind(ctx context.Context, dataset string, label rotation.Label) error
}

// Ensurer bootstraps target repositories.
type Ensurer interface {
	Ensure(ctx context.Context, target repo.Target, dataset string) error
}

// Archiver writes a working tree into a borg repository.
type Archiver interface {
	Create(ctx context.Context, r borg.Repo, label rotation.Label, srcDir string, opts borg.Options) error
}

// Retainer enforces the keep policy on captures and archives.
type Retainer interface {
	EnforceCaptures(ctx context.Context, dataset string, policy retention.Policy, recursive bool) error
	PruneArchives(ctx context.Context, r borg.Repo, policy retention.Policy) error
}

// HookRunner executes operator hook scripts.
type HookRunner interface {
	Run(ctx context.Context, name, path, dataset string)
}

// Deps collects the pipeline's collaborators.
type Deps struct {
	Captures Capturer
	Mounts   Binder
	Boot     Ensurer
	Archiver Archiver
	Retain   Retainer
	Hooks    HookRunner
	Targets  []repo.Target
	Log      *slog.Logger

	// Now supplies the run date for the rotation decider.
	// Nil means time.Now.
	Now func() time.Time
}

// Pipeline runs backups for the configured datasets.
type Pipeline struct {
	cfg  *config.Config
	deps Deps
}

// New builds a Pipeline. The configuration is assumed validated.
func New(cfg *config.Config, deps Deps) *Pipeline {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Pipeline{cfg: cfg, deps: deps}
}

// Run executes a full scheduled run: the rotation decider picks each
// dataset's label, and retention is enforced after a successful backup.
func (p *Pipeline) Run(ctx context.Context) (Result, error) {
	var res Result
	for _, ds := range p.cfg.Datasets {
		res.Datasets = append(res.Datasets, p.runDataset(ctx, ds, "", true))
	}
	return res, ctx.Err()
}

// RunWithLabel backs up every dataset under a caller-chosen label,
// bypassing the rotation decider and skipping retention. This is the
// ad-hoc snapshot path.
func (p *Pipeline) RunWithLabel(ctx context.Context, label rotation.Label) (Result, error) {
	var res Result
	for _, ds := range p.cfg.Datasets {
		res.Datasets = append(res.Datasets, p.runDataset(ctx, ds, label, false))
	}
	return res, ctx.Err()
}

// runDataset processes one dataset. An empty label means "ask the
// decider".
func (p *Pipeline) runDataset(ctx context.Context, ds config.Dataset, label rotation.Label, prune bool) DatasetResult {
	log := p.deps.Log.With("dataset", ds.Name)
	res := DatasetResult{Dataset: ds.Name}

	if label == "" {
		var err error
		label, err = p.decide(ctx, ds.Name)
		if err != nil {
			res.Step, res.Err = StepDecide, err
			return res
		}
	}
	res.Label = label
	log = log.With("label", string(label))

	p.deps.Hooks.Run(ctx, "pre", p.cfg.PreHook, ds.Name)
	// The post hook always runs once the pre hook has, so a quiesced
	// application is resumed even when the backup fails in between.
	defer p.deps.Hooks.Run(ctx, "post", p.cfg.PostHook, ds.Name)

	cap, err := p.capture(ctx, ds, label)
	if err != nil {
		res.Step, res.Err = StepSnapshot, err
		log.Error("capture failed", "error", err)
		return res
	}
	log.Info("captured", "snapshot", cap.Name())

	binding, err := p.bind(ctx, ds, label)
	if err != nil {
		res.Step, res.Err = StepMount, err
		log.Error("mount failed, leaving state for tidy", "error", err)
		return res
	}

	for _, target := range p.deps.Targets {
		res.Targets = append(res.Targets, p.archiveTo(ctx, target, ds, label, binding, log))
	}

	if err := p.unbind(ctx, ds, label); err != nil {
		res.Step, res.Err = StepUnmount, err
		log.Error("unmount failed, leaving state for tidy", "error", err)
		return res
	}

	if prune {
		p.prune(ctx, ds, &res, log)
	}

	return res
}

// decide asks the rotation decider for today's label.
func (p *Pipeline) decide(ctx context.Context, dataset string) (rotation.Label, error) {
	opCtx, cancel := p.opContext(ctx)
	defer cancel()

	hist, err := p.deps.Captures.History(opCtx, dataset)
	if err != nil {
		return "", err
	}
	tier, label := rotation.Decide(p.deps.Now(), hist)
	p.deps.Log.Debug("rotation decided",
		"dataset", dataset, "tier", tier.String(), "label", string(label))
	return label, nil
}

func (p *Pipeline) capture(ctx context.Context, ds config.Dataset, label rotation.Label) (snapshot.Capture, error) {
	opCtx, cancel := p.opContext(ctx)
	defer cancel()
	return p.deps.Captures.Create(opCtx, ds.Name, label, ds.Recursive)
}

func (p *Pipeline) bind(ctx context.Context, ds config.Dataset, label rotation.Label) (*mount.Binding, error) {
	opCtx, cancel := p.opContext(ctx)
	defer cancel()
	return p.deps.Mounts.Bind(opCtx, ds.Name, label, ds.Recursive)
}

func (p *Pipeline) unbind(ctx context.Context, ds config.Dataset, label rotation.Label) error {
	opCtx, cancel := p.opContext(ctx)
	defer cancel()
	return p.deps.Mounts.Unbind(opCtx, ds.Name, label)
}

// archiveTo bootstraps one target's repository and writes the archive.
// Target failures stay inside the TargetResult so the other target still
// gets its archive.
func (p *Pipeline) archiveTo(ctx context.Context, target repo.Target, ds config.Dataset, label rotation.Label, binding *mount.Binding, log *slog.Logger) TargetResult {
	tr := TargetResult{Target: target.Name()}

	opCtx, cancel := p.opContext(ctx)
	defer cancel()

	if err := p.deps.Boot.Ensure(opCtx, target, ds.Name); err != nil {
		tr.Step, tr.Err = StepBootstrap, err
		log.Error("bootstrap failed", "target", target.Name(), "error", err)
		return tr
	}

	opts := borg.Options{
		Compression:      p.cfg.Compression,
		FilesCache:       p.cfg.FilesCache,
		ExcludeIfPresent: p.cfg.ExcludeIfPresent,
	}
	if err := p.deps.Archiver.Create(opCtx, target.Repo(ds.Name), label, binding.WorkingRoot, opts); err != nil {
		tr.Step, tr.Err = StepArchive, err
		log.Error("archive failed", "target", target.Name(), "error", err)
		return tr
	}

	log.Info("archived", "target", target.Name())
	return tr
}

// prune enforces retention after a successful backup. Capture pruning
// runs once; archive pruning runs per target, but only on targets whose
// archive landed.
func (p *Pipeline) prune(ctx context.Context, ds config.Dataset, res *DatasetResult, log *slog.Logger) {
	policy := retention.Policy{
		Daily:   p.cfg.Keep.Daily,
		Weekly:  p.cfg.Keep.Weekly,
		Monthly: p.cfg.Keep.Monthly,
	}

	opCtx, cancel := p.opContext(ctx)
	defer cancel()

	if err := p.deps.Retain.EnforceCaptures(opCtx, ds.Name, policy, ds.Recursive); err != nil {
		res.Step, res.Err = StepPrune, err
		log.Error("capture pruning failed", "error", err)
		return
	}

	// res.Targets is built in p.deps.Targets order, so correlate by
	// index; names alone cannot tell two targets of one kind apart.
	for i, target := range p.deps.Targets {
		if i >= len(res.Targets) || res.Targets[i].Err != nil {
			continue
		}
		if err := p.deps.Retain.PruneArchives(opCtx, target.Repo(ds.Name), policy); err != nil {
			res.Targets[i].Step, res.Targets[i].Err = StepPrune, err
			log.Error("archive pruning failed", "target", target.Name(), "error", err)
		}
	}
}

// opContext bounds one external operation.
func (p *Pipeline) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.cfg.CommandTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.cfg.CommandTimeout)
}
