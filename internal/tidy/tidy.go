// Package tidy reconciles the state a failed or interrupted run left
// behind.
//
// Recovery never trusts what a partial run recorded about its own
// intent. Instead the controller recomputes the label that run would
// have chosen, using only history strictly older than today, and then
// removes that label's capture and archives wherever they exist. Run
// against a clean system it does nothing, so it is safe to schedule
// unconditionally before every backup.
package tidy

import (
	"context"
	"log/slog"
	"time"

	"github.com/thoreinstein/borgsnap/internal/borg"
	"github.com/thoreinstein/borgsnap/internal/config"
	"github.com/thoreinstein/borgsnap/internal/errors"
	"github.com/thoreinstein/borgsnap/internal/repo"
	"github.com/thoreinstein/borgsnap/internal/rotation"
)

// Releaser tears down every ledger-recorded mount binding.
type Releaser interface {
	ReleaseAll(ctx context.Context) error
}

// CaptureStore is the slice of the snapshot manager recovery needs.
type CaptureStore interface {
	HistoryBefore(ctx context.Context, dataset string, cutoff time.Time) (rotation.History, error)
	Exists(ctx context.Context, dataset string, label rotation.Label) (bool, error)
	Destroy(ctx context.Context, dataset string, label rotation.Label, recursive bool) error
}

// ArchiveStore queries and deletes archives in a borg repository.
type ArchiveStore interface {
	HasArchive(ctx context.Context, r borg.Repo, label rotation.Label) (bool, error)
	Delete(ctx context.Context, r borg.Repo, label rotation.Label) error
}

// Controller runs the recovery pass.
type Controller struct {
	cfg      *config.Config
	mounts   Releaser
	captures CaptureStore
	archives ArchiveStore
	targets  []repo.Target
	log      *slog.Logger
	now      func() time.Time
}

// NewController builds a Controller. A nil now falls back to time.Now.
func NewController(cfg *config.Config, mounts Releaser, captures CaptureStore, archives ArchiveStore, targets []repo.Target, log *slog.Logger, now func() time.Time) *Controller {
	if now == nil {
		now = time.Now
	}
	return &Controller{
		cfg:      cfg,
		mounts:   mounts,
		captures: captures,
		archives: archives,
		targets:  targets,
		log:      log,
		now:      now,
	}
}

// Tidy releases stale mounts, then removes each dataset's partial
// capture and archives. Per-dataset failures are collected so one stuck
// dataset does not block recovery of the rest.
func (c *Controller) Tidy(ctx context.Context) error {
	var errs error

	if err := c.mounts.ReleaseAll(ctx); err != nil {
		c.log.Warn("some mount bindings could not be released", "error", err)
		errs = errors.Join(errs, err)
	}

	for _, ds := range c.cfg.Datasets {
		if err := c.tidyDataset(ctx, ds); err != nil {
			c.log.Error("recovery failed for dataset", "dataset", ds.Name, "error", err)
			errs = errors.Join(errs, errors.Wrapf(err, "tidying %s", ds.Name))
		}
	}
	return errs
}

// tidyDataset recomputes the label an interrupted run would have used
// for this dataset and removes its leftovers.
func (c *Controller) tidyDataset(ctx context.Context, ds config.Dataset) error {
	now := c.now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	// History is cut off at today so the failed run's own capture cannot
	// change the recomputed answer.
	hist, err := c.captures.HistoryBefore(ctx, ds.Name, today)
	if err != nil {
		return err
	}
	_, label := rotation.Decide(now, hist)

	exists, err := c.captures.Exists(ctx, ds.Name, label)
	if err != nil {
		return err
	}
	if exists {
		if err := c.captures.Destroy(ctx, ds.Name, label, ds.Recursive); err != nil {
			return err
		}
		c.log.Info("removed partial capture", "dataset", ds.Name, "label", string(label))
	}

	var errs error
	for _, target := range c.targets {
		if err := c.tidyArchive(ctx, target, ds.Name, label); err != nil {
			errs = errors.Join(errs, err)
		}
	}
	return errs
}

func (c *Controller) tidyArchive(ctx context.Context, target repo.Target, dataset string, label rotation.Label) error {
	r := target.Repo(dataset)

	has, err := c.archives.HasArchive(ctx, r, label)
	if err != nil {
		return errors.Wrapf(err, "checking %s for archive %s", target.Name(), label)
	}
	if !has {
		return nil
	}

	if err := c.archives.Delete(ctx, r, label); err != nil {
		if errors.Is(err, borg.ErrArchiveNotFound) {
			return nil
		}
		return errors.Wrapf(err, "deleting archive %s from %s", label, target.Name())
	}
	c.log.Info("removed partial archive", "dataset", dataset, "label", string(label), "target", target.Name())
	return nil
}
