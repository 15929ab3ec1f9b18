// Package mount exposes captures as working directory trees.
//
// Each dataset gets a working root namespaced by its own name, so
// concurrent processing of different datasets cannot collide on paths.
// For recursive datasets every descendant capture sharing the label is
// mounted beneath the parent's root at its relative position. Teardown is
// strictly the reverse of creation: a parent mount cannot be released
// while a child is still bound beneath it.
//
// Every binding is written to a persisted ledger before the mount is
// attempted, so the tidy controller can recover from a crash without
// re-deriving state from the live mount table.
package mount

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/thoreinstein/borgsnap/internal/errors"
	"github.com/thoreinstein/borgsnap/internal/rotation"
	"github.com/thoreinstein/borgsnap/internal/zfs"
)

// ErrBindFailed marks mount and unmount failures. The pipeline treats it
// as "abort this dataset, leave state for tidy", never as "no backup
// needed".
var ErrBindFailed = errors.New("mount binding failed")

// Service is the slice of the zfs client the orchestrator needs.
type Service interface {
	ListSnapshots(ctx context.Context, prefix string) ([]zfs.SnapshotInfo, error)
	MountSnapshot(ctx context.Context, snapshot, dir string) error
	Unmount(ctx context.Context, dir string) error
}

// Binding is the result of exposing a capture as a directory tree.
type Binding struct {
	Dataset     string
	Label       rotation.Label
	WorkingRoot string

	// Paths are all mount points in creation order, parent root first.
	Paths []string
}

// Orchestrator binds and unbinds capture working trees.
type Orchestrator struct {
	svc    Service
	ledger *Ledger
	root   string
	log    *slog.Logger
}

// NewOrchestrator creates an Orchestrator mounting under root.
func NewOrchestrator(svc Service, ledger *Ledger, root string, log *slog.Logger) *Orchestrator {
	return &Orchestrator{svc: svc, ledger: ledger, root: root, log: log}
}

// WorkingRoot returns the mount root for a dataset.
func (o *Orchestrator) WorkingRoot(dataset string) string {
	return filepath.Join(o.root, filepath.FromSlash(dataset))
}

// Bind mounts the dataset's capture, and for recursive datasets every
// descendant capture carrying the same label, beneath a working root.
// On failure the already-created bindings stay in the ledger for tidy.
func (o *Orchestrator) Bind(ctx context.Context, dataset string, label rotation.Label, recursive bool) (*Binding, error) {
	workRoot := o.WorkingRoot(dataset)

	type step struct {
		snapshot string
		dir      string
	}
	plan := []step{{snapshot: dataset + "@" + string(label), dir: workRoot}}

	if recursive {
		snaps, err := o.svc.ListSnapshots(ctx, dataset+"/")
		if err != nil {
			return nil, errors.Mark(errors.Wrapf(err, "discovering descendant captures of %s", dataset), ErrBindFailed)
		}
		var children []step
		for _, s := range snaps {
			if s.Label() != string(label) {
				continue
			}
			rel := strings.TrimPrefix(s.Dataset(), dataset+"/")
			children = append(children, step{
				snapshot: s.Name,
				dir:      filepath.Join(workRoot, filepath.FromSlash(rel)),
			})
		}
		// Parents before children. Mount points sort that way; snapshot
		// names do not, because '@' sorts after '/' and would put
		// "a/b@label" ahead of "a@label".
		sort.Slice(children, func(i, j int) bool { return children[i].dir < children[j].dir })
		plan = append(plan, children...)
	}

	b := &Binding{Dataset: dataset, Label: label, WorkingRoot: workRoot}
	for _, s := range plan {
		if err := os.MkdirAll(s.dir, 0755); err != nil {
			return nil, errors.Mark(errors.Wrapf(err, "creating mount point %s", s.dir), ErrBindFailed)
		}

		// Ledger first: a crash between the write and the mount leaves a
		// stale record, which tidy tolerates; the reverse would leak a
		// mount invisible to recovery.
		if _, err := o.ledger.Append(Record{
			Dataset:  dataset,
			Label:    string(label),
			Snapshot: s.snapshot,
			Path:     s.dir,
		}); err != nil {
			return nil, errors.Mark(errors.Wrap(err, "recording mount binding"), ErrBindFailed)
		}

		if err := o.svc.MountSnapshot(ctx, s.snapshot, s.dir); err != nil {
			// The mount never happened, so the fresh record is safe to drop.
			if rmErr := o.ledger.Remove(s.dir); rmErr != nil {
				o.log.Warn("could not drop ledger record after failed mount",
					"path", s.dir, "error", rmErr)
			}
			return nil, errors.Mark(errors.Wrapf(err, "binding %s", s.snapshot), ErrBindFailed)
		}
		b.Paths = append(b.Paths, s.dir)
		o.log.Debug("bound capture", "snapshot", s.snapshot, "path", s.dir)
	}

	return b, nil
}

// Unbind tears down the bindings for (dataset, label) in exactly the
// reverse order of their creation, deepest descendant first.
func (o *Orchestrator) Unbind(ctx context.Context, dataset string, label rotation.Label) error {
	recs, err := o.ledger.Active()
	if err != nil {
		return errors.Mark(err, ErrBindFailed)
	}

	var mine []Record
	for _, r := range recs {
		if r.Dataset == dataset && r.Label == string(label) {
			mine = append(mine, r)
		}
	}

	for i := len(mine) - 1; i >= 0; i-- {
		r := mine[i]
		if err := o.svc.Unmount(ctx, r.Path); err != nil {
			return errors.Mark(errors.Wrapf(err, "unbinding %s", r.Path), ErrBindFailed)
		}
		if err := o.ledger.Remove(r.Path); err != nil {
			return errors.Mark(err, ErrBindFailed)
		}
		o.log.Debug("released binding", "snapshot", r.Snapshot, "path", r.Path)
	}
	return nil
}

// ReleaseAll unmounts every ledger-recorded binding in reverse discovery
// order. Failures are collected rather than aborting, so one stuck mount
// does not stop recovery of the rest; successfully released bindings are
// removed from the ledger either way.
func (o *Orchestrator) ReleaseAll(ctx context.Context) error {
	recs, err := o.ledger.Active()
	if err != nil {
		return err
	}

	var errs error
	for i := len(recs) - 1; i >= 0; i-- {
		r := recs[i]
		if err := o.svc.Unmount(ctx, r.Path); err != nil {
			o.log.Warn("could not release binding", "path", r.Path, "error", err)
			errs = errors.Join(errs, errors.Wrapf(err, "releasing %s", r.Path))
			continue
		}
		if err := o.ledger.Remove(r.Path); err != nil {
			errs = errors.Join(errs, err)
			continue
		}
		o.log.Info("released stale binding", "snapshot", r.Snapshot, "path", r.Path)
	}
	return errs
}
