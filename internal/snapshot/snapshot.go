// Package snapshot manages Captures: labeled point-in-time snapshots of a
// dataset and, for recursive datasets, all of its descendants.
package snapshot

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/thoreinstein/borgsnap/internal/errors"
	"github.com/thoreinstein/borgsnap/internal/rotation"
	"github.com/thoreinstein/borgsnap/internal/zfs"
)

// ErrCaptureExists indicates a capture with the requested label already
// exists for the dataset. The pipeline must not proceed to mount or backup
// when it sees this error.
var ErrCaptureExists = errors.New("capture already exists for label")

// Capture is an immutable point-in-time snapshot of a dataset tagged with
// a rotation label.
type Capture struct {
	Dataset   string
	Label     rotation.Label
	Recursive bool
}

// Name returns the underlying snapshot name, dataset@label.
func (c Capture) Name() string {
	return c.Dataset + "@" + string(c.Label)
}

// Service is the slice of the zfs client the Manager needs.
type Service interface {
	Snapshot(ctx context.Context, name string, recursive bool) error
	Destroy(ctx context.Context, name string, recursive bool) error
	ListSnapshots(ctx context.Context, prefix string) ([]zfs.SnapshotInfo, error)
}

// Manager creates, destroys, and queries captures.
type Manager struct {
	svc Service
}

// NewManager creates a Manager backed by the given capture service.
func NewManager(svc Service) *Manager {
	return &Manager{svc: svc}
}

// Create takes a capture of the dataset under the given label.
// A pre-existing capture with the same label is reported as
// ErrCaptureExists, both when detected up front and when the backend
// reports the collision itself.
func (m *Manager) Create(ctx context.Context, dataset string, label rotation.Label, recursive bool) (Capture, error) {
	cap := Capture{Dataset: dataset, Label: label, Recursive: recursive}

	existing, err := m.snapshotsFor(ctx, dataset)
	if err != nil {
		return Capture{}, errors.Wrapf(err, "checking for existing capture %s", cap.Name())
	}
	for _, s := range existing {
		if s.Name == cap.Name() {
			return Capture{}, errors.Mark(
				errors.Newf("capture %s already exists", cap.Name()),
				ErrCaptureExists,
			)
		}
	}

	if err := m.svc.Snapshot(ctx, cap.Name(), recursive); err != nil {
		if errors.Is(err, zfs.ErrAlreadyExists) {
			return Capture{}, errors.Mark(err, ErrCaptureExists)
		}
		return Capture{}, errors.Wrapf(err, "creating capture for dataset %s", dataset)
	}
	return cap, nil
}

// Destroy removes the capture with the given label if present.
// A missing capture is not an error.
func (m *Manager) Destroy(ctx context.Context, dataset string, label rotation.Label, recursive bool) error {
	name := dataset + "@" + string(label)
	if err := m.svc.Destroy(ctx, name, recursive); err != nil {
		if errors.Is(err, zfs.ErrNotFound) {
			return nil
		}
		return errors.Wrapf(err, "destroying capture for dataset %s", dataset)
	}
	return nil
}

// Exists reports whether the dataset has a capture with the given label.
func (m *Manager) Exists(ctx context.Context, dataset string, label rotation.Label) (bool, error) {
	snaps, err := m.snapshotsFor(ctx, dataset)
	if err != nil {
		return false, err
	}
	name := dataset + "@" + string(label)
	for _, s := range snaps {
		if s.Name == name {
			return true, nil
		}
	}
	return false, nil
}

// FindAll returns the dataset's labels for a tier, newest first.
// Descendant datasets' snapshots are excluded; only the dataset's own
// captures count.
func (m *Manager) FindAll(ctx context.Context, dataset string, tier rotation.Tier) ([]rotation.Label, error) {
	snaps, err := m.snapshotsFor(ctx, dataset)
	if err != nil {
		return nil, err
	}

	var labels []rotation.Label
	for _, s := range snaps {
		l := rotation.Label(s.Label())
		if !strings.HasPrefix(s.Label(), tier.String()+"-") || !l.Valid() {
			continue
		}
		labels = append(labels, l)
	}

	// Labels of one tier sort lexicographically in date order.
	sort.Slice(labels, func(i, j int) bool { return labels[i] > labels[j] })
	return labels, nil
}

// FindLatest returns the newest label for a tier, if any.
func (m *Manager) FindLatest(ctx context.Context, dataset string, tier rotation.Tier) (rotation.Label, bool, error) {
	labels, err := m.FindAll(ctx, dataset, tier)
	if err != nil {
		return "", false, err
	}
	if len(labels) == 0 {
		return "", false, nil
	}
	return labels[0], true, nil
}

// History returns the dataset's capture history for the rotation decider.
func (m *Manager) History(ctx context.Context, dataset string) (rotation.History, error) {
	return m.HistoryBefore(ctx, dataset, time.Time{})
}

// HistoryBefore returns the capture history restricted to labels strictly
// older than the given date. Tidy uses this to recompute the label a
// partial run would have produced: captures created by the failed run
// itself must not count as prior history. A zero cutoff means no
// restriction.
func (m *Manager) HistoryBefore(ctx context.Context, dataset string, cutoff time.Time) (rotation.History, error) {
	hist := make(tierHistory)
	for _, tier := range rotation.Tiers {
		labels, err := m.FindAll(ctx, dataset, tier)
		if err != nil {
			return nil, err
		}
		for _, l := range labels {
			if !cutoff.IsZero() && !l.Date().Before(cutoff) {
				continue
			}
			hist[tier] = l
			break
		}
	}
	return hist, nil
}

// snapshotsFor lists snapshots belonging to the dataset itself.
func (m *Manager) snapshotsFor(ctx context.Context, dataset string) ([]zfs.SnapshotInfo, error) {
	// The '@' in the prefix excludes descendant datasets.
	return m.svc.ListSnapshots(ctx, dataset+"@")
}

// tierHistory implements rotation.History over a preloaded map.
type tierHistory map[rotation.Tier]rotation.Label

func (h tierHistory) Latest(t rotation.Tier) (rotation.Label, bool) {
	l, ok := h[t]
	return l, ok
}
