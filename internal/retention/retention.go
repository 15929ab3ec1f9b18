// Package retention enforces the per-tier keep counts, both on ZFS
// captures and on borg archives.
//
// Capture pruning is computed here: the newest keep captures of each
// tier survive, the rest are destroyed oldest first. Archive pruning
// delegates to borg's native keep semantics, one prune per repository.
package retention

import (
	"context"
	"log/slog"

	"github.com/thoreinstein/borgsnap/internal/borg"
	"github.com/thoreinstein/borgsnap/internal/errors"
	"github.com/thoreinstein/borgsnap/internal/rotation"
)

// Policy is the number of captures and archives to keep per tier.
type Policy struct {
	Daily   int
	Weekly  int
	Monthly int
}

// Keep returns the count for a tier.
func (p Policy) Keep(t rotation.Tier) int {
	switch t {
	case rotation.Daily:
		return p.Daily
	case rotation.Weekly:
		return p.Weekly
	default:
		return p.Monthly
	}
}

// CaptureStore is the slice of the snapshot manager pruning needs.
type CaptureStore interface {
	FindAll(ctx context.Context, dataset string, tier rotation.Tier) ([]rotation.Label, error)
	Destroy(ctx context.Context, dataset string, label rotation.Label, recursive bool) error
}

// Pruner enforces archive retention inside one borg repository.
type Pruner interface {
	Prune(ctx context.Context, repo borg.Repo, keepDaily, keepWeekly, keepMonthly int) error
}

// Enforcer applies a Policy to a dataset's captures and a target's
// archives.
type Enforcer struct {
	store  CaptureStore
	pruner Pruner
	log    *slog.Logger
}

// NewEnforcer builds an Enforcer.
func NewEnforcer(store CaptureStore, pruner Pruner, log *slog.Logger) *Enforcer {
	return &Enforcer{store: store, pruner: pruner, log: log}
}

// PruneCaptures destroys the captures of one tier beyond the keep count,
// oldest first, and returns how many were destroyed. A keep of zero
// removes every capture of the tier.
func (e *Enforcer) PruneCaptures(ctx context.Context, dataset string, tier rotation.Tier, keep int, recursive bool) (int, error) {
	if keep < 0 {
		return 0, errors.Newf("keep count for %s is negative", tier)
	}

	labels, err := e.store.FindAll(ctx, dataset, tier)
	if err != nil {
		return 0, err
	}
	if len(labels) <= keep {
		return 0, nil
	}

	// labels is newest first, so everything past keep is a victim.
	victims := labels[keep:]
	destroyed := 0
	for i := len(victims) - 1; i >= 0; i-- {
		label := victims[i]
		if err := e.store.Destroy(ctx, dataset, label, recursive); err != nil {
			return destroyed, errors.Wrapf(err, "pruning capture %s@%s", dataset, label)
		}
		e.log.Info("pruned capture", "dataset", dataset, "label", string(label))
		destroyed++
	}
	return destroyed, nil
}

// EnforceCaptures applies the policy to all three tiers of a dataset.
func (e *Enforcer) EnforceCaptures(ctx context.Context, dataset string, policy Policy, recursive bool) error {
	for _, tier := range rotation.Tiers {
		if _, err := e.PruneCaptures(ctx, dataset, tier, policy.Keep(tier), recursive); err != nil {
			return err
		}
	}
	return nil
}

// PruneArchives enforces the policy inside one borg repository.
func (e *Enforcer) PruneArchives(ctx context.Context, repo borg.Repo, policy Policy) error {
	e.log.Debug("pruning archives", "repo", repo.URL)
	return e.pruner.Prune(ctx, repo, policy.Daily, policy.Weekly, policy.Monthly)
}
