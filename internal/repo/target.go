// Package repo models borg backup targets and bootstraps their
// repositories.
//
// A target maps each ZFS dataset to its own borg repository under a
// shared root, so retention and pruning stay per-dataset. The
// bootstrapper makes repository creation idempotent: an existing
// repository is left untouched.
package repo

import (
	"path/filepath"
	"time"

	"github.com/thoreinstein/borgsnap/internal/borg"
	"github.com/thoreinstein/borgsnap/internal/config"
	"github.com/thoreinstein/borgsnap/internal/remote"
)

// Target is one place archives are written to.
type Target interface {
	// Name identifies the target in logs and results ("local" or "remote").
	Name() string

	// Repo returns the borg repository for a dataset, credentials included.
	Repo(dataset string) borg.Repo
}

// Local is a borg repository tree on a local filesystem.
type Local struct {
	// Root is the directory holding one repository per dataset.
	Root string

	// Passphrase unlocks every repository under Root.
	Passphrase string
}

// Name implements Target.
func (l Local) Name() string { return "local" }

// Repo implements Target. Each dataset gets its own repository directory
// mirroring the dataset path under Root.
func (l Local) Repo(dataset string) borg.Repo {
	return borg.Repo{
		URL:        filepath.Join(l.Root, filepath.FromSlash(dataset)),
		Passphrase: l.Passphrase,
	}
}

// Remote is a borg repository tree on a remote host reached over SSH.
type Remote struct {
	Endpoint remote.Endpoint

	// Mode selects how directory checks run on the host (ssh or sftp).
	Mode remote.Mode

	// BorgPath names the borg executable on the remote host.
	BorgPath string

	Passphrase string

	// SSHKey is an identity file; empty uses the agent.
	SSHKey string

	// Timeout bounds connection establishment and directory checks.
	Timeout time.Duration
}

// Name implements Target.
func (r Remote) Name() string { return "remote" }

// Repo implements Target.
func (r Remote) Repo(dataset string) borg.Repo {
	return borg.Repo{
		URL:        r.Endpoint.RepoURL(dataset),
		Passphrase: r.Passphrase,
		RemotePath: r.BorgPath,
		SSHKey:     r.SSHKey,
	}
}

// TargetsFrom builds the enabled targets out of a validated configuration.
func TargetsFrom(cfg *config.Config) ([]Target, error) {
	var targets []Target

	if cfg.Local.Enabled {
		targets = append(targets, Local{
			Root:       cfg.Local.Root,
			Passphrase: cfg.Passphrase(),
		})
	}

	if cfg.Remote.Enabled {
		ep, err := remote.ParseAddress(cfg.Remote.Address)
		if err != nil {
			return nil, err
		}
		targets = append(targets, Remote{
			Endpoint:   ep,
			Mode:       remote.Mode(cfg.Remote.Mode),
			BorgPath:   cfg.Remote.BorgPath,
			Passphrase: cfg.Passphrase(),
			SSHKey:     cfg.Remote.SSHKey,
			Timeout:    cfg.RemoteTimeout,
		})
	}

	return targets, nil
}
