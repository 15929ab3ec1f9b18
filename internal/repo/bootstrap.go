package repo

import (
	"context"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/thoreinstein/borgsnap/internal/borg"
	"github.com/thoreinstein/borgsnap/internal/errors"
	"github.com/thoreinstein/borgsnap/internal/remote"
)

// Encryption is the borg encryption mode for new repositories.
const Encryption = "repokey"

// Initializer creates borg repositories.
type Initializer interface {
	Init(ctx context.Context, repo borg.Repo, encryption string) error
}

// Bootstrapper ensures a target's repository exists before the first
// archive is written to it.
type Bootstrapper struct {
	init Initializer
	dial remote.Dialer
	log  *slog.Logger
}

// NewBootstrapper builds a Bootstrapper. A nil dialer falls back to live
// SSH connections.
func NewBootstrapper(init Initializer, dial remote.Dialer, log *slog.Logger) *Bootstrapper {
	if dial == nil {
		dial = remote.Dial
	}
	return &Bootstrapper{init: init, dial: dial, log: log}
}

// Ensure makes the repository for dataset exist on the target.
// Calling it against an existing repository is a no-op.
func (b *Bootstrapper) Ensure(ctx context.Context, target Target, dataset string) error {
	switch t := target.(type) {
	case Local:
		return b.ensureLocal(ctx, t, dataset)
	case Remote:
		return b.ensureRemote(ctx, t, dataset)
	default:
		return errors.Newf("unknown target type %T", target)
	}
}

func (b *Bootstrapper) ensureLocal(ctx context.Context, t Local, dataset string) error {
	repoPath := t.Repo(dataset).URL

	// An initialized borg repository always carries a config file.
	if _, err := os.Stat(filepath.Join(repoPath, "config")); err == nil {
		b.log.Debug("repository already initialized", "target", t.Name(), "repo", repoPath)
		return nil
	}

	if err := os.MkdirAll(repoPath, 0700); err != nil {
		return errors.Wrapf(err, "creating repository directory %s", repoPath)
	}

	b.log.Info("initializing repository", "target", t.Name(), "repo", repoPath)
	if err := b.init.Init(ctx, t.Repo(dataset), Encryption); err != nil {
		if errors.Is(err, borg.ErrRepoExists) {
			return nil
		}
		return err
	}
	return nil
}

func (b *Bootstrapper) ensureRemote(ctx context.Context, t Remote, dataset string) error {
	transport, err := b.dial(t.Endpoint, remote.DialOptions{
		Mode:    t.Mode,
		KeyFile: t.SSHKey,
		Timeout: t.Timeout,
	})
	if err != nil {
		return err
	}
	defer transport.Close()

	repoDir := remoteRepoDir(t.Endpoint.Dir(), dataset)
	exists, err := transport.DirExists(ctx, repoDir)
	if err != nil {
		return err
	}
	if exists {
		b.log.Debug("repository already initialized", "target", t.Name(), "repo", repoDir)
		return nil
	}

	// borg init creates the final directory but not its parents.
	if parent := path.Dir(repoDir); parent != "." && parent != "/" {
		if err := transport.MkdirAll(ctx, parent); err != nil {
			return err
		}
	}

	b.log.Info("initializing repository", "target", t.Name(), "repo", repoDir)
	if err := b.init.Init(ctx, t.Repo(dataset), Encryption); err != nil {
		if errors.Is(err, borg.ErrRepoExists) {
			return nil
		}
		return err
	}
	return nil
}

// remoteRepoDir joins with forward slashes regardless of the local OS.
func remoteRepoDir(root, dataset string) string {
	return path.Join(root, strings.TrimPrefix(dataset, "/"))
}
