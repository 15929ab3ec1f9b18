// Package borg wraps the borg binary for archive operations.
//
// Credentials and remote-executable names are carried on the Repo value
// and exported to each child process individually, so two targets can be
// driven with different passphrases without touching process-global state.
package borg

import (
	"context"
	"strconv"
	"strings"

	"github.com/thoreinstein/borgsnap/internal/errors"
	"github.com/thoreinstein/borgsnap/internal/execx"
	"github.com/thoreinstein/borgsnap/internal/rotation"
)

// Sentinel errors mapped from borg output.
var (
	// ErrRepoExists indicates the repository is already initialized.
	ErrRepoExists = errors.New("repository already initialized")

	// ErrArchiveNotFound indicates the named archive does not exist.
	ErrArchiveNotFound = errors.New("archive not found")
)

// Repo identifies one borg repository plus the credentials to reach it.
type Repo struct {
	// URL is a local path or a remote repo URL (user@host:path or
	// ssh://user@host:port/path).
	URL string

	// Passphrase unlocks the repository encryption key.
	Passphrase string

	// RemotePath names the borg executable on the remote side.
	// Empty for local repositories.
	RemotePath string

	// SSHKey is an identity file for ssh repositories. Empty uses the
	// default agent/identity resolution.
	SSHKey string
}

// Archive names the borg archive for a label inside the repo.
func (r Repo) Archive(label rotation.Label) string {
	return r.URL + "::" + string(label)
}

// env builds the per-invocation environment for this repository.
func (r Repo) env() []string {
	env := []string{"BORG_PASSPHRASE=" + r.Passphrase}
	if r.SSHKey != "" {
		env = append(env, "BORG_RSH=ssh -o BatchMode=yes -i "+r.SSHKey)
	}
	return env
}

// remoteArgs returns the --remote-path flag when one is configured.
func (r Repo) remoteArgs() []string {
	if r.RemotePath == "" {
		return nil
	}
	return []string{"--remote-path", r.RemotePath}
}

// Options is the shared option set applied to every archive creation.
type Options struct {
	// Compression is borg's compression spec, e.g. "lz4" or "zstd,9".
	Compression string

	// FilesCache is borg's change-detection mode, e.g. "ctime,size,inode".
	FilesCache string

	// ExcludeIfPresent is a marker file name; directories containing it
	// are excluded, letting a subtree opt out of backups.
	ExcludeIfPresent string
}

// Client invokes the borg binary through a Runner.
type Client struct {
	runner execx.Runner
	bin    string
}

// Option configures a Client.
type Option func(*Client)

// WithBinary overrides the local borg executable name.
func WithBinary(bin string) Option {
	return func(c *Client) {
		if bin != "" {
			c.bin = bin
		}
	}
}

// NewClient creates a borg Client using the given runner.
func NewClient(runner execx.Runner, opts ...Option) *Client {
	c := &Client{runner: runner, bin: "borg"}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Init initializes an empty encrypted repository.
// An already-initialized repository is reported as ErrRepoExists.
func (c *Client) Init(ctx context.Context, repo Repo, encryption string) error {
	args := []string{"init", "--encryption", encryption}
	args = append(args, repo.remoteArgs()...)
	args = append(args, repo.URL)

	out, err := c.runner.Run(ctx, execx.Cmd{Name: c.bin, Args: args, Env: repo.env()})
	if err != nil {
		if strings.Contains(strings.ToLower(string(out)), "already exists") {
			return errors.Mark(errors.Wrapf(err, "initializing %s", repo.URL), ErrRepoExists)
		}
		return errors.Wrapf(err, "initializing %s", repo.URL)
	}
	return nil
}

// Create archives the contents of srcDir under the given label.
// The archive is rooted at "." so restored paths are relative to the
// working tree, not to the mount location of the day.
func (c *Client) Create(ctx context.Context, repo Repo, label rotation.Label, srcDir string, opts Options) error {
	args := []string{"create"}
	if opts.Compression != "" {
		args = append(args, "--compression", opts.Compression)
	}
	if opts.FilesCache != "" {
		args = append(args, "--files-cache", opts.FilesCache)
	}
	if opts.ExcludeIfPresent != "" {
		args = append(args, "--exclude-if-present", opts.ExcludeIfPresent)
	}
	args = append(args, repo.remoteArgs()...)
	args = append(args, repo.Archive(label), ".")

	_, err := c.runner.Run(ctx, execx.Cmd{Name: c.bin, Args: args, Dir: srcDir, Env: repo.env()})
	if err != nil {
		return errors.Wrapf(err, "archiving %s into %s", srcDir, repo.URL)
	}
	return nil
}

// Prune enforces retention across all three tiers in one repository-level
// operation, using borg's native keep semantics.
func (c *Client) Prune(ctx context.Context, repo Repo, keepDaily, keepWeekly, keepMonthly int) error {
	args := []string{"prune",
		"--keep-daily", strconv.Itoa(keepDaily),
		"--keep-weekly", strconv.Itoa(keepWeekly),
		"--keep-monthly", strconv.Itoa(keepMonthly),
	}
	args = append(args, repo.remoteArgs()...)
	args = append(args, repo.URL)

	_, err := c.runner.Run(ctx, execx.Cmd{Name: c.bin, Args: args, Env: repo.env()})
	if err != nil {
		return errors.Wrapf(err, "pruning %s", repo.URL)
	}
	return nil
}

// Delete removes the archive with the given label.
// A missing archive is reported as ErrArchiveNotFound.
func (c *Client) Delete(ctx context.Context, repo Repo, label rotation.Label) error {
	args := []string{"delete"}
	args = append(args, repo.remoteArgs()...)
	args = append(args, repo.Archive(label))

	out, err := c.runner.Run(ctx, execx.Cmd{Name: c.bin, Args: args, Env: repo.env()})
	if err != nil {
		msg := strings.ToLower(string(out))
		if strings.Contains(msg, "does not exist") || strings.Contains(msg, "not found") {
			return errors.Mark(errors.Wrapf(err, "deleting %s", repo.Archive(label)), ErrArchiveNotFound)
		}
		return errors.Wrapf(err, "deleting %s", repo.Archive(label))
	}
	return nil
}

// List returns the archive names in the repository.
func (c *Client) List(ctx context.Context, repo Repo) ([]string, error) {
	args := []string{"list", "--short"}
	args = append(args, repo.remoteArgs()...)
	args = append(args, repo.URL)

	out, err := c.runner.Run(ctx, execx.Cmd{Name: c.bin, Args: args, Env: repo.env()})
	if err != nil {
		return nil, errors.Wrapf(err, "listing %s", repo.URL)
	}

	var names []string
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line != "" {
			names = append(names, line)
		}
	}
	return names, nil
}

// HasArchive reports whether the repository holds an archive for label.
func (c *Client) HasArchive(ctx context.Context, repo Repo, label rotation.Label) (bool, error) {
	names, err := c.List(ctx, repo)
	if err != nil {
		return false, err
	}
	for _, n := range names {
		if n == string(label) {
			return true, nil
		}
	}
	return false, nil
}
