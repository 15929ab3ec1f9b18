// Package zfs wraps the zfs, mount, and umount binaries.
//
// Snapshots are the capture primitive: `zfs snapshot [-r] pool/fs@label`
// is atomic across the dataset and, with -r, all descendants. Snapshot
// working trees are exposed with `mount -t zfs` rather than the
// auto-mounted .zfs directory so the backup tool controls the path.
package zfs

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/thoreinstein/borgsnap/internal/errors"
	"github.com/thoreinstein/borgsnap/internal/execx"
)

// Sentinel errors mapped from zfs command output.
var (
	// ErrAlreadyExists indicates a snapshot with the requested name exists.
	ErrAlreadyExists = errors.New("snapshot already exists")

	// ErrNotFound indicates the dataset or snapshot does not exist.
	ErrNotFound = errors.New("dataset not found")
)

// SnapshotInfo is one row of `zfs list -t snapshot`.
type SnapshotInfo struct {
	// Name is the full snapshot name, dataset@label.
	Name string

	// Creation is the snapshot creation time.
	Creation time.Time
}

// Label returns the part of the snapshot name after '@'.
func (s SnapshotInfo) Label() string {
	if i := strings.IndexByte(s.Name, '@'); i >= 0 {
		return s.Name[i+1:]
	}
	return ""
}

// Dataset returns the part of the snapshot name before '@'.
func (s SnapshotInfo) Dataset() string {
	if i := strings.IndexByte(s.Name, '@'); i >= 0 {
		return s.Name[:i]
	}
	return s.Name
}

// Client invokes the zfs and mount binaries through a Runner.
type Client struct {
	runner execx.Runner
}

// NewClient creates a Client using the given runner.
// Pass execx.New() for the real binaries.
func NewClient(runner execx.Runner) *Client {
	return &Client{runner: runner}
}

// Snapshot creates dataset@label. With recursive, the same label is applied
// to every descendant dataset in one atomic operation.
func (c *Client) Snapshot(ctx context.Context, name string, recursive bool) error {
	args := []string{"snapshot"}
	if recursive {
		args = append(args, "-r")
	}
	args = append(args, name)

	out, err := c.runner.Run(ctx, execx.Cmd{Name: "zfs", Args: args})
	if err != nil {
		return classify(err, out, "creating snapshot %s", name)
	}
	return nil
}

// Destroy removes dataset@label, and descendants' snapshots with recursive.
func (c *Client) Destroy(ctx context.Context, name string, recursive bool) error {
	args := []string{"destroy"}
	if recursive {
		args = append(args, "-r")
	}
	args = append(args, name)

	out, err := c.runner.Run(ctx, execx.Cmd{Name: "zfs", Args: args})
	if err != nil {
		return classify(err, out, "destroying snapshot %s", name)
	}
	return nil
}

// ListSnapshots returns snapshots whose full name starts with prefix,
// ordered by creation time ascending. Creation times are parsed from the
// machine-readable -p output (Unix seconds).
func (c *Client) ListSnapshots(ctx context.Context, prefix string) ([]SnapshotInfo, error) {
	out, err := c.runner.Run(ctx, execx.Cmd{
		Name: "zfs",
		Args: []string{"list", "-H", "-p", "-t", "snapshot", "-o", "name,creation", "-s", "creation"},
	})
	if err != nil {
		return nil, errors.Wrap(err, "listing snapshots")
	}

	var snaps []SnapshotInfo
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, errors.Newf("unexpected zfs list output line %q", line)
		}
		if !strings.HasPrefix(fields[0], prefix) {
			continue
		}
		secs, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing creation time in line %q", line)
		}
		snaps = append(snaps, SnapshotInfo{
			Name:     fields[0],
			Creation: time.Unix(secs, 0).UTC(),
		})
	}
	return snaps, nil
}

// MountSnapshot exposes a snapshot read-only at dir.
func (c *Client) MountSnapshot(ctx context.Context, snapshot, dir string) error {
	out, err := c.runner.Run(ctx, execx.Cmd{
		Name: "mount",
		Args: []string{"-t", "zfs", "-o", "ro", snapshot, dir},
	})
	if err != nil {
		return classify(err, out, "mounting %s at %s", snapshot, dir)
	}
	return nil
}

// Unmount releases a previously mounted snapshot directory.
func (c *Client) Unmount(ctx context.Context, dir string) error {
	if _, err := c.runner.Run(ctx, execx.Cmd{Name: "umount", Args: []string{dir}}); err != nil {
		return errors.Wrapf(err, "unmounting %s", dir)
	}
	return nil
}

// classify maps well-known zfs error messages onto sentinels so callers
// can distinguish a collision from a backend failure.
func classify(err error, out []byte, format string, args ...any) error {
	msg := strings.ToLower(string(out))
	wrapped := errors.Wrapf(err, format, args...)
	switch {
	case strings.Contains(msg, "already exists"):
		return errors.Mark(wrapped, ErrAlreadyExists)
	case strings.Contains(msg, "does not exist") || strings.Contains(msg, "no such"):
		return errors.Mark(wrapped, ErrNotFound)
	default:
		return wrapped
	}
}
