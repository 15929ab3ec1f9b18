package remote

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/melbahja/goph"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/thoreinstein/borgsnap/internal/errors"
)

// Mode selects how the remote directory check and creation are performed.
type Mode string

const (
	// ModeSSH runs test/mkdir commands over a direct SSH session.
	ModeSSH Mode = "ssh"

	// ModeSFTP uses the SFTP subsystem, for hosts that only expose
	// file-transfer access.
	ModeSFTP Mode = "sftp"
)

// ValidMode reports whether s names a supported transport mode.
func ValidMode(s string) bool {
	return Mode(s) == ModeSSH || Mode(s) == ModeSFTP
}

// Transport is the directory capability both modes provide.
type Transport interface {
	// DirExists reports whether dir exists on the remote host.
	DirExists(ctx context.Context, dir string) (bool, error)

	// MkdirAll creates dir and any missing parents on the remote host.
	MkdirAll(ctx context.Context, dir string) error

	// Close releases the underlying connection.
	Close() error
}

// DialOptions configures the SSH connection.
type DialOptions struct {
	Mode Mode

	// KeyFile is an SSH identity file. Empty falls back to the agent.
	KeyFile string

	// Timeout bounds connection establishment.
	Timeout time.Duration
}

// Dialer opens a Transport for an endpoint. The bootstrapper takes a
// Dialer so tests can substitute a fake without a live host.
type Dialer func(ep Endpoint, opts DialOptions) (Transport, error)

// Dial connects to the endpoint and returns the transport for the
// requested mode.
func Dial(ep Endpoint, opts DialOptions) (Transport, error) {
	auth, err := authFor(opts.KeyFile)
	if err != nil {
		return nil, err
	}

	callback, err := goph.DefaultKnownHosts()
	if err != nil {
		return nil, errors.Wrap(err, "loading known hosts")
	}

	client, err := goph.NewConn(&goph.Config{
		User:     ep.User(),
		Addr:     ep.Host(),
		Port:     ep.Port(),
		Auth:     auth,
		Timeout:  opts.Timeout,
		Callback: callback,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "connecting to %s", ep.Host())
	}

	switch opts.Mode {
	case ModeSFTP:
		sc, err := client.NewSftp()
		if err != nil {
			client.Close()
			return nil, errors.Wrapf(err, "opening sftp session to %s", ep.Host())
		}
		return &sftpTransport{client: client, sftp: sc}, nil
	default:
		return &sshTransport{client: client}, nil
	}
}

func authFor(keyFile string) (goph.Auth, error) {
	if keyFile != "" {
		auth, err := goph.Key(keyFile, "")
		if err != nil {
			return nil, errors.Wrapf(err, "loading ssh key %s", keyFile)
		}
		return auth, nil
	}
	auth, err := goph.UseAgent()
	if err != nil {
		return nil, errors.Wrap(err, "connecting to ssh agent")
	}
	return auth, nil
}

// sshTransport implements Transport over direct command execution.
type sshTransport struct {
	client *goph.Client
}

func (t *sshTransport) DirExists(ctx context.Context, dir string) (bool, error) {
	_, err := t.client.RunContext(ctx, "test -d "+shellQuote(dir))
	if err == nil {
		return true, nil
	}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitStatus() == 1 {
		return false, nil
	}
	return false, errors.Wrapf(err, "checking remote directory %s", dir)
}

func (t *sshTransport) MkdirAll(ctx context.Context, dir string) error {
	if _, err := t.client.RunContext(ctx, "mkdir -p "+shellQuote(dir)); err != nil {
		return errors.Wrapf(err, "creating remote directory %s", dir)
	}
	return nil
}

func (t *sshTransport) Close() error {
	return t.client.Close()
}

// sftpTransport implements Transport over the SFTP subsystem.
type sftpTransport struct {
	client *goph.Client
	sftp   *sftp.Client
}

func (t *sftpTransport) DirExists(ctx context.Context, dir string) (bool, error) {
	info, err := t.sftp.Stat(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, errors.Wrapf(err, "checking remote directory %s", dir)
	}
	return info.IsDir(), nil
}

func (t *sftpTransport) MkdirAll(ctx context.Context, dir string) error {
	if err := t.sftp.MkdirAll(dir); err != nil {
		return errors.Wrapf(err, "creating remote directory %s", dir)
	}
	return nil
}

func (t *sftpTransport) Close() error {
	err := t.sftp.Close()
	if cerr := t.client.Close(); err == nil {
		err = cerr
	}
	return err
}

// shellQuote wraps s in single quotes, escaping embedded quotes, so paths
// with spaces survive the remote shell.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
